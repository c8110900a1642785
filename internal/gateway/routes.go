// Route handlers for the HTTP surface spec.md §6 names. Grounded on the
// teacher's internal/server/routes.go route-group layout and
// internal/server/api's per-handler shape (ReadHTTPRequest-style decode,
// Process, then either a single c.JSON or an SSE loop), trimmed to the
// endpoints F/G/I actually need plus the OpenAI-compatibility surface.
package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tensorzero/gateway/internal/evaluation"
	"github.com/tensorzero/gateway/internal/feedback"
	"github.com/tensorzero/gateway/internal/gwerrors"
	"github.com/tensorzero/gateway/internal/gwtypes"
	"github.com/tensorzero/gateway/internal/inference"
	"github.com/tensorzero/gateway/internal/log"
	"github.com/tensorzero/gateway/internal/provider"
)

func setupRoutes(engine *gin.Engine, deps Deps, timeout time.Duration) {
	infDeps := inference.Deps{
		Store:       deps.Store,
		Cache:       deps.Cache,
		Providers:   deps.Providers,
		Sink:        deps.Sink,
		FetchFiles:  true,
		ObjectStore: deps.ObjectStore,
		Metrics:     deps.Metrics,
	}

	h := &handlers{deps: deps, infDeps: infDeps, timeout: timeout}

	engine.GET("/status", h.status)

	engine.POST("/inference", h.inference)
	engine.POST("/feedback", h.feedback)
	engine.POST("/v1/datasets/:name/from_inferences", h.datasetFromInferences)

	engine.GET("/openai/v1/chat/completions", h.openAIChatCompletions)
	engine.POST("/openai/v1/chat/completions", h.openAIChatCompletions)
	engine.POST("/openai/v1/embeddings", h.openAIEmbeddings)
	engine.POST("/openai/v1/moderations", h.openAIModerations)

	engine.GET("/internal/feedback/:metric", h.feedbackByMetric)
	engine.GET("/internal/feedback/:target_id", h.feedbackByTarget)
	engine.GET("/internal/feedback/:target_id/latest-id-by-metric", h.feedbackLatestIDByMetric)
	engine.GET("/internal/feedback/:target_id/bounds", h.feedbackBounds)
	engine.GET("/internal/evaluations/run_infos", h.evaluationRunInfos)
}

type handlers struct {
	deps    Deps
	infDeps inference.Deps
	timeout time.Duration
}

func (h *handlers) status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// inference implements POST /inference: unary or SSE-streaming depending on
// the request body's stream flag (spec.md §6).
func (h *handlers) inference(c *gin.Context) {
	var req gwtypes.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, gwerrors.Wrap(gwerrors.KindInvalidRequest, err, "invalid request body"))
		return
	}

	ctx, cancel := contextWithTimeout(c, h.timeout)
	defer cancel()

	if !req.Stream {
		result, err := inference.Process(ctx, h.infDeps, &req)
		if err != nil {
			writeError(c, err)
			return
		}

		c.JSON(http.StatusOK, result.MarshalHTTP())

		return
	}

	h.streamInference(c, ctx, &req)
}

// streamInference implements spec.md §4.F's streaming path: the first chunk
// is awaited synchronously (so connectivity failures still map to a normal
// HTTP error status), then the remainder is framed as
// `data: <json>\n\n` SSE messages, terminated by `data: [DONE]`. An error
// surfacing after the first chunk has already been flushed is delivered as
// a final `event: error` SSE message instead of an HTTP status change,
// since the 200 has already been written (spec.md §7).
func (h *handlers) streamInference(c *gin.Context, ctx context.Context, req *gwtypes.Request) {
	stream, err := inference.ProcessStream(ctx, h.infDeps, req)
	if err != nil {
		writeError(c, err)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)

	defer stream.Tail.Close()

	clientGone := c.Writer.CloseNotify()

	writeChunk := func(chunk provider.StreamChunk) bool {
		c.SSEvent("", json.RawMessage(chunk.RawData))
		c.Writer.Flush()

		return true
	}

	writeChunk(stream.First)

	for {
		select {
		case <-clientGone:
			log.Warn(ctx, "inference stream: client disconnected")
			return
		case <-ctx.Done():
			log.Warn(ctx, "inference stream: context done")
			return
		default:
		}

		chunk, ok := stream.Tail.Next(ctx)
		if !ok {
			break
		}

		writeChunk(chunk)
	}

	if err := stream.Tail.Err(); err != nil {
		ge := classifyForSSE(err)
		c.Writer.Write([]byte("event: error\n"))
		c.SSEvent("", gin.H{"error": ge.Message, "kind": ge.Kind})
		c.Writer.Flush()
	}

	c.Writer.Write([]byte("data: [DONE]\n\n"))
	c.Writer.Flush()
}

func classifyForSSE(err error) *gwerrors.Error {
	if ge, ok := gwerrors.As(err); ok {
		return ge
	}

	return gwerrors.Wrap(gwerrors.KindInternalError, err, "stream failed")
}

// feedback implements POST /feedback (spec.md §4.G/§6).
func (h *handlers) feedback(c *gin.Context) {
	var fb gwtypes.Feedback
	if err := c.ShouldBindJSON(&fb); err != nil {
		writeError(c, gwerrors.Wrap(gwerrors.KindInvalidRequest, err, "invalid feedback body"))
		return
	}

	ctx, cancel := contextWithTimeout(c, h.timeout)
	defer cancel()

	id, err := feedback.Submit(ctx, h.deps.Store, h.deps.Feedback, &fb)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"feedback_id": id})
}

// datasetFromInferences implements POST /v1/datasets/{name}/from_inferences:
// materializing datapoints from past inference IDs or a query. This
// endpoint reads from the analytical store's inference tables, a query
// surface this gateway's core leaves to an external collaborator (spec.md
// §1 lists "the migration engine for the analytical store" and its wider
// query surface as out of THE CORE); when no DatasetWriter is wired the
// endpoint reports that plainly instead of silently no-oping.
func (h *handlers) datasetFromInferences(c *gin.Context) {
	if h.deps.Datasets == nil {
		writeUnavailable(c, "dataset materialization is not configured on this gateway")
		return
	}

	name := c.Param("name")

	var body struct {
		InferenceIDs []gwtypes.ID `json:"inference_ids"`
	}

	if err := c.ShouldBindJSON(&body); err != nil {
		writeError(c, gwerrors.Wrap(gwerrors.KindInvalidRequest, err, "invalid request body"))
		return
	}

	ctx, cancel := contextWithTimeout(c, h.timeout)
	defer cancel()

	n, err := h.deps.Datasets.FromInferences(ctx, name, body.InferenceIDs)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"dataset_name": name, "datapoints_created": n})
}

func (h *handlers) feedbackByMetric(c *gin.Context) {
	if h.deps.FeedbackReader == nil {
		writeUnavailable(c, "feedback read model is not configured on this gateway")
		return
	}

	ctx, cancel := contextWithTimeout(c, h.timeout)
	defer cancel()

	page, err := h.deps.FeedbackReader.ByMetric(ctx, c.Param("metric"), c.Query("before"), c.Query("after"))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, page)
}

func (h *handlers) feedbackByTarget(c *gin.Context) {
	if h.deps.FeedbackReader == nil {
		writeUnavailable(c, "feedback read model is not configured on this gateway")
		return
	}

	targetID, err := uuid.Parse(c.Param("target_id"))
	if err != nil {
		writeError(c, gwerrors.Wrap(gwerrors.KindInvalidRequest, err, "invalid target_id"))
		return
	}

	ctx, cancel := contextWithTimeout(c, h.timeout)
	defer cancel()

	page, err := h.deps.FeedbackReader.ByTarget(ctx, targetID, c.Query("before"), c.Query("after"))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, page)
}

func (h *handlers) feedbackLatestIDByMetric(c *gin.Context) {
	if h.deps.FeedbackReader == nil {
		writeUnavailable(c, "feedback read model is not configured on this gateway")
		return
	}

	targetID, err := uuid.Parse(c.Param("target_id"))
	if err != nil {
		writeError(c, gwerrors.Wrap(gwerrors.KindInvalidRequest, err, "invalid target_id"))
		return
	}

	ctx, cancel := contextWithTimeout(c, h.timeout)
	defer cancel()

	m, err := h.deps.FeedbackReader.LatestIDByMetric(ctx, targetID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, m)
}

func (h *handlers) feedbackBounds(c *gin.Context) {
	if h.deps.FeedbackReader == nil {
		writeUnavailable(c, "feedback read model is not configured on this gateway")
		return
	}

	targetID, err := uuid.Parse(c.Param("target_id"))
	if err != nil {
		writeError(c, gwerrors.Wrap(gwerrors.KindInvalidRequest, err, "invalid target_id"))
		return
	}

	ctx, cancel := contextWithTimeout(c, h.timeout)
	defer cancel()

	bounds, err := h.deps.FeedbackReader.Bounds(ctx, targetID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, bounds)
}

func (h *handlers) evaluationRunInfos(c *gin.Context) {
	if h.deps.FeedbackReader == nil {
		writeUnavailable(c, "evaluation run-info read model is not configured on this gateway")
		return
	}

	runIDs := c.QueryArray("run_ids")

	ctx, cancel := contextWithTimeout(c, h.timeout)
	defer cancel()

	infos, err := h.deps.FeedbackReader.EvaluationRunInfos(ctx, runIDs)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, infos)
}

func writeError(c *gin.Context, err error) {
	ge, ok := gwerrors.As(err)
	if !ok {
		ge = gwerrors.Wrap(gwerrors.KindInternalError, err, "unexpected error")
	}

	log.Error(c.Request.Context(), "request failed", log.String("kind", string(ge.Kind)), log.Cause(ge))

	c.JSON(ge.HTTPStatus(), gin.H{"error": ge.Message})
}

func writeUnavailable(c *gin.Context, message string) {
	c.JSON(http.StatusServiceUnavailable, gin.H{"error": message})
}

// contextWithTimeout bounds a handler's work to timeout, carrying the
// gin request context's values and cancellation.
func contextWithTimeout(c *gin.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(c.Request.Context())
	}

	return context.WithTimeout(c.Request.Context(), timeout)
}

// resolveCredentialEnv mirrors internal/inference's credential-ref
// resolution for the OpenAI-compatibility handlers, which dispatch to
// component B directly instead of going through internal/inference.Process.
func resolveCredentialEnv(ref string, t provider.Type) string {
	if ref == "" {
		ref = strings.ToUpper(string(t)) + "_API_KEY"
	}

	return os.Getenv(ref)
}

// RegisterEvaluationRoute registers the evaluation-runner endpoint the embedded UI
// and CLI call through (outside spec.md §6's core table, but needed for
// component I to be reachable over HTTP at all); kept as a separate
// registrar so callers that only need the inference/feedback surface don't
// have to wire a Runner.
func RegisterEvaluationRoute(engine *gin.Engine, runner *evaluation.Runner, timeout time.Duration) {
	engine.POST("/v1/evaluations/:name/run", func(c *gin.Context) {
		var body struct {
			DatasetName string            `json:"dataset_name"`
			VariantName string            `json:"variant_name"`
			Tags        map[string]string `json:"tags"`
		}

		if err := c.ShouldBindJSON(&body); err != nil {
			writeError(c, gwerrors.Wrap(gwerrors.KindInvalidRequest, err, "invalid request body"))
			return
		}

		ctx, cancel := contextWithTimeout(c, timeout)
		defer cancel()

		result, err := runner.Run(ctx, evaluation.Options{
			EvaluationName: c.Param("name"),
			DatasetName:    body.DatasetName,
			VariantName:    body.VariantName,
			Tags:           body.Tags,
		})
		if err != nil {
			writeError(c, err)
			return
		}

		c.JSON(http.StatusOK, result)
	})
}
