// Package observability implements component H: one unbounded-producer,
// batched-consumer writer per record family, draining into the analytical
// store (ClickHouse) on whichever comes first of "max rows" or "max
// interval". Writes are at-least-once; a batch the store transiently
// rejects is logged and dropped rather than retried, since every record
// family carries enough raw request/response material to be reconstructed
// from provider-side logs if truly needed (spec.md §4.H). Grounded on the
// teacher's internal/server/biz background-worker shape (a channel +
// goroutine pair drained on a ticker, e.g. the channel health-check sweep)
// generalized from "periodic poll" to "batch-or-timeout drain", since no
// pack repo drains an MPSC channel in quite this shape.
package observability

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/tensorzero/gateway/internal/feedback"
	"github.com/tensorzero/gateway/internal/gwtypes"
	"github.com/tensorzero/gateway/internal/inference"
	"github.com/tensorzero/gateway/internal/log"
)

// Config configures the ClickHouse connection and the batching thresholds
// shared by every record family.
type Config struct {
	URL             string
	MaxBatchRows    int
	MaxBatchInterval time.Duration
}

func (c Config) rows() int {
	if c.MaxBatchRows > 0 {
		return c.MaxBatchRows
	}

	return 1000
}

func (c Config) interval() time.Duration {
	if c.MaxBatchInterval > 0 {
		return c.MaxBatchInterval
	}

	return time.Second
}

// inferenceRow is the flattened ChatInference/JsonInference row shape;
// FunctionType discriminates the two spec.md §3 entities rather than
// writing to two physically distinct tables, a pragmatic simplification
// over spec.md §6's per-kind table list (see DESIGN.md).
type inferenceRow struct {
	ID             gwtypes.ID `json:"id"`
	EpisodeID      gwtypes.ID `json:"episode_id"`
	FunctionName   string     `json:"function_name"`
	FunctionType   string     `json:"function_type"`
	VariantName    string     `json:"variant_name"`
	Input          []byte     `json:"input"`
	Output         []byte     `json:"output"`
	InputTokens    int64      `json:"input_tokens"`
	OutputTokens   int64      `json:"output_tokens"`
	FinishReason   string     `json:"finish_reason"`
	Tags           []byte     `json:"tags"`
	Errored        bool       `json:"errored"`
	ErrorKind      string     `json:"error_kind"`
	ErrorMessage   string     `json:"error_message"`
}

type modelInferenceRow struct {
	ID           gwtypes.ID `json:"id"`
	InferenceID  gwtypes.ID `json:"inference_id"`
	ModelName    string     `json:"model_name"`
	ProviderName string     `json:"provider_name"`
	ProviderType string     `json:"provider_type"`
	RawRequest   string     `json:"raw_request"`
	RawResponse  string     `json:"raw_response"`
	InputTokens  int64      `json:"input_tokens"`
	OutputTokens int64      `json:"output_tokens"`
	LatencyMS    int64      `json:"latency_ms"`
	Errored      bool       `json:"errored"`
	ErrorKind    string     `json:"error_kind"`
	ErrorMessage string     `json:"error_message"`
}

type feedbackRow struct {
	ID         gwtypes.ID `json:"id"`
	Kind       string     `json:"kind"`
	MetricName string     `json:"metric_name"`
	TargetID   gwtypes.ID `json:"target_id"`
	TargetType string     `json:"target_type"`
	Value      []byte     `json:"value"`
	Tags       []byte     `json:"tags"`
}

// Writer is the component-H surface: one buffered channel plus drain
// goroutine per record family.
type Writer struct {
	conn driver.Conn
	cfg  Config

	inferences      chan inferenceRow
	modelInferences chan modelInferenceRow
	feedbackCh      chan feedbackRow

	wg sync.WaitGroup
}

// New opens the ClickHouse connection and starts one drain goroutine per
// record family. url is a ClickHouse DSN (spec.md §6's CLICKHOUSE_URL).
func New(cfg Config) (*Writer, error) {
	opts, err := clickhouse.ParseDSN(cfg.URL)
	if err != nil {
		return nil, err
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, err
	}

	w := &Writer{
		conn:            conn,
		cfg:             cfg,
		inferences:      make(chan inferenceRow, 4096),
		modelInferences: make(chan modelInferenceRow, 4096),
		feedbackCh:      make(chan feedbackRow, 4096),
	}

	w.wg.Add(3)
	go w.drainInferences()
	go w.drainModelInferences()
	go w.drainFeedback()

	return w, nil
}

var _ inference.Sink = (*Writer)(nil)

// PersistInference implements inference.Sink: it enqueues the function-level
// result (when the inference succeeded) plus one ModelInference row per
// attempt, regardless of outcome, matching spec.md §4.F stage 7.
func (w *Writer) PersistInference(ctx context.Context, rec inference.InferenceRecord) {
	row := inferenceRow{
		ID:           rec.InferenceID,
		EpisodeID:    rec.EpisodeID,
		FunctionName: rec.FunctionName,
		FunctionType: string(rec.FunctionType),
		VariantName:  rec.VariantName,
		Tags:         marshalOrEmpty(rec.Tags),
	}

	if b, err := json.Marshal(rec.Input); err == nil {
		row.Input = b
	}

	if rec.Err != nil {
		row.Errored = true
		row.ErrorKind = string(rec.Err.Kind)
		row.ErrorMessage = rec.Err.Message
	}

	if rec.Result != nil {
		row.InputTokens = rec.Result.Usage.InputTokens
		row.OutputTokens = rec.Result.Usage.OutputTokens
		row.FinishReason = string(rec.Result.FinishReason)

		if rec.Result.Chat != nil {
			if b, err := json.Marshal(rec.Result.Chat.Content); err == nil {
				row.Output = b
			}
		} else if rec.Result.JSON != nil {
			if b, err := json.Marshal(rec.Result.JSON); err == nil {
				row.Output = b
			}
		}
	}

	enqueue(ctx, w.inferences, row, "inference")

	for _, attempt := range rec.Attempts {
		enqueue(ctx, w.modelInferences, modelInferenceRow{
			ID:           attempt.ID,
			InferenceID:  rec.InferenceID,
			ModelName:    attempt.ModelName,
			ProviderName: attempt.ProviderName,
			ProviderType: attempt.ProviderType,
			RawRequest:   attempt.RawRequest,
			RawResponse:  attempt.RawResponse,
			InputTokens:  attempt.Usage.InputTokens,
			OutputTokens: attempt.Usage.OutputTokens,
			LatencyMS:    attempt.LatencyMS,
			Errored:      attempt.Errored,
			ErrorKind:    attempt.ErrorKind,
			ErrorMessage: attempt.ErrorMsg,
		}, "model_inference")
	}
}

// PersistFeedback enqueues one feedback row (component G's write path).
func (w *Writer) PersistFeedback(ctx context.Context, rec feedback.Record) {
	enqueue(ctx, w.feedbackCh, feedbackRow{
		ID:         rec.ID,
		Kind:       string(rec.Kind),
		MetricName: rec.MetricName,
		TargetID:   rec.TargetID,
		TargetType: string(rec.TargetType),
		Value:      rec.Value,
		Tags:       marshalOrEmpty(rec.Tags),
	}, "feedback")
}

func marshalOrEmpty(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}

	return b
}

// enqueue is a non-blocking send: the channel is sized generously (4096)
// since the drain loop only ever falls behind transiently under a write
// storm, but a full channel must never block the request path, so an
// over-capacity record is logged and dropped rather than awaited.
func enqueue[T any](ctx context.Context, ch chan<- T, row T, family string) {
	select {
	case ch <- row:
	default:
		log.Warn(ctx, "observability channel full, dropping record", log.String("family", family))
	}
}

func (w *Writer) drainInferences() {
	defer w.wg.Done()

	batchLoop(w.inferences, w.cfg.rows(), w.cfg.interval(), func(batch []inferenceRow) {
		w.prepareAndSend("inferences", "INSERT INTO inferences", len(batch), func(b driver.Batch) error {
			for _, row := range batch {
				if err := b.AppendStruct(&row); err != nil {
					return err
				}
			}

			return nil
		})
	})
}

func (w *Writer) drainModelInferences() {
	defer w.wg.Done()

	batchLoop(w.modelInferences, w.cfg.rows(), w.cfg.interval(), func(batch []modelInferenceRow) {
		w.prepareAndSend("model_inferences", "INSERT INTO model_inferences", len(batch), func(b driver.Batch) error {
			for _, row := range batch {
				if err := b.AppendStruct(&row); err != nil {
					return err
				}
			}

			return nil
		})
	})
}

func (w *Writer) drainFeedback() {
	defer w.wg.Done()

	batchLoop(w.feedbackCh, w.cfg.rows(), w.cfg.interval(), func(batch []feedbackRow) {
		w.prepareAndSend("feedback", "INSERT INTO feedback", len(batch), func(b driver.Batch) error {
			for _, row := range batch {
				if err := b.AppendStruct(&row); err != nil {
					return err
				}
			}

			return nil
		})
	})
}

// prepareAndSend prepares a batch insert, appends rows via appendRows, and
// sends it. Any failure (prepare, append, or send) is logged and the batch
// is dropped, per spec.md §4.H's "transient rejection" policy: this
// package does not distinguish transient from permanent ClickHouse errors,
// since the spec treats every write failure the same way.
func (w *Writer) prepareAndSend(family, insert string, n int, appendRows func(driver.Batch) error) {
	if n == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	b, err := w.conn.PrepareBatch(ctx, insert)
	if err != nil {
		log.Warn(ctx, "observability: prepare batch failed, dropping", log.String("family", family), log.Int("rows", n), log.Cause(err))
		return
	}

	if err := appendRows(b); err != nil {
		log.Warn(ctx, "observability: append row failed, dropping batch", log.String("family", family), log.Int("rows", n), log.Cause(err))
		return
	}

	if err := b.Send(); err != nil {
		log.Warn(ctx, "observability: send batch failed, dropping", log.String("family", family), log.Int("rows", n), log.Cause(err))
	}
}

// batchLoop drains ch into slices released on whichever trigger fires
// first: maxRows accumulated, or maxInterval elapsed since the last
// release. It returns once ch is closed, flushing any partial final batch
// first (spec.md §4.H: "on shutdown the coroutine is awaited... so that all
// in-flight batches flush").
func batchLoop[T any](ch chan T, maxRows int, maxInterval time.Duration, flush func([]T)) {
	batch := make([]T, 0, maxRows)

	ticker := time.NewTicker(maxInterval)
	defer ticker.Stop()

	for {
		select {
		case row, ok := <-ch:
			if !ok {
				if len(batch) > 0 {
					flush(batch)
				}

				return
			}

			batch = append(batch, row)

			if len(batch) >= maxRows {
				flush(batch)
				batch = make([]T, 0, maxRows)
			}
		case <-ticker.C:
			if len(batch) > 0 {
				flush(batch)
				batch = make([]T, 0, maxRows)
			}
		}
	}
}

// Close stops accepting new records and blocks until every in-flight batch
// has been flushed. A caller enqueuing after Close has started races with
// shutdown and is the "batch sender dropped" programmer bug spec.md §4.H
// calls out; this package does not attempt to detect that case beyond a
// panic from sending on a closed channel.
func (w *Writer) Close() error {
	close(w.inferences)
	close(w.modelInferences)
	close(w.feedbackCh)
	w.wg.Wait()

	return w.conn.Close()
}
