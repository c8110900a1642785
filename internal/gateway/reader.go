package gateway

import (
	"context"

	"github.com/google/uuid"

	"github.com/tensorzero/gateway/internal/gwtypes"
)

// DatasetWriter backs POST /v1/datasets/{name}/from_inferences: materializing
// datapoints out of past inference records held by the analytical store. It
// is a separate interface from inference.Sink/feedback.Sink since it reads
// the store those write into, rather than writing to it (spec.md §1 scopes
// the analytical store's own query surface outside THE CORE; a gateway
// deployment that wires one in gets this endpoint, one that doesn't gets a
// plain 503 rather than a silent no-op).
type DatasetWriter interface {
	FromInferences(ctx context.Context, datasetName string, inferenceIDs []gwtypes.ID) (int, error)
}

// FeedbackPage is one page of feedback rows, keyset-paginated on feedback ID
// the way the rest of this gateway's list endpoints are (spec.md §6's
// before/after query params).
type FeedbackPage struct {
	Feedback []gwtypes.Feedback `json:"feedback"`
}

// MetricBounds is the oldest/newest feedback ID recorded for one target, used
// by callers paginating a target's full feedback history.
type MetricBounds struct {
	ByCount int        `json:"by_count"`
	First   *gwtypes.ID `json:"first_id,omitempty"`
	Last    *gwtypes.ID `json:"last_id,omitempty"`
}

// LatestByMetric is the newest feedback ID recorded for one target, with the
// metric it belongs to. It is one row across all of the target's metrics,
// not the latest ID for each metric.
type LatestByMetric struct {
	MetricName string      `json:"metric_name"`
	FeedbackID *gwtypes.ID `json:"feedback_id,omitempty"`
}

// EvaluationRunInfo is the display-name/variant pairing for one past
// evaluation run, looked up by the run IDs a caller already knows about
// (the evaluation_run_id tag the evaluation runner puts on each candidate
// inference).
type EvaluationRunInfo struct {
	EvaluationRunID gwtypes.ID `json:"evaluation_run_id"`
	EvaluationName  string     `json:"evaluation_name"`
	VariantName     string     `json:"variant_name"`
}

// FeedbackReader backs the read-model endpoints under /internal/feedback and
// /internal/evaluations: all of it derived from component H's analytical
// store rather than anything component G itself holds in memory, so a
// gateway without an analytical store wired in reports 503 on these routes
// instead of fabricating empty pages.
type FeedbackReader interface {
	ByMetric(ctx context.Context, metricName, before, after string) (FeedbackPage, error)
	ByTarget(ctx context.Context, targetID uuid.UUID, before, after string) (FeedbackPage, error)
	LatestIDByMetric(ctx context.Context, targetID uuid.UUID) (LatestByMetric, error)
	Bounds(ctx context.Context, targetID uuid.UUID) (MetricBounds, error)
	EvaluationRunInfos(ctx context.Context, runIDs []string) ([]EvaluationRunInfo, error)
}
