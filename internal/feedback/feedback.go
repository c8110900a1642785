// Package feedback implements component G: validating one submitted
// feedback event against its metric's declared kind/level and handing it
// off to observability (H). Grounded on spec.md §4.G's validation table;
// the shape of "validate then enqueue, return a minted ID" follows the same
// pattern component F's Process uses for inference persistence.
package feedback

import (
	"context"
	"encoding/json"
	"time"

	"github.com/tensorzero/gateway/internal/gwconfig"
	"github.com/tensorzero/gateway/internal/gwerrors"
	"github.com/tensorzero/gateway/internal/gwtypes"
	"github.com/tensorzero/gateway/internal/reqctx"
)

// Record is what component H persists for one feedback submission.
type Record struct {
	ID         gwtypes.ID
	Kind       gwtypes.MetricKind
	MetricName string
	TargetID   gwtypes.ID
	TargetType gwtypes.MetricLevel
	Value      json.RawMessage
	Tags       map[string]string
}

// Sink is the persistence boundary component G writes through.
type Sink interface {
	PersistFeedback(ctx context.Context, rec Record)
}

// Submit implements spec.md §4.G: look up the metric, validate the target
// level and value shape against its declared kind, mint a UUIDv7 feedback
// ID, and enqueue to sink. Returns the minted ID on success.
func Submit(ctx context.Context, store *gwconfig.Store, sink Sink, fb *gwtypes.Feedback) (gwtypes.ID, error) {
	metric, err := store.GetMetric(fb.MetricName)
	if err != nil {
		return gwtypes.ID{}, err
	}

	targetID, targetType, ok := fb.TargetID()
	if !ok {
		return gwtypes.ID{}, gwerrors.New(gwerrors.KindInvalidRequest, "feedback must provide inference_id or episode_id")
	}

	if wantLevel, ok := requiredLevel(metric); ok && wantLevel != targetType {
		return gwtypes.ID{}, gwerrors.New(gwerrors.KindInvalidRequest,
			`Correct ID was not provided for feedback level %q.`, wantLevel)
	}

	if err := validateValue(metric.Kind, fb.Value); err != nil {
		return gwtypes.ID{}, err
	}

	feedbackID := gwtypes.NewID()

	if !fb.DryRun {
		persistCtx, cancel := reqctx.Detach(context.Background(), 10*time.Second)
		defer cancel()

		sink.PersistFeedback(persistCtx, Record{
			ID:         feedbackID,
			Kind:       metric.Kind,
			MetricName: fb.MetricName,
			TargetID:   targetID,
			TargetType: targetType,
			Value:      fb.Value,
			Tags:       fb.Tags,
		})
	}

	return feedbackID, nil
}

// requiredLevel reports the feedback level metric requires, and whether a
// requirement applies at all. demonstration is always inference-level
// (spec.md §4.G); comment accepts either level, so no requirement is
// enforced; boolean/float are fixed by the metric's declared Level.
func requiredLevel(metric gwconfig.MetricConfig) (gwtypes.MetricLevel, bool) {
	switch metric.Kind {
	case gwtypes.MetricDemonstration:
		return gwtypes.LevelInference, true
	case gwtypes.MetricComment:
		return "", false
	default:
		return metric.Level, true
	}
}

func validateValue(kind gwtypes.MetricKind, value json.RawMessage) error {
	var v any
	if err := json.Unmarshal(value, &v); err != nil {
		return gwerrors.Wrap(gwerrors.KindInvalidRequest, err, "invalid feedback value")
	}

	switch kind {
	case gwtypes.MetricBoolean:
		if _, ok := v.(bool); !ok {
			return gwerrors.New(gwerrors.KindInvalidRequest, "Value for boolean feedback must be a boolean")
		}
	case gwtypes.MetricFloat:
		if _, ok := v.(float64); !ok {
			return gwerrors.New(gwerrors.KindInvalidRequest, "Value for float feedback must be a number")
		}
	case gwtypes.MetricComment:
		if _, ok := v.(string); !ok {
			return gwerrors.New(gwerrors.KindInvalidRequest, "Value for comment feedback must be a string")
		}
	case gwtypes.MetricDemonstration:
		// Demonstration's value is an output in the function's own shape;
		// any well-formed JSON value is accepted (spec.md §4.G).
	}

	return nil
}
