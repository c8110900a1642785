// Package evaluation implements component I: the evaluation runner. It
// streams datapoints from a dataset, issues a candidate inference for each,
// scores it with every configured evaluator in parallel, submits one
// feedback event per evaluator, and adaptively stops evaluators that have
// converged within their configured precision target. Grounded on spec.md
// §4.I and the original implementation's stopping.rs, with the fan-out
// shape borrowed from the teacher's biz.TraceService (errgroup.WithContext
// over a slice of independent per-item jobs).
package evaluation

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/tensorzero/gateway/internal/evaluation/evaluator"
	"github.com/tensorzero/gateway/internal/feedback"
	"github.com/tensorzero/gateway/internal/gwconfig"
	"github.com/tensorzero/gateway/internal/gwerrors"
	"github.com/tensorzero/gateway/internal/gwtypes"
	"github.com/tensorzero/gateway/internal/log"
	"github.com/tensorzero/gateway/internal/metrics"
)

// DatapointStream is a pull cursor over one dataset's datapoints, shaped
// like provider.ChunkStream so component I reuses the same Next/Err/Close
// idiom the rest of this gateway already uses for incremental reads.
type DatapointStream interface {
	Next(ctx context.Context) (*gwtypes.Datapoint, bool)
	Err() error
	Close() error
}

// DatapointSource opens a stream over a named dataset, restricted to one
// function (an evaluation always targets exactly one function, spec.md
// §4.I). Staled datapoints are the source's responsibility to skip.
type DatapointSource interface {
	Open(ctx context.Context, datasetName, functionName string) (DatapointStream, error)
}

// Runner bundles everything component I needs: the config store (for
// evaluation/function/metric definitions), the datapoint source, a hook
// back into component F for both the candidate and any llm_judge calls, and
// the feedback sink candidate scores are submitted through.
type Runner struct {
	Store      *gwconfig.Store
	Datapoints DatapointSource
	Infer      evaluator.InferenceFunc
	Feedback   feedback.Sink

	// Metrics is optional; nil Recorder methods are no-ops.
	Metrics *metrics.Recorder

	// Concurrency bounds how many datapoints are in flight at once; 0 means
	// the default of 8 (see concurrency below) applies.
	Concurrency int
}

func (r *Runner) concurrency() int {
	if r.Concurrency > 0 {
		return r.Concurrency
	}

	return 8
}

// Options parameterizes one evaluation run.
type Options struct {
	EvaluationName string
	DatasetName    string
	VariantName    string // pinned variant; empty selects by weight per request
	Tags           map[string]string
}

// EvaluatorOutcome is one evaluator's result for one datapoint: Score is nil
// both when scoring failed (Err set) and when the evaluator judged itself
// inapplicable (Err nil), matching spec.md §4.I's Result<Option<Value>>.
type EvaluatorOutcome struct {
	Score *evaluator.Score
	Err   error
}

// DatapointOutcome is one datapoint's full evaluator fan-out result.
type DatapointOutcome struct {
	DatapointID gwtypes.ID
	Results     map[string]EvaluatorOutcome
}

// Result is the full run's output.
type Result struct {
	EvaluationRunID gwtypes.ID
	Outcomes        []DatapointOutcome
}

// Run executes spec.md §4.I's algorithm against one dataset/evaluation
// pair: stream datapoints, candidate-infer each, score with every
// configured evaluator, submit feedback, and adaptively stop converged
// evaluators. It returns once the stream is exhausted or every evaluator
// with a precision target has converged.
func (r *Runner) Run(ctx context.Context, opts Options) (*Result, error) {
	evalCfg, err := r.Store.GetEvaluation(opts.EvaluationName)
	if err != nil {
		return nil, err
	}

	fn, err := r.Store.GetFunction(evalCfg.FunctionName)
	if err != nil {
		return nil, err
	}

	evaluators := make(map[string]evaluator.Evaluator, len(evalCfg.Evaluators))

	precisionTargets := make(map[string]float64)

	for name, cfg := range evalCfg.Evaluators {
		ev, err := evaluator.Build(cfg, r.Infer)
		if err != nil {
			return nil, gwerrors.Wrap(gwerrors.KindInvalidRequest, err, "building evaluator %q", name)
		}

		evaluators[name] = ev

		if cfg.PrecisionTarget != nil {
			precisionTargets[name] = *cfg.PrecisionTarget
		}
	}

	stream, err := r.Datapoints.Open(ctx, opts.DatasetName, fn.Name)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	runID := gwtypes.NewID()
	tokens := newStoppingTokens(precisionTargets)

	eg, egctx := errgroup.WithContext(ctx)
	eg.SetLimit(r.concurrency())

	outcomes := newOutcomeCollector()

	completed := 0

	for {
		if tokens.allStopped() {
			log.Info(ctx, "evaluation run: all evaluators converged, stopping enqueue",
				log.String("evaluation", opts.EvaluationName))

			break
		}

		dp, ok := stream.Next(ctx)
		if !ok {
			break
		}

		if dp.IsStaled() {
			continue
		}

		completed++
		seq := completed

		eg.Go(func() error {
			outcome := r.evaluateOne(egctx, opts, runID, dp, evaluators, tokens, seq)
			outcomes.add(outcome)

			return nil
		})
	}

	if err := stream.Err(); err != nil {
		return nil, err
	}

	if err := eg.Wait(); err != nil {
		return nil, err
	}

	return &Result{EvaluationRunID: runID, Outcomes: outcomes.drain()}, nil
}

// evaluateOne runs the candidate inference, scores it with every evaluator
// not yet stopped, submits feedback per scored evaluator, and folds each
// numeric score into the adaptive-stopping tracker.
func (r *Runner) evaluateOne(
	ctx context.Context,
	opts Options,
	runID gwtypes.ID,
	dp *gwtypes.Datapoint,
	evaluators map[string]evaluator.Evaluator,
	tokens *stoppingTokens,
	seq int,
) DatapointOutcome {
	tags := map[string]string{
		"evaluation_run_id": runID.String(),
		"evaluation_name":   opts.EvaluationName,
		"datapoint_id":      dp.ID.String(),
	}

	for k, v := range opts.Tags {
		tags[k] = v
	}

	req := &gwtypes.Request{
		FunctionName: dp.FunctionName,
		VariantName:  opts.VariantName,
		Input:        gwtypes.Input{System: dp.Input.System, Messages: resolvedToInput(dp.Input.Messages)},
		DryRun:       false,
		Tags:         tags,
	}

	result, err := r.Infer(ctx, req)

	outcome := DatapointOutcome{DatapointID: dp.ID, Results: make(map[string]EvaluatorOutcome, len(evaluators))}

	if err != nil {
		for name := range evaluators {
			outcome.Results[name] = EvaluatorOutcome{Err: fmt.Errorf("candidate inference failed: %w", err)}
		}

		return outcome
	}

	for name, ev := range evaluators {
		if tokens.isStopped(name) {
			continue
		}

		score, err := ev.Evaluate(ctx, dp, result)

		outcome.Results[name] = EvaluatorOutcome{Score: score, Err: err}
		r.Metrics.RecordEvaluation(ctx, name, err)

		if err != nil {
			log.Warn(ctx, "evaluator failed", log.String("evaluator", name), log.Cause(err))
			continue
		}

		if score == nil {
			continue
		}

		tokens.record(name, score.AsFloat(), seq)

		r.submitFeedback(ctx, opts.EvaluationName, name, result, score)
	}

	return outcome
}

func (r *Runner) submitFeedback(ctx context.Context, evaluationName, evaluatorName string, result *gwtypes.InferenceResult, score *evaluator.Score) {
	if r.Feedback == nil {
		return
	}

	value, err := score.MarshalJSON()
	if err != nil {
		log.Warn(ctx, "evaluation: failed to marshal score", log.Cause(err))
		return
	}

	inferenceID := result.InferenceID

	fb := &gwtypes.Feedback{
		MetricName:  fmt.Sprintf("%s::%s", evaluationName, evaluatorName),
		InferenceID: &inferenceID,
		Value:       value,
	}

	if _, err := feedback.Submit(ctx, r.feedbackStore(), r.Feedback, fb); err != nil {
		log.Warn(ctx, "evaluation: feedback submission failed",
			log.String("metric", fb.MetricName), log.Cause(err))
	}
}

// feedbackStore is the same *gwconfig.Store already held by Runner; kept as
// a method for readability at the call site above.
func (r *Runner) feedbackStore() *gwconfig.Store {
	return r.Store
}

func resolvedToInput(in []gwtypes.ResolvedInputMessage) []gwtypes.InputMessage {
	out := make([]gwtypes.InputMessage, 0, len(in))

	for _, m := range in {
		content := make([]gwtypes.InputMessageContent, 0, len(m.Content))
		for _, c := range m.Content {
			content = append(content, c.InputMessageContent)
		}

		out = append(out, gwtypes.InputMessage{Role: m.Role, Content: content})
	}

	return out
}

