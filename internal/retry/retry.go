// Package retry implements component D: the retry/fallback/timeout harness
// that wraps provider calls with per-attempt timeouts, bounded exponential
// retries with full jitter, and provider-list fallback. Grounded on
// llm/pipeline/pipeline.go's retry loop (Retryable/ChannelRetryable,
// cross-channel vs same-channel retry counts), generalized from "channel
// switching" to spec.md §4.D's "ordered provider list, 1+num_retries
// attempts per provider" model.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/tensorzero/gateway/internal/gwconfig"
	"github.com/tensorzero/gateway/internal/gwerrors"
	"github.com/tensorzero/gateway/internal/gwtypes"
)

// AttemptFunc issues one call against one configured provider entry.
type AttemptFunc func(ctx context.Context, p gwconfig.ModelProviderConfig) (*gwtypes.ModelInferenceResponse, error)

// Outcome is the result of running the full provider list: the winning
// response (nil if every provider was exhausted) plus every attempt record,
// in attempt order, regardless of success (spec.md §4.D: "every attempt
// produces a ModelInferenceResponseWithMetadata record").
type Outcome struct {
	Response *gwtypes.ModelInferenceResponse
	Attempts []gwtypes.ModelInferenceResponse
	Err      error
}

func newBackoff(cfg gwconfig.RetryConfig) *backoff.ExponentialBackOff {
	// The library draws each delay uniformly from [interval*(1-f),
	// interval*(1+f)]; with f = 1.0 that is [0, 2*interval]. Both intervals
	// are therefore set to half their target, so each delay is uniform in
	// [0, computed) with computed starting at 200ms and capped at MaxDelayS.
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.RandomizationFactor = 1.0 // full jitter

	if cfg.MaxDelayS > 0 {
		b.MaxInterval = time.Duration(cfg.MaxDelayS * float64(time.Second) / 2)
	}

	b.Reset()

	return b
}

// Run executes attempt against providers in order, up to 1+cfg.NumRetries
// times per provider, with exponential-capped-jittered delay between
// attempts on the same provider. perAttemptTimeout, when positive, bounds
// each individual attempt; a timeout is always retried regardless of the
// error's own Retryable flag (spec.md §5: "Timeouts are treated as
// retryable"). A non-retryable error ends retries for the current provider
// and advances to the next one. If every provider is exhausted, Outcome.Err
// is a ModelProvidersExhausted error.
func Run(ctx context.Context, providers []gwconfig.ModelProviderConfig, cfg gwconfig.RetryConfig, perAttemptTimeout time.Duration, attempt AttemptFunc) *Outcome {
	outcome := &Outcome{}

	maxAttempts := 1 + cfg.NumRetries
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	for _, p := range providers {
		b := newBackoff(cfg)

		for i := 0; i < maxAttempts; i++ {
			resp, err := callOnce(ctx, perAttemptTimeout, p, attempt)

			if resp != nil {
				outcome.Attempts = append(outcome.Attempts, *resp)
			}

			if err == nil {
				outcome.Response = resp
				return outcome
			}

			if ctx.Err() != nil {
				outcome.Err = ctx.Err()
				return outcome
			}

			timedOut := errors.Is(err, context.DeadlineExceeded)
			if !timedOut && !gwerrors.IsRetryable(err) {
				break // non-retryable: stop this provider, advance to the next
			}

			if i == maxAttempts-1 {
				break
			}

			delay := b.NextBackOff()
			if delay == backoff.Stop {
				break
			}

			if !sleep(ctx, delay) {
				outcome.Err = ctx.Err()
				return outcome
			}
		}
	}

	outcome.Err = gwerrors.New(gwerrors.KindModelProvidersExhausted, "all providers exhausted after retries")

	return outcome
}

func callOnce(ctx context.Context, timeout time.Duration, p gwconfig.ModelProviderConfig, attempt AttemptFunc) (*gwtypes.ModelInferenceResponse, error) {
	if timeout <= 0 {
		return attempt(ctx, p)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := attempt(attemptCtx, p)
	if err != nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		return resp, context.DeadlineExceeded
	}

	return resp, err
}

// sleep waits for d or ctx cancellation, returning false on cancellation.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
