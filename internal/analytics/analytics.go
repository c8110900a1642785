// Package analytics implements component L: the deployment-analytics
// reporter. Every 6h it reads a deployment ID and aggregate usage counts and
// POSTs one opt-out JSON report; failure is logged at debug only (spec.md
// §4.L). Wire shape grounded on original_source's howdy.rs; the
// ticker-driven background-loop idiom is grounded on the teacher's periodic
// sweep goroutines (internal/server/gc), generalized here to a single fixed
// interval rather than a cron schedule (see DESIGN.md).
package analytics

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tensorzero/gateway/internal/log"
)

const (
	// DefaultURL is the teacher-equivalent "howdy" endpoint; overridable via
	// TENSORZERO_HOWDY_URL (spec.md §6).
	DefaultURL = "https://howdy.tensorzero.com/"

	// DisableEnvVar opts a deployment out entirely when set to "1".
	DisableEnvVar = "TENSORZERO_DISABLE_PSEUDONYMOUS_USAGE_ANALYTICS"

	// URLOverrideEnvVar overrides DefaultURL.
	URLOverrideEnvVar = "TENSORZERO_HOWDY_URL"

	interval = 6 * time.Hour
)

// Counts is one tick's aggregate usage snapshot (spec.md §4.L / howdy.rs's
// wire body).
type Counts struct {
	ChatInferences       int64
	JSONInferences       int64
	BooleanFeedback      int64
	FloatFeedback        int64
	CommentFeedback      int64
	DemonstrationFeedback int64
	CumulativeInputTokens  decimal.Decimal
	CumulativeOutputTokens decimal.Decimal
}

// Source supplies one tick's Counts, typically backed by the analytical
// store component H writes to.
type Source interface {
	Snapshot(ctx context.Context) (Counts, error)
}

// Reporter runs the ticker loop. A nil Source or Disabled=true makes Run a
// no-op, matching spec.md's "opt-out" framing (analytics is on by default,
// but never required for the gateway to function).
type Reporter struct {
	DeploymentID string
	Source       Source
	URL          string
	Disabled     bool

	client *http.Client
}

func (r *Reporter) url() string {
	if r.URL != "" {
		return r.URL
	}

	return DefaultURL
}

func (r *Reporter) httpClient() *http.Client {
	if r.client != nil {
		return r.client
	}

	return http.DefaultClient
}

type reportBody struct {
	DeploymentID           string `json:"deployment_id"`
	ChatInferences         int64  `json:"chat_inferences"`
	JSONInferences         int64  `json:"json_inferences"`
	BooleanFeedback        int64  `json:"boolean_feedback"`
	FloatFeedback          int64  `json:"float_feedback"`
	CommentFeedback        int64  `json:"comment_feedback"`
	DemonstrationFeedback  int64  `json:"demonstration_feedback"`
	CumulativeInputTokens  string `json:"cumulative_input_tokens"`
	CumulativeOutputTokens string `json:"cumulative_output_tokens"`
}

// Run blocks, posting one report every 6h until ctx is cancelled. Each tick
// is independent: no backoff state carries between ticks, per
// original_source/howdy.rs.
func (r *Reporter) Run(ctx context.Context) {
	if r.Disabled || r.Source == nil {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *Reporter) tick(ctx context.Context) {
	counts, err := r.Source.Snapshot(ctx)
	if err != nil {
		log.Debug(ctx, "analytics: snapshot failed", log.Cause(err))
		return
	}

	body := reportBody{
		DeploymentID:           r.DeploymentID,
		ChatInferences:         counts.ChatInferences,
		JSONInferences:         counts.JSONInferences,
		BooleanFeedback:        counts.BooleanFeedback,
		FloatFeedback:          counts.FloatFeedback,
		CommentFeedback:        counts.CommentFeedback,
		DemonstrationFeedback:  counts.DemonstrationFeedback,
		CumulativeInputTokens:  counts.CumulativeInputTokens.String(),
		CumulativeOutputTokens: counts.CumulativeOutputTokens.String(),
	}

	payload, err := json.Marshal(body)
	if err != nil {
		log.Debug(ctx, "analytics: marshal report failed", log.Cause(err))
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url(), bytes.NewReader(payload))
	if err != nil {
		log.Debug(ctx, "analytics: build request failed", log.Cause(err))
		return
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient().Do(req)
	if err != nil {
		log.Debug(ctx, "analytics: post failed", log.Cause(err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		log.Debug(ctx, "analytics: non-2xx response", log.Int("status", resp.StatusCode))
	}
}
