// Package fireworks adapts Fireworks AI's OpenAI-compatible chat completions
// endpoint by delegating request building and response parsing to the
// openai package, per spec.md §4.B's "compose, don't duplicate parsing
// logic" guidance for protocol-compatible vendors.
package fireworks

import (
	"net/http"

	"github.com/tensorzero/gateway/internal/provider"
	"github.com/tensorzero/gateway/internal/provider/openai"
)

const defaultBaseURL = "https://api.fireworks.ai/inference/v1"

// New returns an openai.Provider for Fireworks. The provider carries no base
// URL of its own: cfg.BaseURL is filled from DefaultBaseURL by component A
// when the entry sets none, so requests land on Fireworks' endpoint. Gateway
// callers still label the
// adapter provider.TypeFireworks in the registry; the wire protocol itself
// is identical to OpenAI's.
func New(httpClient *http.Client) *openai.Provider {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &openai.Provider{HTTPClient: httpClient}
}

// DefaultBaseURL is used by component A when a fireworks provider entry
// omits an explicit base_url override.
func DefaultBaseURL() string { return defaultBaseURL }

var _ = provider.TypeFireworks
