// Package together adapts Together AI's OpenAI-compatible chat completions
// endpoint, delegating to the openai package exactly as fireworks does.
package together

import (
	"net/http"

	"github.com/tensorzero/gateway/internal/provider"
	"github.com/tensorzero/gateway/internal/provider/openai"
)

const defaultBaseURL = "https://api.together.xyz/v1"

func New(httpClient *http.Client) *openai.Provider {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &openai.Provider{HTTPClient: httpClient}
}

func DefaultBaseURL() string { return defaultBaseURL }

var _ = provider.TypeTogether
