// Package vertexgemini implements provider.Chatter against Google Cloud
// Vertex AI's Gemini generateContent endpoint, authenticating via a
// service-account OAuth2 token source.
package vertexgemini

import (
	"bytes"
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"golang.org/x/oauth2"

	"github.com/tensorzero/gateway/internal/gwerrors"
	"github.com/tensorzero/gateway/internal/gwtypes"
	"github.com/tensorzero/gateway/internal/provider"
)

const (
	scope           = "https://www.googleapis.com/auth/cloud-platform"
	defaultTokenURI = "https://oauth2.googleapis.com/token"
	jwtBearerGrant  = "urn:ietf:params:oauth:grant-type:jwt-bearer"
)

type Provider struct {
	provider.Sealed

	HTTPClient *http.Client
}

func New() *Provider {
	return &Provider{HTTPClient: http.DefaultClient}
}

var _ provider.Chatter = (*Provider)(nil)

// serviceAccountKey is the subset of a GCP service-account JSON key file
// tokenSource needs to self-sign a JWT-bearer assertion.
type serviceAccountKey struct {
	ClientEmail string `json:"client_email"`
	PrivateKey  string `json:"private_key"`
	TokenURI    string `json:"token_uri"`
}

// tokenSource builds an OAuth2 token source that signs its own JWT-bearer
// assertion (RFC 7523) with the service account's private key and exchanges
// it for an access token, rather than going through a higher-level OAuth2
// client library: vertexgemini is the gateway's only provider speaking this
// grant, so it owns the signing step directly.
func tokenSource(ctx context.Context, httpClient *http.Client, creds provider.Credentials) (oauth2.TokenSource, error) {
	if len(creds.GCPServiceAccountJSON) == 0 {
		return nil, &gwerrors.Error{Kind: gwerrors.KindAPIKeyMissing, Message: "vertexgemini: missing GCP service account credential"}
	}

	var key serviceAccountKey
	if err := json.Unmarshal(creds.GCPServiceAccountJSON, &key); err != nil {
		return nil, gwerrors.Wrap(gwerrors.KindAPIKeyMissing, err, "vertexgemini: parse service account JSON")
	}

	privateKey, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(key.PrivateKey))
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.KindAPIKeyMissing, err, "vertexgemini: parse service account private key")
	}

	tokenURI := key.TokenURI
	if tokenURI == "" {
		tokenURI = defaultTokenURI
	}

	src := &jwtBearerSource{
		ctx:         ctx,
		httpClient:  httpClient,
		clientEmail: key.ClientEmail,
		privateKey:  privateKey,
		tokenURI:    tokenURI,
	}

	return oauth2.ReuseTokenSource(nil, src), nil
}

// jwtBearerSource exchanges a freshly-signed JWT-bearer assertion for an
// access token each time Token is called; oauth2.ReuseTokenSource caches the
// result until it's within its expiry window.
type jwtBearerSource struct {
	ctx         context.Context
	httpClient  *http.Client
	clientEmail string
	privateKey  *rsa.PrivateKey
	tokenURI    string
}

func (s *jwtBearerSource) Token() (*oauth2.Token, error) {
	now := time.Now()

	assertion := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"iss":   s.clientEmail,
		"scope": scope,
		"aud":   s.tokenURI,
		"iat":   now.Unix(),
		"exp":   now.Add(time.Hour).Unix(),
	})

	signed, err := assertion.SignedString(s.privateKey)
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.KindAPIKeyMissing, err, "vertexgemini: sign JWT bearer assertion")
	}

	form := url.Values{"grant_type": {jwtBearerGrant}, "assertion": {signed}}

	req, err := http.NewRequestWithContext(s.ctx, http.MethodPost, s.tokenURI, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.KindInternalError, err, "vertexgemini: build token exchange request")
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.KindAPIKeyMissing, err, "vertexgemini: exchange JWT bearer assertion")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.KindAPIKeyMissing, err, "vertexgemini: read token exchange response")
	}

	if resp.StatusCode >= 400 {
		return nil, gwerrors.New(gwerrors.KindAPIKeyMissing, "vertexgemini: token exchange failed: %s", string(body))
	}

	parsed := gjson.ParseBytes(body)

	return &oauth2.Token{
		AccessToken: parsed.Get("access_token").String(),
		TokenType:   parsed.Get("token_type").String(),
		Expiry:      now.Add(time.Duration(parsed.Get("expires_in").Int()) * time.Second),
	}, nil
}

func endpoint(cfg provider.Config) string {
	region := cfg.Region
	if region == "" {
		region = "us-central1"
	}

	return fmt.Sprintf(
		"https://%s-aiplatform.googleapis.com/v1/projects/%s/locations/%s/publishers/google/models/%s:generateContent",
		region, cfg.AccountID, region, cfg.ModelName,
	)
}

func buildBody(req *gwtypes.Request) ([]byte, error) {
	body := []byte(`{}`)

	var err error

	contents := make([]map[string]any, 0, len(req.Input.Messages))

	for _, m := range req.Input.Messages {
		role := "user"
		if m.Role == gwtypes.RoleAssistant {
			role = "model"
		}

		var text strings.Builder

		for _, c := range m.Content {
			if c.Type == gwtypes.ContentText {
				text.WriteString(c.Text)
			}
		}

		contents = append(contents, map[string]any{
			"role":  role,
			"parts": []map[string]any{{"text": text.String()}},
		})
	}

	body, err = sjson.SetBytes(body, "contents", contents)
	if err != nil {
		return nil, err
	}

	if req.Input.System != nil {
		if sysText, ok := req.Input.System.(string); ok {
			body, err = sjson.SetBytes(body, "systemInstruction.parts.0.text", sysText)
			if err != nil {
				return nil, err
			}
		}
	}

	return body, nil
}

func (p *Provider) Infer(ctx context.Context, req *gwtypes.Request, cfg provider.Config, creds provider.Credentials) (*gwtypes.ModelInferenceResponse, error) {
	ts, err := tokenSource(ctx, p.HTTPClient, creds)
	if err != nil {
		return nil, err
	}

	token, err := ts.Token()
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.KindAPIKeyMissing, err, "vertexgemini: refresh OAuth2 token")
	}

	body, err := buildBody(req)
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.KindSerialization, err, "vertexgemini: build request body")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint(cfg), bytes.NewReader(body))
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.KindInternalError, err, "vertexgemini: build http request")
	}

	httpReq.Header.Set("Content-Type", "application/json")
	token.SetAuthHeader(httpReq)

	start := time.Now()

	httpResp, err := p.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, &gwerrors.Error{Kind: gwerrors.KindInferenceClient, Message: err.Error(), Retryable: true, Cause: err}
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.KindInferenceClient, err, "vertexgemini: read response body")
	}

	latency := time.Since(start)

	if httpResp.StatusCode >= 400 {
		return nil, gwerrors.ClassifyProviderStatus(httpResp.StatusCode, string(respBody))
	}

	parsed := gjson.Parse(string(respBody))

	var output []gwtypes.ContentBlockOutput

	parsed.Get("candidates.0.content.parts").ForEach(func(_, part gjson.Result) bool {
		if t := part.Get("text"); t.Exists() {
			output = append(output, gwtypes.ContentBlockOutput{Type: gwtypes.ContentText, Text: t.String()})
		}

		return true
	})

	return &gwtypes.ModelInferenceResponse{
		ID:           gwtypes.NewID(),
		ProviderType: string(provider.TypeGCPVertex),
		RawRequest:   string(body),
		RawResponse:  string(respBody),
		Output:       output,
		Usage: gwtypes.Usage{
			InputTokens:  parsed.Get("usageMetadata.promptTokenCount").Int(),
			OutputTokens: parsed.Get("usageMetadata.candidatesTokenCount").Int(),
		},
		LatencyMS:    latency.Milliseconds(),
		FinishReason: mapFinishReason(parsed.Get("candidates.0.finishReason").String()),
	}, nil
}

func mapFinishReason(s string) gwtypes.FinishReason {
	switch s {
	case "STOP":
		return gwtypes.FinishStop
	case "MAX_TOKENS":
		return gwtypes.FinishLength
	case "SAFETY", "RECITATION":
		return gwtypes.FinishContentFilter
	default:
		return gwtypes.FinishUnknown
	}
}
