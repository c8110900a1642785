package vertexgemini

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/tensorzero/gateway/internal/gwtypes"
	"github.com/tensorzero/gateway/internal/provider"
)

func TestBuildBody_RoleMappingAndSystem(t *testing.T) {
	req := &gwtypes.Request{
		Input: gwtypes.Input{
			System: "be terse",
			Messages: []gwtypes.InputMessage{
				{Role: gwtypes.RoleUser, Content: []gwtypes.InputMessageContent{{Type: gwtypes.ContentText, Text: "hi"}}},
				{Role: gwtypes.RoleAssistant, Content: []gwtypes.InputMessageContent{{Type: gwtypes.ContentText, Text: "hello"}}},
			},
		},
	}

	body, err := buildBody(req)
	require.NoError(t, err)
	require.Contains(t, string(body), `"role":"model"`)
	require.Contains(t, string(body), `"role":"user"`)
	require.Contains(t, string(body), `"be terse"`)
}

func TestMapFinishReason(t *testing.T) {
	require.Equal(t, gwtypes.FinishStop, mapFinishReason("STOP"))
	require.Equal(t, gwtypes.FinishContentFilter, mapFinishReason("SAFETY"))
	require.Equal(t, gwtypes.FinishUnknown, mapFinishReason("WEIRD"))
}

func TestEndpoint_DefaultsRegion(t *testing.T) {
	url := endpoint(provider.Config{AccountID: "proj-1", ModelName: "gemini-1.5-pro"})
	require.Contains(t, url, "us-central1")
	require.Contains(t, url, "proj-1")
	require.Contains(t, url, "gemini-1.5-pro")
}

func TestTokenSource_MissingCredentialErrors(t *testing.T) {
	_, err := tokenSource(context.Background(), http.DefaultClient, provider.Credentials{})
	require.Error(t, err)
}

func TestJWTBearerSource_SignsAndExchangesAssertion(t *testing.T) {
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	var capturedAssertion string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		require.Equal(t, jwtBearerGrant, r.Form.Get("grant_type"))

		capturedAssertion = r.Form.Get("assertion")

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "fake-access-token",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	}))
	defer srv.Close()

	src := &jwtBearerSource{
		ctx:         context.Background(),
		httpClient:  srv.Client(),
		clientEmail: "svc@example-project.iam.gserviceaccount.com",
		privateKey:  privateKey,
		tokenURI:    srv.URL,
	}

	token, err := src.Token()
	require.NoError(t, err)
	require.Equal(t, "fake-access-token", token.AccessToken)
	require.False(t, token.Expiry.IsZero())

	parsed, _, err := jwt.NewParser().ParseUnverified(capturedAssertion, jwt.MapClaims{})
	require.NoError(t, err)

	claims, ok := parsed.Claims.(jwt.MapClaims)
	require.True(t, ok)
	require.Equal(t, "svc@example-project.iam.gserviceaccount.com", claims["iss"])
	require.Equal(t, scope, claims["scope"])
}
