// Package bedrock implements provider.Chatter against AWS Bedrock's
// invoke-model API, SigV4-signed via aws-sdk-go-v2. Bedrock's wire body
// shape depends on which foundation model backs the inference profile; this
// adapter targets the Anthropic-on-Bedrock body shape, the common case for
// the providers this gateway's config store declares.
package bedrock

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	sigv4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/tensorzero/gateway/internal/gwerrors"
	"github.com/tensorzero/gateway/internal/gwtypes"
	"github.com/tensorzero/gateway/internal/provider"
)

func sha256Hex(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

type Provider struct {
	provider.Sealed

	HTTPClient *http.Client
}

func New() *Provider {
	return &Provider{HTTPClient: http.DefaultClient}
}

var _ provider.Chatter = (*Provider)(nil)

func endpoint(cfg provider.Config) string {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	return fmt.Sprintf("https://bedrock-runtime.%s.amazonaws.com/model/%s/invoke", region, cfg.ModelName)
}

func buildBody(req *gwtypes.Request) ([]byte, error) {
	body := []byte(`{"anthropic_version":"bedrock-2023-05-31","max_tokens":4096}`)

	var err error

	messages := make([]map[string]any, 0, len(req.Input.Messages))

	for _, m := range req.Input.Messages {
		var text strings.Builder

		for _, c := range m.Content {
			if c.Type == gwtypes.ContentText {
				text.WriteString(c.Text)
			}
		}

		messages = append(messages, map[string]any{"role": string(m.Role), "content": text.String()})
	}

	body, err = sjson.SetBytes(body, "messages", messages)
	if err != nil {
		return nil, err
	}

	if req.Input.System != nil {
		body, err = sjson.SetBytes(body, "system", req.Input.System)
		if err != nil {
			return nil, err
		}
	}

	return body, nil
}

func (p *Provider) Infer(ctx context.Context, req *gwtypes.Request, cfg provider.Config, creds provider.Credentials) (*gwtypes.ModelInferenceResponse, error) {
	body, err := buildBody(req)
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.KindSerialization, err, "bedrock: build request body")
	}

	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	awsCreds := credentials.NewStaticCredentialsProvider(creds.AWSAccessKeyID, creds.AWSSecretKey, creds.AWSSessionToken)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint(cfg), bytes.NewReader(body))
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.KindInternalError, err, "bedrock: build http request")
	}

	httpReq.Header.Set("Content-Type", "application/json")

	sum := sha256Hex(body)

	creds2, err := awsCreds.Retrieve(ctx)
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.KindAPIKeyMissing, err, "bedrock: resolve AWS credentials")
	}

	signer := sigv4.NewSigner()
	if err := signer.SignHTTP(ctx, creds2, httpReq, sum, "bedrock", region, time.Now()); err != nil {
		return nil, gwerrors.Wrap(gwerrors.KindInternalError, err, "bedrock: sign request")
	}

	start := time.Now()

	httpResp, err := p.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, &gwerrors.Error{Kind: gwerrors.KindInferenceClient, Message: err.Error(), Retryable: true, Cause: err}
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.KindInferenceClient, err, "bedrock: read response body")
	}

	latency := time.Since(start)

	if httpResp.StatusCode >= 400 {
		return nil, gwerrors.ClassifyProviderStatus(httpResp.StatusCode, string(respBody))
	}

	parsed := gjson.Parse(string(respBody))

	var output []gwtypes.ContentBlockOutput

	parsed.Get("content").ForEach(func(_, block gjson.Result) bool {
		if block.Get("type").String() == "text" {
			output = append(output, gwtypes.ContentBlockOutput{Type: gwtypes.ContentText, Text: block.Get("text").String()})
		}

		return true
	})

	return &gwtypes.ModelInferenceResponse{
		ID:           gwtypes.NewID(),
		ProviderType: string(provider.TypeAWSBedrock),
		RawRequest:   string(body),
		RawResponse:  string(respBody),
		Output:       output,
		Usage: gwtypes.Usage{
			InputTokens:  parsed.Get("usage.input_tokens").Int(),
			OutputTokens: parsed.Get("usage.output_tokens").Int(),
		},
		LatencyMS:    latency.Milliseconds(),
		FinishReason: gwtypes.FinishStop,
	}, nil
}
