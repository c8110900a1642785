// Package sagemaker implements provider.Chatter against an AWS SageMaker
// real-time inference endpoint. SageMaker itself is protocol-agnostic: the
// hosted container decides the request/response shape. This adapter speaks
// the common case of a container hosting an OpenAI-compatible server, so it
// composes openai.Provider's ParseResponse instead of duplicating parsing
// logic, exactly as spec.md §4.B calls out for "SageMaker hosting
// OpenAI-shaped endpoints".
package sagemaker

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"time"

	sigv4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/credentials"

	"github.com/tensorzero/gateway/internal/gwerrors"
	"github.com/tensorzero/gateway/internal/gwtypes"
	"github.com/tensorzero/gateway/internal/provider"
	"github.com/tensorzero/gateway/internal/provider/openai"
)

type Provider struct {
	provider.Sealed

	HTTPClient *http.Client

	// InnerParser parses the hosted container's response shape. Defaults to
	// an OpenAI-shaped parser, since that is the overwhelmingly common
	// SageMaker hosting pattern for this gateway's provider list.
	InnerParser provider.ResponseParser
}

func New() *Provider {
	return &Provider{HTTPClient: http.DefaultClient, InnerParser: openai.New()}
}

var _ provider.Chatter = (*Provider)(nil)

func endpoint(cfg provider.Config, region string) string {
	return fmt.Sprintf("https://runtime.sagemaker.%s.amazonaws.com/endpoints/%s/invocations", region, cfg.AccountID)
}

func (p *Provider) Infer(ctx context.Context, req *gwtypes.Request, cfg provider.Config, creds provider.Credentials) (*gwtypes.ModelInferenceResponse, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	// SageMaker's hosted container is OpenAI-shaped; borrow the request
	// builder via a throwaway openai.Provider rather than duplicating it.
	innerOpenAI := openai.New()

	httpReq, err := buildSignedRequest(ctx, innerOpenAI, req, cfg, creds, region)
	if err != nil {
		return nil, err
	}

	start := time.Now()

	httpResp, err := p.HTTPClient.Do(httpReq.req)
	if err != nil {
		return nil, &gwerrors.Error{Kind: gwerrors.KindInferenceClient, Message: err.Error(), Retryable: true, Cause: err}
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.KindInferenceClient, err, "sagemaker: read response body")
	}

	latency := time.Since(start)

	if httpResp.StatusCode >= 400 {
		return nil, gwerrors.ClassifyProviderStatus(httpResp.StatusCode, string(respBody))
	}

	resp, err := p.InnerParser.ParseResponse(httpReq.rawBody, string(respBody), latency)
	if err != nil {
		return nil, err
	}

	resp.ProviderType = string(provider.TypeAWSSageMaker)

	return resp, nil
}

type signedRequest struct {
	req     *http.Request
	rawBody string
}

func buildSignedRequest(ctx context.Context, inner *openai.Provider, req *gwtypes.Request, cfg provider.Config, creds provider.Credentials, region string) (*signedRequest, error) {
	body, err := openai.BuildRequestBody(req, cfg, false)
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.KindSerialization, err, "sagemaker: build request body")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint(cfg, region), bytes.NewReader(body))
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.KindInternalError, err, "sagemaker: build http request")
	}

	httpReq.Header.Set("Content-Type", "application/json")

	sum := sha256.Sum256(body)
	payloadHash := hex.EncodeToString(sum[:])

	awsCreds := credentials.NewStaticCredentialsProvider(creds.AWSAccessKeyID, creds.AWSSecretKey, creds.AWSSessionToken)

	resolved, err := awsCreds.Retrieve(ctx)
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.KindAPIKeyMissing, err, "sagemaker: resolve AWS credentials")
	}

	signer := sigv4.NewSigner()
	if err := signer.SignHTTP(ctx, resolved, httpReq, payloadHash, "sagemaker", region, time.Now()); err != nil {
		return nil, gwerrors.Wrap(gwerrors.KindInternalError, err, "sagemaker: sign request")
	}

	return &signedRequest{req: httpReq, rawBody: string(body)}, nil
}
