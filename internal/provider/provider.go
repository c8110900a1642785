// Package provider defines the capability interfaces every vendor adapter
// implements (component B) and a small registry that maps a provider type
// string to a constructor. Dynamic dispatch over vendors is expressed as a
// capability interface with a sealed set of implementations, never as open
// inheritance: each capability interface below (all but ResponseParser)
// embeds the unexported capability interface and its sealedProvider()
// marker, so only types declared inside this module tree can implement it.
package provider

import (
	"context"
	"time"

	"github.com/tensorzero/gateway/internal/gwtypes"
)

// Type is the sealed set of vendor identifiers spec.md §3 names.
type Type string

const (
	TypeOpenAI       Type = "openai"
	TypeAnthropic    Type = "anthropic"
	TypeAWSBedrock   Type = "aws_bedrock"
	TypeAWSSageMaker Type = "aws_sagemaker"
	TypeGCPVertex    Type = "gcp_vertex_gemini"
	TypeFireworks    Type = "fireworks"
	TypeTogether     Type = "together"
	TypeDummy        Type = "dummy"
)

// Credentials carries whatever secret material a vendor adapter needs,
// resolved by component A from the request/config's "credentials reference"
// rather than read directly from the environment at call time.
type Credentials struct {
	APIKey          string
	AWSAccessKeyID  string
	AWSSecretKey    string
	AWSSessionToken string
	GCPServiceAccountJSON []byte
}

// Config is the vendor-specific, per-model-entry configuration (endpoint
// model string, base URL override, region, etc). Fields are loosely typed
// since each vendor only reads the subset it understands.
type Config struct {
	ModelName  string // the vendor's own model identifier string
	BaseURL    string
	Region     string
	AccountID  string // SageMaker endpoint name, Bedrock inference profile, etc
	ExtraFields map[string]string
}

// Sealed is embedded by every capability implementation. Embedding brings an
// unexported, package-scoped marker method into the embedder's method set,
// which is how this module seals the capability interfaces below against
// implementation from outside this module tree while still letting the
// vendor subpackages (openai, anthropic, dummy, ...) implement them.
type Sealed struct{}

func (Sealed) sealedProvider() {}

type capability interface {
	sealedProvider()
}

// Chatter issues a single unary chat/json inference call.
//
//go:generate go run go.uber.org/mock/mockgen -destination=providermock/chatter.go -package=providermock github.com/tensorzero/gateway/internal/provider Chatter
type Chatter interface {
	capability
	Infer(ctx context.Context, req *gwtypes.Request, cfg Config, creds Credentials) (*gwtypes.ModelInferenceResponse, error)
}

// StreamChunk is one provider-native SSE chunk, not yet unified into
// gwtypes' output shape.
type StreamChunk struct {
	RawData []byte
	Done    bool
}

// ChunkStream is the lazy sequence a streaming provider call yields.
type ChunkStream interface {
	Next(ctx context.Context) (StreamChunk, bool)
	Err() error
	Close() error
}

// StreamChatter issues a streaming chat/json inference call.
type StreamChatter interface {
	capability
	InferStream(ctx context.Context, req *gwtypes.Request, cfg Config, creds Credentials) (stream ChunkStream, rawRequest string, err error)
}

// Embedder computes text embeddings.
type Embedder interface {
	capability
	Embed(ctx context.Context, texts []string, cfg Config, creds Credentials) (vectors [][]float32, usage gwtypes.Usage, err error)
}

// ModerationResult is one input's per-category flags and scores.
type ModerationResult struct {
	Flagged    bool
	Categories map[string]bool
	Scores     map[string]float64
}

// Moderator classifies text/batch content for policy violations.
type Moderator interface {
	capability
	Moderate(ctx context.Context, texts []string, cfg Config, creds Credentials) ([]ModerationResult, error)
}

// BatchHandle identifies an offline batch job at the vendor.
type BatchHandle struct {
	VendorBatchID string
}

// BatchStatus is the polled state of an offline batch job.
type BatchStatus string

const (
	BatchPending   BatchStatus = "pending"
	BatchRunning   BatchStatus = "running"
	BatchCompleted BatchStatus = "completed"
	BatchFailed    BatchStatus = "failed"
)

// BatchInferer supports vendors offering asynchronous offline batch
// inference.
type BatchInferer interface {
	capability
	StartBatchInference(ctx context.Context, reqs []*gwtypes.Request, cfg Config, creds Credentials) (BatchHandle, error)
	PollBatchInference(ctx context.Context, handle BatchHandle, cfg Config, creds Credentials) (BatchStatus, []*gwtypes.ModelInferenceResponse, error)
}

// ResponseParser lets a provider parse another provider's wire response. It
// exists for the SageMaker case: a SageMaker endpoint can host a container
// that speaks e.g. OpenAI's protocol verbatim, so SageMaker composes
// openai's ResponseParser instead of duplicating parsing logic (spec.md
// §4.B).
type ResponseParser interface {
	ParseResponse(rawRequest, rawResponse string, latency time.Duration) (*gwtypes.ModelInferenceResponse, error)
}

// Adapter is the full set of capabilities a vendor package may implement;
// any subset may be nil, since e.g. "dummy" implements only Chatter and
// StreamChatter.
type Adapter struct {
	Type Type

	Chatter
	StreamChatter
	Embedder
	Moderator
	BatchInferer
	ResponseParser
}

// Registry maps a provider type string to its Adapter.
type Registry struct {
	adapters map[Type]*Adapter
}

func NewRegistry() *Registry {
	return &Registry{adapters: make(map[Type]*Adapter)}
}

func (r *Registry) Register(a *Adapter) {
	r.adapters[a.Type] = a
}

func (r *Registry) Get(t Type) (*Adapter, bool) {
	a, ok := r.adapters[t]
	return a, ok
}
