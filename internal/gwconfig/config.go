// Package gwconfig implements the immutable, process-local function/variant/
// model/evaluator definition store (component A), loaded once at startup and
// shared read-only for the life of the process.
package gwconfig

import (
	"strings"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/tensorzero/gateway/internal/gwerrors"
	"github.com/tensorzero/gateway/internal/gwtypes"
	"github.com/tensorzero/gateway/internal/override"
	"github.com/tensorzero/gateway/internal/provider"
	"github.com/tensorzero/gateway/internal/provider/fireworks"
	"github.com/tensorzero/gateway/internal/provider/together"
)

// RetryConfig is a variant's retry/fallback/timeout directive (component D
// reads this, component A only stores it).
type RetryConfig struct {
	NumRetries int     `mapstructure:"num_retries"`
	MaxDelayS  float64 `mapstructure:"max_delay_s"`
}

// ModelProviderConfig is one entry in a model's ordered provider fallback
// list.
type ModelProviderConfig struct {
	Type          provider.Type     `mapstructure:"type"`
	ModelName     string            `mapstructure:"model_name"`
	BaseURL       string            `mapstructure:"api_base"`
	Region        string            `mapstructure:"region"`
	AccountID     string            `mapstructure:"account_id"`
	CredentialsRef string           `mapstructure:"credentials"`
	ExtraFields   map[string]string `mapstructure:"extra_fields"`
}

func (p ModelProviderConfig) toProviderConfig() provider.Config {
	baseURL := p.BaseURL
	if baseURL == "" {
		switch p.Type {
		case provider.TypeFireworks:
			baseURL = fireworks.DefaultBaseURL()
		case provider.TypeTogether:
			baseURL = together.DefaultBaseURL()
		}
	}

	return provider.Config{
		ModelName:   p.ModelName,
		BaseURL:     baseURL,
		Region:      p.Region,
		AccountID:   p.AccountID,
		ExtraFields: p.ExtraFields,
	}
}

// ModelConfig is a named logical model with an ordered, non-empty provider
// fallback list (spec.md §3 "Model").
type ModelConfig struct {
	Name      string                 `mapstructure:"-"`
	Providers []ModelProviderConfig `mapstructure:"providers"`
}

// VariantKind enumerates the execution strategies spec.md §3 names.
type VariantKind string

const (
	VariantChatCompletion VariantKind = "chat_completion"
	VariantBestOfN        VariantKind = "best_of_n"
	VariantMixtureOfN     VariantKind = "mixture_of_n"
	VariantDICL           VariantKind = "dicl"
	VariantChainOfThought VariantKind = "chain_of_thought"
)

// VariantConfig is one named execution strategy for a function.
type VariantConfig struct {
	Name   string      `mapstructure:"-"`
	Kind   VariantKind `mapstructure:"type"`
	Weight float64     `mapstructure:"weight"`

	ModelName string `mapstructure:"model"`

	SystemTemplate    string `mapstructure:"system_template"`
	UserTemplate      string `mapstructure:"user_template"`
	AssistantTemplate string `mapstructure:"assistant_template"`

	Params map[string]any `mapstructure:"params"`

	Retry       RetryConfig `mapstructure:"retries"`
	TimeoutS    float64     `mapstructure:"timeout_s"`
	TTFTBudgetS float64     `mapstructure:"ttft_budget_s"`

	// best_of_n / mixture_of_n
	Candidates []string `mapstructure:"candidates"`
	Judge      string   `mapstructure:"evaluator"` // variant name used to judge/fuse

	// dicl
	EmbeddingModel string `mapstructure:"embedding_model"`
	K              int    `mapstructure:"k"`

	// DynamicOverrides patches the canonical cache-key payload before it is
	// fingerprinted (component F), so an overridden variant gets cache
	// entries of its own. The request handed to the provider adapter is not
	// patched. See internal/override.
	DynamicOverrides []override.Operation `mapstructure:"dynamic_overrides"`
}

// FunctionConfig owns templates/schemas/variants/tools for one named
// logical endpoint.
type FunctionConfig struct {
	Name string
	Type gwtypes.FunctionType

	Variants map[string]VariantConfig

	Tools        []string
	ToolChoice   *gwtypes.ToolChoice
	OutputSchema []byte // json function only

	// OutputSchemaResolved is OutputSchema compiled once at load time
	// (nil for a Chat function or a Json function with no declared schema).
	// Request-time validation (stage 6 parsed-output check) reuses this
	// rather than recompiling per inference.
	OutputSchemaResolved *jsonschema.Resolved

	VariantFallback bool // try another variant after model-providers-exhausted
}

// selectableVariants returns the subset with Weight > 0, for weighted
// selection (spec.md §4.C).
func (f FunctionConfig) selectableVariants() []VariantConfig {
	out := make([]VariantConfig, 0, len(f.Variants))

	for _, v := range f.Variants {
		if v.Weight > 0 {
			out = append(out, v)
		}
	}

	return out
}

// MetricConfig declares one feedback metric's kind/level.
type MetricConfig struct {
	Name  string
	Kind  gwtypes.MetricKind
	Level gwtypes.MetricLevel
}

// EvaluatorConfig is one configured scorer inside an EvaluationConfig.
type EvaluatorConfig struct {
	Name           string
	Kind           string // exact_match | regex | llm_judge
	Pattern        string // regex only
	JudgeFunction  string // llm_judge only
	OutputType     string // llm_judge only: float | boolean
	PrecisionTarget *float64
}

// EvaluationConfig names a dataset/variant/evaluator combination runnable by
// component I.
type EvaluationConfig struct {
	Name         string
	FunctionName string
	Evaluators   map[string]EvaluatorConfig
}

// Store is the immutable, in-memory config/template document loaded once at
// startup (component A). All read methods are safe for concurrent use
// without locking since the map contents never change after Load returns.
type Store struct {
	functions  map[string]FunctionConfig
	models     map[string]ModelConfig
	embeddings map[string]ModelConfig
	metrics    map[string]MetricConfig
	evaluations map[string]EvaluationConfig

	templates *TemplateStore
}

func newStore() *Store {
	return &Store{
		functions:  make(map[string]FunctionConfig),
		models:     make(map[string]ModelConfig),
		embeddings: make(map[string]ModelConfig),
		metrics:    make(map[string]MetricConfig),
		evaluations: make(map[string]EvaluationConfig),
		templates:  NewTemplateStore(),
	}
}

// GetFunction looks up a function by name.
func (s *Store) GetFunction(name string) (FunctionConfig, error) {
	f, ok := s.functions[name]
	if !ok {
		return FunctionConfig{}, gwerrors.New(gwerrors.KindUnknownFunction, "unknown function %q", name)
	}

	return f, nil
}

// GetModel looks up a model by name, auto-synthesizing a one-provider model
// definition for the `<provider>::<model>` shorthand (spec.md §4.A) when name
// is not already declared.
func (s *Store) GetModel(name string) (ModelConfig, error) {
	if m, ok := s.models[name]; ok {
		return m, nil
	}

	if shorthand, ok := parseShorthand(name); ok {
		return shorthand, nil
	}

	return ModelConfig{}, gwerrors.New(gwerrors.KindUnknownModel, "unknown model %q", name)
}

// GetEmbeddingModel mirrors GetModel for the embedding-model namespace.
func (s *Store) GetEmbeddingModel(name string) (ModelConfig, error) {
	if m, ok := s.embeddings[name]; ok {
		return m, nil
	}

	if shorthand, ok := parseShorthand(name); ok {
		return shorthand, nil
	}

	return ModelConfig{}, gwerrors.New(gwerrors.KindUnknownModel, "unknown embedding model %q", name)
}

// GetMetric looks up a metric definition by name.
func (s *Store) GetMetric(name string) (MetricConfig, error) {
	m, ok := s.metrics[name]
	if !ok {
		return MetricConfig{}, gwerrors.New(gwerrors.KindUnknownMetric, "unknown metric %q", name)
	}

	return m, nil
}

// GetEvaluation looks up an evaluation definition by name.
func (s *Store) GetEvaluation(name string) (EvaluationConfig, error) {
	e, ok := s.evaluations[name]
	if !ok {
		return EvaluationConfig{}, gwerrors.New(gwerrors.KindInvalidRequest, "unknown evaluation %q", name)
	}

	return e, nil
}

// RenderTemplate renders a named, already-compiled template against args
// (component A's `render_template(ref, args) → String`).
func (s *Store) RenderTemplate(name string, args map[string]any) (string, error) {
	return s.templates.Render(name, args)
}

// SelectVariant implements spec.md §4.C's variant-selection policy: a pinned
// name wins outright (error if unknown); otherwise sample by weight over
// variants with weight > 0, ties on the sampled point broken deterministically
// by ascending variant name.
func (f FunctionConfig) SelectVariant(pinned string, r float64) (VariantConfig, error) {
	if pinned != "" {
		v, ok := f.Variants[pinned]
		if !ok {
			return VariantConfig{}, gwerrors.New(gwerrors.KindUnknownVariant, "unknown variant %q for function %q", pinned, f.Name)
		}

		return v, nil
	}

	candidates := f.selectableVariants()
	if len(candidates) == 0 {
		return VariantConfig{}, gwerrors.New(gwerrors.KindUnknownVariant, "function %q has no selectable variant", f.Name)
	}

	return weightedPick(candidates, r), nil
}

// parseShorthand recognizes the `<provider>::<model>` shorthand (spec.md
// §4.A) and synthesizes a one-provider ModelConfig for it.
func parseShorthand(name string) (ModelConfig, bool) {
	vendor, modelName, ok := strings.Cut(name, "::")
	if !ok || vendor == "" || modelName == "" {
		return ModelConfig{}, false
	}

	switch provider.Type(vendor) {
	case provider.TypeOpenAI, provider.TypeAnthropic, provider.TypeAWSBedrock,
		provider.TypeAWSSageMaker, provider.TypeGCPVertex, provider.TypeFireworks,
		provider.TypeTogether, provider.TypeDummy:
		return ModelConfig{
			Name: name,
			Providers: []ModelProviderConfig{{
				Type:      provider.Type(vendor),
				ModelName: modelName,
			}},
		}, true
	default:
		return ModelConfig{}, false
	}
}

// ProviderConfig converts one configured provider entry into the vendor-
// agnostic provider.Config the dispatch layer (component B, via D) expects.
func (p ModelProviderConfig) ProviderConfig() provider.Config {
	return p.toProviderConfig()
}
