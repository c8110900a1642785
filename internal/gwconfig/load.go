package gwconfig

import (
	"os"

	"github.com/spf13/viper"

	"github.com/tensorzero/gateway/internal/gwerrors"
	"github.com/tensorzero/gateway/internal/gwtypes"
)

// rawFunction mirrors one `[functions.<name>]` config document section.
type rawFunction struct {
	Type         string                   `mapstructure:"type"`
	Variants     map[string]VariantConfig `mapstructure:"variants"`
	Tools        []string                 `mapstructure:"tools"`
	ToolChoice   string                   `mapstructure:"tool_choice"`
	OutputSchema string                   `mapstructure:"output_schema"`
	SystemTemplate    string `mapstructure:"system_template"`
	UserTemplate      string `mapstructure:"user_template"`
	AssistantTemplate string `mapstructure:"assistant_template"`
	VariantFallback bool `mapstructure:"variant_fallback"`
}

type rawModel struct {
	Providers []ModelProviderConfig `mapstructure:"providers"`
}

type rawMetric struct {
	Type  string `mapstructure:"type"`
	Level string `mapstructure:"level"`
}

type rawEvaluation struct {
	FunctionName string                     `mapstructure:"function_name"`
	Evaluators   map[string]EvaluatorConfig `mapstructure:"evaluators"`
}

type rawDocument struct {
	Functions       map[string]rawFunction `mapstructure:"functions"`
	Models          map[string]rawModel    `mapstructure:"models"`
	EmbeddingModels map[string]rawModel    `mapstructure:"embedding_models"`
	Metrics         map[string]rawMetric   `mapstructure:"metrics"`
	Evaluations     map[string]rawEvaluation `mapstructure:"evaluations"`
}

// ConfigFileEnvVar is the environment variable naming the config document
// path, per spec.md §6.
const ConfigFileEnvVar = "TENSORZERO_CONFIG_FILE"

// Load reads and validates the config document the way the teacher's
// conf.Load() does: spf13/viper loads a single file (YAML/TOML, sniffed from
// its extension) plus environment variable overrides, and the result is
// converted once into an immutable Store. path overrides
// TENSORZERO_CONFIG_FILE when non-empty.
func Load(path string) (*Store, error) {
	if path == "" {
		path = os.Getenv(ConfigFileEnvVar)
	}

	if path == "" {
		return nil, gwerrors.New(gwerrors.KindInvalidRequest, "%s not set and no config path given", ConfigFileEnvVar)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("tensorzero")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, gwerrors.Wrap(gwerrors.KindInvalidRequest, err, "read config file %q", path)
	}

	var doc rawDocument
	if err := v.Unmarshal(&doc); err != nil {
		return nil, gwerrors.Wrap(gwerrors.KindInvalidRequest, err, "decode config file %q", path)
	}

	return build(doc)
}

func build(doc rawDocument) (*Store, error) {
	s := newStore()

	for name, m := range doc.Models {
		m2 := ModelConfig{Name: name, Providers: m.Providers}
		if len(m2.Providers) == 0 {
			return nil, gwerrors.New(gwerrors.KindInvalidRequest, "model %q declares no providers", name)
		}

		s.models[name] = m2
	}

	for name, m := range doc.EmbeddingModels {
		s.embeddings[name] = ModelConfig{Name: name, Providers: m.Providers}
	}

	for name, rm := range doc.Metrics {
		s.metrics[name] = MetricConfig{
			Name:  name,
			Kind:  gwtypes.MetricKind(rm.Type),
			Level: gwtypes.MetricLevel(rm.Level),
		}
	}

	for name, rf := range doc.Functions {
		fn := FunctionConfig{
			Name:            name,
			Type:            gwtypes.FunctionType(rf.Type),
			Variants:        make(map[string]VariantConfig, len(rf.Variants)),
			Tools:           rf.Tools,
			VariantFallback: rf.VariantFallback,
		}

		if rf.OutputSchema != "" {
			fn.OutputSchema = []byte(rf.OutputSchema)

			resolved, err := CompileSchema(fn.OutputSchema)
			if err != nil {
				return nil, gwerrors.Wrap(gwerrors.KindJSONSchema, err, "function %q output_schema", name)
			}

			fn.OutputSchemaResolved = resolved
		}

		for vname, variant := range rf.Variants {
			variant.Name = vname

			if variant.Kind == "" {
				variant.Kind = VariantChatCompletion
			}

			if variant.Kind != VariantChatCompletion {
				return nil, gwerrors.New(gwerrors.KindInvalidRequest,
					"function %q variant %q: variant type %q is declared but not implemented; only %q is currently dispatched",
					name, vname, variant.Kind, VariantChatCompletion)
			}

			if variant.SystemTemplate != "" {
				if err := s.templates.Add(templateName(name, vname, "system"), variant.SystemTemplate); err != nil {
					return nil, err
				}
			}

			if variant.UserTemplate != "" {
				if err := s.templates.Add(templateName(name, vname, "user"), variant.UserTemplate); err != nil {
					return nil, err
				}
			}

			if variant.AssistantTemplate != "" {
				if err := s.templates.Add(templateName(name, vname, "assistant"), variant.AssistantTemplate); err != nil {
					return nil, err
				}
			}

			fn.Variants[vname] = variant
		}

		s.functions[name] = fn
	}

	for name, re := range doc.Evaluations {
		ev := EvaluationConfig{Name: name, FunctionName: re.FunctionName, Evaluators: make(map[string]EvaluatorConfig, len(re.Evaluators))}

		for ename, e := range re.Evaluators {
			e.Name = ename
			ev.Evaluators[ename] = e
		}

		s.evaluations[name] = ev
	}

	if err := s.templates.Validate(); err != nil {
		return nil, err
	}

	return s, nil
}

// SystemTemplateName, UserTemplateName, AssistantTemplateName name the
// compiled templates for a given function/variant pair, for callers
// (component F) that need to pass the exact ref into RenderTemplate.
func SystemTemplateName(functionName, variantName string) string    { return templateName(functionName, variantName, "system") }
func UserTemplateName(functionName, variantName string) string      { return templateName(functionName, variantName, "user") }
func AssistantTemplateName(functionName, variantName string) string { return templateName(functionName, variantName, "assistant") }
