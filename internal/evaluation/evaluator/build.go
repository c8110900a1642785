package evaluator

import (
	"github.com/tensorzero/gateway/internal/gwconfig"
	"github.com/tensorzero/gateway/internal/gwerrors"
)

// Build constructs the Evaluator named by cfg.Kind, compiling/validating
// whatever that kind needs up front (only regex has anything to validate).
// infer is only consulted for llm_judge.
func Build(cfg gwconfig.EvaluatorConfig, infer InferenceFunc) (Evaluator, error) {
	switch cfg.Kind {
	case "exact_match":
		return ExactMatch{}, nil
	case "regex":
		return NewRegex(cfg.Pattern)
	case "llm_judge":
		return &LLMJudge{JudgeFunction: cfg.JudgeFunction, OutputType: cfg.OutputType, Infer: infer}, nil
	default:
		return nil, gwerrors.New(gwerrors.KindInvalidRequest, "unknown evaluator kind %q", cfg.Kind)
	}
}
