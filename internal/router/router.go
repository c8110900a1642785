// Package router implements component C: turning a Request into a resolved
// function/variant/model plus its ordered provider attempt list. Grounded on
// internal/server/orchestrator's "ordered candidate list + selection
// strategy" shape (candidates.go, load_balancer.go, model_associate.go),
// simplified from axonhub's multi-channel, circuit-breaker-aware load
// balancing down to spec.md §4.C's static weighted-variant / ordered-
// provider-fallback model.
package router

import (
	"math/rand/v2"

	"github.com/tensorzero/gateway/internal/gwconfig"
	"github.com/tensorzero/gateway/internal/gwtypes"
)

// Route is the resolved attempt plan for one request: which function/variant
// (if any) was selected, which model backs it, and the model's ordered
// provider fallback list (component D consumes Providers in order).
type Route struct {
	FunctionName string
	FunctionType gwtypes.FunctionType

	VariantName string
	Variant     gwconfig.VariantConfig

	ModelName string
	Providers []gwconfig.ModelProviderConfig

	// VariantFallback is the function's policy for whether
	// model-providers-exhausted on this variant should trigger trying
	// another variant (spec.md §4.D).
	VariantFallback bool

	// DirectModel is true when the request targeted a model by name (the
	// OpenAI-compatibility surface), skipping function/variant resolution
	// entirely (spec.md §4.C: "For a request targeting a model directly,
	// step 1 is skipped").
	DirectModel bool
}

// Resolve implements spec.md §4.C. For a function-targeted request it
// selects a variant (pinned or weighted-random with deterministic tie
// break), resolves the variant's model, and returns the model's provider
// list as the initial attempt order. For a direct-model request (the
// OpenAI-compatibility surface) it resolves the model only.
func Resolve(store *gwconfig.Store, req *gwtypes.Request) (*Route, error) {
	if req.IsDirectModel() {
		return resolveDirectModel(store, req.ModelName)
	}

	fn, err := store.GetFunction(req.FunctionName)
	if err != nil {
		return nil, err
	}

	variant, err := fn.SelectVariant(req.VariantName, rand.Float64())
	if err != nil {
		return nil, err
	}

	model, err := store.GetModel(variant.ModelName)
	if err != nil {
		return nil, err
	}

	return &Route{
		FunctionName:    fn.Name,
		FunctionType:    fn.Type,
		VariantName:     variant.Name,
		Variant:         variant,
		ModelName:       model.Name,
		Providers:       model.Providers,
		VariantFallback: fn.VariantFallback,
	}, nil
}

func resolveDirectModel(store *gwconfig.Store, modelName string) (*Route, error) {
	model, err := store.GetModel(modelName)
	if err != nil {
		return nil, err
	}

	return &Route{
		ModelName:   model.Name,
		Providers:   model.Providers,
		DirectModel: true,
	}, nil
}

// NextVariant re-selects among fn's other selectable variants, excluding
// tried, for the function's variant-fallback policy (spec.md §4.D: "may
// trigger the function's variant fallback policy (try another variant) if
// configured"). Returns ok=false once every selectable variant has been
// tried.
func NextVariant(fn gwconfig.FunctionConfig, tried map[string]bool) (gwconfig.VariantConfig, bool) {
	remaining := make([]gwconfig.VariantConfig, 0, len(fn.Variants))

	for name, v := range fn.Variants {
		if v.Weight > 0 && !tried[name] {
			remaining = append(remaining, v)
		}
	}

	if len(remaining) == 0 {
		return gwconfig.VariantConfig{}, false
	}

	picked, err := fn.SelectVariant("", rand.Float64())
	if err != nil || tried[picked.Name] {
		return remaining[0], true
	}

	return picked, true
}
