package gwconfig

import (
	"sort"

	"github.com/samber/lo"
)

// weightedPick samples one of candidates proportionally to Weight, using r
// (expected uniform in [0,1)) as the sampling point. Ties at the sampled
// point are broken deterministically by ascending variant name, per spec.md
// §4.C ("ties broken deterministically by variant name").
func weightedPick(candidates []VariantConfig, r float64) VariantConfig {
	sorted := make([]VariantConfig, len(candidates))
	copy(sorted, candidates)

	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	total := lo.Reduce(sorted, func(acc float64, v VariantConfig, _ int) float64 {
		return acc + v.Weight
	}, 0)

	if total <= 0 {
		return sorted[0]
	}

	target := r * total

	var cumulative float64

	for _, v := range sorted {
		cumulative += v.Weight
		if target < cumulative {
			return v
		}
	}

	return sorted[len(sorted)-1]
}
