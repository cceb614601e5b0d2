package validator

import "docground/internal/catalog"

const (
	// DefaultTrustWeight applies to sources without a configured weight.
	DefaultTrustWeight = 0.8
	// SingleSourceCap bounds the confidence of evidence from one source.
	SingleSourceCap = 0.9
	// fuzzyDiscount scales fuzzy matches below any exact match.
	fuzzyDiscount = 0.5
)

// Weights holds the trust weight of each source, in (0, 1].
type Weights map[catalog.Source]float64

// DefaultWeights gives every known source the same weight.
func DefaultWeights() Weights {
	w := make(Weights, len(catalog.KnownSources))
	for _, src := range catalog.KnownSources {
		w[src] = DefaultTrustWeight
	}
	return w
}

// Weight returns the configured weight of source, falling back to the default
// for missing or out-of-range values.
func (w Weights) Weight(source catalog.Source) float64 {
	v, ok := w[source]
	if !ok || v <= 0 || v > 1 {
		return DefaultTrustWeight
	}
	return v
}

func singleSourceConfidence(weight float64) float64 {
	return clamp(weight, 0, SingleSourceCap)
}

// multiSourceConfidence sums the distinct source weights. Corroborated
// evidence always scores above the single-source cap, even when the
// configured weights are small.
func multiSourceConfidence(weights []float64) float64 {
	sum := 0.0
	for _, w := range weights {
		sum += w
	}
	conf := clamp(sum, 0, 1)
	if conf <= SingleSourceCap {
		conf = (SingleSourceCap + 1) / 2
	}
	return conf
}

func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
