package scoring

// PairWeights reports the cumulative relationship strength between two
// accounts, summed over both directions of the interaction graph.
type PairWeights interface {
	PairWeight(a, b string) float64
}

// PairWeightsFunc adapts a function to the PairWeights interface.
type PairWeightsFunc func(a, b string) float64

func (f PairWeightsFunc) PairWeight(a, b string) float64 { return f(a, b) }

// DampFactor converts a relationship strength into the cabal-dampening
// multiplier. Unrelated pairs pass through at 1.0; the factor shrinks as the
// pair interacts more, flooring near 0.1, and is clamped so weak
// relationships can never inflate a contribution above its raw value.
func DampFactor(r float64) float64 {
	if r <= 0 {
		return 1.0
	}
	f := 0.1 + 0.9/r
	if f > 1.0 {
		return 1.0
	}
	return f
}
