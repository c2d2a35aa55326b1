// Package search implements the hybrid retrieval core: score fusion over
// the vector and lexical backends, the optional learned reranker, and the
// cross-encoder used for privacy-mode line reranking.
package search

// Weights are the fusion coefficients for one request. The engine never
// holds weights itself; the caller passes the effective pair (A/B variant
// or control) with every search.
type Weights struct {
	Alpha float64 // vector share
	Beta  float64 // lexical share
}

const degenerateEpsilon = 1e-9

// Normalize min-max scales scores over the candidate set. A degenerate
// range (max-min below epsilon) maps every entry to 0.5 so a single-source
// result set still fuses meaningfully.
func Normalize(scores []float64) []float64 {
	if len(scores) == 0 {
		return nil
	}
	lo, hi := scores[0], scores[0]
	for _, s := range scores[1:] {
		if s < lo {
			lo = s
		}
		if s > hi {
			hi = s
		}
	}
	out := make([]float64, len(scores))
	if hi-lo < degenerateEpsilon {
		for i := range out {
			out[i] = 0.5
		}
		return out
	}
	for i, s := range scores {
		out[i] = (s - lo) / (hi - lo)
	}
	return out
}

// Fuse combines normalized vector and lexical scores linearly
func Fuse(w Weights, vnorm, bnorm float64) float64 {
	return w.Alpha*vnorm + w.Beta*bnorm
}
