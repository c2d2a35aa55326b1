package search

// RankedID is one (id, score) entry of a backend result list, in rank order
type RankedID struct {
	ID    string
	Score float64
}

// RRF computes Reciprocal Rank Fusion over result lists: each document
// accumulates weight/(k+rank) with ranks starting at 1. Used only as the
// fallback when min-max fusion has no candidates to work with.
func RRF(sets [][]RankedID, k int, weight float64) map[string]float64 {
	scores := make(map[string]float64)
	for _, result := range sets {
		for i, entry := range result {
			rank := i + 1
			scores[entry.ID] += weight * (1.0 / (float64(k) + float64(rank)))
		}
	}
	return scores
}
