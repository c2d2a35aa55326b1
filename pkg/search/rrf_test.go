package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRRFRanksStartAtOne(t *testing.T) {
	scores := RRF([][]RankedID{
		{{ID: "a", Score: 9}, {ID: "b", Score: 5}},
	}, 60, 1.0)

	assert.InDelta(t, 1.0/61.0, scores["a"], 1e-12)
	assert.InDelta(t, 1.0/62.0, scores["b"], 1e-12)
}

func TestRRFAccumulatesAcrossLists(t *testing.T) {
	scores := RRF([][]RankedID{
		{{ID: "a"}, {ID: "b"}},
		{{ID: "b"}, {ID: "a"}},
	}, 60, 1.0)

	assert.InDelta(t, 1.0/61.0+1.0/62.0, scores["a"], 1e-12)
	assert.InDelta(t, scores["a"], scores["b"], 1e-12)
}

func TestRRFEmpty(t *testing.T) {
	assert.Empty(t, RRF(nil, 60, 1.0))
}
