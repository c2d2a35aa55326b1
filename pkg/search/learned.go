package search

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
)

// Feature vector layout fed to the learned ranker, in order:
// fused, vnorm, bnorm, line-span length, path depth.
const learnedFeatureCount = 5

// learnedModel is the serialized artifact produced offline. "logistic"
// models score with the positive-class probability; "linear" models with
// the raw prediction.
type learnedModel struct {
	Kind    string    `json:"kind"`
	Weights []float64 `json:"weights"`
	Bias    float64   `json:"bias"`
}

// LearnedRanker scores candidate feature vectors with a read-only model
// loaded at startup. A missing artifact path leaves the ranker unavailable
// and hybrid results keep their fused scores.
type LearnedRanker struct {
	model *learnedModel
}

// NewLearnedRanker loads the model artifact at path. An empty or missing
// path is not an error; the ranker is simply unavailable.
func NewLearnedRanker(path string) (*LearnedRanker, error) {
	if path == "" {
		return &LearnedRanker{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &LearnedRanker{}, nil
		}
		return nil, fmt.Errorf("failed to read ranker artifact: %w", err)
	}

	var m learnedModel
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("invalid ranker artifact: %w", err)
	}
	if m.Kind != "logistic" && m.Kind != "linear" {
		return nil, fmt.Errorf("unsupported ranker kind %q", m.Kind)
	}
	if len(m.Weights) != learnedFeatureCount {
		return nil, fmt.Errorf("ranker expects %d weights, got %d", learnedFeatureCount, len(m.Weights))
	}
	return &LearnedRanker{model: &m}, nil
}

// Available reports whether a model artifact was loaded
func (r *LearnedRanker) Available() bool {
	return r.model != nil
}

// Score returns one score per feature vector, in input order
func (r *LearnedRanker) Score(features [][]float64) ([]float64, error) {
	if r.model == nil {
		return nil, fmt.Errorf("learned ranker not loaded")
	}
	out := make([]float64, len(features))
	for i, f := range features {
		if len(f) != learnedFeatureCount {
			return nil, fmt.Errorf("feature vector %d has %d entries, want %d", i, len(f), learnedFeatureCount)
		}
		z := r.model.Bias
		for j, w := range r.model.Weights {
			z += w * f[j]
		}
		if r.model.Kind == "logistic" {
			out[i] = 1.0 / (1.0 + math.Exp(-z))
		} else {
			out[i] = z
		}
	}
	return out, nil
}
