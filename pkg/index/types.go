// Package index contains the adapters for the two retrieval backends:
// the Qdrant vector store and the OpenSearch lexical store. Both keep one
// collection/index per tenant.
package index

import "errors"

// Backend availability errors, mapped to the HTTP error taxonomy by the API layer.
var (
	ErrVectorUnavailable  = errors.New("vector backend unavailable")
	ErrLexicalUnavailable = errors.New("lexical backend unavailable")
)

// Document is the chunk payload stored in both backends. Text is only
// present in lexical documents; privacy-mode chunks never carry it.
type Document struct {
	ChunkID    string   `json:"chunk_id"`
	RepoID     string   `json:"repo_id"`
	PathTokens []string `json:"path_tokens"`
	RelPath    string   `json:"rel_path,omitempty"`
	Lang       string   `json:"lang,omitempty"`
	LineStart  int      `json:"line_start"`
	LineEnd    int      `json:"line_end"`
	Text       string   `json:"text,omitempty"`
}

// Point is one vector-store entry
type Point struct {
	ID      string    `json:"id"`
	Vector  []float32 `json:"vector"`
	Payload Document  `json:"payload"`
}

// ScoredDocument is a backend result with its raw retrieval score
type ScoredDocument struct {
	Score    float64
	Document Document
}

// SearchFilters are the optional constraints shared by both backends.
// RepoID equality is always applied and is not part of this struct.
type SearchFilters struct {
	Lang         string
	DirHint      string
	ExcludeTests bool
}
