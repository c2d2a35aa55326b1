// Package models defines the wire types shared by the API handlers and
// the search/ingestion services.
package models

// ChunkMeta describes one code chunk submitted for indexing. Exactly one
// of Text or Vector is set depending on privacy mode.
type ChunkMeta struct {
	TenantID    string    `json:"tenant_id"`
	ChunkID     string    `json:"chunk_id" binding:"required"`
	RepoID      string    `json:"repo_id" binding:"required"`
	Lang        string    `json:"lang,omitempty"`
	PathTokens  []string  `json:"path_tokens"`
	RelPath     *string   `json:"rel_path,omitempty"`
	IsTest      bool      `json:"is_test,omitempty"`
	LineStart   int       `json:"line_start"`
	LineEnd     int       `json:"line_end"`
	TokenCount  *int      `json:"token_count,omitempty"`
	PrivacyMode bool      `json:"privacy_mode,omitempty"`
	Text        *string   `json:"text,omitempty"`
	Vector      []float32 `json:"vector,omitempty"`
}

// UploadRequest is the body of POST /v1/index/upload
type UploadRequest struct {
	Chunks []ChunkMeta `json:"chunks" binding:"required"`
}

// UploadResponse reports how many documents reached each store
type UploadResponse struct {
	Status     string `json:"status"`
	Qdrant     int    `json:"qdrant"`
	OpenSearch int    `json:"opensearch"`
}

// CommitTusRequest is the body of POST /v1/index/commit_tus
type CommitTusRequest struct {
	TenantID string    `json:"tenant_id"`
	RepoID   string    `json:"repo_id" binding:"required"`
	Chunk    ChunkMeta `json:"chunk" binding:"required"`
	TusKey   string    `json:"tus_key" binding:"required"`
}

// CommitTusResponse is the reply to a resumable-upload commit
type CommitTusResponse struct {
	Status  string `json:"status"`
	ChunkID string `json:"chunk_id"`
}

// SearchRequest is the body of POST /v1/search
type SearchRequest struct {
	TenantID     string `json:"tenant_id"`
	RepoID       string `json:"repo_id" binding:"required"`
	Query        string `json:"query" binding:"required"`
	TopK         int    `json:"top_k"`
	Lang         string `json:"lang,omitempty"`
	DirHint      string `json:"dir_hint,omitempty"`
	ExcludeTests bool   `json:"exclude_tests,omitempty"`
}

// SearchHit is one ranked result
type SearchHit struct {
	ChunkID    string   `json:"chunk_id"`
	Score      float64  `json:"score"`
	PathTokens []string `json:"path_tokens"`
	LineSpan   [2]int   `json:"line_span"`
	RepoID     string   `json:"repo_id"`
	Preview    *string  `json:"preview"`
}

// SearchResponse is the reply to POST /v1/search
type SearchResponse struct {
	SearchID       string      `json:"search_id"`
	Bucket         string      `json:"bucket"`
	NeedFetchLines bool        `json:"need_fetch_lines"`
	Hits           []SearchHit `json:"hits"`
}

// FetchLinesItem carries the raw expanded lines for one privacy-mode chunk
type FetchLinesItem struct {
	ChunkID  string `json:"chunk_id" binding:"required"`
	RawLines string `json:"raw_lines"`
}

// FetchLinesRequest is the body of POST /v1/search/fetch-lines
type FetchLinesRequest struct {
	TenantID string           `json:"tenant_id"`
	RepoID   string           `json:"repo_id" binding:"required"`
	Query    string           `json:"query" binding:"required"`
	Items    []FetchLinesItem `json:"items" binding:"required"`
	TopK     int              `json:"top_k"`
}

// FetchLinesResponse is the reply to POST /v1/search/fetch-lines
type FetchLinesResponse struct {
	Hits []SearchHit `json:"hits"`
}

// FeedbackRequest is the body of POST /v1/feedback. Grade defaults to 1
// when omitted.
type FeedbackRequest struct {
	SearchID       string `json:"search_id" binding:"required"`
	ClickedChunkID string `json:"clicked_chunk_id" binding:"required"`
	Grade          *int   `json:"grade"`
}

// FeedbackResponse is the reply to POST /v1/feedback
type FeedbackResponse struct {
	Status string `json:"status"`
}

// SaltResponse is the reply to GET /v1/tenant/salt
type SaltResponse struct {
	TenantID string `json:"tenant_id"`
	SaltVer  int    `json:"salt_ver"`
	Salt     string `json:"salt"`
}
