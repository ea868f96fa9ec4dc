package vector

import (
	"time"

	"github.com/lib/pq"
)

// ExtractedVector is one stored extraction result
type ExtractedVector struct {
	ID        int64          `db:"id" json:"id"`
	Model     string         `db:"model" json:"model"`
	Family    string         `db:"family" json:"family"`
	Strategy  string         `db:"strategy" json:"strategy"`
	Layer     int            `db:"layer" json:"layer"`
	Text      string         `db:"text" json:"text"`
	TextHash  string         `db:"text_hash" json:"text_hash"`
	Tokens    pq.StringArray `db:"tokens" json:"tokens"`
	Embedding []float32      `db:"embedding" json:"embedding"`
	CreatedAt time.Time      `db:"created_at" json:"created_at"`
}

// SimilarityResult represents a vector similarity search result
type SimilarityResult struct {
	Vector     *ExtractedVector `json:"vector"`
	Similarity float32          `json:"similarity"`
	Distance   float32          `json:"distance"`
}

// SearchOptions contains options for vector similarity search
type SearchOptions struct {
	Limit         int     `json:"limit"`
	MinSimilarity float32 `json:"min_similarity"`
	Model         string  `json:"model,omitempty"`
	Strategy      string  `json:"strategy,omitempty"`
}

// ModelCount is the number of vectors stored for one model and extraction
type ModelCount struct {
	Model    string `db:"model" json:"model"`
	Strategy string `db:"strategy" json:"strategy"`
	Layer    int    `db:"layer" json:"layer"`
	Count    int64  `db:"count" json:"count"`
}

// VectorStats represents database statistics
type VectorStats struct {
	TotalVectors int64        `json:"total_vectors"`
	ByModel      []ModelCount `json:"by_model"`
}

// BatchInsertResult represents the result of a batch insert operation
type BatchInsertResult struct {
	Inserted   int64         `json:"inserted"`
	Duplicates int64         `json:"duplicates"`
	Failed     int64         `json:"failed"`
	Duration   time.Duration `json:"duration"`
	Errors     []error       `json:"errors,omitempty"`
}
