package types

import "time"

// RetrievalMethod records which scoring sources contributed to a result
type RetrievalMethod string

const (
	MethodVector  RetrievalMethod = "vector"
	MethodKeyword RetrievalMethod = "keyword"
	MethodHybrid  RetrievalMethod = "hybrid"
)

// SearchResult represents a single document-level search hit
type SearchResult struct {
	// Identification
	Document *Document
	ChunkID  string // Best scoring chunk of the document
	Rank     int    // Position in result set (1-based)

	// Scoring, all in [0, 1]
	VectorScore   float64
	KeywordScore  float64
	CombinedScore float64 // VectorWeight*VectorScore + KeywordWeight*KeywordScore
	Method        RetrievalMethod

	// Best chunk content
	Content   string
	StartLine int
	EndLine   int
}

// Validate checks if the search result is valid
func (sr *SearchResult) Validate() error {
	if sr.ChunkID == "" {
		return ErrInvalidChunkID
	}

	if sr.Rank < 1 {
		return ErrInvalidRank
	}

	for _, s := range []float64{sr.VectorScore, sr.KeywordScore, sr.CombinedScore} {
		if s < 0 || s > 1 {
			return ErrInvalidRelevanceScore
		}
	}

	if sr.Document == nil {
		return ErrMissingDocument
	}

	if sr.Content == "" {
		return ErrEmptyContent
	}

	return nil
}

// IndexStats is a read-only snapshot of the index
type IndexStats struct {
	TotalFiles        int
	TotalChunks       int
	VectorStoreCount  int
	KeywordIndexCount int

	VectorEnabled  bool
	KeywordEnabled bool
	FetchEnabled   bool

	VectorWeight  float64
	KeywordWeight float64

	LastIndexedAt time.Time
}
