// Package types provides shared type definitions for hybridsearch.
//
// This package defines the domain types used across the indexer, the two
// indexes, the hybrid search engine and the network layer: documents, chunks,
// search results, index statistics and the error taxonomy.
//
// # Core Types
//
// Document represents one workspace file. Its ID is derived from the
// workspace-relative path, so it survives re-indexing:
//
//	doc := &types.Document{
//	    ID:    "5b1a...",
//	    Title: "README",
//	    Path:  "docs/README.md",
//	}
//
// Chunk represents a contiguous span of a document, the unit of embedding
// and scoring. Chunks without an embedding are keyword-only:
//
//	chunk := &types.Chunk{
//	    DocumentID: doc.ID,
//	    Offset:     1024,
//	    Content:    "...",
//	}
//
// # Search Results
//
// SearchResult carries both component scores and their weighted sum:
//
//	result.CombinedScore == vectorWeight*result.VectorScore + keywordWeight*result.KeywordScore
//
// Method tells which sources contributed: vector, keyword or hybrid.
//
// # Errors
//
// The error taxonomy is typed so callers can choose a recovery path with
// errors.As:
//
//	var netErr *types.NetworkError
//	if errors.As(err, &netErr) && netErr.Kind == types.NetworkTimeout {
//	    // retry budget exhausted on timeouts
//	}
//
//   - ConfigurationError: fatal at construction
//   - EmbeddingError: degrade to keyword-only scoring
//   - NetworkError: surfaced for the failing call only
//   - IndexError: file skipped, indexing continues
//   - SecurityViolation: result dropped, never surfaced
package types
