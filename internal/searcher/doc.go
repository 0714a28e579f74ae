// Package searcher implements hybrid retrieval over the indexed workspace,
// fusing vector similarity with keyword overlap.
//
// The engine provides three search modes:
//   - Hybrid: vector + keyword, weighted fusion (default)
//   - Vector: semantic search using embeddings only
//   - Keyword: token overlap only, no embedding required (works offline)
//
// # Basic Usage
//
//	engine, err := searcher.New(g, searcher.DefaultConfig(),
//	    searcher.WithEmbedder(emb),
//	    searcher.WithIndexer(idx),
//	)
//	if _, err := engine.Reindex(ctx, indexer.Options{}); err != nil {
//	    return err
//	}
//
//	results, err := engine.HybridSearch(ctx, "retry with exponential backoff", 5)
//	for _, r := range results {
//	    fmt.Printf("[%d] %.2f %s:%d (%s)\n",
//	        r.Rank, r.CombinedScore, r.Document.Path, r.StartLine, r.Method)
//	}
//
// # Scoring
//
// Each source returns a candidate pool of Limit*CandidateFactor chunks. Scores
// are min-max normalized per source and per query, then fused:
//
//	combined = VectorWeight*vector + KeywordWeight*keyword
//
// The weights must sum to 1, so combined stays in [0, 1]. When all of a
// source's candidates share one score that raw score is kept. Chunks collapse
// to the best chunk per document; ties sort by document ID.
//
// A result's Method is hybrid when both normalized scores are nonzero,
// otherwise the source that contributed.
//
// # Degradation
//
// When the query embedding fails with *types.EmbeddingError or
// *types.NetworkError, hybrid searches continue with vector scores fixed at 0
// and the response is flagged Degraded. Caller cancellation aborts.
//
// # Workspace Boundary
//
// Every result passes the guard before it is returned. Results whose document
// resolves outside the workspace root are dropped and logged.
//
// # Concurrency
//
// Searches share a read lock over the catalog, vector store and keyword index.
// Apply (and Reindex) takes the write lock for the whole change set, so a
// search sees either the index before or after a run, never a mix. The query
// embedding is computed before the lock is taken.
//
// # Caching
//
// Search with UseCache stores responses in an LRU cache with a TTL (default
// 1h, 1000 entries). Every Apply purges it. Degraded responses are not cached.
package searcher
