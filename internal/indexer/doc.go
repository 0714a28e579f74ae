// Package indexer turns a workspace directory into chunked, embedded documents.
//
// # Basic Usage
//
//	idx, err := indexer.New(indexer.Config{}, indexer.WithEmbedder(emb))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer idx.Close()
//
//	result, err := idx.Index(ctx, "/path/to/workspace", indexer.Options{})
//	fmt.Printf("Indexed %d files in %v\n", result.Stats.FilesIndexed, result.Stats.Duration)
//
// # Indexing Pipeline
//
//  1. Discovery: walk the root, skip hidden and dependency directories
//     (vendor, node_modules, ...), apply the extension allow-list and the
//     size limit (MaxFileSize, default 1 MiB)
//  2. Incremental decision: compare SHA-256 content hashes, skip unchanged files
//  3. Read & chunk: files containing NUL bytes are treated as binary and skipped;
//     text is split into overlapping windows (parallel, errgroup)
//  4. Embed: chunks are embedded in batches on an ants worker pool
//
// The result lists new and changed documents, unchanged paths and removed
// document IDs, so a caller can apply it to its indexes in one step. Once the
// caller has stored and applied it, Commit makes it the baseline for the next
// run; an uncommitted result is produced again.
//
// # Incremental Indexing
//
//	// First run: processes all files
//	r1, _ := idx.Index(ctx, root, indexer.Options{})
//	// Files: 247 indexed, 0 unchanged
//	idx.Commit(r1)
//
//	// Later run: only changed files
//	r2, _ := idx.Index(ctx, root, indexer.Options{})
//	// Files: 3 indexed, 244 unchanged
//
// A file is only considered unchanged when every one of its chunks was
// embedded on the previous run, so chunks left keyword-only by a failed
// embedding batch are retried. State survives restarts through Seed:
//
//	idx.Seed(previouslyStoredDocuments)
//
// Force a full re-index with:
//
//	indexer.Options{Force: true}
//
// # Error Handling
//
// Errors are handled at the narrowest scope:
//   - Unreadable file: logged, recorded as *types.IndexError, run continues
//   - Failed embedding batch: logged, its chunks stay keyword-only
//   - Cancelled context: the run stops and returns ctx.Err()
//
// Only one run may be active at a time; a concurrent call returns
// ErrIndexingInProgress immediately.
package indexer
