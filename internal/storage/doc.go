// Package storage provides SQLite-based persistence for the search index.
//
// The storage layer manages:
//   - Documents with their content hashes and modification times
//   - Chunks with byte offsets and line ranges
//   - Chunk embeddings stored as little-endian float32 blobs
//   - Index metadata such as the embedding model that produced the vectors
//
// # Database Schema
//
// Tables:
//   - schema_version: applied migrations, compared as semantic versions
//   - documents: one row per workspace file, keyed by document ID
//   - chunks: chunk text and location, cascading from documents
//   - embeddings: vectors, absent for keyword-only chunks
//   - index_meta: key/value metadata
//
// # Basic Usage
//
//	db, err := storage.NewSQLiteStorage("~/.hybridsearch/index.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	docs, err := db.LoadDocuments(ctx)  // seed the indexer and engine
//	...
//	err = db.DeleteDocuments(ctx, result.Removed)
//	err = db.SaveDocuments(ctx, result.Documents)
//
// SaveDocuments replaces a document's chunks and embeddings atomically, so a
// reader never observes a document with a partial set of chunks.
//
// # Build Tags
//
// The default build uses modernc.org/sqlite and needs no C compiler:
//
//	CGO_ENABLED=0 go build ./...
//
// The cgo_sqlite tag switches to github.com/mattn/go-sqlite3:
//
//	CGO_ENABLED=1 go build -tags cgo_sqlite ./...
package storage
