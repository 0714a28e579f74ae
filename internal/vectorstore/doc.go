// Package vectorstore keeps chunk embeddings in memory and answers
// nearest-neighbour queries by cosine similarity.
//
// # Basic Usage
//
//	store := vectorstore.New()
//	store.Upsert(chunk.ID, chunk.Embedding)
//
//	matches := store.Nearest(queryVector, 50)
//	for _, m := range matches {
//	    fmt.Printf("%s %.3f\n", m.ChunkID, m.Score)
//	}
//
// # Scoring
//
// Cosine similarity in [-1, 1] is mapped to a score in [0, 1]:
//
//	score = (cos + 1) / 2
//
// Stored vectors whose length differs from the query are skipped; a zero
// vector has cosine 0 and scores 0.5. Equal scores are ordered by chunk ID
// ascending.
//
// # Concurrency
//
// Upsert stores a private copy of the vector under the write lock, so a
// concurrent Nearest never observes a partially written vector. An empty
// store returns an empty slice.
package vectorstore
