// Package keyword provides lexical recall over chunk text.
//
// Text is tokenized by lowercasing, dropping punctuation and splitting on
// whitespace:
//
//	keyword.Tokenize("Reset the user's Password!")
//	// ["reset", "the", "users", "password"]
//
// A chunk's score for a query is the clipped term overlap divided by the
// query length:
//
//	score = Σ_t min(tf_chunk(t), tf_query(t)) / len(query tokens)
//
// so a chunk containing every query token scores 1 and unrelated chunks are
// never returned. Ties are broken by chunk ID to keep results deterministic.
package keyword
