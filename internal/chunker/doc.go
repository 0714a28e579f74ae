// Package chunker divides document text into overlapping windows for embedding and search.
//
// # Basic Usage
//
//	c, err := chunker.New(1000, 200)
//	if err != nil {
//	    log.Fatal(err) // overlap must be smaller than size
//	}
//
//	docID := chunker.DocumentID("docs/guide.md")
//	for _, chunk := range c.Chunk(docID, string(content)) {
//	    fmt.Printf("chunk at byte %d, lines %d-%d\n",
//	        chunk.Offset, chunk.StartLine, chunk.EndLine)
//	}
//
// # Chunking Strategy
//
// Windows are fixed-size in bytes and consecutive windows share up to the
// configured overlap, so a phrase cut by one boundary appears whole in the
// neighbouring chunk. Boundaries are adjusted:
//   - A window ends just after the last whitespace in its back half
//   - An overlapping window starts at the next word when one is close
//   - No boundary falls inside a multi-byte UTF-8 sequence
//
// # Identity
//
// IDs are name-based UUIDs (version 5). A document's ID derives from its
// workspace-relative path and a chunk's ID from its document ID and byte
// offset, so both survive re-indexing of unchanged files.
//
// # Content Hashing
//
// Each chunk carries the SHA-256 of its content and a token estimate
// (chars/4).
package chunker
