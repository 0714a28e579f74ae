package types

import (
	"crypto/sha256"
	"errors"
	"time"
)

// Document is a single workspace file tracked by the index
type Document struct {
	// Identification
	ID    string // UUIDv5 of the workspace-relative slash path
	Title string

	// Location
	Path    string // Relative to workspace root, slash separated
	AbsPath string

	// Change detection
	ContentHash [32]byte
	ModTime     time.Time
	Size        int64

	// Ordered by offset
	Chunks []*Chunk
}

// Chunk is a contiguous span of a document's content, the unit of embedding and scoring
type Chunk struct {
	// Identification
	ID         string // UUIDv5 of (document ID, offset)
	DocumentID string

	// Content
	Content     string
	ContentHash [32]byte
	TokenCount  int

	// Location
	Offset    int // Byte offset within the document
	StartLine int
	EndLine   int

	// Embedding is nil when the chunk is keyword-only
	Embedding []float32
}

// HasEmbedding reports whether the chunk carries a vector
func (c *Chunk) HasEmbedding() bool {
	return len(c.Embedding) > 0
}

// ValidateContent checks if the chunk content is valid
func (c *Chunk) ValidateContent() error {
	if c.Content == "" {
		return errors.New("chunk content cannot be empty")
	}

	if c.StartLine <= 0 || c.EndLine <= 0 {
		return errors.New("line numbers must be positive")
	}

	if c.StartLine > c.EndLine {
		return errors.New("start line must be before or equal to end line")
	}

	if c.Offset < 0 {
		return errors.New("offset cannot be negative")
	}

	return nil
}

// Validate performs comprehensive validation of the chunk
func (c *Chunk) Validate() error {
	if err := c.ValidateContent(); err != nil {
		return err
	}

	if c.ID == "" {
		return errors.New("chunk ID is required")
	}

	if c.DocumentID == "" {
		return errors.New("document ID is required")
	}

	var zeroHash [32]byte
	if c.ContentHash == zeroHash {
		return errors.New("content hash must be computed")
	}

	return nil
}

// ComputeTokenCount estimates the number of tokens in the chunk
// Uses a simple heuristic: characters / 4
func (c *Chunk) ComputeTokenCount() int {
	c.TokenCount = len(c.Content) / 4
	return c.TokenCount
}

// ComputeContentHash computes the SHA-256 hash of the chunk content
func (c *Chunk) ComputeContentHash() {
	c.ContentHash = sha256.Sum256([]byte(c.Content))
}

// EmbeddedChunks returns the number of chunks that carry a vector
func (d *Document) EmbeddedChunks() int {
	n := 0
	for _, c := range d.Chunks {
		if c.HasEmbedding() {
			n++
		}
	}
	return n
}
