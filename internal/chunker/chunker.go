package chunker

import (
	"crypto/sha256"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/dshills/hybridsearch/pkg/types"
)

const (
	// DefaultChunkSize is the window length in bytes
	DefaultChunkSize = 1000

	// DefaultChunkOverlap is how many bytes consecutive windows share
	DefaultChunkOverlap = 200

	// TokensPerChar is the heuristic for estimating tokens (chars/4)
	TokensPerChar = 4
)

// namespace roots every document and chunk ID
var namespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("hybridsearch"))

// DocumentID returns the stable ID of the document at a workspace-relative slash path
func DocumentID(relPath string) string {
	return uuid.NewSHA1(namespace, []byte(relPath)).String()
}

// ChunkID returns the stable ID of the chunk starting at offset within a document
func ChunkID(documentID string, offset int) string {
	return uuid.NewSHA1(namespace, []byte(documentID+"#"+strconv.Itoa(offset))).String()
}

// Chunker splits document text into overlapping fixed-size windows
type Chunker struct {
	size    int
	overlap int
}

// New creates a Chunker. Overlap must be smaller than size.
func New(size, overlap int) (*Chunker, error) {
	if size <= 0 {
		return nil, types.NewConfigurationError("index.chunk_size", "must be positive, got %d", size)
	}
	if overlap < 0 || overlap >= size {
		return nil, types.NewConfigurationError("index.chunk_overlap", "must be in [0, %d), got %d", size, overlap)
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

// Size returns the window length in bytes
func (c *Chunker) Size() int {
	return c.size
}

// Overlap returns the overlap in bytes
func (c *Chunker) Overlap() int {
	return c.overlap
}

// Chunk splits content into chunks owned by the document with the given ID.
// Window ends move back to the last whitespace in the second half of the
// window, and never fall inside a UTF-8 sequence. Whitespace-only windows are dropped.
func (c *Chunker) Chunk(documentID, content string) []*types.Chunk {
	if strings.TrimSpace(content) == "" {
		return nil
	}

	lines := lineStarts(content)
	chunks := make([]*types.Chunk, 0, len(content)/(c.size-c.overlap)+1)

	start := 0
	for start < len(content) {
		end := c.windowEnd(content, start)
		text := content[start:end]

		if strings.TrimSpace(text) != "" {
			chunk := &types.Chunk{
				ID:         ChunkID(documentID, start),
				DocumentID: documentID,
				Content:    text,
				Offset:     start,
				StartLine:  lineAt(lines, start),
				EndLine:    lineAt(lines, lastContentByte(content, start, end)),
			}
			chunk.ComputeContentHash()
			chunk.ComputeTokenCount()
			chunks = append(chunks, chunk)
		}

		if end == len(content) {
			break
		}
		start = c.nextStart(content, start, end)
	}

	return chunks
}

// windowEnd picks the exclusive end of the window beginning at start
func (c *Chunker) windowEnd(content string, start int) int {
	end := start + c.size
	if end >= len(content) {
		return len(content)
	}

	// Prefer to end just after whitespace in the back half of the window
	floor := start + c.size/2
	for i := end - 1; i >= floor; i-- {
		if isSpace(content[i]) {
			return i + 1
		}
	}

	for end > start+1 && !utf8.RuneStart(content[end]) {
		end--
	}
	return end
}

// nextStart returns the start of the following window, overlapping the previous by up to overlap bytes
func (c *Chunker) nextStart(content string, start, end int) int {
	next := end - c.overlap
	if next <= start {
		next = end
	}

	// Start overlapping windows at a word boundary when one is close
	if next < end {
		for i := next; i < end; i++ {
			if isSpace(content[i]) {
				if i+1 < end {
					next = i + 1
				}
				break
			}
		}
	}

	for next < end && !utf8.RuneStart(content[next]) {
		next++
	}
	return next
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\n' || b == '\t' || b == '\r'
}

// lineStarts returns the byte offset at which every line begins
func lineStarts(content string) []int {
	starts := []int{0}
	for i := 0; i < len(content); i++ {
		if content[i] == '\n' && i+1 < len(content) {
			starts = append(starts, i+1)
		}
	}
	return starts
}

// lineAt returns the 1-based line containing offset
func lineAt(starts []int, offset int) int {
	return sort.Search(len(starts), func(i int) bool { return starts[i] > offset })
}

// lastContentByte is the offset of the last byte in [start, end), skipping a trailing newline
func lastContentByte(content string, start, end int) int {
	last := end - 1
	if last > start && content[last] == '\n' {
		last--
	}
	return last
}

// ComputeChunkHash computes the SHA-256 hash for a chunk's content
func ComputeChunkHash(content string) [32]byte {
	return sha256.Sum256([]byte(content))
}

// EstimateTokenCount estimates the number of tokens in a string
func EstimateTokenCount(text string) int {
	return len(text) / TokensPerChar
}
