package chunker

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/hybridsearch/pkg/types"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		overlap int
		wantErr bool
	}{
		{name: "defaults", size: DefaultChunkSize, overlap: DefaultChunkOverlap},
		{name: "no overlap", size: 100, overlap: 0},
		{name: "zero size", size: 0, overlap: 0, wantErr: true},
		{name: "overlap equals size", size: 100, overlap: 100, wantErr: true},
		{name: "negative overlap", size: 100, overlap: -1, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(tt.size, tt.overlap)
			if tt.wantErr {
				var cfgErr *types.ConfigurationError
				assert.ErrorAs(t, err, &cfgErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.size, c.Size())
			assert.Equal(t, tt.overlap, c.Overlap())
		})
	}
}

func TestChunk_SmallDocument(t *testing.T) {
	c, err := New(DefaultChunkSize, DefaultChunkOverlap)
	require.NoError(t, err)

	docID := DocumentID("notes.md")
	chunks := c.Chunk(docID, "# Notes\n\nshort file\n")

	require.Len(t, chunks, 1)
	chunk := chunks[0]
	assert.Equal(t, docID, chunk.DocumentID)
	assert.Equal(t, 0, chunk.Offset)
	assert.Equal(t, 1, chunk.StartLine)
	assert.Equal(t, 3, chunk.EndLine)
	assert.Equal(t, ChunkID(docID, 0), chunk.ID)
	assert.NoError(t, chunk.Validate())
}

func TestChunk_EmptyAndWhitespace(t *testing.T) {
	c, err := New(10, 2)
	require.NoError(t, err)

	assert.Empty(t, c.Chunk("d", ""))
	assert.Empty(t, c.Chunk("d", " \n\t\n  "))
}

func TestChunk_WindowsOverlapAndCoverContent(t *testing.T) {
	c, err := New(100, 20)
	require.NoError(t, err)

	words := make([]string, 200)
	for i := range words {
		words[i] = "word"
	}
	content := strings.Join(words, " ")

	chunks := c.Chunk("doc", content)
	require.Greater(t, len(chunks), 1)

	for i, chunk := range chunks {
		assert.LessOrEqual(t, len(chunk.Content), 100)
		assert.Equal(t, content[chunk.Offset:chunk.Offset+len(chunk.Content)], chunk.Content)
		if i > 0 {
			prev := chunks[i-1]
			prevEnd := prev.Offset + len(prev.Content)
			assert.Greater(t, chunk.Offset, prev.Offset, "windows must advance")
			assert.LessOrEqual(t, chunk.Offset, prevEnd, "windows must not leave gaps")
			assert.Greater(t, prevEnd-chunk.Offset, 0, "windows should overlap")
		}
	}

	last := chunks[len(chunks)-1]
	assert.Equal(t, len(content), last.Offset+len(last.Content))
}

func TestChunk_EndsOnWhitespace(t *testing.T) {
	c, err := New(30, 5)
	require.NoError(t, err)

	content := "alpha beta gamma delta epsilon zeta eta theta iota kappa"
	chunks := c.Chunk("doc", content)
	require.Greater(t, len(chunks), 1)

	for _, chunk := range chunks[:len(chunks)-1] {
		last := chunk.Content[len(chunk.Content)-1]
		assert.Equal(t, byte(' '), last, "chunk %q should end after a space", chunk.Content)
	}
}

func TestChunk_NeverSplitsRunes(t *testing.T) {
	c, err := New(16, 4)
	require.NoError(t, err)

	// No whitespace so boundaries fall back to rune alignment
	content := strings.Repeat("日本語テキスト", 20)
	chunks := c.Chunk("doc", content)
	require.NotEmpty(t, chunks)

	for _, chunk := range chunks {
		assert.True(t, utf8.ValidString(chunk.Content), "chunk at %d is not valid UTF-8", chunk.Offset)
	}
}

func TestChunk_LineNumbers(t *testing.T) {
	c, err := New(12, 0)
	require.NoError(t, err)

	content := "line1\nline2\nline3\nline4\n"
	chunks := c.Chunk("doc", content)
	require.Len(t, chunks, 2)

	assert.Equal(t, 1, chunks[0].StartLine)
	assert.Equal(t, 2, chunks[0].EndLine)
	assert.Equal(t, 3, chunks[1].StartLine)
	assert.Equal(t, 4, chunks[1].EndLine)
}

func TestChunk_StableIDs(t *testing.T) {
	c, err := New(50, 10)
	require.NoError(t, err)

	content := strings.Repeat("stable identifiers across runs ", 10)
	first := c.Chunk(DocumentID("a.md"), content)
	second := c.Chunk(DocumentID("a.md"), content)
	other := c.Chunk(DocumentID("b.md"), content)

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
		assert.NotEqual(t, first[i].ID, other[i].ID)
	}
}

func TestDocumentID(t *testing.T) {
	assert.Equal(t, DocumentID("docs/a.md"), DocumentID("docs/a.md"))
	assert.NotEqual(t, DocumentID("docs/a.md"), DocumentID("docs/b.md"))
	assert.Len(t, DocumentID("x"), 36)
}

func TestEstimateTokenCount(t *testing.T) {
	assert.Equal(t, 0, EstimateTokenCount(""))
	assert.Equal(t, 2, EstimateTokenCount("12345678"))
	assert.Equal(t, ComputeChunkHash("x"), ComputeChunkHash("x"))
}
