package indexer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/hybridsearch/internal/chunker"
	"github.com/dshills/hybridsearch/pkg/types"
)

// mockEmbedder implements embedder.Embedder for testing
type mockEmbedder struct {
	dimension int
	failOn    string // batches containing this text fail
	calls     int
	mu        sync.Mutex
}

func newMockEmbedder() *mockEmbedder {
	return &mockEmbedder{dimension: 8}
}

func (m *mockEmbedder) GetEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for _, text := range texts {
		if m.failOn != "" && strings.Contains(text, m.failOn) {
			return nil, &types.EmbeddingError{Reason: "mock failure"}
		}
	}

	vectors := make([][]float32, len(texts))
	for i := range texts {
		vec := make([]float32, m.dimension)
		for j := range vec {
			vec[j] = 0.5
		}
		vectors[i] = vec
	}
	return vectors, nil
}

func (m *mockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := m.GetEmbeddings(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (m *mockEmbedder) Dimension() int   { return m.dimension }
func (m *mockEmbedder) Provider() string { return "mock" }
func (m *mockEmbedder) Model() string    { return "test-v1" }
func (m *mockEmbedder) Close() error     { return nil }

func (m *mockEmbedder) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func newTestIndexer(t *testing.T, cfg Config, opts ...Option) *Indexer {
	t.Helper()
	idx, err := New(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(idx.Close)
	return idx
}

func paths(docs []*types.Document) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.Path
	}
	return out
}

func TestIndex_DiscoveryFilters(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "README.md", "# Project\n\nOverview of the project.\n")
	writeFile(t, root, "docs/guide.md", "# Guide\n\nHow to use it.\n")
	writeFile(t, root, "src/main.go", "package main\n\nfunc main() {}\n")
	writeFile(t, root, "Makefile", "build:\n\tgo build ./...\n")
	writeFile(t, root, ".hidden/secret.md", "hidden")
	writeFile(t, root, ".env.md", "hidden file")
	writeFile(t, root, "vendor/lib/lib.go", "package lib")
	writeFile(t, root, "node_modules/pkg/index.js", "module.exports = {}")
	writeFile(t, root, "image.png", "not text")
	writeFile(t, root, "empty.md", "")
	writeFile(t, root, "big.txt", strings.Repeat("x", 2048))
	writeFile(t, root, "blob.txt", "abc\x00def")

	idx := newTestIndexer(t, Config{MaxFileSize: 1024})
	result, err := idx.Index(context.Background(), root, Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{"Makefile", "README.md", "docs/guide.md", "src/main.go"}, paths(result.Documents))
	assert.Equal(t, 4, result.Stats.FilesIndexed)
	// empty.md, big.txt, blob.txt
	assert.Equal(t, 3, result.Stats.FilesSkipped)
}

func TestIndex_Documents(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "docs/guide.md", "intro line\n# Getting Started\n\nbody text\n")
	writeFile(t, root, "notes.txt", "plain notes")

	emb := newMockEmbedder()
	idx := newTestIndexer(t, Config{}, WithEmbedder(emb))
	result, err := idx.Index(context.Background(), root, Options{})
	require.NoError(t, err)
	require.Len(t, result.Documents, 2)

	guide := result.Documents[0]
	assert.Equal(t, "docs/guide.md", guide.Path)
	assert.Equal(t, chunker.DocumentID("docs/guide.md"), guide.ID)
	assert.Equal(t, "Getting Started", guide.Title)
	assert.True(t, filepath.IsAbs(guide.AbsPath))
	assert.NotZero(t, guide.ContentHash)
	require.Len(t, guide.Chunks, 1)
	assert.Equal(t, guide.ID, guide.Chunks[0].DocumentID)
	assert.Len(t, guide.Chunks[0].Embedding, 8)

	notes := result.Documents[1]
	assert.Equal(t, "notes", notes.Title)

	assert.Equal(t, 2, result.Stats.ChunksCreated)
	assert.Equal(t, 2, result.Stats.ChunksEmbedded)
}

func TestIndex_Incremental(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.md", "alpha")
	writeFile(t, root, "b.md", "beta")
	writeFile(t, root, "c.md", "gamma")

	idx := newTestIndexer(t, Config{}, WithEmbedder(newMockEmbedder()))
	ctx := context.Background()

	first, err := idx.Index(ctx, root, Options{})
	require.NoError(t, err)
	assert.Len(t, first.Documents, 3)
	assert.Empty(t, first.Unchanged)
	idx.Commit(first)

	writeFile(t, root, "b.md", "beta changed")
	require.NoError(t, os.Remove(filepath.Join(root, "c.md")))
	writeFile(t, root, "d.md", "delta")

	second, err := idx.Index(ctx, root, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"b.md", "d.md"}, paths(second.Documents))
	assert.Equal(t, []string{"a.md"}, second.Unchanged)
	assert.Equal(t, []string{chunker.DocumentID("c.md")}, second.Removed)
	assert.Equal(t, 1, second.Stats.FilesRemoved)
	idx.Commit(second)

	forced, err := idx.Index(ctx, root, Options{Force: true})
	require.NoError(t, err)
	assert.Len(t, forced.Documents, 3)
	assert.Empty(t, forced.Removed)
}

func TestIndex_Seed(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.md", "alpha")

	idx := newTestIndexer(t, Config{})
	first, err := idx.Index(context.Background(), root, Options{})
	require.NoError(t, err)

	restarted := newTestIndexer(t, Config{})
	restarted.Seed(first.Documents)

	again, err := restarted.Index(context.Background(), root, Options{})
	require.NoError(t, err)
	assert.Empty(t, again.Documents)
	assert.Equal(t, []string{"a.md"}, again.Unchanged)
}

func TestIndex_UncommittedResultIsReprocessed(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.md", "alpha")
	writeFile(t, root, "b.md", "beta")

	idx := newTestIndexer(t, Config{})
	ctx := context.Background()

	first, err := idx.Index(ctx, root, Options{})
	require.NoError(t, err)
	require.Len(t, first.Documents, 2)

	// The caller failed to persist the first result
	again, err := idx.Index(ctx, root, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"a.md", "b.md"}, paths(again.Documents))
	assert.Empty(t, again.Unchanged)
	idx.Commit(again)

	require.NoError(t, os.Remove(filepath.Join(root, "b.md")))
	removal, err := idx.Index(ctx, root, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{chunker.DocumentID("b.md")}, removal.Removed)

	// An uncommitted removal is reported again
	removal, err = idx.Index(ctx, root, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{chunker.DocumentID("b.md")}, removal.Removed)
	idx.Commit(removal)

	settled, err := idx.Index(ctx, root, Options{})
	require.NoError(t, err)
	assert.Empty(t, settled.Documents)
	assert.Empty(t, settled.Removed)
	assert.Equal(t, []string{"a.md"}, settled.Unchanged)
}

func TestIndex_FailedEmbeddingBatchIsKeywordOnly(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "good.md", "healthy content")
	writeFile(t, root, "bad.md", "poison content")

	emb := newMockEmbedder()
	emb.failOn = "poison"
	idx := newTestIndexer(t, Config{EmbedBatchSize: 1}, WithEmbedder(emb))

	result, err := idx.Index(context.Background(), root, Options{})
	require.NoError(t, err)
	require.Len(t, result.Documents, 2)

	byPath := map[string]*types.Document{}
	for _, d := range result.Documents {
		byPath[d.Path] = d
	}
	assert.False(t, byPath["bad.md"].Chunks[0].HasEmbedding())
	assert.True(t, byPath["good.md"].Chunks[0].HasEmbedding())
	assert.Equal(t, 1, result.Stats.EmbeddingFailures)
	assert.Equal(t, 1, result.Stats.ChunksEmbedded)
	idx.Commit(result)

	// Incomplete documents are retried on the next run
	emb.failOn = ""
	again, err := idx.Index(context.Background(), root, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"bad.md"}, paths(again.Documents))
	assert.True(t, again.Documents[0].Chunks[0].HasEmbedding())
}

func TestIndex_UnreadableFile(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permission bits are not enforced for root")
	}
	root := t.TempDir()
	writeFile(t, root, "ok.md", "fine")
	writeFile(t, root, "locked.md", "secret")
	require.NoError(t, os.Chmod(filepath.Join(root, "locked.md"), 0o000))
	t.Cleanup(func() { _ = os.Chmod(filepath.Join(root, "locked.md"), 0o644) })

	idx := newTestIndexer(t, Config{})
	result, err := idx.Index(context.Background(), root, Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{"ok.md"}, paths(result.Documents))
	assert.Equal(t, 1, result.Stats.FilesFailed)
	require.Len(t, result.Stats.Errors, 1)

	var indexErr *types.IndexError
	require.True(t, errors.As(result.Stats.Errors[0], &indexErr))
	assert.Equal(t, "locked.md", indexErr.Path)
}

func TestIndex_Cancelled(t *testing.T) {
	root := t.TempDir()
	for i := 0; i < 20; i++ {
		writeFile(t, root, filepath.Join("docs", string(rune('a'+i))+".md"), "content")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	idx := newTestIndexer(t, Config{}, WithEmbedder(newMockEmbedder()))
	_, err := idx.Index(ctx, root, Options{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIndex_SingleFlight(t *testing.T) {
	idx := newTestIndexer(t, Config{})
	require.True(t, idx.lock.TryAcquire())
	defer idx.lock.Release()

	_, err := idx.Index(context.Background(), t.TempDir(), Options{})
	assert.ErrorIs(t, err, ErrIndexingInProgress)
}

func TestIndex_BatchesEmbeddings(t *testing.T) {
	root := t.TempDir()
	for i := 0; i < 5; i++ {
		writeFile(t, root, string(rune('a'+i))+".md", "chunk text")
	}

	emb := newMockEmbedder()
	idx := newTestIndexer(t, Config{EmbedBatchSize: 2, EmbedWorkers: 2}, WithEmbedder(emb))
	result, err := idx.Index(context.Background(), root, Options{})
	require.NoError(t, err)

	assert.Equal(t, 5, result.Stats.ChunksEmbedded)
	assert.Equal(t, 3, emb.callCount())
}

func TestNew_InvalidChunking(t *testing.T) {
	_, err := New(Config{ChunkSize: 100, ChunkOverlap: 100})
	var cfgErr *types.ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestIndexLock(t *testing.T) {
	var l IndexLock
	assert.True(t, l.TryAcquire())
	assert.True(t, l.Running())
	assert.False(t, l.TryAcquire())
	l.Release()
	assert.False(t, l.Running())
	assert.True(t, l.TryAcquire())
}
