package searcher

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/hybridsearch/internal/chunker"
	"github.com/dshills/hybridsearch/internal/guard"
	"github.com/dshills/hybridsearch/internal/indexer"
	"github.com/dshills/hybridsearch/pkg/types"
)

// mockEmbedder implements embedder.Embedder for testing
type mockEmbedder struct {
	mu      sync.Mutex
	vectors map[string][]float32 // query -> vector
	err     error
	calls   int
}

func (m *mockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++

	if m.err != nil {
		return nil, m.err
	}
	if v, ok := m.vectors[text]; ok {
		return v, nil
	}
	return []float32{1, 1}, nil
}

func (m *mockEmbedder) GetEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v, err := m.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (m *mockEmbedder) Dimension() int   { return 2 }
func (m *mockEmbedder) Provider() string { return "mock" }
func (m *mockEmbedder) Model() string    { return "mock-model" }
func (m *mockEmbedder) Close() error     { return nil }

func (m *mockEmbedder) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// mockPersister records what Reindex persists
type mockPersister struct {
	saved   []string
	deleted []string
}

func (p *mockPersister) SaveDocuments(ctx context.Context, docs []*types.Document) error {
	for _, d := range docs {
		p.saved = append(p.saved, d.Path)
	}
	return nil
}

func (p *mockPersister) DeleteDocuments(ctx context.Context, ids []string) error {
	p.deleted = append(p.deleted, ids...)
	return nil
}

// failingPersister fails the first failures calls to SaveDocuments
type failingPersister struct {
	mockPersister
	failures int
}

func (p *failingPersister) SaveDocuments(ctx context.Context, docs []*types.Document) error {
	if p.failures > 0 {
		p.failures--
		return errors.New("disk full")
	}
	return p.mockPersister.SaveDocuments(ctx, docs)
}

// setupTestEngine creates an engine over a fresh workspace
func setupTestEngine(t *testing.T, opts ...Option) (*Engine, *guard.Guard) {
	t.Helper()

	g, err := guard.New(t.TempDir())
	require.NoError(t, err)

	engine, err := New(g, DefaultConfig(), opts...)
	require.NoError(t, err)
	return engine, g
}

// newDocument writes rel under the workspace and returns a single-chunk document for it
func newDocument(t *testing.T, g *guard.Guard, rel, content string, embedding []float32) *types.Document {
	t.Helper()

	abs := filepath.Join(g.Root(), filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))

	id := chunker.DocumentID(rel)
	return &types.Document{
		ID:      id,
		Title:   rel,
		Path:    rel,
		AbsPath: abs,
		Chunks: []*types.Chunk{{
			ID:         chunker.ChunkID(id, 0),
			DocumentID: id,
			Content:    content,
			StartLine:  1,
			EndLine:    1,
			Embedding:  embedding,
		}},
	}
}

func TestValidateRequest(t *testing.T) {
	tests := []struct {
		name        string
		req         SearchRequest
		expectError error
		wantLimit   int
		wantMode    SearchMode
	}{
		{name: "EmptyQuery", req: SearchRequest{Query: ""}, expectError: types.ErrEmptyQuery},
		{name: "WhitespaceQuery", req: SearchRequest{Query: "  \t"}, expectError: types.ErrEmptyQuery},
		{name: "ValidBasicRequest", req: SearchRequest{Query: "q", Limit: 5, Mode: SearchModeKeyword}, wantLimit: 5, wantMode: SearchModeKeyword},
		{name: "ZeroLimit_DefaultsTo10", req: SearchRequest{Query: "q"}, wantLimit: 10, wantMode: SearchModeHybrid},
		{name: "NegativeLimit_DefaultsTo10", req: SearchRequest{Query: "q", Limit: -5}, wantLimit: 10, wantMode: SearchModeHybrid},
		{name: "ExcessiveLimit_CapsAt100", req: SearchRequest{Query: "q", Limit: 500}, wantLimit: 100, wantMode: SearchModeHybrid},
		{name: "UnsupportedMode", req: SearchRequest{Query: "q", Mode: "fuzzy"}, expectError: ErrUnsupportedMode},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := tt.req
			err := validateRequest(&req)
			if tt.expectError != nil {
				if !errors.Is(err, tt.expectError) {
					t.Fatalf("expected %v, got %v", tt.expectError, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if req.Limit != tt.wantLimit {
				t.Errorf("expected limit %d, got %d", tt.wantLimit, req.Limit)
			}
			if req.Mode != tt.wantMode {
				t.Errorf("expected mode %s, got %s", tt.wantMode, req.Mode)
			}
		})
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		vector  float64
		keyword float64
		wantErr bool
	}{
		{name: "default", vector: 0.7, keyword: 0.3},
		{name: "keyword only", vector: 0, keyword: 1},
		{name: "sum above one", vector: 0.7, keyword: 0.7, wantErr: true},
		{name: "negative", vector: -0.2, keyword: 1.2, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.VectorWeight = tt.vector
			cfg.KeywordWeight = tt.keyword
			err := cfg.Validate()
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			var cfgErr *types.ConfigurationError
			assert.ErrorAs(t, err, &cfgErr)
		})
	}
}

func TestNew_RequiresGuard(t *testing.T) {
	_, err := New(nil, DefaultConfig())
	var cfgErr *types.ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestHybridSearch_SemanticOutranksLexical(t *testing.T) {
	query := "alpha beta gamma"
	emb := &mockEmbedder{vectors: map[string][]float32{query: {1, 0}}}
	engine, g := setupTestEngine(t, WithEmbedder(emb))

	lexical := newDocument(t, g, "a.md", "alpha beta gamma", []float32{0, 1})
	semantic := newDocument(t, g, "b.md", "delta epsilon", []float32{1, 0})
	engine.Apply(&indexer.Result{Documents: []*types.Document{lexical, semantic}})

	results, err := engine.HybridSearch(context.Background(), query, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "b.md", results[0].Document.Path)
	assert.Equal(t, types.MethodVector, results[0].Method)
	assert.InDelta(t, 0.7, results[0].CombinedScore, 1e-9)
	assert.Equal(t, 1, results[0].Rank)

	assert.Equal(t, "a.md", results[1].Document.Path)
	assert.Equal(t, types.MethodKeyword, results[1].Method)
	assert.InDelta(t, 0.3, results[1].CombinedScore, 1e-9)
	assert.Equal(t, 2, results[1].Rank)
}

func TestHybridSearch_CombinedScoreIsWeightedSum(t *testing.T) {
	emb := &mockEmbedder{vectors: map[string][]float32{"cache retry": {0.6, 0.8}}}
	engine, g := setupTestEngine(t, WithEmbedder(emb))

	docs := []*types.Document{
		newDocument(t, g, "retry.md", "retry with backoff and retry budget", []float32{0.9, 0.1}),
		newDocument(t, g, "cache.md", "cache entries expire after ttl", []float32{0.5, 0.5}),
		newDocument(t, g, "both.md", "cache retry cache", []float32{0.6, 0.8}),
		newDocument(t, g, "other.md", "unrelated text", []float32{-1, 0}),
		newDocument(t, g, "plain.md", "keyword only chunk about cache", nil),
	}
	engine.Apply(&indexer.Result{Documents: docs})

	for _, n := range []int{-1, 0, 1, 2, 3, 10} {
		results, err := engine.HybridSearch(context.Background(), "cache retry", n)
		require.NoError(t, err)
		assert.LessOrEqual(t, len(results), max(n, 0))

		for i, r := range results {
			require.NoError(t, r.Validate())
			assert.Equal(t, i+1, r.Rank)
			assert.InDelta(t, 0.7*r.VectorScore+0.3*r.KeywordScore, r.CombinedScore, 1e-9)
			if i > 0 {
				assert.GreaterOrEqual(t, results[i-1].CombinedScore, r.CombinedScore)
			}
			switch r.Method {
			case types.MethodHybrid:
				assert.Positive(t, r.VectorScore)
				assert.Positive(t, r.KeywordScore)
			case types.MethodVector:
				assert.Zero(t, r.KeywordScore)
			case types.MethodKeyword:
				assert.Zero(t, r.VectorScore)
			}
		}
	}

	results, err := engine.HybridSearch(context.Background(), "cache retry", 10)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "both.md", results[0].Document.Path)
	assert.Equal(t, types.MethodHybrid, results[0].Method)
}

func TestHybridSearch_OneResultPerDocument(t *testing.T) {
	engine, g := setupTestEngine(t)

	doc := newDocument(t, g, "long.md", "token one", nil)
	second := &types.Chunk{
		ID:         chunker.ChunkID(doc.ID, 100),
		DocumentID: doc.ID,
		Content:    "token token two",
		StartLine:  5,
		EndLine:    6,
	}
	doc.Chunks = append(doc.Chunks, second)
	engine.Apply(&indexer.Result{Documents: []*types.Document{doc}})

	results, err := engine.HybridSearch(context.Background(), "token two", 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, second.ID, results[0].ChunkID)
	assert.Equal(t, 5, results[0].StartLine)
}

func TestHybridSearch_Degradation(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{name: "embedding error", err: &types.EmbeddingError{Reason: "partial batch"}},
		{name: "network error", err: &types.NetworkError{Kind: types.NetworkTimeout, URL: "http://embed", Attempts: 3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			emb := &mockEmbedder{err: tt.err}
			engine, g := setupTestEngine(t, WithEmbedder(emb))
			engine.Apply(&indexer.Result{Documents: []*types.Document{
				newDocument(t, g, "a.md", "fallback keyword match", []float32{1, 0}),
			}})

			resp, err := engine.Search(context.Background(), SearchRequest{Query: "keyword match", Limit: 5})
			require.NoError(t, err)
			assert.True(t, resp.Degraded)
			require.Len(t, resp.Results, 1)
			assert.Zero(t, resp.Results[0].VectorScore)
			assert.Equal(t, types.MethodKeyword, resp.Results[0].Method)

			_, err = engine.Search(context.Background(), SearchRequest{Query: "keyword", Mode: SearchModeVector})
			assert.Error(t, err, "vector mode has nothing to fall back to")
		})
	}
}

func TestHybridSearch_Errors(t *testing.T) {
	t.Run("cancellation aborts", func(t *testing.T) {
		emb := &mockEmbedder{err: context.Canceled}
		engine, _ := setupTestEngine(t, WithEmbedder(emb))

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := engine.HybridSearch(ctx, "anything", 5)
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("other embedder errors abort", func(t *testing.T) {
		sentinel := errors.New("input rejected")
		emb := &mockEmbedder{err: sentinel}
		engine, _ := setupTestEngine(t, WithEmbedder(emb))

		_, err := engine.HybridSearch(context.Background(), "anything", 5)
		assert.ErrorIs(t, err, sentinel)
	})

	t.Run("empty query", func(t *testing.T) {
		engine, _ := setupTestEngine(t)
		_, err := engine.HybridSearch(context.Background(), "   ", 5)
		assert.ErrorIs(t, err, types.ErrEmptyQuery)
	})
}

func TestSearchModeKeyword_SkipsEmbedding(t *testing.T) {
	emb := &mockEmbedder{}
	engine, g := setupTestEngine(t, WithEmbedder(emb))
	engine.Apply(&indexer.Result{Documents: []*types.Document{
		newDocument(t, g, "a.md", "exact keyword", []float32{1, 0}),
	}})

	resp, err := engine.Search(context.Background(), SearchRequest{Query: "keyword", Mode: SearchModeKeyword})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, SearchModeKeyword, resp.SearchMode)
	assert.Equal(t, 0, resp.VectorResults)
	assert.Equal(t, 1, resp.KeywordResults)
	assert.Equal(t, 0, emb.callCount())
}

func TestSearchModeVector(t *testing.T) {
	emb := &mockEmbedder{vectors: map[string][]float32{"q": {1, 0}}}
	engine, g := setupTestEngine(t, WithEmbedder(emb))
	engine.Apply(&indexer.Result{Documents: []*types.Document{
		newDocument(t, g, "near.md", "q q q", []float32{1, 0.1}),
		newDocument(t, g, "far.md", "q", []float32{-1, 0}),
		newDocument(t, g, "text.md", "q only text", nil),
	}})

	resp, err := engine.Search(context.Background(), SearchRequest{Query: "q", Mode: SearchModeVector})
	require.NoError(t, err)
	assert.Equal(t, 0, resp.KeywordResults)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, "near.md", resp.Results[0].Document.Path)
	for _, r := range resp.Results {
		assert.Zero(t, r.KeywordScore)
		assert.Equal(t, types.MethodVector, r.Method)
	}
}

func TestHybridSearch_GuardDropsEscapingDocuments(t *testing.T) {
	engine, g := setupTestEngine(t)

	outside := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(outside, "secret.md"), []byte("secret token"), 0o644))
	if err := os.Symlink(outside, filepath.Join(g.Root(), "escape")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	inside := newDocument(t, g, "docs/public.md", "public token", nil)
	escaping := &types.Document{
		ID:      chunker.DocumentID("escape/secret.md"),
		Path:    "escape/secret.md",
		AbsPath: filepath.Join(g.Root(), "escape", "secret.md"),
	}
	escaping.Chunks = []*types.Chunk{{
		ID:         chunker.ChunkID(escaping.ID, 0),
		DocumentID: escaping.ID,
		Content:    "secret token token",
		StartLine:  1,
		EndLine:    1,
	}}
	engine.Apply(&indexer.Result{Documents: []*types.Document{inside, escaping}})

	results, err := engine.HybridSearch(context.Background(), "token", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "docs/public.md", results[0].Document.Path)
	assert.Equal(t, 1, results[0].Rank)

	docs, err := engine.ListResources(ResourceDocuments)
	require.NoError(t, err)
	assert.Equal(t, []string{"docs/public.md"}, docs)
}

func TestApply_ReplacesAndRemoves(t *testing.T) {
	engine, g := setupTestEngine(t)

	doc := newDocument(t, g, "a.md", "original wording", nil)
	engine.Apply(&indexer.Result{Documents: []*types.Document{doc}})

	results, err := engine.HybridSearch(context.Background(), "original", 5)
	require.NoError(t, err)
	require.Len(t, results, 1)

	changed := newDocument(t, g, "a.md", "updated wording", nil)
	engine.Apply(&indexer.Result{Documents: []*types.Document{changed}})

	results, err = engine.HybridSearch(context.Background(), "original", 5)
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Equal(t, 1, engine.GetStatistics().TotalChunks)

	engine.Apply(&indexer.Result{Removed: []string{doc.ID}})
	stats := engine.GetStatistics()
	assert.Zero(t, stats.TotalFiles)
	assert.Zero(t, stats.KeywordIndexCount)
}

func TestListResources(t *testing.T) {
	engine, g := setupTestEngine(t)
	engine.Load([]*types.Document{
		newDocument(t, g, "README.md", "readme", nil),
		newDocument(t, g, "docs/guide.md", "guide", nil),
		newDocument(t, g, "docs/api/ref.md", "reference", nil),
		newDocument(t, g, "references/page.md", "fetched page", nil),
	})

	tests := []struct {
		kind string
		want []string
	}{
		{kind: ResourceDocuments, want: []string{"README.md", "docs/api/ref.md", "docs/guide.md", "references/page.md"}},
		{kind: ResourceDirectories, want: []string{"docs", "docs/api", "references"}},
		{kind: ResourceReferences, want: []string{"references/page.md"}},
	}
	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			got, err := engine.ListResources(tt.kind)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := engine.ListResources("symbols")
	assert.ErrorIs(t, err, types.ErrUnknownResourceKind)
}

func TestListResources_EmptyIndex(t *testing.T) {
	engine, _ := setupTestEngine(t)
	got, err := engine.ListResources(ResourceReferences)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestQueryRelevantDocuments(t *testing.T) {
	engine, g := setupTestEngine(t)
	engine.Load([]*types.Document{
		newDocument(t, g, "docs/retry.md", "retry policy", nil),
		newDocument(t, g, "references/retry.md", "retry reference", nil),
		newDocument(t, g, "notes.md", "unrelated", nil),
	})

	docs, err := engine.QueryRelevantDocuments(context.Background(), "retry", nil)
	require.NoError(t, err)
	assert.Len(t, docs, 2)

	docs, err = engine.QueryRelevantDocuments(context.Background(), "retry", []string{"references"})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "references/retry.md", docs[0].Path)

	docs, err = engine.QueryRelevantDocuments(context.Background(), "retry", []string{"docs/retry.md"})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "docs/retry.md", docs[0].Path)
}

func TestGetStatistics(t *testing.T) {
	emb := &mockEmbedder{}
	engine, g := setupTestEngine(t, WithEmbedder(emb))

	stats := engine.GetStatistics()
	assert.True(t, stats.VectorEnabled)
	assert.True(t, stats.KeywordEnabled)
	assert.True(t, stats.LastIndexedAt.IsZero())
	assert.InDelta(t, 0.7, stats.VectorWeight, 1e-9)
	assert.InDelta(t, 0.3, stats.KeywordWeight, 1e-9)

	engine.Apply(&indexer.Result{Documents: []*types.Document{
		newDocument(t, g, "a.md", "embedded", []float32{1, 0}),
		newDocument(t, g, "b.md", "keyword only", nil),
	}})

	stats = engine.GetStatistics()
	assert.Equal(t, 2, stats.TotalFiles)
	assert.Equal(t, 2, stats.TotalChunks)
	assert.Equal(t, 1, stats.VectorStoreCount)
	assert.Equal(t, 2, stats.KeywordIndexCount)
	assert.False(t, stats.LastIndexedAt.IsZero())

	keywordOnly, _ := setupTestEngine(t)
	assert.False(t, keywordOnly.GetStatistics().VectorEnabled)
}

func TestSearchWithCache(t *testing.T) {
	emb := &mockEmbedder{}
	engine, g := setupTestEngine(t, WithEmbedder(emb))
	engine.Apply(&indexer.Result{Documents: []*types.Document{
		newDocument(t, g, "a.md", "cached content", []float32{1, 1}),
	}})

	req := SearchRequest{Query: "cached", Limit: 5, UseCache: true}
	first, err := engine.Search(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, first.CacheHit)

	second, err := engine.Search(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, second.CacheHit)
	assert.Equal(t, first.Results, second.Results)
	assert.Equal(t, 1, emb.callCount())

	// Mutating a returned response must not affect the cache
	second.Results[0].Rank = 99
	third, err := engine.Search(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 1, third.Results[0].Rank)

	// Any apply invalidates
	engine.Apply(&indexer.Result{})
	fourth, err := engine.Search(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, fourth.CacheHit)
}

func TestComputeQueryHash(t *testing.T) {
	base := SearchRequest{Query: "q", Limit: 10, Mode: SearchModeHybrid}
	assert.Equal(t, computeQueryHash(base), computeQueryHash(base))

	other := base
	other.Mode = SearchModeKeyword
	assert.NotEqual(t, computeQueryHash(base), computeQueryHash(other))

	other = base
	other.Limit = 5
	assert.NotEqual(t, computeQueryHash(base), computeQueryHash(other))
}

func TestHybridSearchAsync(t *testing.T) {
	engine, g := setupTestEngine(t)
	engine.Apply(&indexer.Result{Documents: []*types.Document{
		newDocument(t, g, "a.md", "async result", nil),
	}})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome, ok := <-engine.HybridSearchAsync(context.Background(), "async", 3)
			assert.True(t, ok)
			assert.NoError(t, outcome.Err)
			assert.Len(t, outcome.Results, 1)
		}()
	}
	wg.Wait()

	ch := engine.HybridSearchAsync(context.Background(), "", 3)
	outcome := <-ch
	assert.ErrorIs(t, outcome.Err, types.ErrEmptyQuery)
	_, open := <-ch
	assert.False(t, open)
}

func TestReindex(t *testing.T) {
	engine, _ := setupTestEngine(t)
	_, err := engine.Reindex(context.Background(), indexer.Options{})
	assert.ErrorIs(t, err, ErrNoIndexer)

	idx, err := indexer.New(indexer.Config{})
	require.NoError(t, err)
	t.Cleanup(idx.Close)

	persister := &mockPersister{}
	engine, g := setupTestEngine(t, WithIndexer(idx), WithPersister(persister))
	notes := filepath.Join(g.Root(), "notes.md")
	require.NoError(t, os.WriteFile(notes, []byte("hybrid retrieval notes"), 0o644))

	result, err := engine.Reindex(context.Background(), indexer.Options{})
	require.NoError(t, err)
	require.Len(t, result.Documents, 1)
	assert.Equal(t, []string{"notes.md"}, persister.saved)

	results, err := engine.HybridSearch(context.Background(), "retrieval", 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, types.MethodKeyword, results[0].Method)

	require.NoError(t, os.Remove(notes))
	result, err = engine.Reindex(context.Background(), indexer.Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{chunker.DocumentID("notes.md")}, persister.deleted)
	assert.Len(t, result.Removed, 1)

	results, err = engine.HybridSearch(context.Background(), "retrieval", 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestReindex_FailedSaveIsRetried(t *testing.T) {
	idx, err := indexer.New(indexer.Config{})
	require.NoError(t, err)
	t.Cleanup(idx.Close)

	persister := &failingPersister{failures: 1}
	engine, g := setupTestEngine(t, WithIndexer(idx), WithPersister(persister))
	require.NoError(t, os.WriteFile(filepath.Join(g.Root(), "notes.md"), []byte("hybrid retrieval notes"), 0o644))

	_, err = engine.Reindex(context.Background(), indexer.Options{})
	require.Error(t, err)

	results, err := engine.HybridSearch(context.Background(), "retrieval", 5)
	require.NoError(t, err)
	assert.Empty(t, results)

	result, err := engine.Reindex(context.Background(), indexer.Options{})
	require.NoError(t, err)
	assert.Len(t, result.Documents, 1)
	assert.Empty(t, result.Unchanged)
	assert.Equal(t, []string{"notes.md"}, persister.saved)

	results, err = engine.HybridSearch(context.Background(), "retrieval", 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "notes.md", results[0].Document.Path)
}

func TestReindex_SingleFlight(t *testing.T) {
	idx, err := indexer.New(indexer.Config{})
	require.NoError(t, err)
	t.Cleanup(idx.Close)

	engine, _ := setupTestEngine(t, WithIndexer(idx))
	require.True(t, engine.reindexing.TryAcquire())
	defer engine.reindexing.Release()

	_, err = engine.Reindex(context.Background(), indexer.Options{})
	assert.ErrorIs(t, err, indexer.ErrIndexingInProgress)
}

func TestSearch_ResultsComputedBeforeApplyAreNotCached(t *testing.T) {
	engine, g := setupTestEngine(t)
	engine.Apply(&indexer.Result{Documents: []*types.Document{
		newDocument(t, g, "old.md", "release notes", nil),
	}})

	req := SearchRequest{Query: "release", Limit: 5, Mode: SearchModeKeyword, UseCache: true}
	stale, generation, err := engine.search(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, stale.Results, 1)

	// A re-index lands between scoring and caching
	engine.Apply(&indexer.Result{
		Removed:   []string{chunker.DocumentID("old.md")},
		Documents: []*types.Document{newDocument(t, g, "new.md", "release schedule", nil)},
	})
	engine.storeInCache(req, stale, generation)

	resp, err := engine.Search(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, resp.CacheHit)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "new.md", resp.Results[0].Document.Path)
}

func TestNormalize(t *testing.T) {
	scores := map[string]float64{"a": 0.2, "b": 0.6, "c": 1.0}
	normalize(scores)
	assert.InDelta(t, 0, scores["a"], 1e-9)
	assert.InDelta(t, 0.5, scores["b"], 1e-9)
	assert.InDelta(t, 1, scores["c"], 1e-9)

	flat := map[string]float64{"a": 0.4, "b": 0.4}
	normalize(flat)
	assert.Equal(t, 0.4, flat["a"], "equal scores keep their raw value")

	for _, s := range scores {
		assert.False(t, math.IsNaN(s))
	}
}
