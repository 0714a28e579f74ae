package searcher

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dshills/hybridsearch/internal/embedder"
	"github.com/dshills/hybridsearch/internal/guard"
	"github.com/dshills/hybridsearch/internal/indexer"
	"github.com/dshills/hybridsearch/internal/keyword"
	"github.com/dshills/hybridsearch/internal/vectorstore"
	"github.com/dshills/hybridsearch/pkg/types"
)

// SearchMode defines how search is performed
type SearchMode string

const (
	SearchModeHybrid  SearchMode = "hybrid"  // Vector + keyword, weighted fusion
	SearchModeVector  SearchMode = "vector"  // Vector similarity only
	SearchModeKeyword SearchMode = "keyword" // Keyword overlap only
)

// Resource kinds accepted by ListResources
const (
	ResourceDocuments   = "documents"
	ResourceDirectories = "directories"
	ResourceReferences  = "references"
)

// Defaults
const (
	DefaultLimit           = 10
	MaxLimit               = 100
	DefaultCandidateFactor = 5
	DefaultCacheSize       = 1000
	DefaultCacheTTL        = time.Hour
	DefaultReferencesDir   = "references"
	DefaultVectorWeight    = 0.7
	DefaultKeywordWeight   = 0.3

	weightTolerance = 1e-6
)

// Common errors
var (
	ErrNoIndexer       = errors.New("engine has no indexer")
	ErrUnsupportedMode = errors.New("unsupported search mode")
)

// Config contains the engine's scoring and caching settings
type Config struct {
	VectorWeight    float64
	KeywordWeight   float64
	CandidateFactor int    // Candidate pool per source = Limit * CandidateFactor
	ReferencesDir   string // Workspace-relative directory holding fetched references
	CacheSize       int
	CacheTTL        time.Duration
	FetchEnabled    bool // Reported in statistics only
}

// DefaultConfig returns the default engine configuration
func DefaultConfig() Config {
	return Config{
		VectorWeight:    DefaultVectorWeight,
		KeywordWeight:   DefaultKeywordWeight,
		CandidateFactor: DefaultCandidateFactor,
		ReferencesDir:   DefaultReferencesDir,
		CacheSize:       DefaultCacheSize,
		CacheTTL:        DefaultCacheTTL,
	}
}

// Validate checks the weight pair
func (c Config) Validate() error {
	if c.VectorWeight < 0 || c.VectorWeight > 1 {
		return types.NewConfigurationError("weights.vector", "must be in [0, 1], got %g", c.VectorWeight)
	}
	if c.KeywordWeight < 0 || c.KeywordWeight > 1 {
		return types.NewConfigurationError("weights.keyword", "must be in [0, 1], got %g", c.KeywordWeight)
	}
	if math.Abs(c.VectorWeight+c.KeywordWeight-1) > weightTolerance {
		return types.NewConfigurationError("weights", "vector + keyword must equal 1, got %g",
			c.VectorWeight+c.KeywordWeight)
	}
	return nil
}

// SearchRequest contains parameters for a search operation
type SearchRequest struct {
	Query    string
	Limit    int
	Mode     SearchMode
	UseCache bool // Whether to use the response cache
}

// SearchResponse contains search results and metadata
type SearchResponse struct {
	Results        []types.SearchResult
	TotalResults   int
	SearchMode     SearchMode
	Duration       time.Duration
	CacheHit       bool
	Degraded       bool // Query embedding failed; vector scores are 0
	VectorResults  int
	KeywordResults int
}

// Outcome is delivered by HybridSearchAsync
type Outcome struct {
	Results []types.SearchResult
	Err     error
}

// Persister stores index changes before they become visible to searches
type Persister interface {
	SaveDocuments(ctx context.Context, docs []*types.Document) error
	DeleteDocuments(ctx context.Context, ids []string) error
}

// cacheEntry represents a cached search response with expiration time
type cacheEntry struct {
	response  *SearchResponse
	expiresAt time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithEmbedder enables vector scoring. Without one every search is keyword-only.
func WithEmbedder(emb embedder.Embedder) Option {
	return func(e *Engine) {
		e.embedder = emb
	}
}

// WithIndexer enables Reindex
func WithIndexer(idx *indexer.Indexer) Option {
	return func(e *Engine) {
		e.indexer = idx
	}
}

// WithPersister saves every re-index result before it is applied
func WithPersister(p Persister) Option {
	return func(e *Engine) {
		e.persister = p
	}
}

// Engine answers hybrid queries over an in-memory catalog of documents,
// a vector store and a keyword index. Searches share a read lock; Apply
// swaps in index changes under the write lock.
type Engine struct {
	cfg       Config
	guard     *guard.Guard
	embedder  embedder.Embedder
	indexer   *indexer.Indexer
	persister Persister
	logger    *slog.Logger

	mu          sync.RWMutex
	docs        map[string]*types.Document
	chunks      map[string]*types.Chunk
	vectors     *vectorstore.Store
	keywords    *keyword.Index
	lastIndexed time.Time
	generation  atomic.Uint64 // bumped by every Apply

	reindexing indexer.IndexLock

	cache   *lru.Cache[[32]byte, *cacheEntry]
	cacheMu sync.Mutex
}

// New creates an engine bound to the workspace guarded by g
func New(g *guard.Guard, cfg Config, opts ...Option) (*Engine, error) {
	if g == nil {
		return nil, types.NewConfigurationError("workspace_root", "guard is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.CandidateFactor <= 0 {
		cfg.CandidateFactor = DefaultCandidateFactor
	}
	if cfg.ReferencesDir == "" {
		cfg.ReferencesDir = DefaultReferencesDir
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = DefaultCacheSize
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}

	cache, err := lru.New[[32]byte, *cacheEntry](cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create LRU cache: %w", err)
	}

	e := &Engine{
		cfg:      cfg,
		guard:    g,
		logger:   slog.Default().With("component", "searcher"),
		docs:     make(map[string]*types.Document),
		chunks:   make(map[string]*types.Chunk),
		vectors:  vectorstore.New(),
		keywords: keyword.New(),
		cache:    cache,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Apply makes an indexer result visible. Removed documents are dropped and
// new or changed documents replace their previous chunks, all under one write
// lock so searches observe either the old or the new index.
func (e *Engine) Apply(result *indexer.Result) {
	if result == nil {
		return
	}

	e.mu.Lock()
	for _, id := range result.Removed {
		e.removeDocumentLocked(id)
	}
	for _, doc := range result.Documents {
		e.removeDocumentLocked(doc.ID)
		e.addDocumentLocked(doc)
	}
	e.lastIndexed = time.Now()
	e.generation.Add(1)
	e.mu.Unlock()

	e.InvalidateCache()
}

// Load adds previously persisted documents to the catalog
func (e *Engine) Load(docs []*types.Document) {
	e.Apply(&indexer.Result{Documents: docs})
}

func (e *Engine) addDocumentLocked(doc *types.Document) {
	e.docs[doc.ID] = doc
	for _, c := range doc.Chunks {
		e.chunks[c.ID] = c
		e.keywords.Upsert(c.ID, c.Content)
		if c.HasEmbedding() {
			e.vectors.Upsert(c.ID, c.Embedding)
		}
	}
}

func (e *Engine) removeDocumentLocked(id string) {
	doc, ok := e.docs[id]
	if !ok {
		return
	}
	for _, c := range doc.Chunks {
		delete(e.chunks, c.ID)
		e.keywords.Delete(c.ID)
		e.vectors.Delete(c.ID)
	}
	delete(e.docs, id)
}

// Reindex runs the indexer over the workspace root, persists the result when
// a persister is configured, then applies it. The indexer only commits the
// run once it is persisted and applied, so a failed save is retried by the
// next run.
func (e *Engine) Reindex(ctx context.Context, opts indexer.Options) (*indexer.Result, error) {
	if e.indexer == nil {
		return nil, ErrNoIndexer
	}
	if !e.reindexing.TryAcquire() {
		return nil, indexer.ErrIndexingInProgress
	}
	defer e.reindexing.Release()

	result, err := e.indexer.Index(ctx, e.guard.Root(), opts)
	if err != nil {
		return nil, err
	}

	if e.persister != nil {
		if err := e.persister.DeleteDocuments(ctx, result.Removed); err != nil {
			return nil, fmt.Errorf("persist removals: %w", err)
		}
		if err := e.persister.SaveDocuments(ctx, result.Documents); err != nil {
			return nil, fmt.Errorf("persist documents: %w", err)
		}
	}

	e.Apply(result)
	e.indexer.Commit(result)
	return result, nil
}

// HybridSearch returns at most n results fusing vector and keyword scores.
// A non-positive n yields no results.
func (e *Engine) HybridSearch(ctx context.Context, query string, n int) ([]types.SearchResult, error) {
	if n <= 0 {
		if strings.TrimSpace(query) == "" {
			return nil, types.ErrEmptyQuery
		}
		return []types.SearchResult{}, nil
	}
	resp, err := e.Search(ctx, SearchRequest{Query: query, Limit: n, Mode: SearchModeHybrid})
	if err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// HybridSearchAsync runs HybridSearch in its own goroutine. The channel
// receives exactly one Outcome and is then closed.
func (e *Engine) HybridSearchAsync(ctx context.Context, query string, n int) <-chan Outcome {
	out := make(chan Outcome, 1)
	go func() {
		defer close(out)
		results, err := e.HybridSearch(ctx, query, n)
		out <- Outcome{Results: results, Err: err}
	}()
	return out
}

// Search performs a search based on the request parameters
func (e *Engine) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	startTime := time.Now()

	if err := validateRequest(&req); err != nil {
		return nil, err
	}

	if req.UseCache {
		if cached := e.checkCache(req); cached != nil {
			cached.CacheHit = true
			cached.Duration = time.Since(startTime)
			return cached, nil
		}
	}

	response, generation, err := e.search(ctx, req)
	if err != nil {
		return nil, err
	}
	response.Duration = time.Since(startTime)
	response.SearchMode = req.Mode

	// Degraded responses are not cached so a recovered provider is used next time
	if req.UseCache && !response.Degraded && len(response.Results) > 0 {
		e.storeInCache(req, response, generation)
	}

	return response, nil
}

// validateRequest ensures search request is valid
func validateRequest(req *SearchRequest) error {
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		return types.ErrEmptyQuery
	}

	if req.Limit <= 0 {
		req.Limit = DefaultLimit
	}
	if req.Limit > MaxLimit {
		req.Limit = MaxLimit
	}

	switch req.Mode {
	case "":
		req.Mode = SearchModeHybrid
	case SearchModeHybrid, SearchModeVector, SearchModeKeyword:
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedMode, req.Mode)
	}
	return nil
}

// embedQuery returns nil with degraded set when the provider failed in a way
// that allows keyword-only scoring. Cancellation and other errors abort.
func (e *Engine) embedQuery(ctx context.Context, req SearchRequest) (vec []float32, degraded bool, err error) {
	if req.Mode == SearchModeKeyword || e.embedder == nil {
		return nil, false, nil
	}

	vec, err = e.embedder.Embed(ctx, req.Query)
	switch {
	case err == nil:
		return vec, false, nil
	case ctx.Err() != nil:
		return nil, false, ctx.Err()
	case types.IsDegradable(err) && req.Mode == SearchModeHybrid:
		e.logger.Warn("query embedding failed, using keyword scores only", "err", err)
		return nil, true, nil
	default:
		return nil, false, fmt.Errorf("failed to generate query embedding: %w", err)
	}
}

// candidate is one chunk's fused score
type candidate struct {
	chunk    *types.Chunk
	vector   float64
	keyword  float64
	combined float64
	method   types.RetrievalMethod
}

// search scores req against the current index and reports the index
// generation it read
func (e *Engine) search(ctx context.Context, req SearchRequest) (*SearchResponse, uint64, error) {
	queryVec, degraded, err := e.embedQuery(ctx, req)
	if err != nil {
		return nil, 0, err
	}

	pool := req.Limit * e.cfg.CandidateFactor

	e.mu.RLock()
	defer e.mu.RUnlock()
	generation := e.generation.Load()

	var vectorMatches []vectorstore.Match
	if queryVec != nil {
		vectorMatches = e.vectors.Nearest(queryVec, pool)
	}
	var keywordMatches []keyword.Match
	if req.Mode != SearchModeVector {
		keywordMatches = e.keywords.Search(req.Query, pool)
	}

	vectorScores := make(map[string]float64, len(vectorMatches))
	for _, m := range vectorMatches {
		vectorScores[m.ChunkID] = m.Score
	}
	keywordScores := make(map[string]float64, len(keywordMatches))
	for _, m := range keywordMatches {
		keywordScores[m.ChunkID] = m.Score
	}
	normalize(vectorScores)
	normalize(keywordScores)

	// Collapse to the best chunk per document
	best := make(map[string]candidate)
	consider := func(chunkID string) {
		chunk, ok := e.chunks[chunkID]
		if !ok {
			return
		}
		c := e.score(chunk, vectorScores, keywordScores)
		prev, seen := best[chunk.DocumentID]
		if !seen || c.combined > prev.combined ||
			(c.combined == prev.combined && chunk.ID < prev.chunk.ID) {
			best[chunk.DocumentID] = c
		}
	}
	for id := range vectorScores {
		consider(id)
	}
	for id := range keywordScores {
		consider(id)
	}

	ranked := make([]candidate, 0, len(best))
	for _, c := range best {
		ranked = append(ranked, c)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].combined != ranked[j].combined {
			return ranked[i].combined > ranked[j].combined
		}
		return ranked[i].chunk.DocumentID < ranked[j].chunk.DocumentID
	})

	results := make([]types.SearchResult, 0, min(req.Limit, len(ranked)))
	for _, c := range ranked {
		if len(results) == req.Limit {
			break
		}
		doc := e.docs[c.chunk.DocumentID]
		if !e.guard.AllowDocument(doc) {
			continue
		}
		results = append(results, types.SearchResult{
			Document:      doc,
			ChunkID:       c.chunk.ID,
			Rank:          len(results) + 1,
			VectorScore:   c.vector,
			KeywordScore:  c.keyword,
			CombinedScore: c.combined,
			Method:        c.method,
			Content:       c.chunk.Content,
			StartLine:     c.chunk.StartLine,
			EndLine:       c.chunk.EndLine,
		})
	}

	return &SearchResponse{
		Results:        results,
		TotalResults:   len(results),
		Degraded:       degraded,
		VectorResults:  len(vectorMatches),
		KeywordResults: len(keywordMatches),
	}, generation, nil
}

func (e *Engine) score(chunk *types.Chunk, vectorScores, keywordScores map[string]float64) candidate {
	v := vectorScores[chunk.ID]
	k := keywordScores[chunk.ID]
	c := candidate{
		chunk:    chunk,
		vector:   v,
		keyword:  k,
		combined: e.cfg.VectorWeight*v + e.cfg.KeywordWeight*k,
	}

	_, fromKeyword := keywordScores[chunk.ID]
	switch {
	case v > 0 && k > 0:
		c.method = types.MethodHybrid
	case v > 0:
		c.method = types.MethodVector
	case k > 0 || fromKeyword:
		c.method = types.MethodKeyword
	default:
		c.method = types.MethodVector
	}
	return c
}

// normalize rescales scores to [0, 1] by min-max. When every score is the
// same there is no spread to rescale, so raw scores are kept.
func normalize(scores map[string]float64) {
	if len(scores) == 0 {
		return
	}
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, s := range scores {
		lo = min(lo, s)
		hi = max(hi, s)
	}
	if hi == lo {
		return
	}
	for id, s := range scores {
		scores[id] = (s - lo) / (hi - lo)
	}
}

// ListResources returns sorted workspace-relative identifiers of the given kind
func (e *Engine) ListResources(kind string) ([]string, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var out []string
	switch kind {
	case ResourceDocuments:
		for _, doc := range e.docs {
			if e.guard.AllowDocument(doc) {
				out = append(out, doc.Path)
			}
		}
	case ResourceDirectories:
		seen := make(map[string]bool)
		for _, doc := range e.docs {
			if !e.guard.AllowDocument(doc) {
				continue
			}
			for dir := path.Dir(doc.Path); dir != "." && !seen[dir]; dir = path.Dir(dir) {
				seen[dir] = true
				out = append(out, dir)
			}
		}
	case ResourceReferences:
		prefix := strings.Trim(e.cfg.ReferencesDir, "/") + "/"
		for _, doc := range e.docs {
			if strings.HasPrefix(doc.Path, prefix) && e.guard.AllowDocument(doc) {
				out = append(out, doc.Path)
			}
		}
	default:
		return nil, fmt.Errorf("%w: %q", types.ErrUnknownResourceKind, kind)
	}

	sort.Strings(out)
	if out == nil {
		out = []string{}
	}
	return out, nil
}

// QueryRelevantDocuments returns the documents matching query in rank order.
// When resources is non-empty only documents equal to or beneath one of the
// given workspace-relative paths are considered.
func (e *Engine) QueryRelevantDocuments(ctx context.Context, query string, resources []string) ([]*types.Document, error) {
	limit := DefaultLimit
	if len(resources) > 0 {
		// Widen the pool so filtering still leaves enough documents
		limit = MaxLimit
	}

	results, err := e.HybridSearch(ctx, query, limit)
	if err != nil {
		return nil, err
	}

	docs := make([]*types.Document, 0, min(len(results), DefaultLimit))
	for _, r := range results {
		if len(docs) == DefaultLimit {
			break
		}
		if len(resources) > 0 && !inResources(r.Document.Path, resources) {
			continue
		}
		docs = append(docs, r.Document)
	}
	return docs, nil
}

func inResources(docPath string, resources []string) bool {
	for _, res := range resources {
		res = strings.Trim(path.Clean("/"+strings.TrimSpace(res)), "/")
		if res == "" || docPath == res || strings.HasPrefix(docPath, res+"/") {
			return true
		}
	}
	return false
}

// GetStatistics returns a snapshot of the index
func (e *Engine) GetStatistics() types.IndexStats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return types.IndexStats{
		TotalFiles:        len(e.docs),
		TotalChunks:       len(e.chunks),
		VectorStoreCount:  e.vectors.Len(),
		KeywordIndexCount: e.keywords.Len(),
		VectorEnabled:     e.embedder != nil,
		KeywordEnabled:    true,
		FetchEnabled:      e.cfg.FetchEnabled,
		VectorWeight:      e.cfg.VectorWeight,
		KeywordWeight:     e.cfg.KeywordWeight,
		LastIndexedAt:     e.lastIndexed,
	}
}

// Document returns a catalog document by ID
func (e *Engine) Document(id string) (*types.Document, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	doc, ok := e.docs[id]
	return doc, ok
}

// checkCache looks up cached search results
func (e *Engine) checkCache(req SearchRequest) *SearchResponse {
	hash := computeQueryHash(req)

	e.cacheMu.Lock()
	defer e.cacheMu.Unlock()

	entry, found := e.cache.Get(hash)
	if !found {
		return nil
	}
	if time.Now().After(entry.expiresAt) {
		e.cache.Remove(hash)
		return nil
	}
	return copySearchResponse(entry.response)
}

// storeInCache saves search results to cache unless the index has been
// replaced since they were computed
func (e *Engine) storeInCache(req SearchRequest, response *SearchResponse, generation uint64) {
	entry := &cacheEntry{
		response:  copySearchResponse(response),
		expiresAt: time.Now().Add(e.cfg.CacheTTL),
	}

	e.cacheMu.Lock()
	defer e.cacheMu.Unlock()
	if e.generation.Load() != generation {
		return
	}
	e.cache.Add(computeQueryHash(req), entry)
}

// InvalidateCache drops every cached response
func (e *Engine) InvalidateCache() {
	e.cacheMu.Lock()
	e.cache.Purge()
	e.cacheMu.Unlock()
}

// copySearchResponse copies the response and its result slice. Documents are
// shared; the catalog never mutates a document once applied.
func copySearchResponse(src *SearchResponse) *SearchResponse {
	dst := *src
	dst.Results = make([]types.SearchResult, len(src.Results))
	copy(dst.Results, src.Results)
	return &dst
}

// computeQueryHash computes a unique hash for a search request
func computeQueryHash(req SearchRequest) [32]byte {
	var data strings.Builder
	data.WriteString(req.Query)
	data.WriteString("|")
	data.WriteString(string(req.Mode))
	data.WriteString("|")
	data.WriteString(strconv.Itoa(req.Limit))
	return sha256.Sum256([]byte(data.String()))
}
