package indexer

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/hybridsearch/internal/chunker"
	"github.com/dshills/hybridsearch/internal/embedder"
	"github.com/dshills/hybridsearch/pkg/types"
)

// Defaults
const (
	DefaultMaxFileSize    = 1 << 20
	DefaultEmbedBatchSize = embedder.DefaultBatchSize

	// sniffLen is how much of a file is checked for NUL bytes
	sniffLen = 8000
)

// Common errors
var (
	ErrIndexingInProgress = errors.New("indexing already in progress")
)

// DefaultExtensions is the allow-list of indexable file types
var DefaultExtensions = []string{
	".md", ".markdown", ".mdx", ".txt", ".rst", ".adoc",
	".go", ".py", ".js", ".jsx", ".ts", ".tsx", ".java", ".kt", ".rb", ".rs",
	".c", ".h", ".cc", ".cpp", ".hpp", ".cs", ".swift", ".php", ".scala",
	".sh", ".bash", ".sql", ".proto", ".graphql",
	".yaml", ".yml", ".toml", ".json", ".ini", ".cfg",
	".html", ".htm", ".css", ".xml",
}

// DefaultFileNames are extension-less files that are always indexed
var DefaultFileNames = []string{"README", "LICENSE", "Makefile", "Dockerfile", "CHANGELOG"}

// skipDirs are dependency and build directories never descended into
var skipDirs = map[string]bool{
	"vendor":           true,
	"node_modules":     true,
	"bower_components": true,
	"__pycache__":      true,
	"site-packages":    true,
	"venv":             true,
	"third_party":      true,
	"target":           true,
	"dist":             true,
}

// Config contains configuration for the indexer
type Config struct {
	Workers        int // Concurrent file readers (default: runtime.NumCPU())
	EmbedWorkers   int // Concurrent embedding batches (default: runtime.NumCPU() / 2)
	EmbedBatchSize int // Chunks per embedding request (default: 50)
	ChunkSize      int
	ChunkOverlap   int
	MaxFileSize    int64
	Extensions     []string
	FileNames      []string
}

// Options control a single run
type Options struct {
	Force bool // Re-index files whose content hash is unchanged
}

// Statistics contains statistics about the indexing operation
type Statistics struct {
	FilesIndexed      int
	FilesUnchanged    int
	FilesSkipped      int // Filtered by size or binary content
	FilesFailed       int
	FilesRemoved      int
	ChunksCreated     int
	ChunksEmbedded    int
	EmbeddingFailures int // Chunks left keyword-only
	Duration          time.Duration
	Errors            []*types.IndexError
	ErrorMessages     []string
}

// Result is the outcome of one run. Documents holds new and changed files
// with their chunks; unchanged files are listed by path and removed files by document ID.
type Result struct {
	Documents []*types.Document
	Unchanged []string
	Removed   []string
	Stats     *Statistics

	removedPaths []string
}

// fileState is what the indexer remembers about a file between runs
type fileState struct {
	id       string
	hash     [32]byte
	complete bool // every chunk carries an embedding
}

// Option configures an Indexer.
type Option func(*Indexer)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(idx *Indexer) {
		if logger != nil {
			idx.logger = logger
		}
	}
}

// WithEmbedder enables chunk embeddings. Without one every chunk is keyword-only.
func WithEmbedder(emb embedder.Embedder) Option {
	return func(idx *Indexer) {
		idx.embedder = emb
	}
}

// Indexer coordinates the indexing pipeline: walk -> hash -> chunk -> embed
type Indexer struct {
	cfg      Config
	chunker  *chunker.Chunker
	embedder embedder.Embedder
	pool     *ants.Pool
	logger   *slog.Logger

	extensions map[string]bool
	fileNames  map[string]bool

	lock  IndexLock
	mu    sync.Mutex
	files map[string]fileState // keyed by relative slash path
}

// New creates a new Indexer instance
func New(cfg Config, opts ...Option) (*Indexer, error) {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.EmbedWorkers <= 0 {
		cfg.EmbedWorkers = max(runtime.NumCPU()/2, 1)
	}
	if cfg.EmbedBatchSize <= 0 {
		cfg.EmbedBatchSize = DefaultEmbedBatchSize
	}
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = chunker.DefaultChunkSize
		if cfg.ChunkOverlap == 0 {
			cfg.ChunkOverlap = chunker.DefaultChunkOverlap
		}
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = DefaultMaxFileSize
	}
	if len(cfg.Extensions) == 0 {
		cfg.Extensions = DefaultExtensions
	}
	if len(cfg.FileNames) == 0 {
		cfg.FileNames = DefaultFileNames
	}

	ch, err := chunker.New(cfg.ChunkSize, cfg.ChunkOverlap)
	if err != nil {
		return nil, err
	}

	pool, err := ants.NewPool(cfg.EmbedWorkers)
	if err != nil {
		return nil, fmt.Errorf("create embedding pool: %w", err)
	}

	idx := &Indexer{
		cfg:        cfg,
		chunker:    ch,
		pool:       pool,
		logger:     slog.Default().With("component", "indexer"),
		extensions: make(map[string]bool, len(cfg.Extensions)),
		fileNames:  make(map[string]bool, len(cfg.FileNames)),
		files:      make(map[string]fileState),
	}
	for _, ext := range cfg.Extensions {
		idx.extensions[strings.ToLower(ext)] = true
	}
	for _, name := range cfg.FileNames {
		idx.fileNames[name] = true
	}
	for _, opt := range opts {
		opt(idx)
	}
	return idx, nil
}

// Seed records previously indexed documents, typically loaded from storage,
// so the next run only re-processes files that changed.
func (idx *Indexer) Seed(docs []*types.Document) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for _, doc := range docs {
		idx.files[doc.Path] = fileState{
			id:       doc.ID,
			hash:     doc.ContentHash,
			complete: idx.embedder == nil || doc.EmbeddedChunks() == len(doc.Chunks),
		}
	}
}

// Close releases the embedding worker pool
func (idx *Indexer) Close() {
	idx.pool.Release()
}

// Index walks root and returns every new or changed document with its chunks.
// Unreadable files are recorded as *types.IndexError in the statistics and skipped.
// Only one run may be active at a time.
func (idx *Indexer) Index(ctx context.Context, root string, opts Options) (*Result, error) {
	if !idx.lock.TryAcquire() {
		return nil, ErrIndexingInProgress
	}
	defer idx.lock.Release()

	startTime := time.Now()
	stats := &Statistics{}

	root, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}

	files, skipped, err := idx.discoverFiles(root)
	if err != nil {
		return nil, fmt.Errorf("failed to discover files: %w", err)
	}
	stats.FilesSkipped = skipped

	idx.mu.Lock()
	previous := make(map[string]fileState, len(idx.files))
	for k, v := range idx.files {
		previous[k] = v
	}
	idx.mu.Unlock()

	docs, unchanged, err := idx.readFiles(ctx, root, files, previous, opts, stats)
	if err != nil {
		return nil, err
	}

	if err := idx.embedDocuments(ctx, docs, stats); err != nil {
		return nil, err
	}

	// Files seen before but absent now were deleted or filtered out
	seen := make(map[string]bool, len(files))
	for _, f := range files {
		seen[f.rel] = true
	}
	var removed, removedPaths []string
	for rel, st := range previous {
		if !seen[rel] {
			removed = append(removed, st.id)
			removedPaths = append(removedPaths, rel)
		}
	}
	sort.Strings(removed)

	sort.Slice(docs, func(i, j int) bool { return docs[i].Path < docs[j].Path })
	sort.Strings(unchanged)

	stats.FilesIndexed = len(docs)
	stats.FilesUnchanged = len(unchanged)
	stats.FilesRemoved = len(removed)
	stats.Duration = time.Since(startTime)

	idx.logger.Info("indexing complete",
		"root", root,
		"indexed", stats.FilesIndexed,
		"unchanged", stats.FilesUnchanged,
		"removed", stats.FilesRemoved,
		"failed", stats.FilesFailed,
		"chunks", stats.ChunksCreated,
		"embedded", stats.ChunksEmbedded,
		"duration", stats.Duration)

	return &Result{
		Documents: docs,
		Unchanged: unchanged,
		Removed:   removed,
		Stats:     stats,

		removedPaths: removedPaths,
	}, nil
}

// Commit records a result's documents and removals as the indexer's known
// state. Call it once the result has been persisted and applied; until then
// the next run re-processes the same files.
func (idx *Indexer) Commit(result *Result) {
	if result == nil {
		return
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for _, doc := range result.Documents {
		idx.files[doc.Path] = fileState{
			id:       doc.ID,
			hash:     doc.ContentHash,
			complete: idx.embedder == nil || doc.EmbeddedChunks() == len(doc.Chunks),
		}
	}
	for _, rel := range result.removedPaths {
		delete(idx.files, rel)
	}
}

// candidate is a discovered file
type candidate struct {
	abs string
	rel string // slash separated
}

// discoverFiles finds indexable files under root
func (idx *Indexer) discoverFiles(root string) ([]candidate, int, error) {
	var files []candidate
	skipped := 0

	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			idx.logger.Warn("cannot access path", "path", path, "err", err)
			return nil
		}

		name := info.Name()
		if info.IsDir() {
			if path == root {
				return nil
			}
			if SkipDir(name) {
				return filepath.SkipDir
			}
			return nil
		}

		if strings.HasPrefix(name, ".") || !idx.allowed(name) {
			return nil
		}

		// Symlinks are reported with their own size, so check the target
		if info.Mode()&os.ModeSymlink != 0 {
			target, err := os.Stat(path)
			if err != nil || target.IsDir() {
				return nil
			}
			info = target
		}

		if info.Size() == 0 || info.Size() > idx.cfg.MaxFileSize {
			skipped++
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		files = append(files, candidate{abs: path, rel: filepath.ToSlash(rel)})
		return nil
	})

	return files, skipped, err
}

// SkipDir reports whether a directory is never descended into
func SkipDir(name string) bool {
	return strings.HasPrefix(name, ".") || skipDirs[name]
}

// allowed applies the extension and file name allow-lists
func (idx *Indexer) allowed(name string) bool {
	if idx.fileNames[name] {
		return true
	}
	return idx.extensions[strings.ToLower(filepath.Ext(name))]
}

// readFiles hashes, filters and chunks files concurrently
func (idx *Indexer) readFiles(ctx context.Context, root string, files []candidate, previous map[string]fileState,
	opts Options, stats *Statistics) ([]*types.Document, []string, error) {

	var (
		mu        sync.Mutex // Protects docs, unchanged and stats error fields
		docs      []*types.Document
		unchanged []string
		chunks    int32
		binary    int32
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(idx.cfg.Workers)

	for _, f := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			content, err := os.ReadFile(f.abs)
			if err != nil {
				idx.recordFailure(&mu, stats, f.rel, err)
				return nil
			}

			hash := sha256.Sum256(content)
			if prev, ok := previous[f.rel]; ok && !opts.Force && prev.hash == hash && prev.complete {
				mu.Lock()
				unchanged = append(unchanged, f.rel)
				mu.Unlock()
				return nil
			}

			if isBinary(content) {
				atomic.AddInt32(&binary, 1)
				return nil
			}

			info, err := os.Stat(f.abs)
			if err != nil {
				idx.recordFailure(&mu, stats, f.rel, err)
				return nil
			}

			doc := idx.buildDocument(root, f, content, hash, info)
			atomic.AddInt32(&chunks, int32(len(doc.Chunks)))

			mu.Lock()
			docs = append(docs, doc)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	stats.ChunksCreated = int(chunks)
	stats.FilesSkipped += int(binary)
	return docs, unchanged, nil
}

func (idx *Indexer) recordFailure(mu *sync.Mutex, stats *Statistics, rel string, err error) {
	indexErr := &types.IndexError{Path: rel, Err: err}
	idx.logger.Warn("skipping unreadable file", "path", rel, "err", err)

	mu.Lock()
	defer mu.Unlock()
	stats.FilesFailed++
	stats.Errors = append(stats.Errors, indexErr)
	stats.ErrorMessages = append(stats.ErrorMessages, indexErr.Error())
}

// buildDocument chunks one file
func (idx *Indexer) buildDocument(root string, f candidate, content []byte, hash [32]byte, info os.FileInfo) *types.Document {
	text := strings.ToValidUTF8(string(content), "�")
	id := chunker.DocumentID(f.rel)

	return &types.Document{
		ID:          id,
		Title:       title(f.rel, text),
		Path:        f.rel,
		AbsPath:     filepath.Join(root, filepath.FromSlash(f.rel)),
		ContentHash: hash,
		ModTime:     info.ModTime(),
		Size:        info.Size(),
		Chunks:      idx.chunker.Chunk(id, text),
	}
}

// embedDocuments embeds all chunks in batches on the worker pool.
// A failed batch leaves its chunks keyword-only; only cancellation aborts the run.
func (idx *Indexer) embedDocuments(ctx context.Context, docs []*types.Document, stats *Statistics) error {
	if idx.embedder == nil {
		return nil
	}

	var pending []*types.Chunk
	for _, doc := range docs {
		pending = append(pending, doc.Chunks...)
	}
	if len(pending) == 0 {
		return nil
	}

	var (
		wg       sync.WaitGroup
		embedded int32
		failed   int32
	)

	for start := 0; start < len(pending); start += idx.cfg.EmbedBatchSize {
		batch := pending[start:min(start+idx.cfg.EmbedBatchSize, len(pending))]

		task := func() {
			defer wg.Done()
			if ctx.Err() != nil {
				return
			}

			texts := make([]string, len(batch))
			for i, c := range batch {
				texts[i] = c.Content
			}

			vectors, err := idx.embedder.GetEmbeddings(ctx, texts)
			if err != nil {
				atomic.AddInt32(&failed, int32(len(batch)))
				if ctx.Err() == nil {
					idx.logger.Warn("embedding batch failed, chunks stay keyword-only", "size", len(batch), "err", err)
				}
				return
			}
			for i, c := range batch {
				c.Embedding = vectors[i]
			}
			atomic.AddInt32(&embedded, int32(len(batch)))
		}

		wg.Add(1)
		if err := idx.pool.Submit(task); err != nil {
			// Pool released; run inline
			task()
		}
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return err
	}

	stats.ChunksEmbedded = int(embedded)
	stats.EmbeddingFailures = int(failed)
	return nil
}

// isBinary reports whether content looks binary (NUL byte in the first block)
func isBinary(content []byte) bool {
	return bytes.IndexByte(content[:min(len(content), sniffLen)], 0) >= 0
}

// title returns the first markdown heading, or the file name without extension
func title(rel, text string) string {
	lines := strings.SplitN(text, "\n", 21)
	for _, line := range lines[:min(len(lines), 20)] {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "# ") {
			return strings.TrimSpace(line[2:])
		}
	}
	base := filepath.Base(filepath.FromSlash(rel))
	return strings.TrimSuffix(base, filepath.Ext(base))
}
