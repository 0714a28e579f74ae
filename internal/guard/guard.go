package guard

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/dshills/hybridsearch/pkg/types"
)

// Common errors
var (
	ErrRootRequired = errors.New("workspace root is required")
	ErrRootNotDir   = errors.New("workspace root is not a directory")
)

// Option configures a Guard.
type Option func(*Guard)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Guard) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// Guard checks paths against a canonical workspace root. It is immutable and safe for concurrent use.
type Guard struct {
	root   string
	logger *slog.Logger
}

// New canonicalizes root. The root must exist and be a directory.
func New(root string, opts ...Option) (*Guard, error) {
	if root == "" {
		return nil, ErrRootRequired
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}
	canonical, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}

	info, err := os.Stat(canonical)
	if err != nil {
		return nil, fmt.Errorf("stat workspace root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrRootNotDir, canonical)
	}

	g := &Guard{
		root:   canonical,
		logger: slog.Default().With("component", "guard"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Root returns the canonical workspace root
func (g *Guard) Root() string {
	return g.root
}

// Check returns a *types.SecurityViolation when path resolves outside the root.
// Relative paths are resolved against the root. Paths that cannot be resolved are rejected.
func (g *Guard) Check(path string) error {
	if path == "" {
		return &types.SecurityViolation{Path: path, Root: g.root}
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(g.root, path)
	}

	canonical, err := filepath.EvalSymlinks(path)
	if err != nil {
		return &types.SecurityViolation{Path: path, Root: g.root}
	}
	if !g.contains(canonical) {
		return &types.SecurityViolation{Path: canonical, Root: g.root}
	}
	return nil
}

// Allow reports whether path resolves inside the root
func (g *Guard) Allow(path string) bool {
	return g.Check(path) == nil
}

func (g *Guard) contains(canonical string) bool {
	rel, err := filepath.Rel(g.root, canonical)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}

// Filter returns the results whose document lies inside the root, in order.
// Dropped results are logged at warning level and never surfaced.
func (g *Guard) Filter(results []types.SearchResult) []types.SearchResult {
	kept := results[:0:0]
	for _, r := range results {
		if g.AllowDocument(r.Document) {
			kept = append(kept, r)
		}
	}
	return kept
}

// AllowDocument checks a document's location, logging any violation
func (g *Guard) AllowDocument(doc *types.Document) bool {
	if doc == nil {
		return false
	}
	path := doc.AbsPath
	if path == "" {
		path = filepath.FromSlash(doc.Path)
	}
	if err := g.Check(path); err != nil {
		g.logger.Warn("dropping result outside workspace", "document", doc.ID, "err", err)
		return false
	}
	return true
}
