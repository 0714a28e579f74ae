package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dshills/hybridsearch/internal/config"
	"github.com/dshills/hybridsearch/internal/embedder"
	"github.com/dshills/hybridsearch/internal/fetcher"
	"github.com/dshills/hybridsearch/internal/guard"
	"github.com/dshills/hybridsearch/internal/indexer"
	"github.com/dshills/hybridsearch/internal/netclient"
	"github.com/dshills/hybridsearch/internal/searcher"
	"github.com/dshills/hybridsearch/internal/storage"
	"github.com/dshills/hybridsearch/internal/watcher"
	"github.com/dshills/hybridsearch/pkg/types"
)

// ErrFetchDisabled is returned by Fetcher when fetching is turned off
var ErrFetchDisabled = errors.New("content fetching is disabled")

// Option configures a Container.
type Option func(*Container)

// WithLogger sets the logger handed to every component
func WithLogger(logger *slog.Logger) Option {
	return func(c *Container) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithEmbedder replaces the configured embedding provider
func WithEmbedder(emb embedder.Embedder) Option {
	return func(c *Container) {
		c.embedder = emb
	}
}

// Container owns the components built from one configuration
type Container struct {
	cfg    *config.Config
	logger *slog.Logger

	netOnce sync.Once
	net     *netclient.Client
	netErr  error
	cache   *netclient.Cache

	guard    *guard.Guard
	embedder embedder.Embedder
	store    *storage.SQLiteStorage
	indexer  *indexer.Indexer
	engine   *searcher.Engine
	fetcher  *fetcher.Fetcher

	closeOnce sync.Once
}

// New builds the component graph. Documents persisted by earlier runs are
// loaded so searches work before the first re-index.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (c *Container, err error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}

	c = &Container{
		cfg:    cfg,
		logger: slog.Default(),
		cache:  netclient.NewCache(cfg.Network.CacheSize, time.Duration(cfg.Network.CacheTTL)),
	}
	for _, opt := range opts {
		opt(c)
	}
	defer func() {
		if err != nil {
			_ = c.Close()
		}
	}()

	c.guard, err = guard.New(cfg.WorkspaceRoot, guard.WithLogger(c.component("guard")))
	if err != nil {
		return nil, err
	}

	if c.embedder == nil {
		if c.embedder, err = c.newEmbedder(); err != nil {
			return nil, err
		}
	}

	c.store, err = storage.NewSQLiteStorage(cfg.DBPath)
	if err != nil {
		return nil, err
	}

	docs, err := c.loadDocuments(ctx)
	if err != nil {
		return nil, err
	}

	c.indexer, err = indexer.New(cfg.IndexerConfig(),
		indexer.WithLogger(c.component("indexer")),
		indexer.WithEmbedder(c.embedder))
	if err != nil {
		return nil, err
	}
	c.indexer.Seed(docs)

	c.engine, err = searcher.New(c.guard, cfg.SearcherConfig(),
		searcher.WithLogger(c.component("searcher")),
		searcher.WithEmbedder(c.embedder),
		searcher.WithIndexer(c.indexer),
		searcher.WithPersister(c.store))
	if err != nil {
		return nil, err
	}
	c.engine.Load(docs)

	if cfg.Fetch.Enabled {
		hc, err := c.NetClient()
		if err != nil {
			return nil, err
		}
		c.fetcher, err = fetcher.New(cfg.FetcherConfig(), hc,
			fetcher.WithLogger(c.component("fetcher")),
			fetcher.WithCache(c.Cache()))
		if err != nil {
			return nil, err
		}
	}

	c.logger.Info("workspace ready",
		"root", c.guard.Root(),
		"documents", len(docs),
		"provider", c.embedder.Provider(),
		"storage", storage.BuildMode)
	return c, nil
}

func (c *Container) component(name string) *slog.Logger {
	return c.logger.With("component", name)
}

func (c *Container) newEmbedder() (embedder.Embedder, error) {
	ecfg := c.cfg.EmbedderConfig()
	opts := []embedder.Option{embedder.WithLogger(c.component("embedder"))}
	if ecfg.Remote() {
		hc, err := c.NetClient()
		if err != nil {
			return nil, err
		}
		opts = append(opts, embedder.WithHTTPClient(hc))
	}
	return embedder.New(ecfg, opts...)
}

// loadDocuments returns persisted documents. Vectors from a different
// embedding model are not comparable, so a model change discards them.
func (c *Container) loadDocuments(ctx context.Context) ([]*types.Document, error) {
	fingerprint := Fingerprint(c.embedder)

	stored, err := c.store.GetMeta(ctx, storage.MetaEmbeddingModel)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		return nil, err
	case stored != fingerprint:
		c.logger.Warn("embedding model changed, discarding stored index",
			"stored", stored, "configured", fingerprint)
		docs, err := c.store.LoadDocuments(ctx)
		if err != nil {
			return nil, err
		}
		ids := make([]string, 0, len(docs))
		for _, doc := range docs {
			ids = append(ids, doc.ID)
		}
		if err := c.store.DeleteDocuments(ctx, ids); err != nil {
			return nil, err
		}
	}

	if err := c.store.SetMeta(ctx, storage.MetaEmbeddingModel, fingerprint); err != nil {
		return nil, err
	}
	return c.store.LoadDocuments(ctx)
}

// Fingerprint identifies the vector space an embedder produces
func Fingerprint(emb embedder.Embedder) string {
	return fmt.Sprintf("%s/%s/%d", emb.Provider(), emb.Model(), emb.Dimension())
}

// NetClient returns the shared network client, built on first use
func (c *Container) NetClient() (*netclient.Client, error) {
	c.netOnce.Do(func() {
		c.net, c.netErr = netclient.New(c.cfg.NetClientConfig(),
			netclient.WithLogger(c.component("netclient")))
	})
	return c.net, c.netErr
}

// Cache returns the shared response cache
func (c *Container) Cache() *netclient.Cache {
	return c.cache
}

// Config returns the configuration the container was built from
func (c *Container) Config() *config.Config {
	return c.cfg
}

// Engine returns the search engine
func (c *Container) Engine() *searcher.Engine {
	return c.engine
}

// Storage returns the persistent store
func (c *Container) Storage() storage.Storage {
	return c.store
}

// Fetcher returns the content fetcher, or ErrFetchDisabled
func (c *Container) Fetcher() (*fetcher.Fetcher, error) {
	if c.fetcher == nil {
		return nil, ErrFetchDisabled
	}
	return c.fetcher, nil
}

// Reindex indexes the workspace, persists the changes and applies them
func (c *Container) Reindex(ctx context.Context, force bool) (*indexer.Result, error) {
	result, err := c.engine.Reindex(ctx, indexer.Options{Force: force})
	if err != nil {
		return nil, err
	}

	s := result.Stats
	c.logger.Info("indexed workspace",
		"indexed", s.FilesIndexed,
		"unchanged", s.FilesUnchanged,
		"removed", s.FilesRemoved,
		"failed", s.FilesFailed,
		"chunks", s.ChunksCreated,
		"embedding_failures", s.EmbeddingFailures,
		"duration", s.Duration)
	return result, nil
}

// Watch re-indexes on workspace changes until ctx is cancelled
func (c *Container) Watch(ctx context.Context) error {
	dbPath, _ := filepath.Abs(c.cfg.DBPath)

	w, err := watcher.New(c.guard.Root(), func(ctx context.Context) error {
		_, err := c.Reindex(ctx, false)
		return err
	},
		watcher.WithLogger(c.component("watcher")),
		watcher.WithDelay(time.Duration(c.cfg.Index.WatchDelay)),
		watcher.WithIgnore(func(path string) bool {
			// The database and its WAL files live next to each other
			return dbPath != "" && strings.HasPrefix(path, dbPath)
		}))
	if err != nil {
		return err
	}
	defer func() { _ = w.Close() }()

	err = w.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close releases every component. It is safe to call more than once.
func (c *Container) Close() error {
	var errs []error
	c.closeOnce.Do(func() {
		if c.indexer != nil {
			c.indexer.Close()
		}
		if c.embedder != nil {
			errs = append(errs, c.embedder.Close())
		}
		if c.store != nil {
			errs = append(errs, c.store.Close())
		}
		if c.net != nil {
			c.net.CloseIdleConnections()
		}
	})
	return errors.Join(errs...)
}
