// Package app wires configuration into a running set of components.
//
// New builds the graph in dependency order:
//
//	guard -> embedder -> storage -> indexer -> searcher -> fetcher
//
// Remote embedding providers and the fetcher share one netclient.Client,
// created on first use, and one response cache. Documents persisted by an
// earlier run are loaded into the indexer and the search engine before New
// returns, so searches work before the first re-index.
//
// # Basic Usage
//
//	cfg, err := config.Load("hybridsearch.toml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	c, err := app.New(ctx, cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer c.Close()
//
//	if _, err := c.Reindex(ctx, false); err != nil {
//	    log.Fatal(err)
//	}
//	results, err := c.Engine().HybridSearch(ctx, "configure the database path", 5)
//
// # Embedding Fingerprint
//
// The stored index records "provider/model/dimensions". When the configured
// embedder no longer matches, the stored documents are discarded so vectors
// from different models are never compared.
//
// # Watch Mode
//
// Watch re-indexes after workspace files change and blocks until the context
// is cancelled. Changes to the database file itself are ignored.
package app
