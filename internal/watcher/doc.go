// Package watcher re-indexes a workspace after its files change.
//
// Events are debounced: a burst of writes produces one re-index once the
// workspace has been quiet for the configured delay (DefaultDelay).
//
// # Basic Usage
//
//	w, err := watcher.New(root, func(ctx context.Context) error {
//	    _, err := engine.Reindex(ctx, indexer.Options{})
//	    return err
//	}, watcher.WithDelay(time.Second))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer w.Close()
//
//	err = w.Run(ctx) // blocks until ctx is cancelled
//
// Directories created later are added to the watch. Hidden files, hidden
// directories and the dependency directories skipped by the indexer never
// trigger a run. When the re-index reports indexer.ErrIndexingInProgress
// the timer is re-armed; other failures are logged and watching continues.
package watcher
