package indexer

import "sync/atomic"

// IndexLock is a non-blocking single-flight guard for index runs.
// A second run fails fast with ErrIndexingInProgress instead of queueing.
type IndexLock struct {
	state atomic.Int32 // 0 = idle, 1 = running
}

// TryAcquire marks a run as started. It returns false if one is already active.
func (l *IndexLock) TryAcquire() bool {
	return l.state.CompareAndSwap(0, 1)
}

// Release marks the active run as finished.
// Must only be called by the goroutine that successfully acquired the lock.
func (l *IndexLock) Release() {
	l.state.Store(0)
}

// Running reports whether a run is active
func (l *IndexLock) Running() bool {
	return l.state.Load() == 1
}
