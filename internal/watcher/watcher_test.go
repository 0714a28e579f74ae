package watcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/hybridsearch/internal/indexer"
)

type counter struct {
	calls atomic.Int32
	err   atomic.Value
}

func (c *counter) reindex(ctx context.Context) error {
	c.calls.Add(1)
	if err, ok := c.err.Load().(error); ok {
		return err
	}
	return nil
}

func startWatcher(t *testing.T, root string, c *counter, opts ...Option) (*Watcher, <-chan error) {
	t.Helper()
	opts = append([]Option{WithDelay(100 * time.Millisecond)}, opts...)
	w, err := New(root, c.reindex, opts...)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
		_ = w.Close()
	})
	return w, done
}

func TestNew_Errors(t *testing.T) {
	c := &counter{}

	_, err := New(filepath.Join(t.TempDir(), "missing"), c.reindex)
	assert.ErrorContains(t, err, "root path error")

	file := filepath.Join(t.TempDir(), "file.md")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))
	_, err = New(file, c.reindex)
	assert.ErrorContains(t, err, "not a directory")

	_, err = New(t.TempDir(), nil)
	assert.Error(t, err)
}

func TestWatcher_DebouncesBurst(t *testing.T) {
	root := t.TempDir()
	c := &counter{}
	startWatcher(t, root, c)

	for i := 0; i < 5; i++ {
		name := filepath.Join(root, "doc"+string(rune('a'+i))+".md")
		require.NoError(t, os.WriteFile(name, []byte("content"), 0o644))
	}

	assert.Eventually(t, func() bool { return c.calls.Load() == 1 }, 3*time.Second, 10*time.Millisecond)
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, int32(1), c.calls.Load(), "one re-index per burst")
}

func TestWatcher_NewSubdirectoryIsWatched(t *testing.T) {
	root := t.TempDir()
	c := &counter{}
	startWatcher(t, root, c)

	sub := filepath.Join(root, "guides")
	require.NoError(t, os.Mkdir(sub, 0o755))
	require.Eventually(t, func() bool { return c.calls.Load() == 1 }, 3*time.Second, 10*time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(sub, "intro.md"), []byte("hello"), 0o644))
	assert.Eventually(t, func() bool { return c.calls.Load() == 2 }, 3*time.Second, 10*time.Millisecond)
}

func TestWatcher_SkippedDirectoriesAreIgnored(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "node_modules", "pkg"), 0o755))
	c := &counter{}
	startWatcher(t, root, c, WithIgnore(func(path string) bool {
		return strings.HasSuffix(path, ".db")
	}))

	require.NoError(t, os.WriteFile(filepath.Join(root, "node_modules", "pkg", "index.js"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".hidden.md"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "index.db"), []byte("x"), 0o644))

	time.Sleep(400 * time.Millisecond)
	assert.Equal(t, int32(0), c.calls.Load())
}

func TestWatcher_RetriesWhileIndexing(t *testing.T) {
	root := t.TempDir()
	c := &counter{}
	c.err.Store(indexer.ErrIndexingInProgress)
	startWatcher(t, root, c)

	require.NoError(t, os.WriteFile(filepath.Join(root, "a.md"), []byte("x"), 0o644))
	assert.Eventually(t, func() bool { return c.calls.Load() >= 2 }, 3*time.Second, 10*time.Millisecond)
}

func TestWatcher_ReindexErrorKeepsRunning(t *testing.T) {
	root := t.TempDir()
	c := &counter{}
	c.err.Store(errors.New("disk full"))
	_, done := startWatcher(t, root, c)

	require.NoError(t, os.WriteFile(filepath.Join(root, "a.md"), []byte("x"), 0o644))
	require.Eventually(t, func() bool { return c.calls.Load() == 1 }, 3*time.Second, 10*time.Millisecond)

	select {
	case err := <-done:
		t.Fatalf("watcher stopped: %v", err)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWatcher_RunStopsOnCancel(t *testing.T) {
	w, err := New(t.TempDir(), (&counter{}).reindex)
	require.NoError(t, err)
	defer func() { _ = w.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestWatcher_CloseIsIdempotent(t *testing.T) {
	w, err := New(t.TempDir(), (&counter{}).reindex)
	require.NoError(t, err)

	assert.NoError(t, w.Close())
	assert.NoError(t, w.Close())

	err = w.Run(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestRelevant(t *testing.T) {
	root := t.TempDir()
	w, err := New(root, (&counter{}).reindex, WithIgnore(func(path string) bool {
		return filepath.Base(path) == "index.db"
	}))
	require.NoError(t, err)
	defer func() { _ = w.Close() }()

	tests := []struct {
		name string
		path string
		op   fsnotify.Op
		want bool
	}{
		{name: "create", path: "a.md", op: fsnotify.Create, want: true},
		{name: "write", path: "docs/a.md", op: fsnotify.Write, want: true},
		{name: "remove", path: "a.md", op: fsnotify.Remove, want: true},
		{name: "rename", path: "a.md", op: fsnotify.Rename, want: true},
		{name: "chmod only", path: "a.md", op: fsnotify.Chmod, want: false},
		{name: "write with chmod", path: "a.md", op: fsnotify.Write | fsnotify.Chmod, want: true},
		{name: "hidden file", path: ".env", op: fsnotify.Write, want: false},
		{name: "hidden dir", path: ".git/HEAD", op: fsnotify.Write, want: false},
		{name: "vendor dir", path: "vendor/x/y.go", op: fsnotify.Create, want: false},
		{name: "ignored", path: "index.db", op: fsnotify.Write, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event := fsnotify.Event{Name: filepath.Join(root, tt.path), Op: tt.op}
			assert.Equal(t, tt.want, w.relevant(event))
		})
	}

	assert.False(t, w.relevant(fsnotify.Event{Name: "/elsewhere/a.md", Op: fsnotify.Write}))
	assert.False(t, w.relevant(fsnotify.Event{Name: root, Op: fsnotify.Write}))
}
