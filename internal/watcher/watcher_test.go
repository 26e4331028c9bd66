package watcher

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"forge/internal/git"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func specsOnly(rel string) bool { return path.Base(rel) == "spec.md" }

func write(t *testing.T, root, rel, content string) {
	t.Helper()
	full := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0644))
}

// start runs a watcher on root and returns its batches. Cleanup cancels the
// watcher and waits for Run to return.
func start(t *testing.T, root string, ignore *git.GitIgnore) <-chan []Event {
	t.Helper()
	w, err := NewWatcher(root, ignore, Config{Debounce: 50 * time.Millisecond, Filter: specsOnly})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	batches := make(chan []Event, 16)
	done := make(chan error, 1)
	go func() {
		done <- w.Run(ctx, func(events []Event) { batches <- events })
	}()
	t.Cleanup(func() {
		cancel()
		assert.ErrorIs(t, <-done, context.Canceled)
	})
	return batches
}

// waitFor collects batches until one contains rel.
func waitFor(t *testing.T, batches <-chan []Event, rel string) ([]Event, Event) {
	t.Helper()
	var seen []Event
	deadline := time.After(5 * time.Second)
	for {
		select {
		case batch := <-batches:
			seen = append(seen, batch...)
			for _, e := range batch {
				if e.Path == rel {
					return seen, e
				}
			}
		case <-deadline:
			t.Fatalf("no event for %s, saw %v", rel, seen)
		}
	}
}

func TestModifyIsDebouncedAndFiltered(t *testing.T) {
	root := t.TempDir()
	write(t, root, "src/a/spec.md", "v1")
	batches := start(t, root, nil)

	write(t, root, "src/a/notes.md", "not a spec")
	for _, v := range []string{"v2", "v3", "v4"} {
		write(t, root, "src/a/spec.md", v)
	}

	seen, e := waitFor(t, batches, "src/a/spec.md")
	assert.Equal(t, OpModify, e.Operation)
	for _, s := range seen {
		assert.Equal(t, "src/a/spec.md", s.Path)
	}
}

func TestNewDirectoryIsWatched(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "src"), 0755))
	batches := start(t, root, nil)

	write(t, root, "src/b/spec.md", "new module")
	_, e := waitFor(t, batches, "src/b/spec.md")
	assert.Equal(t, OpCreate, e.Operation)

	write(t, root, "src/b/spec.md", "edited")
	_, e = waitFor(t, batches, "src/b/spec.md")
	assert.Equal(t, OpModify, e.Operation)
}

func TestDeleteIsReported(t *testing.T) {
	root := t.TempDir()
	write(t, root, "src/a/spec.md", "v1")
	batches := start(t, root, nil)

	require.NoError(t, os.Remove(filepath.Join(root, "src", "a", "spec.md")))
	_, e := waitFor(t, batches, "src/a/spec.md")
	assert.Equal(t, OpDelete, e.Operation)
}

func TestIgnoredAndSkippedPathsAreSilent(t *testing.T) {
	root := t.TempDir()
	write(t, root, ".gitignore", "src/ignored/\n")
	write(t, root, "src/ignored/spec.md", "x")
	write(t, root, "src/a/spec.md", "v1")
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".forge", "cache", "src", "a"), 0755))

	ignore := git.NewGitIgnore(root)
	require.NoError(t, ignore.Load())
	batches := start(t, root, ignore)

	write(t, root, "src/ignored/spec.md", "y")
	write(t, root, ".forge/cache/src/a/spec.md", "cached")
	write(t, root, "src/a/spec.md", "v2")

	seen, _ := waitFor(t, batches, "src/a/spec.md")
	for _, e := range seen {
		assert.Equal(t, "src/a/spec.md", e.Path)
	}
}

func TestSkippedDirectoriesAreNotWatched(t *testing.T) {
	root := t.TempDir()
	for _, dir := range []string{".git/objects", ".forge/cache", "src/a"} {
		require.NoError(t, os.MkdirAll(filepath.Join(root, filepath.FromSlash(dir)), 0755))
	}

	w, err := NewWatcher(root, nil, DefaultConfig())
	require.NoError(t, err)
	defer w.Close()

	// root, src, src/a
	assert.Equal(t, 3, w.WatchedPaths())
}

func TestWatchLimit(t *testing.T) {
	root := t.TempDir()
	for _, dir := range []string{"a", "b", "c"} {
		require.NoError(t, os.MkdirAll(filepath.Join(root, dir), 0755))
	}

	w, err := NewWatcher(root, nil, Config{MaxWatches: 2})
	require.NoError(t, err)
	defer w.Close()

	assert.Equal(t, 2, w.WatchedPaths())
}

func TestNewWatcherMissingRoot(t *testing.T) {
	_, err := NewWatcher(filepath.Join(t.TempDir(), "missing"), nil, DefaultConfig())
	assert.Error(t, err)
}

func TestCloseTwice(t *testing.T) {
	w, err := NewWatcher(t.TempDir(), nil, DefaultConfig())
	require.NoError(t, err)
	assert.NoError(t, w.Close())
	assert.NoError(t, w.Close())
}

func TestOperationString(t *testing.T) {
	assert.Equal(t, "create", OpCreate.String())
	assert.Equal(t, "modify", OpModify.String())
	assert.Equal(t, "delete", OpDelete.String())
	assert.Equal(t, "rename", OpRename.String())
	assert.Equal(t, "unknown", Operation(42).String())
}
