package fileutil

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestTransactionCommit(t *testing.T) {
	dir := t.TempDir()
	existing := filepath.Join(dir, "existing.txt")
	doomed := filepath.Join(dir, "doomed.txt")
	require.NoError(t, os.WriteFile(existing, []byte("old"), 0600))
	require.NoError(t, os.WriteFile(doomed, []byte("bye"), 0644))

	tx := NewTransaction()
	require.NoError(t, tx.Write(existing, []byte("new")))
	require.NoError(t, tx.Write(filepath.Join(dir, "a", "b", "created.txt"), []byte("")))
	require.NoError(t, tx.Delete(doomed))
	require.NoError(t, tx.Delete(filepath.Join(dir, "never-existed.txt")))
	assert.Equal(t, 4, tx.Len())

	require.NoError(t, tx.Commit())

	assert.Equal(t, "new", readFile(t, existing))
	info, err := os.Stat(existing)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	assert.Equal(t, "", readFile(t, filepath.Join(dir, "a", "b", "created.txt")))
	assert.NoFileExists(t, doomed)

	assert.ErrorIs(t, tx.Commit(), errFinalized)
	assert.ErrorIs(t, tx.Write(existing, nil), errFinalized)
}

func TestTransactionDuplicatePathsLastWins(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "f.txt")

	tx := NewTransaction()
	require.NoError(t, tx.Write(p, []byte("one")))
	require.NoError(t, tx.Delete(p))
	require.NoError(t, tx.Write(p, []byte("three")))
	require.NoError(t, tx.Commit())

	assert.Equal(t, "three", readFile(t, p))
}

func TestTransactionRollbackOnFailure(t *testing.T) {
	dir := t.TempDir()
	kept := filepath.Join(dir, "kept.txt")
	removed := filepath.Join(dir, "removed.txt")
	blocker := filepath.Join(dir, "blocker")
	require.NoError(t, os.WriteFile(kept, []byte("original"), 0644))
	require.NoError(t, os.WriteFile(removed, []byte("still here"), 0644))
	require.NoError(t, os.WriteFile(blocker, []byte("a file, not a dir"), 0644))

	tx := NewTransaction()
	require.NoError(t, tx.Write(kept, []byte("changed")))
	require.NoError(t, tx.Delete(removed))
	require.NoError(t, tx.Write(filepath.Join(dir, "fresh", "new.txt"), []byte("new")))
	require.NoError(t, tx.Write(filepath.Join(blocker, "child.txt"), []byte("x")))

	err := tx.Commit()
	require.Error(t, err)

	var opErr *OpError
	require.True(t, errors.As(err, &opErr))
	assert.Equal(t, OpWrite, opErr.Op)
	assert.Equal(t, filepath.Join(blocker, "child.txt"), opErr.Path)

	assert.Equal(t, "original", readFile(t, kept))
	assert.Equal(t, "still here", readFile(t, removed))
	assert.NoDirExists(t, filepath.Join(dir, "fresh"))
	assert.Equal(t, "a file, not a dir", readFile(t, blocker))
}

func TestTransactionRejectsDirectoryTarget(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0755))

	tx := NewTransaction()
	require.NoError(t, tx.Write(filepath.Join(dir, "sub"), []byte("x")))
	err := tx.Commit()

	var opErr *OpError
	require.True(t, errors.As(err, &opErr))
	assert.DirExists(t, filepath.Join(dir, "sub"))
}

func TestExplicitRollback(t *testing.T) {
	tx := NewTransaction()
	require.NoError(t, tx.Rollback())
	require.NoError(t, tx.Rollback())
	assert.ErrorIs(t, tx.Delete("x"), errFinalized)
}

func TestAtomicWriteCreatesParents(t *testing.T) {
	p := filepath.Join(t.TempDir(), "x", "y", "z.txt")
	require.NoError(t, AtomicWrite(p, []byte("data"), 0640))
	assert.Equal(t, "data", readFile(t, p))
	assert.Equal(t, os.FileMode(0640), ExistingMode(p, 0))

	entries, err := os.ReadDir(filepath.Dir(p))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary file left behind")
}
