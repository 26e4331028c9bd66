package security

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forge/internal/git"
)

func newProject(t *testing.T, ignore string) string {
	t.Helper()
	root := t.TempDir()
	if ignore != "" {
		require.NoError(t, os.WriteFile(filepath.Join(root, ".gitignore"), []byte(ignore), 0644))
	}
	return root
}

func requireRule(t *testing.T, err error, rule Rule) {
	t.Helper()
	require.Error(t, err)
	var v *Violation
	require.True(t, errors.As(err, &v), "expected *Violation, got %T: %v", err, err)
	assert.Equal(t, rule, v.Rule)
}

func TestWriteGuardRejections(t *testing.T) {
	root := newProject(t, "*.log\nout/\n!keep.log\n")
	g, err := NewWriteGuard(DefaultGuardConfig(root))
	require.NoError(t, err)

	tests := []struct {
		path string
		rule Rule
	}{
		{"", RuleEmpty},
		{"a\x00b", RuleEmpty},
		{".", RuleEmpty},
		{"/etc/passwd", RuleAbsolute},
		{`\windows\system32`, RuleAbsolute},
		{"../outside.txt", RuleTraversal},
		{"a/../b.txt", RuleTraversal},
		{"a/../../b.txt", RuleTraversal},
		{"a/./../../b.txt", RuleTraversal},
		{`a\..\..\b.txt`, RuleTraversal},
		{".gitignore", RuleForbiddenFile},
		{"go.sum", RuleForbiddenFile},
		{"build.sh", RuleForbiddenFile},
		{"./AGENTS.md", RuleForbiddenFile},
		{"spec.md", RuleForbiddenFile},
		{"src/deep/module/spec.md", RuleForbiddenFile},
		{".git/config", RuleProtectedDir},
		{"build/output.bin", RuleProtectedDir},
		{".forge/cache/x/self-consistency.md", RuleProtectedDir},
		{"debug.log", RuleIgnored},
		{"src/nested/trace.log", RuleIgnored},
		{"out/result.txt", RuleIgnored},
		{"src/out/result.txt", RuleIgnored},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			requireRule(t, g.Validate(tt.path), tt.rule)
		})
	}
}

func TestWriteGuardAllows(t *testing.T) {
	root := newProject(t, "*.log\nout/\n!keep.log\n")
	g, err := NewWriteGuard(DefaultGuardConfig(root))
	require.NoError(t, err)

	for _, p := range []string{
		"main.go",
		"./src/a/impl.go",
		"src/a/spec_test.go",
		"keep.log",
		"builder/x.go",
		"docs/build.sh.md",
		"empty",
	} {
		assert.NoError(t, g.Validate(p), p)
	}
}

func TestTraversalAlwaysRejected(t *testing.T) {
	root := newProject(t, "")
	w, err := NewWriteGuard(DefaultGuardConfig(root))
	require.NoError(t, err)
	r, err := NewReadGuard(DefaultGuardConfig(root))
	require.NoError(t, err)

	for _, p := range []string{"..", "../a", "a/..", "a/b/../../..", "x/../y", "a/b/../../../c"} {
		requireRule(t, w.Validate(p), RuleTraversal)
		requireRule(t, r.Validate(p), RuleTraversal)
	}
}

func TestReadGuardIsPermissive(t *testing.T) {
	root := newProject(t, "secret/\n")
	g, err := NewReadGuard(DefaultGuardConfig(root))
	require.NoError(t, err)

	for _, p := range []string{"src/a/spec.md", "build.sh", "go.sum", ".gitignore", "build/log.txt", ".forge/config.yaml"} {
		assert.NoError(t, g.Validate(p), p)
	}

	requireRule(t, g.Validate(".git/HEAD"), RuleProtectedDir)
	requireRule(t, g.Validate("secret/key.pem"), RuleIgnored)
	requireRule(t, g.Validate("/abs"), RuleAbsolute)
}

func TestGuardMissingIgnoreFile(t *testing.T) {
	root := newProject(t, "")
	g, err := NewWriteGuard(DefaultGuardConfig(root))
	require.NoError(t, err)
	assert.NoError(t, g.Validate("anything.log"))
}

func TestGuardInvalidIgnorePattern(t *testing.T) {
	root := newProject(t, "ok.txt\nbroken[\n")
	_, err := NewWriteGuard(DefaultGuardConfig(root))
	require.Error(t, err)

	var pe *git.PatternError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, 2, pe.Line)
}

func TestGuardCustomConfig(t *testing.T) {
	root := newProject(t, "")
	cfg := DefaultGuardConfig(root)
	cfg.ForbiddenFiles = []string{"Makefile"}
	cfg.ProtectedDirs = []string{"vendor"}
	cfg.ProtectedNames = nil

	g, err := NewWriteGuard(cfg)
	require.NoError(t, err)

	requireRule(t, g.Validate("Makefile"), RuleForbiddenFile)
	requireRule(t, g.Validate("vendor/lib.go"), RuleProtectedDir)
	assert.NoError(t, g.Validate("build.sh"))
	assert.NoError(t, g.Validate("src/spec.md"))
}

func TestResolve(t *testing.T) {
	root := newProject(t, "")
	g, err := NewWriteGuard(DefaultGuardConfig(root))
	require.NoError(t, err)

	full, err := g.Resolve("src/a/new.go")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(g.Root(), "src", "a", "new.go"), full)

	_, err = g.Resolve("../escape")
	requireRule(t, err, RuleTraversal)
}

func TestResolveRejectsSymlinkEscape(t *testing.T) {
	root := newProject(t, "")
	outside := t.TempDir()
	if err := os.Symlink(outside, filepath.Join(root, "link")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	g, err := NewWriteGuard(DefaultGuardConfig(root))
	require.NoError(t, err)

	_, err = g.Resolve("link/file.txt")
	requireRule(t, err, RuleSymlink)
}

func TestViolationMessage(t *testing.T) {
	v := &Violation{Path: "build/x", Rule: RuleProtectedDir, Detail: "build"}
	assert.Equal(t, `path "build/x" rejected (protected-dir): build`, v.Error())
}

func TestNestedProtectedDir(t *testing.T) {
	root := newProject(t, "")
	cfg := DefaultGuardConfig(root)
	cfg.ProtectedDirs = []string{"state/cache/"}

	g, err := NewWriteGuard(cfg)
	require.NoError(t, err)

	requireRule(t, g.Validate("state/cache"), RuleProtectedDir)
	requireRule(t, g.Validate("state/cache/src/a/self-consistency.md"), RuleProtectedDir)
	assert.NoError(t, g.Validate("state/notes.md"))
	assert.NoError(t, g.Validate("state/cachefile"))
}
