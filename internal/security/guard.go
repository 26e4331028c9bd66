package security

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"forge/internal/git"
)

// Rule identifies which guard check rejected a path.
type Rule string

const (
	RuleEmpty         Rule = "empty"
	RuleAbsolute      Rule = "absolute"
	RuleTraversal     Rule = "traversal"
	RuleForbiddenFile Rule = "forbidden-file"
	RuleProtectedDir  Rule = "protected-dir"
	RuleIgnored       Rule = "ignored"
	RuleSymlink       Rule = "symlink-escape"
)

// Violation is returned for a path the guard refuses.
type Violation struct {
	Path   string
	Rule   Rule
	Detail string
}

func (v *Violation) Error() string {
	if v.Detail == "" {
		return fmt.Sprintf("path %q rejected (%s)", v.Path, v.Rule)
	}
	return fmt.Sprintf("path %q rejected (%s): %s", v.Path, v.Rule, v.Detail)
}

// GuardConfig describes the project root and its protected entries.
type GuardConfig struct {
	Root       string
	IgnoreFile string

	// ForbiddenFiles are root-relative paths that can never be written.
	ForbiddenFiles []string
	// ProtectedNames are base names that can never be written at any depth.
	ProtectedNames []string
	// ProtectedDirs are root-relative directories whose contents can never
	// be written.
	ProtectedDirs []string
	// ReadProtectedDirs are root-relative directories whose contents can
	// never be read.
	ReadProtectedDirs []string
}

// DefaultGuardConfig returns the protection set used when nothing is configured.
func DefaultGuardConfig(root string) GuardConfig {
	return GuardConfig{
		Root:              root,
		IgnoreFile:        git.DefaultIgnoreFile,
		ForbiddenFiles:    []string{".gitignore", "go.sum", "build.sh", "AGENTS.md"},
		ProtectedNames:    []string{"spec.md"},
		ProtectedDirs:     []string{".git", "build", ".forge"},
		ReadProtectedDirs: []string{".git"},
	}
}

// Guard authorizes relative paths for mutation (write guard) or context
// gathering (read guard).
type Guard struct {
	root           string
	forbidden      map[string]bool
	protectedNames map[string]bool
	protectedDirs  map[string]bool
	checkFiles     bool
	ignore         *git.GitIgnore
}

// NewWriteGuard builds the guard that authorizes file mutations.
func NewWriteGuard(cfg GuardConfig) (*Guard, error) {
	g, err := newGuard(cfg, cfg.ProtectedDirs)
	if err != nil {
		return nil, err
	}
	g.checkFiles = true
	return g, nil
}

// NewReadGuard builds the permissive guard used for reading context files.
// It skips the forbidden-file checks and only protects ReadProtectedDirs.
func NewReadGuard(cfg GuardConfig) (*Guard, error) {
	return newGuard(cfg, cfg.ReadProtectedDirs)
}

func newGuard(cfg GuardConfig, dirs []string) (*Guard, error) {
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root: %w", err)
	}

	ignore := git.NewGitIgnoreFile(root, cfg.IgnoreFile)
	if err := ignore.Load(); err != nil {
		return nil, fmt.Errorf("failed to load ignore rules: %w", err)
	}

	g := &Guard{
		root:           root,
		forbidden:      make(map[string]bool, len(cfg.ForbiddenFiles)),
		protectedNames: make(map[string]bool, len(cfg.ProtectedNames)),
		protectedDirs:  make(map[string]bool, len(dirs)),
		ignore:         ignore,
	}
	for _, f := range cfg.ForbiddenFiles {
		g.forbidden[path.Clean(filepath.ToSlash(f))] = true
	}
	for _, n := range cfg.ProtectedNames {
		g.protectedNames[n] = true
	}
	for _, d := range dirs {
		if d = path.Clean(strings.Trim(filepath.ToSlash(d), "/")); d != "." {
			g.protectedDirs[d] = true
		}
	}
	return g, nil
}

// Root returns the absolute project root.
func (g *Guard) Root() string {
	return g.root
}

// Validate checks p against every rule of this guard. It has no side effects.
func (g *Guard) Validate(p string) error {
	_, err := g.normalize(p)
	return err
}

func (g *Guard) normalize(p string) (string, error) {
	if p == "" || strings.Contains(p, "\x00") {
		return "", &Violation{Path: p, Rule: RuleEmpty, Detail: "empty path or NUL byte"}
	}

	slashed := strings.ReplaceAll(p, `\`, "/")
	if strings.HasPrefix(slashed, "/") || filepath.IsAbs(p) || filepath.VolumeName(p) != "" {
		return "", &Violation{Path: p, Rule: RuleAbsolute}
	}

	if hasParentComponent(slashed) {
		return "", &Violation{Path: p, Rule: RuleTraversal}
	}
	clean := path.Clean(slashed)
	// Normalization must not be able to hide a traversal; scan again.
	if hasParentComponent(clean) {
		return "", &Violation{Path: p, Rule: RuleTraversal, Detail: "after normalization"}
	}
	if clean == "." {
		return "", &Violation{Path: p, Rule: RuleEmpty, Detail: "path names the project root"}
	}

	if g.checkFiles {
		if g.forbidden[clean] {
			return "", &Violation{Path: p, Rule: RuleForbiddenFile}
		}
		if g.protectedNames[path.Base(clean)] {
			return "", &Violation{Path: p, Rule: RuleForbiddenFile, Detail: "protected file name"}
		}
	}

	if dir, ok := g.protectedDir(clean); ok {
		return "", &Violation{Path: p, Rule: RuleProtectedDir, Detail: dir}
	}

	info, err := os.Stat(filepath.Join(g.root, filepath.FromSlash(clean)))
	isDir := err == nil && info.IsDir()
	if g.ignore.IsIgnoredRel(clean, isDir) {
		return "", &Violation{Path: p, Rule: RuleIgnored}
	}

	return clean, nil
}

// protectedDir reports the protected directory that clean is, or lies in.
func (g *Guard) protectedDir(clean string) (string, bool) {
	for i := 0; i <= len(clean); i++ {
		if i < len(clean) && clean[i] != '/' {
			continue
		}
		if prefix := clean[:i]; g.protectedDirs[prefix] {
			return prefix, true
		}
	}
	return "", false
}

func hasParentComponent(slashed string) bool {
	for _, part := range strings.Split(slashed, "/") {
		if part == ".." {
			return true
		}
	}
	return false
}

// Resolve validates p and returns its absolute location under the root.
// Existing symlinked parents that point outside the root are rejected.
func (g *Guard) Resolve(p string) (string, error) {
	clean, err := g.normalize(p)
	if err != nil {
		return "", err
	}
	full := filepath.Join(g.root, filepath.FromSlash(clean))

	resolvedRoot, err := filepath.EvalSymlinks(g.root)
	if err != nil {
		return "", fmt.Errorf("failed to resolve root: %w", err)
	}
	// Walk up to the deepest existing ancestor and make sure it stays inside.
	existing := full
	for {
		if _, err := os.Lstat(existing); err == nil {
			break
		}
		parent := filepath.Dir(existing)
		if parent == existing {
			break
		}
		existing = parent
	}
	resolved, err := filepath.EvalSymlinks(existing)
	if err != nil {
		return "", fmt.Errorf("failed to resolve symlinks: %w", err)
	}
	if !isPathWithin(resolved, resolvedRoot) {
		return "", &Violation{Path: p, Rule: RuleSymlink, Detail: resolved}
	}
	return full, nil
}

// isPathWithin checks if target is base or below it.
func isPathWithin(target, base string) bool {
	rel, err := filepath.Rel(base, target)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
