package tasks

import (
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"

	"github.com/zeebo/blake3"

	"forge/internal/git"
	"forge/internal/graph"
)

// Config locates the specification tree.
type Config struct {
	Root      string
	SourceDir string
	SpecFile  string
	DepsFile  string
	CacheDir  string
	// IgnoreFile is read from Root; empty means .gitignore.
	IgnoreFile string
}

func (c Config) withDefaults() Config {
	if c.SourceDir == "" {
		c.SourceDir = "src"
	}
	if c.SpecFile == "" {
		c.SpecFile = "spec.md"
	}
	if c.DepsFile == "" {
		c.DepsFile = graph.DefaultDepsFile
	}
	if c.CacheDir == "" {
		c.CacheDir = DefaultCacheDir
	}
	return c
}

// Discover walks <root>/<sourceDir> for files named specFile and returns their
// slash-separated paths relative to root, sorted. Hidden entries are
// included; ignored entries and .git are skipped.
func Discover(root, sourceDir, specFile string, ignore *git.GitIgnore) ([]string, error) {
	base := filepath.Join(root, filepath.FromSlash(sourceDir))
	if _, err := os.Stat(base); err != nil {
		return nil, fmt.Errorf("source directory: %w", err)
	}

	var specs []string
	err := filepath.WalkDir(base, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if d.Name() == ".git" || (p != base && ignore != nil && ignore.IsIgnoredRel(rel, true)) {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Name() != specFile || !d.Type().IsRegular() {
			return nil
		}
		if ignore != nil && ignore.IsIgnoredRel(rel, false) {
			return nil
		}
		specs = append(specs, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(specs)
	return specs, nil
}

// Fingerprint is the hex blake3 digest of spec content.
func Fingerprint(spec []byte) string {
	sum := blake3.Sum256(spec)
	return hex.EncodeToString(sum[:])
}

// ModuleDir returns the module directory of a spec path.
func ModuleDir(specPath string) string {
	return path.Dir(filepath.ToSlash(specPath))
}
