package tasks

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"forge/internal/fileutil"
	"forge/internal/logging"
)

// DefaultCacheDir holds stage artifacts, relative to the project root.
const DefaultCacheDir = ".forge/cache"

// Cache stores one artifact per completed stage at
// <root>/<dir>/<module>/<stage>.md. An artifact is the exact specification
// content the stage passed against.
type Cache struct {
	root string
	dir  string
}

// NewCache returns a cache under <root>/<dir>.
func NewCache(root, dir string) *Cache {
	if dir == "" {
		dir = DefaultCacheDir
	}
	return &Cache{root: root, dir: dir}
}

// ArtifactPath returns the artifact location for module and stage.
func (c *Cache) ArtifactPath(module string, stage Stage) string {
	return filepath.Join(c.root, filepath.FromSlash(c.dir), filepath.FromSlash(path.Clean(module)), string(stage)+".md")
}

// Progress counts the consecutive stages, from the first, whose artifact
// matches spec byte for byte. The first stage that fails and every later
// artifact are deleted, since none of them were validated against spec.
func (c *Cache) Progress(module string, spec []byte) (int, error) {
	progress := len(Stages)
	for i, stage := range Stages {
		cached, err := os.ReadFile(c.ArtifactPath(module, stage))
		if err == nil && bytes.Equal(cached, spec) {
			continue
		}
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return 0, fmt.Errorf("failed to read stage artifact: %w", err)
		}
		progress = i
		break
	}

	if err := c.prune(module, progress); err != nil {
		return 0, err
	}
	return progress, nil
}

// prune deletes the artifacts of Stages[from:].
func (c *Cache) prune(module string, from int) error {
	for _, stage := range Stages[from:] {
		p := c.ArtifactPath(module, stage)
		err := os.Remove(p)
		if err == nil {
			logging.Info("invalidated stage artifact", "module", module, "stage", stage)
			continue
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to invalidate stage artifact: %w", err)
		}
	}
	return nil
}

// Record marks stage complete for module by writing spec verbatim as its
// artifact. Recording the same content again changes nothing.
func (c *Cache) Record(module string, stage Stage, spec []byte) error {
	if stage.Index() < 0 {
		return fmt.Errorf("unknown stage %q", stage)
	}
	if err := fileutil.AtomicWrite(c.ArtifactPath(module, stage), spec, 0644); err != nil {
		return fmt.Errorf("failed to record stage %s for %s: %w", stage, module, err)
	}
	return nil
}
