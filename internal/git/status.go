package git

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sort"
	"strings"
)

// FileStatus represents the porcelain status code of a file.
type FileStatus string

const (
	StatusUntracked FileStatus = "?"
	StatusModified  FileStatus = "M"
	StatusAdded     FileStatus = "A"
	StatusDeleted   FileStatus = "D"
	StatusRenamed   FileStatus = "R"
	StatusCopied    FileStatus = "C"
	StatusUnknown   FileStatus = " "
)

// StatusEntry represents a file's git status.
type StatusEntry struct {
	Path   string
	Status FileStatus
}

// ErrNotRepository is returned when the directory is not inside a git work tree.
var ErrNotRepository = errors.New("not a git repository")

// DirtyTreeError lists the uncommitted paths that block a run.
type DirtyTreeError struct {
	Entries []StatusEntry
}

func (e *DirtyTreeError) Error() string {
	paths := make([]string, 0, len(e.Entries))
	for _, entry := range e.Entries {
		paths = append(paths, entry.Path)
	}
	return fmt.Sprintf("working tree has %d uncommitted change(s): %s", len(paths), strings.Join(paths, ", "))
}

// Status runs `git status --porcelain` in workDir.
func Status(ctx context.Context, workDir string) ([]StatusEntry, error) {
	if !IsGitRepo(ctx, workDir) {
		return nil, ErrNotRepository
	}

	cmd := exec.CommandContext(ctx, "git", "status", "--porcelain", "-uall")
	cmd.Dir = workDir
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("git status: %w", err)
	}
	return parsePorcelain(string(output)), nil
}

func parsePorcelain(output string) []StatusEntry {
	var entries []StatusEntry
	for _, line := range strings.Split(output, "\n") {
		if len(line) < 4 {
			continue
		}

		status := FileStatus(string(line[1]))
		if status == " " {
			status = FileStatus(string(line[0]))
		}
		path := strings.TrimSpace(line[3:])

		// "R  old -> new"
		if _, newPath, ok := strings.Cut(path, " -> "); ok {
			path = newPath
		}
		entries = append(entries, StatusEntry{Path: path, Status: status})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries
}

// RequireClean returns *DirtyTreeError when workDir has uncommitted changes.
func RequireClean(ctx context.Context, workDir string) error {
	entries, err := Status(ctx, workDir)
	if err != nil {
		return err
	}
	if len(entries) > 0 {
		return &DirtyTreeError{Entries: entries}
	}
	return nil
}

// IsGitRepo checks if the working directory is a git repository.
func IsGitRepo(ctx context.Context, workDir string) bool {
	cmd := exec.CommandContext(ctx, "git", "rev-parse", "--git-dir")
	cmd.Dir = workDir
	return cmd.Run() == nil
}
