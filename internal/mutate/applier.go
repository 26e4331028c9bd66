// Package mutate applies parsed file mutations to a project tree.
package mutate

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"syscall"

	"github.com/sergi/go-diff/diffmatchpatch"

	"forge/internal/fileutil"
	"forge/internal/logging"
	"forge/internal/protocol"
	"forge/internal/security"
)

// ChangeKind classifies what a mutation did to its file.
type ChangeKind string

const (
	Created   ChangeKind = "created"
	Modified  ChangeKind = "modified"
	Unchanged ChangeKind = "unchanged"
	Deleted   ChangeKind = "deleted"
	// Absent is a delete of a file that did not exist.
	Absent ChangeKind = "absent"
)

// FileChange is the effect of one mutation.
type FileChange struct {
	Path    string
	Kind    ChangeKind
	Added   int
	Removed int
}

// Report lists the effect of every applied mutation, in order.
type Report struct {
	TxID    string
	Changes []FileChange
}

// Count returns how many changes have the given kind.
func (r *Report) Count(kind ChangeKind) int {
	n := 0
	for _, c := range r.Changes {
		if c.Kind == kind {
			n++
		}
	}
	return n
}

// Summary renders one line per change, e.g. "modified src/a.go (+3 -1)".
func (r *Report) Summary() string {
	var b strings.Builder
	for _, c := range r.Changes {
		fmt.Fprintf(&b, "%s %s (+%d -%d)\n", c.Kind, c.Path, c.Added, c.Removed)
	}
	return b.String()
}

// ApplyError is returned when a mutation list could not be applied. Err is a
// *security.Violation for rejected paths.
type ApplyError struct {
	Path string
	Op   string
	Err  error
}

func (e *ApplyError) Error() string {
	return fmt.Sprintf("failed to %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *ApplyError) Unwrap() error { return e.Err }

// Applier validates mutations against a write guard and applies them.
type Applier struct {
	guard *security.Guard
	dmp   *diffmatchpatch.DiffMatchPatch
}

// NewApplier returns an applier that authorizes every path with guard.
func NewApplier(guard *security.Guard) *Applier {
	return &Applier{guard: guard, dmp: diffmatchpatch.New()}
}

// Apply validates every mutation first and writes nothing if any path is
// rejected. Valid lists are applied in order inside a transaction, so an I/O
// failure leaves the tree as it was.
func (a *Applier) Apply(ctx context.Context, mutations []protocol.FileMutation) (*Report, error) {
	resolved := make([]string, len(mutations))
	for i, m := range mutations {
		full, err := a.guard.Resolve(m.Path)
		if err != nil {
			return nil, &ApplyError{Path: m.Path, Op: "validate", Err: err}
		}
		resolved[i] = full
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tx := fileutil.NewTransaction()
	report := &Report{TxID: tx.ID()}
	// Simulated contents, so stats for repeated paths compare against the
	// previous mutation rather than the disk.
	current := make(map[string]*string)

	for i, m := range mutations {
		before, err := a.contentBefore(resolved[i], current)
		if err != nil {
			return nil, &ApplyError{Path: m.Path, Op: "read", Err: err}
		}

		change := FileChange{Path: m.Path}
		if m.IsDelete() {
			if err := tx.Delete(resolved[i]); err != nil {
				return nil, &ApplyError{Path: m.Path, Op: "stage", Err: err}
			}
			change.Kind = Absent
			if before != nil {
				change.Kind = Deleted
				change.Removed = countLines(*before)
			}
		} else {
			if err := tx.Write(resolved[i], []byte(*m.Content)); err != nil {
				return nil, &ApplyError{Path: m.Path, Op: "stage", Err: err}
			}
			change.Kind, change.Added, change.Removed = a.classify(before, *m.Content)
		}
		current[resolved[i]] = m.Content
		report.Changes = append(report.Changes, change)
	}

	if err := tx.Commit(); err != nil {
		path := ""
		var opErr *fileutil.OpError
		if errors.As(err, &opErr) {
			path = a.relative(opErr.Path)
		}
		return nil, &ApplyError{Path: path, Op: "commit", Err: err}
	}

	logging.Debug("mutations applied",
		"tx", report.TxID,
		"files", len(report.Changes),
		"created", report.Count(Created),
		"modified", report.Count(Modified),
		"deleted", report.Count(Deleted))
	return report, nil
}

func (a *Applier) contentBefore(full string, current map[string]*string) (*string, error) {
	if c, ok := current[full]; ok {
		return c, nil
	}
	data, err := os.ReadFile(full)
	// A file under a path that is a regular file is absent; an earlier delete
	// in the same list may clear the way.
	if errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ENOTDIR) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	s := string(data)
	return &s, nil
}

func (a *Applier) classify(before *string, after string) (ChangeKind, int, int) {
	if before == nil {
		return Created, countLines(after), 0
	}
	if *before == after {
		return Unchanged, 0, 0
	}
	added, removed := a.lineStats(*before, after)
	return Modified, added, removed
}

// lineStats counts inserted and deleted lines with a line-mode diff.
func (a *Applier) lineStats(before, after string) (added, removed int) {
	c1, c2, lines := a.dmp.DiffLinesToChars(before, after)
	diffs := a.dmp.DiffMain(c1, c2, false)
	diffs = a.dmp.DiffCharsToLines(diffs, lines)

	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			added += countLines(d.Text)
		case diffmatchpatch.DiffDelete:
			removed += countLines(d.Text)
		}
	}
	return added, removed
}

func countLines(s string) int {
	if s == "" {
		return 0
	}
	n := strings.Count(s, "\n")
	if !strings.HasSuffix(s, "\n") {
		n++
	}
	return n
}

func (a *Applier) relative(full string) string {
	root := a.guard.Root()
	if rel, ok := strings.CutPrefix(full, root+string(os.PathSeparator)); ok {
		return rel
	}
	return full
}
