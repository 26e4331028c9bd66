package fileutil

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/google/uuid"
)

// Transaction applies a list of writes and deletes in order and restores
// the previous state if any of them fails.
//
// Commit runs in two phases: every existing target is backed up, then the
// operations are applied. A failure in either phase rolls back what was
// already applied, including directories the transaction created.
type Transaction struct {
	id          string
	operations  []Operation
	backupDir   string
	createdDirs []string
	committed   bool
	rolledBack  bool
	mu          sync.Mutex
}

// Operation is one staged change.
type Operation struct {
	Type    OperationType
	Path    string
	Content []byte
	Mode    os.FileMode

	backup  string
	existed bool
	applied bool
}

// OperationType defines the type of file operation.
type OperationType int

const (
	// OpWrite creates or overwrites a file.
	OpWrite OperationType = iota
	// OpDelete removes a file if it exists.
	OpDelete
)

func (t OperationType) String() string {
	switch t {
	case OpWrite:
		return "write"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// OpError reports the operation that failed during Commit.
type OpError struct {
	Op   OperationType
	Path string
	Err  error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

var errFinalized = errors.New("transaction already finalized")

// NewTransaction creates an empty transaction.
func NewTransaction() *Transaction {
	return &Transaction{id: uuid.NewString()}
}

// ID returns the transaction ID.
func (tx *Transaction) ID() string {
	return tx.id
}

// Write stages writing content to the absolute path. The file keeps its
// current permissions, or gets 0644 when new.
func (tx *Transaction) Write(path string, content []byte) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.committed || tx.rolledBack {
		return errFinalized
	}
	tx.operations = append(tx.operations, Operation{
		Type:    OpWrite,
		Path:    path,
		Content: content,
		Mode:    ExistingMode(path, 0644),
	})
	return nil
}

// Delete stages removing the absolute path. A missing file is not an error.
func (tx *Transaction) Delete(path string) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.committed || tx.rolledBack {
		return errFinalized
	}
	tx.operations = append(tx.operations, Operation{Type: OpDelete, Path: path})
	return nil
}

// Len returns the number of staged operations.
func (tx *Transaction) Len() int {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return len(tx.operations)
}

// Commit applies all staged operations in order. On failure everything
// already applied is rolled back and an *OpError is returned.
func (tx *Transaction) Commit() error {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.committed || tx.rolledBack {
		return errFinalized
	}
	defer tx.cleanup()

	if err := tx.backupPhase(); err != nil {
		tx.rollbackLocked()
		return err
	}
	if err := tx.applyPhase(); err != nil {
		tx.rollbackLocked()
		return err
	}
	tx.committed = true
	return nil
}

func (tx *Transaction) backupPhase() error {
	seen := make(map[string]int)
	for i := range tx.operations {
		op := &tx.operations[i]

		// Later operations on the same path share the first backup: rollback
		// must restore the state before the transaction, not an intermediate one.
		if j, ok := seen[op.Path]; ok {
			op.backup = tx.operations[j].backup
			op.existed = tx.operations[j].existed
			continue
		}
		seen[op.Path] = i

		info, err := os.Stat(op.Path)
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ENOTDIR) {
			continue
		}
		if err != nil {
			return &OpError{Op: op.Type, Path: op.Path, Err: err}
		}
		if info.IsDir() {
			return &OpError{Op: op.Type, Path: op.Path, Err: errors.New("is a directory")}
		}

		if tx.backupDir == "" {
			dir, err := os.MkdirTemp("", "forge-tx-"+tx.id+"-")
			if err != nil {
				return fmt.Errorf("failed to create backup dir: %w", err)
			}
			tx.backupDir = dir
		}
		backup := filepath.Join(tx.backupDir, fmt.Sprintf("backup-%d", i))
		if err := copyFile(op.Path, backup); err != nil {
			return &OpError{Op: op.Type, Path: op.Path, Err: fmt.Errorf("backup failed: %w", err)}
		}
		op.backup = backup
		op.existed = true
	}
	return nil
}

func (tx *Transaction) applyPhase() error {
	for i := range tx.operations {
		op := &tx.operations[i]

		var err error
		switch op.Type {
		case OpWrite:
			err = tx.applyWrite(op)
		case OpDelete:
			err = os.Remove(op.Path)
			if errors.Is(err, fs.ErrNotExist) {
				err = nil
			}
		}
		if err != nil {
			return &OpError{Op: op.Type, Path: op.Path, Err: err}
		}
		op.applied = true
	}
	return nil
}

func (tx *Transaction) applyWrite(op *Operation) error {
	if err := tx.mkdirAll(filepath.Dir(op.Path)); err != nil {
		return err
	}
	return AtomicWrite(op.Path, op.Content, op.Mode)
}

// mkdirAll creates dir and records each directory it had to create, outermost
// first.
func (tx *Transaction) mkdirAll(dir string) error {
	var missing []string
	for d := dir; ; d = filepath.Dir(d) {
		if _, err := os.Stat(d); err == nil {
			break
		}
		missing = append(missing, d)
		if filepath.Dir(d) == d {
			break
		}
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	for i := len(missing) - 1; i >= 0; i-- {
		tx.createdDirs = append(tx.createdDirs, missing[i])
	}
	return nil
}

// Rollback undoes applied operations of an uncommitted transaction.
func (tx *Transaction) Rollback() error {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.committed {
		return errors.New("cannot rollback committed transaction")
	}
	if tx.rolledBack {
		return nil
	}
	tx.rollbackLocked()
	tx.cleanup()
	return nil
}

func (tx *Transaction) rollbackLocked() {
	for i := len(tx.operations) - 1; i >= 0; i-- {
		op := &tx.operations[i]
		if !op.applied {
			continue
		}
		if op.existed {
			_ = copyFile(op.backup, op.Path)
		} else {
			_ = os.Remove(op.Path)
		}
	}
	// Innermost first; os.Remove leaves non-empty directories alone.
	for i := len(tx.createdDirs) - 1; i >= 0; i-- {
		_ = os.Remove(tx.createdDirs[i])
	}
	tx.rolledBack = true
}

func (tx *Transaction) cleanup() {
	if tx.backupDir != "" {
		_ = os.RemoveAll(tx.backupDir)
		tx.backupDir = ""
	}
}

// copyFile copies src to dst, preserving permissions.
func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return AtomicWrite(dst, data, ExistingMode(src, 0644))
}
