package watcher

import "time"

// Operation represents the type of file system operation.
type Operation int

const (
	OpCreate Operation = iota
	OpModify
	OpDelete
	OpRename
)

// String returns the string representation of the operation.
func (op Operation) String() string {
	switch op {
	case OpCreate:
		return "create"
	case OpModify:
		return "modify"
	case OpDelete:
		return "delete"
	case OpRename:
		return "rename"
	default:
		return "unknown"
	}
}

// Event is one settled change, with a slash-separated path relative to the
// watched root.
type Event struct {
	Path      string
	Operation Operation
	Time      time.Time
}

// Config holds file watcher configuration.
type Config struct {
	// Debounce is how long the tree must stay quiet before a batch is
	// delivered.
	Debounce   time.Duration
	MaxWatches int
	// Filter selects the relative file paths worth reporting. Nil reports
	// everything that is not ignored.
	Filter func(rel string) bool
}

// DefaultConfig returns the default watcher configuration.
func DefaultConfig() Config {
	return Config{
		Debounce:   500 * time.Millisecond,
		MaxWatches: 1000,
	}
}

// Handler receives each debounced batch, sorted by path. It runs on the
// watcher's goroutine; events arriving meanwhile are queued for the next
// batch.
type Handler func(events []Event)

// skipDirs are never watched.
var skipDirs = map[string]bool{
	".git":         true,
	".forge":       true,
	"node_modules": true,
	"vendor":       true,
	".idea":        true,
	".vscode":      true,
	"__pycache__":  true,
}
