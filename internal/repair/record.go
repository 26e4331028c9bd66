package repair

import "forge/internal/protocol"

// AttemptRecord accumulates the mutations applied during one run. Each path
// keeps only its latest mutation, in the order paths were first touched.
type AttemptRecord struct {
	order  []string
	latest map[string]protocol.FileMutation
}

// NewAttemptRecord returns an empty record.
func NewAttemptRecord() *AttemptRecord {
	return &AttemptRecord{latest: make(map[string]protocol.FileMutation)}
}

// Add folds applied mutations into the record.
func (r *AttemptRecord) Add(mutations []protocol.FileMutation) {
	for _, m := range mutations {
		if _, seen := r.latest[m.Path]; !seen {
			r.order = append(r.order, m.Path)
		}
		r.latest[m.Path] = m
	}
}

// Changes returns the latest mutation per path.
func (r *AttemptRecord) Changes() []protocol.FileMutation {
	out := make([]protocol.FileMutation, 0, len(r.order))
	for _, p := range r.order {
		out = append(out, r.latest[p])
	}
	return out
}

// Len returns the number of distinct paths changed.
func (r *AttemptRecord) Len() int { return len(r.order) }
