package runlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"forge/internal/build"
	"forge/internal/logging"
	"forge/internal/mutate"
	"forge/internal/security"
)

// MetricsFile is written into the run directory on Close.
const MetricsFile = "metrics.prom"

// IndexFile lists the recorded entries of a run.
const IndexFile = "run.json"

const timestampLayout = "20060102T150405Z"

// Entry describes one recorded file.
type Entry struct {
	Seq       int       `json:"seq"`
	Kind      Kind      `json:"kind"`
	File      string    `json:"file"`
	Bytes     int       `json:"bytes"`
	Timestamp time.Time `json:"timestamp"`
}

// Index is the content of run.json.
type Index struct {
	ID       string    `json:"id"`
	Command  string    `json:"command"`
	Backend  string    `json:"backend"`
	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished,omitzero"`
	Outcome  string    `json:"outcome,omitempty"`
	Entries  []Entry   `json:"entries"`
}

// Run writes one run directory. It is safe for concurrent use.
type Run struct {
	dir      string
	redactor *security.SecretRedactor
	metrics  *Metrics
	now      func() time.Time

	mu     sync.Mutex
	seq    int
	index  Index
	closed bool
}

// Options configures Open.
type Options struct {
	// Command names what started the run, e.g. "build" or "review".
	Command string
	Backend string
	// Redactor masks secrets before anything is written. Nil uses a new
	// SecretRedactor with the default patterns.
	Redactor *security.SecretRedactor
	Now      func() time.Time
}

// Open creates <runsDir>/<UTC timestamp>-<ULID>/.
func Open(runsDir string, opts Options) (*Run, error) {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	redactor := opts.Redactor
	if redactor == nil {
		redactor = security.NewSecretRedactor()
	}

	started := now().UTC()
	id := ulid.MustNew(ulid.Timestamp(started), ulid.DefaultEntropy()).String()
	dir := filepath.Join(runsDir, started.Format(timestampLayout)+"-"+id)

	// Prompts may contain project source; keep the directory private.
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create run directory: %w", err)
	}

	r := &Run{
		dir:      dir,
		redactor: redactor,
		metrics:  NewMetrics(),
		now:      now,
		index: Index{
			ID:      id,
			Command: opts.Command,
			Backend: opts.Backend,
			Started: started,
		},
	}
	if err := r.writeIndex(); err != nil {
		return nil, err
	}
	logging.Info("run log opened", "dir", dir)
	return r, nil
}

// Dir returns the run directory.
func (r *Run) Dir() string { return r.dir }

// ID returns the run's ULID.
func (r *Run) ID() string { return r.index.ID }

// Metrics returns the run's metric set.
func (r *Run) Metrics() *Metrics { return r.metrics }

// Record writes content to the next NNN-<kind>.txt file.
func (r *Run) Record(kind Kind, content string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	r.seq++
	name := fmt.Sprintf("%03d-%s.txt", r.seq, kind)
	redacted := r.redactor.Redact(content)

	if err := os.WriteFile(filepath.Join(r.dir, name), []byte(redacted), 0600); err != nil {
		logging.Warn("failed to record run artifact", "file", name, "error", err)
		return
	}
	r.index.Entries = append(r.index.Entries, Entry{
		Seq:       r.seq,
		Kind:      kind,
		File:      name,
		Bytes:     len(redacted),
		Timestamp: r.now().UTC(),
	})
	if err := r.writeIndexLocked(); err != nil {
		logging.Warn("failed to update run index", "error", err)
	}
}

func (r *Run) ObserveQuery(err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	r.metrics.Queries.WithLabelValues(r.index.Backend, outcome).Inc()
}

func (r *Run) ObserveApply(report *mutate.Report) {
	if report == nil {
		return
	}
	for _, c := range report.Changes {
		r.metrics.Mutations.WithLabelValues(string(c.Kind)).Inc()
	}
}

func (r *Run) ObserveBuild(res *build.Result) {
	if res == nil {
		return
	}
	result := "failed"
	if res.Passed() {
		result = "passed"
	}
	r.metrics.Builds.WithLabelValues(result).Inc()
	r.metrics.BuildSeconds.Observe(res.Duration.Seconds())
}

// Close records the outcome and writes metrics.prom. Later calls are no-ops.
func (r *Run) Close(outcome string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	r.index.Outcome = outcome
	r.index.Finished = r.now().UTC()

	if err := r.writeIndexLocked(); err != nil {
		return err
	}
	if err := r.metrics.WriteFile(filepath.Join(r.dir, MetricsFile)); err != nil {
		return fmt.Errorf("failed to write metrics: %w", err)
	}
	return nil
}

func (r *Run) writeIndex() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writeIndexLocked()
}

func (r *Run) writeIndexLocked() error {
	data, err := json.MarshalIndent(r.index, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(r.dir, IndexFile), data, 0600)
}

// RunInfo summarizes a run directory on disk.
type RunInfo struct {
	Dir string
	Index
}

// List returns the runs under runsDir, newest first. Directories without a
// readable index are skipped.
func List(runsDir string) ([]RunInfo, error) {
	entries, err := os.ReadDir(runsDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var runs []RunInfo
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		dir := filepath.Join(runsDir, e.Name())
		data, err := os.ReadFile(filepath.Join(dir, IndexFile))
		if err != nil {
			continue
		}
		var idx Index
		if err := json.Unmarshal(data, &idx); err != nil {
			continue
		}
		runs = append(runs, RunInfo{Dir: dir, Index: idx})
	}

	// Directory names start with the timestamp, so name order is time order.
	sort.Slice(runs, func(i, j int) bool { return runs[i].Dir > runs[j].Dir })
	return runs, nil
}
