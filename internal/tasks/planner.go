package tasks

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"forge/internal/git"
	"forge/internal/graph"
	"forge/internal/logging"
)

// Task is one stage review of one module.
type Task struct {
	SpecPath string
	Module   string
	Stage    Stage
	Level    int
	// Progress is the number of stages the module has completed.
	Progress int
}

// ModuleStatus reports where a module stands.
type ModuleStatus int

const (
	StatusPending ModuleStatus = iota
	StatusInProgress
	StatusComplete
)

func (s ModuleStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusInProgress:
		return "in progress"
	case StatusComplete:
		return "complete"
	default:
		return "unknown"
	}
}

// ModuleState is the computed state of one module.
type ModuleState struct {
	Module       string
	SpecPath     string
	Level        int
	Dependencies []string
	Progress     int
	// Next is the first incomplete stage, empty when complete.
	Next        Stage
	Fingerprint string
}

// Status classifies the module by progress.
func (m ModuleState) Status() ModuleStatus {
	switch {
	case m.Progress >= len(Stages):
		return StatusComplete
	case m.Progress == 0:
		return StatusPending
	default:
		return StatusInProgress
	}
}

// Selector picks one task among candidates with equal progress. It is never
// called with an empty slice.
type Selector func(candidates []Task) Task

// ByLevelThenPath picks the lowest dependency level, then the lexically
// smallest spec path.
func ByLevelThenPath(candidates []Task) Task {
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.Level < best.Level || (c.Level == best.Level && c.SpecPath < best.SpecPath) {
			best = c
		}
	}
	return best
}

// Planner computes review tasks for a specification tree.
type Planner struct {
	cfg      Config
	ignore   *git.GitIgnore
	cache    *Cache
	selector Selector
}

// PlannerOption configures a Planner.
type PlannerOption func(*Planner)

// WithSelector replaces the tie-breaking strategy.
func WithSelector(s Selector) PlannerOption {
	return func(p *Planner) { p.selector = s }
}

// NewPlanner loads the ignore file once and returns a planner. An invalid
// ignore pattern is a *git.PatternError.
func NewPlanner(cfg Config, opts ...PlannerOption) (*Planner, error) {
	cfg = cfg.withDefaults()
	ignore := git.NewGitIgnoreFile(cfg.Root, cfg.IgnoreFile)
	if err := ignore.Load(); err != nil {
		return nil, err
	}

	p := &Planner{
		cfg:      cfg,
		ignore:   ignore,
		cache:    NewCache(cfg.Root, cfg.CacheDir),
		selector: ByLevelThenPath,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Cache returns the stage cache.
func (p *Planner) Cache() *Cache { return p.cache }

// Graph discovers the modules and builds their dependency graph.
func (p *Planner) Graph() (*graph.Graph, error) {
	specs, err := Discover(p.cfg.Root, p.cfg.SourceDir, p.cfg.SpecFile, p.ignore)
	if err != nil {
		return nil, err
	}
	return graph.Build(p.cfg.Root, specs, p.cfg.DepsFile)
}

// Status returns every module's state, ordered by level then path. Drifted
// stage artifacts are pruned as a side effect.
func (p *Planner) Status() ([]ModuleState, error) {
	g, err := p.Graph()
	if err != nil {
		return nil, err
	}

	var states []ModuleState
	for _, n := range g.Order() {
		spec, err := os.ReadFile(filepath.Join(p.cfg.Root, filepath.FromSlash(n.SpecPath)))
		if err != nil {
			return nil, fmt.Errorf("failed to read specification: %w", err)
		}
		progress, err := p.cache.Progress(n.Path, spec)
		if err != nil {
			return nil, err
		}

		st := ModuleState{
			Module:       n.Path,
			SpecPath:     n.SpecPath,
			Level:        n.Level,
			Dependencies: n.Dependencies,
			Progress:     progress,
			Fingerprint:  Fingerprint(spec),
		}
		if progress < len(Stages) {
			st.Next = Stages[progress]
		}
		states = append(states, st)
	}
	return states, nil
}

// Candidates returns the next task of every incomplete module at the
// globally lowest progress, sorted by level then path.
func (p *Planner) Candidates() ([]Task, error) {
	states, err := p.Status()
	if err != nil {
		return nil, err
	}
	return candidates(states), nil
}

func candidates(states []ModuleState) []Task {
	minProgress := len(Stages)
	for _, s := range states {
		if s.Progress < minProgress {
			minProgress = s.Progress
		}
	}
	if minProgress == len(Stages) {
		return nil
	}

	var out []Task
	for _, s := range states {
		if s.Progress != minProgress {
			continue
		}
		out = append(out, Task{
			SpecPath: s.SpecPath,
			Module:   s.Module,
			Stage:    s.Next,
			Level:    s.Level,
			Progress: s.Progress,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Level != out[j].Level {
			return out[i].Level < out[j].Level
		}
		return out[i].SpecPath < out[j].SpecPath
	})
	return out
}

// Next returns the task to run next, or nil when every module is complete.
func (p *Planner) Next() (*Task, error) {
	cands, err := p.Candidates()
	if err != nil {
		return nil, err
	}
	if len(cands) == 0 {
		return nil, nil
	}
	t := p.selector(cands)
	logging.Debug("selected review task",
		"spec", t.SpecPath,
		"stage", t.Stage,
		"candidates", len(cands))
	return &t, nil
}

// Complete records t's stage against the given spec content.
func (p *Planner) Complete(t *Task, spec []byte) error {
	return p.cache.Record(t.Module, t.Stage, spec)
}
