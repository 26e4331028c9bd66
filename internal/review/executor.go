// Package review runs specification review stages against the model and
// records the stages that pass.
package review

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"forge/internal/client"
	"forge/internal/graph"
	"forge/internal/logging"
	"forge/internal/mutate"
	"forge/internal/prompt"
	"forge/internal/protocol"
	"forge/internal/runlog"
	"forge/internal/tasks"
)

// Outcome is the result of one executed task.
type Outcome struct {
	Task    tasks.Task
	Status  protocol.Status
	Comment string
	// Report is set for changes-attempted.
	Report *mutate.Report
}

// Recorded reports whether the stage was marked complete.
func (o *Outcome) Recorded() bool { return o.Status == protocol.StatusSuccess }

// Options configures an Executor.
type Options struct {
	Root         string
	Instructions string
	Planner      *tasks.Planner
	Client       client.Querier
	Applier      *mutate.Applier
	Recorder     runlog.Recorder
}

// Executor runs review tasks one at a time.
type Executor struct {
	root     string
	planner  *tasks.Planner
	client   client.Querier
	applier  *mutate.Applier
	prompts  *prompt.Builder
	recorder runlog.Recorder
}

// NewExecutor returns an executor.
func NewExecutor(opts Options) (*Executor, error) {
	if opts.Planner == nil || opts.Client == nil || opts.Applier == nil {
		return nil, fmt.Errorf("review: planner, client and applier are required")
	}
	if opts.Recorder == nil {
		opts.Recorder = runlog.Nop{}
	}
	return &Executor{
		root:     opts.Root,
		planner:  opts.Planner,
		client:   opts.Client,
		applier:  opts.Applier,
		prompts:  prompt.NewBuilder(opts.Instructions),
		recorder: opts.Recorder,
	}, nil
}

// SetRecorder replaces the recorder for subsequent tasks.
func (e *Executor) SetRecorder(r runlog.Recorder) {
	if r == nil {
		r = runlog.Nop{}
	}
	e.recorder = r
}

// Execute reviews one task. The specification is read once up front; a
// success records exactly that content, even if the file changes while the
// model is answering.
func (e *Executor) Execute(ctx context.Context, task *tasks.Task) (*Outcome, error) {
	spec, err := e.readFile(task.SpecPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read specification: %w", err)
	}

	related, err := e.related(task)
	if err != nil {
		return nil, err
	}

	text := e.prompts.Review(prompt.ReviewInput{
		Stage:    task.Stage.String(),
		Goal:     task.Stage.Goal(),
		SpecPath: task.SpecPath,
		Spec:     string(spec),
		Related:  related,
	})

	e.recorder.Record(runlog.KindPrompt, text)
	answer, err := e.client.Query(ctx, text)
	e.recorder.ObserveQuery(err)
	if err != nil {
		return nil, err
	}
	e.recorder.Record(runlog.KindResponse, answer)

	resp, err := protocol.Parse(answer)
	if err != nil {
		return nil, err
	}
	if err := resp.RequireStatus(); err != nil {
		return nil, err
	}

	out := &Outcome{Task: *task, Status: resp.Status, Comment: resp.Comment}
	if resp.HasComment {
		e.recorder.Record(runlog.KindComment, resp.Comment)
	}
	log := logging.With("spec", task.SpecPath, "stage", task.Stage, "status", resp.Status)

	switch resp.Status {
	case protocol.StatusSuccess:
		if len(resp.Mutations) > 0 {
			log.Warn("ignoring file blocks in a success response", "count", len(resp.Mutations))
		}
		if err := e.planner.Complete(task, spec); err != nil {
			return nil, err
		}
	case protocol.StatusChangesAttempted:
		report, err := e.applier.Apply(ctx, resp.Mutations)
		if err != nil {
			return nil, err
		}
		e.recorder.ObserveApply(report)
		if len(report.Changes) > 0 {
			e.recorder.Record(runlog.KindChanges, report.Summary())
		}
		out.Report = report
	}

	log.Info("review stage finished")
	return out, nil
}

// related returns the specifications a stage is checked against: the
// module's dependencies, or every other module for the project stage.
func (e *Executor) related(task *tasks.Task) ([]prompt.File, error) {
	if task.Stage == tasks.StageSelfConsistency {
		return nil, nil
	}

	g, err := e.planner.Graph()
	if err != nil {
		return nil, err
	}

	var nodes []*graph.Node
	if task.Stage == tasks.StageProjectConsistency {
		for _, n := range g.Order() {
			if n.Path != task.Module {
				nodes = append(nodes, n)
			}
		}
	} else if self, ok := g.Node(task.Module); ok {
		for _, dep := range self.Dependencies {
			if n, ok := g.Node(dep); ok {
				nodes = append(nodes, n)
			}
		}
	}

	files := make([]prompt.File, 0, len(nodes))
	for _, n := range nodes {
		data, err := e.readFile(n.SpecPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read specification: %w", err)
		}
		files = append(files, prompt.File{Path: n.SpecPath, Content: string(data)})
	}
	return files, nil
}

func (e *Executor) readFile(rel string) ([]byte, error) {
	return os.ReadFile(filepath.Join(e.root, filepath.FromSlash(rel)))
}

// Summary is the result of Run.
type Summary struct {
	Outcomes []*Outcome
	// Complete is set when no task remains.
	Complete bool
}

// Last returns the final outcome, or nil.
func (s *Summary) Last() *Outcome {
	if len(s.Outcomes) == 0 {
		return nil
	}
	return s.Outcomes[len(s.Outcomes)-1]
}

// Run executes tasks until none remain, a stage does not pass, or maxTasks
// tasks have run. maxTasks <= 0 means no limit.
func (e *Executor) Run(ctx context.Context, maxTasks int) (*Summary, error) {
	summary := &Summary{}
	for maxTasks <= 0 || len(summary.Outcomes) < maxTasks {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		task, err := e.planner.Next()
		if err != nil {
			return summary, err
		}
		if task == nil {
			summary.Complete = true
			return summary, nil
		}

		out, err := e.Execute(ctx, task)
		if err != nil {
			return summary, fmt.Errorf("%s (%s): %w", task.SpecPath, task.Stage, err)
		}
		summary.Outcomes = append(summary.Outcomes, out)
		if !out.Recorded() {
			return summary, nil
		}
	}
	return summary, nil
}
