// Package app wires configuration, guards, the model client and the run log
// into the build and review commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"strings"

	"forge/internal/build"
	"forge/internal/client"
	"forge/internal/config"
	"forge/internal/git"
	"forge/internal/logging"
	"forge/internal/mutate"
	"forge/internal/repair"
	"forge/internal/review"
	"forge/internal/runlog"
	"forge/internal/security"
	"forge/internal/tasks"
	"forge/internal/ui"
	"forge/internal/watcher"
)

// DefaultTask is sent when neither the command line nor the config names one.
const DefaultTask = "Make the build pass. Change as little as necessary."

// App holds the components shared by every command.
type App struct {
	cfg     *config.Config
	printer *ui.Printer

	readGuard *security.Guard
	applier   *mutate.Applier
	planner   *tasks.Planner

	// querier is created on first use; commands that never talk to the
	// model do not need an API key.
	querier    client.Querier
	newQuerier func() (client.Querier, error)
	redactor   *security.SecretRedactor
}

// Config returns the merged configuration.
func (a *App) Config() *config.Config { return a.cfg }

// Printer returns the output printer.
func (a *App) Printer() *ui.Printer { return a.printer }

func (a *App) model() (client.Querier, error) {
	if a.querier != nil {
		return a.querier, nil
	}
	q, err := a.newQuerier()
	if err != nil {
		return nil, err
	}
	a.querier = q
	return q, nil
}

func (a *App) openRun(command string) (*runlog.Run, error) {
	return runlog.Open(a.cfg.Path(a.cfg.Logging.RunsDir), runlog.Options{
		Command:  command,
		Backend:  a.cfg.API.Backend,
		Redactor: a.redactor,
	})
}

// readInstructions returns the contents of a root-relative instructions
// file, or "" when none is configured.
func (a *App) readInstructions(rel string) (string, error) {
	if rel == "" {
		return "", nil
	}
	full, err := a.readGuard.Resolve(rel)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return "", fmt.Errorf("failed to read instructions: %w", err)
	}
	return string(data), nil
}

// RunBuild runs the build-repair loop. An empty task uses the configured one.
func (a *App) RunBuild(ctx context.Context, task string) error {
	if task == "" {
		task = a.cfg.Build.Task
	}
	if task == "" {
		task = DefaultTask
	}
	instructions, err := a.readInstructions(a.cfg.Build.InstructionsFile)
	if err != nil {
		return err
	}
	q, err := a.model()
	if err != nil {
		return err
	}

	run, err := a.openRun("build")
	if err != nil {
		return err
	}

	loop, err := repair.New(repair.Options{
		Root:              a.cfg.Root,
		Task:              task,
		Instructions:      instructions,
		ContextFiles:      a.cfg.Build.ContextFiles,
		MaxAttempts:       a.cfg.Build.MaxAttempts,
		RequestExtraFiles: a.cfg.Build.RequestExtraFiles,
		RequireClean:      a.cfg.VCS.RequireClean,
		Client:            q,
		Builder:           build.NewScriptRunner(a.cfg.Build.Script, a.cfg.Build.Timeout),
		Applier:           a.applier,
		ReadGuard:         a.readGuard,
		Recorder:          run,
	})
	if err != nil {
		a.closeRun(run, "error")
		return err
	}

	res, err := loop.Run(ctx)
	var exhausted *repair.ExhaustedError
	switch {
	case err == nil:
		a.closeRun(run, "passed")
		a.printer.RepairResult(res, run.Dir())
		return nil
	case errors.As(err, &exhausted):
		a.closeRun(run, "exhausted")
		a.printer.RepairFailure(exhausted, run.Dir())
		return err
	default:
		a.closeRun(run, outcomeOf(ctx, err))
		return err
	}
}

// RunReview reviews specifications until one needs changes, maxTasks stages
// ran, or every module is complete. With watch set it then re-runs whenever a
// specification or dependency file changes, until ctx is cancelled.
func (a *App) RunReview(ctx context.Context, maxTasks int, watch bool) error {
	instructions, err := a.readInstructions(a.cfg.Review.InstructionsFile)
	if err != nil {
		return err
	}
	q, err := a.model()
	if err != nil {
		return err
	}
	exec, err := review.NewExecutor(review.Options{
		Root:         a.cfg.Root,
		Instructions: instructions,
		Planner:      a.planner,
		Client:       q,
		Applier:      a.applier,
	})
	if err != nil {
		return err
	}

	if err := a.reviewOnce(ctx, exec, maxTasks); err != nil {
		if !watch || ctx.Err() != nil {
			return err
		}
		a.printer.Error(err)
	}
	if !watch {
		return nil
	}

	ignore := git.NewGitIgnoreFile(a.cfg.Root, a.cfg.Guard.IgnoreFile)
	if err := ignore.Load(); err != nil {
		return err
	}
	w, err := watcher.NewWatcher(a.cfg.Root, ignore, watcher.Config{
		Debounce: a.cfg.Review.Debounce,
		Filter:   a.reviewInputs,
	})
	if err != nil {
		return fmt.Errorf("failed to start watcher: %w", err)
	}

	a.printer.Info("Watching %s for changes (Ctrl+C to stop)", a.cfg.Review.SourceDir)
	err = w.Run(ctx, func(events []watcher.Event) {
		a.printer.Changes(events)
		err := HandleWithRecovery("review", func() error {
			return a.reviewOnce(ctx, exec, maxTasks)
		})
		if err != nil && ctx.Err() == nil {
			a.printer.Error(err)
		}
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// reviewInputs selects the files whose changes affect review progress.
func (a *App) reviewInputs(rel string) bool {
	base := path.Base(rel)
	return base == a.cfg.Review.SpecFile || base == a.cfg.Review.DepsFile
}

func (a *App) reviewOnce(ctx context.Context, exec *review.Executor, maxTasks int) error {
	run, err := a.openRun("review")
	if err != nil {
		return err
	}
	exec.SetRecorder(run)

	summary, err := exec.Run(ctx, maxTasks)
	for _, out := range summary.Outcomes {
		a.printer.ReviewOutcome(out)
	}
	if err != nil {
		a.closeRun(run, outcomeOf(ctx, err))
		return err
	}

	a.printer.ReviewSummary(summary)
	outcome := "incomplete"
	if summary.Complete {
		outcome = "complete"
	} else if last := summary.Last(); last != nil && !last.Recorded() {
		outcome = string(last.Status)
	}
	a.closeRun(run, outcome)
	return nil
}

// Status prints the review progress of every module.
func (a *App) Status() error {
	states, err := a.planner.Status()
	if err != nil {
		return err
	}
	if len(states) == 0 {
		a.printer.Info("No specifications found under %s", a.cfg.Review.SourceDir)
		return nil
	}
	a.printer.Print(ui.StatusTable(a.printer.Styles(), states))
	a.printer.Print(ui.StatusSummary(states))
	return nil
}

// Graph prints the module dependency levels.
func (a *App) Graph() error {
	g, err := a.planner.Graph()
	if err != nil {
		return err
	}
	if g.Len() == 0 {
		a.printer.Info("No specifications found under %s", a.cfg.Review.SourceDir)
		return nil
	}
	a.printer.Print(ui.GraphView(a.printer.Styles(), g))
	return nil
}

// Runs lists the recorded runs, newest first, at most limit of them.
func (a *App) Runs(limit int) error {
	runs, err := runlog.List(a.cfg.Path(a.cfg.Logging.RunsDir))
	if err != nil {
		return err
	}
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	a.printer.Runs(runs)
	return nil
}

func (a *App) closeRun(run *runlog.Run, outcome string) {
	if err := run.Close(outcome); err != nil {
		logging.Warn("failed to close run log", "dir", run.Dir(), "error", err)
	}
}

func outcomeOf(ctx context.Context, err error) string {
	if ctx.Err() != nil {
		return "cancelled"
	}
	return "error: " + strings.SplitN(err.Error(), "\n", 2)[0]
}
