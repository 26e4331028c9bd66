// Package repair drives the model through a bounded build-repair loop:
// query, parse, apply, build, and feed failures back until the build passes
// or the attempt budget runs out.
package repair

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"forge/internal/build"
	"forge/internal/client"
	"forge/internal/git"
	"forge/internal/logging"
	"forge/internal/mutate"
	"forge/internal/prompt"
	"forge/internal/protocol"
	"forge/internal/runlog"
	"forge/internal/security"
)

// DefaultMaxAttempts bounds a run when Options.MaxAttempts is zero.
const DefaultMaxAttempts = 4

// ErrAttemptsExhausted is matched by the error a run returns when every
// attempt built and failed.
var ErrAttemptsExhausted = errors.New("build still failing after all attempts")

// ExhaustedError carries the output of the last failed build.
type ExhaustedError struct {
	Attempts   int
	LastOutput string
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%v (%d attempts)", ErrAttemptsExhausted, e.Attempts)
}

func (e *ExhaustedError) Unwrap() error { return ErrAttemptsExhausted }

// AttemptError wraps a failure that ended the run inside one attempt.
type AttemptError struct {
	Attempt int
	// Phase is one of query, parse, apply or build.
	Phase string
	Err   error
}

func (e *AttemptError) Error() string {
	return fmt.Sprintf("attempt %d: %s: %v", e.Attempt, e.Phase, e.Err)
}

func (e *AttemptError) Unwrap() error { return e.Err }

// BuildRunner runs the project build.
type BuildRunner interface {
	Run(ctx context.Context, root string) (*build.Result, error)
}

// Options configures a Loop.
type Options struct {
	Root         string
	Task         string
	Instructions string
	// ContextFiles are read through the read guard for the first prompt.
	ContextFiles []string
	MaxAttempts  int
	// RequestExtraFiles enables the extra-files round trip before each
	// attempt's main query.
	RequestExtraFiles bool
	// RequireClean refuses to start on a dirty git working tree.
	RequireClean bool

	Client    client.Querier
	Builder   BuildRunner
	Applier   *mutate.Applier
	ReadGuard *security.Guard
	Recorder  runlog.Recorder
}

// Result describes a run whose build passed.
type Result struct {
	Attempts int
	Build    *build.Result
	// Changes holds the latest mutation per path across all attempts.
	Changes []protocol.FileMutation
}

// Loop is one build-repair run. It is not safe for concurrent use.
type Loop struct {
	opts    Options
	prompts *prompt.Builder
	record  *AttemptRecord
}

// New validates opts and returns a loop.
func New(opts Options) (*Loop, error) {
	if opts.Client == nil || opts.Builder == nil || opts.Applier == nil || opts.ReadGuard == nil {
		return nil, errors.New("repair: client, builder, applier and read guard are required")
	}
	if opts.Root == "" {
		opts.Root = opts.ReadGuard.Root()
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.Recorder == nil {
		opts.Recorder = runlog.Nop{}
	}
	return &Loop{
		opts:    opts,
		prompts: prompt.NewBuilder(opts.Instructions),
		record:  NewAttemptRecord(),
	}, nil
}

// Run executes attempts until the build passes. Parse, apply and build-start
// failures end the run immediately as *AttemptError. Running out of attempts
// returns *ExhaustedError.
func (l *Loop) Run(ctx context.Context) (*Result, error) {
	if l.opts.RequireClean {
		if err := git.RequireClean(ctx, l.opts.Root); err != nil {
			return nil, fmt.Errorf("clean working tree required: %w", err)
		}
	}

	contextFiles, err := l.readContextFiles()
	if err != nil {
		return nil, err
	}

	var lastOutput string
	for attempt := 1; attempt <= l.opts.MaxAttempts; attempt++ {
		log := logging.With("attempt", attempt, "max_attempts", l.opts.MaxAttempts)

		res, err := l.attempt(ctx, attempt, contextFiles, lastOutput)
		if err != nil {
			log.Error("attempt failed", "error", err)
			return nil, err
		}
		if res.Passed() {
			log.Info("build passed", "changed_files", l.record.Len())
			return &Result{Attempts: attempt, Build: res, Changes: l.record.Changes()}, nil
		}

		log.Info("build failed", "exit_code", res.ExitCode, "stderr", res.Stderr)
		lastOutput = res.Output
	}

	return nil, &ExhaustedError{Attempts: l.opts.MaxAttempts, LastOutput: lastOutput}
}

func (l *Loop) attempt(ctx context.Context, attempt int, contextFiles []prompt.File, lastOutput string) (*build.Result, error) {
	fail := func(phase string, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return &AttemptError{Attempt: attempt, Phase: phase, Err: err}
	}

	text, err := l.buildPrompt(attempt, contextFiles, lastOutput, nil)
	if err != nil {
		return nil, fail("prompt", err)
	}

	if l.opts.RequestExtraFiles {
		extra, err := l.requestExtraFiles(ctx, text)
		if err != nil {
			return nil, fail("query", err)
		}
		if len(extra) > 0 {
			if text, err = l.buildPrompt(attempt, contextFiles, lastOutput, extra); err != nil {
				return nil, fail("prompt", err)
			}
		}
	}

	l.opts.Recorder.Record(runlog.KindPrompt, text)
	answer, err := l.opts.Client.Query(ctx, text)
	l.opts.Recorder.ObserveQuery(err)
	if err != nil {
		return nil, fail("query", err)
	}
	l.opts.Recorder.Record(runlog.KindResponse, answer)

	resp, err := protocol.Parse(answer)
	if err != nil {
		return nil, fail("parse", err)
	}

	report, err := l.opts.Applier.Apply(ctx, resp.Mutations)
	if err != nil {
		return nil, fail("apply", err)
	}
	l.record.Add(resp.Mutations)
	l.opts.Recorder.ObserveApply(report)
	if len(report.Changes) > 0 {
		l.opts.Recorder.Record(runlog.KindChanges, report.Summary())
	}

	res, err := l.opts.Builder.Run(ctx, l.opts.Root)
	if err != nil {
		return nil, fail("build", err)
	}
	l.opts.Recorder.ObserveBuild(res)
	l.opts.Recorder.Record(runlog.KindBuild, res.Output)
	return res, nil
}

func (l *Loop) buildPrompt(attempt int, contextFiles []prompt.File, lastOutput string, extra []prompt.File) (string, error) {
	if attempt == 1 {
		files := append(append([]prompt.File(nil), contextFiles...), extra...)
		return l.prompts.Initial(l.opts.Task, files), nil
	}
	return l.prompts.Repair(l.opts.Task, lastOutput, l.record.Changes(), extra)
}

// requestExtraFiles asks which further files the model needs and reads the
// ones the read guard allows. Rejected, missing and unreadable paths are
// skipped. A response that does not parse yields no files.
func (l *Loop) requestExtraFiles(ctx context.Context, base string) ([]prompt.File, error) {
	text := l.prompts.ContextRequest(base)
	l.opts.Recorder.Record(runlog.KindContextPrompt, text)

	answer, err := l.opts.Client.Query(ctx, text)
	l.opts.Recorder.ObserveQuery(err)
	if err != nil {
		return nil, err
	}
	l.opts.Recorder.Record(runlog.KindContextResponse, answer)

	resp, err := protocol.Parse(answer)
	if err != nil {
		logging.Warn("ignoring malformed extra-files response", "error", err)
		return nil, nil
	}

	var files []prompt.File
	seen := make(map[string]bool)
	for _, p := range resp.ExtraFiles {
		if seen[p] {
			continue
		}
		seen[p] = true

		content, err := l.readFile(p)
		if err != nil {
			logging.Debug("skipping requested file", "path", p, "error", err)
			continue
		}
		files = append(files, prompt.File{Path: p, Content: content})
	}
	return files, nil
}

// readContextFiles loads the configured context files. Unlike requested
// files these are explicit configuration, so a rejected or missing path is
// an error.
func (l *Loop) readContextFiles() ([]prompt.File, error) {
	files := make([]prompt.File, 0, len(l.opts.ContextFiles))
	for _, p := range l.opts.ContextFiles {
		content, err := l.readFile(p)
		if err != nil {
			return nil, fmt.Errorf("context file %s: %w", p, err)
		}
		files = append(files, prompt.File{Path: p, Content: content})
	}
	return files, nil
}

func (l *Loop) readFile(p string) (string, error) {
	full, err := l.opts.ReadGuard.Resolve(p)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(full)
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		return "", &fs.PathError{Op: "read", Path: p, Err: errors.New("is a directory")}
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
