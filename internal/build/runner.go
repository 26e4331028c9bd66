// Package build runs the project's build script and reports whether it
// passed.
package build

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"forge/internal/logging"
)

// DefaultScript is the build entry point at the project root.
const DefaultScript = "build.sh"

// waitDelay bounds how long Wait blocks on output pipes held open by
// grandchildren after the script itself exits.
const waitDelay = 5 * time.Second

// Result is the outcome of one build.
type Result struct {
	// Output is stdout and stderr interleaved in arrival order.
	Output   string
	ExitCode int
	// Stderr is set when the script wrote anything to stderr.
	Stderr   bool
	TimedOut bool
	Duration time.Duration
}

// Passed reports a zero exit status with an empty stderr.
func (r *Result) Passed() bool {
	return r.ExitCode == 0 && !r.Stderr && !r.TimedOut
}

// ScriptRunner executes <root>/<Script>.
type ScriptRunner struct {
	Script  string
	Timeout time.Duration
	// Env is appended to the sanitized environment.
	Env []string
}

// NewScriptRunner returns a runner for script with a per-build timeout. An
// empty script selects DefaultScript; a zero timeout means none.
func NewScriptRunner(script string, timeout time.Duration) *ScriptRunner {
	if script == "" {
		script = DefaultScript
	}
	return &ScriptRunner{Script: script, Timeout: timeout}
}

// Run executes the script in root. A script that is missing or cannot be
// started is an error; a script that runs and fails is a Result that did
// not pass.
func (r *ScriptRunner) Run(ctx context.Context, root string) (*Result, error) {
	script := filepath.Join(root, filepath.FromSlash(r.Script))
	info, err := os.Stat(script)
	if err != nil {
		return nil, fmt.Errorf("build script: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("build script %s is a directory", script)
	}

	runCtx := ctx
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	var cmd *exec.Cmd
	if info.Mode()&0111 != 0 {
		cmd = exec.CommandContext(runCtx, script)
	} else {
		cmd = exec.CommandContext(runCtx, "sh", script)
	}
	cmd.Dir = root
	cmd.Env = buildSafeEnv(r.Env)
	cmd.WaitDelay = waitDelay
	setProcessGroup(cmd)

	out := &combinedOutput{}
	cmd.Stdout = out.stream(false)
	cmd.Stderr = out.stream(true)

	log := logging.With("script", r.Script)
	log.Debug("running build")

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start build script: %w", err)
	}
	waitErr := cmd.Wait()

	result := &Result{
		Output:   out.String(),
		Stderr:   out.sawStderr(),
		Duration: time.Since(start),
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		result.TimedOut = true
		result.ExitCode = -1
		result.Output += fmt.Sprintf("\nbuild timed out after %s\n", r.Timeout)
	} else if waitErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			return nil, fmt.Errorf("build script: %w", waitErr)
		}
		result.ExitCode = exitErr.ExitCode()
	}

	log.Info("build finished",
		"exit_code", result.ExitCode,
		"stderr", result.Stderr,
		"timed_out", result.TimedOut,
		"duration", result.Duration)
	return result, nil
}

// combinedOutput interleaves two streams into one buffer and remembers
// whether the error stream was ever written.
type combinedOutput struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	stderr bool
}

type streamWriter struct {
	out    *combinedOutput
	stderr bool
}

func (o *combinedOutput) stream(stderr bool) io.Writer {
	return &streamWriter{out: o, stderr: stderr}
}

func (w *streamWriter) Write(p []byte) (int, error) {
	w.out.mu.Lock()
	defer w.out.mu.Unlock()
	if w.stderr && len(p) > 0 {
		w.out.stderr = true
	}
	return w.out.buf.Write(p)
}

func (o *combinedOutput) String() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.buf.String()
}

func (o *combinedOutput) sawStderr() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stderr
}
