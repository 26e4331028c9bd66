package app

import (
	"context"
	"errors"
	"fmt"

	"forge/internal/config"
	"forge/internal/git"
	"forge/internal/graph"
	"forge/internal/repair"
)

// Process exit codes.
const (
	ExitOK          = 0
	ExitFailure     = 1
	ExitConfig      = 2
	ExitBuildFailed = 3
	ExitInterrupted = 130
)

// ExitCode maps a command error to the process exit status.
func ExitCode(err error) int {
	var (
		validation *config.ValidationError
		pattern    *git.PatternError
		cycle      *graph.CycleError
	)
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, context.Canceled):
		return ExitInterrupted
	case errors.Is(err, repair.ErrAttemptsExhausted):
		return ExitBuildFailed
	case errors.Is(err, config.ErrMissingAuth),
		errors.Is(err, graph.ErrMissingDependencyFile),
		errors.As(err, &validation),
		errors.As(err, &pattern),
		errors.As(err, &cycle):
		return ExitConfig
	default:
		return ExitFailure
	}
}

// HandleWithRecovery runs fn and turns a panic into an error.
func HandleWithRecovery(operation string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s: %v", operation, r)
		}
	}()
	return fn()
}
