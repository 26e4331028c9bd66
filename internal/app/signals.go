package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"forge/internal/logging"
)

// ForcedShutdownTimeout is how long a cancelled command may take to wind down
// before the process exits anyway.
const ForcedShutdownTimeout = 15 * time.Second

// WithSignals returns a context that is cancelled on SIGINT or SIGTERM. A
// second signal, or ForcedShutdownTimeout after the first, exits the process.
// The returned stop function releases the signal handler.
func WithSignals(parent context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)

	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Done channel to signal goroutine termination
	done := make(chan struct{})

	go func() {
		select {
		case sig := <-sigChan:
			logging.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-done:
			return
		}

		forceExitTimer := time.NewTimer(ForcedShutdownTimeout)
		defer forceExitTimer.Stop()
		select {
		case <-sigChan:
			logging.Warn("second signal, exiting immediately")
			os.Exit(130)
		case <-forceExitTimer.C:
			logging.Warn("forced shutdown due to timeout")
			os.Exit(1)
		case <-done:
		}
	}()

	return ctx, func() {
		signal.Stop(sigChan)
		close(done)
		cancel()
	}
}
