package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// ShutdownSignals are the signals that stop a running service.
var ShutdownSignals = []os.Signal{os.Interrupt, syscall.SIGTERM}

// ReloadSignals ask a running service to reload its rules.
var ReloadSignals = []os.Signal{syscall.SIGHUP}

// SetupSignalHandler returns a context that is cancelled on SIGINT or
// SIGTERM. Calling stop restores default signal handling, so a second
// signal terminates the process immediately.
func SetupSignalHandler(parent context.Context) (ctx context.Context, stop context.CancelFunc) {
	return signal.NotifyContext(parent, ShutdownSignals...)
}

// OnReload calls fn once per reload signal until ctx is done. Signals that
// arrive while fn runs are coalesced into one further call.
func OnReload(ctx context.Context, fn func()) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, ReloadSignals...)

	go func() {
		defer signal.Stop(ch)
		for {
			select {
			case <-ch:
				fn()
			case <-ctx.Done():
				return
			}
		}
	}()
}
