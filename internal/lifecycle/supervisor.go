// Package lifecycle is the Lifecycle Supervisor (X): signal-driven
// graceful shutdown shared by all three binaries. The teacher had no
// shutdown path at all (its loops ran forever); this is new, built on
// stdlib signal.NotifyContext since no pack repo shows a graceful-shutdown
// library and the concern is a thin wrapper over a cancellation channel.
package lifecycle

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// ShutdownTimeout bounds the whole close sequence run by Shutdown, per
// spec.md §4.5.
const ShutdownTimeout = 10 * time.Second

// Closer is any collaborator torn down during shutdown.
type Closer func(ctx context.Context) error

// WithSignals returns a context canceled on SIGINT/SIGTERM and the stop
// function to release the signal notification early.
func WithSignals(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
}

// Shutdown runs each closer in order, bounding the whole sequence by
// ShutdownTimeout and logging (not aborting on) individual failures, so one
// stuck dependency doesn't prevent the others from closing.
func Shutdown(logger *zap.Logger, closers ...Closer) {
	ctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()

	for _, closeFn := range closers {
		if closeFn == nil {
			continue
		}
		if err := closeFn(ctx); err != nil {
			logger.Warn("shutdown step failed", zap.Error(err))
		}
	}
}
