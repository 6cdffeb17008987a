package trust

import (
	"context"
	"log/slog"
	"time"
)

// DefaultRelaunchDelay leaves time for pending output to settle before relaunching.
const DefaultRelaunchDelay = 250 * time.Millisecond

// RelaunchFunc replaces or restarts the current process.
type RelaunchFunc func() error

// Relauncher restarts the process after a trust change that needs it.
type Relauncher struct {
	delay    time.Duration
	relaunch RelaunchFunc
	logger   *slog.Logger
}

// RelauncherOption configures a Relauncher.
type RelauncherOption func(*Relauncher)

// WithRelaunchFunc replaces the platform relaunch.
func WithRelaunchFunc(fn RelaunchFunc) RelauncherOption {
	return func(r *Relauncher) {
		r.relaunch = fn
	}
}

// WithRelaunchLogger sets the logger. Defaults to slog.Default().
func WithRelaunchLogger(logger *slog.Logger) RelauncherOption {
	return func(r *Relauncher) {
		r.logger = logger
	}
}

// NewRelauncher creates a Relauncher waiting delay before relaunching.
// A non-positive delay uses DefaultRelaunchDelay.
func NewRelauncher(delay time.Duration, opts ...RelauncherOption) *Relauncher {
	if delay <= 0 {
		delay = DefaultRelaunchDelay
	}
	r := &Relauncher{
		delay:    delay,
		relaunch: relaunchProcess,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Schedule relaunches after the configured delay. The returned channel receives the
// relaunch error (or nil) and is closed. Cancelling ctx before the delay elapses
// aborts the relaunch with ctx.Err().
func (r *Relauncher) Schedule(ctx context.Context) <-chan error {
	done := make(chan error, 1)

	go func() {
		defer close(done)

		timer := time.NewTimer(r.delay)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			done <- ctx.Err()
			return
		case <-timer.C:
		}

		r.logger.InfoContext(ctx, "relaunching to apply trust change")
		done <- r.relaunch()
	}()

	return done
}
