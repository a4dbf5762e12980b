// Package sweeper runs the expired-hold sweep on a ticker.
package sweeper

import (
	"context"
	"log/slog"
	"time"

	"github.com/EngLamisKhaled/Flashsale/internal/clock"
)

type Sweeper interface {
	SweepExpiredHolds(ctx context.Context, now time.Time) (int, error)
}

type Runner struct {
	sweeper  Sweeper
	clock    clock.Clock
	interval time.Duration
	logger   *slog.Logger
}

func NewRunner(s Sweeper, c clock.Clock, interval time.Duration, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{sweeper: s, clock: c, interval: interval, logger: logger}
}

// Run sweeps once immediately, then every interval, until ctx is done. A
// failed sweep is logged and retried on the next tick.
func (r *Runner) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *Runner) tick(ctx context.Context) {
	if _, err := r.sweeper.SweepExpiredHolds(ctx, r.clock.Now()); err != nil && ctx.Err() == nil {
		r.logger.Error("sweep failed", slog.String("error", err.Error()))
	}
}
