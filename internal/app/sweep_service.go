package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/EngLamisKhaled/Flashsale/internal/domain"
)

type SweepRepository interface {
	// ExpireHolds moves every active hold with expires_at <= now to expired,
	// each row guarded by its current status, and returns how many moved.
	ExpireHolds(ctx context.Context, now time.Time) (int, error)
}

type SweepService struct {
	repo SweepRepository
	opts options
}

func NewSweepService(repo SweepRepository, opts ...Option) *SweepService {
	return &SweepService{
		repo: repo,
		opts: newOptions(opts),
	}
}

// SweepExpiredHolds demotes timed-out holds. Holds already moved by a racing
// sweep, order or settlement are skipped.
func (s *SweepService) SweepExpiredHolds(ctx context.Context, now time.Time) (int, error) {
	if now.IsZero() {
		return 0, domain.ErrTimeRequired
	}

	var n int
	err := s.opts.retry.run(ctx, "sweep_expired_holds", s.opts.metrics, func() error {
		var err error
		n, err = s.repo.ExpireHolds(ctx, now)
		return err
	})
	if err != nil {
		return 0, err
	}

	s.opts.metrics.HoldsExpired(n)
	if n > 0 {
		s.opts.logger.Info("expired holds swept", slog.Int("count", n))
		s.opts.publish(ctx, Event{
			Type:       EventHoldsExpired,
			Quantity:   n,
			OccurredAt: now,
		})
	}
	return n, nil
}
