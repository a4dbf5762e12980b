package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/EngLamisKhaled/Flashsale/internal/domain"
)

type HoldRepository interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	GetProductForUpdate(ctx context.Context, productID string) (domain.Product, error)
	SumReserved(ctx context.Context, productID string, now time.Time) (int, error)
	CreateHold(ctx context.Context, hold domain.Hold) error
}

type HoldService struct {
	repo HoldRepository
	opts options
}

func NewHoldService(repo HoldRepository, opts ...Option) *HoldService {
	return &HoldService{
		repo: repo,
		opts: newOptions(opts),
	}
}

type CreateHoldInput struct {
	ProductID string
	Quantity  int
	Now       time.Time
}

// CreateHold reserves Quantity units of a product for the configured TTL. The
// product row stays locked from the availability check until the insert commits.
func (s *HoldService) CreateHold(ctx context.Context, in CreateHoldInput) (domain.Hold, error) {
	if in.Quantity < 1 {
		return domain.Hold{}, domain.ErrInvalidQuantity
	}
	if in.ProductID == "" {
		return domain.Hold{}, domain.ErrInvalidID
	}
	if in.Now.IsZero() {
		return domain.Hold{}, domain.ErrTimeRequired
	}

	var result domain.Hold
	err := s.opts.retry.run(ctx, "create_hold", s.opts.metrics, func() error {
		return s.repo.WithTx(ctx, func(txCtx context.Context) error {
			product, err := s.repo.GetProductForUpdate(txCtx, in.ProductID)
			if err != nil {
				return err
			}

			reserved, err := s.repo.SumReserved(txCtx, product.ID, in.Now)
			if err != nil {
				return err
			}
			if domain.Available(product, reserved) < in.Quantity {
				return domain.ErrInsufficientStock
			}

			hold := domain.Hold{
				ID:        newUUID(),
				ProductID: product.ID,
				Quantity:  in.Quantity,
				Status:    domain.HoldStatusActive,
				ExpiresAt: in.Now.Add(s.opts.holdTTL),
				CreatedAt: in.Now,
			}
			if err := s.repo.CreateHold(txCtx, hold); err != nil {
				return err
			}

			result = hold
			return nil
		})
	})
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientStock) {
			s.opts.metrics.HoldRejected("insufficient_stock")
			s.opts.logger.Debug("hold rejected",
				slog.String("product_id", in.ProductID),
				slog.Int("qty", in.Quantity),
			)
		}
		return domain.Hold{}, err
	}

	s.opts.metrics.HoldCreated()
	s.opts.publish(ctx, Event{
		Type:       EventHoldCreated,
		ProductID:  result.ProductID,
		HoldID:     result.ID,
		Quantity:   result.Quantity,
		Status:     string(result.Status),
		OccurredAt: in.Now,
	})
	return result, nil
}
