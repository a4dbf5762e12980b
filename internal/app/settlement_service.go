package app

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/EngLamisKhaled/Flashsale/internal/domain"
)

type SettlementRepository interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	FindPaymentEvent(ctx context.Context, idempotencyKey string) (*domain.PaymentEvent, error)
	GetOrderForUpdate(ctx context.Context, orderID string) (domain.Order, error)
	GetHoldForUpdate(ctx context.Context, holdID string) (domain.Hold, error)
	GetProductForUpdate(ctx context.Context, productID string) (domain.Product, error)
	UpdateOrderStatus(ctx context.Context, orderID string, from, to domain.OrderStatus, now time.Time) error
	UpdateHoldStatus(ctx context.Context, holdID string, from, to domain.HoldStatus) error
	AddStockSold(ctx context.Context, productID string, qty int) error
	CreatePaymentEvent(ctx context.Context, event domain.PaymentEvent) error
}

type SettlementService struct {
	repo SettlementRepository
	opts options
}

func NewSettlementService(repo SettlementRepository, opts ...Option) *SettlementService {
	return &SettlementService{
		repo: repo,
		opts: newOptions(opts),
	}
}

type SettlePaymentInput struct {
	OrderID        string
	Outcome        domain.PaymentOutcome
	IdempotencyKey string
	RawPayload     []byte
	Now            time.Time
}

type SettlePaymentResult struct {
	OrderStatus domain.OrderStatus
	// Replayed is true when the key had already been processed and nothing was applied.
	Replayed bool
}

// SettlePayment applies a payment outcome to an order exactly once per
// idempotency key. Duplicate and concurrent deliveries of the same key return
// the status recorded by the call that processed it.
func (s *SettlementService) SettlePayment(ctx context.Context, in SettlePaymentInput) (SettlePaymentResult, error) {
	if err := in.validate(); err != nil {
		return SettlePaymentResult{}, err
	}

	if s.opts.cache != nil {
		status, ok, err := s.opts.cache.Recall(ctx, in.IdempotencyKey)
		if err != nil {
			s.opts.logger.Warn("settlement cache recall failed", slog.String("error", err.Error()))
		} else if ok {
			s.opts.metrics.PaymentSettled(in.Outcome, status, true)
			return SettlePaymentResult{OrderStatus: status, Replayed: true}, nil
		}
	}

	var result SettlePaymentResult
	err := s.opts.retry.run(ctx, "settle_payment", s.opts.metrics, func() error {
		result = SettlePaymentResult{}
		return s.repo.WithTx(ctx, func(txCtx context.Context) error {
			existing, err := s.repo.FindPaymentEvent(txCtx, in.IdempotencyKey)
			if err != nil {
				return err
			}
			if existing != nil {
				if existing.OrderID != in.OrderID {
					s.opts.logger.Warn("idempotency key reused for another order",
						slog.String("idempotency_key", in.IdempotencyKey),
						slog.String("order_id", in.OrderID),
						slog.String("recorded_order_id", existing.OrderID),
					)
				}
				result = SettlePaymentResult{OrderStatus: existing.OrderStatus, Replayed: true}
				return nil
			}

			// Lock order: Order -> Hold -> Product, for every caller.
			order, err := s.repo.GetOrderForUpdate(txCtx, in.OrderID)
			if err != nil {
				return err
			}
			var hold *domain.Hold
			if order.HoldID != "" {
				h, err := s.repo.GetHoldForUpdate(txCtx, order.HoldID)
				switch {
				case errors.Is(err, domain.ErrHoldNotFound):
				case err != nil:
					return err
				default:
					hold = &h
				}
			}
			product, err := s.repo.GetProductForUpdate(txCtx, order.ProductID)
			if err != nil {
				return err
			}

			if err := s.apply(txCtx, &order, hold, product, in); err != nil {
				return err
			}

			if err := s.repo.CreatePaymentEvent(txCtx, domain.PaymentEvent{
				ID:             newUUID(),
				OrderID:        order.ID,
				IdempotencyKey: in.IdempotencyKey,
				Status:         in.Outcome,
				OrderStatus:    order.Status,
				RawPayload:     in.RawPayload,
				CreatedAt:      in.Now,
			}); err != nil {
				return err
			}

			result = SettlePaymentResult{OrderStatus: order.Status}
			return nil
		})
	})
	if err != nil {
		return SettlePaymentResult{}, err
	}

	s.opts.metrics.PaymentSettled(in.Outcome, result.OrderStatus, result.Replayed)
	if s.opts.cache != nil {
		if err := s.opts.cache.Remember(ctx, in.IdempotencyKey, result.OrderStatus); err != nil {
			s.opts.logger.Warn("settlement cache remember failed", slog.String("error", err.Error()))
		}
	}
	if result.Replayed {
		s.opts.logger.Info("payment notification replayed",
			slog.String("order_id", in.OrderID),
			slog.String("idempotency_key", in.IdempotencyKey),
			slog.String("order_status", string(result.OrderStatus)),
		)
		return result, nil
	}

	s.opts.logger.Info("payment settled",
		slog.String("order_id", in.OrderID),
		slog.String("outcome", string(in.Outcome)),
		slog.String("order_status", string(result.OrderStatus)),
	)
	s.opts.publish(ctx, Event{
		Type:       EventPaymentSettled,
		OrderID:    in.OrderID,
		Status:     string(result.OrderStatus),
		OccurredAt: in.Now,
	})
	return result, nil
}

// apply drives the order, hold and product from the outcome and the order's
// persisted status. Edges the transition tables reject are left untouched.
func (s *SettlementService) apply(ctx context.Context, order *domain.Order, hold *domain.Hold, product domain.Product, in SettlePaymentInput) error {
	switch in.Outcome {
	case domain.PaymentSuccess:
		if order.Status == domain.OrderStatusPaid {
			return nil
		}
		if !order.Status.CanTransitionTo(domain.OrderStatusPaid) {
			s.rejected(order, in.Outcome)
			return nil
		}
		if err := s.moveOrder(ctx, order, domain.OrderStatusPaid, in.Now); err != nil {
			return err
		}
		if err := s.repo.AddStockSold(ctx, product.ID, order.Quantity); err != nil {
			return err
		}
		if hold != nil && hold.Status != domain.HoldStatusCompleted {
			return s.moveHold(ctx, hold, domain.HoldStatusCompleted)
		}
		return nil

	case domain.PaymentFailure:
		if order.Status == domain.OrderStatusCanceled {
			return nil
		}
		if !order.Status.CanTransitionTo(domain.OrderStatusCanceled) {
			s.rejected(order, in.Outcome)
			return nil
		}
		if err := s.moveOrder(ctx, order, domain.OrderStatusCanceled, in.Now); err != nil {
			return err
		}
		if hold != nil && (hold.Status == domain.HoldStatusActive || hold.Status == domain.HoldStatusUsed) {
			return s.moveHold(ctx, hold, domain.HoldStatusCanceled)
		}
		return nil
	}
	return domain.ErrInvalidOutcome
}

func (s *SettlementService) moveOrder(ctx context.Context, order *domain.Order, to domain.OrderStatus, now time.Time) error {
	from := order.Status
	if err := order.Transition(to); err != nil {
		return err
	}
	return s.repo.UpdateOrderStatus(ctx, order.ID, from, to, now)
}

func (s *SettlementService) moveHold(ctx context.Context, hold *domain.Hold, to domain.HoldStatus) error {
	from := hold.Status
	if !from.CanTransitionTo(to) {
		s.opts.logger.Warn("hold transition rejected",
			slog.String("hold_id", hold.ID),
			slog.String("from", string(from)),
			slog.String("to", string(to)),
		)
		return nil
	}
	if err := hold.Transition(to); err != nil {
		return err
	}
	return s.repo.UpdateHoldStatus(ctx, hold.ID, from, to)
}

func (s *SettlementService) rejected(order *domain.Order, outcome domain.PaymentOutcome) {
	s.opts.logger.Warn("order transition rejected",
		slog.String("order_id", order.ID),
		slog.String("status", string(order.Status)),
		slog.String("outcome", string(outcome)),
	)
}

func (in SettlePaymentInput) validate() error {
	if in.OrderID == "" {
		return domain.ErrInvalidID
	}
	if !in.Outcome.Valid() {
		return domain.ErrInvalidOutcome
	}
	if in.IdempotencyKey == "" {
		return domain.ErrIdempotencyKeyRequired
	}
	if len(in.RawPayload) > 0 && !json.Valid(in.RawPayload) {
		return domain.ErrInvalidPayload
	}
	if in.Now.IsZero() {
		return domain.ErrTimeRequired
	}
	return nil
}
