package app

import (
	"context"
	"time"

	"github.com/EngLamisKhaled/Flashsale/internal/domain"
)

type OrderRepository interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	GetHoldForUpdate(ctx context.Context, holdID string) (domain.Hold, error)
	GetProduct(ctx context.Context, productID string) (domain.Product, error)
	GetOrder(ctx context.Context, orderID string) (domain.Order, error)
	CreateOrder(ctx context.Context, order domain.Order) error
	UpdateHoldStatus(ctx context.Context, holdID string, from, to domain.HoldStatus) error
}

type OrderService struct {
	repo OrderRepository
	opts options
}

func NewOrderService(repo OrderRepository, opts ...Option) *OrderService {
	return &OrderService{
		repo: repo,
		opts: newOptions(opts),
	}
}

type CreateOrderInput struct {
	HoldID string
	Now    time.Time
}

// CreateOrder consumes an active, unexpired hold into a pending order.
func (s *OrderService) CreateOrder(ctx context.Context, in CreateOrderInput) (domain.Order, error) {
	if in.HoldID == "" {
		return domain.Order{}, domain.ErrInvalidID
	}
	if in.Now.IsZero() {
		return domain.Order{}, domain.ErrTimeRequired
	}

	var result domain.Order
	err := s.opts.retry.run(ctx, "create_order", s.opts.metrics, func() error {
		return s.repo.WithTx(ctx, func(txCtx context.Context) error {
			hold, err := s.repo.GetHoldForUpdate(txCtx, in.HoldID)
			if err != nil {
				return err
			}
			if hold.Status != domain.HoldStatusActive {
				return domain.ErrHoldNotActive
			}
			// The sweep may lag behind; the clock decides.
			if hold.ExpiredAt(in.Now) {
				return domain.ErrHoldExpired
			}

			product, err := s.repo.GetProduct(txCtx, hold.ProductID)
			if err != nil {
				return err
			}

			order := domain.Order{
				ID:         newUUID(),
				ProductID:  product.ID,
				HoldID:     hold.ID,
				Quantity:   hold.Quantity,
				TotalPrice: product.LineTotal(hold.Quantity),
				Status:     domain.OrderStatusPending,
				CreatedAt:  in.Now,
				UpdatedAt:  in.Now,
			}
			if err := s.repo.CreateOrder(txCtx, order); err != nil {
				return err
			}

			from := hold.Status
			if err := hold.Transition(domain.HoldStatusUsed); err != nil {
				return err
			}
			if err := s.repo.UpdateHoldStatus(txCtx, hold.ID, from, hold.Status); err != nil {
				return err
			}

			result = order
			return nil
		})
	})
	if err != nil {
		return domain.Order{}, err
	}

	s.opts.metrics.OrderCreated()
	s.opts.publish(ctx, Event{
		Type:       EventOrderCreated,
		ProductID:  result.ProductID,
		HoldID:     result.HoldID,
		OrderID:    result.ID,
		Quantity:   result.Quantity,
		Status:     string(result.Status),
		OccurredAt: in.Now,
	})
	return result, nil
}

// GetOrder returns the persisted order.
func (s *OrderService) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	if orderID == "" {
		return domain.Order{}, domain.ErrInvalidID
	}
	return s.repo.GetOrder(ctx, orderID)
}
