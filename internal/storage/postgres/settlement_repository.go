package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/EngLamisKhaled/Flashsale/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type SettlementRepository struct {
	db
}

func NewSettlementRepository(pool *pgxpool.Pool, opts ...Option) *SettlementRepository {
	return &SettlementRepository{db: newDB(pool, opts)}
}

func (r *SettlementRepository) FindPaymentEvent(ctx context.Context, idempotencyKey string) (*domain.PaymentEvent, error) {
	const query = `
SELECT id, order_id, idempotency_key, status, order_status, raw_payload::text, created_at
FROM payment_events
WHERE idempotency_key = $1`

	var (
		e           domain.PaymentEvent
		status      string
		orderStatus string
		raw         *string
	)
	err := r.queryRow(ctx, query, idempotencyKey).
		Scan(&e.ID, &e.OrderID, &e.IdempotencyKey, &status, &orderStatus, &raw, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, mapError("find payment event", err)
	}
	e.Status = domain.PaymentOutcome(status)
	e.OrderStatus = domain.OrderStatus(orderStatus)
	if raw != nil {
		e.RawPayload = []byte(*raw)
	}
	return &e, nil
}

func (r *SettlementRepository) GetOrderForUpdate(ctx context.Context, orderID string) (domain.Order, error) {
	return r.getOrder(ctx, orderID, true)
}

func (r *SettlementRepository) GetHoldForUpdate(ctx context.Context, holdID string) (domain.Hold, error) {
	return r.getHold(ctx, holdID, true)
}

func (r *SettlementRepository) GetProductForUpdate(ctx context.Context, productID string) (domain.Product, error) {
	return r.getProduct(ctx, productID, true)
}

func (r *SettlementRepository) UpdateOrderStatus(ctx context.Context, orderID string, from, to domain.OrderStatus, now time.Time) error {
	return r.updateOrderStatus(ctx, orderID, from, to, now)
}

func (r *SettlementRepository) UpdateHoldStatus(ctx context.Context, holdID string, from, to domain.HoldStatus) error {
	return r.updateHoldStatus(ctx, holdID, from, to)
}

func (r *SettlementRepository) AddStockSold(ctx context.Context, productID string, qty int) error {
	const stmt = `UPDATE products SET stock_sold = stock_sold + $2 WHERE id = $1`

	tag, err := r.exec(ctx, stmt, productID, qty)
	if err != nil {
		return mapError("add stock sold", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrProductNotFound
	}
	return nil
}

func (r *SettlementRepository) CreatePaymentEvent(ctx context.Context, event domain.PaymentEvent) error {
	const stmt = `
INSERT INTO payment_events (id, order_id, idempotency_key, status, order_status, raw_payload, created_at)
VALUES ($1, $2, $3, $4, $5, $6::text::jsonb, $7)`

	var raw *string
	if len(event.RawPayload) > 0 {
		s := string(event.RawPayload)
		raw = &s
	}

	_, err := r.exec(ctx, stmt,
		event.ID,
		event.OrderID,
		event.IdempotencyKey,
		string(event.Status),
		string(event.OrderStatus),
		raw,
		event.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("payment event %q: %w", event.IdempotencyKey, domain.ErrDuplicatePaymentEvent)
		}
		return mapError("create payment event", err)
	}
	return nil
}
