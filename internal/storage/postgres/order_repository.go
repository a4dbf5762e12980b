package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/EngLamisKhaled/Flashsale/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type OrderRepository struct {
	db
}

func NewOrderRepository(pool *pgxpool.Pool, opts ...Option) *OrderRepository {
	return &OrderRepository{db: newDB(pool, opts)}
}

func (r *OrderRepository) GetHoldForUpdate(ctx context.Context, holdID string) (domain.Hold, error) {
	return r.getHold(ctx, holdID, true)
}

func (r *OrderRepository) GetProduct(ctx context.Context, productID string) (domain.Product, error) {
	return r.getProduct(ctx, productID, false)
}

func (r *OrderRepository) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	return r.getOrder(ctx, orderID, false)
}

func (r *OrderRepository) CreateOrder(ctx context.Context, order domain.Order) error {
	const stmt = `
INSERT INTO orders (id, product_id, hold_id, qty, total_price, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5::text::numeric, $6, $7, $8)`

	_, err := r.exec(ctx, stmt,
		order.ID,
		order.ProductID,
		order.HoldID,
		order.Quantity,
		order.TotalPrice.String(),
		string(order.Status),
		order.CreatedAt,
		order.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			// orders.hold_id is unique: the hold was already converted.
			return domain.ErrHoldNotActive
		}
		return mapError("create order", err)
	}
	return nil
}

func (r *OrderRepository) UpdateHoldStatus(ctx context.Context, holdID string, from, to domain.HoldStatus) error {
	return r.updateHoldStatus(ctx, holdID, from, to)
}

const orderColumns = `id, product_id, hold_id, qty, total_price::text, status, created_at, updated_at`

func (c db) getOrder(ctx context.Context, orderID string, forUpdate bool) (domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var (
		o      domain.Order
		holdID *string
		total  string
		status string
	)
	err := c.queryRow(ctx, query, orderID).
		Scan(&o.ID, &o.ProductID, &holdID, &o.Quantity, &total, &status, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isInvalidUUID(err) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, mapError("get order", err)
	}
	if holdID != nil {
		o.HoldID = *holdID
	}
	o.Status = domain.OrderStatus(status)
	o.TotalPrice, err = decimal.NewFromString(total)
	if err != nil {
		return domain.Order{}, fmt.Errorf("parse total price %q: %w", total, err)
	}
	return o, nil
}

// updateOrderStatus is a compare-and-set on the stored status.
func (c db) updateOrderStatus(ctx context.Context, orderID string, from, to domain.OrderStatus, now time.Time) error {
	const stmt = `UPDATE orders SET status = $3, updated_at = $4 WHERE id = $1 AND status = $2`

	tag, err := c.exec(ctx, stmt, orderID, string(from), string(to), now)
	if err != nil {
		return mapError("update order status", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("order %s not in status %s: %w", orderID, from, domain.ErrInvalidTransition)
	}
	return nil
}
