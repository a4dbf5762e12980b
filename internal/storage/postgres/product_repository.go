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

type ProductRepository struct {
	db
}

func NewProductRepository(pool *pgxpool.Pool, opts ...Option) *ProductRepository {
	return &ProductRepository{db: newDB(pool, opts)}
}

func (r *ProductRepository) CreateProduct(ctx context.Context, product domain.Product) error {
	const stmt = `
INSERT INTO products (id, name, stock_total, stock_sold, price, created_at)
VALUES ($1, $2, $3, $4, $5::text::numeric, $6)`

	_, err := r.exec(ctx, stmt,
		product.ID,
		product.Name,
		product.StockTotal,
		product.StockSold,
		product.Price.String(),
		product.CreatedAt,
	)
	if err != nil {
		return mapError("create product", err)
	}
	return nil
}

// GetProductWithReserved reads the product row and its reserved quantity in
// one statement, so both come from the same snapshot.
func (r *ProductRepository) GetProductWithReserved(ctx context.Context, productID string, now time.Time) (domain.Product, int, error) {
	const query = `
SELECT p.id, p.name, p.stock_total, p.stock_sold, p.price::text, p.created_at,
       COALESCE((
           SELECT SUM(h.qty)
           FROM holds h
           WHERE h.product_id = p.id
             AND ((h.status = 'active' AND h.expires_at > $2) OR h.status = 'used')
       ), 0)
FROM products p
WHERE p.id = $1`

	var (
		p        domain.Product
		price    string
		reserved int
	)
	err := r.queryRow(ctx, query, productID, now).
		Scan(&p.ID, &p.Name, &p.StockTotal, &p.StockSold, &price, &p.CreatedAt, &reserved)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isInvalidUUID(err) {
			return domain.Product{}, 0, domain.ErrProductNotFound
		}
		return domain.Product{}, 0, mapError("get product", err)
	}
	p.Price, err = decimal.NewFromString(price)
	if err != nil {
		return domain.Product{}, 0, fmt.Errorf("parse price %q: %w", price, err)
	}
	return p, reserved, nil
}

const productColumns = `id, name, stock_total, stock_sold, price::text, created_at`

func (c db) getProduct(ctx context.Context, productID string, forUpdate bool) (domain.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var (
		p     domain.Product
		price string
	)
	err := c.queryRow(ctx, query, productID).
		Scan(&p.ID, &p.Name, &p.StockTotal, &p.StockSold, &price, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isInvalidUUID(err) {
			return domain.Product{}, domain.ErrProductNotFound
		}
		return domain.Product{}, mapError("get product", err)
	}
	p.Price, err = decimal.NewFromString(price)
	if err != nil {
		return domain.Product{}, fmt.Errorf("parse price %q: %w", price, err)
	}
	return p, nil
}

// sumReserved mirrors domain.Hold.Reserves: active holds still inside their
// window plus holds consumed by a pending order.
func (c db) sumReserved(ctx context.Context, productID string, now time.Time) (int, error) {
	const query = `
SELECT COALESCE(SUM(qty), 0)
FROM holds
WHERE product_id = $1
  AND ((status = 'active' AND expires_at > $2) OR status = 'used')`

	var total int
	if err := c.queryRow(ctx, query, productID, now).Scan(&total); err != nil {
		return 0, mapError("sum reserved", err)
	}
	return total, nil
}
