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

type HoldRepository struct {
	db
}

func NewHoldRepository(pool *pgxpool.Pool, opts ...Option) *HoldRepository {
	return &HoldRepository{db: newDB(pool, opts)}
}

func (r *HoldRepository) GetProductForUpdate(ctx context.Context, productID string) (domain.Product, error) {
	return r.getProduct(ctx, productID, true)
}

func (r *HoldRepository) SumReserved(ctx context.Context, productID string, now time.Time) (int, error) {
	return r.sumReserved(ctx, productID, now)
}

func (r *HoldRepository) CreateHold(ctx context.Context, hold domain.Hold) error {
	const stmt = `
INSERT INTO holds (id, product_id, qty, status, expires_at, created_at)
VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := r.exec(ctx, stmt,
		hold.ID,
		hold.ProductID,
		hold.Quantity,
		string(hold.Status),
		hold.ExpiresAt,
		hold.CreatedAt,
	)
	if err != nil {
		return mapError("create hold", err)
	}
	return nil
}

// ExpireHolds runs outside any caller transaction. Each batch is a single
// statement; rows locked by a concurrent order or settlement are skipped and
// the WHERE clause re-checks status, so a racing sweep never double counts.
func (r *HoldRepository) ExpireHolds(ctx context.Context, now time.Time) (int, error) {
	const stmt = `
UPDATE holds SET status = 'expired'
WHERE id IN (
	SELECT id FROM holds
	WHERE status = 'active' AND expires_at <= $1
	ORDER BY expires_at
	LIMIT $2
	FOR UPDATE SKIP LOCKED
)
AND status = 'active'`

	total := 0
	for {
		tag, err := r.exec(ctx, stmt, now, r.sweepBatchSize)
		if err != nil {
			return total, mapError("expire holds", err)
		}
		n := int(tag.RowsAffected())
		total += n
		if n < r.sweepBatchSize {
			return total, nil
		}
	}
}

const holdColumns = `id, product_id, qty, status, expires_at, created_at`

func (c db) getHold(ctx context.Context, holdID string, forUpdate bool) (domain.Hold, error) {
	query := `SELECT ` + holdColumns + ` FROM holds WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var (
		h      domain.Hold
		status string
	)
	err := c.queryRow(ctx, query, holdID).
		Scan(&h.ID, &h.ProductID, &h.Quantity, &status, &h.ExpiresAt, &h.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isInvalidUUID(err) {
			return domain.Hold{}, domain.ErrHoldNotFound
		}
		return domain.Hold{}, mapError("get hold", err)
	}
	h.Status = domain.HoldStatus(status)
	return h, nil
}

// updateHoldStatus is a compare-and-set on the stored status.
func (c db) updateHoldStatus(ctx context.Context, holdID string, from, to domain.HoldStatus) error {
	const stmt = `UPDATE holds SET status = $3 WHERE id = $1 AND status = $2`

	tag, err := c.exec(ctx, stmt, holdID, string(from), string(to))
	if err != nil {
		return mapError("update hold status", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("hold %s not in status %s: %w", holdID, from, domain.ErrInvalidTransition)
	}
	return nil
}
