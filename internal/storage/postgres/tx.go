package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/EngLamisKhaled/Flashsale/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	defaultLockTimeout    = 2 * time.Second
	defaultSweepBatchSize = 500
)

type txKey struct{}

// Option configures a repository.
type Option func(*db)

// WithLockTimeout bounds how long a statement waits for a row lock before the
// transaction fails with domain.ErrLockTimeout.
func WithLockTimeout(d time.Duration) Option {
	return func(c *db) {
		if d > 0 {
			c.lockTimeout = d
		}
	}
}

// WithSweepBatchSize caps how many holds one expiry statement touches.
func WithSweepBatchSize(n int) Option {
	return func(c *db) {
		if n > 0 {
			c.sweepBatchSize = n
		}
	}
}

// db is the connection plumbing shared by the repositories.
type db struct {
	pool           *pgxpool.Pool
	lockTimeout    time.Duration
	sweepBatchSize int
}

func newDB(pool *pgxpool.Pool, opts []Option) db {
	c := db{pool: pool, lockTimeout: defaultLockTimeout, sweepBatchSize: defaultSweepBatchSize}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// WithTx runs fn in a transaction carried by the returned context. Nested
// calls join the outer transaction.
func (c db) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if txFromContext(ctx) != nil {
		return fn(ctx)
	}

	tx, err := c.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return mapError("begin tx", err)
	}
	lockTimeout := strconv.FormatInt(c.lockTimeout.Milliseconds(), 10) + "ms"
	if _, err := tx.Exec(ctx, `SELECT set_config('lock_timeout', $1, true)`, lockTimeout); err != nil {
		_ = tx.Rollback(ctx)
		return mapError("set lock timeout", err)
	}

	txCtx := context.WithValue(ctx, txKey{}, tx)
	if err := fn(txCtx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return mapError("commit", err)
	}
	return nil
}

func (c db) exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if tx := txFromContext(ctx); tx != nil {
		return tx.Exec(ctx, sql, args...)
	}
	return c.pool.Exec(ctx, sql, args...)
}

func (c db) queryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if tx := txFromContext(ctx); tx != nil {
		return tx.QueryRow(ctx, sql, args...)
	}
	return c.pool.QueryRow(ctx, sql, args...)
}

func txFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(txKey{}).(pgx.Tx)
	return tx
}

// mapError translates driver failures into domain errors the services can
// act on; anything else is wrapped with op.
func mapError(op string, err error) error {
	switch {
	case isLockFailure(err):
		return fmt.Errorf("%s: %w: %v", op, domain.ErrLockTimeout, err)
	case isInvalidUUID(err):
		return domain.ErrInvalidID
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func isInvalidUUID(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "22P02"
}

// isLockFailure matches lock_not_available, deadlock_detected and
// serialization_failure: each aborts the transaction and is safe to re-run.
func isLockFailure(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case "55P03", "40P01", "40001":
		return true
	}
	return false
}
