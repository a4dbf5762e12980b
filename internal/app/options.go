package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/EngLamisKhaled/Flashsale/internal/domain"
)

// Metrics receives counters for the reservation and settlement flows.
type Metrics interface {
	HoldCreated()
	HoldRejected(reason string)
	OrderCreated()
	PaymentSettled(outcome domain.PaymentOutcome, status domain.OrderStatus, replayed bool)
	HoldsExpired(n int)
	Retried(op string)
}

// Event is a lifecycle notification emitted after a transaction commits.
type Event struct {
	Type       string    `json:"type"`
	ProductID  string    `json:"product_id,omitempty"`
	HoldID     string    `json:"hold_id,omitempty"`
	OrderID    string    `json:"order_id,omitempty"`
	Quantity   int       `json:"qty,omitempty"`
	Status     string    `json:"status,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

const (
	EventHoldCreated    = "hold.created"
	EventOrderCreated   = "order.created"
	EventPaymentSettled = "payment.settled"
	EventHoldsExpired   = "holds.expired"
)

// EventPublisher delivers lifecycle events. Delivery is best effort; a failed
// publish never undoes a committed transaction.
type EventPublisher interface {
	Publish(ctx context.Context, evt Event) error
}

// SettlementCache memoizes the order status recorded for an idempotency key.
// The store stays authoritative; a miss or error falls through to it.
type SettlementCache interface {
	Recall(ctx context.Context, key string) (domain.OrderStatus, bool, error)
	Remember(ctx context.Context, key string, status domain.OrderStatus) error
}

const (
	defaultHoldTTL      = 2 * time.Minute
	defaultMaxAttempts  = 3
	defaultRetryBackoff = 20 * time.Millisecond
)

type options struct {
	logger    *slog.Logger
	metrics   Metrics
	publisher EventPublisher
	cache     SettlementCache
	holdTTL   time.Duration
	retry     retryPolicy
}

// Option configures a service.
type Option func(*options)

func newOptions(opts []Option) options {
	o := options{
		logger:    slog.Default(),
		metrics:   nopMetrics{},
		publisher: nopPublisher{},
		holdTTL:   defaultHoldTTL,
		retry:     retryPolicy{attempts: defaultMaxAttempts, backoff: defaultRetryBackoff},
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithHoldTTL overrides the default TTL for new holds.
func WithHoldTTL(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.holdTTL = d
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

func WithMetrics(m Metrics) Option {
	return func(o *options) {
		if m != nil {
			o.metrics = m
		}
	}
}

func WithPublisher(p EventPublisher) Option {
	return func(o *options) {
		if p != nil {
			o.publisher = p
		}
	}
}

// WithSettlementCache enables the fast-path memo in front of the store.
func WithSettlementCache(c SettlementCache) Option {
	return func(o *options) {
		o.cache = c
	}
}

// WithRetry bounds how often a transaction hitting a transient store conflict
// is re-run.
func WithRetry(attempts int, backoff time.Duration) Option {
	return func(o *options) {
		if attempts > 0 {
			o.retry.attempts = attempts
		}
		if backoff >= 0 {
			o.retry.backoff = backoff
		}
	}
}

func (o options) publish(ctx context.Context, evt Event) {
	if err := o.publisher.Publish(ctx, evt); err != nil {
		o.logger.Warn("publish event failed",
			slog.String("type", evt.Type),
			slog.String("error", err.Error()),
		)
	}
}

type nopMetrics struct{}

func (nopMetrics) HoldCreated() {}
func (nopMetrics) HoldRejected(string) {}
func (nopMetrics) OrderCreated() {}
func (nopMetrics) PaymentSettled(domain.PaymentOutcome, domain.OrderStatus, bool) {}
func (nopMetrics) HoldsExpired(int) {}
func (nopMetrics) Retried(string) {}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, Event) error { return nil }
