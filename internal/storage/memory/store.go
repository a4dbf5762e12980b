// Package memory is a transactional store kept in process memory. It serves
// the same repository interfaces as the Postgres store with the same
// isolation: one writer at a time, all-or-nothing commits, and readers that
// only ever see committed state.
package memory

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/EngLamisKhaled/Flashsale/internal/domain"
	"github.com/google/btree"
)

const defaultLockTimeout = 2 * time.Second

type txKey struct{}

// expiryItem orders active holds by expiry so the sweep only visits due rows.
type expiryItem struct {
	expiresAt time.Time
	holdID    string
}

func expiryLess(a, b expiryItem) bool {
	if !a.expiresAt.Equal(b.expiresAt) {
		return a.expiresAt.Before(b.expiresAt)
	}
	return a.holdID < b.holdID
}

// state is one version of the data. A published state is never mutated;
// writers change a private copy and publish it on commit.
type state struct {
	products map[string]domain.Product
	holds    map[string]domain.Hold
	orders   map[string]domain.Order
	byHold   map[string]string // hold id -> order id
	events   map[string]domain.PaymentEvent
	expiry   *btree.BTreeG[expiryItem]
}

func newState() *state {
	return &state{
		products: make(map[string]domain.Product),
		holds:    make(map[string]domain.Hold),
		orders:   make(map[string]domain.Order),
		byHold:   make(map[string]string),
		events:   make(map[string]domain.PaymentEvent),
		expiry:   btree.NewG[expiryItem](16, expiryLess),
	}
}

func (st *state) clone() *state {
	return &state{
		products: maps.Clone(st.products),
		holds:    maps.Clone(st.holds),
		orders:   maps.Clone(st.orders),
		byHold:   maps.Clone(st.byHold),
		events:   maps.Clone(st.events),
		expiry:   st.expiry.Clone(),
	}
}

// Store holds all entities. Writers take the single transaction slot, which
// stands in for row locks: a waiter gives up after the lock timeout.
type Store struct {
	slot        chan struct{}
	lockTimeout time.Duration

	mu        sync.RWMutex
	committed *state
}

type Option func(*Store)

func WithLockTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.lockTimeout = d
		}
	}
}

func New(opts ...Option) *Store {
	s := &Store{
		slot:        make(chan struct{}, 1),
		lockTimeout: defaultLockTimeout,
		committed:   newState(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// WithTx runs fn holding the transaction slot against a private copy of the
// data, published only if fn succeeds. Nested calls join the outer
// transaction.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if working(ctx) != nil {
		return fn(ctx)
	}
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()

	work := s.current().clone()
	if err := fn(context.WithValue(ctx, txKey{}, work)); err != nil {
		return err
	}
	s.publish(work)
	return nil
}

func working(ctx context.Context) *state {
	st, _ := ctx.Value(txKey{}).(*state)
	return st
}

func (s *Store) acquire(ctx context.Context) error {
	timer := time.NewTimer(s.lockTimeout)
	defer timer.Stop()

	select {
	case s.slot <- struct{}{}:
		return nil
	case <-timer.C:
		return fmt.Errorf("memory store: waited %s: %w", s.lockTimeout, domain.ErrLockTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Store) release() {
	<-s.slot
}

func (s *Store) current() *state {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.committed
}

func (s *Store) publish(st *state) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.committed = st
}

// view returns the caller's transaction state, or the latest committed one.
func (s *Store) view(ctx context.Context) *state {
	if st := working(ctx); st != nil {
		return st
	}
	return s.current()
}

// write applies fn to the caller's transaction state. Outside a transaction
// it runs as a single-statement transaction of its own.
func (s *Store) write(ctx context.Context, fn func(st *state) error) error {
	if st := working(ctx); st != nil {
		return fn(st)
	}
	return s.WithTx(ctx, func(ctx context.Context) error {
		return fn(working(ctx))
	})
}

// Products.

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) error {
	return s.write(ctx, func(st *state) error {
		if _, exists := st.products[product.ID]; exists {
			return fmt.Errorf("product %s already exists", product.ID)
		}
		st.products[product.ID] = product
		return nil
	})
}

func (s *Store) GetProduct(ctx context.Context, productID string) (domain.Product, error) {
	p, ok := s.view(ctx).products[productID]
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return p, nil
}

// GetProductForUpdate reads the product; the transaction slot already
// excludes other writers.
func (s *Store) GetProductForUpdate(ctx context.Context, productID string) (domain.Product, error) {
	return s.GetProduct(ctx, productID)
}

func (s *Store) SumReserved(ctx context.Context, productID string, now time.Time) (int, error) {
	return reserved(s.view(ctx), productID, now), nil
}

// GetProductWithReserved reads the product and its reserved quantity from one
// committed version.
func (s *Store) GetProductWithReserved(ctx context.Context, productID string, now time.Time) (domain.Product, int, error) {
	st := s.view(ctx)
	p, ok := st.products[productID]
	if !ok {
		return domain.Product{}, 0, domain.ErrProductNotFound
	}
	return p, reserved(st, productID, now), nil
}

func reserved(st *state, productID string, now time.Time) int {
	holds := make([]domain.Hold, 0, len(st.holds))
	for _, h := range st.holds {
		if h.ProductID == productID {
			holds = append(holds, h)
		}
	}
	return domain.Reserved(productID, holds, now)
}

func (s *Store) AddStockSold(ctx context.Context, productID string, qty int) error {
	return s.write(ctx, func(st *state) error {
		p, ok := st.products[productID]
		if !ok {
			return domain.ErrProductNotFound
		}
		if p.StockSold+qty > p.StockTotal {
			return fmt.Errorf("product %s: sold %d + %d exceeds total %d", productID, p.StockSold, qty, p.StockTotal)
		}
		p.StockSold += qty
		st.products[productID] = p
		return nil
	})
}

// Holds.

func (s *Store) CreateHold(ctx context.Context, hold domain.Hold) error {
	return s.write(ctx, func(st *state) error {
		if _, ok := st.products[hold.ProductID]; !ok {
			return domain.ErrProductNotFound
		}
		if _, exists := st.holds[hold.ID]; exists {
			return fmt.Errorf("hold %s already exists", hold.ID)
		}
		st.holds[hold.ID] = hold
		if hold.Status == domain.HoldStatusActive {
			st.expiry.ReplaceOrInsert(expiryItem{expiresAt: hold.ExpiresAt, holdID: hold.ID})
		}
		return nil
	})
}

func (s *Store) GetHold(ctx context.Context, holdID string) (domain.Hold, error) {
	h, ok := s.view(ctx).holds[holdID]
	if !ok {
		return domain.Hold{}, domain.ErrHoldNotFound
	}
	return h, nil
}

func (s *Store) GetHoldForUpdate(ctx context.Context, holdID string) (domain.Hold, error) {
	return s.GetHold(ctx, holdID)
}

func (s *Store) UpdateHoldStatus(ctx context.Context, holdID string, from, to domain.HoldStatus) error {
	return s.write(ctx, func(st *state) error {
		return st.setHoldStatus(holdID, from, to)
	})
}

// setHoldStatus is the compare-and-set shared by transitions and the sweep.
func (st *state) setHoldStatus(holdID string, from, to domain.HoldStatus) error {
	h, ok := st.holds[holdID]
	if !ok {
		return domain.ErrHoldNotFound
	}
	if h.Status != from {
		return fmt.Errorf("hold %s not in status %s: %w", holdID, from, domain.ErrInvalidTransition)
	}
	if from == domain.HoldStatusActive {
		st.expiry.Delete(expiryItem{expiresAt: h.ExpiresAt, holdID: h.ID})
	}
	h.Status = to
	st.holds[holdID] = h
	return nil
}

// ExpireHolds walks the expiry index up to now.
func (s *Store) ExpireHolds(ctx context.Context, now time.Time) (int, error) {
	n := 0
	err := s.write(ctx, func(st *state) error {
		n = 0
		var due []expiryItem
		st.expiry.Ascend(func(item expiryItem) bool {
			if item.expiresAt.After(now) {
				return false
			}
			due = append(due, item)
			return true
		})
		for _, item := range due {
			if err := st.setHoldStatus(item.holdID, domain.HoldStatusActive, domain.HoldStatusExpired); err != nil {
				continue
			}
			n++
		}
		return nil
	})
	return n, err
}

// Orders.

func (s *Store) CreateOrder(ctx context.Context, order domain.Order) error {
	return s.write(ctx, func(st *state) error {
		if _, exists := st.orders[order.ID]; exists {
			return fmt.Errorf("order %s already exists", order.ID)
		}
		if order.HoldID != "" {
			if _, taken := st.byHold[order.HoldID]; taken {
				return domain.ErrHoldNotActive
			}
			st.byHold[order.HoldID] = order.ID
		}
		st.orders[order.ID] = order
		return nil
	})
}

func (s *Store) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	o, ok := s.view(ctx).orders[orderID]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return o, nil
}

func (s *Store) GetOrderForUpdate(ctx context.Context, orderID string) (domain.Order, error) {
	return s.GetOrder(ctx, orderID)
}

func (s *Store) UpdateOrderStatus(ctx context.Context, orderID string, from, to domain.OrderStatus, now time.Time) error {
	return s.write(ctx, func(st *state) error {
		o, ok := st.orders[orderID]
		if !ok {
			return domain.ErrOrderNotFound
		}
		if o.Status != from {
			return fmt.Errorf("order %s not in status %s: %w", orderID, from, domain.ErrInvalidTransition)
		}
		o.Status = to
		o.UpdatedAt = now
		st.orders[orderID] = o
		return nil
	})
}

// Payment events.

func (s *Store) FindPaymentEvent(ctx context.Context, idempotencyKey string) (*domain.PaymentEvent, error) {
	e, ok := s.view(ctx).events[idempotencyKey]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (s *Store) CreatePaymentEvent(ctx context.Context, event domain.PaymentEvent) error {
	return s.write(ctx, func(st *state) error {
		if _, exists := st.events[event.IdempotencyKey]; exists {
			return fmt.Errorf("payment event %q: %w", event.IdempotencyKey, domain.ErrDuplicatePaymentEvent)
		}
		if _, ok := st.orders[event.OrderID]; !ok {
			return domain.ErrOrderNotFound
		}
		st.events[event.IdempotencyKey] = event
		return nil
	})
}

// Holds returns every committed hold of a product, in no particular order.
func (s *Store) Holds(productID string) []domain.Hold {
	out := make([]domain.Hold, 0)
	for _, h := range s.current().holds {
		if h.ProductID == productID {
			out = append(out, h)
		}
	}
	return out
}

// PaymentEvents counts committed payment events.
func (s *Store) PaymentEvents() int {
	return len(s.current().events)
}
