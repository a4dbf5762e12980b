package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/EngLamisKhaled/Flashsale/internal/domain"
	"github.com/EngLamisKhaled/Flashsale/internal/storage/memory"
	"github.com/shopspring/decimal"
)

var saleStart = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

// testingT is satisfied by *testing.T and *rapid.T, so fixtures fail the
// run that owns them.
type testingT interface {
	Helper()
	Fatalf(format string, args ...any)
}

type saleFixture struct {
	store       *memory.Store
	products    *ProductService
	holds       *HoldService
	orders      *OrderService
	settlements *SettlementService
	sweeps      *SweepService
}

func newSaleFixture(t testingT, opts ...Option) *saleFixture {
	t.Helper()
	store := memory.New(memory.WithLockTimeout(time.Second))
	return &saleFixture{
		store:       store,
		products:    NewProductService(store, opts...),
		holds:       NewHoldService(store, opts...),
		orders:      NewOrderService(store, opts...),
		settlements: NewSettlementService(store, opts...),
		sweeps:      NewSweepService(store, opts...),
	}
}

func (f *saleFixture) product(t testingT, stock int) domain.Product {
	t.Helper()
	p, err := f.products.CreateProduct(context.Background(), CreateProductInput{
		Name:       "Limited sneaker",
		StockTotal: stock,
		Price:      decimal.RequireFromString("120.00"),
		Now:        saleStart,
	})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}
	return p
}

// pendingOrder takes qty units of product into a pending order.
func (f *saleFixture) pendingOrder(t testingT, productID string, qty int) domain.Order {
	t.Helper()
	hold, err := f.holds.CreateHold(context.Background(), CreateHoldInput{ProductID: productID, Quantity: qty, Now: saleStart})
	if err != nil {
		t.Fatalf("create hold: %v", err)
	}
	order, err := f.orders.CreateOrder(context.Background(), CreateOrderInput{HoldID: hold.ID, Now: saleStart})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	return order
}

func (f *saleFixture) available(t testingT, productID string, now time.Time) int {
	t.Helper()
	pa, err := f.products.GetProduct(context.Background(), productID, now)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	return pa.Available
}

func (f *saleFixture) settle(t testingT, orderID string, outcome domain.PaymentOutcome, key string) SettlePaymentResult {
	t.Helper()
	res, err := f.settlements.SettlePayment(context.Background(), SettlePaymentInput{
		OrderID:        orderID,
		Outcome:        outcome,
		IdempotencyKey: key,
		RawPayload:     []byte(`{"provider":"test"}`),
		Now:            saleStart.Add(10 * time.Second),
	})
	if err != nil {
		t.Fatalf("settle %s/%s: %v", outcome, key, err)
	}
	return res
}

func TestSettlementService_SettlePayment(t *testing.T) {
	t.Parallel()

	t.Run("success marks order paid and sells the units", func(t *testing.T) {
		f := newSaleFixture(t)
		p := f.product(t, 5)
		order := f.pendingOrder(t, p.ID, 2)

		res := f.settle(t, order.ID, domain.PaymentSuccess, "pay-1")
		if res.OrderStatus != domain.OrderStatusPaid || res.Replayed {
			t.Fatalf("unexpected result %+v", res)
		}

		got, _ := f.store.GetOrder(context.Background(), order.ID)
		if got.Status != domain.OrderStatusPaid {
			t.Fatalf("expected order paid, got %s", got.Status)
		}
		hold, _ := f.store.GetHold(context.Background(), order.HoldID)
		if hold.Status != domain.HoldStatusCompleted {
			t.Fatalf("expected hold completed, got %s", hold.Status)
		}
		prod, _ := f.store.GetProduct(context.Background(), p.ID)
		if prod.StockSold != 2 {
			t.Fatalf("expected stock_sold 2, got %d", prod.StockSold)
		}
		if avail := f.available(t, p.ID, saleStart.Add(time.Hour)); avail != 3 {
			t.Fatalf("expected 3 available, got %d", avail)
		}
		if n := f.store.PaymentEvents(); n != 1 {
			t.Fatalf("expected 1 payment event, got %d", n)
		}
	})

	t.Run("failure cancels order and releases stock", func(t *testing.T) {
		f := newSaleFixture(t)
		p := f.product(t, 5)
		order := f.pendingOrder(t, p.ID, 2)

		if avail := f.available(t, p.ID, saleStart); avail != 3 {
			t.Fatalf("expected 3 available while pending, got %d", avail)
		}

		res := f.settle(t, order.ID, domain.PaymentFailure, "pay-1")
		if res.OrderStatus != domain.OrderStatusCanceled {
			t.Fatalf("expected canceled, got %s", res.OrderStatus)
		}
		hold, _ := f.store.GetHold(context.Background(), order.HoldID)
		if hold.Status != domain.HoldStatusCanceled {
			t.Fatalf("expected hold canceled, got %s", hold.Status)
		}
		if avail := f.available(t, p.ID, saleStart); avail != 5 {
			t.Fatalf("expected 5 available after failure, got %d", avail)
		}
	})

	t.Run("same key is applied once", func(t *testing.T) {
		f := newSaleFixture(t)
		p := f.product(t, 5)
		order := f.pendingOrder(t, p.ID, 2)

		first := f.settle(t, order.ID, domain.PaymentSuccess, "pay-1")
		second := f.settle(t, order.ID, domain.PaymentSuccess, "pay-1")
		// A replay carrying a different outcome still returns what was recorded.
		third := f.settle(t, order.ID, domain.PaymentFailure, "pay-1")

		if !second.Replayed || !third.Replayed {
			t.Fatalf("expected replays, got %+v %+v", second, third)
		}
		if second.OrderStatus != first.OrderStatus || third.OrderStatus != first.OrderStatus {
			t.Fatalf("expected recorded status %s, got %s and %s", first.OrderStatus, second.OrderStatus, third.OrderStatus)
		}
		prod, _ := f.store.GetProduct(context.Background(), p.ID)
		if prod.StockSold != 2 {
			t.Fatalf("expected stock_sold 2, got %d", prod.StockSold)
		}
		if n := f.store.PaymentEvents(); n != 1 {
			t.Fatalf("expected 1 payment event, got %d", n)
		}
	})

	t.Run("terminal order ignores a later outcome", func(t *testing.T) {
		f := newSaleFixture(t)
		p := f.product(t, 5)
		paid := f.pendingOrder(t, p.ID, 1)
		canceled := f.pendingOrder(t, p.ID, 1)

		f.settle(t, paid.ID, domain.PaymentSuccess, "pay-1")
		if res := f.settle(t, paid.ID, domain.PaymentFailure, "pay-2"); res.OrderStatus != domain.OrderStatusPaid || res.Replayed {
			t.Fatalf("expected paid unchanged, got %+v", res)
		}

		f.settle(t, canceled.ID, domain.PaymentFailure, "pay-3")
		if res := f.settle(t, canceled.ID, domain.PaymentSuccess, "pay-4"); res.OrderStatus != domain.OrderStatusCanceled {
			t.Fatalf("expected canceled unchanged, got %+v", res)
		}

		prod, _ := f.store.GetProduct(context.Background(), p.ID)
		if prod.StockSold != 1 {
			t.Fatalf("expected stock_sold 1, got %d", prod.StockSold)
		}
		if n := f.store.PaymentEvents(); n != 4 {
			t.Fatalf("expected every key recorded, got %d", n)
		}
	})

	t.Run("concurrent deliveries of one key", func(t *testing.T) {
		f := newSaleFixture(t)
		p := f.product(t, 5)
		order := f.pendingOrder(t, p.ID, 3)

		const workers = 16
		var (
			wg       sync.WaitGroup
			mu       sync.Mutex
			statuses = make(map[domain.OrderStatus]int)
			errs     []error
		)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				res, err := f.settlements.SettlePayment(context.Background(), SettlePaymentInput{
					OrderID:        order.ID,
					Outcome:        domain.PaymentSuccess,
					IdempotencyKey: "pay-concurrent",
					Now:            saleStart,
				})
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					errs = append(errs, err)
					return
				}
				statuses[res.OrderStatus]++
			}()
		}
		wg.Wait()

		if len(errs) > 0 {
			t.Fatalf("unexpected errors: %v", errs)
		}
		if statuses[domain.OrderStatusPaid] != workers {
			t.Fatalf("expected %d paid results, got %v", workers, statuses)
		}
		prod, _ := f.store.GetProduct(context.Background(), p.ID)
		if prod.StockSold != 3 {
			t.Fatalf("expected stock_sold 3, got %d", prod.StockSold)
		}
		if n := f.store.PaymentEvents(); n != 1 {
			t.Fatalf("expected 1 payment event, got %d", n)
		}
	})

	t.Run("unknown order", func(t *testing.T) {
		f := newSaleFixture(t)

		_, err := f.settlements.SettlePayment(context.Background(), SettlePaymentInput{
			OrderID:        "missing",
			Outcome:        domain.PaymentSuccess,
			IdempotencyKey: "pay-1",
			Now:            saleStart,
		})
		if !errors.Is(err, domain.ErrOrderNotFound) {
			t.Fatalf("expected ErrOrderNotFound, got %v", err)
		}
		if n := f.store.PaymentEvents(); n != 0 {
			t.Fatalf("expected no payment event, got %d", n)
		}
	})

	t.Run("rejects bad input", func(t *testing.T) {
		f := newSaleFixture(t)
		valid := SettlePaymentInput{OrderID: "o", Outcome: domain.PaymentSuccess, IdempotencyKey: "k", Now: saleStart}

		cases := []struct {
			name   string
			mutate func(*SettlePaymentInput)
			want   error
		}{
			{"empty order", func(in *SettlePaymentInput) { in.OrderID = "" }, domain.ErrInvalidID},
			{"unknown outcome", func(in *SettlePaymentInput) { in.Outcome = "refunded" }, domain.ErrInvalidOutcome},
			{"empty key", func(in *SettlePaymentInput) { in.IdempotencyKey = "" }, domain.ErrIdempotencyKeyRequired},
			{"payload not json", func(in *SettlePaymentInput) { in.RawPayload = []byte("{oops") }, domain.ErrInvalidPayload},
			{"zero time", func(in *SettlePaymentInput) { in.Now = time.Time{} }, domain.ErrTimeRequired},
		}
		for _, tc := range cases {
			in := valid
			tc.mutate(&in)
			if _, err := f.settlements.SettlePayment(context.Background(), in); !errors.Is(err, tc.want) {
				t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
			}
		}
	})

	t.Run("cache hit short-circuits the store", func(t *testing.T) {
		cache := &mapCache{entries: map[string]domain.OrderStatus{"pay-cached": domain.OrderStatusPaid}}
		f := newSaleFixture(t, WithSettlementCache(cache))

		res, err := f.settlements.SettlePayment(context.Background(), SettlePaymentInput{
			OrderID:        "not-in-store",
			Outcome:        domain.PaymentSuccess,
			IdempotencyKey: "pay-cached",
			Now:            saleStart,
		})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if !res.Replayed || res.OrderStatus != domain.OrderStatusPaid {
			t.Fatalf("unexpected result %+v", res)
		}
	})

	t.Run("settled status is remembered", func(t *testing.T) {
		cache := &mapCache{entries: map[string]domain.OrderStatus{}}
		f := newSaleFixture(t, WithSettlementCache(cache))
		p := f.product(t, 2)
		order := f.pendingOrder(t, p.ID, 1)

		f.settle(t, order.ID, domain.PaymentFailure, "pay-1")
		if got := cache.entries["pay-1"]; got != domain.OrderStatusCanceled {
			t.Fatalf("expected cached canceled, got %q", got)
		}
	})

	t.Run("cache errors fall through to the store", func(t *testing.T) {
		cache := &mapCache{err: errors.New("redis down")}
		f := newSaleFixture(t, WithSettlementCache(cache))
		p := f.product(t, 2)
		order := f.pendingOrder(t, p.ID, 1)

		if res := f.settle(t, order.ID, domain.PaymentSuccess, "pay-1"); res.OrderStatus != domain.OrderStatusPaid {
			t.Fatalf("expected paid, got %s", res.OrderStatus)
		}
	})
}

func TestSettlementService_LostKeyRaceReturnsWinner(t *testing.T) {
	t.Parallel()

	f := newSaleFixture(t)
	p := f.product(t, 3)
	order := f.pendingOrder(t, p.ID, 1)

	repo := &keyRaceRepo{Store: f.store}
	metrics := &recordingMetrics{}
	svc := NewSettlementService(repo, WithRetry(3, 0), WithMetrics(metrics))

	res, err := svc.SettlePayment(context.Background(), SettlePaymentInput{
		OrderID:        order.ID,
		Outcome:        domain.PaymentSuccess,
		IdempotencyKey: "pay-1",
		Now:            saleStart,
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !res.Replayed || res.OrderStatus != domain.OrderStatusCanceled {
		t.Fatalf("expected winner's status, got %+v", res)
	}
	if metrics.retried != 1 {
		t.Fatalf("expected 1 retry, got %d", metrics.retried)
	}

	// The losing attempt rolled back as a whole.
	got, _ := f.store.GetOrder(context.Background(), order.ID)
	if got.Status != domain.OrderStatusPending {
		t.Fatalf("expected order still pending, got %s", got.Status)
	}
	prod, _ := f.store.GetProduct(context.Background(), p.ID)
	if prod.StockSold != 0 {
		t.Fatalf("expected stock_sold 0, got %d", prod.StockSold)
	}
}

// keyRaceRepo loses the insert of the first payment event to a concurrent
// winner that recorded a canceled order under the same key.
type keyRaceRepo struct {
	*memory.Store
	winner *domain.PaymentEvent
}

func (r *keyRaceRepo) FindPaymentEvent(ctx context.Context, key string) (*domain.PaymentEvent, error) {
	if r.winner != nil && r.winner.IdempotencyKey == key {
		return r.winner, nil
	}
	return r.Store.FindPaymentEvent(ctx, key)
}

func (r *keyRaceRepo) CreatePaymentEvent(_ context.Context, event domain.PaymentEvent) error {
	r.winner = &domain.PaymentEvent{
		ID:             "evt-winner",
		OrderID:        event.OrderID,
		IdempotencyKey: event.IdempotencyKey,
		Status:         domain.PaymentFailure,
		OrderStatus:    domain.OrderStatusCanceled,
	}
	return fmt.Errorf("insert payment event: %w", domain.ErrDuplicatePaymentEvent)
}

type mapCache struct {
	mu      sync.Mutex
	entries map[string]domain.OrderStatus
	err     error
}

func (c *mapCache) Recall(_ context.Context, key string) (domain.OrderStatus, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return "", false, c.err
	}
	status, ok := c.entries[key]
	return status, ok, nil
}

func (c *mapCache) Remember(_ context.Context, key string, status domain.OrderStatus) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.entries[key] = status
	return nil
}
