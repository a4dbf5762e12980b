package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/EngLamisKhaled/Flashsale/internal/domain"
	"github.com/shopspring/decimal"
)

func TestHoldService_CreateHold(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	ttl := 2 * time.Minute

	product := domain.Product{ID: "product-1", Name: "Sneaker", StockTotal: 100, StockSold: 10, Price: decimal.RequireFromString("49.90")}

	makeSvc := func(holds []domain.Hold) (*HoldService, *fakeHoldRepo) {
		repo := newFakeHoldRepo([]domain.Product{product}, holds)
		svc := NewHoldService(repo, WithHoldTTL(ttl))
		return svc, repo
	}

	t.Run("creates hold when stock available", func(t *testing.T) {
		svc, repo := makeSvc([]domain.Hold{
			{ProductID: "product-1", Quantity: 30, Status: domain.HoldStatusActive, ExpiresAt: now.Add(time.Minute)},
			{ProductID: "product-1", Quantity: 20, Status: domain.HoldStatusUsed, ExpiresAt: now.Add(-time.Minute)},
		})

		hold, err := svc.CreateHold(context.Background(), CreateHoldInput{
			ProductID: "product-1",
			Quantity:  40,
			Now:       now,
		})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		if hold.ID == "" {
			t.Fatalf("expected hold ID to be set")
		}
		if hold.Status != domain.HoldStatusActive {
			t.Fatalf("expected status %s, got %s", domain.HoldStatusActive, hold.Status)
		}
		if !hold.ExpiresAt.Equal(now.Add(ttl)) {
			t.Fatalf("expected expires_at %v, got %v", now.Add(ttl), hold.ExpiresAt)
		}
		if len(repo.holds) != 3 {
			t.Fatalf("expected 3 holds in repo, got %d", len(repo.holds))
		}
	})

	t.Run("fails when stock exceeded", func(t *testing.T) {
		svc, repo := makeSvc([]domain.Hold{
			{ProductID: "product-1", Quantity: 80, Status: domain.HoldStatusActive, ExpiresAt: now.Add(time.Minute)},
		})

		_, err := svc.CreateHold(context.Background(), CreateHoldInput{
			ProductID: "product-1",
			Quantity:  11,
			Now:       now,
		})
		if !errors.Is(err, domain.ErrInsufficientStock) {
			t.Fatalf("expected ErrInsufficientStock, got %v", err)
		}
		if len(repo.holds) != 1 {
			t.Fatalf("expected holds unchanged on failure, got %d", len(repo.holds))
		}
	})

	t.Run("takes the last unit", func(t *testing.T) {
		svc, _ := makeSvc([]domain.Hold{
			{ProductID: "product-1", Quantity: 89, Status: domain.HoldStatusActive, ExpiresAt: now.Add(time.Minute)},
		})

		if _, err := svc.CreateHold(context.Background(), CreateHoldInput{ProductID: "product-1", Quantity: 1, Now: now}); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		_, err := svc.CreateHold(context.Background(), CreateHoldInput{ProductID: "product-1", Quantity: 1, Now: now})
		if !errors.Is(err, domain.ErrInsufficientStock) {
			t.Fatalf("expected ErrInsufficientStock, got %v", err)
		}
	})

	t.Run("lapsed holds free stock before the sweep runs", func(t *testing.T) {
		svc, _ := makeSvc([]domain.Hold{
			{ProductID: "product-1", Quantity: 80, Status: domain.HoldStatusActive, ExpiresAt: now},
		})

		hold, err := svc.CreateHold(context.Background(), CreateHoldInput{
			ProductID: "product-1",
			Quantity:  90,
			Now:       now,
		})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if hold.Quantity != 90 {
			t.Fatalf("expected quantity 90, got %d", hold.Quantity)
		}
	})

	t.Run("unknown product", func(t *testing.T) {
		svc, _ := makeSvc(nil)

		_, err := svc.CreateHold(context.Background(), CreateHoldInput{ProductID: "missing", Quantity: 1, Now: now})
		if !errors.Is(err, domain.ErrProductNotFound) {
			t.Fatalf("expected ErrProductNotFound, got %v", err)
		}
	})

	t.Run("rejects bad input", func(t *testing.T) {
		svc, repo := makeSvc(nil)

		cases := []struct {
			name string
			in   CreateHoldInput
			want error
		}{
			{"zero qty", CreateHoldInput{ProductID: "product-1", Quantity: 0, Now: now}, domain.ErrInvalidQuantity},
			{"negative qty", CreateHoldInput{ProductID: "product-1", Quantity: -3, Now: now}, domain.ErrInvalidQuantity},
			{"empty product", CreateHoldInput{Quantity: 1, Now: now}, domain.ErrInvalidID},
			{"zero time", CreateHoldInput{ProductID: "product-1", Quantity: 1}, domain.ErrTimeRequired},
		}
		for _, tc := range cases {
			if _, err := svc.CreateHold(context.Background(), tc.in); !errors.Is(err, tc.want) {
				t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
			}
		}
		if repo.txCount != 0 {
			t.Fatalf("expected no transaction for invalid input, got %d", repo.txCount)
		}
	})

	t.Run("retries lock timeouts then gives up as transient", func(t *testing.T) {
		repo := newFakeHoldRepo([]domain.Product{product}, nil)
		repo.lockErrs = 5
		metrics := &recordingMetrics{}
		svc := NewHoldService(repo, WithRetry(3, 0), WithMetrics(metrics))

		_, err := svc.CreateHold(context.Background(), CreateHoldInput{ProductID: "product-1", Quantity: 1, Now: now})
		if !errors.Is(err, domain.ErrTransient) {
			t.Fatalf("expected ErrTransient, got %v", err)
		}
		if !errors.Is(err, domain.ErrLockTimeout) {
			t.Fatalf("expected cause ErrLockTimeout, got %v", err)
		}
		if repo.txCount != 3 {
			t.Fatalf("expected 3 attempts, got %d", repo.txCount)
		}
		if metrics.retried != 2 {
			t.Fatalf("expected 2 retries recorded, got %d", metrics.retried)
		}
	})

	t.Run("recovers after a lock timeout", func(t *testing.T) {
		repo := newFakeHoldRepo([]domain.Product{product}, nil)
		repo.lockErrs = 1
		pub := &recordingPublisher{}
		svc := NewHoldService(repo, WithRetry(3, 0), WithPublisher(pub))

		hold, err := svc.CreateHold(context.Background(), CreateHoldInput{ProductID: "product-1", Quantity: 2, Now: now})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if len(pub.events) != 1 || pub.events[0].Type != EventHoldCreated || pub.events[0].HoldID != hold.ID {
			t.Fatalf("expected one hold.created event, got %+v", pub.events)
		}
	})
}

type fakeHoldRepo struct {
	products map[string]domain.Product
	holds    []domain.Hold
	lockErrs int
	txCount  int
}

func newFakeHoldRepo(products []domain.Product, holds []domain.Hold) *fakeHoldRepo {
	p := make(map[string]domain.Product)
	for _, product := range products {
		p[product.ID] = product
	}
	return &fakeHoldRepo{
		products: p,
		holds:    append([]domain.Hold{}, holds...),
	}
}

func (f *fakeHoldRepo) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	f.txCount++
	if f.lockErrs > 0 {
		f.lockErrs--
		return domain.ErrLockTimeout
	}
	return fn(ctx)
}

func (f *fakeHoldRepo) GetProductForUpdate(_ context.Context, productID string) (domain.Product, error) {
	product, ok := f.products[productID]
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return product, nil
}

func (f *fakeHoldRepo) SumReserved(_ context.Context, productID string, now time.Time) (int, error) {
	return domain.Reserved(productID, f.holds, now), nil
}

func (f *fakeHoldRepo) CreateHold(_ context.Context, hold domain.Hold) error {
	f.holds = append(f.holds, hold)
	return nil
}

type recordingMetrics struct {
	nopMetrics
	retried  int
	settled  int
	replayed int
	expired  int
}

func (m *recordingMetrics) Retried(string) { m.retried++ }

func (m *recordingMetrics) PaymentSettled(_ domain.PaymentOutcome, _ domain.OrderStatus, replayed bool) {
	m.settled++
	if replayed {
		m.replayed++
	}
}

func (m *recordingMetrics) HoldsExpired(n int) { m.expired += n }

type recordingPublisher struct {
	events []Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, evt Event) error {
	p.events = append(p.events, evt)
	return p.err
}
