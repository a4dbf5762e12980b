package app

import (
	"context"
	"time"

	"github.com/EngLamisKhaled/Flashsale/internal/domain"
	"github.com/shopspring/decimal"
)

type ProductRepository interface {
	CreateProduct(ctx context.Context, product domain.Product) error
	// GetProductWithReserved returns the product and its reserved quantity at
	// now, both read from the same committed state.
	GetProductWithReserved(ctx context.Context, productID string, now time.Time) (domain.Product, int, error)
}

type ProductService struct {
	repo ProductRepository
	opts options
}

func NewProductService(repo ProductRepository, opts ...Option) *ProductService {
	return &ProductService{
		repo: repo,
		opts: newOptions(opts),
	}
}

type CreateProductInput struct {
	Name       string
	StockTotal int
	Price      decimal.Decimal
	Now        time.Time
}

func (s *ProductService) CreateProduct(ctx context.Context, in CreateProductInput) (domain.Product, error) {
	if in.Name == "" {
		return domain.Product{}, domain.ErrProductNameRequired
	}
	if in.StockTotal < 0 {
		return domain.Product{}, domain.ErrInvalidStock
	}
	if in.Price.IsNegative() {
		return domain.Product{}, domain.ErrInvalidPrice
	}
	if in.Now.IsZero() {
		return domain.Product{}, domain.ErrTimeRequired
	}

	product := domain.Product{
		ID:         newUUID(),
		Name:       in.Name,
		StockTotal: in.StockTotal,
		Price:      in.Price,
		CreatedAt:  in.Now,
	}
	if err := s.repo.CreateProduct(ctx, product); err != nil {
		return domain.Product{}, err
	}
	return product, nil
}

// ProductAvailability is a product with its stock ledger evaluated at a point in time.
type ProductAvailability struct {
	Product   domain.Product
	Reserved  int
	Available int
}

// GetProduct reads the product and recomputes its availability at now.
func (s *ProductService) GetProduct(ctx context.Context, productID string, now time.Time) (ProductAvailability, error) {
	if productID == "" {
		return ProductAvailability{}, domain.ErrInvalidID
	}
	if now.IsZero() {
		return ProductAvailability{}, domain.ErrTimeRequired
	}

	product, reserved, err := s.repo.GetProductWithReserved(ctx, productID, now)
	if err != nil {
		return ProductAvailability{}, err
	}
	return ProductAvailability{
		Product:   product,
		Reserved:  reserved,
		Available: domain.Available(product, reserved),
	}, nil
}
