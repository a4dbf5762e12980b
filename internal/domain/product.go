package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product is owned inventory with a flat unit price.
type Product struct {
	ID         string
	Name       string
	StockTotal int
	StockSold  int
	Price      decimal.Decimal
	CreatedAt  time.Time
}

// LineTotal is the price of qty units.
func (p Product) LineTotal(qty int) decimal.Decimal {
	return p.Price.Mul(decimal.NewFromInt(int64(qty)))
}
