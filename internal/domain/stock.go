package domain

import "time"

// Reserved sums the quantity withheld by holds of productID at now.
func Reserved(productID string, holds []Hold, now time.Time) int {
	total := 0
	for _, h := range holds {
		if h.ProductID != productID || !h.Reserves(now) {
			continue
		}
		total += h.Quantity
	}
	return total
}

// Available is stock_total - stock_sold - reserved for a product.
func Available(p Product, reserved int) int {
	return p.StockTotal - p.StockSold - reserved
}
