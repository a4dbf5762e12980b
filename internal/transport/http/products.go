package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/EngLamisKhaled/Flashsale/internal/app"
	"github.com/EngLamisKhaled/Flashsale/internal/clock"
	"github.com/EngLamisKhaled/Flashsale/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

// ProductService is the minimal interface needed for product endpoints.
type ProductService interface {
	CreateProduct(ctx context.Context, in app.CreateProductInput) (domain.Product, error)
	GetProduct(ctx context.Context, productID string, now time.Time) (app.ProductAvailability, error)
}

func HandleCreateProduct(svc ProductService, clk clock.Clock) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createProductRequest
		dec := json.NewDecoder(r.Body)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid request body")
			return
		}

		product, err := svc.CreateProduct(r.Context(), app.CreateProductInput{
			Name:       req.Name,
			StockTotal: req.StockTotal,
			Price:      req.Price,
			Now:        clk.Now(),
		})
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, newProductResponse(app.ProductAvailability{
			Product:   product,
			Available: domain.Available(product, 0),
		}))
	}
}

// HandleGetProduct reports the product with availability computed at request time.
func HandleGetProduct(svc ProductService, clk clock.Clock) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pa, err := svc.GetProduct(r.Context(), chi.URLParam(r, "id"), clk.Now())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, newProductResponse(pa))
	}
}

type createProductRequest struct {
	Name       string          `json:"name"`
	StockTotal int             `json:"stock_total"`
	Price      decimal.Decimal `json:"price"`
}

type productResponse struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Price      decimal.Decimal `json:"price"`
	StockTotal int             `json:"stock_total"`
	StockSold  int             `json:"stock_sold"`
	Reserved   int             `json:"reserved"`
	Available  int             `json:"available"`
	CreatedAt  time.Time       `json:"created_at"`
}

func newProductResponse(pa app.ProductAvailability) productResponse {
	return productResponse{
		ID:         pa.Product.ID,
		Name:       pa.Product.Name,
		Price:      pa.Product.Price,
		StockTotal: pa.Product.StockTotal,
		StockSold:  pa.Product.StockSold,
		Reserved:   pa.Reserved,
		Available:  pa.Available,
		CreatedAt:  pa.Product.CreatedAt,
	}
}
