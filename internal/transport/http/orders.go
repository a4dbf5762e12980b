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

// OrderService is the minimal interface needed for order endpoints.
type OrderService interface {
	CreateOrder(ctx context.Context, in app.CreateOrderInput) (domain.Order, error)
	GetOrder(ctx context.Context, orderID string) (domain.Order, error)
}

// HandleCreateOrder turns a hold into a pending order.
func HandleCreateOrder(svc OrderService, clk clock.Clock) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createOrderRequest
		dec := json.NewDecoder(r.Body)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid request body")
			return
		}

		order, err := svc.CreateOrder(r.Context(), app.CreateOrderInput{
			HoldID: req.HoldID,
			Now:    clk.Now(),
		})
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, newOrderResponse(order))
	}
}

func HandleGetOrder(svc OrderService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		order, err := svc.GetOrder(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, newOrderResponse(order))
	}
}

type createOrderRequest struct {
	HoldID string `json:"hold_id"`
}

type orderResponse struct {
	OrderID    string          `json:"order_id"`
	Status     string          `json:"status"`
	ProductID  string          `json:"product_id"`
	HoldID     string          `json:"hold_id,omitempty"`
	Quantity   int             `json:"qty"`
	TotalPrice decimal.Decimal `json:"total_price"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

func newOrderResponse(o domain.Order) orderResponse {
	return orderResponse{
		OrderID:    o.ID,
		Status:     string(o.Status),
		ProductID:  o.ProductID,
		HoldID:     o.HoldID,
		Quantity:   o.Quantity,
		TotalPrice: o.TotalPrice,
		CreatedAt:  o.CreatedAt,
		UpdatedAt:  o.UpdatedAt,
	}
}
