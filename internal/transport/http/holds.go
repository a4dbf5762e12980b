package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/EngLamisKhaled/Flashsale/internal/app"
	"github.com/EngLamisKhaled/Flashsale/internal/clock"
	"github.com/EngLamisKhaled/Flashsale/internal/domain"
)

// HoldCreator is the minimal interface needed to create a hold.
type HoldCreator interface {
	CreateHold(ctx context.Context, in app.CreateHoldInput) (domain.Hold, error)
}

// HandleCreateHold returns an HTTP handler for creating holds.
func HandleCreateHold(svc HoldCreator, clk clock.Clock) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createHoldRequest
		dec := json.NewDecoder(r.Body)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid request body")
			return
		}

		hold, err := svc.CreateHold(r.Context(), app.CreateHoldInput{
			ProductID: req.ProductID,
			Quantity:  req.Quantity,
			Now:       clk.Now(),
		})
		if err != nil {
			writeServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, createHoldResponse{
			HoldID:    hold.ID,
			ExpiresAt: hold.ExpiresAt,
		})
	}
}

type createHoldRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"qty"`
}

type createHoldResponse struct {
	HoldID    string    `json:"hold_id"`
	ExpiresAt time.Time `json:"expires_at"`
}
