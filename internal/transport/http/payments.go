package http

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/EngLamisKhaled/Flashsale/internal/app"
	"github.com/EngLamisKhaled/Flashsale/internal/clock"
	"github.com/EngLamisKhaled/Flashsale/internal/domain"
)

const (
	idempotencyHeader = "Idempotency-Key"
	maxWebhookBody    = 1 << 20
)

// PaymentSettler is the minimal interface needed to settle a payment.
type PaymentSettler interface {
	SettlePayment(ctx context.Context, in app.SettlePaymentInput) (app.SettlePaymentResult, error)
}

// HandlePaymentWebhook applies a gateway notification. The body is kept
// verbatim as the raw payload; the Idempotency-Key header stands in when the
// body carries no key.
func HandlePaymentWebhook(svc PaymentSettler, clk clock.Clock) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody+1))
		if err != nil || len(raw) > maxWebhookBody {
			writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid request body")
			return
		}

		var req paymentWebhookRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid request body")
			return
		}
		key := req.IdempotencyKey
		if key == "" {
			key = r.Header.Get(idempotencyHeader)
		}

		res, err := svc.SettlePayment(r.Context(), app.SettlePaymentInput{
			OrderID:        req.OrderID,
			Outcome:        domain.PaymentOutcome(req.Status),
			IdempotencyKey: key,
			RawPayload:     raw,
			Now:            clk.Now(),
		})
		if err != nil {
			writeServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, paymentWebhookResponse{
			OrderStatus: string(res.OrderStatus),
			Replayed:    res.Replayed,
		})
	}
}

type paymentWebhookRequest struct {
	OrderID        string `json:"order_id"`
	Status         string `json:"status"`
	IdempotencyKey string `json:"idempotency_key"`
}

type paymentWebhookResponse struct {
	OrderStatus string `json:"order_status"`
	Replayed    bool   `json:"replayed"`
}
