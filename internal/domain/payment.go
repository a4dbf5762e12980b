package domain

import "time"

// PaymentOutcome is the definitive result reported by the payment gateway.
type PaymentOutcome string

const (
	PaymentSuccess PaymentOutcome = "success"
	PaymentFailure PaymentOutcome = "failure"
)

func (o PaymentOutcome) Valid() bool {
	return o == PaymentSuccess || o == PaymentFailure
}

// PaymentEvent is the append-only record of a processed notification. Its
// idempotency key is unique across the store.
type PaymentEvent struct {
	ID             string
	OrderID        string
	IdempotencyKey string
	Status         PaymentOutcome
	// OrderStatus is the order status the settling call returned.
	OrderStatus OrderStatus
	RawPayload  []byte
	CreatedAt   time.Time
}
