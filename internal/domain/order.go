package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPending  OrderStatus = "pending"
	OrderStatusPaid     OrderStatus = "paid"
	OrderStatusCanceled OrderStatus = "canceled"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending: {OrderStatusPaid, OrderStatusCanceled},
}

// Valid reports whether s is a known order status.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusPaid, OrderStatusCanceled:
		return true
	}
	return false
}

// CanTransitionTo reports whether next is a permitted edge from s.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Order is a purchase created from exactly one hold.
type Order struct {
	ID         string
	ProductID  string
	HoldID     string
	Quantity   int
	TotalPrice decimal.Decimal
	Status     OrderStatus
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Transition moves the order to next, rejecting edges outside the table.
func (o *Order) Transition(next OrderStatus) error {
	if !o.Status.CanTransitionTo(next) {
		return fmt.Errorf("order %s: %s -> %s: %w", o.ID, o.Status, next, ErrInvalidTransition)
	}
	o.Status = next
	return nil
}
