package domain

import (
	"fmt"
	"time"
)

type HoldStatus string

const (
	HoldStatusActive    HoldStatus = "active"
	HoldStatusUsed      HoldStatus = "used"
	HoldStatusExpired   HoldStatus = "expired"
	HoldStatusCanceled  HoldStatus = "canceled"
	HoldStatusCompleted HoldStatus = "completed"
)

var holdTransitions = map[HoldStatus][]HoldStatus{
	HoldStatusActive: {HoldStatusUsed, HoldStatusExpired, HoldStatusCanceled},
	HoldStatusUsed:   {HoldStatusCompleted, HoldStatusCanceled},
}

// Valid reports whether s is a known hold status.
func (s HoldStatus) Valid() bool {
	switch s {
	case HoldStatusActive, HoldStatusUsed, HoldStatusExpired, HoldStatusCanceled, HoldStatusCompleted:
		return true
	}
	return false
}

// CanTransitionTo reports whether next is a permitted edge from s.
func (s HoldStatus) CanTransitionTo(next HoldStatus) bool {
	for _, allowed := range holdTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no edge leaves s.
func (s HoldStatus) Terminal() bool {
	return len(holdTransitions[s]) == 0
}

// Hold is a time-bound claim on product stock.
type Hold struct {
	ID        string
	ProductID string
	Quantity  int
	Status    HoldStatus
	ExpiresAt time.Time
	CreatedAt time.Time
}

// ExpiredAt reports whether the hold's validity window has passed at now.
// Expiry is defined by time, not by whether a sweep already ran.
func (h Hold) ExpiredAt(now time.Time) bool {
	return !h.ExpiresAt.After(now)
}

// Reserves reports whether the hold's quantity is withheld from availability
// at now: active and unexpired, or used by a pending order.
func (h Hold) Reserves(now time.Time) bool {
	switch h.Status {
	case HoldStatusActive:
		return !h.ExpiredAt(now)
	case HoldStatusUsed:
		return true
	}
	return false
}

// Transition moves the hold to next, rejecting edges outside the table.
func (h *Hold) Transition(next HoldStatus) error {
	if !h.Status.CanTransitionTo(next) {
		return fmt.Errorf("hold %s: %s -> %s: %w", h.ID, h.Status, next, ErrInvalidTransition)
	}
	h.Status = next
	return nil
}
