package domain

import "errors"

var (
	ErrInvalidQuantity        = errors.New("invalid quantity")
	ErrInvalidID              = errors.New("invalid id")
	ErrInvalidOutcome         = errors.New("invalid payment outcome")
	ErrIdempotencyKeyRequired = errors.New("idempotency key required")
	ErrInvalidPayload         = errors.New("invalid raw payload")
	ErrProductNameRequired    = errors.New("product name required")
	ErrInvalidStock           = errors.New("invalid stock")
	ErrInvalidPrice           = errors.New("invalid price")
	ErrTimeRequired           = errors.New("current time required")

	ErrProductNotFound = errors.New("product not found")
	ErrHoldNotFound    = errors.New("hold not found")
	ErrOrderNotFound   = errors.New("order not found")

	ErrInsufficientStock = errors.New("insufficient stock")
	ErrHoldNotActive     = errors.New("hold not active")
	ErrHoldExpired       = errors.New("hold expired")
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrTransient is surfaced once internal retries are exhausted; callers may
	// repeat the whole request.
	ErrTransient = errors.New("transient store conflict")
	// ErrLockTimeout and ErrDuplicatePaymentEvent are the store-level causes that
	// the services retry before giving up with ErrTransient.
	ErrLockTimeout           = errors.New("lock timeout")
	ErrDuplicatePaymentEvent = errors.New("duplicate payment event")
)

// IsValidation reports whether err rejects the shape or range of an input.
func IsValidation(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidQuantity),
		errors.Is(err, ErrInvalidID),
		errors.Is(err, ErrInvalidOutcome),
		errors.Is(err, ErrIdempotencyKeyRequired),
		errors.Is(err, ErrInvalidPayload),
		errors.Is(err, ErrProductNameRequired),
		errors.Is(err, ErrInvalidStock),
		errors.Is(err, ErrInvalidPrice),
		errors.Is(err, ErrTimeRequired):
		return true
	}
	return false
}

// IsNotFound reports whether err names a missing entity.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrProductNotFound) ||
		errors.Is(err, ErrHoldNotFound) ||
		errors.Is(err, ErrOrderNotFound)
}

// IsConflict reports whether err is a domain conflict that repeating the same
// call will not resolve.
func IsConflict(err error) bool {
	return errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrHoldNotActive) ||
		errors.Is(err, ErrHoldExpired) ||
		errors.Is(err, ErrInvalidTransition)
}

// IsRetryable reports whether a failed transaction may be re-run as is.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrLockTimeout) || errors.Is(err, ErrDuplicatePaymentEvent)
}
