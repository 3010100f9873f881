package booking

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by Service wraps exactly one of these, so
// callers can branch with errors.Is on the kind and still match the specific
// error below when they need to.
var (
	ErrValidation   = errors.New("validation failed")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidState = errors.New("invalid state")
	ErrTransient    = errors.New("transient store failure, retry")
)

var (
	ErrInvalidInterval     = fmt.Errorf("%w: slot end must be after start", ErrValidation)
	ErrInvalidTargetStatus = fmt.Errorf("%w: target status must be COMPLETED or CANCELLED", ErrValidation)
	ErrNegativeAmount      = fmt.Errorf("%w: amount must not be negative", ErrValidation)
	ErrInvalidPagination   = fmt.Errorf("%w: invalid pagination", ErrValidation)
	ErrInvalidPeriod       = fmt.Errorf("%w: period end must be after start", ErrValidation)
	ErrInvalidYear         = fmt.Errorf("%w: year out of range", ErrValidation)

	ErrSlotNotFound        = fmt.Errorf("%w: slot", ErrNotFound)
	ErrAppointmentNotFound = fmt.Errorf("%w: appointment", ErrNotFound)
	ErrPaymentNotFound     = fmt.Errorf("%w: payment", ErrNotFound)

	ErrSlotOverlap     = fmt.Errorf("%w: slot overlaps an existing slot", ErrConflict)
	ErrSlotUnavailable = fmt.Errorf("%w: slot unavailable", ErrConflict)
	ErrPaymentExists   = fmt.Errorf("%w: appointment already has a payment", ErrConflict)

	ErrSlotNotFree          = fmt.Errorf("%w: only free slots can be deleted", ErrInvalidState)
	ErrAppointmentFinalized = fmt.Errorf("%w: appointment is already completed or cancelled", ErrInvalidState)
)

// transient marks a store failure as safe to retry with the same arguments.
func transient(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrTransient, err)
}
