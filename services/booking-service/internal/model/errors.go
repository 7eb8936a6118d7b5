package model

import "errors"

var (
	ErrTenantNotFound   = errors.New("tenant not found")
	ErrInvalidEventType = errors.New("invalid event type")
	ErrSlotUnavailable  = errors.New("slot unavailable")
	ErrHolidayConflict  = errors.New("holiday conflict")
	ErrValidation       = errors.New("validation error")
	// ErrExternalServiceDegraded is informational and never returned from the
	// booking path.
	ErrExternalServiceDegraded = errors.New("external service degraded")
	ErrNotFound                = errors.New("not found")
	// ErrChangeWindowClosed refuses a guest change too close to the start.
	ErrChangeWindowClosed = errors.New("change window closed")
)

// IsConflict reports errors a client resolves by choosing another slot.
func IsConflict(err error) bool {
	return errors.Is(err, ErrSlotUnavailable) || errors.Is(err, ErrHolidayConflict)
}

// IsValidation reports errors a client resolves by fixing its input.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) || errors.Is(err, ErrInvalidEventType)
}
