package booking

import (
	"errors"
	"fmt"
)

var (
	// ErrSlotUnavailable covers both failure modes of the conflict check:
	// outside every availability window, or overlapping an active booking.
	ErrSlotUnavailable = errors.New("slot unavailable")

	ErrNotFound = errors.New("appointment not found")

	// ErrNoAvailability means the slot finder exhausted its horizon. Callers
	// decide what to do; the scheduler never fabricates a fallback slot.
	ErrNoAvailability = errors.New("no open slot within the scheduling horizon")
)

// ValidationError reports malformed or missing caller input.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func validationf(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
