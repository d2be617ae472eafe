package appointment

import (
	"errors"
	"fmt"
)

var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")

	ErrSlotNotFound        = fmt.Errorf("slot %w", ErrNotFound)
	ErrAppointmentNotFound = fmt.Errorf("appointment %w", ErrNotFound)

	ErrDuplicateSlot           = errors.New("doctor already has a slot at this date and time")
	ErrSlotUnavailable         = errors.New("slot is not open")
	ErrConflict                = errors.New("slot was taken by another booking")
	ErrBookingFailed           = errors.New("booking failed, retry the whole booking")
	ErrNotJoinable             = errors.New("appointment is not joinable")
	ErrInvalidStatusTransition = errors.New("invalid status transition")
)

func invalid(field, reason string) error {
	return fmt.Errorf("%w: %s %s", ErrValidation, field, reason)
}
