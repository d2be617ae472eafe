package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// SlotStore persists slots. Only Registry writes slot status.
type SlotStore interface {
	CreateSlot(ctx context.Context, s Slot) (*Slot, error)
	GetSlotByID(ctx context.Context, id uuid.UUID) (*Slot, error)
	FindActiveSlot(ctx context.Context, doctorID string, date time.Time, at ClockTime) (*Slot, error)

	// ListSlots returns up to limit slots strictly after the given key,
	// ordered by date, time, then id.
	ListSlots(ctx context.Context, doctorID string, statuses []SlotStatus, after SlotKey, limit int) ([]Slot, error)

	// UpdateSlotStatus is a compare-and-set; ErrSlotNotFound when no slot
	// with that id is currently in state from.
	UpdateSlotStatus(ctx context.Context, id uuid.UUID, from, to SlotStatus) (*Slot, error)

	// Recovery
	FindReservedBefore(ctx context.Context, before time.Time) ([]Slot, error)
}

// PendingOutcome closes a pending appointment.
type PendingOutcome struct {
	Status      AppointmentStatus
	MeetingLink *string
	Attempts    int
}

// AppointmentStore persists appointments. Only Coordinator writes them.
type AppointmentStore interface {
	CreatePendingAppointment(ctx context.Context, a Appointment) (*Appointment, error)
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	GetActiveAppointmentForSlot(ctx context.Context, slotID uuid.UUID) (*Appointment, error)
	CompletePending(ctx context.Context, id uuid.UUID, out PendingOutcome) (*Appointment, error)

	// Recovery
	FindPendingBefore(ctx context.Context, before time.Time) ([]Appointment, error)

	// Read side, ordered by scheduled_at ascending
	ListByDoctor(ctx context.Context, doctorID string, statuses []AppointmentStatus) ([]Appointment, error)
	ListByPatient(ctx context.Context, patientID string, statuses []AppointmentStatus) ([]Appointment, error)
}

type EventStore interface {
	InsertEvent(ctx context.Context, ev EventLog) error
}

// Repository is everything the scheduling core needs from storage.
type Repository interface {
	SlotStore
	AppointmentStore
	EventStore
}
