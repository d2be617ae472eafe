package appointment

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/telehealth-scheduling/internal/events"
	redisclient "github.com/hackgods/telehealth-scheduling/internal/redis"
)

const (
	EventSlotCreated   = "SLOT_CREATED"
	EventSlotCancelled = "SLOT_CANCELLED"

	defaultPageSize = 100
)

// SlotFilter narrows a slot listing. The zero value lists open slots only.
type SlotFilter struct {
	IncludeAll bool
	PageSize   int
}

func (f SlotFilter) statuses() []SlotStatus {
	if f.IncludeAll {
		return []SlotStatus{SlotOpen, SlotReserved, SlotBooked, SlotCancelled}
	}
	return []SlotStatus{SlotOpen}
}

// Registry is the source of truth for which slots exist and their status.
// It is the only writer of slot status.
type Registry struct {
	slots  SlotStore
	events eventLog
	locker redisclient.Locker
	log    zerolog.Logger
}

// NewRegistry builds a registry. locker and publisher may be nil; without a
// locker the store's compare-and-set is the only guard on reservations.
func NewRegistry(slots SlotStore, store EventStore, publisher events.Publisher, locker redisclient.Locker, logger zerolog.Logger) *Registry {
	log := logger.With().Str("component", "registry").Logger()
	return &Registry{
		slots:  slots,
		events: eventLog{store: store, publisher: publisher, log: log},
		locker: locker,
		log:    log,
	}
}

func (r *Registry) CreateSlot(ctx context.Context, doctorID, date, at string) (*Slot, error) {
	doctorID = strings.TrimSpace(doctorID)
	if doctorID == "" {
		return nil, invalid("doctor_id", "is required")
	}
	day, err := ParseDate(date)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	clock, err := ParseClockTime(at)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	created, err := r.slots.CreateSlot(ctx, Slot{DoctorID: doctorID, Date: day, Time: clock})
	if err != nil {
		if errors.Is(err, ErrDuplicateSlot) {
			return nil, err
		}
		return nil, fmt.Errorf("create slot: %w", err)
	}

	r.logEvent(ctx, created.ID, EventSlotCreated, map[string]any{
		"doctor_id": doctorID,
		"starts_at": created.StartsAt(),
	})
	return created, nil
}

// ListSlots yields a doctor's slots grouped by date, times ascending within
// each date. Nothing is read until the sequence is ranged over, and every
// range starts again from the first slot.
func (r *Registry) ListSlots(ctx context.Context, doctorID string, filter SlotFilter) iter.Seq2[DaySlots, error] {
	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	statuses := filter.statuses()

	return func(yield func(DaySlots, error) bool) {
		var after SlotKey
		var current *DaySlots

		for {
			page, err := r.slots.ListSlots(ctx, doctorID, statuses, after, pageSize)
			if err != nil {
				yield(DaySlots{}, fmt.Errorf("list slots: %w", err))
				return
			}

			for _, s := range page {
				if current != nil && !current.Date.Equal(s.Date) {
					if !yield(*current, nil) {
						return
					}
					current = nil
				}
				if current == nil {
					current = &DaySlots{Date: s.Date}
				}
				current.Slots = append(current.Slots, s)
				after = s.Key()
			}

			if len(page) < pageSize {
				break
			}
		}

		if current != nil {
			yield(*current, nil)
		}
	}
}

func (r *Registry) GetSlot(ctx context.Context, id uuid.UUID) (*Slot, error) {
	return r.slots.GetSlotByID(ctx, id)
}

// FindSlot resolves an active slot by its natural key.
func (r *Registry) FindSlot(ctx context.Context, doctorID string, date time.Time, at ClockTime) (*Slot, error) {
	s, err := r.slots.FindActiveSlot(ctx, doctorID, date, at)
	if err != nil {
		if errors.Is(err, ErrSlotNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("find slot: %w", err)
	}
	return s, nil
}

// TryReserve moves a slot from open to reserved. Exactly one of any number
// of concurrent callers for the same slot succeeds; the rest get
// ErrSlotUnavailable.
func (r *Registry) TryReserve(ctx context.Context, id uuid.UUID) (*Slot, error) {
	var reserved *Slot

	reserve := func(ctx context.Context) error {
		s, err := r.slots.UpdateSlotStatus(ctx, id, SlotOpen, SlotReserved)
		if err != nil {
			if errors.Is(err, ErrSlotNotFound) {
				return ErrSlotUnavailable
			}
			return fmt.Errorf("reserve slot: %w", err)
		}
		reserved = s
		return nil
	}

	var err error
	if r.locker != nil {
		err = r.locker.WithSlotLock(ctx, id, reserve)
	} else {
		err = reserve(ctx)
	}

	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			r.log.Debug().Str("slot_id", id.String()).Msg("slot lock held by another booking")
			return nil, ErrSlotUnavailable
		}
		return nil, err
	}
	return reserved, nil
}

// Release puts a reserved slot back to open after a failed booking.
func (r *Registry) Release(ctx context.Context, id uuid.UUID) (*Slot, error) {
	return r.transition(ctx, id, SlotReserved, SlotOpen)
}

// MarkBooked finalizes a reserved slot once its appointment is confirmed.
func (r *Registry) MarkBooked(ctx context.Context, id uuid.UUID) (*Slot, error) {
	return r.transition(ctx, id, SlotReserved, SlotBooked)
}

// CancelSlot withdraws an open slot from the doctor's availability.
func (r *Registry) CancelSlot(ctx context.Context, id uuid.UUID) (*Slot, error) {
	s, err := r.transition(ctx, id, SlotOpen, SlotCancelled)
	if err != nil {
		return nil, err
	}
	r.logEvent(ctx, s.ID, EventSlotCancelled, map[string]any{"doctor_id": s.DoctorID})
	return s, nil
}

func (r *Registry) transition(ctx context.Context, id uuid.UUID, from, to SlotStatus) (*Slot, error) {
	s, err := r.slots.UpdateSlotStatus(ctx, id, from, to)
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, ErrSlotNotFound) {
		return nil, fmt.Errorf("update slot %s -> %s: %w", from, to, err)
	}

	// Tell a missing slot apart from one in the wrong state.
	current, getErr := r.slots.GetSlotByID(ctx, id)
	if getErr != nil {
		return nil, getErr
	}
	return nil, fmt.Errorf("%w: slot is %s, want %s", ErrInvalidStatusTransition, current.Status, from)
}

// FindStaleReservations lists slots reserved before the cutoff.
func (r *Registry) FindStaleReservations(ctx context.Context, before time.Time) ([]Slot, error) {
	return r.slots.FindReservedBefore(ctx, before)
}

func (r *Registry) logEvent(ctx context.Context, slotID uuid.UUID, eventType string, payload map[string]any) {
	id := slotID
	r.events.record(ctx, eventType, nil, &id, payload)
}
