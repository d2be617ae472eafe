package appointment

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type slotIdentity struct {
	doctorID string
	date     time.Time
	minutes  int
}

type slotRecord struct {
	mu   sync.Mutex
	slot Slot
}

func (r *slotRecord) snapshot() Slot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.slot
}

// MemoryRepository keeps everything in process memory. Each slot carries its
// own mutex, so status transitions on different slots never contend.
type MemoryRepository struct {
	mu     sync.RWMutex
	slots  map[uuid.UUID]*slotRecord
	active map[slotIdentity]uuid.UUID

	apptMu       sync.RWMutex
	appointments map[uuid.UUID]*Appointment
	activeBySlot map[uuid.UUID]uuid.UUID

	eventMu sync.Mutex
	events  []EventLog

	now func() time.Time
}

var _ Repository = (*MemoryRepository)(nil)

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		slots:        make(map[uuid.UUID]*slotRecord),
		active:       make(map[slotIdentity]uuid.UUID),
		appointments: make(map[uuid.UUID]*Appointment),
		activeBySlot: make(map[uuid.UUID]uuid.UUID),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func identityOf(doctorID string, date time.Time, at ClockTime) slotIdentity {
	return slotIdentity{doctorID: doctorID, date: NormalizeDate(date), minutes: at.Minutes()}
}

func (m *MemoryRepository) CreateSlot(_ context.Context, s Slot) (*Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := identityOf(s.DoctorID, s.Date, s.Time)
	if id, ok := m.active[key]; ok {
		if m.slots[id].snapshot().Status != SlotCancelled {
			return nil, ErrDuplicateSlot
		}
	}

	now := m.now()
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	s.Date = NormalizeDate(s.Date)
	s.Status = SlotOpen
	s.CreatedAt = now
	s.UpdatedAt = now

	m.slots[s.ID] = &slotRecord{slot: s}
	m.active[key] = s.ID
	return &s, nil
}

func (m *MemoryRepository) record(id uuid.UUID) (*slotRecord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.slots[id]
	return rec, ok
}

func (m *MemoryRepository) GetSlotByID(_ context.Context, id uuid.UUID) (*Slot, error) {
	rec, ok := m.record(id)
	if !ok {
		return nil, ErrSlotNotFound
	}
	s := rec.snapshot()
	return &s, nil
}

func (m *MemoryRepository) FindActiveSlot(_ context.Context, doctorID string, date time.Time, at ClockTime) (*Slot, error) {
	m.mu.RLock()
	id, ok := m.active[identityOf(doctorID, date, at)]
	rec := m.slots[id]
	m.mu.RUnlock()

	if !ok {
		return nil, ErrSlotNotFound
	}
	s := rec.snapshot()
	if s.Status == SlotCancelled {
		return nil, ErrSlotNotFound
	}
	return &s, nil
}

func (m *MemoryRepository) ListSlots(_ context.Context, doctorID string, statuses []SlotStatus, after SlotKey, limit int) ([]Slot, error) {
	m.mu.RLock()
	records := make([]*slotRecord, 0, len(m.slots))
	for _, rec := range m.slots {
		records = append(records, rec)
	}
	m.mu.RUnlock()

	var result []Slot
	for _, rec := range records {
		s := rec.snapshot()
		if s.DoctorID != doctorID || !slices.Contains(statuses, s.Status) {
			continue
		}
		if !after.IsZero() && !after.Less(s.Key()) {
			continue
		}
		result = append(result, s)
	}

	slices.SortFunc(result, func(a, b Slot) int {
		switch {
		case a.Key().Less(b.Key()):
			return -1
		case b.Key().Less(a.Key()):
			return 1
		default:
			return 0
		}
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MemoryRepository) UpdateSlotStatus(_ context.Context, id uuid.UUID, from, to SlotStatus) (*Slot, error) {
	rec, ok := m.record(id)
	if !ok {
		return nil, ErrSlotNotFound
	}

	rec.mu.Lock()
	if rec.slot.Status != from {
		rec.mu.Unlock()
		return nil, ErrSlotNotFound
	}
	now := m.now()
	rec.slot.Status = to
	rec.slot.UpdatedAt = now
	if to == SlotReserved {
		rec.slot.ReservedAt = &now
	} else {
		rec.slot.ReservedAt = nil
	}
	s := rec.slot
	rec.mu.Unlock()

	if to == SlotCancelled {
		m.mu.Lock()
		key := identityOf(s.DoctorID, s.Date, s.Time)
		if m.active[key] == s.ID {
			delete(m.active, key)
		}
		m.mu.Unlock()
	}
	return &s, nil
}

func (m *MemoryRepository) FindReservedBefore(_ context.Context, before time.Time) ([]Slot, error) {
	m.mu.RLock()
	records := make([]*slotRecord, 0, len(m.slots))
	for _, rec := range m.slots {
		records = append(records, rec)
	}
	m.mu.RUnlock()

	var result []Slot
	for _, rec := range records {
		s := rec.snapshot()
		if s.Status == SlotReserved && s.ReservedAt != nil && s.ReservedAt.Before(before) {
			result = append(result, s)
		}
	}
	return result, nil
}

func (m *MemoryRepository) CreatePendingAppointment(_ context.Context, a Appointment) (*Appointment, error) {
	m.apptMu.Lock()
	defer m.apptMu.Unlock()

	if _, taken := m.activeBySlot[a.SlotID]; taken {
		return nil, fmt.Errorf("slot %s: %w", a.SlotID, ErrConflict)
	}

	now := m.now()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	a.Status = StatusPending
	a.CreatedAt = now
	a.UpdatedAt = now

	stored := a
	m.appointments[a.ID] = &stored
	m.activeBySlot[a.SlotID] = a.ID
	return &a, nil
}

func (m *MemoryRepository) GetAppointmentByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	m.apptMu.RLock()
	defer m.apptMu.RUnlock()

	a, ok := m.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	out := *a
	return &out, nil
}

func (m *MemoryRepository) GetActiveAppointmentForSlot(_ context.Context, slotID uuid.UUID) (*Appointment, error) {
	m.apptMu.RLock()
	defer m.apptMu.RUnlock()

	id, ok := m.activeBySlot[slotID]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	out := *m.appointments[id]
	return &out, nil
}

func (m *MemoryRepository) CompletePending(_ context.Context, id uuid.UUID, out PendingOutcome) (*Appointment, error) {
	m.apptMu.Lock()
	defer m.apptMu.Unlock()

	a, ok := m.appointments[id]
	if !ok || a.Status != StatusPending {
		return nil, ErrAppointmentNotFound
	}

	a.Status = out.Status
	a.MeetingLink = out.MeetingLink
	a.IssueAttempts = out.Attempts
	a.UpdatedAt = m.now()
	if !a.Status.Active() {
		delete(m.activeBySlot, a.SlotID)
	}

	result := *a
	return &result, nil
}

func (m *MemoryRepository) FindPendingBefore(_ context.Context, before time.Time) ([]Appointment, error) {
	return m.listAppointments(func(a *Appointment) bool {
		return a.Status == StatusPending && a.CreatedAt.Before(before)
	}), nil
}

func (m *MemoryRepository) ListByDoctor(_ context.Context, doctorID string, statuses []AppointmentStatus) ([]Appointment, error) {
	return m.listAppointments(func(a *Appointment) bool {
		return a.DoctorID == doctorID && slices.Contains(statuses, a.Status)
	}), nil
}

func (m *MemoryRepository) ListByPatient(_ context.Context, patientID string, statuses []AppointmentStatus) ([]Appointment, error) {
	return m.listAppointments(func(a *Appointment) bool {
		return a.PatientID == patientID && slices.Contains(statuses, a.Status)
	}), nil
}

func (m *MemoryRepository) listAppointments(match func(*Appointment) bool) []Appointment {
	m.apptMu.RLock()
	defer m.apptMu.RUnlock()

	var result []Appointment
	for _, a := range m.appointments {
		if match(a) {
			result = append(result, *a)
		}
	}
	slices.SortFunc(result, func(a, b Appointment) int {
		if c := a.ScheduledAt.Compare(b.ScheduledAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID.String(), b.ID.String())
	})
	return result
}

func (m *MemoryRepository) InsertEvent(_ context.Context, ev EventLog) error {
	m.eventMu.Lock()
	defer m.eventMu.Unlock()

	ev.ID = int64(len(m.events) + 1)
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = m.now()
	}
	m.events = append(m.events, ev)
	return nil
}

// Events returns a copy of the event log.
func (m *MemoryRepository) Events() []EventLog {
	m.eventMu.Lock()
	defer m.eventMu.Unlock()
	return slices.Clone(m.events)
}
