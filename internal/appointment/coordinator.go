package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/telehealth-scheduling/internal/config"
	"github.com/hackgods/telehealth-scheduling/internal/events"
	"github.com/hackgods/telehealth-scheduling/internal/meeting"
)

const (
	EventAppointmentCreated   = "APPOINTMENT_CREATED"
	EventAppointmentConfirmed = "APPOINTMENT_CONFIRMED"
	EventAppointmentFailed    = "APPOINTMENT_FAILED"
	EventReservationRecovered = "RESERVATION_RECOVERED"

	// finishTimeout bounds each group of writes made while the slot is
	// reserved: the pending insert, then the closing writes. They run detached
	// from the caller's context.
	finishTimeout = config.BookingFinishTimeout
)

type BookingRequest struct {
	DoctorID  string
	PatientID string
	Date      string // YYYY-MM-DD
	Time      string // HH:MM, UTC
}

type bookingTarget struct {
	doctorID  string
	patientID string
	date      time.Time
	at        ClockTime
}

func (r BookingRequest) validate() (bookingTarget, error) {
	t := bookingTarget{
		doctorID:  strings.TrimSpace(r.DoctorID),
		patientID: strings.TrimSpace(r.PatientID),
	}
	if t.doctorID == "" {
		return t, invalid("doctor_id", "is required")
	}
	if t.patientID == "" {
		return t, invalid("patient_id", "is required")
	}

	var err error
	if t.date, err = ParseDate(r.Date); err != nil {
		return t, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if t.at, err = ParseClockTime(r.Time); err != nil {
		return t, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return t, nil
}

// RetryPolicy bounds link issuance.
type RetryPolicy struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	AttemptTimeout  time.Duration
}

func RetryPolicyFromConfig(cfg config.Config) RetryPolicy {
	return RetryPolicy{
		MaxRetries:      cfg.IssueMaxRetries,
		InitialInterval: cfg.IssueInitialBackoff,
		MaxInterval:     cfg.IssueMaxBackoff,
		AttemptTimeout:  cfg.IssueAttemptTimeout,
	}
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOffContext {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(p.MaxRetries)), ctx)
}

// Coordinator runs the booking protocol: reserve the slot, record a pending
// appointment, issue the meeting link, then confirm or roll back. It is the
// only writer of appointments.
type Coordinator struct {
	registry     *Registry
	appointments AppointmentStore
	issuer       meeting.Issuer
	retry        RetryPolicy
	events       eventLog
	log          zerolog.Logger
}

func NewCoordinator(registry *Registry, repo Repository, issuer meeting.Issuer, publisher events.Publisher, retry RetryPolicy, logger zerolog.Logger) *Coordinator {
	log := logger.With().Str("component", "coordinator").Logger()
	return &Coordinator{
		registry:     registry,
		appointments: repo,
		issuer:       issuer,
		retry:        retry,
		events:       eventLog{store: repo, publisher: publisher, log: log},
		log:          log,
	}
}

// Book reserves the requested slot for the patient and returns a confirmed
// appointment carrying its meeting link.
//
// Errors: ErrValidation, ErrSlotNotFound, ErrConflict when another booking
// holds the slot, ErrBookingFailed when link issuance gave up. After
// ErrBookingFailed the slot is open again.
func (c *Coordinator) Book(ctx context.Context, req BookingRequest) (*Appointment, error) {
	target, err := req.validate()
	if err != nil {
		return nil, err
	}

	slot, err := c.registry.FindSlot(ctx, target.doctorID, target.date, target.at)
	if err != nil {
		return nil, err
	}

	// Reserve before any slow call so the race is settled inside the registry.
	reserved, err := c.registry.TryReserve(ctx, slot.ID)
	if err != nil {
		if errors.Is(err, ErrSlotUnavailable) {
			return nil, fmt.Errorf("%w: slot %s", ErrConflict, slot.ID)
		}
		return nil, err
	}

	// The slot is ours now; every path below must book it or release it,
	// whatever happens to the caller's context.
	insertCtx, cancelInsert := detached(ctx)
	defer cancelInsert()

	// The id is chosen here so a failed insert can be told apart from one
	// that committed before the error came back.
	pending := Appointment{
		ID:          uuid.New(),
		DoctorID:    target.doctorID,
		PatientID:   target.patientID,
		SlotID:      reserved.ID,
		ScheduledAt: reserved.StartsAt(),
	}
	appt, err := c.appointments.CreatePendingAppointment(insertCtx, pending)
	if err != nil {
		return nil, c.abandonReservation(insertCtx, pending, err)
	}

	apptID := appt.ID
	c.events.record(ctx, EventAppointmentCreated, &apptID, &appt.SlotID, map[string]any{
		"doctor_id":    appt.DoctorID,
		"patient_id":   appt.PatientID,
		"scheduled_at": appt.ScheduledAt,
	})

	link, attempts, err := c.issueLink(ctx, appt.ID)

	finishCtx, cancelFinish := detached(ctx)
	defer cancelFinish()

	if err != nil {
		return nil, c.fail(finishCtx, appt, attempts, err)
	}

	confirmed, err := c.appointments.CompletePending(finishCtx, appt.ID, PendingOutcome{
		Status:      StatusConfirmed,
		MeetingLink: &link,
		Attempts:    attempts,
	})
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			// Recovery closed it first and owns the slot's fate.
			return nil, fmt.Errorf("%w: appointment %s was closed during issuance", ErrBookingFailed, appt.ID)
		}
		return nil, c.fail(finishCtx, appt, attempts, fmt.Errorf("confirm appointment: %w", err))
	}

	if _, err := c.registry.MarkBooked(finishCtx, confirmed.SlotID); err != nil {
		// The appointment is confirmed; recovery will finish the slot.
		c.log.Error().Err(err).
			Str("appointment_id", confirmed.ID.String()).
			Str("slot_id", confirmed.SlotID.String()).
			Msg("failed to mark slot booked")
	}

	c.events.record(finishCtx, EventAppointmentConfirmed, &apptID, &confirmed.SlotID, map[string]any{
		"attempts": attempts,
	})

	c.log.Info().
		Str("appointment_id", confirmed.ID.String()).
		Str("doctor_id", confirmed.DoctorID).
		Str("patient_id", confirmed.PatientID).
		Time("scheduled_at", confirmed.ScheduledAt).
		Int("attempts", attempts).
		Msg("appointment confirmed")

	return confirmed, nil
}

func detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
}

// issueLink calls the issuer with bounded exponential backoff. It returns the
// number of attempts made.
func (c *Coordinator) issueLink(ctx context.Context, appointmentID uuid.UUID) (string, int, error) {
	var link string
	attempts := 0

	op := func() error {
		attempts++
		attemptCtx := ctx
		if c.retry.AttemptTimeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, c.retry.AttemptTimeout)
			defer cancel()
		}

		l, err := c.issuer.Issue(attemptCtx, appointmentID)
		if err != nil {
			if errors.Is(err, meeting.ErrRejected) {
				return backoff.Permanent(err)
			}
			c.log.Warn().Err(err).
				Str("appointment_id", appointmentID.String()).
				Int("attempt", attempts).
				Msg("meeting link issuance failed")
			return err
		}
		if l == "" {
			return backoff.Permanent(fmt.Errorf("%w: empty link", meeting.ErrRejected))
		}
		link = l
		return nil
	}

	if err := backoff.Retry(op, c.retry.backOff(ctx)); err != nil {
		return "", attempts, fmt.Errorf("issue meeting link after %d attempts: %w", attempts, err)
	}
	return link, attempts, nil
}

// fail closes a pending appointment as failed and frees its slot. The slot is
// released only if this call won the pending to failed transition.
func (c *Coordinator) fail(ctx context.Context, appt *Appointment, attempts int, cause error) error {
	apptID := appt.ID

	_, err := c.appointments.CompletePending(ctx, appt.ID, PendingOutcome{
		Status:   StatusFailed,
		Attempts: attempts,
	})
	switch {
	case errors.Is(err, ErrAppointmentNotFound):
		c.log.Warn().Str("appointment_id", appt.ID.String()).Msg("appointment already closed, leaving slot as is")
	case err != nil:
		c.log.Error().Err(err).Str("appointment_id", appt.ID.String()).Msg("failed to mark appointment failed")
	default:
		c.releaseSlot(ctx, appt.SlotID)
	}

	c.events.record(ctx, EventAppointmentFailed, &apptID, &appt.SlotID, map[string]any{
		"attempts": attempts,
		"reason":   cause.Error(),
	})

	c.log.Warn().Err(cause).
		Str("appointment_id", appt.ID.String()).
		Str("slot_id", appt.SlotID.String()).
		Msg("booking failed, slot released")

	return fmt.Errorf("%w: %w", ErrBookingFailed, cause)
}

// abandonReservation undoes a reservation whose pending appointment could not
// be recorded. The insert may have committed anyway, so the slot is released
// only once no active appointment points at it.
func (c *Coordinator) abandonReservation(ctx context.Context, pending Appointment, cause error) error {
	log := c.log.With().Str("slot_id", pending.SlotID.String()).Logger()

	existing, err := c.appointments.GetActiveAppointmentForSlot(ctx, pending.SlotID)
	switch {
	case errors.Is(err, ErrAppointmentNotFound):
		c.releaseSlot(ctx, pending.SlotID)
	case err != nil:
		log.Error().Err(err).Msg("cannot tell whether the appointment was recorded, leaving slot reserved for recovery")
	case existing.ID == pending.ID:
		return c.fail(ctx, existing, 0, fmt.Errorf("create pending appointment: %w", cause))
	default:
		log.Warn().
			Str("appointment_id", existing.ID.String()).
			Str("status", string(existing.Status)).
			Msg("slot already holds an appointment, leaving it reserved for recovery")
	}

	if errors.Is(cause, ErrConflict) {
		return cause
	}
	return fmt.Errorf("create pending appointment: %w", cause)
}

func (c *Coordinator) releaseSlot(ctx context.Context, slotID uuid.UUID) {
	if _, err := c.registry.Release(ctx, slotID); err != nil {
		c.log.Error().Err(err).Str("slot_id", slotID.String()).Msg("failed to release slot")
	}
}

// RecoveryResult counts what a recovery pass did.
type RecoveryResult struct {
	Booked   int
	Released int
	Orphaned int
	Errors   int
}

// RecoverStaleReservations finishes slots left reserved longer than maxAge,
// e.g. by a crashed booking. A confirmed appointment gets its slot booked;
// anything else is failed and the slot reopened. It then fails pending
// appointments older than maxAge whose slot is not reserved.
func (c *Coordinator) RecoverStaleReservations(ctx context.Context, maxAge time.Duration) (RecoveryResult, error) {
	var res RecoveryResult

	cutoff := time.Now().Add(-maxAge)

	stale, err := c.registry.FindStaleReservations(ctx, cutoff)
	if err != nil {
		return res, fmt.Errorf("find stale reservations: %w", err)
	}

	for _, slot := range stale {
		outcome, err := c.recoverSlot(ctx, slot)
		if err != nil {
			res.Errors++
			c.log.Error().Err(err).Str("slot_id", slot.ID.String()).Msg("failed to recover reservation")
			continue
		}
		switch outcome {
		case SlotBooked:
			res.Booked++
		case SlotOpen:
			res.Released++
		}
	}

	// Pending appointments whose slot was reopened under them block the slot
	// for every later booking.
	orphans, err := c.appointments.FindPendingBefore(ctx, cutoff)
	if err != nil {
		return res, fmt.Errorf("find stale pending appointments: %w", err)
	}
	for i := range orphans {
		closed, err := c.recoverOrphan(ctx, &orphans[i])
		if err != nil {
			res.Errors++
			c.log.Error().Err(err).Str("appointment_id", orphans[i].ID.String()).Msg("failed to recover pending appointment")
			continue
		}
		if closed {
			res.Orphaned++
		}
	}

	return res, nil
}

// recoverOrphan fails a pending appointment whose slot is no longer reserved.
// Appointments on reserved slots are left to the slot pass.
func (c *Coordinator) recoverOrphan(ctx context.Context, appt *Appointment) (bool, error) {
	slot, err := c.registry.GetSlot(ctx, appt.SlotID)
	if err != nil && !errors.Is(err, ErrSlotNotFound) {
		return false, fmt.Errorf("load slot: %w", err)
	}
	if slot != nil && slot.Status == SlotReserved {
		return false, nil
	}

	if _, err := c.appointments.CompletePending(ctx, appt.ID, PendingOutcome{
		Status:   StatusFailed,
		Attempts: appt.IssueAttempts,
	}); err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("fail orphaned appointment: %w", err)
	}

	apptID, slotID := appt.ID, appt.SlotID
	c.events.record(ctx, EventReservationRecovered, &apptID, &slotID, map[string]any{"outcome": "orphan_failed"})
	c.log.Warn().
		Str("appointment_id", appt.ID.String()).
		Str("slot_id", appt.SlotID.String()).
		Msg("failed pending appointment left on an unreserved slot")
	return true, nil
}

func (c *Coordinator) recoverSlot(ctx context.Context, slot Slot) (SlotStatus, error) {
	slotID := slot.ID

	appt, err := c.appointments.GetActiveAppointmentForSlot(ctx, slot.ID)
	if err != nil && !errors.Is(err, ErrAppointmentNotFound) {
		return "", fmt.Errorf("load appointment for slot: %w", err)
	}

	var apptID *uuid.UUID
	if appt != nil {
		id := appt.ID
		apptID = &id
	}

	if appt != nil && appt.Status == StatusConfirmed {
		if _, err := c.registry.MarkBooked(ctx, slot.ID); err != nil {
			return "", err
		}
		c.events.record(ctx, EventReservationRecovered, apptID, &slotID, map[string]any{"outcome": SlotBooked})
		return SlotBooked, nil
	}

	if appt != nil {
		if _, err := c.appointments.CompletePending(ctx, appt.ID, PendingOutcome{
			Status:   StatusFailed,
			Attempts: appt.IssueAttempts,
		}); err != nil {
			return "", fmt.Errorf("fail stale appointment: %w", err)
		}
	}

	if _, err := c.registry.Release(ctx, slot.ID); err != nil {
		return "", err
	}
	c.events.record(ctx, EventReservationRecovered, apptID, &slotID, map[string]any{"outcome": SlotOpen})
	return SlotOpen, nil
}
