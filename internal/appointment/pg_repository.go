package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

type PgRepository struct {
	pool *pgxpool.Pool
}

var _ Repository = (*PgRepository)(nil)

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

const slotColumns = `id, doctor_id, slot_date, slot_time, status, reserved_at, created_at, updated_at`

const appointmentColumns = `id, doctor_id, patient_id, slot_id, scheduled_at, status, meeting_link, issue_attempts, created_at, updated_at`

func clockToPg(c ClockTime) pgtype.Time {
	return pgtype.Time{Microseconds: int64(c.Minutes()) * int64(time.Minute/time.Microsecond), Valid: true}
}

func clockFromPg(t pgtype.Time) ClockTime {
	minutes := int(t.Microseconds / int64(time.Minute/time.Microsecond))
	return ClockTime{Hour: minutes / 60, Minute: minutes % 60}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func scanSlot(row pgx.Row) (*Slot, error) {
	var s Slot
	var at pgtype.Time
	var reservedAt *time.Time

	err := row.Scan(
		&s.ID,
		&s.DoctorID,
		&s.Date,
		&at,
		&s.Status,
		&reservedAt,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, err
	}

	s.Date = NormalizeDate(s.Date)
	s.Time = clockFromPg(at)
	s.ReservedAt = reservedAt
	return &s, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var link *string

	err := row.Scan(
		&a.ID,
		&a.DoctorID,
		&a.PatientID,
		&a.SlotID,
		&a.ScheduledAt,
		&a.Status,
		&link,
		&a.IssueAttempts,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.ScheduledAt = a.ScheduledAt.UTC()
	a.MeetingLink = link
	return &a, nil
}

func collectSlots(rows pgx.Rows) ([]Slot, error) {
	defer rows.Close()

	var result []Slot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func toStrings[T ~string](in []T) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = string(v)
	}
	return out
}

// Slots

func (r *PgRepository) CreateSlot(ctx context.Context, s Slot) (*Slot, error) {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO slots (id, doctor_id, slot_date, slot_time, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 'open', now(), now())
		RETURNING `+slotColumns,
		s.ID, s.DoctorID, NormalizeDate(s.Date), clockToPg(s.Time))

	created, err := scanSlot(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateSlot
		}
		return nil, err
	}
	return created, nil
}

func (r *PgRepository) GetSlotByID(ctx context.Context, id uuid.UUID) (*Slot, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+slotColumns+`
		FROM slots
		WHERE id = $1
	`, id)
	return scanSlot(row)
}

func (r *PgRepository) FindActiveSlot(ctx context.Context, doctorID string, date time.Time, at ClockTime) (*Slot, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+slotColumns+`
		FROM slots
		WHERE doctor_id = $1
		  AND slot_date = $2
		  AND slot_time = $3
		  AND status <> 'cancelled'
	`, doctorID, NormalizeDate(date), clockToPg(at))
	return scanSlot(row)
}

func (r *PgRepository) ListSlots(ctx context.Context, doctorID string, statuses []SlotStatus, after SlotKey, limit int) ([]Slot, error) {
	var afterDate *time.Time
	var afterTime *pgtype.Time
	afterID := after.ID
	if !after.IsZero() {
		d := NormalizeDate(after.Date)
		t := clockToPg(after.Time)
		afterDate, afterTime = &d, &t
	}

	rows, err := r.pool.Query(ctx, `
		SELECT `+slotColumns+`
		FROM slots
		WHERE doctor_id = $1
		  AND status = ANY($2)
		  AND ($3::date IS NULL OR (slot_date, slot_time, id) > ($3::date, $4::time, $5::uuid))
		ORDER BY slot_date, slot_time, id
		LIMIT $6
	`, doctorID, toStrings(statuses), afterDate, afterTime, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("query slots: %w", err)
	}
	return collectSlots(rows)
}

func (r *PgRepository) UpdateSlotStatus(ctx context.Context, id uuid.UUID, from, to SlotStatus) (*Slot, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE slots
		SET status = $2,
		    reserved_at = CASE WHEN $2::text = 'reserved' THEN now() ELSE NULL END,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+slotColumns,
		id, to, from)
	return scanSlot(row)
}

func (r *PgRepository) FindReservedBefore(ctx context.Context, before time.Time) ([]Slot, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+slotColumns+`
		FROM slots
		WHERE status = 'reserved'
		  AND reserved_at < $1
	`, before)
	if err != nil {
		return nil, fmt.Errorf("query reserved slots: %w", err)
	}
	return collectSlots(rows)
}

// Appointments

func (r *PgRepository) CreatePendingAppointment(ctx context.Context, a Appointment) (*Appointment, error) {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO appointments (id, doctor_id, patient_id, slot_id, scheduled_at, status, issue_attempts, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 'pending', 0, now(), now())
		RETURNING `+appointmentColumns,
		a.ID, a.DoctorID, a.PatientID, a.SlotID, a.ScheduledAt.UTC())

	created, err := scanAppointment(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("slot %s: %w", a.SlotID, ErrConflict)
		}
		return nil, err
	}
	return created, nil
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) GetActiveAppointmentForSlot(ctx context.Context, slotID uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE slot_id = $1 AND status IN ('pending', 'confirmed')
	`, slotID)
	return scanAppointment(row)
}

func (r *PgRepository) CompletePending(ctx context.Context, id uuid.UUID, out PendingOutcome) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    meeting_link = $3,
		    issue_attempts = $4,
		    updated_at = now()
		WHERE id = $1
		  AND status = 'pending'
		RETURNING `+appointmentColumns,
		id, out.Status, out.MeetingLink, out.Attempts)
	return scanAppointment(row)
}

func (r *PgRepository) FindPendingBefore(ctx context.Context, before time.Time) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status = 'pending'
		  AND created_at < $1
		ORDER BY created_at, id
	`, before)
	if err != nil {
		return nil, fmt.Errorf("query pending appointments: %w", err)
	}
	return collectAppointments(rows)
}

func (r *PgRepository) ListByDoctor(ctx context.Context, doctorID string, statuses []AppointmentStatus) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE doctor_id = $1
		  AND status = ANY($2)
		ORDER BY scheduled_at, id
	`, doctorID, toStrings(statuses))
	if err != nil {
		return nil, fmt.Errorf("query doctor appointments: %w", err)
	}
	return collectAppointments(rows)
}

func (r *PgRepository) ListByPatient(ctx context.Context, patientID string, statuses []AppointmentStatus) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE patient_id = $1
		  AND status = ANY($2)
		ORDER BY scheduled_at, id
	`, patientID, toStrings(statuses))
	if err != nil {
		return nil, fmt.Errorf("query patient appointments: %w", err)
	}
	return collectAppointments(rows)
}

// Event log

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, slot_id, payload, created_at)
		VALUES ($1, $2, $3, $4, COALESCE($5, now()))
	`, ev.EventType, ev.AppointmentID, ev.SlotID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
