package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/telehealth-scheduling/internal/directory"
)

var listedStatuses = []AppointmentStatus{StatusPending, StatusConfirmed}

// Consultation is one row of a "my consultations" view.
type Consultation struct {
	AppointmentID uuid.UUID
	Counterpart   directory.Person
	ScheduledAt   time.Time
	Status        AppointmentStatus
	MeetingLink   *string
}

// QueryService is the read side over appointments. It never writes.
type QueryService struct {
	appointments AppointmentStore
	people       directory.Directory
	log          zerolog.Logger
}

func NewQueryService(appointments AppointmentStore, people directory.Directory, logger zerolog.Logger) *QueryService {
	return &QueryService{
		appointments: appointments,
		people:       people,
		log:          logger.With().Str("component", "consultations").Logger(),
	}
}

// ListForDoctor returns the doctor's pending and confirmed consultations,
// earliest first, each showing the patient.
func (q *QueryService) ListForDoctor(ctx context.Context, doctorID string) ([]Consultation, error) {
	if doctorID == "" {
		return nil, invalid("doctor_id", "is required")
	}
	appts, err := q.appointments.ListByDoctor(ctx, doctorID, listedStatuses)
	if err != nil {
		return nil, fmt.Errorf("list doctor appointments: %w", err)
	}
	return q.project(ctx, appts, directory.RolePatient, func(a Appointment) string { return a.PatientID }), nil
}

// ListForPatient returns the patient's pending and confirmed consultations,
// earliest first, each showing the doctor.
func (q *QueryService) ListForPatient(ctx context.Context, patientID string) ([]Consultation, error) {
	if patientID == "" {
		return nil, invalid("patient_id", "is required")
	}
	appts, err := q.appointments.ListByPatient(ctx, patientID, listedStatuses)
	if err != nil {
		return nil, fmt.Errorf("list patient appointments: %w", err)
	}
	return q.project(ctx, appts, directory.RoleDoctor, func(a Appointment) string { return a.DoctorID }), nil
}

func (q *QueryService) project(ctx context.Context, appts []Appointment, role directory.Role, counterpart func(Appointment) string) []Consultation {
	out := make([]Consultation, 0, len(appts))
	for _, a := range appts {
		out = append(out, Consultation{
			AppointmentID: a.ID,
			Counterpart:   q.resolve(ctx, counterpart(a), role),
			ScheduledAt:   a.ScheduledAt,
			Status:        a.Status,
			MeetingLink:   a.MeetingLink,
		})
	}
	return out
}

// resolve falls back to the bare id when the directory does not know it.
func (q *QueryService) resolve(ctx context.Context, id string, role directory.Role) directory.Person {
	if q.people == nil {
		return directory.Person{ID: id, Name: id, Role: role}
	}
	p, err := q.people.Get(ctx, id)
	if err != nil {
		if !errors.Is(err, directory.ErrPersonNotFound) {
			q.log.Warn().Err(err).Str("person_id", id).Msg("directory lookup failed")
		}
		return directory.Person{ID: id, Name: id, Role: role}
	}
	return p
}

// Join returns the meeting link of a confirmed appointment.
func (q *QueryService) Join(ctx context.Context, appointmentID uuid.UUID) (string, error) {
	a, err := q.appointments.GetAppointmentByID(ctx, appointmentID)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return "", err
		}
		return "", fmt.Errorf("load appointment: %w", err)
	}

	if a.Status != StatusConfirmed {
		return "", fmt.Errorf("%w: status is %s", ErrNotJoinable, a.Status)
	}
	if a.MeetingLink == nil || *a.MeetingLink == "" {
		return "", fmt.Errorf("%w: no meeting link issued", ErrNotJoinable)
	}
	return *a.MeetingLink, nil
}
