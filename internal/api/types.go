package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/telehealth-scheduling/internal/appointment"
	"github.com/hackgods/telehealth-scheduling/internal/directory"
)

type CreateSlotRequest struct {
	Date string `json:"date" validate:"required,datetime=2006-01-02"`
	Time string `json:"time" validate:"required,datetime=15:04"`
}

type BookAppointmentRequest struct {
	DoctorID  string `json:"doctor_id" validate:"required"`
	PatientID string `json:"patient_id" validate:"required"`
	Date      string `json:"date" validate:"required,datetime=2006-01-02"`
	Time      string `json:"time" validate:"required,datetime=15:04"`
}

type SlotResponse struct {
	ID       uuid.UUID `json:"id"`
	DoctorID string    `json:"doctor_id"`
	Date     string    `json:"date"`
	Time     string    `json:"time"`
	StartsAt time.Time `json:"starts_at"`
	Status   string    `json:"status"`
}

type DaySlotsResponse struct {
	Date  string         `json:"date"`
	Slots []SlotResponse `json:"slots"`
}

type AppointmentResponse struct {
	ID          uuid.UUID `json:"id"`
	SlotID      uuid.UUID `json:"slot_id"`
	DoctorID    string    `json:"doctor_id"`
	PatientID   string    `json:"patient_id"`
	ScheduledAt time.Time `json:"appointment_date"`
	Status      string    `json:"status"`
	MeetingLink *string   `json:"meet_link"`
}

type ConsultationResponse struct {
	AppointmentID uuid.UUID        `json:"id"`
	Counterpart   directory.Person `json:"counterpart"`
	ScheduledAt   time.Time        `json:"appointment_date"`
	Status        string           `json:"status"`
	MeetingLink   *string          `json:"meet_link"`
}

type JoinResponse struct {
	MeetingLink string `json:"meet_link"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func toSlotResponse(s appointment.Slot) SlotResponse {
	return SlotResponse{
		ID:       s.ID,
		DoctorID: s.DoctorID,
		Date:     s.Date.Format(appointment.DateLayout),
		Time:     s.Time.String(),
		StartsAt: s.StartsAt(),
		Status:   string(s.Status),
	}
}

func toAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:          a.ID,
		SlotID:      a.SlotID,
		DoctorID:    a.DoctorID,
		PatientID:   a.PatientID,
		ScheduledAt: a.ScheduledAt.UTC(),
		Status:      string(a.Status),
		MeetingLink: a.MeetingLink,
	}
}

func toConsultationResponse(c appointment.Consultation) ConsultationResponse {
	return ConsultationResponse{
		AppointmentID: c.AppointmentID,
		Counterpart:   c.Counterpart,
		ScheduledAt:   c.ScheduledAt.UTC(),
		Status:        string(c.Status),
		MeetingLink:   c.MeetingLink,
	}
}
