package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/telehealth-scheduling/internal/appointment"
	"github.com/hackgods/telehealth-scheduling/internal/directory"
)

func listDoctorsHandler(people directory.Directory) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctors, err := people.ListByRole(r.Context(), directory.RoleDoctor)
		if err != nil {
			handleError(w, err)
			return
		}
		if doctors == nil {
			doctors = []directory.Person{}
		}
		writeJSON(w, http.StatusOK, doctors)
	}
}

func createSlotHandler(registry *appointment.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateSlotRequest
		if !decodeBody(w, r, &req) {
			return
		}

		slot, err := registry.CreateSlot(r.Context(), chi.URLParam(r, "doctorID"), req.Date, req.Time)
		if err != nil {
			handleError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toSlotResponse(*slot))
	}
}

func listSlotsHandler(registry *appointment.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		includeAll, _ := strconv.ParseBool(r.URL.Query().Get("all"))

		days := []DaySlotsResponse{}
		for day, err := range registry.ListSlots(r.Context(), chi.URLParam(r, "doctorID"), appointment.SlotFilter{IncludeAll: includeAll}) {
			if err != nil {
				handleError(w, err)
				return
			}
			resp := DaySlotsResponse{Date: day.Date.Format(appointment.DateLayout)}
			for _, s := range day.Slots {
				resp.Slots = append(resp.Slots, toSlotResponse(s))
			}
			days = append(days, resp)
		}

		writeJSON(w, http.StatusOK, days)
	}
}

func cancelSlotHandler(registry *appointment.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_slot_id", "id must be a valid UUID")
			return
		}

		slot, err := registry.CancelSlot(r.Context(), id)
		if err != nil {
			handleError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toSlotResponse(*slot))
	}
}

func bookAppointmentHandler(coordinator *appointment.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req BookAppointmentRequest
		if !decodeBody(w, r, &req) {
			return
		}

		appt, err := coordinator.Book(r.Context(), appointment.BookingRequest{
			DoctorID:  req.DoctorID,
			PatientID: req.PatientID,
			Date:      req.Date,
			Time:      req.Time,
		})
		if err != nil {
			zerolog.Ctx(r.Context()).Info().Err(err).
				Str("doctor_id", req.DoctorID).
				Str("patient_id", req.PatientID).
				Msg("booking rejected")
			handleError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
	}
}

func listConsultationsHandler(list func(*http.Request, string) ([]appointment.Consultation, error), param string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		consultations, err := list(r, chi.URLParam(r, param))
		if err != nil {
			handleError(w, err)
			return
		}

		resp := make([]ConsultationResponse, 0, len(consultations))
		for _, c := range consultations {
			resp = append(resp, toConsultationResponse(c))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func joinHandler(queries *appointment.QueryService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		link, err := queries.Join(r.Context(), id)
		if err != nil {
			handleError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, JoinResponse{MeetingLink: link})
	}
}
