package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/rs/zerolog"

	"github.com/hackgods/telehealth-scheduling/internal/appointment"
	"github.com/hackgods/telehealth-scheduling/internal/directory"
)

type RouterConfig struct {
	Registry    *appointment.Registry
	Coordinator *appointment.Coordinator
	Queries     *appointment.QueryService
	Directory   directory.Directory
	Checks      []Check
	Logger      zerolog.Logger
	Env         string
	Version     string

	// BookingRateLimit caps booking requests per client IP per minute.
	// Zero disables the limit.
	BookingRateLimit int
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Apply middleware
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(middleware.Recoverer)

	// Health endpoints
	health := NewHealthHandler(cfg.Checks, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	// Availability
	r.Get("/doctors", listDoctorsHandler(cfg.Directory))
	r.Route("/doctors/{doctorID}", func(r chi.Router) {
		r.Post("/slots", createSlotHandler(cfg.Registry))
		r.Get("/slots", listSlotsHandler(cfg.Registry))
		r.Get("/consultations", listConsultationsHandler(func(req *http.Request, id string) ([]appointment.Consultation, error) {
			return cfg.Queries.ListForDoctor(req.Context(), id)
		}, "doctorID"))
	})
	r.Delete("/slots/{id}", cancelSlotHandler(cfg.Registry))

	// Bookings
	r.Group(func(r chi.Router) {
		if cfg.BookingRateLimit > 0 {
			r.Use(httprate.LimitByIP(cfg.BookingRateLimit, time.Minute))
		}
		r.Post("/appointments", bookAppointmentHandler(cfg.Coordinator))
	})
	r.Get("/appointments/{id}/join", joinHandler(cfg.Queries))
	r.Get("/patients/{patientID}/consultations", listConsultationsHandler(func(req *http.Request, id string) ([]appointment.Consultation, error) {
		return cfg.Queries.ListForPatient(req.Context(), id)
	}, "patientID"))

	return r
}
