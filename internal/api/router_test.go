package api

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/telehealth-scheduling/internal/appointment"
	"github.com/hackgods/telehealth-scheduling/internal/directory"
	"github.com/hackgods/telehealth-scheduling/internal/meeting"
)

type flakyIssuer struct {
	down bool
}

func (f *flakyIssuer) Issue(ctx context.Context, id uuid.UUID) (string, error) {
	if f.down {
		return "", errors.New("meeting service unavailable")
	}
	return "https://meet.example.com/consult-" + id.String(), nil
}

var _ meeting.Issuer = (*flakyIssuer)(nil)

type testServer struct {
	handler http.Handler
	issuer  *flakyIssuer
}

func newTestServer(t *testing.T, checks ...Check) *testServer {
	t.Helper()

	repo := appointment.NewMemoryRepository()
	people := directory.NewStaticDirectory(
		directory.Person{ID: "doc1", Name: "Dr. Ada Lovelace", Role: directory.RoleDoctor},
		directory.Person{ID: "pat1", Name: "Alan Turing", Role: directory.RolePatient},
	)
	issuer := &flakyIssuer{}
	logger := zerolog.Nop()

	registry := appointment.NewRegistry(repo, repo, nil, nil, logger)
	coordinator := appointment.NewCoordinator(registry, repo, issuer, nil, appointment.RetryPolicy{
		MaxRetries:      1,
		InitialInterval: time.Millisecond,
		MaxInterval:     time.Millisecond,
		AttemptTimeout:  time.Second,
	}, logger)

	return &testServer{
		handler: NewRouter(RouterConfig{
			Registry:    registry,
			Coordinator: coordinator,
			Queries:     appointment.NewQueryService(repo, people, logger),
			Directory:   people,
			Checks:      checks,
			Logger:      logger,
			Env:         "test",
			Version:     "v0.0.0-test",
		}),
		issuer: issuer,
	}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), rr.Body.String())
	return out
}

func TestSlotEndpoints(t *testing.T) {
	srv := newTestServer(t)

	t.Run("create", func(t *testing.T) {
		rr := srv.do(t, http.MethodPost, "/doctors/doc1/slots", CreateSlotRequest{Date: "2025-04-01", Time: "09:00"})
		require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

		slot := decode[SlotResponse](t, rr)
		assert.Equal(t, "doc1", slot.DoctorID)
		assert.Equal(t, "open", slot.Status)
		assert.Equal(t, time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC), slot.StartsAt)
	})

	t.Run("duplicate", func(t *testing.T) {
		rr := srv.do(t, http.MethodPost, "/doctors/doc1/slots", CreateSlotRequest{Date: "2025-04-01", Time: "09:00"})
		assert.Equal(t, http.StatusConflict, rr.Code)
		assert.Equal(t, "duplicate_slot", decode[ErrorResponse](t, rr).Error)
	})

	t.Run("bad input", func(t *testing.T) {
		for _, body := range []any{
			CreateSlotRequest{Date: "2025-04-01", Time: "9am"},
			CreateSlotRequest{Date: "April 1st", Time: "09:00"},
			`{"date":"2025-04-01","time":"09:00","extra":true}`,
			`{not json`,
		} {
			rr := srv.do(t, http.MethodPost, "/doctors/doc1/slots", body)
			assert.Equal(t, http.StatusBadRequest, rr.Code, "%v", body)
		}
	})

	t.Run("list groups by date", func(t *testing.T) {
		srv.do(t, http.MethodPost, "/doctors/doc1/slots", CreateSlotRequest{Date: "2025-04-02", Time: "08:00"})
		srv.do(t, http.MethodPost, "/doctors/doc1/slots", CreateSlotRequest{Date: "2025-04-01", Time: "07:30"})

		rr := srv.do(t, http.MethodGet, "/doctors/doc1/slots", nil)
		require.Equal(t, http.StatusOK, rr.Code)

		days := decode[[]DaySlotsResponse](t, rr)
		require.Len(t, days, 2)
		assert.Equal(t, "2025-04-01", days[0].Date)
		require.Len(t, days[0].Slots, 2)
		assert.Equal(t, "07:30", days[0].Slots[0].Time)
		assert.Equal(t, "09:00", days[0].Slots[1].Time)
		assert.Equal(t, "2025-04-02", days[1].Date)
	})

	t.Run("unknown doctor has an empty calendar", func(t *testing.T) {
		rr := srv.do(t, http.MethodGet, "/doctors/nobody/slots", nil)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, `[]`, rr.Body.String())
	})

	t.Run("cancel", func(t *testing.T) {
		created := decode[SlotResponse](t, srv.do(t, http.MethodPost, "/doctors/doc1/slots", CreateSlotRequest{Date: "2025-04-03", Time: "10:00"}))

		rr := srv.do(t, http.MethodDelete, "/slots/"+created.ID.String(), nil)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "cancelled", decode[SlotResponse](t, rr).Status)

		rr = srv.do(t, http.MethodDelete, "/slots/"+created.ID.String(), nil)
		assert.Equal(t, http.StatusConflict, rr.Code)

		rr = srv.do(t, http.MethodDelete, "/slots/"+uuid.NewString(), nil)
		assert.Equal(t, http.StatusNotFound, rr.Code)

		rr = srv.do(t, http.MethodDelete, "/slots/not-a-uuid", nil)
		assert.Equal(t, http.StatusBadRequest, rr.Code)

		all := decode[[]DaySlotsResponse](t, srv.do(t, http.MethodGet, "/doctors/doc1/slots?all=true", nil))
		require.Len(t, all, 3)
		assert.Equal(t, "cancelled", all[2].Slots[0].Status)
	})
}

func TestBookingFlow(t *testing.T) {
	srv := newTestServer(t)
	srv.do(t, http.MethodPost, "/doctors/doc1/slots", CreateSlotRequest{Date: "2025-04-01", Time: "09:00"})
	srv.do(t, http.MethodPost, "/doctors/doc1/slots", CreateSlotRequest{Date: "2025-04-01", Time: "10:00"})

	book := BookAppointmentRequest{DoctorID: "doc1", PatientID: "pat1", Date: "2025-04-01", Time: "09:00"}

	rr := srv.do(t, http.MethodPost, "/appointments", book)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	appt := decode[AppointmentResponse](t, rr)
	assert.Equal(t, "confirmed", appt.Status)
	require.NotNil(t, appt.MeetingLink)
	assert.Equal(t, "https://meet.example.com/consult-"+appt.ID.String(), *appt.MeetingLink)
	assert.Contains(t, rr.Body.String(), `"appointment_date":"2025-04-01T09:00:00Z"`)

	t.Run("second booking conflicts", func(t *testing.T) {
		again := book
		again.PatientID = "pat2"
		rr := srv.do(t, http.MethodPost, "/appointments", again)
		assert.Equal(t, http.StatusConflict, rr.Code)
		assert.Equal(t, "slot_conflict", decode[ErrorResponse](t, rr).Error)
	})

	t.Run("unknown slot", func(t *testing.T) {
		missing := book
		missing.Time = "11:00"
		rr := srv.do(t, http.MethodPost, "/appointments", missing)
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	t.Run("invalid request", func(t *testing.T) {
		rr := srv.do(t, http.MethodPost, "/appointments", BookAppointmentRequest{DoctorID: "doc1", Date: "2025-04-01", Time: "09:00"})
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("join", func(t *testing.T) {
		rr := srv.do(t, http.MethodGet, "/appointments/"+appt.ID.String()+"/join", nil)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, *appt.MeetingLink, decode[JoinResponse](t, rr).MeetingLink)

		rr = srv.do(t, http.MethodGet, "/appointments/"+uuid.NewString()+"/join", nil)
		assert.Equal(t, http.StatusNotFound, rr.Code)

		rr = srv.do(t, http.MethodGet, "/appointments/nope/join", nil)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("consultations", func(t *testing.T) {
		rr := srv.do(t, http.MethodGet, "/doctors/doc1/consultations", nil)
		require.Equal(t, http.StatusOK, rr.Code)
		forDoctor := decode[[]ConsultationResponse](t, rr)
		require.Len(t, forDoctor, 1)
		assert.Equal(t, "Alan Turing", forDoctor[0].Counterpart.Name)

		rr = srv.do(t, http.MethodGet, "/patients/pat1/consultations", nil)
		require.Equal(t, http.StatusOK, rr.Code)
		forPatient := decode[[]ConsultationResponse](t, rr)
		require.Len(t, forPatient, 1)
		assert.Equal(t, "Dr. Ada Lovelace", forPatient[0].Counterpart.Name)

		rr = srv.do(t, http.MethodGet, "/patients/pat9/consultations", nil)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, `[]`, rr.Body.String())
	})

	t.Run("issuer outage fails the booking and frees the slot", func(t *testing.T) {
		srv.issuer.down = true
		later := book
		later.Time = "10:00"

		rr := srv.do(t, http.MethodPost, "/appointments", later)
		assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
		assert.Equal(t, "booking_failed", decode[ErrorResponse](t, rr).Error)
		assert.NotEmpty(t, rr.Header().Get("Retry-After"))

		srv.issuer.down = false
		rr = srv.do(t, http.MethodPost, "/appointments", later)
		assert.Equal(t, http.StatusCreated, rr.Code)
	})
}

func TestDoctorsEndpoint(t *testing.T) {
	srv := newTestServer(t)

	rr := srv.do(t, http.MethodGet, "/doctors", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	doctors := decode[[]directory.Person](t, rr)
	require.Len(t, doctors, 1)
	assert.Equal(t, "doc1", doctors[0].ID)
}

func TestHealthEndpoints(t *testing.T) {
	ok := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("connection refused") }

	t.Run("live", func(t *testing.T) {
		rr := newTestServer(t).do(t, http.MethodGet, "/health/live", nil)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "v0.0.0-test", decode[LivenessResponse](t, rr).Version)
	})

	cases := []struct {
		name   string
		checks []Check
		code   int
		status string
	}{
		{"no dependencies", nil, http.StatusOK, "ok"},
		{"all up", []Check{{Name: "postgres", Required: true, Ping: ok}, {Name: "redis", Ping: ok}}, http.StatusOK, "ok"},
		{"optional down", []Check{{Name: "postgres", Required: true, Ping: ok}, {Name: "redis", Ping: down}}, http.StatusOK, "degraded"},
		{"required down", []Check{{Name: "postgres", Required: true, Ping: down}, {Name: "redis", Ping: ok}}, http.StatusServiceUnavailable, "error"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			rr := newTestServer(t, c.checks...).do(t, http.MethodGet, "/health/ready", nil)
			require.Equal(t, c.code, rr.Code)

			resp := decode[ReadinessResponse](t, rr)
			assert.Equal(t, c.status, resp.Status)
			assert.Len(t, resp.Dependencies, len(c.checks))
		})
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rr := httptest.NewRecorder()
	srv.handler.ServeHTTP(rr, req)
	assert.Equal(t, "req-123", rr.Header().Get("X-Request-ID"))

	rr = srv.do(t, http.MethodGet, "/health/live", nil)
	_, err := uuid.Parse(rr.Header().Get("X-Request-ID"))
	assert.NoError(t, err)
}
