package appointment

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/telehealth-scheduling/internal/directory"
)

func TestQueryService_Lists(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	people := directory.NewStaticDirectory(
		directory.Person{ID: "doc1", Name: "Dr. Ada Lovelace", Role: directory.RoleDoctor},
		directory.Person{ID: "pat-a", Name: "Alan Turing", Role: directory.RolePatient},
	)
	queries := NewQueryService(env.repo, people, zerolog.Nop())

	env.slot(t, "doc1", "2025-04-02", "08:00")
	env.slot(t, "doc1", "2025-04-01", "15:00")
	env.slot(t, "doc1", "2025-04-01", "09:00")

	_, err := env.coordinator.Book(ctx, BookingRequest{DoctorID: "doc1", PatientID: "pat-a", Date: "2025-04-02", Time: "08:00"})
	require.NoError(t, err)
	_, err = env.coordinator.Book(ctx, BookingRequest{DoctorID: "doc1", PatientID: "pat-b", Date: "2025-04-01", Time: "15:00"})
	require.NoError(t, err)

	// A failed booking never shows up in either list.
	env.issuer.failAlways(errIssuerDown)
	_, err = env.coordinator.Book(ctx, BookingRequest{DoctorID: "doc1", PatientID: "pat-a", Date: "2025-04-01", Time: "09:00"})
	require.ErrorIs(t, err, ErrBookingFailed)

	t.Run("doctor sees patients earliest first", func(t *testing.T) {
		got, err := queries.ListForDoctor(ctx, "doc1")
		require.NoError(t, err)
		require.Len(t, got, 2)

		assert.Equal(t, "pat-b", got[0].Counterpart.ID)
		assert.Equal(t, "pat-b", got[0].Counterpart.Name, "unknown people fall back to their id")
		assert.Equal(t, directory.RolePatient, got[0].Counterpart.Role)
		assert.Equal(t, "Alan Turing", got[1].Counterpart.Name)
		assert.True(t, got[0].ScheduledAt.Before(got[1].ScheduledAt))
		for _, c := range got {
			assert.Equal(t, StatusConfirmed, c.Status)
			require.NotNil(t, c.MeetingLink)
		}
	})

	t.Run("patient sees doctors", func(t *testing.T) {
		got, err := queries.ListForPatient(ctx, "pat-a")
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "Dr. Ada Lovelace", got[0].Counterpart.Name)
		assert.Equal(t, "2025-04-02T08:00:00Z", got[0].ScheduledAt.Format("2006-01-02T15:04:05Z07:00"))
	})

	t.Run("no consultations is an empty list", func(t *testing.T) {
		got, err := queries.ListForPatient(ctx, "pat-z")
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("id is required", func(t *testing.T) {
		_, err := queries.ListForDoctor(ctx, "")
		assert.ErrorIs(t, err, ErrValidation)
		_, err = queries.ListForPatient(ctx, "")
		assert.ErrorIs(t, err, ErrValidation)
	})
}

func TestQueryService_Join(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	queries := NewQueryService(env.repo, nil, zerolog.Nop())

	env.slot(t, "doc1", "2025-04-01", "09:00")
	confirmed, err := env.coordinator.Book(ctx, booking("pat-a"))
	require.NoError(t, err)

	t.Run("confirmed", func(t *testing.T) {
		link, err := queries.Join(ctx, confirmed.ID)
		require.NoError(t, err)
		assert.Equal(t, *confirmed.MeetingLink, link)
	})

	t.Run("pending", func(t *testing.T) {
		s := env.slot(t, "doc1", "2025-04-01", "10:00")
		pending, err := env.repo.CreatePendingAppointment(ctx, Appointment{
			DoctorID: "doc1", PatientID: "pat-b", SlotID: s.ID, ScheduledAt: s.StartsAt(),
		})
		require.NoError(t, err)

		_, err = queries.Join(ctx, pending.ID)
		assert.ErrorIs(t, err, ErrNotJoinable)
	})

	t.Run("failed", func(t *testing.T) {
		env.slot(t, "doc1", "2025-04-01", "11:00")
		env.issuer.failAlways(errIssuerDown)
		defer env.issuer.recover()

		_, err := env.coordinator.Book(ctx, BookingRequest{DoctorID: "doc1", PatientID: "pat-c", Date: "2025-04-01", Time: "11:00"})
		require.ErrorIs(t, err, ErrBookingFailed)

		failed, err := env.repo.ListByPatient(ctx, "pat-c", []AppointmentStatus{StatusFailed})
		require.NoError(t, err)
		require.Len(t, failed, 1)

		_, err = queries.Join(ctx, failed[0].ID)
		assert.ErrorIs(t, err, ErrNotJoinable)
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := queries.Join(ctx, uuid.New())
		assert.ErrorIs(t, err, ErrAppointmentNotFound)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}
