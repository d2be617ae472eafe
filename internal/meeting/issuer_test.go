package meeting

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoomIssuer(t *testing.T) {
	issuer, err := NewRoomIssuer("https://meet.example.com")
	require.NoError(t, err)

	id := uuid.MustParse("7c9e6679-7425-40de-944b-e07fc1f90ae7")

	first, err := issuer.Issue(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "https://meet.example.com/consult-7c9e6679-7425-40de-944b-e07fc1f90ae7", first)

	second, err := issuer.Issue(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, first, second, "same appointment, same room")

	other, err := issuer.Issue(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.NotEqual(t, first, other)

	_, err = issuer.Issue(context.Background(), uuid.Nil)
	assert.ErrorIs(t, err, ErrRejected)
}

func TestRoomIssuer_BasePath(t *testing.T) {
	issuer, err := NewRoomIssuer("https://video.example.com/rooms/")
	require.NoError(t, err)

	id := uuid.New()
	link, err := issuer.Issue(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "https://video.example.com/rooms/consult-"+id.String(), link)
}

func TestNewRoomIssuer_InvalidBase(t *testing.T) {
	for _, base := range []string{"", "ftp://meet.example.com", "https://", "::not a url"} {
		_, err := NewRoomIssuer(base)
		assert.Error(t, err, base)
	}
}

func TestHTTPIssuer(t *testing.T) {
	id := uuid.New()

	t.Run("returns the join url", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, id.String(), r.Header.Get("Idempotency-Key"))

			var req issueRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, id.String(), req.AppointmentID)

			w.Header().Set("Content-Type", "application/json")
			fmt.Fprintf(w, `{"join_url":"https://video.example.com/r/%s"}`, req.AppointmentID)
		}))
		defer srv.Close()

		link, err := NewHTTPIssuer(srv.URL, time.Second).Issue(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, "https://video.example.com/r/"+id.String(), link)
	})

	cases := []struct {
		name      string
		status    int
		body      string
		permanent bool
	}{
		{"server error is transient", http.StatusServiceUnavailable, "down", false},
		{"rate limit is transient", http.StatusTooManyRequests, "", false},
		{"bad request is permanent", http.StatusBadRequest, "bad appointment", true},
		{"missing join url is permanent", http.StatusOK, `{}`, true},
		{"garbage body is permanent", http.StatusOK, `not json`, true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.Copy(io.Discard, r.Body)
				w.WriteHeader(c.status)
				_, _ = w.Write([]byte(c.body))
			}))
			defer srv.Close()

			_, err := NewHTTPIssuer(srv.URL, time.Second).Issue(context.Background(), id)
			require.Error(t, err)
			assert.Equal(t, c.permanent, errorIsRejected(err))
		})
	}

	t.Run("timeout is transient", func(t *testing.T) {
		block := make(chan struct{})
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			<-block
		}))
		defer srv.Close()
		defer close(block)

		_, err := NewHTTPIssuer(srv.URL, 20*time.Millisecond).Issue(context.Background(), id)
		require.Error(t, err)
		assert.False(t, errorIsRejected(err))
	})
}

func errorIsRejected(err error) bool {
	return errors.Is(err, ErrRejected)
}

type countingIssuer struct {
	calls atomic.Int32
}

func (c *countingIssuer) Issue(_ context.Context, appointmentID uuid.UUID) (string, error) {
	n := c.calls.Add(1)
	return fmt.Sprintf("https://meet.example.com/%s?attempt=%d", appointmentID, n), nil
}

func TestCachedIssuer(t *testing.T) {
	next := &countingIssuer{}
	issuer := NewCachedIssuer(next, NewMemoryLinkCache(), zerolog.Nop())
	ctx := context.Background()
	id := uuid.New()

	first, err := issuer.Issue(ctx, id)
	require.NoError(t, err)
	second, err := issuer.Issue(ctx, id)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.EqualValues(t, 1, next.calls.Load())

	other, err := issuer.Issue(ctx, uuid.New())
	require.NoError(t, err)
	assert.NotEqual(t, first, other)
	assert.EqualValues(t, 2, next.calls.Load())
}

type rejectingIssuer struct{}

func (rejectingIssuer) Issue(context.Context, uuid.UUID) (string, error) {
	return "", fmt.Errorf("%w: no rooms left", ErrRejected)
}

func TestCachedIssuer_DoesNotCacheErrors(t *testing.T) {
	cache := NewMemoryLinkCache()
	issuer := NewCachedIssuer(rejectingIssuer{}, cache, zerolog.Nop())
	id := uuid.New()

	_, err := issuer.Issue(context.Background(), id)
	assert.ErrorIs(t, err, ErrRejected)

	_, ok, err := cache.Get(context.Background(), id)
	require.NoError(t, err)
	assert.False(t, ok)
}
