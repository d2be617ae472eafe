package appointment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/telehealth-scheduling/internal/events"
	"github.com/hackgods/telehealth-scheduling/internal/meeting"
)

var errIssuerDown = errors.New("meeting service unavailable")

// stubIssuer fails the first failures calls with err, then hands out a link
// derived from the appointment id.
type stubIssuer struct {
	mu       sync.Mutex
	calls    int
	failures int
	err      error
}

func (s *stubIssuer) Issue(ctx context.Context, appointmentID uuid.UUID) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls++
	if s.err != nil && (s.failures < 0 || s.calls <= s.failures) {
		return "", s.err
	}
	return "https://meet.example.com/consult-" + appointmentID.String(), nil
}

func (s *stubIssuer) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// failAlways makes every call return err.
func (s *stubIssuer) failAlways(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
	s.failures = -1
}

func (s *stubIssuer) recover() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = nil
	s.failures = 0
}

var _ meeting.Issuer = (*stubIssuer)(nil)

type issuerFunc func(ctx context.Context) (string, error)

func (f issuerFunc) Issue(ctx context.Context, _ uuid.UUID) (string, error) {
	return f(ctx)
}

type testEnv struct {
	repo        *MemoryRepository
	registry    *Registry
	coordinator *Coordinator
	issuer      *stubIssuer
	published   *events.Recorder
}

var testRetry = RetryPolicy{
	MaxRetries:      2,
	InitialInterval: time.Millisecond,
	MaxInterval:     2 * time.Millisecond,
	AttemptTimeout:  time.Second,
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	repo := NewMemoryRepository()
	recorder := &events.Recorder{}
	issuer := &stubIssuer{}
	logger := zerolog.Nop()

	registry := NewRegistry(repo, repo, recorder, nil, logger)
	return &testEnv{
		repo:        repo,
		registry:    registry,
		coordinator: NewCoordinator(registry, repo, issuer, recorder, testRetry, logger),
		issuer:      issuer,
		published:   recorder,
	}
}

func (e *testEnv) slot(t *testing.T, doctorID, date, at string) *Slot {
	t.Helper()
	s, err := e.registry.CreateSlot(context.Background(), doctorID, date, at)
	require.NoError(t, err)
	return s
}

func (e *testEnv) status(t *testing.T, id uuid.UUID) SlotStatus {
	t.Helper()
	s, err := e.registry.GetSlot(context.Background(), id)
	require.NoError(t, err)
	return s.Status
}

// backdate makes the repository stamp writes done inside fn as if they
// happened age ago.
func (e *testEnv) backdate(age time.Duration, fn func()) {
	prev := e.repo.now
	e.repo.now = func() time.Time { return time.Now().UTC().Add(-age) }
	defer func() { e.repo.now = prev }()
	fn()
}
