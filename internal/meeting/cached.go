package meeting

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// LinkCache stores the first link issued for each appointment.
type LinkCache interface {
	Get(ctx context.Context, appointmentID uuid.UUID) (string, bool, error)
	PutIfAbsent(ctx context.Context, appointmentID uuid.UUID, link string) (string, error)
}

// CachedIssuer pins the first successfully issued link per appointment, so
// retries and replays hand out one URL even if the upstream mints fresh ones.
type CachedIssuer struct {
	next  Issuer
	cache LinkCache
	log   zerolog.Logger
}

func NewCachedIssuer(next Issuer, cache LinkCache, logger zerolog.Logger) *CachedIssuer {
	return &CachedIssuer{
		next:  next,
		cache: cache,
		log:   logger.With().Str("component", "meeting_cache").Logger(),
	}
}

func (c *CachedIssuer) Issue(ctx context.Context, appointmentID uuid.UUID) (string, error) {
	link, ok, err := c.cache.Get(ctx, appointmentID)
	if err != nil {
		c.log.Warn().Err(err).Str("appointment_id", appointmentID.String()).Msg("link cache read failed")
	}
	if ok {
		return link, nil
	}

	link, err = c.next.Issue(ctx, appointmentID)
	if err != nil {
		return "", err
	}

	winner, err := c.cache.PutIfAbsent(ctx, appointmentID, link)
	if err != nil {
		c.log.Warn().Err(err).Str("appointment_id", appointmentID.String()).Msg("link cache write failed")
		return link, nil
	}
	return winner, nil
}

// MemoryLinkCache is a process-local LinkCache.
type MemoryLinkCache struct {
	mu    sync.Mutex
	links map[uuid.UUID]string
}

func NewMemoryLinkCache() *MemoryLinkCache {
	return &MemoryLinkCache{links: make(map[uuid.UUID]string)}
}

func (m *MemoryLinkCache) Get(_ context.Context, appointmentID uuid.UUID) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	link, ok := m.links[appointmentID]
	return link, ok, nil
}

func (m *MemoryLinkCache) PutIfAbsent(_ context.Context, appointmentID uuid.UUID, link string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.links[appointmentID]; ok {
		return existing, nil
	}
	m.links[appointmentID] = link
	return link, nil
}
