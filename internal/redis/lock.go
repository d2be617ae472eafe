package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var ErrLockNotAcquired = errors.New("slot lock not acquired")

// Locker serializes the open to reserved step of one slot across API
// instances. Holding the lock is a fast path; the store's conditional update
// still decides who wins.
type Locker interface {
	WithSlotLock(ctx context.Context, slotID uuid.UUID, fn func(ctx context.Context) error) error
}

// SlotLocker keeps one short lived key per slot. The key holds a random
// token so only the holder can delete it.
type SlotLocker struct {
	client redis.Cmdable
	ttl    time.Duration
	prefix string
}

func NewSlotLocker(client redis.Cmdable, ttl time.Duration) *SlotLocker {
	return &SlotLocker{
		client: client,
		ttl:    ttl,
		prefix: "lock:slot:",
	}
}

// Lease is a held slot lock.
type Lease struct {
	key     string
	token   string
	expires time.Time
}

func (s *SlotLocker) key(slotID uuid.UUID) string {
	return s.prefix + slotID.String()
}

// Acquire takes the slot lock without waiting.
func (s *SlotLocker) Acquire(ctx context.Context, slotID uuid.UUID) (Lease, error) {
	lease := Lease{
		key:     s.key(slotID),
		token:   uuid.NewString(),
		expires: time.Now().Add(s.ttl),
	}

	ok, err := s.client.SetNX(ctx, lease.key, lease.token, s.ttl).Result()
	if err != nil {
		return Lease{}, fmt.Errorf("acquire slot lock: %w", err)
	}
	if !ok {
		return Lease{}, ErrLockNotAcquired
	}
	return lease, nil
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// Release deletes the key if it still carries the lease token.
func (s *SlotLocker) Release(ctx context.Context, lease Lease) error {
	err := releaseScript.Run(ctx, s.client, []string{lease.key}, lease.token).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release slot lock: %w", err)
	}
	return nil
}

// WithSlotLock runs fn while holding the slot lock. fn gets a context bounded
// by the lock TTL so it cannot outlive the lease.
func (s *SlotLocker) WithSlotLock(ctx context.Context, slotID uuid.UUID, fn func(ctx context.Context) error) error {
	lease, err := s.Acquire(ctx, slotID)
	if err != nil {
		return err
	}

	defer func() {
		// The caller may be gone already; the key still has to go.
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		_ = s.Release(releaseCtx, lease)
	}()

	leaseCtx, cancel := context.WithDeadline(ctx, lease.expires)
	defer cancel()

	return fn(leaseCtx)
}
