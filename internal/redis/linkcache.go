package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// LinkCache remembers the first meeting link issued for an appointment so a
// retried issuance hands back the same join URL.
type LinkCache struct {
	client redis.Cmdable
	ttl    time.Duration
}

func NewLinkCache(client redis.Cmdable, ttl time.Duration) *LinkCache {
	return &LinkCache{client: client, ttl: ttl}
}

func linkKey(appointmentID uuid.UUID) string {
	return fmt.Sprintf("meeting:link:%s", appointmentID.String())
}

func (c *LinkCache) Get(ctx context.Context, appointmentID uuid.UUID) (string, bool, error) {
	link, err := c.client.Get(ctx, linkKey(appointmentID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get meeting link: %w", err)
	}
	return link, true, nil
}

// PutIfAbsent stores link unless one is already cached and returns the link
// that won.
func (c *LinkCache) PutIfAbsent(ctx context.Context, appointmentID uuid.UUID, link string) (string, error) {
	key := linkKey(appointmentID)

	ok, err := c.client.SetNX(ctx, key, link, c.ttl).Result()
	if err != nil {
		return "", fmt.Errorf("store meeting link: %w", err)
	}
	if ok {
		return link, nil
	}

	existing, err := c.client.Get(ctx, key).Result()
	if err != nil {
		return "", fmt.Errorf("get meeting link: %w", err)
	}
	return existing, nil
}
