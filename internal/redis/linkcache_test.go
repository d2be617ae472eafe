package redisclient

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/telehealth-scheduling/internal/meeting"
)

var _ meeting.LinkCache = (*LinkCache)(nil)

func TestLinkCache_FirstLinkWins(t *testing.T) {
	rdb := newFakeRedis()
	cache := NewLinkCache(rdb, time.Hour)
	ctx := context.Background()
	apptID := uuid.New()

	_, found, err := cache.Get(ctx, apptID)
	require.NoError(t, err)
	assert.False(t, found)

	won, err := cache.PutIfAbsent(ctx, apptID, "https://meet.example.com/first")
	require.NoError(t, err)
	assert.Equal(t, "https://meet.example.com/first", won)
	assert.Equal(t, time.Hour, rdb.ttls["meeting:link:"+apptID.String()])

	won, err = cache.PutIfAbsent(ctx, apptID, "https://meet.example.com/second")
	require.NoError(t, err)
	assert.Equal(t, "https://meet.example.com/first", won)

	link, found, err := cache.Get(ctx, apptID)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "https://meet.example.com/first", link)

	// Other appointments keep their own link.
	won, err = cache.PutIfAbsent(ctx, uuid.New(), "https://meet.example.com/other")
	require.NoError(t, err)
	assert.Equal(t, "https://meet.example.com/other", won)
}

func TestLinkCache_RedisErrors(t *testing.T) {
	rdb := newFakeRedis()
	down := errors.New("i/o timeout")
	rdb.fail(down)
	cache := NewLinkCache(rdb, time.Hour)
	ctx := context.Background()

	_, found, err := cache.Get(ctx, uuid.New())
	assert.ErrorIs(t, err, down)
	assert.False(t, found)

	_, err = cache.PutIfAbsent(ctx, uuid.New(), "https://meet.example.com/x")
	assert.ErrorIs(t, err, down)
}
