package events

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvent_RoutingKey(t *testing.T) {
	assert.Equal(t, "appointment_confirmed", Event{Type: "APPOINTMENT_CONFIRMED"}.RoutingKey())
	assert.Equal(t, "slot_created", Event{Type: "SLOT_CREATED"}.RoutingKey())
}

func TestRecorder(t *testing.T) {
	r := &Recorder{}
	ctx := context.Background()

	require.NoError(t, r.Publish(ctx, Event{ID: "1", Type: "SLOT_CREATED"}))
	require.NoError(t, r.Publish(ctx, Event{ID: "2", Type: "SLOT_CANCELLED"}))

	assert.Equal(t, []string{"SLOT_CREATED", "SLOT_CANCELLED"}, r.Types())

	evs := r.Events()
	evs[0].Type = "changed"
	assert.Equal(t, "SLOT_CREATED", r.Events()[0].Type, "Events returns a copy")
}
