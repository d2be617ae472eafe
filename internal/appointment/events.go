package appointment

import (
	"context"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/telehealth-scheduling/internal/events"
)

// eventLog writes audit events to the store and, when a publisher is set,
// fans them out to the broker. Failures are logged, never returned.
type eventLog struct {
	store     EventStore
	publisher events.Publisher
	log       zerolog.Logger
}

func (e eventLog) record(ctx context.Context, eventType string, appointmentID, slotID *uuid.UUID, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		e.log.Error().Err(err).Str("event", eventType).Msg("failed to marshal event payload")
		data = nil
	}

	now := time.Now().UTC()
	ev := EventLog{
		EventType:     eventType,
		AppointmentID: appointmentID,
		SlotID:        slotID,
		Payload:       data,
		CreatedAt:     now,
	}
	if err := e.store.InsertEvent(ctx, ev); err != nil {
		e.log.Error().Err(err).Str("event", eventType).Msg("failed to insert event log")
	}

	if e.publisher == nil {
		return
	}

	msg := events.Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		Payload:    data,
		OccurredAt: now,
	}
	if appointmentID != nil {
		msg.AppointmentID = appointmentID.String()
	}
	if slotID != nil {
		msg.SlotID = slotID.String()
	}
	if err := e.publisher.Publish(ctx, msg); err != nil {
		e.log.Warn().Err(err).Str("event", eventType).Msg("failed to publish event")
	}
}
