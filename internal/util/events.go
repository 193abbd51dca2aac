package util

import (
	"context"
	"encoding/json"
	"time"

	"github.com/GoDuraStore/go-dura-store/models"
)

// PublishEventAsync publishes an event asynchronously without blocking the caller.
// If the event bus is nil, it safely returns without error.
// Event publishing failures are logged but do not block or return errors to
// the caller, treating events as telemetry rather than part of the request
// contract.
func PublishEventAsync(eventBus models.EventBus, logger models.Logger, event models.Event) {
	if eventBus == nil {
		return
	}

	go func(evt models.Event) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := eventBus.Publish(ctx, evt); err != nil {
			if logger != nil {
				logger.Error("failed to publish event asynchronously",
					"event_type", evt.Type,
					"event_id", evt.ID,
					"error", err,
				)
			}
		}
	}(event)
}

// NewEvent builds an Event of the given type with a JSON-encoded payload.
// A payload that fails to marshal yields an event with an empty payload
// rather than an error; events are telemetry.
func NewEvent(eventType string, payload any) models.Event {
	raw, err := json.Marshal(payload)
	if err != nil {
		raw = nil
	}
	return models.Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Payload:   raw,
	}
}
