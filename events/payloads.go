package events

import (
	"encoding/json"
	"fmt"

	"github.com/GoDuraStore/go-dura-store/models"
)

// DecodePayload unmarshals an event's JSON payload into the payload struct
// for its type, e.g. models.ReclamationCompletedPayload for
// EventReclamationCompleted.
func DecodePayload[T any](event models.Event) (T, error) {
	var payload T
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		return payload, fmt.Errorf("decode %s payload: %w", event.Type, err)
	}
	return payload, nil
}
