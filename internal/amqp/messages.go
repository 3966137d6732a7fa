package amqp

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"accountant/internal/core"
)

// EventMessage is the queue envelope around one channel event. The id is
// for tracing only; deduplication happens on the message identity.
type EventMessage struct {
	ID        string            `json:"id"`
	Event     core.ChannelEvent `json:"event"`
	Timestamp time.Time         `json:"timestamp"`
}

var errInvalidEvent = errors.New("invalid event")

// NewEventMessage wraps ev in a fresh envelope.
func NewEventMessage(ev core.ChannelEvent) *EventMessage {
	return &EventMessage{
		ID:        uuid.NewString(),
		Event:     ev,
		Timestamp: time.Now(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *EventMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// EventMessageFromJSON decodes and validates an envelope.
func EventMessageFromJSON(data []byte) (*EventMessage, error) {
	var msg EventMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	switch msg.Event.Kind {
	case core.EventNewMessage, core.EventEditedMessage:
	case core.EventCallback:
		if msg.Event.CallbackID == "" {
			return nil, fmt.Errorf("%w: callback without id", errInvalidEvent)
		}
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", errInvalidEvent, msg.Event.Kind)
	}
	if msg.Event.MessageID == 0 {
		return nil, fmt.Errorf("%w: missing message id", errInvalidEvent)
	}
	return &msg, nil
}
