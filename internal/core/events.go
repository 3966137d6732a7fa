package core

import (
	"context"
	"time"
)

// EventKind is the kind of platform event delivered for the channel.
type EventKind string

const (
	EventNewMessage    EventKind = "new_message"
	EventEditedMessage EventKind = "edited_message"
	EventCallback      EventKind = "callback"
)

// ChannelEvent is a transport-neutral view of one update from the channel.
type ChannelEvent struct {
	Kind      EventKind `json:"kind"`
	MessageID int64     `json:"message_id"`
	Text      string    `json:"text,omitempty"`
	SentAt    time.Time `json:"sent_at"`

	// ReplyTo is the post this message answers, 0 when it stands alone.
	ReplyTo int64 `json:"reply_to,omitempty"`

	// Callback fields
	CallbackID   string `json:"callback_id,omitempty"`
	CallbackData string `json:"callback_data,omitempty"`
}

type (
	// Button is an inline keyboard button carrying callback data.
	Button struct {
		Text string
		Data string
	}

	// OutgoingMessage is a message posted to the channel.
	OutgoingMessage struct {
		Text     string
		Markdown bool
		ReplyTo  int64
		Buttons  []Button // rendered as a single inline row
	}

	// Document is a file posted to the channel.
	Document struct {
		Filename    string
		ContentType string
		Data        []byte
	}

	// MessageSender is the outbound side of the chat platform.
	MessageSender interface {
		Send(ctx context.Context, msg OutgoingMessage) (messageID int64, err error)
		SendDocument(ctx context.Context, doc Document) error
		Delete(ctx context.Context, messageID int64) error
	}

	// CallbackAnswerer acknowledges an inline button press.
	CallbackAnswerer interface {
		AnswerCallback(ctx context.Context, callbackID, text string) error
	}
)
