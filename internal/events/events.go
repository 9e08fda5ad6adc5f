// Package events publishes "message forwarded" events for the plugin layer.
package events

import (
	"context"

	"github.com/magisk317/napgram/internal/message"
)

// EventMessage is the message body carried by an event.
type EventMessage struct {
	ID        string            `json:"id"`
	Text      string            `json:"text"`
	Segments  []message.Content `json:"segments"`
	Timestamp int64             `json:"timestamp"`
}

// Event describes one successfully forwarded message.
type Event struct {
	InstanceID  int              `json:"instance_id"`
	Platform    message.Platform `json:"platform"`
	ChannelID   string           `json:"channel_id"`
	ChannelType message.ChatType `json:"channel_type"`
	Sender      message.Sender   `json:"sender"`
	Message     EventMessage     `json:"message"`
	Raw         any              `json:"raw,omitempty"`
}

// Callbacks are bound to the originating client so a plugin can act on the
// source conversation. They are in-process only and never serialized.
type Callbacks struct {
	Reply  func(ctx context.Context, content []message.Content) error
	Send   func(ctx context.Context, content []message.Content) error
	Recall func(ctx context.Context) error
}

// Emission pairs an event with its callbacks for in-process consumers.
type Emission struct {
	Event     Event
	Callbacks Callbacks
}

// Publisher delivers events to out-of-process consumers.
type Publisher interface {
	PublishMessage(ctx context.Context, event Event) error
}

// FromUnified builds an event from a forwarded unified message.
func FromUnified(instanceID int, m *message.Message) Event {
	return Event{
		InstanceID:  instanceID,
		Platform:    m.Platform,
		ChannelID:   m.Chat.ID,
		ChannelType: m.Chat.Type,
		Sender:      m.Sender,
		Message: EventMessage{
			ID:        m.ID,
			Text:      m.PlainText(),
			Segments:  m.Content,
			Timestamp: m.Timestamp,
		},
		Raw: m.Metadata,
	}
}
