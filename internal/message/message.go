// Package message defines the platform-neutral message model used as the
// pivot for all QQ/Telegram conversions.
package message

// Platform identifies the side a message originated from.
type Platform string

// Platforms known to the bridge.
const (
	PlatformQQ       Platform = "qq"
	PlatformTelegram Platform = "telegram"
)

// ChatType distinguishes private conversations from group chats.
type ChatType string

// Chat types.
const (
	ChatPrivate ChatType = "private"
	ChatGroup   ChatType = "group"
)

// Sender identifies the author of a message.
type Sender struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

// Chat identifies the conversation a message belongs to.
type Chat struct {
	ID   string   `json:"id"`
	Type ChatType `json:"type"`
	Name string   `json:"name,omitempty"`
}

// Message is the canonical envelope produced by the converters.
// A message is owned by exactly one pipeline invocation; the orchestrator may
// rewrite items of Content in place while preparing it for the opposite
// platform, but never shares an instance across invocations.
type Message struct {
	ID        string         `json:"id"`
	Platform  Platform       `json:"platform"`
	Sender    Sender         `json:"sender"`
	Chat      Chat           `json:"chat"`
	Content   []Content      `json:"content"`
	Timestamp int64          `json:"timestamp"` // epoch millis
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Meta returns a metadata value, or "" when absent.
func (m *Message) Meta(key string) string {
	if m.Metadata == nil {
		return ""
	}
	if v, ok := m.Metadata[key].(string); ok {
		return v
	}
	return ""
}

// SetMeta stores a metadata value, allocating the map on first use.
func (m *Message) SetMeta(key string, value any) {
	if m.Metadata == nil {
		m.Metadata = make(map[string]any)
	}
	m.Metadata[key] = value
}

// Reply returns the reply item of the message, if any.
func (m *Message) Reply() *ReplyData {
	for i := range m.Content {
		if m.Content[i].Type == TypeReply {
			if d, ok := m.Content[i].Data.(*ReplyData); ok {
				return d
			}
		}
	}
	return nil
}

// PlainText concatenates all text items.
func (m *Message) PlainText() string {
	var out string
	for _, c := range m.Content {
		if c.Type == TypeText {
			if d, ok := c.Data.(*TextData); ok {
				out += d.Text
			}
		}
	}
	return out
}
