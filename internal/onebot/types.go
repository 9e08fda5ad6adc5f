// Package onebot implements a OneBot 11 websocket client for the QQ gateway.
package onebot

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Segment is one atomic component of a QQ message.
type Segment struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// NewSegment builds a segment from key/value pairs.
func NewSegment(typ string, data map[string]any) Segment {
	if data == nil {
		data = map[string]any{}
	}
	return Segment{Type: typ, Data: data}
}

// Str returns a data field as a string. Numeric values are formatted, so
// gateways that send "qq": 123456 and "qq": "123456" look the same.
func (s Segment) Str(key string) string {
	v, ok := s.Data[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case float64:
		// json numbers arrive as float64; ids never have a fraction
		return strconv.FormatInt(int64(t), 10)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprintf("%v", t)
	}
}

// Int returns a data field as an int, tolerating string-encoded numbers.
func (s Segment) Int(key string) int {
	v, ok := s.Data[key]
	if !ok || v == nil {
		return 0
	}
	switch t := v.(type) {
	case float64:
		return int(t)
	case string:
		n, _ := strconv.Atoi(t)
		return n
	}
	return 0
}

// SenderInfo describes the author of a gateway event.
type SenderInfo struct {
	UserID   int64  `json:"user_id"`
	Nickname string `json:"nickname"`
	Card     string `json:"card"`
	Role     string `json:"role"`
}

// MessageEvent is a parsed message-type event from the gateway.
type MessageEvent struct {
	MessageType string // "group" or "private"
	SubType     string
	MessageID   int64
	MessageSeq  int64
	UserID      int64
	GroupID     int64
	SelfID      int64
	Time        int64
	Sender      SenderInfo
	Segments    []Segment
	RawMessage  string
}

// IsGroup reports whether the event came from a group chat.
func (e *MessageEvent) IsGroup() bool { return e.MessageType == "group" }

// rawEvent mirrors the wire shape of gateway events and API responses.
// Gateways disagree on number vs string encoding for ids, hence RawMessage
// fields parsed leniently.
type rawEvent struct {
	PostType    string          `json:"post_type"`
	MessageType string          `json:"message_type"`
	SubType     string          `json:"sub_type"`
	MessageID   json.RawMessage `json:"message_id"`
	MessageSeq  json.RawMessage `json:"message_seq"`
	UserID      json.RawMessage `json:"user_id"`
	GroupID     json.RawMessage `json:"group_id"`
	SelfID      json.RawMessage `json:"self_id"`
	Time        json.RawMessage `json:"time"`
	RawMessage  string          `json:"raw_message"`
	Message     json.RawMessage `json:"message"`
	Sender      json.RawMessage `json:"sender"`
	Echo        string          `json:"echo"`
}

// apiRequest is an echo-correlated request to the gateway.
type apiRequest struct {
	Action string `json:"action"`
	Params any    `json:"params"`
	Echo   string `json:"echo,omitempty"`
}

// APIResponse is the gateway's reply to an apiRequest.
type APIResponse struct {
	Status  string          `json:"status"`
	RetCode int             `json:"retcode"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Wording string          `json:"wording"`
	Echo    string          `json:"echo"`
}

// OK reports whether the gateway accepted the call.
func (r *APIResponse) OK() bool {
	return r.Status == "ok" || (r.Status == "" && r.RetCode == 0)
}

// SendReceipt is the result of a send_msg call.
type SendReceipt struct {
	MessageID int64 `json:"message_id"`
}

// GroupMemberInfo is the subset of get_group_member_info the bridge uses.
type GroupMemberInfo struct {
	UserID   int64  `json:"user_id"`
	Nickname string `json:"nickname"`
	Card     string `json:"card"`
}

// FileResult is the response of get_image / get_record: a path or URL the
// gateway already holds locally.
type FileResult struct {
	File string `json:"file"`
	URL  string `json:"url"`
}

// parseInt64 reads a json number or string-encoded number.
func parseInt64(raw json.RawMessage) int64 {
	if len(raw) == 0 {
		return 0
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if v, err := strconv.ParseInt(s, 10, 64); err == nil {
			return v
		}
	}
	return 0
}
