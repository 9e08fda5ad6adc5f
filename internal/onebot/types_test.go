package onebot

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSegment_StrToleratesNumbers(t *testing.T) {
	seg := Segment{Type: "at", Data: map[string]any{
		"qq":      float64(123456),
		"name":    "Nick",
		"missing": nil,
	}}

	assert.Equal(t, "123456", seg.Str("qq"))
	assert.Equal(t, "Nick", seg.Str("name"))
	assert.Equal(t, "", seg.Str("missing"))
	assert.Equal(t, "", seg.Str("absent"))
}

func TestSegment_IntToleratesStrings(t *testing.T) {
	seg := Segment{Data: map[string]any{
		"a": float64(7),
		"b": "42",
		"c": "not a number",
	}}

	assert.Equal(t, 7, seg.Int("a"))
	assert.Equal(t, 42, seg.Int("b"))
	assert.Equal(t, 0, seg.Int("c"))
	assert.Equal(t, 0, seg.Int("absent"))
}

func TestParseMessageEvent_SegmentArray(t *testing.T) {
	payload := []byte(`{
		"post_type": "message",
		"message_type": "group",
		"message_id": 555,
		"message_seq": "556",
		"user_id": 42,
		"group_id": 100,
		"time": 1700000000,
		"sender": {"user_id": 42, "nickname": "Nick", "card": "Card"},
		"message": [{"type": "text", "data": {"text": "hello"}}]
	}`)

	var raw rawEvent
	require.NoError(t, json.Unmarshal(payload, &raw))

	ev, err := parseMessageEvent(&raw)
	require.NoError(t, err)
	assert.Equal(t, int64(555), ev.MessageID)
	assert.Equal(t, int64(556), ev.MessageSeq)
	assert.Equal(t, int64(100), ev.GroupID)
	assert.True(t, ev.IsGroup())
	assert.Equal(t, "Card", ev.Sender.Card)
	require.Len(t, ev.Segments, 1)
	assert.Equal(t, "hello", ev.Segments[0].Str("text"))
}

func TestParseMessageEvent_StringMessage(t *testing.T) {
	payload := []byte(`{
		"message_type": "private",
		"message_id": "9",
		"user_id": 42,
		"time": 1700000000,
		"message": "plain CQ text"
	}`)

	var raw rawEvent
	require.NoError(t, json.Unmarshal(payload, &raw))

	ev, err := parseMessageEvent(&raw)
	require.NoError(t, err)
	assert.False(t, ev.IsGroup())
	// omitted seq falls back to the message id
	assert.Equal(t, int64(9), ev.MessageSeq)
	require.Len(t, ev.Segments, 1)
	assert.Equal(t, "text", ev.Segments[0].Type)
	assert.Equal(t, "plain CQ text", ev.Segments[0].Str("text"))
}

func TestAPIResponse_OK(t *testing.T) {
	assert.True(t, (&APIResponse{Status: "ok"}).OK())
	assert.True(t, (&APIResponse{RetCode: 0}).OK())
	assert.False(t, (&APIResponse{Status: "failed", RetCode: 100}).OK())
}
