package telegram

import "github.com/gotd/td/tg"

// Incoming is one Telegram message as handed to the converter: the raw gotd
// message plus the peer/sender context the update carried.
type Incoming struct {
	Msg *tg.Message

	SenderID   int64
	SenderName string
	ChatID     int64
	ChatTitle  string
	IsGroup    bool

	// GroupedID is non-zero when the message is part of a media-group burst.
	GroupedID int64
}

// TextRequest is an outbound plain-text send.
type TextRequest struct {
	ChatID       int64
	Text         string
	Entities     []tg.MessageEntityClass
	ReplyToMsgID int
	ThreadID     int
	// NoWebpage suppresses link previews; left false when a rich header
	// relies on the preview.
	NoWebpage bool
}

// MediaRequest is one outbound media attachment.
type MediaRequest struct {
	ChatID       int64
	Media        tg.InputMediaClass
	Caption      string
	Entities     []tg.MessageEntityClass
	ReplyToMsgID int
	ThreadID     int
}

// GroupItem is one element of an outbound media group.
type GroupItem struct {
	Media    tg.InputMediaClass
	Caption  string
	Entities []tg.MessageEntityClass
}

// GroupRequest is an outbound media group (album) send.
type GroupRequest struct {
	ChatID       int64
	Items        []GroupItem
	ReplyToMsgID int
	ThreadID     int
}

// SentMessage is the receipt of a successful send.
type SentMessage struct {
	ID     int
	ChatID int64
}
