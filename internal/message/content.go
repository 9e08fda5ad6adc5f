package message

// ContentType is the discriminator of the Content tagged union.
type ContentType string

// Content variants.
const (
	TypeText     ContentType = "text"
	TypeImage    ContentType = "image"
	TypeVideo    ContentType = "video"
	TypeAudio    ContentType = "audio"
	TypeFile     ContentType = "file"
	TypeAt       ContentType = "at"
	TypeFace     ContentType = "face"
	TypeReply    ContentType = "reply"
	TypeForward  ContentType = "forward"
	TypeLocation ContentType = "location"
	TypeDice     ContentType = "dice"
)

// Content is one ordered item of a message. Data holds the payload struct
// matching Type; a converter that cannot fill a variant's required fields
// downgrades the item to text instead of emitting a malformed one.
type Content struct {
	Type ContentType `json:"type"`
	Data any         `json:"data"`
}

// TextData carries plain text.
type TextData struct {
	Text string `json:"text"`
}

// ImageData carries a picture or sticker.
type ImageData struct {
	URL       string  `json:"url,omitempty"`
	File      FileRef `json:"file,omitempty"`
	IsSpoiler bool    `json:"isSpoiler,omitempty"`
	IsSticker bool    `json:"isSticker,omitempty"`
	MimeType  string  `json:"mimeType,omitempty"`
}

// VideoData carries a video attachment.
type VideoData struct {
	URL      string  `json:"url,omitempty"`
	File     FileRef `json:"file,omitempty"`
	Duration int     `json:"duration,omitempty"` // seconds
}

// AudioData carries a voice or music attachment.
type AudioData struct {
	URL      string  `json:"url,omitempty"`
	File     FileRef `json:"file,omitempty"`
	Duration int     `json:"duration,omitempty"` // seconds
}

// FileData carries a generic document.
type FileData struct {
	URL      string  `json:"url,omitempty"`
	File     FileRef `json:"file,omitempty"`
	Filename string  `json:"filename,omitempty"`
	Size     int64   `json:"size,omitempty"`
}

// AtData carries a mention. UserID "all" is a broadcast mention.
type AtData struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName,omitempty"`
}

// AtAll is the broadcast mention target.
const AtAll = "all"

// FaceData carries a platform emoji/sticker id or a literal glyph.
type FaceData struct {
	ID   string `json:"id,omitempty"`
	Text string `json:"text,omitempty"`
}

// ReplyData references the message being replied to.
type ReplyData struct {
	MessageID  string `json:"messageId"`
	SenderID   string `json:"senderId,omitempty"`
	SenderName string `json:"senderName,omitempty"`
	Text       string `json:"text,omitempty"`
}

// ForwardData is a nested bundle of forwarded messages.
type ForwardData struct {
	ID       string     `json:"id,omitempty"`
	Messages []*Message `json:"messages,omitempty"`
}

// LocationData carries a geographic point.
type LocationData struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Title     string  `json:"title,omitempty"`
	Address   string  `json:"address,omitempty"`
}

// DiceData carries an animated random-value emoji.
type DiceData struct {
	Emoji string `json:"emoji,omitempty"`
	Value int    `json:"value,omitempty"`
}

// Text builds a text item.
func Text(s string) Content {
	return Content{Type: TypeText, Data: &TextData{Text: s}}
}

// Image builds an image item.
func Image(d *ImageData) Content {
	return Content{Type: TypeImage, Data: d}
}

// IsMedia reports whether the item carries a downloadable attachment.
func (c Content) IsMedia() bool {
	switch c.Type {
	case TypeImage, TypeVideo, TypeAudio, TypeFile:
		return true
	}
	return false
}

// Groupable reports whether the item may be combined into a native media
// group on Telegram. Voice, generic files, forwards, locations and dice are
// always delivered individually.
func (c Content) Groupable() bool {
	return c.Type == TypeImage || c.Type == TypeVideo
}
