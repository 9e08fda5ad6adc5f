package forward

import (
	"fmt"
	"unicode/utf16"

	"github.com/gotd/td/tg"

	"github.com/magisk317/napgram/internal/message"
)

const qqProfileURL = "https://user.qzone.qq.com/%s"

// Header is the sender label prepended to an outbound Telegram text or
// caption. In rich mode the sender name carries a text-URL entity pointing at
// the sender's profile page, so Telegram renders a link preview with the
// sender's identity and the plain "name: " prefix is not duplicated.
type Header struct {
	Label    string
	Entities []tg.MessageEntityClass
}

func buildHeader(sender message.Sender, rich bool) Header {
	name := sender.Name
	if name == "" {
		name = sender.ID
	}
	h := Header{Label: name + ": "}
	if rich && sender.ID != "" {
		nameLen := utf16Len(name)
		h.Entities = append(h.Entities,
			&tg.MessageEntityBold{Offset: 0, Length: nameLen},
			&tg.MessageEntityTextURL{
				Offset: 0,
				Length: nameLen,
				URL:    fmt.Sprintf(qqProfileURL, sender.ID),
			},
		)
	}
	return h
}

// Apply prepends the header label to body and returns the combined text with
// the header's entities. Entity offsets are already anchored at zero so no
// shifting is needed.
func (h Header) Apply(body string) (string, []tg.MessageEntityClass) {
	return h.Label + body, h.Entities
}

// Telegram entity offsets count UTF-16 code units.
func utf16Len(s string) int {
	return len(utf16.Encode([]rune(s)))
}
