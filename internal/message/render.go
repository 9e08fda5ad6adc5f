package message

import (
	"fmt"
	"strings"
)

// Render turns one content item into a human-readable placeholder or text.
// Used for fallback text on the receiving side and for brief summaries.
func Render(c Content) string {
	switch c.Type {
	case TypeText:
		if d, ok := c.Data.(*TextData); ok {
			return d.Text
		}
	case TypeImage:
		if d, ok := c.Data.(*ImageData); ok && d.IsSticker {
			return "[贴纸]"
		}
		return "[图片]"
	case TypeVideo:
		return "[视频]"
	case TypeAudio:
		return "[语音]"
	case TypeFile:
		if d, ok := c.Data.(*FileData); ok && d.Filename != "" {
			return fmt.Sprintf("[文件 %s]", d.Filename)
		}
		return "[文件]"
	case TypeAt:
		if d, ok := c.Data.(*AtData); ok {
			if d.UserID == AtAll {
				return "@全体成员"
			}
			if d.UserName != "" {
				return "@" + d.UserName
			}
			return "@" + d.UserID
		}
	case TypeFace:
		if d, ok := c.Data.(*FaceData); ok && d.Text != "" {
			return d.Text
		}
		return "[表情]"
	case TypeReply:
		return ""
	case TypeForward:
		return "[合并转发]"
	case TypeLocation:
		if d, ok := c.Data.(*LocationData); ok && d.Title != "" {
			return fmt.Sprintf("[位置 %s]", d.Title)
		}
		return "[位置]"
	case TypeDice:
		if d, ok := c.Data.(*DiceData); ok && d.Emoji != "" {
			return fmt.Sprintf("%s %d", d.Emoji, d.Value)
		}
		return "[骰子]"
	}
	return ""
}

// BriefLimit caps the length of Brief output in runes.
const BriefLimit = 50

// Brief renders a short single-line summary of a message, capped at
// BriefLimit runes. Stored alongside reply mappings and shown in reply
// fallback text.
func Brief(m *Message) string {
	var b strings.Builder
	for _, c := range m.Content {
		b.WriteString(Render(c))
	}
	s := strings.ReplaceAll(b.String(), "\n", " ")
	runes := []rune(s)
	if len(runes) > BriefLimit {
		return string(runes[:BriefLimit]) + "…"
	}
	return s
}
