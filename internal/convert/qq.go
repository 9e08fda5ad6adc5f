// Package convert maps platform-native message shapes to and from the
// unified model.
package convert

import (
	"context"
	"fmt"
	"html"
	"regexp"
	"strconv"
	"strings"

	"github.com/magisk317/napgram/internal/logger"
	"github.com/magisk317/napgram/internal/media"
	"github.com/magisk317/napgram/internal/message"
	"github.com/magisk317/napgram/internal/onebot"
)

// cardTextLimit caps rendered card/JSON payloads so an inline card never
// becomes an unusable wall of text.
const cardTextLimit = 500

// videoURLPattern pulls the playable URL out of the raw CQ text; the
// structured field often holds only a thumbnail.
var videoURLPattern = regexp.MustCompile(`url=([^,\]]+)`)

var diceGlyphs = map[int]string{1: "⚀", 2: "⚁", 3: "⚂", 4: "⚃", 5: "⚄", 6: "⚅"}

var rpsGlyphs = map[int]string{1: "✊", 2: "✌️", 3: "🖐️"}

// BytesPublisher persists in-memory bytes somewhere the QQ gateway can
// fetch them, returning a path or URL usable in a segment.
type BytesPublisher interface {
	Publish(data []byte, ext string) (string, error)
}

// QQConverter maps OneBot segment lists to and from unified messages.
type QQConverter struct {
	fetch    *media.Fetcher
	voice    *media.VoiceTranscoder
	stickers *media.StickerConverter
	publish  BytesPublisher
	log      *logger.Logger
}

// NewQQConverter creates the converter. fetch must resolve Telegram-native
// handles, since outbound media originates on the Telegram side.
func NewQQConverter(fetch *media.Fetcher, voice *media.VoiceTranscoder, stickers *media.StickerConverter, publish BytesPublisher, log *logger.Logger) *QQConverter {
	return &QQConverter{
		fetch:    fetch,
		voice:    voice,
		stickers: stickers,
		publish:  publish,
		log:      log.Component("convert"),
	}
}

// SenderName applies the QQ display-name precedence: trimmed group card,
// else nickname, else "Unknown".
func SenderName(card, nickname string) string {
	if name := strings.TrimSpace(card); name != "" {
		return name
	}
	if nickname != "" {
		return nickname
	}
	return "Unknown"
}

// FromQQ converts a gateway event to a unified message. It never fails:
// unknown segment types are dropped with a warning.
func (c *QQConverter) FromQQ(ev *onebot.MessageEvent) *message.Message {
	chat := message.Chat{
		ID:   strconv.FormatInt(ev.UserID, 10),
		Type: message.ChatPrivate,
	}
	if ev.IsGroup() {
		chat.ID = strconv.FormatInt(ev.GroupID, 10)
		chat.Type = message.ChatGroup
	}

	m := &message.Message{
		ID:       strconv.FormatInt(ev.MessageID, 10),
		Platform: message.PlatformQQ,
		Sender: message.Sender{
			ID:   strconv.FormatInt(ev.UserID, 10),
			Name: SenderName(ev.Sender.Card, ev.Sender.Nickname),
		},
		Chat:      chat,
		Timestamp: ev.Time * 1000,
	}
	m.SetMeta("sub_type", ev.SubType)
	m.SetMeta("seq", strconv.FormatInt(ev.MessageSeq, 10))

	for _, seg := range ev.Segments {
		item, ok := c.fromSegment(seg, ev)
		if !ok {
			c.log.Warn().Str("type", seg.Type).Msg("dropping unknown qq segment")
			continue
		}
		m.Content = append(m.Content, item)
	}

	return m
}

func (c *QQConverter) fromSegment(seg onebot.Segment, ev *onebot.MessageEvent) (message.Content, bool) {
	switch seg.Type {
	case "text":
		return message.Text(seg.Str("text")), true

	case "at":
		return message.Content{Type: message.TypeAt, Data: &message.AtData{
			UserID: seg.Str("qq"),
		}}, true

	case "face":
		return message.Content{Type: message.TypeFace, Data: &message.FaceData{
			ID: seg.Str("id"),
		}}, true

	case "image":
		return c.imageFromSegment(seg), true

	case "record":
		return c.mediaFromSegment(seg, message.TypeAudio, "record"), true

	case "video":
		return c.videoFromSegment(seg, ev), true

	case "file":
		item := c.mediaFromSegment(seg, message.TypeFile, "file")
		if d, ok := item.Data.(*message.FileData); ok {
			d.Filename = seg.Str("name")
			d.Size = int64(seg.Int("file_size"))
		}
		return item, true

	case "reply":
		// Some gateways attach the replied-to sender as "qq" and the quoted
		// text inline; kept for the sender-based mapping fallback and the
		// inline-quote degradation.
		return message.Content{Type: message.TypeReply, Data: &message.ReplyData{
			MessageID: seg.Str("id"),
			SenderID:  seg.Str("qq"),
			Text:      seg.Str("text"),
		}}, true

	case "forward":
		return message.Content{Type: message.TypeForward, Data: &message.ForwardData{
			ID: seg.Str("id"),
		}}, true

	case "json", "xml":
		return message.Text(truncateCard(seg.Str("data"))), true

	case "dice":
		value := seg.Int("result")
		return message.Content{Type: message.TypeFace, Data: &message.FaceData{
			ID:   strconv.Itoa(value),
			Text: "🎲 " + diceGlyphs[value],
		}}, true

	case "rps":
		value := seg.Int("result")
		return message.Content{Type: message.TypeFace, Data: &message.FaceData{
			ID:   strconv.Itoa(value),
			Text: rpsGlyphs[value],
		}}, true

	default:
		return message.Content{}, false
	}
}

// imageFromSegment prefers an already-HTTP(S) URL over the raw file token;
// a sub_type greater than zero marks the image spoiler-flagged.
func (c *QQConverter) imageFromSegment(seg onebot.Segment) message.Content {
	d := &message.ImageData{
		IsSpoiler: seg.Int("sub_type") > 0,
	}

	if url := seg.Str("url"); strings.HasPrefix(url, "http") {
		d.URL = url
		d.File = message.URLRef(url)
	} else if file := seg.Str("file"); file != "" {
		d.File = message.HandleRef(&onebot.MediaHandle{Kind: "image", File: file})
	}

	return message.Image(d)
}

// videoFromSegment extracts the playable URL from the raw CQ text when
// present; the value is HTML-entity-escaped on the wire.
func (c *QQConverter) videoFromSegment(seg onebot.Segment, ev *onebot.MessageEvent) message.Content {
	d := &message.VideoData{}

	if m := videoURLPattern.FindStringSubmatch(ev.RawMessage); m != nil {
		d.URL = html.UnescapeString(m[1])
		d.File = message.URLRef(d.URL)
	} else if url := seg.Str("url"); strings.HasPrefix(url, "http") {
		d.URL = url
		d.File = message.URLRef(url)
	} else if file := seg.Str("file"); file != "" {
		d.File = message.HandleRef(&onebot.MediaHandle{Kind: "video", File: file})
	}

	return message.Content{Type: message.TypeVideo, Data: d}
}

func (c *QQConverter) mediaFromSegment(seg onebot.Segment, typ message.ContentType, kind string) message.Content {
	var ref message.FileRef
	var url string

	if u := seg.Str("url"); strings.HasPrefix(u, "http") {
		url = u
		ref = message.URLRef(u)
	} else if path := seg.Str("path"); path != "" {
		ref = message.PathRef(path)
	} else if file := seg.Str("file"); file != "" {
		ref = message.HandleRef(&onebot.MediaHandle{Kind: kind, File: file})
	}

	switch typ {
	case message.TypeAudio:
		return message.Content{Type: typ, Data: &message.AudioData{URL: url, File: ref}}
	case message.TypeFile:
		return message.Content{Type: typ, Data: &message.FileData{URL: url, File: ref}}
	default:
		return message.Content{Type: typ, Data: &message.FileData{URL: url, File: ref}}
	}
}

// truncateCard caps card payload text at cardTextLimit visible runes with a
// trailing ellipsis.
func truncateCard(s string) string {
	runes := []rune(s)
	if len(runes) < cardTextLimit+10 {
		return s
	}
	return string(runes[:cardTextLimit]) + "…"
}

// ToQQ renders a unified message as OneBot segments. Media items whose ref
// is in-memory bytes are first persisted where the gateway can reach them;
// the gateway cannot consume raw bytes directly.
func (c *QQConverter) ToQQ(ctx context.Context, m *message.Message) []onebot.Segment {
	var segs []onebot.Segment

	for _, item := range m.Content {
		seg, err := c.toSegment(ctx, item)
		if err != nil {
			c.log.Warn().Str("type", string(item.Type)).Err(err).Msg("segment conversion degraded to text")
			if text := message.Render(item); text != "" {
				segs = append(segs, onebot.NewSegment("text", map[string]any{"text": text}))
			}
			continue
		}
		if seg != nil {
			segs = append(segs, *seg)
		}
	}

	return segs
}

func (c *QQConverter) toSegment(ctx context.Context, item message.Content) (*onebot.Segment, error) {
	switch item.Type {
	case message.TypeText:
		d := item.Data.(*message.TextData)
		seg := onebot.NewSegment("text", map[string]any{"text": d.Text})
		return &seg, nil

	case message.TypeAt:
		d := item.Data.(*message.AtData)
		seg := onebot.NewSegment("at", map[string]any{"qq": d.UserID})
		return &seg, nil

	case message.TypeFace:
		d := item.Data.(*message.FaceData)
		if d.ID == "" {
			seg := onebot.NewSegment("text", map[string]any{"text": d.Text})
			return &seg, nil
		}
		seg := onebot.NewSegment("face", map[string]any{"id": d.ID})
		return &seg, nil

	case message.TypeReply:
		d := item.Data.(*message.ReplyData)
		if d.MessageID == "" {
			return nil, fmt.Errorf("reply without message id")
		}
		seg := onebot.NewSegment("reply", map[string]any{"id": d.MessageID})
		return &seg, nil

	case message.TypeImage:
		return c.imageToSegment(ctx, item.Data.(*message.ImageData))

	case message.TypeAudio:
		return c.audioToSegment(ctx, item.Data.(*message.AudioData))

	case message.TypeVideo:
		d := item.Data.(*message.VideoData)
		file, err := c.fileField(ctx, d.File, d.URL, ".mp4")
		if err != nil {
			return nil, err
		}
		seg := onebot.NewSegment("video", map[string]any{"file": file})
		return &seg, nil

	case message.TypeFile:
		d := item.Data.(*message.FileData)
		file, err := c.fileField(ctx, d.File, d.URL, "")
		if err != nil {
			return nil, err
		}
		data := map[string]any{"file": file}
		if d.Filename != "" {
			data["name"] = d.Filename
		}
		seg := onebot.NewSegment("file", data)
		return &seg, nil

	case message.TypeLocation:
		d := item.Data.(*message.LocationData)
		seg := onebot.NewSegment("location", map[string]any{
			"lat":     d.Latitude,
			"lon":     d.Longitude,
			"title":   d.Title,
			"content": d.Address,
		})
		return &seg, nil

	case message.TypeForward, message.TypeDice:
		seg := onebot.NewSegment("text", map[string]any{"text": message.Render(item)})
		return &seg, nil

	default:
		return nil, fmt.Errorf("no qq rendering for %s", item.Type)
	}
}

// SpoilerSubType returns the native image sub_type for a spoiler flag.
func SpoilerSubType(spoiler bool) string {
	if spoiler {
		return "7"
	}
	return "0"
}

func (c *QQConverter) imageToSegment(ctx context.Context, d *message.ImageData) (*onebot.Segment, error) {
	var loc string

	if !d.IsSticker && d.File.Kind == message.RefRemoteURL {
		// plain pictures with a URL pass straight through; the gateway
		// downloads them itself
		loc = d.File.URL
	} else {
		resolved, err := c.fetch.Resolve(ctx, d.File, "")
		if err != nil {
			return nil, fmt.Errorf("resolve image: %w", err)
		}

		data := resolved.Data
		ext := ".jpg"
		if d.IsSticker {
			converted, outExt, err := c.stickers.Convert(ctx, data)
			if err != nil {
				return nil, fmt.Errorf("convert sticker: %w", err)
			}
			data, ext = converted, outExt
		}

		loc, err = c.publish.Publish(data, ext)
		if err != nil {
			return nil, fmt.Errorf("publish image: %w", err)
		}
	}

	seg := onebot.NewSegment("image", map[string]any{
		"file":     loc,
		"sub_type": SpoilerSubType(d.IsSpoiler),
	})
	return &seg, nil
}

func (c *QQConverter) audioToSegment(ctx context.Context, d *message.AudioData) (*onebot.Segment, error) {
	resolved, err := c.fetch.Resolve(ctx, d.File, "")
	if err != nil {
		return nil, fmt.Errorf("resolve audio: %w", err)
	}

	voice, err := c.voice.ToQQVoice(ctx, resolved.Data)
	if err != nil {
		return nil, fmt.Errorf("transcode voice: %w", err)
	}

	loc, err := c.publish.Publish(voice, ".silk")
	if err != nil {
		return nil, fmt.Errorf("publish voice: %w", err)
	}

	seg := onebot.NewSegment("record", map[string]any{"file": loc})
	return &seg, nil
}

// fileField resolves a ref into something the gateway accepts in a file
// field: an existing URL passes through, anything else is materialized.
func (c *QQConverter) fileField(ctx context.Context, ref message.FileRef, url, ext string) (string, error) {
	if url != "" {
		return url, nil
	}
	if ref.Kind == message.RefRemoteURL {
		return ref.URL, nil
	}
	if ref.Kind == message.RefLocalPath {
		return "file://" + ref.Path, nil
	}

	resolved, err := c.fetch.Resolve(ctx, ref, "")
	if err != nil {
		return "", fmt.Errorf("resolve file: %w", err)
	}
	return c.publish.Publish(resolved.Data, ext)
}
