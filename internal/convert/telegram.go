package convert

import (
	"context"
	"fmt"
	"strconv"

	"github.com/gotd/td/tg"

	"github.com/magisk317/napgram/internal/logger"
	"github.com/magisk317/napgram/internal/media"
	"github.com/magisk317/napgram/internal/message"
	"github.com/magisk317/napgram/internal/telegram"
)

// Uploader pushes bytes to Telegram and returns an input file handle.
type Uploader interface {
	Upload(ctx context.Context, filename string, data []byte) (tg.InputFileClass, error)
}

// TelegramConverter maps gotd messages to and from unified messages.
type TelegramConverter struct {
	fetch    *media.Fetcher
	voice    *media.VoiceTranscoder
	images   *media.ImageCompressor
	uploader Uploader
	log      *logger.Logger
}

// NewTelegramConverter creates the converter. fetch must resolve QQ-native
// handles, since outbound media originates on the QQ side.
func NewTelegramConverter(fetch *media.Fetcher, voice *media.VoiceTranscoder, images *media.ImageCompressor, uploader Uploader, log *logger.Logger) *TelegramConverter {
	return &TelegramConverter{
		fetch:    fetch,
		voice:    voice,
		images:   images,
		uploader: uploader,
		log:      log.Component("convert"),
	}
}

// FromTelegram converts an incoming gotd message to a unified message.
// Order is text, then the media attachment, then the reply reference. It
// never fails; media it cannot classify degrades to text.
func (c *TelegramConverter) FromTelegram(in *telegram.Incoming) *message.Message {
	chatType := message.ChatPrivate
	if in.IsGroup {
		chatType = message.ChatGroup
	}

	m := &message.Message{
		ID:       strconv.Itoa(in.Msg.ID),
		Platform: message.PlatformTelegram,
		Sender: message.Sender{
			ID:   strconv.FormatInt(in.SenderID, 10),
			Name: in.SenderName,
		},
		Chat: message.Chat{
			ID:   strconv.FormatInt(in.ChatID, 10),
			Type: chatType,
			Name: in.ChatTitle,
		},
		Timestamp: int64(in.Msg.Date) * 1000,
	}
	if in.GroupedID != 0 {
		m.SetMeta("grouped_id", strconv.FormatInt(in.GroupedID, 10))
	}

	if in.Msg.Message != "" {
		m.Content = append(m.Content, message.Text(in.Msg.Message))
	}

	if in.Msg.Media != nil {
		if item, ok := c.fromMedia(in.Msg.Media); ok {
			m.Content = append(m.Content, item)
		}
	}

	if replyTo, ok := in.Msg.GetReplyTo(); ok {
		if header, ok := replyTo.(*tg.MessageReplyHeader); ok {
			if replyID, ok := header.GetReplyToMsgID(); ok {
				d := &message.ReplyData{MessageID: strconv.Itoa(replyID)}
				// A quote reply carries the quoted text; kept for the
				// inline-quote degradation when the mapping lookup misses.
				if quote, ok := header.GetQuoteText(); ok {
					d.Text = quote
				}
				m.Content = append(m.Content, message.Content{
					Type: message.TypeReply,
					Data: d,
				})
			}
		}
	}

	return m
}

func (c *TelegramConverter) fromMedia(mediaClass tg.MessageMediaClass) (message.Content, bool) {
	switch m := mediaClass.(type) {
	case *tg.MessageMediaPhoto:
		photo, ok := m.Photo.(*tg.Photo)
		if !ok {
			return message.Content{}, false
		}
		return message.Image(&message.ImageData{
			File:      message.HandleRef(photo),
			IsSpoiler: m.Spoiler,
		}), true

	case *tg.MessageMediaDocument:
		doc, ok := m.Document.(*tg.Document)
		if !ok {
			return message.Content{}, false
		}
		return c.fromDocument(doc, m.Spoiler), true

	case *tg.MessageMediaGeo:
		if point, ok := m.Geo.(*tg.GeoPoint); ok {
			return message.Content{Type: message.TypeLocation, Data: &message.LocationData{
				Latitude:  point.Lat,
				Longitude: point.Long,
			}}, true
		}
		return message.Content{}, false

	case *tg.MessageMediaVenue:
		if point, ok := m.Geo.(*tg.GeoPoint); ok {
			return message.Content{Type: message.TypeLocation, Data: &message.LocationData{
				Latitude:  point.Lat,
				Longitude: point.Long,
				Title:     m.Title,
				Address:   m.Address,
			}}, true
		}
		return message.Content{}, false

	case *tg.MessageMediaDice:
		return message.Content{Type: message.TypeDice, Data: &message.DiceData{
			Emoji: m.Emoticon,
			Value: m.Value,
		}}, true

	default:
		c.log.Warn().Str("media", fmt.Sprintf("%T", mediaClass)).Msg("dropping unsupported telegram media")
		return message.Content{}, false
	}
}

// fromDocument routes a document by its attributes. An animated GIF
// document is reclassified as an image rather than a generic file, and
// stickers stay images so their re-encoding can be deferred to the media
// pipeline.
func (c *TelegramConverter) fromDocument(doc *tg.Document, spoiler bool) message.Content {
	var filename string
	var duration int
	var isVideo, isAudio, isVoice, isSticker bool

	for _, attr := range doc.Attributes {
		switch a := attr.(type) {
		case *tg.DocumentAttributeFilename:
			filename = a.FileName
		case *tg.DocumentAttributeVideo:
			isVideo = true
			duration = int(a.Duration)
		case *tg.DocumentAttributeAudio:
			isAudio = true
			isVoice = a.Voice
			duration = a.Duration
		case *tg.DocumentAttributeSticker:
			isSticker = true
		}
	}

	ref := message.HandleRef(doc)

	switch {
	case isSticker:
		return message.Image(&message.ImageData{
			File:      ref,
			IsSticker: true,
			MimeType:  doc.MimeType,
		})
	case doc.MimeType == "image/gif":
		return message.Image(&message.ImageData{
			File:      ref,
			IsSpoiler: spoiler,
			MimeType:  doc.MimeType,
		})
	case isVideo:
		return message.Content{Type: message.TypeVideo, Data: &message.VideoData{
			File:     ref,
			Duration: duration,
		}}
	case isAudio || isVoice:
		return message.Content{Type: message.TypeAudio, Data: &message.AudioData{
			File:     ref,
			Duration: duration,
		}}
	default:
		return message.Content{Type: message.TypeFile, Data: &message.FileData{
			File:     ref,
			Filename: filename,
			Size:     doc.Size,
		}}
	}
}

// ToMedia prepares one unified content item for delivery as Telegram input
// media, performing any fetch/transcode work it needs. ttlSeconds, when
// positive, marks photos as ephemeral; the orchestrator retries without it
// if the platform rejects the parameter.
func (c *TelegramConverter) ToMedia(ctx context.Context, item message.Content, ttlSeconds int) (tg.InputMediaClass, error) {
	switch item.Type {
	case message.TypeImage:
		return c.imageToMedia(ctx, item.Data.(*message.ImageData), ttlSeconds)

	case message.TypeVideo:
		d := item.Data.(*message.VideoData)
		resolved, err := c.fetch.Resolve(ctx, d.File, "")
		if err != nil {
			return nil, fmt.Errorf("resolve video: %w", err)
		}
		file, err := c.uploader.Upload(ctx, resolved.Filename, resolved.Data)
		if err != nil {
			return nil, err
		}
		m := &tg.InputMediaUploadedDocument{
			File:     file,
			MimeType: resolved.MIME,
			Attributes: []tg.DocumentAttributeClass{
				&tg.DocumentAttributeVideo{
					Duration:          float64(d.Duration),
					SupportsStreaming: true,
				},
				&tg.DocumentAttributeFilename{FileName: resolved.Filename},
			},
		}
		return m, nil

	case message.TypeAudio:
		return c.audioToMedia(ctx, item.Data.(*message.AudioData))

	case message.TypeFile:
		d := item.Data.(*message.FileData)
		resolved, err := c.fetch.Resolve(ctx, d.File, d.Filename)
		if err != nil {
			return nil, fmt.Errorf("resolve file: %w", err)
		}
		file, err := c.uploader.Upload(ctx, resolved.Filename, resolved.Data)
		if err != nil {
			return nil, err
		}
		return &tg.InputMediaUploadedDocument{
			File:     file,
			MimeType: resolved.MIME,
			Attributes: []tg.DocumentAttributeClass{
				&tg.DocumentAttributeFilename{FileName: resolved.Filename},
			},
		}, nil

	case message.TypeLocation:
		d := item.Data.(*message.LocationData)
		return &tg.InputMediaGeoPoint{GeoPoint: &tg.InputGeoPoint{
			Lat:  d.Latitude,
			Long: d.Longitude,
		}}, nil

	case message.TypeDice:
		d := item.Data.(*message.DiceData)
		emoji := d.Emoji
		if emoji == "" {
			emoji = "🎲"
		}
		return &tg.InputMediaDice{Emoticon: emoji}, nil

	default:
		return nil, fmt.Errorf("no telegram media rendering for %s", item.Type)
	}
}

func (c *TelegramConverter) imageToMedia(ctx context.Context, d *message.ImageData, ttlSeconds int) (tg.InputMediaClass, error) {
	resolved, err := c.fetch.Resolve(ctx, d.File, "")
	if err != nil {
		return nil, fmt.Errorf("resolve image: %w", err)
	}

	data := c.images.Compress(resolved.Data)
	file, err := c.uploader.Upload(ctx, resolved.Filename, data)
	if err != nil {
		return nil, err
	}

	m := &tg.InputMediaUploadedPhoto{
		File:    file,
		Spoiler: d.IsSpoiler,
	}
	if ttlSeconds > 0 {
		m.SetTTLSeconds(ttlSeconds)
	}
	return m, nil
}

func (c *TelegramConverter) audioToMedia(ctx context.Context, d *message.AudioData) (tg.InputMediaClass, error) {
	resolved, err := c.fetch.Resolve(ctx, d.File, "")
	if err != nil {
		return nil, fmt.Errorf("resolve audio: %w", err)
	}

	voice, err := c.voice.ToTelegramVoice(ctx, resolved.Data)
	if err != nil {
		return nil, fmt.Errorf("transcode voice: %w", err)
	}

	file, err := c.uploader.Upload(ctx, "voice.ogg", voice)
	if err != nil {
		return nil, err
	}

	return &tg.InputMediaUploadedDocument{
		File:     file,
		MimeType: "audio/ogg",
		Attributes: []tg.DocumentAttributeClass{
			&tg.DocumentAttributeAudio{
				Voice:    true,
				Duration: d.Duration,
			},
		},
	}, nil
}
