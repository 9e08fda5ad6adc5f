package convert

import (
	"context"
	"testing"

	"github.com/gotd/td/tg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magisk317/napgram/internal/logger"
	"github.com/magisk317/napgram/internal/message"
	"github.com/magisk317/napgram/internal/telegram"
)

func newTGConverter() *TelegramConverter {
	return NewTelegramConverter(nil, nil, nil, nil, logger.Nop())
}

func incoming(msg *tg.Message) *telegram.Incoming {
	return &telegram.Incoming{
		Msg:        msg,
		SenderID:   777,
		SenderName: "Bob",
		ChatID:     -100200,
		ChatTitle:  "Bridge",
		IsGroup:    true,
	}
}

func TestFromTelegram_TextMediaReplyOrder(t *testing.T) {
	c := newTGConverter()

	msg := &tg.Message{
		ID:      9,
		Message: "look",
		Date:    1700000000,
		Media: &tg.MessageMediaPhoto{
			Photo:   &tg.Photo{ID: 1},
			Spoiler: true,
		},
	}
	hdr := &tg.MessageReplyHeader{}
	hdr.SetReplyToMsgID(88)
	msg.SetReplyTo(hdr)

	m := c.FromTelegram(incoming(msg))

	require.Len(t, m.Content, 3)
	assert.Equal(t, message.TypeText, m.Content[0].Type)
	assert.Equal(t, message.TypeImage, m.Content[1].Type)
	assert.Equal(t, message.TypeReply, m.Content[2].Type)

	img := m.Content[1].Data.(*message.ImageData)
	assert.True(t, img.IsSpoiler)
	assert.Equal(t, message.RefNativeHandle, img.File.Kind)

	reply := m.Content[2].Data.(*message.ReplyData)
	assert.Equal(t, "88", reply.MessageID)

	assert.Equal(t, "9", m.ID)
	assert.Equal(t, int64(1700000000)*1000, m.Timestamp)
	assert.Equal(t, "Bob", m.Sender.Name)
}

func TestFromTelegram_QuoteReplyCarriesText(t *testing.T) {
	c := newTGConverter()

	msg := &tg.Message{ID: 9, Message: "right", Date: 1}
	hdr := &tg.MessageReplyHeader{}
	hdr.SetReplyToMsgID(88)
	hdr.SetQuoteText("the quoted part")
	msg.SetReplyTo(hdr)

	m := c.FromTelegram(incoming(msg))

	d := m.Reply()
	require.NotNil(t, d)
	assert.Equal(t, "88", d.MessageID)
	assert.Equal(t, "the quoted part", d.Text)
}

func TestFromTelegram_GroupedIDRecorded(t *testing.T) {
	c := newTGConverter()

	in := incoming(&tg.Message{ID: 1, Message: "x", Date: 1})
	in.GroupedID = 1234
	m := c.FromTelegram(in)

	assert.Equal(t, "1234", m.Meta("grouped_id"))
}

func documentWith(mime string, attrs ...tg.DocumentAttributeClass) *tg.MessageMediaDocument {
	return &tg.MessageMediaDocument{
		Document: &tg.Document{
			ID:         5,
			MimeType:   mime,
			Size:       2048,
			Attributes: attrs,
		},
	}
}

func TestFromDocument_Routing(t *testing.T) {
	c := newTGConverter()

	tests := []struct {
		name  string
		media *tg.MessageMediaDocument
		want  message.ContentType
		check func(t *testing.T, item message.Content)
	}{
		{
			name:  "sticker stays image with mime recorded",
			media: documentWith("image/webp", &tg.DocumentAttributeSticker{Alt: "😀"}),
			want:  message.TypeImage,
			check: func(t *testing.T, item message.Content) {
				d := item.Data.(*message.ImageData)
				assert.True(t, d.IsSticker)
				assert.Equal(t, "image/webp", d.MimeType)
			},
		},
		{
			name:  "gif document reclassified as image",
			media: documentWith("image/gif"),
			want:  message.TypeImage,
		},
		{
			name:  "video attribute routes to video",
			media: documentWith("video/mp4", &tg.DocumentAttributeVideo{Duration: 12.5}),
			want:  message.TypeVideo,
			check: func(t *testing.T, item message.Content) {
				assert.Equal(t, 12, item.Data.(*message.VideoData).Duration)
			},
		},
		{
			name:  "voice note routes to audio",
			media: documentWith("audio/ogg", &tg.DocumentAttributeAudio{Voice: true, Duration: 3}),
			want:  message.TypeAudio,
		},
		{
			name: "plain document routes to file",
			media: documentWith("application/pdf",
				&tg.DocumentAttributeFilename{FileName: "paper.pdf"}),
			want: message.TypeFile,
			check: func(t *testing.T, item message.Content) {
				d := item.Data.(*message.FileData)
				assert.Equal(t, "paper.pdf", d.Filename)
				assert.Equal(t, int64(2048), d.Size)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item, ok := c.fromMedia(tt.media)
			require.True(t, ok)
			assert.Equal(t, tt.want, item.Type)
			if tt.check != nil {
				tt.check(t, item)
			}
		})
	}
}

func TestFromMedia_DiceAndGeo(t *testing.T) {
	c := newTGConverter()

	item, ok := c.fromMedia(&tg.MessageMediaDice{Emoticon: "🎲", Value: 4})
	require.True(t, ok)
	d := item.Data.(*message.DiceData)
	assert.Equal(t, 4, d.Value)

	item, ok = c.fromMedia(&tg.MessageMediaGeo{Geo: &tg.GeoPoint{Lat: 55.7, Long: 37.6}})
	require.True(t, ok)
	loc := item.Data.(*message.LocationData)
	assert.Equal(t, 55.7, loc.Latitude)
}

func TestFromMedia_UnsupportedDropped(t *testing.T) {
	c := newTGConverter()

	_, ok := c.fromMedia(&tg.MessageMediaContact{PhoneNumber: "+1"})
	assert.False(t, ok)
}

func TestToMedia_LocationAndDice(t *testing.T) {
	c := newTGConverter()

	media, err := c.ToMedia(context.Background(), message.Content{
		Type: message.TypeLocation,
		Data: &message.LocationData{Latitude: 1, Longitude: 2},
	}, 0)
	require.NoError(t, err)
	geo, ok := media.(*tg.InputMediaGeoPoint)
	require.True(t, ok)
	point := geo.GeoPoint.(*tg.InputGeoPoint)
	assert.Equal(t, 1.0, point.Lat)

	media, err = c.ToMedia(context.Background(), message.Content{
		Type: message.TypeDice,
		Data: &message.DiceData{Emoji: "🎲"},
	}, 0)
	require.NoError(t, err)
	_, ok = media.(*tg.InputMediaDice)
	assert.True(t, ok)
}
