// Package telegram wraps the MTProto client behind the operations the bridge
// needs: rate-limited sends, media uploads/downloads and update delivery.
package telegram

import (
	"bytes"
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"

	"github.com/celestix/gotgproto"
	"github.com/celestix/gotgproto/dispatcher/handlers"
	"github.com/celestix/gotgproto/dispatcher/handlers/filters"
	"github.com/celestix/gotgproto/ext"
	"github.com/celestix/gotgproto/types"
	"github.com/google/uuid"
	"github.com/gotd/td/telegram/downloader"
	"github.com/gotd/td/telegram/uploader"
	"github.com/gotd/td/tg"

	"github.com/magisk317/napgram/internal/logger"
)

// IncomingHandler receives every new message update.
type IncomingHandler func(ctx context.Context, in *Incoming)

// Client wraps gotgproto and provides high-level bridge operations.
type Client struct {
	proto       *gotgproto.Client
	rateLimiter *RateLimiter
	log         *logger.Logger
	tempDir     string
}

// NewClient creates a client wrapper around an authorized gotgproto client.
func NewClient(proto *gotgproto.Client, tempDir string, log *logger.Logger) *Client {
	return &Client{
		proto:       proto,
		rateLimiter: DefaultRateLimiter(),
		log:         log.Component("telegram"),
		tempDir:     tempDir,
	}
}

// API returns the raw tg.Client for direct API calls.
func (c *Client) API() *tg.Client {
	return c.proto.API()
}

// Self returns the logged-in account's user id.
func (c *Client) Self() int64 {
	return c.proto.Self.ID
}

// OnMessage registers the handler invoked for every new message.
func (c *Client) OnMessage(h IncomingHandler) {
	c.proto.Dispatcher.AddHandler(handlers.NewMessage(filters.Message.All, func(ectx *ext.Context, update *ext.Update) error {
		m := update.EffectiveMessage
		if m == nil || m.Message == nil {
			return nil
		}

		in := &Incoming{Msg: m.Message}
		if user := update.EffectiveUser(); user != nil {
			in.SenderID = user.ID
			in.SenderName = strings.TrimSpace(user.FirstName + " " + user.LastName)
		}
		if chat := update.EffectiveChat(); chat != nil {
			in.ChatID = chat.GetID()
			in.ChatTitle = chatTitle(chat)
		}
		switch m.Message.PeerID.(type) {
		case *tg.PeerChat, *tg.PeerChannel:
			in.IsGroup = true
		}
		if grouped, ok := m.Message.GetGroupedID(); ok {
			in.GroupedID = grouped
		}

		h(ectx, in)
		return nil
	}))
}

// chatTitle derives a display name for the effective chat. Private chats use
// the peer's full name.
func chatTitle(chat types.EffectiveChat) string {
	switch c := chat.(type) {
	case *types.Chat:
		return c.Title
	case *types.Channel:
		return c.Title
	case *types.User:
		return strings.TrimSpace(c.FirstName + " " + c.LastName)
	}
	return ""
}

// inputPeer resolves a chat id through the persistent peer storage.
func (c *Client) inputPeer(chatID int64) (tg.InputPeerClass, error) {
	peer := c.proto.PeerStorage.GetInputPeerById(chatID)
	if _, empty := peer.(*tg.InputPeerEmpty); empty || peer == nil {
		return nil, fmt.Errorf("unknown peer %d", chatID)
	}
	return peer, nil
}

func replyTo(msgID, threadID int) tg.InputReplyToClass {
	if msgID == 0 && threadID == 0 {
		return nil
	}
	r := &tg.InputReplyToMessage{ReplyToMsgID: msgID}
	if threadID != 0 {
		if msgID == 0 {
			r.ReplyToMsgID = threadID
		}
		r.SetTopMsgID(threadID)
	}
	return r
}

// SendText sends a plain-text message.
func (c *Client) SendText(ctx context.Context, req *TextRequest) (*SentMessage, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, err
	}
	peer, err := c.inputPeer(req.ChatID)
	if err != nil {
		return nil, err
	}

	r := &tg.MessagesSendMessageRequest{
		Peer:      peer,
		Message:   req.Text,
		RandomID:  rand.Int63(),
		NoWebpage: req.NoWebpage,
	}
	if len(req.Entities) > 0 {
		r.SetEntities(req.Entities)
	}
	if rt := replyTo(req.ReplyToMsgID, req.ThreadID); rt != nil {
		r.SetReplyTo(rt)
	}

	upd, err := c.API().MessagesSendMessage(ctx, r)
	if err != nil {
		c.noteFloodWait(err)
		return nil, fmt.Errorf("send message: %w", err)
	}
	return &SentMessage{ID: sentID(upd), ChatID: req.ChatID}, nil
}

// SendMedia sends one media attachment with an optional caption.
func (c *Client) SendMedia(ctx context.Context, req *MediaRequest) (*SentMessage, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, err
	}
	peer, err := c.inputPeer(req.ChatID)
	if err != nil {
		return nil, err
	}

	r := &tg.MessagesSendMediaRequest{
		Peer:     peer,
		Media:    req.Media,
		Message:  req.Caption,
		RandomID: rand.Int63(),
	}
	if len(req.Entities) > 0 {
		r.SetEntities(req.Entities)
	}
	if rt := replyTo(req.ReplyToMsgID, req.ThreadID); rt != nil {
		r.SetReplyTo(rt)
	}

	upd, err := c.API().MessagesSendMedia(ctx, r)
	if err != nil {
		c.noteFloodWait(err)
		return nil, fmt.Errorf("send media: %w", err)
	}
	return &SentMessage{ID: sentID(upd), ChatID: req.ChatID}, nil
}

// SendMediaGroup sends several attachments as one album. The first item's
// caption becomes the album caption.
func (c *Client) SendMediaGroup(ctx context.Context, req *GroupRequest) (*SentMessage, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, err
	}
	peer, err := c.inputPeer(req.ChatID)
	if err != nil {
		return nil, err
	}

	multi := make([]tg.InputSingleMedia, 0, len(req.Items))
	for _, item := range req.Items {
		// uploaded media must be materialized server-side before it can be
		// referenced from a multi-media send
		media, err := c.materialize(ctx, peer, item.Media)
		if err != nil {
			return nil, fmt.Errorf("materialize album item: %w", err)
		}
		single := tg.InputSingleMedia{
			Media:    media,
			RandomID: rand.Int63(),
			Message:  item.Caption,
		}
		if len(item.Entities) > 0 {
			single.SetEntities(item.Entities)
		}
		multi = append(multi, single)
	}

	r := &tg.MessagesSendMultiMediaRequest{
		Peer:       peer,
		MultiMedia: multi,
	}
	if rt := replyTo(req.ReplyToMsgID, req.ThreadID); rt != nil {
		r.SetReplyTo(rt)
	}

	upd, err := c.API().MessagesSendMultiMedia(ctx, r)
	if err != nil {
		c.noteFloodWait(err)
		return nil, fmt.Errorf("send media group: %w", err)
	}
	return &SentMessage{ID: sentID(upd), ChatID: req.ChatID}, nil
}

// materialize turns freshly uploaded media into a reusable reference.
// Already-referencing media passes through unchanged.
func (c *Client) materialize(ctx context.Context, peer tg.InputPeerClass, media tg.InputMediaClass) (tg.InputMediaClass, error) {
	switch media.(type) {
	case *tg.InputMediaUploadedPhoto, *tg.InputMediaUploadedDocument:
	default:
		return media, nil
	}

	res, err := c.API().MessagesUploadMedia(ctx, &tg.MessagesUploadMediaRequest{
		Peer:  peer,
		Media: media,
	})
	if err != nil {
		return nil, fmt.Errorf("upload media: %w", err)
	}

	switch m := res.(type) {
	case *tg.MessageMediaPhoto:
		photo, ok := m.Photo.(*tg.Photo)
		if !ok {
			return nil, fmt.Errorf("upload returned empty photo")
		}
		return &tg.InputMediaPhoto{ID: &tg.InputPhoto{
			ID:            photo.ID,
			AccessHash:    photo.AccessHash,
			FileReference: photo.FileReference,
		}}, nil
	case *tg.MessageMediaDocument:
		doc, ok := m.Document.(*tg.Document)
		if !ok {
			return nil, fmt.Errorf("upload returned empty document")
		}
		return &tg.InputMediaDocument{ID: &tg.InputDocument{
			ID:            doc.ID,
			AccessHash:    doc.AccessHash,
			FileReference: doc.FileReference,
		}}, nil
	default:
		return nil, fmt.Errorf("unexpected uploaded media %T", res)
	}
}

// DeleteMessages revokes messages for everyone in the chat.
func (c *Client) DeleteMessages(ctx context.Context, chatID int64, msgIDs ...int) error {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return err
	}
	_, err := c.API().MessagesDeleteMessages(ctx, &tg.MessagesDeleteMessagesRequest{
		Revoke: true,
		ID:     msgIDs,
	})
	if err != nil {
		c.noteFloodWait(err)
		return fmt.Errorf("delete messages: %w", err)
	}
	return nil
}

// Upload pushes bytes to Telegram and returns the input file handle.
func (c *Client) Upload(ctx context.Context, filename string, data []byte) (tg.InputFileClass, error) {
	u := uploader.NewUploader(c.API())
	f, err := u.FromBytes(ctx, filename, data)
	if err != nil {
		return nil, fmt.Errorf("upload %s: %w", filename, err)
	}
	return f, nil
}

// DownloadMedia fetches the full content of a photo or document handle.
func (c *Client) DownloadMedia(ctx context.Context, handle any) ([]byte, error) {
	loc, err := fileLocation(handle)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if _, err := downloader.NewDownloader().Download(c.API(), loc).Stream(ctx, &buf); err != nil {
		return nil, fmt.Errorf("download media: %w", err)
	}
	return buf.Bytes(), nil
}

// DownloadMediaToTempFile streams a handle into a temp file and returns its
// path. Used for large videos that should not be buffered in memory.
func (c *Client) DownloadMediaToTempFile(ctx context.Context, handle any, ext string) (string, error) {
	loc, err := fileLocation(handle)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(c.tempDir, 0755); err != nil {
		return "", fmt.Errorf("create temp dir: %w", err)
	}
	path := filepath.Join(c.tempDir, uuid.NewString()+ext)

	if _, err := downloader.NewDownloader().Download(c.API(), loc).ToPath(ctx, path); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("download media to file: %w", err)
	}
	return path, nil
}

// fileLocation derives an input location from a native media handle.
func fileLocation(handle any) (tg.InputFileLocationClass, error) {
	switch h := handle.(type) {
	case *tg.Photo:
		thumb := largestPhotoSize(h)
		if thumb == "" {
			return nil, fmt.Errorf("photo %d has no sizes", h.ID)
		}
		return &tg.InputPhotoFileLocation{
			ID:            h.ID,
			AccessHash:    h.AccessHash,
			FileReference: h.FileReference,
			ThumbSize:     thumb,
		}, nil
	case *tg.Document:
		return &tg.InputDocumentFileLocation{
			ID:            h.ID,
			AccessHash:    h.AccessHash,
			FileReference: h.FileReference,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported media handle %T", handle)
	}
}

func largestPhotoSize(photo *tg.Photo) string {
	var best string
	var bestArea int
	for _, s := range photo.Sizes {
		switch size := s.(type) {
		case *tg.PhotoSize:
			if area := size.W * size.H; area > bestArea {
				bestArea = area
				best = size.Type
			}
		case *tg.PhotoSizeProgressive:
			if area := size.W * size.H; area > bestArea {
				bestArea = area
				best = size.Type
			}
		}
	}
	return best
}

// sentID extracts the new message id from a send response.
func sentID(updates tg.UpdatesClass) int {
	switch u := updates.(type) {
	case *tg.UpdateShortSentMessage:
		return u.ID
	case *tg.Updates:
		for _, upd := range u.Updates {
			switch t := upd.(type) {
			case *tg.UpdateMessageID:
				return t.ID
			case *tg.UpdateNewMessage:
				if m, ok := t.Message.(*tg.Message); ok {
					return m.ID
				}
			case *tg.UpdateNewChannelMessage:
				if m, ok := t.Message.(*tg.Message); ok {
					return m.ID
				}
			}
		}
	}
	return 0
}

// noteFloodWait parses FLOOD_WAIT_<n> errors and arms the limiter backoff.
func (c *Client) noteFloodWait(err error) {
	if err == nil {
		return
	}
	str := err.Error()
	if !strings.Contains(str, "FLOOD_WAIT_") {
		return
	}
	var seconds int
	parts := strings.Split(str, "FLOOD_WAIT_")
	if len(parts) > 1 {
		_, _ = fmt.Sscanf(strings.TrimSpace(parts[1]), "%d", &seconds)
	}
	if seconds > 0 {
		c.log.Warn().Int("wait_seconds", seconds).Msg("FLOOD_WAIT detected, backing off")
		c.rateLimiter.SetFloodWait(seconds)
	}
}
