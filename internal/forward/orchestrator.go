package forward

import (
	"context"
	"strconv"
	"time"

	"github.com/gotd/td/tg"

	"github.com/magisk317/napgram/internal/config"
	"github.com/magisk317/napgram/internal/convert"
	"github.com/magisk317/napgram/internal/events"
	"github.com/magisk317/napgram/internal/logger"
	"github.com/magisk317/napgram/internal/message"
	"github.com/magisk317/napgram/internal/onebot"
	"github.com/magisk317/napgram/internal/storage"
	"github.com/magisk317/napgram/internal/telegram"
)

// flushTimeout bounds the media work done when a batched group is delivered.
const flushTimeout = 2 * time.Minute

// QQSender is the gateway surface the pipeline needs.
type QQSender interface {
	Uin() int64
	SendGroupMessage(ctx context.Context, groupID int64, segments []onebot.Segment) (*onebot.SendReceipt, error)
	SendPrivateMessage(ctx context.Context, userID int64, segments []onebot.Segment) (*onebot.SendReceipt, error)
	RecallMessage(ctx context.Context, messageID int64) error
}

// TelegramSender is the Telegram client surface the pipeline needs.
type TelegramSender interface {
	Self() int64
	SendText(ctx context.Context, req *telegram.TextRequest) (*telegram.SentMessage, error)
	SendMedia(ctx context.Context, req *telegram.MediaRequest) (*telegram.SentMessage, error)
	SendMediaGroup(ctx context.Context, req *telegram.GroupRequest) (*telegram.SentMessage, error)
	DeleteMessages(ctx context.Context, chatID int64, msgIDs ...int) error
}

// MappingStore resolves and records cross-platform id mappings.
type MappingStore interface {
	Record(ctx context.Context, m *storage.ReplyMapping) error
	FindByQQSeq(ctx context.Context, instanceID int, roomID, seq int64) (*storage.ReplyMapping, error)
	FindByQQSender(ctx context.Context, instanceID int, roomID, senderID int64) (*storage.ReplyMapping, error)
	FindByTG(ctx context.Context, instanceID int, chatID int64, msgID int) (*storage.ReplyMapping, error)
}

// Options wires an orchestrator.
type Options struct {
	InstanceID int
	Pairs      []config.Pair

	QQ       QQSender
	Telegram TelegramSender
	QQConv   *convert.QQConverter
	TGConv   *convert.TelegramConverter
	Store    MappingStore

	// Publisher is optional; events are still built and handed to OnEmit
	// when it is nil.
	Publisher events.Publisher
	// OnEmit receives every emission in-process, callbacks included.
	OnEmit func(events.Emission)

	// QuietPeriod overrides the media-group quiet period; zero keeps the
	// default.
	QuietPeriod time.Duration

	Log *logger.Logger
}

// Orchestrator runs the per-direction forwarding pipeline.
type Orchestrator struct {
	instanceID int
	pairs      []*pairState

	qq     QQSender
	tg     TelegramSender
	qqConv *convert.QQConverter
	tgConv *convert.TelegramConverter
	store  MappingStore

	publisher events.Publisher
	onEmit    func(events.Emission)

	batcher *Batcher
	log     *logger.Logger
}

// New creates an orchestrator from configured pairs.
func New(opts Options) *Orchestrator {
	log := opts.Log.Component("forward")

	o := &Orchestrator{
		instanceID: opts.InstanceID,
		qq:         opts.QQ,
		tg:         opts.Telegram,
		qqConv:     opts.QQConv,
		tgConv:     opts.TGConv,
		store:      opts.Store,
		publisher:  opts.Publisher,
		onEmit:     opts.OnEmit,
		log:        log,
	}
	for _, p := range opts.Pairs {
		o.pairs = append(o.pairs, newPairState(p, log))
	}
	o.batcher = NewBatcher(opts.QuietPeriod, o.flushGroup)
	return o
}

// Shutdown cancels pending media-group buffers.
func (o *Orchestrator) Shutdown() {
	o.batcher.Shutdown()
}

// qqRoomKey is the pair key for a gateway event: the group id, or the peer
// user id negated for private chats.
func qqRoomKey(ev *onebot.MessageEvent) int64 {
	if ev.IsGroup() {
		return ev.GroupID
	}
	return -ev.UserID
}

func (o *Orchestrator) pairByQQ(roomID int64) *pairState {
	for _, p := range o.pairs {
		if p.QQRoomID == roomID {
			return p
		}
	}
	return nil
}

func (o *Orchestrator) pairByTG(chatID int64) *pairState {
	for _, p := range o.pairs {
		if p.TGChatID == chatID {
			return p
		}
	}
	return nil
}

// HandleQQ forwards one gateway event to Telegram.
func (o *Orchestrator) HandleQQ(ctx context.Context, ev *onebot.MessageEvent) {
	roomID := qqRoomKey(ev)
	ps := o.pairByQQ(roomID)
	if ps == nil || !ps.Mode.QQToTG() {
		return
	}

	m := o.qqConv.FromQQ(ev)
	if ps.shouldDrop(m) {
		o.log.Debug().Str("msg", m.ID).Msg("dropped by filter")
		return
	}
	if ps.dedupQQ.Seen(m.ID) {
		return
	}

	replyTo := o.resolveQQReply(ctx, roomID, m)

	sent, err := o.sendToTelegram(ctx, ps, m, replyTo)
	if err != nil {
		o.log.Error().Err(err).Str("msg", m.ID).Int64("room", roomID).Msg("forward to telegram failed")
		return
	}
	if sent == nil {
		return
	}

	seq, _ := strconv.ParseInt(m.Meta("seq"), 10, 64)
	o.record(ctx, &storage.ReplyMapping{
		InstanceID: o.instanceID,
		QQRoomID:   roomID,
		QQSenderID: ev.UserID,
		QQSeq:      seq,
		TGChatID:   ps.TGChatID,
		TGMsgID:    sent.ID,
		TGSenderID: o.tg.Self(),
		Brief:      message.Brief(m),
	})

	o.emit(ctx, m, o.qqCallbacks(roomID, ev.MessageID))
}

// HandleTelegram forwards one Telegram update to QQ. Media-group bursts are
// handed to the batcher and delivered as one combined message.
func (o *Orchestrator) HandleTelegram(ctx context.Context, in *telegram.Incoming) {
	if in.SenderID == o.tg.Self() {
		return
	}
	ps := o.pairByTG(in.ChatID)
	if ps == nil || !ps.Mode.TGToQQ() {
		return
	}

	m := o.tgConv.FromTelegram(in)
	if ps.shouldDrop(m) {
		o.log.Debug().Str("msg", m.ID).Msg("dropped by filter")
		return
	}
	if ps.dedupTG.Seen(m.ID) {
		return
	}

	if in.GroupedID != 0 {
		o.batcher.Add(GroupKey{
			Platform: message.PlatformTelegram,
			GroupID:  strconv.FormatInt(in.GroupedID, 10),
		}, in)
		return
	}

	o.forwardToQQ(ctx, ps, m, in)
}

// flushGroup converts a buffered burst into one combined message: media in
// arrival order, the first non-empty text as the shared caption.
func (o *Orchestrator) flushGroup(_ GroupKey, items []*telegram.Incoming) {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()

	first := items[0]
	ps := o.pairByTG(first.ChatID)
	if ps == nil {
		return
	}

	merged := o.tgConv.FromTelegram(first)
	for _, in := range items[1:] {
		m := o.tgConv.FromTelegram(in)
		for _, item := range m.Content {
			switch item.Type {
			case message.TypeText:
				if merged.PlainText() != "" {
					continue
				}
			case message.TypeReply:
				continue
			}
			merged.Content = append(merged.Content, item)
		}
	}

	o.forwardToQQ(ctx, ps, merged, first)
}

// forwardToQQ runs reply resolution, header construction, delivery, mapping
// persistence and event emission for one Telegram-origin message.
func (o *Orchestrator) forwardToQQ(ctx context.Context, ps *pairState, m *message.Message, origin *telegram.Incoming) {
	o.resolveTGReply(ctx, ps, m)

	// Plain textual header; the rich form is a Telegram-side rendering.
	label := m.Sender.Name
	if label == "" {
		label = m.Sender.ID
	}
	header := message.Text(label + ": ")
	m.Content = insertAfterReply(m.Content, header)

	segs := o.qqConv.ToQQ(ctx, m)
	if len(segs) <= 1 {
		// Header only: nothing convertible survived.
		o.log.Warn().Str("msg", m.ID).Msg("no deliverable content for qq")
		return
	}

	receipt, err := o.sendQQ(ctx, ps.QQRoomID, segs)
	if err != nil {
		o.log.Error().Err(err).Str("msg", m.ID).Int64("chat", origin.ChatID).Msg("forward to qq failed")
		return
	}

	o.record(ctx, &storage.ReplyMapping{
		InstanceID: o.instanceID,
		QQRoomID:   ps.QQRoomID,
		QQSenderID: o.qq.Uin(),
		QQSeq:      receipt.MessageID,
		TGChatID:   origin.ChatID,
		TGMsgID:    origin.Msg.ID,
		TGSenderID: origin.SenderID,
		Brief:      message.Brief(m),
	})

	o.emit(ctx, m, o.tgCallbacks(ps, origin))
}

// resolveQQReply maps a QQ reply reference to the Telegram message id it was
// forwarded as. Misses degrade to an inline quote line; the reply item is
// consumed either way. Returns 0 when the message is not a reply.
func (o *Orchestrator) resolveQQReply(ctx context.Context, roomID int64, m *message.Message) int {
	d, rest := takeReply(m)
	if d == nil {
		return 0
	}
	m.Content = rest

	if seq, err := strconv.ParseInt(d.MessageID, 10, 64); err == nil {
		mapping, err := o.store.FindByQQSeq(ctx, o.instanceID, roomID, seq)
		if err != nil {
			o.log.Warn().Err(err).Msg("reply lookup failed")
		} else if mapping != nil {
			return mapping.TGMsgID
		}
	}

	// Sequence miss: most recent message from the replied-to sender.
	// Best effort, not guaranteed to be the right message.
	if sender, err := strconv.ParseInt(d.SenderID, 10, 64); err == nil && sender != 0 {
		mapping, err := o.store.FindByQQSender(ctx, o.instanceID, roomID, sender)
		if err != nil {
			o.log.Warn().Err(err).Msg("reply sender lookup failed")
		} else if mapping != nil {
			return mapping.TGMsgID
		}
	}

	if quote := quoteLine(d); quote != "" {
		m.Content = append([]message.Content{message.Text(quote)}, m.Content...)
	}
	return 0
}

// resolveTGReply rewrites a Telegram reply reference into the QQ message id
// recorded for it, or degrades to an inline quote line.
func (o *Orchestrator) resolveTGReply(ctx context.Context, ps *pairState, m *message.Message) {
	d, rest := takeReply(m)
	if d == nil {
		return
	}
	m.Content = rest

	if msgID, err := strconv.Atoi(d.MessageID); err == nil {
		mapping, err := o.store.FindByTG(ctx, o.instanceID, ps.TGChatID, msgID)
		if err != nil {
			o.log.Warn().Err(err).Msg("reply lookup failed")
		} else if mapping != nil {
			d.MessageID = strconv.FormatInt(mapping.QQSeq, 10)
			reply := message.Content{Type: message.TypeReply, Data: d}
			m.Content = append([]message.Content{reply}, m.Content...)
			return
		}
	}

	if quote := quoteLine(d); quote != "" {
		m.Content = append([]message.Content{message.Text(quote)}, m.Content...)
	}
}

// sendToTelegram delivers one unified message: groupable media as an album,
// everything else individually in original order. When a ttl parameter is
// rejected the send is retried once without it.
func (o *Orchestrator) sendToTelegram(ctx context.Context, ps *pairState, m *message.Message, replyTo int) (*telegram.SentMessage, error) {
	sent, err := o.sendToTelegramTTL(ctx, ps, m, replyTo, ps.TTLSeconds)
	if err != nil && ps.TTLSeconds > 0 {
		o.log.Warn().Err(err).Msg("retrying send without ttl")
		return o.sendToTelegramTTL(ctx, ps, m, replyTo, 0)
	}
	return sent, err
}

func (o *Orchestrator) sendToTelegramTTL(ctx context.Context, ps *pairState, m *message.Message, replyTo, ttlSeconds int) (*telegram.SentMessage, error) {
	h := buildHeader(m.Sender, ps.RichHeader)
	body := bodyText(m)

	var group []tg.InputMediaClass
	var rest []message.Content
	for _, item := range m.Content {
		switch {
		case item.Groupable():
			media, err := o.tgConv.ToMedia(ctx, item, ttlSeconds)
			if err != nil {
				o.log.Warn().Err(err).Str("type", string(item.Type)).Msg("media conversion degraded to text")
				body = appendLine(body, message.Render(item))
				continue
			}
			group = append(group, media)
		case item.Type == message.TypeAudio, item.Type == message.TypeFile,
			item.Type == message.TypeLocation, item.Type == message.TypeDice,
			item.Type == message.TypeForward:
			rest = append(rest, item)
		}
	}

	caption, entities := h.Apply(body)

	var first *telegram.SentMessage
	var err error
	switch {
	case len(group) > 1:
		req := &telegram.GroupRequest{
			ChatID:       ps.TGChatID,
			ReplyToMsgID: replyTo,
			ThreadID:     ps.TGThreadID,
		}
		for i, media := range group {
			item := telegram.GroupItem{Media: media}
			if i == 0 {
				item.Caption = caption
				item.Entities = entities
			}
			req.Items = append(req.Items, item)
		}
		first, err = o.tg.SendMediaGroup(ctx, req)
	case len(group) == 1:
		first, err = o.tg.SendMedia(ctx, &telegram.MediaRequest{
			ChatID:       ps.TGChatID,
			Media:        group[0],
			Caption:      caption,
			Entities:     entities,
			ReplyToMsgID: replyTo,
			ThreadID:     ps.TGThreadID,
		})
	case body != "":
		first, err = o.tg.SendText(ctx, &telegram.TextRequest{
			ChatID:       ps.TGChatID,
			Text:         caption,
			Entities:     entities,
			ReplyToMsgID: replyTo,
			ThreadID:     ps.TGThreadID,
		})
	}
	if err != nil {
		return nil, err
	}

	for _, item := range rest {
		if item.Type == message.TypeForward {
			// forwarded bundles have no native rendering, the placeholder
			// goes out as its own message in sequence position
			req := &telegram.TextRequest{
				ChatID:       ps.TGChatID,
				Text:         message.Render(item),
				ReplyToMsgID: replyTo,
				ThreadID:     ps.TGThreadID,
			}
			if first == nil {
				req.Text, req.Entities = h.Apply(req.Text)
			}
			sent, sendErr := o.tg.SendText(ctx, req)
			if sendErr != nil {
				o.log.Warn().Err(sendErr).Msg("forward placeholder send failed")
				continue
			}
			if first == nil {
				first = sent
			}
			continue
		}

		media, convErr := o.tgConv.ToMedia(ctx, item, 0)
		if convErr != nil {
			o.log.Warn().Err(convErr).Str("type", string(item.Type)).Msg("dropping unconvertible attachment")
			continue
		}
		req := &telegram.MediaRequest{
			ChatID:       ps.TGChatID,
			Media:        media,
			ReplyToMsgID: replyTo,
			ThreadID:     ps.TGThreadID,
		}
		if first == nil {
			req.Caption, req.Entities = h.Apply("")
		}
		sent, sendErr := o.tg.SendMedia(ctx, req)
		if sendErr != nil {
			o.log.Warn().Err(sendErr).Str("type", string(item.Type)).Msg("attachment send failed")
			continue
		}
		if first == nil {
			first = sent
		}
	}

	return first, nil
}

func (o *Orchestrator) sendQQ(ctx context.Context, roomID int64, segs []onebot.Segment) (*onebot.SendReceipt, error) {
	if roomID > 0 {
		return o.qq.SendGroupMessage(ctx, roomID, segs)
	}
	return o.qq.SendPrivateMessage(ctx, -roomID, segs)
}

// record persists a delivered mapping. Failure never rolls back the send.
func (o *Orchestrator) record(ctx context.Context, mapping *storage.ReplyMapping) {
	if err := o.store.Record(ctx, mapping); err != nil {
		o.log.Warn().Err(err).Msg("mapping record failed")
	}
}

// emit publishes the forwarded-message event and hands the in-process
// emission to the plugin hook.
func (o *Orchestrator) emit(ctx context.Context, m *message.Message, cb events.Callbacks) {
	ev := events.FromUnified(o.instanceID, m)
	if o.publisher != nil {
		if err := o.publisher.PublishMessage(ctx, ev); err != nil {
			o.log.Warn().Err(err).Msg("event publish failed")
		}
	}
	if o.onEmit != nil {
		o.onEmit(events.Emission{Event: ev, Callbacks: cb})
	}
}

// qqCallbacks binds reply/send/recall to the originating QQ conversation.
func (o *Orchestrator) qqCallbacks(roomID, messageID int64) events.Callbacks {
	return events.Callbacks{
		Reply: func(ctx context.Context, content []message.Content) error {
			segs := o.qqConv.ToQQ(ctx, &message.Message{Content: content})
			reply := onebot.NewSegment("reply", map[string]any{"id": strconv.FormatInt(messageID, 10)})
			_, err := o.sendQQ(ctx, roomID, append([]onebot.Segment{reply}, segs...))
			return err
		},
		Send: func(ctx context.Context, content []message.Content) error {
			_, err := o.sendQQ(ctx, roomID, o.qqConv.ToQQ(ctx, &message.Message{Content: content}))
			return err
		},
		Recall: func(ctx context.Context) error {
			return o.qq.RecallMessage(ctx, messageID)
		},
	}
}

// tgCallbacks binds reply/send/recall to the originating Telegram chat.
func (o *Orchestrator) tgCallbacks(ps *pairState, origin *telegram.Incoming) events.Callbacks {
	return events.Callbacks{
		Reply: func(ctx context.Context, content []message.Content) error {
			_, err := o.tg.SendText(ctx, &telegram.TextRequest{
				ChatID:       origin.ChatID,
				Text:         contentText(content),
				ReplyToMsgID: origin.Msg.ID,
				ThreadID:     ps.TGThreadID,
			})
			return err
		},
		Send: func(ctx context.Context, content []message.Content) error {
			_, err := o.tg.SendText(ctx, &telegram.TextRequest{
				ChatID:   origin.ChatID,
				Text:     contentText(content),
				ThreadID: ps.TGThreadID,
			})
			return err
		},
		Recall: func(ctx context.Context) error {
			return o.tg.DeleteMessages(ctx, origin.ChatID, origin.Msg.ID)
		},
	}
}

// takeReply extracts the reply item, returning the remaining content.
func takeReply(m *message.Message) (*message.ReplyData, []message.Content) {
	for i, item := range m.Content {
		if d, ok := item.Data.(*message.ReplyData); ok && item.Type == message.TypeReply {
			rest := make([]message.Content, 0, len(m.Content)-1)
			rest = append(rest, m.Content[:i]...)
			rest = append(rest, m.Content[i+1:]...)
			return d, rest
		}
	}
	return nil, m.Content
}

// insertAfterReply places item behind the leading reply segment if present,
// else at the front.
func insertAfterReply(content []message.Content, item message.Content) []message.Content {
	if len(content) > 0 && content[0].Type == message.TypeReply {
		out := make([]message.Content, 0, len(content)+1)
		out = append(out, content[0], item)
		return append(out, content[1:]...)
	}
	return append([]message.Content{item}, content...)
}

// quoteLine renders an unresolvable reply target as an inline quote.
func quoteLine(d *message.ReplyData) string {
	if d.Text == "" {
		return ""
	}
	if d.SenderName != "" {
		return "> " + d.SenderName + ": " + d.Text + "\n"
	}
	return "> " + d.Text + "\n"
}

// bodyText flattens the textual items (text, mentions, emoji) into the
// outbound message body.
func bodyText(m *message.Message) string {
	var out string
	for _, item := range m.Content {
		switch item.Type {
		case message.TypeText:
			out += item.Data.(*message.TextData).Text
		case message.TypeAt, message.TypeFace:
			out += message.Render(item)
		}
	}
	return out
}

func contentText(content []message.Content) string {
	return bodyText(&message.Message{Content: content})
}

func appendLine(body, line string) string {
	if line == "" {
		return body
	}
	if body == "" {
		return line
	}
	return body + "\n" + line
}
