package forward

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gotd/td/tg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magisk317/napgram/internal/config"
	"github.com/magisk317/napgram/internal/convert"
	"github.com/magisk317/napgram/internal/events"
	"github.com/magisk317/napgram/internal/logger"
	"github.com/magisk317/napgram/internal/message"
	"github.com/magisk317/napgram/internal/onebot"
	"github.com/magisk317/napgram/internal/storage"
	"github.com/magisk317/napgram/internal/telegram"
)

type fakeTG struct {
	self     int64
	failures int
	attempts int
	nextID   int
	texts    []*telegram.TextRequest
	medias   []*telegram.MediaRequest
	groups   []*telegram.GroupRequest
	deleted  []int
}

func (f *fakeTG) Self() int64 { return f.self }

func (f *fakeTG) SendText(_ context.Context, req *telegram.TextRequest) (*telegram.SentMessage, error) {
	f.attempts++
	if f.failures > 0 {
		f.failures--
		return nil, errors.New("send message: FLOOD_WAIT (420)")
	}
	f.nextID++
	f.texts = append(f.texts, req)
	return &telegram.SentMessage{ID: f.nextID, ChatID: req.ChatID}, nil
}

func (f *fakeTG) SendMedia(_ context.Context, req *telegram.MediaRequest) (*telegram.SentMessage, error) {
	f.attempts++
	if f.failures > 0 {
		f.failures--
		return nil, errors.New("send media: MEDIA_INVALID (400)")
	}
	f.nextID++
	f.medias = append(f.medias, req)
	return &telegram.SentMessage{ID: f.nextID, ChatID: req.ChatID}, nil
}

func (f *fakeTG) SendMediaGroup(_ context.Context, req *telegram.GroupRequest) (*telegram.SentMessage, error) {
	f.attempts++
	if f.failures > 0 {
		f.failures--
		return nil, errors.New("send media group: MEDIA_INVALID (400)")
	}
	f.nextID++
	f.groups = append(f.groups, req)
	return &telegram.SentMessage{ID: f.nextID, ChatID: req.ChatID}, nil
}

func (f *fakeTG) DeleteMessages(_ context.Context, _ int64, msgIDs ...int) error {
	f.deleted = append(f.deleted, msgIDs...)
	return nil
}

type qqSent struct {
	to   int64
	segs []onebot.Segment
}

type fakeQQ struct {
	uin      int64
	nextID   int64
	group    []qqSent
	private  []qqSent
	recalled []int64
}

func (f *fakeQQ) Uin() int64 { return f.uin }

func (f *fakeQQ) SendGroupMessage(_ context.Context, groupID int64, segs []onebot.Segment) (*onebot.SendReceipt, error) {
	f.nextID++
	f.group = append(f.group, qqSent{to: groupID, segs: segs})
	return &onebot.SendReceipt{MessageID: f.nextID}, nil
}

func (f *fakeQQ) SendPrivateMessage(_ context.Context, userID int64, segs []onebot.Segment) (*onebot.SendReceipt, error) {
	f.nextID++
	f.private = append(f.private, qqSent{to: userID, segs: segs})
	return &onebot.SendReceipt{MessageID: f.nextID}, nil
}

func (f *fakeQQ) RecallMessage(_ context.Context, messageID int64) error {
	f.recalled = append(f.recalled, messageID)
	return nil
}

type fakeStore struct {
	recorded []*storage.ReplyMapping
	bySeq    map[int64]*storage.ReplyMapping
	bySender map[int64]*storage.ReplyMapping
	byTG     map[int]*storage.ReplyMapping
}

func (f *fakeStore) Record(_ context.Context, m *storage.ReplyMapping) error {
	f.recorded = append(f.recorded, m)
	return nil
}

func (f *fakeStore) FindByQQSeq(_ context.Context, _ int, _ int64, seq int64) (*storage.ReplyMapping, error) {
	return f.bySeq[seq], nil
}

func (f *fakeStore) FindByQQSender(_ context.Context, _ int, _ int64, sender int64) (*storage.ReplyMapping, error) {
	return f.bySender[sender], nil
}

func (f *fakeStore) FindByTG(_ context.Context, _ int, _ int64, msgID int) (*storage.ReplyMapping, error) {
	return f.byTG[msgID], nil
}

func testOptions(pair config.Pair, tgS *fakeTG, qqS *fakeQQ, store *fakeStore) Options {
	log := logger.Nop()
	return Options{
		InstanceID:  1,
		Pairs:       []config.Pair{pair},
		QQ:          qqS,
		Telegram:    tgS,
		QQConv:      convert.NewQQConverter(nil, nil, nil, nil, log),
		TGConv:      convert.NewTelegramConverter(nil, nil, nil, nil, log),
		Store:       store,
		QuietPeriod: 30 * time.Millisecond,
		Log:         log,
	}
}

func groupTextEvent(msgID int64, text string) *onebot.MessageEvent {
	return &onebot.MessageEvent{
		MessageType: "group",
		MessageID:   msgID,
		MessageSeq:  msgID,
		UserID:      42,
		GroupID:     100,
		Time:        1700000000,
		Sender:      onebot.SenderInfo{UserID: 42, Nickname: "Nick"},
		Segments: []onebot.Segment{
			onebot.NewSegment("text", map[string]any{"text": text}),
		},
	}
}

func testPair() config.Pair {
	return config.Pair{QQRoomID: 100, TGChatID: -100200, Mode: "11"}
}

func TestHandleQQ_ForwardsTextWithHeader(t *testing.T) {
	tgS := &fakeTG{self: 999}
	qqS := &fakeQQ{uin: 10000}
	store := &fakeStore{}
	o := New(testOptions(testPair(), tgS, qqS, store))

	o.HandleQQ(context.Background(), groupTextEvent(555, "hello"))

	require.Len(t, tgS.texts, 1)
	assert.Equal(t, "Nick: hello", tgS.texts[0].Text)
	assert.Equal(t, int64(-100200), tgS.texts[0].ChatID)

	require.Len(t, store.recorded, 1)
	rec := store.recorded[0]
	assert.Equal(t, int64(100), rec.QQRoomID)
	assert.Equal(t, int64(42), rec.QQSenderID)
	assert.Equal(t, int64(555), rec.QQSeq)
	assert.Equal(t, int64(-100200), rec.TGChatID)
	assert.Equal(t, tgS.nextID, rec.TGMsgID)
	assert.Equal(t, "hello", rec.Brief)
}

func TestHandleQQ_DedupSuppressesRedelivery(t *testing.T) {
	tgS := &fakeTG{self: 999}
	o := New(testOptions(testPair(), tgS, &fakeQQ{}, &fakeStore{}))

	ev := groupTextEvent(555, "hello")
	o.HandleQQ(context.Background(), ev)
	o.HandleQQ(context.Background(), ev)

	assert.Len(t, tgS.texts, 1)
}

func TestHandleQQ_ModeGate(t *testing.T) {
	pair := testPair()
	pair.Mode = "01" // telegram→qq only
	tgS := &fakeTG{self: 999}
	o := New(testOptions(pair, tgS, &fakeQQ{}, &fakeStore{}))

	o.HandleQQ(context.Background(), groupTextEvent(1, "hello"))

	assert.Empty(t, tgS.texts)
}

func TestHandleQQ_UnpairedRoomIgnored(t *testing.T) {
	tgS := &fakeTG{self: 999}
	o := New(testOptions(testPair(), tgS, &fakeQQ{}, &fakeStore{}))

	ev := groupTextEvent(1, "hello")
	ev.GroupID = 12345
	o.HandleQQ(context.Background(), ev)

	assert.Empty(t, tgS.texts)
}

func TestHandleQQ_BlocklistedSenderDropped(t *testing.T) {
	pair := testPair()
	pair.Blocklist = []string{"42"}
	tgS := &fakeTG{self: 999}
	o := New(testOptions(pair, tgS, &fakeQQ{}, &fakeStore{}))

	o.HandleQQ(context.Background(), groupTextEvent(1, "hello"))

	assert.Empty(t, tgS.texts)
}

func TestHandleQQ_ResolvesReplyToTelegramID(t *testing.T) {
	tgS := &fakeTG{self: 999}
	store := &fakeStore{bySeq: map[int64]*storage.ReplyMapping{
		500: {QQSeq: 500, TGMsgID: 77},
	}}
	o := New(testOptions(testPair(), tgS, &fakeQQ{}, store))

	ev := groupTextEvent(556, "and you")
	ev.Segments = append([]onebot.Segment{
		onebot.NewSegment("reply", map[string]any{"id": "500"}),
	}, ev.Segments...)
	o.HandleQQ(context.Background(), ev)

	require.Len(t, tgS.texts, 1)
	assert.Equal(t, 77, tgS.texts[0].ReplyToMsgID)
}

func TestHandleQQ_ReplyFallsBackToSenderLookup(t *testing.T) {
	tgS := &fakeTG{self: 999}
	store := &fakeStore{bySender: map[int64]*storage.ReplyMapping{
		42: {TGMsgID: 88},
	}}
	o := New(testOptions(testPair(), tgS, &fakeQQ{}, store))

	ev := groupTextEvent(557, "ok")
	ev.Segments = append([]onebot.Segment{
		onebot.NewSegment("reply", map[string]any{"id": "9999", "qq": "42"}),
	}, ev.Segments...)
	o.HandleQQ(context.Background(), ev)

	require.Len(t, tgS.texts, 1)
	assert.Equal(t, 88, tgS.texts[0].ReplyToMsgID)
}

func TestHandleQQ_UnresolvedReplySentWithoutReference(t *testing.T) {
	tgS := &fakeTG{self: 999}
	o := New(testOptions(testPair(), tgS, &fakeQQ{}, &fakeStore{}))

	ev := groupTextEvent(558, "lost context")
	ev.Segments = append([]onebot.Segment{
		onebot.NewSegment("reply", map[string]any{"id": "123"}),
	}, ev.Segments...)
	o.HandleQQ(context.Background(), ev)

	require.Len(t, tgS.texts, 1)
	assert.Zero(t, tgS.texts[0].ReplyToMsgID)
}

func TestHandleQQ_UnresolvedReplyDegradesToQuote(t *testing.T) {
	tgS := &fakeTG{self: 999}
	o := New(testOptions(testPair(), tgS, &fakeQQ{}, &fakeStore{}))

	ev := groupTextEvent(559, "still there?")
	ev.Segments = append([]onebot.Segment{
		onebot.NewSegment("reply", map[string]any{"id": "123", "text": "see you at 9"}),
	}, ev.Segments...)
	o.HandleQQ(context.Background(), ev)

	require.Len(t, tgS.texts, 1)
	assert.Zero(t, tgS.texts[0].ReplyToMsgID)
	assert.Equal(t, "Nick: > see you at 9\nstill there?", tgS.texts[0].Text)
}

func TestHandleQQ_ForwardPlaceholderSentSeparately(t *testing.T) {
	tgS := &fakeTG{self: 999}
	o := New(testOptions(testPair(), tgS, &fakeQQ{}, &fakeStore{}))

	ev := groupTextEvent(560, "look at this")
	ev.Segments = append(ev.Segments,
		onebot.NewSegment("forward", map[string]any{"id": "res123"}),
	)
	o.HandleQQ(context.Background(), ev)

	require.Len(t, tgS.texts, 2)
	assert.Equal(t, "Nick: look at this", tgS.texts[0].Text)
	assert.Equal(t, "[合并转发]", tgS.texts[1].Text)
}

func TestHandleQQ_RetriesOnceWithoutTTL(t *testing.T) {
	pair := testPair()
	pair.TTLSeconds = 60
	tgS := &fakeTG{self: 999, failures: 1}
	store := &fakeStore{}
	o := New(testOptions(pair, tgS, &fakeQQ{}, store))

	o.HandleQQ(context.Background(), groupTextEvent(1, "hello"))

	assert.Equal(t, 2, tgS.attempts)
	require.Len(t, tgS.texts, 1)
	assert.Len(t, store.recorded, 1)
}

func TestHandleQQ_NoRetryWithoutTTL(t *testing.T) {
	tgS := &fakeTG{self: 999, failures: 1}
	store := &fakeStore{}
	o := New(testOptions(testPair(), tgS, &fakeQQ{}, store))

	o.HandleQQ(context.Background(), groupTextEvent(1, "hello"))

	assert.Equal(t, 1, tgS.attempts)
	assert.Empty(t, store.recorded)
}

func incomingText(msgID int, text string) *telegram.Incoming {
	return &telegram.Incoming{
		Msg:        &tg.Message{ID: msgID, Message: text, Date: 1700000000},
		SenderID:   777,
		SenderName: "Bob",
		ChatID:     -100200,
		ChatTitle:  "Bridge",
		IsGroup:    true,
	}
}

func TestHandleTelegram_ForwardsTextWithHeader(t *testing.T) {
	tgS := &fakeTG{self: 999}
	qqS := &fakeQQ{uin: 10000}
	store := &fakeStore{}
	o := New(testOptions(testPair(), tgS, qqS, store))

	o.HandleTelegram(context.Background(), incomingText(9, "hello"))

	require.Len(t, qqS.group, 1)
	assert.Equal(t, int64(100), qqS.group[0].to)
	require.Len(t, qqS.group[0].segs, 2)
	assert.Equal(t, "Bob: ", qqS.group[0].segs[0].Str("text"))
	assert.Equal(t, "hello", qqS.group[0].segs[1].Str("text"))

	require.Len(t, store.recorded, 1)
	rec := store.recorded[0]
	assert.Equal(t, int64(-100200), rec.TGChatID)
	assert.Equal(t, 9, rec.TGMsgID)
	assert.Equal(t, int64(777), rec.TGSenderID)
	assert.Equal(t, qqS.nextID, rec.QQSeq)
	assert.Equal(t, int64(10000), rec.QQSenderID)
}

func TestHandleTelegram_SkipsOwnMessages(t *testing.T) {
	tgS := &fakeTG{self: 999}
	qqS := &fakeQQ{}
	o := New(testOptions(testPair(), tgS, qqS, &fakeStore{}))

	in := incomingText(9, "echo of a forward")
	in.SenderID = 999
	o.HandleTelegram(context.Background(), in)

	assert.Empty(t, qqS.group)
}

func TestHandleTelegram_ModeGate(t *testing.T) {
	pair := testPair()
	pair.Mode = "10" // qq→telegram only
	qqS := &fakeQQ{}
	o := New(testOptions(pair, &fakeTG{self: 999}, qqS, &fakeStore{}))

	o.HandleTelegram(context.Background(), incomingText(9, "hello"))

	assert.Empty(t, qqS.group)
}

func TestHandleTelegram_ResolvesReplyToQQID(t *testing.T) {
	qqS := &fakeQQ{uin: 10000}
	store := &fakeStore{byTG: map[int]*storage.ReplyMapping{
		88: {QQSeq: 444, TGMsgID: 88},
	}}
	o := New(testOptions(testPair(), &fakeTG{self: 999}, qqS, store))

	in := incomingText(9, "agreed")
	hdr := &tg.MessageReplyHeader{}
	hdr.SetReplyToMsgID(88)
	in.Msg.SetReplyTo(hdr)
	o.HandleTelegram(context.Background(), in)

	require.Len(t, qqS.group, 1)
	segs := qqS.group[0].segs
	require.NotEmpty(t, segs)
	assert.Equal(t, "reply", segs[0].Type)
	assert.Equal(t, "444", segs[0].Str("id"))
}

func TestHandleTelegram_UnresolvedReplyDegradesToQuote(t *testing.T) {
	qqS := &fakeQQ{uin: 10000}
	o := New(testOptions(testPair(), &fakeTG{self: 999}, qqS, &fakeStore{}))

	in := incomingText(9, "agreed")
	hdr := &tg.MessageReplyHeader{}
	hdr.SetReplyToMsgID(88)
	hdr.SetQuoteText("meet at the usual place")
	in.Msg.SetReplyTo(hdr)
	o.HandleTelegram(context.Background(), in)

	require.Len(t, qqS.group, 1)
	segs := qqS.group[0].segs
	require.Len(t, segs, 3)
	assert.Equal(t, "Bob: ", segs[0].Str("text"))
	assert.Equal(t, "> meet at the usual place\n", segs[1].Str("text"))
	assert.Equal(t, "agreed", segs[2].Str("text"))
}

func TestHandleTelegram_GroupedBurstDeliveredOnce(t *testing.T) {
	qqS := &fakeQQ{uin: 10000}
	o := New(testOptions(testPair(), &fakeTG{self: 999}, qqS, &fakeStore{}))
	defer o.Shutdown()

	first := incomingText(20, "caption")
	first.GroupedID = 7
	second := incomingText(21, "")
	second.GroupedID = 7

	o.HandleTelegram(context.Background(), first)
	o.HandleTelegram(context.Background(), second)

	require.Eventually(t, func() bool { return len(qqS.group) == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, "caption", qqS.group[0].segs[1].Str("text"))
}

func TestHandleTelegram_PrivatePairUsesPrivateSend(t *testing.T) {
	pair := config.Pair{QQRoomID: -42, TGChatID: 555, Mode: "11"}
	qqS := &fakeQQ{uin: 10000}
	o := New(testOptions(pair, &fakeTG{self: 999}, qqS, &fakeStore{}))

	in := incomingText(9, "hi")
	in.ChatID = 555
	in.IsGroup = false
	o.HandleTelegram(context.Background(), in)

	require.Len(t, qqS.private, 1)
	assert.Equal(t, int64(42), qqS.private[0].to)
}

func TestEmission_CallbacksBoundToQQOrigin(t *testing.T) {
	qqS := &fakeQQ{uin: 10000}
	opts := testOptions(testPair(), &fakeTG{self: 999}, qqS, &fakeStore{})

	var got *events.Emission
	opts.OnEmit = func(e events.Emission) { got = &e }
	o := New(opts)

	o.HandleQQ(context.Background(), groupTextEvent(555, "hello"))

	require.NotNil(t, got)
	assert.Equal(t, "100", got.Event.ChannelID)
	assert.Equal(t, "hello", got.Event.Message.Text)

	require.NoError(t, got.Callbacks.Recall(context.Background()))
	assert.Equal(t, []int64{555}, qqS.recalled)

	require.NoError(t, got.Callbacks.Reply(context.Background(), []message.Content{message.Text("pong")}))
	require.Len(t, qqS.group, 1)
	assert.Equal(t, "reply", qqS.group[0].segs[0].Type)
	assert.Equal(t, "555", qqS.group[0].segs[0].Str("id"))
}
