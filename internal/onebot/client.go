package onebot

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/magisk317/napgram/internal/logger"
)

const (
	defaultAPITimeout   = 15 * time.Second
	handshakeTimeout    = 10 * time.Second
	minReconnectBackoff = 5 * time.Second
	maxReconnectBackoff = 60 * time.Second
)

// MessageHandler receives parsed message events from the gateway.
type MessageHandler func(ctx context.Context, ev *MessageEvent)

// Client is a OneBot 11 websocket client. It maintains one connection to the
// gateway, correlates API calls by echo, and dispatches message events to a
// registered handler.
type Client struct {
	url         string
	accessToken string
	log         *logger.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex // guards conn
	conn    *websocket.Conn
	writeMu sync.Mutex

	waitMu      sync.Mutex
	waiters     map[string]chan *APIResponse
	echoCounter int64

	handler MessageHandler

	selfMu   sync.Mutex
	selfID   int64
	nickname string
	online   bool
}

// NewClient creates a gateway client. Call Start to connect.
func NewClient(wsURL, accessToken string, log *logger.Logger) *Client {
	return &Client{
		url:         wsURL,
		accessToken: accessToken,
		log:         log.Component("onebot"),
		waiters:     make(map[string]chan *APIResponse),
	}
}

// OnMessage registers the handler invoked for every message event.
// Must be called before Start.
func (c *Client) OnMessage(h MessageHandler) { c.handler = h }

// Start connects to the gateway and begins the read loop. A failed initial
// connection is retried in the background.
func (c *Client) Start(ctx context.Context) error {
	if c.url == "" {
		return fmt.Errorf("onebot ws url not configured")
	}

	c.ctx, c.cancel = context.WithCancel(ctx)

	if err := c.connect(); err != nil {
		c.log.Warn().Err(err).Msg("initial gateway connection failed, retrying in background")
	} else {
		go c.listen()
	}
	go c.reconnectLoop()

	return nil
}

// Stop closes the connection and fails all pending API calls.
func (c *Client) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()
	c.setOnline(false)
}

func (c *Client) connect() error {
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = handshakeTimeout

	header := http.Header{}
	if c.accessToken != "" {
		header.Set("Authorization", "Bearer "+c.accessToken)
	}

	conn, _, err := dialer.Dial(c.url, header)
	if err != nil {
		return fmt.Errorf("dial gateway: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.setOnline(true)

	c.log.Info().Str("url", c.url).Msg("gateway connected")

	go c.refreshLoginInfo()
	return nil
}

func (c *Client) reconnectLoop() {
	backoff := minReconnectBackoff
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-time.After(backoff):
		}

		c.mu.Lock()
		connected := c.conn != nil
		c.mu.Unlock()
		if connected {
			backoff = minReconnectBackoff
			continue
		}

		c.log.Info().Msg("reconnecting to gateway")
		if err := c.connect(); err != nil {
			c.log.Error().Err(err).Msg("gateway reconnect failed")
			if backoff < maxReconnectBackoff {
				backoff *= 2
			}
			continue
		}
		backoff = minReconnectBackoff
		go c.listen()
	}
}

func (c *Client) listen() {
	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return
		}

		_, payload, err := conn.ReadMessage()
		if err != nil {
			c.log.Error().Err(err).Msg("gateway read error")
			c.mu.Lock()
			if c.conn != nil {
				_ = c.conn.Close()
				c.conn = nil
			}
			c.mu.Unlock()
			c.setOnline(false)
			return
		}

		var raw rawEvent
		if err := json.Unmarshal(payload, &raw); err != nil {
			c.log.Warn().Err(err).Msg("undecodable gateway event")
			continue
		}

		if raw.Echo != "" {
			c.dispatchResponse(payload, raw.Echo)
			continue
		}

		if raw.PostType != "message" {
			continue
		}

		ev, err := parseMessageEvent(&raw)
		if err != nil {
			c.log.Warn().Err(err).Msg("unparsable message event")
			continue
		}
		if c.handler != nil {
			go c.handler(c.ctx, ev)
		}
	}
}

func (c *Client) dispatchResponse(payload []byte, echo string) {
	var resp APIResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		resp = APIResponse{Echo: echo, Status: "failed", Message: err.Error()}
	}
	if resp.Echo == "" {
		resp.Echo = echo
	}

	c.waitMu.Lock()
	waiter := c.waiters[resp.Echo]
	c.waitMu.Unlock()
	if waiter == nil {
		return
	}
	select {
	case waiter <- &resp:
	default:
	}
}

// Call performs one echo-correlated API call against the gateway.
func (c *Client) Call(ctx context.Context, action string, params any) (*APIResponse, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil, fmt.Errorf("gateway not connected")
	}

	c.waitMu.Lock()
	c.echoCounter++
	echo := fmt.Sprintf("%s_%d", action, c.echoCounter)
	waiter := make(chan *APIResponse, 1)
	c.waiters[echo] = waiter
	c.waitMu.Unlock()

	defer func() {
		c.waitMu.Lock()
		delete(c.waiters, echo)
		c.waitMu.Unlock()
	}()

	payload, err := json.Marshal(apiRequest{Action: action, Params: params, Echo: echo})
	if err != nil {
		return nil, fmt.Errorf("marshal %s request: %w", action, err)
	}

	c.writeMu.Lock()
	err = conn.WriteMessage(websocket.TextMessage, payload)
	c.writeMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("write %s request: %w", action, err)
	}

	timer := time.NewTimer(defaultAPITimeout)
	defer timer.Stop()

	select {
	case resp := <-waiter:
		if !resp.OK() {
			return resp, fmt.Errorf("%s: gateway retcode %d: %s", action, resp.RetCode, resp.Message)
		}
		return resp, nil
	case <-timer.C:
		return nil, fmt.Errorf("%s: gateway call timeout", action)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// SendGroupMessage sends a segment list to a group.
func (c *Client) SendGroupMessage(ctx context.Context, groupID int64, segments []Segment) (*SendReceipt, error) {
	return c.send(ctx, "send_group_msg", map[string]any{
		"group_id": groupID,
		"message":  segments,
	})
}

// SendPrivateMessage sends a segment list to a user.
func (c *Client) SendPrivateMessage(ctx context.Context, userID int64, segments []Segment) (*SendReceipt, error) {
	return c.send(ctx, "send_private_msg", map[string]any{
		"user_id": userID,
		"message": segments,
	})
}

func (c *Client) send(ctx context.Context, action string, params map[string]any) (*SendReceipt, error) {
	resp, err := c.Call(ctx, action, params)
	if err != nil {
		return nil, err
	}
	var receipt SendReceipt
	if err := json.Unmarshal(resp.Data, &receipt); err != nil {
		return nil, fmt.Errorf("decode %s receipt: %w", action, err)
	}
	return &receipt, nil
}

// RecallMessage deletes a previously sent message.
func (c *Client) RecallMessage(ctx context.Context, messageID int64) error {
	_, err := c.Call(ctx, "delete_msg", map[string]any{"message_id": messageID})
	return err
}

// GetGroupMemberInfo fetches card and nickname for a group member.
func (c *Client) GetGroupMemberInfo(ctx context.Context, groupID, userID int64) (*GroupMemberInfo, error) {
	resp, err := c.Call(ctx, "get_group_member_info", map[string]any{
		"group_id": groupID,
		"user_id":  userID,
		"no_cache": false,
	})
	if err != nil {
		return nil, err
	}
	var info GroupMemberInfo
	if err := json.Unmarshal(resp.Data, &info); err != nil {
		return nil, fmt.Errorf("decode member info: %w", err)
	}
	return &info, nil
}

// GetImage asks the gateway to materialize an image by file token.
func (c *Client) GetImage(ctx context.Context, file string) (*FileResult, error) {
	return c.fileCall(ctx, "get_image", map[string]any{"file": file})
}

// GetRecord asks the gateway to materialize a voice recording by file token.
// The gateway converts to the requested container (e.g. "wav").
func (c *Client) GetRecord(ctx context.Context, file, format string) (*FileResult, error) {
	return c.fileCall(ctx, "get_record", map[string]any{"file": file, "out_format": format})
}

func (c *Client) fileCall(ctx context.Context, action string, params map[string]any) (*FileResult, error) {
	resp, err := c.Call(ctx, action, params)
	if err != nil {
		return nil, err
	}
	var res FileResult
	if err := json.Unmarshal(resp.Data, &res); err != nil {
		return nil, fmt.Errorf("decode %s result: %w", action, err)
	}
	return &res, nil
}

// IsOnline reports whether the gateway connection is up.
func (c *Client) IsOnline() bool {
	c.selfMu.Lock()
	defer c.selfMu.Unlock()
	return c.online
}

// Uin returns the gateway account's QQ number, 0 until known.
func (c *Client) Uin() int64 {
	c.selfMu.Lock()
	defer c.selfMu.Unlock()
	return c.selfID
}

// Nickname returns the gateway account's nickname.
func (c *Client) Nickname() string {
	c.selfMu.Lock()
	defer c.selfMu.Unlock()
	return c.nickname
}

func (c *Client) setOnline(v bool) {
	c.selfMu.Lock()
	c.online = v
	c.selfMu.Unlock()
}

func (c *Client) refreshLoginInfo() {
	ctx, cancel := context.WithTimeout(c.ctx, defaultAPITimeout)
	defer cancel()

	resp, err := c.Call(ctx, "get_login_info", map[string]any{})
	if err != nil {
		c.log.Debug().Err(err).Msg("get_login_info failed")
		return
	}
	var info struct {
		UserID   int64  `json:"user_id"`
		Nickname string `json:"nickname"`
	}
	if err := json.Unmarshal(resp.Data, &info); err != nil {
		return
	}
	c.selfMu.Lock()
	c.selfID = info.UserID
	c.nickname = info.Nickname
	c.selfMu.Unlock()
}

// parseMessageEvent converts a raw gateway event into a MessageEvent.
func parseMessageEvent(raw *rawEvent) (*MessageEvent, error) {
	ev := &MessageEvent{
		MessageType: raw.MessageType,
		SubType:     raw.SubType,
		MessageID:   parseInt64(raw.MessageID),
		MessageSeq:  parseInt64(raw.MessageSeq),
		UserID:      parseInt64(raw.UserID),
		GroupID:     parseInt64(raw.GroupID),
		SelfID:      parseInt64(raw.SelfID),
		Time:        parseInt64(raw.Time),
		RawMessage:  raw.RawMessage,
	}
	// older gateways omit message_seq
	if ev.MessageSeq == 0 {
		ev.MessageSeq = ev.MessageID
	}

	if len(raw.Sender) > 0 {
		if err := json.Unmarshal(raw.Sender, &ev.Sender); err != nil {
			return nil, fmt.Errorf("decode sender: %w", err)
		}
	}

	if len(raw.Message) > 0 {
		var segs []Segment
		if err := json.Unmarshal(raw.Message, &segs); err != nil {
			// string-format message; keep it as a single text segment
			var s string
			if err2 := json.Unmarshal(raw.Message, &s); err2 != nil {
				return nil, fmt.Errorf("decode message: %w", err)
			}
			segs = []Segment{NewSegment("text", map[string]any{"text": s})}
		}
		ev.Segments = segs
	}

	return ev, nil
}
