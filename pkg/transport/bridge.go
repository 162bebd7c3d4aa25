package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tinyland-inc/ledbot/pkg/logger"
)

// BridgeConfig holds the connection settings for the external bridge
// process that speaks the messaging network's wire protocol.
type BridgeConfig struct {
	// URL is the bridge websocket endpoint, e.g. "ws://localhost:3100".
	URL string `env:"LEDBOT_BRIDGE_URL" json:"url"`
	// HandshakeTimeout bounds the websocket dial. Zero means 15s.
	HandshakeTimeout time.Duration `json:"handshake_timeout,omitempty"`
}

// BridgeDialer opens per-tenant websocket sessions against the bridge.
// The bridge owns the wire protocol and the signal/session keys; one
// websocket carries exactly one tenant session.
type BridgeDialer struct {
	cfg BridgeConfig
}

func NewBridgeDialer(cfg BridgeConfig) (*BridgeDialer, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("bridge URL is required")
	}
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, fmt.Errorf("invalid bridge URL: %w", err)
	}
	return &BridgeDialer{cfg: cfg}, nil
}

// Dial opens the tenant's session socket. The bridge replays a QR event
// immediately when the stored credentials are missing or unpaired.
func (d *BridgeDialer) Dial(ctx context.Context, tenantID string) (Conn, error) {
	timeout := d.cfg.HandshakeTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	dialer := websocket.Dialer{HandshakeTimeout: timeout}

	endpoint := d.cfg.URL + "/session/" + url.PathEscape(tenantID)
	ws, _, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("dialing bridge for tenant %s: %w", tenantID, err)
	}

	c := &bridgeConn{
		tenantID:  tenantID,
		ws:        ws,
		queue:     NewEventQueue(100),
		callbacks: make(map[uint64]chan rpcResponse),
	}
	go c.readLoop()
	return c, nil
}

// ResetCredentials asks the bridge to wipe the tenant's stored session
// keys so the next Dial starts an unpaired session.
func (d *BridgeDialer) ResetCredentials(ctx context.Context, tenantID string) error {
	conn, err := d.Dial(ctx, tenantID)
	if err != nil {
		return err
	}
	defer conn.Close()
	bc := conn.(*bridgeConn)
	_, err = bc.call(ctx, "reset_credentials", nil)
	return err
}

// Frame layout shared with the bridge. Unsolicited frames carry Event;
// request/response frames carry ID plus Method/Result/Error.
type bridgeFrame struct {
	// Unsolicited events
	Event   EventType `json:"event,omitempty"`
	QR      string    `json:"qr,omitempty"`
	Code    string    `json:"code,omitempty"`
	Reason  string    `json:"reason,omitempty"`
	Message *Message  `json:"message,omitempty"`
	SelfID  string    `json:"self_id,omitempty"`

	// Request/response correlation
	ID     uint64          `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

type rpcResponse struct {
	result json.RawMessage
	err    error
}

type bridgeConn struct {
	tenantID string
	ws       *websocket.Conn
	queue    *EventQueue

	writeMu sync.Mutex
	selfID  atomic.Value // string

	nextID     atomic.Uint64
	callbackMu sync.Mutex
	callbacks  map[uint64]chan rpcResponse

	closed atomic.Bool
}

func (c *bridgeConn) Events() <-chan Event { return c.queue.Events() }

func (c *bridgeConn) SelfID() string {
	if v, ok := c.selfID.Load().(string); ok {
		return v
	}
	return ""
}

// readLoop pumps frames off the socket until it fails or the connection
// is closed. A read error surfaces as a non-terminal close event so the
// supervisor can decide whether to reconnect.
func (c *bridgeConn) readLoop() {
	for {
		var frame bridgeFrame
		if err := c.ws.ReadJSON(&frame); err != nil {
			if !c.closed.Load() {
				logger.WarnCF("bridge", "Socket read failed", map[string]any{
					"tenant": c.tenantID,
					"error":  err.Error(),
				})
				c.queue.Publish(context.Background(), Event{
					Type:   EventConnectionClosed,
					Reason: CloseNetwork,
				})
			}
			c.failPending(ErrClosed)
			return
		}

		if frame.ID != 0 {
			c.dispatchResponse(frame)
			continue
		}

		ev := Event{Type: frame.Event, QR: frame.QR, Code: frame.Code, Message: frame.Message}
		switch frame.Event {
		case EventConnectionOpened:
			if frame.SelfID != "" {
				c.selfID.Store(frame.SelfID)
			}
		case EventConnectionClosed:
			ev.Reason = CloseReason(frame.Reason)
			if ev.Reason == "" {
				ev.Reason = CloseUnknown
			}
		case EventMessageReceived, EventMessageDeleted:
			if ev.Message == nil {
				continue
			}
		case EventQRCode, EventPairingCode:
		default:
			logger.DebugCF("bridge", "Unknown event frame", map[string]any{
				"tenant": c.tenantID,
				"event":  string(frame.Event),
			})
			continue
		}
		c.queue.Publish(context.Background(), ev)
	}
}

func (c *bridgeConn) dispatchResponse(frame bridgeFrame) {
	c.callbackMu.Lock()
	ch, ok := c.callbacks[frame.ID]
	c.callbackMu.Unlock()
	if !ok {
		return
	}
	resp := rpcResponse{result: frame.Result}
	if frame.Error != "" {
		resp.err = fmt.Errorf("bridge: %s", frame.Error)
	}
	ch <- resp
}

func (c *bridgeConn) failPending(err error) {
	c.callbackMu.Lock()
	defer c.callbackMu.Unlock()
	for id, ch := range c.callbacks {
		select {
		case ch <- rpcResponse{err: err}:
		default:
		}
		delete(c.callbacks, id)
	}
}

// call sends one request frame and waits for the matching response.
func (c *bridgeConn) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}

	var raw json.RawMessage
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshaling %s params: %w", method, err)
		}
		raw = data
	}

	id := c.nextID.Add(1)
	ch := make(chan rpcResponse, 1)
	c.callbackMu.Lock()
	c.callbacks[id] = ch
	c.callbackMu.Unlock()
	defer func() {
		c.callbackMu.Lock()
		delete(c.callbacks, id)
		c.callbackMu.Unlock()
	}()

	frame := bridgeFrame{ID: id, Method: method, Params: raw}
	c.writeMu.Lock()
	err := c.ws.WriteJSON(frame)
	c.writeMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("writing %s request: %w", method, err)
	}

	select {
	case resp := <-ch:
		return resp.result, resp.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *bridgeConn) SendText(ctx context.Context, chatID, text string, mentions ...string) error {
	_, err := c.call(ctx, "send_message", map[string]any{
		"chat_id":  chatID,
		"text":     text,
		"mentions": mentions,
	})
	return err
}

func (c *bridgeConn) React(ctx context.Context, chatID, messageID, emoji string) error {
	_, err := c.call(ctx, "react", map[string]any{
		"chat_id":    chatID,
		"message_id": messageID,
		"emoji":      emoji,
	})
	return err
}

func (c *bridgeConn) MarkRead(ctx context.Context, chatID, messageID string) error {
	_, err := c.call(ctx, "mark_read", map[string]any{
		"chat_id":    chatID,
		"message_id": messageID,
	})
	return err
}

func (c *bridgeConn) DeleteMessage(ctx context.Context, chatID, messageID string) error {
	_, err := c.call(ctx, "delete_message", map[string]any{
		"chat_id":    chatID,
		"message_id": messageID,
	})
	return err
}

func (c *bridgeConn) GroupMetadata(ctx context.Context, chatID string) (*GroupMetadata, error) {
	result, err := c.call(ctx, "group_metadata", map[string]any{"chat_id": chatID})
	if err != nil {
		return nil, err
	}
	var meta GroupMetadata
	if err := json.Unmarshal(result, &meta); err != nil {
		return nil, fmt.Errorf("unmarshaling group metadata: %w", err)
	}
	return &meta, nil
}

func (c *bridgeConn) UpdateMembership(ctx context.Context, chatID string, users []string, op MembershipOp) error {
	_, err := c.call(ctx, "update_membership", map[string]any{
		"chat_id": chatID,
		"users":   users,
		"op":      string(op),
	})
	return err
}

func (c *bridgeConn) GroupInviteCode(ctx context.Context, chatID string) (string, error) {
	result, err := c.call(ctx, "group_invite_code", map[string]any{"chat_id": chatID})
	if err != nil {
		return "", err
	}
	var code string
	if err := json.Unmarshal(result, &code); err != nil {
		return "", fmt.Errorf("unmarshaling invite code: %w", err)
	}
	return code, nil
}

func (c *bridgeConn) RequestPairingCode(ctx context.Context, phone string) (string, error) {
	result, err := c.call(ctx, "request_pairing_code", map[string]any{"phone": phone})
	if err != nil {
		return "", err
	}
	var code string
	if err := json.Unmarshal(result, &code); err != nil {
		return "", fmt.Errorf("unmarshaling pairing code: %w", err)
	}
	return code, nil
}

func (c *bridgeConn) Logout(ctx context.Context) error {
	_, err := c.call(ctx, "logout", nil)
	return err
}

func (c *bridgeConn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.queue.Close()
	return c.ws.Close()
}
