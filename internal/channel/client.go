// Package channel maintains the persistent websocket subscription to a room
// and dispatches the tagged-union message protocol to typed handlers.
package channel

import (
	"log"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/shikaka-studio/jammy/internal/wire"
)

// DefaultReconnectDelay is the fixed delay between reconnect attempts.
const DefaultReconnectDelay = 3 * time.Second

// Handlers holds the typed callbacks for channel messages. A nil handler
// drops the message.
type Handlers struct {
	OnPlaybackState func(wire.PlaybackState)
	OnQueueUpdate   func(wire.QueueUpdate)
	OnMemberJoined  func(wire.MemberEvent)
	OnMemberLeft    func(wire.MemberEvent)
	OnNotification  func(wire.Notification)
}

// Option configures a Client.
type Option func(*Client)

// WithReconnectDelay overrides the fixed reconnect delay.
func WithReconnectDelay(d time.Duration) Option {
	return func(c *Client) { c.reconnectDelay = d }
}

// WithDialer overrides the websocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

// Client owns at most one live websocket connection for a room subscription.
// Reconnects are transparent: no event distinguishes a reconnect from a first
// connect, callers observe IsConnected and ConnectionError only. A closed
// client cannot be reused; a new subscription means a new Client.
type Client struct {
	url            string
	dialer         *websocket.Dialer
	reconnectDelay time.Duration

	// Handlers are held through a pointer swap so re-subscribing with new
	// callbacks never forces a reconnect and a running read loop never
	// invokes a stale callback.
	handlers atomic.Pointer[Handlers]

	mu         sync.Mutex
	conn       *websocket.Conn
	connecting bool
	connected  bool
	closed     bool
	reconnect  *time.Timer
	gen        uint64
	connErr    string
}

// New builds a client for {wsBaseURL}/ws/{roomCode}?user_id={userID}.
func New(wsBaseURL, roomCode, userID string, opts ...Option) *Client {
	c := &Client{
		url:            strings.TrimSuffix(wsBaseURL, "/") + "/ws/" + url.PathEscape(roomCode) + "?user_id=" + url.QueryEscape(userID),
		dialer:         websocket.DefaultDialer,
		reconnectDelay: DefaultReconnectDelay,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetHandlers replaces the handler set for all subsequent messages.
func (c *Client) SetHandlers(h Handlers) {
	c.handlers.Store(&h)
}

// Connect opens the connection. It is a no-op while a connection is open or
// being established, and after Disconnect.
func (c *Client) Connect() {
	c.mu.Lock()
	if c.closed || c.connecting || c.conn != nil {
		c.mu.Unlock()
		return
	}
	c.connecting = true
	if c.reconnect != nil {
		c.reconnect.Stop()
		c.reconnect = nil
	}
	c.mu.Unlock()

	go c.dial()
}

func (c *Client) dial() {
	conn, resp, err := c.dialer.Dial(c.url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	c.mu.Lock()
	c.connecting = false
	if c.closed {
		c.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}
	if err != nil {
		c.connErr = "channel connect failed: " + err.Error()
		c.scheduleReconnectLocked()
		c.mu.Unlock()
		log.Printf("channel: dial %s: %v", c.url, err)
		return
	}
	// The connection value is recreated wholesale per attempt, never reused.
	c.conn = conn
	c.connected = true
	c.connErr = ""
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	go c.readLoop(conn, gen)
}

func (c *Client) readLoop(conn *websocket.Conn, gen uint64) {
	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			c.connClosed(gen, err)
			return
		}
		c.dispatch(frame)
	}
}

// dispatch decodes one frame and invokes the matching handler. Malformed
// frames and unknown tags are logged and dropped without touching the
// connection.
func (c *Client) dispatch(frame []byte) {
	msg, err := wire.DecodeMessage(frame)
	if err != nil {
		log.Printf("channel: dropping frame: %v", err)
		return
	}

	h := c.handlers.Load()
	if h == nil {
		return
	}

	switch msg.Type {
	case wire.TypePlaybackState:
		st, err := msg.PlaybackState()
		if err != nil {
			log.Printf("channel: %v", err)
			return
		}
		if h.OnPlaybackState != nil {
			h.OnPlaybackState(st)
		}
	case wire.TypeQueueUpdate:
		q, err := msg.QueueUpdate()
		if err != nil {
			log.Printf("channel: %v", err)
			return
		}
		if h.OnQueueUpdate != nil {
			h.OnQueueUpdate(q)
		}
	case wire.TypeMemberJoined:
		ev, err := msg.MemberEvent()
		if err != nil {
			log.Printf("channel: %v", err)
			return
		}
		if h.OnMemberJoined != nil {
			h.OnMemberJoined(ev)
		}
	case wire.TypeMemberLeft:
		ev, err := msg.MemberEvent()
		if err != nil {
			log.Printf("channel: %v", err)
			return
		}
		if h.OnMemberLeft != nil {
			h.OnMemberLeft(ev)
		}
	case wire.TypeNotification:
		n, err := msg.Notification()
		if err != nil {
			log.Printf("channel: %v", err)
			return
		}
		if h.OnNotification != nil {
			h.OnNotification(n)
		}
	default:
		log.Printf("channel: unknown message type %q", msg.Type)
	}
}

func (c *Client) connClosed(gen uint64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || gen != c.gen {
		return
	}
	log.Printf("channel: connection closed: %v", err)
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connected = false
	c.connErr = "channel connection lost"
	c.scheduleReconnectLocked()
}

func (c *Client) scheduleReconnectLocked() {
	if c.closed || c.reconnect != nil {
		return
	}
	c.reconnect = time.AfterFunc(c.reconnectDelay, func() {
		c.mu.Lock()
		c.reconnect = nil
		c.mu.Unlock()
		c.Connect()
	})
}

// Disconnect cancels any pending reconnect and closes the socket. Idempotent.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.closed = true
	if c.reconnect != nil {
		c.reconnect.Stop()
		c.reconnect = nil
	}
	conn := c.conn
	c.conn = nil
	c.connected = false
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
}

// IsConnected reports whether a connection is currently live.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// ConnectionError returns the last connection-level error, or "" when healthy.
func (c *Client) ConnectionError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connErr
}
