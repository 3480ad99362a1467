package amoria

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"
)

// DefaultReconnectDelay is the fixed wait before a dropped connection
// is retried. Reconnection is unconditional and indefinite: the chat
// screen is something the user is actively looking at, so the socket
// keeps trying until the session is closed.
const DefaultReconnectDelay = 3 * time.Second

// ErrNotConnected is returned by Send when no connection is open.
var ErrNotConnected = errors.New("chat socket not connected")

// ConnState is the connection state of a ChatSocket.
type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateOpen         ConnState = "open"
)

// ChatSocketConfig configures a ChatSocket.
type ChatSocketConfig struct {
	// BaseURL is the API base (http/https); the socket derives the
	// ws/wss address from it.
	BaseURL string
	// Token is the bearer token carried on the connection URL.
	Token string
	// MatchID scopes the connection to one conversation.
	MatchID string
	// ReconnectDelay overrides DefaultReconnectDelay.
	ReconnectDelay time.Duration
	// HTTPClient is used for the WebSocket handshake.
	HTTPClient *http.Client
	// Logger receives transport diagnostics. slog.Default when nil.
	Logger *slog.Logger
}

// ChatSocket owns at most one live duplex connection for a chat
// session. It is created on session entry and closed on exit — never
// shared between screens. Inbound frames are parsed and handed to the
// OnEvent callback in arrival order; transport failures are absorbed
// here and recovered via reconnection, never surfaced to the caller.
type ChatSocket struct {
	baseURL string
	token   string
	matchID string
	delay   time.Duration
	httpc   *http.Client
	log     *slog.Logger

	// OnEvent receives every parsed inbound frame. Set before Connect.
	OnEvent func(*ChatEvent)

	mu        sync.Mutex
	state     ConnState
	conn      *websocket.Conn
	reconnect *time.Timer
	closed    bool
}

// NewChatSocket creates a disconnected socket. Call Connect to open it.
func NewChatSocket(cfg ChatSocketConfig) *ChatSocket {
	if cfg.ReconnectDelay == 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &ChatSocket{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		matchID: cfg.MatchID,
		delay:   cfg.ReconnectDelay,
		httpc:   cfg.HTTPClient,
		log:     cfg.Logger,
		state:   StateDisconnected,
	}
}

// State returns the current connection state.
func (c *ChatSocket) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// url derives the socket address from the API base, matching the API's
// own transport security (https → wss, http → ws).
func (c *ChatSocket) url() string {
	u := strings.Replace(c.baseURL, "https://", "wss://", 1)
	u = strings.Replace(u, "http://", "ws://", 1)
	return u + "/ws/chat/" + c.matchID + "?token=" + c.token
}

// Connect opens the connection. It no-ops when an attempt is already
// in flight or open, and when the socket has been closed. A failed
// dial schedules a reconnect like any other drop.
func (c *ChatSocket) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed || c.state != StateDisconnected {
		c.mu.Unlock()
		return nil
	}
	c.state = StateConnecting
	c.mu.Unlock()

	conn, _, err := websocket.Dial(ctx, c.url(), &websocket.DialOptions{
		HTTPClient: c.httpc,
	})
	if err != nil {
		c.mu.Lock()
		c.state = StateDisconnected
		closed := c.closed
		c.mu.Unlock()
		if !closed {
			c.log.Warn("chat socket dial failed", "match_id", c.matchID, "error", err)
			c.scheduleReconnect()
		}
		return fmt.Errorf("chat socket dial: %w", err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close(websocket.StatusNormalClosure, "session closed")
		return nil
	}
	c.conn = conn
	c.state = StateOpen
	c.mu.Unlock()

	c.log.Info("chat socket connected", "match_id", c.matchID)
	go c.readLoop(conn)
	return nil
}

// Send pushes one event over the live connection.
func (c *ChatSocket) Send(ctx context.Context, ev *ChatEvent) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

// Close tears the socket down: it cancels any pending reconnect timer
// and closes the connection. Safe to call multiple times.
func (c *ChatSocket) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if c.reconnect != nil {
		c.reconnect.Stop()
		c.reconnect = nil
	}
	conn := c.conn
	c.conn = nil
	c.state = StateDisconnected
	c.mu.Unlock()

	if conn != nil {
		conn.Close(websocket.StatusNormalClosure, "session closed")
	}
}

// readLoop parses inbound frames and hands them to OnEvent in arrival
// order. Unparseable frames are logged and dropped. Any read error —
// normal close, abnormal close, transport error — ends the loop and
// schedules a reconnect unless the socket was closed deliberately.
func (c *ChatSocket) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(context.Background())
		if err != nil {
			c.mu.Lock()
			closed := c.closed
			if c.conn == conn {
				c.conn = nil
				c.state = StateDisconnected
			}
			c.mu.Unlock()
			if closed {
				return
			}
			c.log.Info("chat socket lost", "match_id", c.matchID, "error", err)
			c.scheduleReconnect()
			return
		}

		var ev ChatEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			c.log.Warn("dropping malformed frame", "match_id", c.matchID, "error", err)
			continue
		}
		if c.OnEvent != nil {
			c.OnEvent(&ev)
		}
	}
}

// scheduleReconnect arms exactly one reconnect timer. Repeated drops
// while a timer is pending do not stack additional attempts.
func (c *ChatSocket) scheduleReconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.reconnect != nil {
		return
	}
	c.reconnect = time.AfterFunc(c.delay, func() {
		c.mu.Lock()
		c.reconnect = nil
		closed := c.closed
		c.mu.Unlock()
		if closed {
			return
		}
		// Errors here schedule the next attempt themselves.
		_ = c.Connect(context.Background())
	})
}
