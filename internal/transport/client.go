// Package transport owns the single live websocket connection of the
// currently-open room. It translates wire frames into typed events and
// drives an explicit Disconnected/Connecting/Connected/Reconnecting
// state machine with bounded exponential backoff.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/eveneto/chatcore/internal/config"
	"github.com/eveneto/chatcore/internal/domain"
	"github.com/eveneto/chatcore/pkg/log"
)

const sendBuffer = 256

// ErrNotConnected means a frame was submitted while the channel is not
// in the Connected state. The delivery coordinator queues on this.
var ErrNotConnected = errors.New("transport not connected")

// ErrSendBufferFull means the write pump is not draining fast enough.
var ErrSendBufferFull = errors.New("transport send buffer full")

// Client is the realtime channel for one room. All outbound actions go
// through its typed Send; no other component writes to the socket.
type Client struct {
	roomID  string
	url     string
	cfg     config.WebSocketConfig
	token   func() string
	onEvent func(roomID string, ev domain.Event)
	onState func(roomID string, st State, err error)

	mu     sync.Mutex
	state  State
	conn   *websocket.Conn
	send   chan []byte
	cancel context.CancelFunc
}

// NewClient builds a transport for one room. url is the fully-formed
// websocket endpoint; token supplies the current session token at dial
// time so a refreshed token is picked up on reconnect.
func NewClient(
	roomID, url string,
	cfg config.WebSocketConfig,
	token func() string,
	onEvent func(roomID string, ev domain.Event),
	onState func(roomID string, st State, err error),
) *Client {
	return &Client{
		roomID:  roomID,
		url:     url,
		cfg:     cfg,
		token:   token,
		onEvent: onEvent,
		onState: onState,
	}
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Open starts the connection loop. Only valid from Disconnected.
func (c *Client) Open() {
	c.mu.Lock()
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.state = StateConnecting
	c.mu.Unlock()

	c.emit(StateConnecting, nil)
	go c.run(ctx)
}

// Close tears the channel down: pending reconnect timers are discarded
// and the socket closes with a normal-closure code, regardless of the
// current state.
func (c *Client) Close() {
	c.mu.Lock()
	cancel := c.cancel
	conn := c.conn
	c.cancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		deadline := time.Now().Add(c.cfg.WriteWait)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "room closed")
		_ = conn.WriteControl(websocket.CloseMessage, msg, deadline)
		conn.Close()
	}
	c.setState(StateDisconnected, nil)
}

// Send marshals a frame and hands it to the write pump. Fails with
// ErrNotConnected unless the channel is Connected. Acceptance is not
// delivery: frames still buffered when the connection drops are
// discarded with it, and the post-reconnect history refetch is what
// reconciles the gap.
func (c *Client) Send(frame interface{}) error {
	c.mu.Lock()
	send := c.send
	connected := c.state == StateConnected
	c.mu.Unlock()

	if !connected || send == nil {
		return ErrNotConnected
	}

	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}

	select {
	case send <- data:
		return nil
	default:
		return ErrSendBufferFull
	}
}

func (c *Client) run(ctx context.Context) {
	l := log.With("transport").With().Str(log.FieldRoomID, c.roomID).Logger()
	attempt := 0

	for {
		if ctx.Err() != nil {
			c.setState(StateDisconnected, nil)
			return
		}

		conn, err := c.dial(ctx)
		if err != nil {
			attempt++
			if attempt >= c.cfg.MaxReconnectAttempts {
				l.Error().Err(err).Int(log.FieldAttempt, attempt).Msg("retry budget exhausted")
				c.setState(StateDisconnected, &domain.ConnectionError{
					RoomID:   c.roomID,
					Attempts: attempt,
					Err:      err,
				})
				return
			}
			delay := c.cfg.ReconnectBase << (attempt - 1)
			l.Warn().Err(err).Int(log.FieldAttempt, attempt).Dur("retry_in", delay).Msg("dial failed")
			c.setState(StateReconnecting, nil)
			select {
			case <-ctx.Done():
				c.setState(StateDisconnected, nil)
				return
			case <-time.After(delay):
			}
			continue
		}

		attempt = 0
		send := make(chan []byte, sendBuffer)
		c.mu.Lock()
		c.conn = conn
		c.send = send
		c.mu.Unlock()
		c.setState(StateConnected, nil)
		l.Info().Str(log.FieldURL, c.url).Msg("connected")

		connCtx, connCancel := context.WithCancel(ctx)
		go c.writePump(connCtx, conn, send)
		c.readPump(conn, l)
		connCancel()
		conn.Close()

		c.mu.Lock()
		c.conn = nil
		c.send = nil
		c.mu.Unlock()

		if ctx.Err() != nil {
			c.setState(StateDisconnected, nil)
			return
		}

		l.Info().Msg("connection dropped")
		c.setState(StateReconnecting, nil)
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.HandshakeTimeout}

	// The backend authenticates the websocket handshake from the
	// session cookie.
	header := http.Header{}
	if tok := c.token(); tok != "" {
		header.Set("Cookie", "access_token="+tok)
	}

	conn, resp, err := dialer.DialContext(ctx, c.url, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func (c *Client) readPump(conn *websocket.Conn, l zerolog.Logger) {
	conn.SetReadLimit(c.cfg.MaxMessageSize)
	conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				l.Warn().Err(err).Msg("read error")
			}
			return
		}

		ev, err := domain.ParseFrame(data)
		if err != nil {
			// Malformed frames are dropped; the stream keeps going.
			l.Warn().Err(err).Msg("dropping malformed frame")
			continue
		}
		if ev == nil {
			l.Debug().Msg("dropping unrecognized frame type")
			continue
		}
		c.onEvent(c.roomID, ev)
	}
}

func (c *Client) writePump(ctx context.Context, conn *websocket.Conn, send <-chan []byte) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case message := <-send:
			conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// setState records a transition and notifies when it changed.
func (c *Client) setState(st State, err error) {
	c.mu.Lock()
	if c.state == st && err == nil {
		c.mu.Unlock()
		return
	}
	c.state = st
	c.mu.Unlock()
	c.emit(st, err)
}

func (c *Client) emit(st State, err error) {
	if c.onState != nil {
		c.onState(c.roomID, st, err)
	}
}
