package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// State is the lifecycle state of a Channel.
type State int

const (
	// Idle: created, Run not yet called.
	Idle State = iota
	// Connecting: a dial attempt is in flight.
	Connecting
	// Open: connected, frames flowing.
	Open
	// Backoff: disconnected, waiting before the next attempt.
	Backoff
	// GivenUp: reconnect attempts exhausted. Terminal; a fresh
	// Channel instance is needed to try again.
	GivenUp
	// ClosedByPolicy: the server rejected the connection as
	// unauthorized. Terminal, never retried.
	ClosedByPolicy
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Backoff:
		return "backoff"
	case GivenUp:
		return "given_up"
	case ClosedByPolicy:
		return "closed_by_policy"
	default:
		return "unknown"
	}
}

// ErrNotOpen is returned by Send when the channel has no open socket.
var ErrNotOpen = errors.New("channel: not open")

const (
	// DefaultBaseDelay is the backoff unit: the n-th consecutive
	// failure waits n * base before redialing.
	DefaultBaseDelay = 2 * time.Second
	// DefaultMaxAttempts bounds consecutive reconnect attempts before
	// the channel gives up.
	DefaultMaxAttempts = 5

	pingInterval = 30 * time.Second
	pongWait     = 90 * time.Second
	writeWait    = 10 * time.Second
)

// Config parameterizes a Channel. The same machine drives both the
// notification feed and per-ticket chat; only the URL builder, frame
// handler, and hooks differ.
type Config struct {
	// URL builds the endpoint for each dial attempt. Called on every
	// entry to Connecting so a reconnect picks up the current access
	// token instead of keeping a zombie connection on a stale one.
	URL func() (string, error)

	// OnFrame receives each inbound frame that is valid JSON. Frames
	// that fail to parse are logged and dropped before this is called.
	OnFrame func(data []byte)

	// OnState, when set, observes every state transition. attempt is
	// the consecutive failure count (meaningful in Backoff).
	OnState func(s State, attempt int)

	// BaseDelay and MaxAttempts tune the backoff ladder. Zero values
	// use the defaults.
	BaseDelay   time.Duration
	MaxAttempts int

	Dialer *websocket.Dialer
	Logger *slog.Logger
}

// Channel maintains one self-healing websocket connection: dial,
// classify close reasons, back off linearly, retry, give up. A policy
// rejection (close code 1008, or 401/403 on the handshake) is
// terminal. The channel's lifetime is bound to the context passed to
// Run: cancellation closes the socket and any pending backoff timer on
// every exit path.
type Channel struct {
	cfg Config

	mu      sync.Mutex
	state   State
	attempt int
	conn    *websocket.Conn
}

// New creates a channel in the Idle state.
func New(cfg Config) *Channel {
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultBaseDelay
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Dialer == nil {
		cfg.Dialer = &websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Channel{cfg: cfg, state: Idle}
}

// State returns the current state and consecutive failure count.
func (c *Channel) State() (State, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state, c.attempt
}

// Delay returns the wait before the n-th consecutive retry.
func (c *Channel) Delay(n int) time.Duration {
	return c.cfg.BaseDelay * time.Duration(n)
}

// Run drives the connection until the context is cancelled or the
// channel reaches a terminal state. It blocks; callers usually run it
// in its own goroutine.
func (c *Channel) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		c.setState(Connecting)

		conn, policyReject, err := c.dial(ctx)
		if err != nil {
			if policyReject {
				c.cfg.Logger.Warn("connection rejected by policy", "error", err)
				c.setState(ClosedByPolicy)
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.cfg.Logger.Warn("connect failed", "error", err)
			if done := c.backoff(ctx); done {
				return ctx.Err()
			}
			if s, _ := c.State(); s == GivenUp {
				return nil
			}
			continue
		}

		c.mu.Lock()
		c.conn = conn
		c.attempt = 0
		c.mu.Unlock()
		c.setState(Open)

		readErr := c.readLoop(ctx, conn)

		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if isPolicyClose(readErr) {
			c.cfg.Logger.Warn("connection closed by policy", "error", readErr)
			c.setState(ClosedByPolicy)
			return nil
		}
		c.cfg.Logger.Info("connection lost, reconnecting", "error", readErr)
		if done := c.backoff(ctx); done {
			return ctx.Err()
		}
		if s, _ := c.State(); s == GivenUp {
			return nil
		}
	}
}

// dial builds the URL and attempts one websocket handshake.
// policyReject is true when the server refused the handshake as
// unauthorized, which must not be retried.
func (c *Channel) dial(ctx context.Context) (conn *websocket.Conn, policyReject bool, err error) {
	url, err := c.cfg.URL()
	if err != nil {
		return nil, false, fmt.Errorf("channel: build url: %w", err)
	}

	conn, resp, err := c.cfg.Dialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, true, fmt.Errorf("channel: handshake rejected (status %d)", resp.StatusCode)
		}
		return nil, false, fmt.Errorf("channel: dial: %w", err)
	}
	return conn, false, nil
}

// readLoop consumes frames until the connection breaks. A background
// pinger keeps the connection alive; the pong handler extends the read
// deadline.
func (c *Channel) readLoop(ctx context.Context, conn *websocket.Conn) error {
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	pingDone := make(chan struct{})
	defer close(pingDone)
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-pingDone:
				return
			case <-ctx.Done():
				// Owner teardown: close the socket so ReadMessage
				// unblocks immediately instead of waiting for the
				// read deadline.
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
					time.Now().Add(writeWait))
				conn.Close()
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if !json.Valid(data) {
			c.cfg.Logger.Warn("dropping malformed frame", "size", len(data))
			continue
		}
		if c.cfg.OnFrame != nil {
			c.cfg.OnFrame(data)
		}
	}
}

// backoff increments the failure count and waits the linear delay, or
// transitions to GivenUp when the attempt budget is spent. Returns
// true when the context was cancelled during the wait.
func (c *Channel) backoff(ctx context.Context) (cancelled bool) {
	c.mu.Lock()
	c.attempt++
	attempt := c.attempt
	c.mu.Unlock()

	if attempt > c.cfg.MaxAttempts {
		c.setState(GivenUp)
		return false
	}

	c.setState(Backoff)

	timer := time.NewTimer(c.Delay(attempt))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return true
	case <-timer.C:
		return false
	}
}

// Send marshals v and writes it as a text frame. Fails with ErrNotOpen
// when no socket is open; the caller decides whether that is silent.
func (c *Channel) Send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("channel: marshal frame: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Open || c.conn == nil {
		return ErrNotOpen
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("channel: write frame: %w", err)
	}
	return nil
}

func (c *Channel) setState(s State) {
	c.mu.Lock()
	c.state = s
	attempt := c.attempt
	c.mu.Unlock()

	if c.cfg.OnState != nil {
		c.cfg.OnState(s, attempt)
	}
}

// isPolicyClose reports whether the peer closed with the
// authorization-rejection code.
func isPolicyClose(err error) bool {
	var closeErr *websocket.CloseError
	return errors.As(err, &closeErr) && closeErr.Code == websocket.ClosePolicyViolation
}
