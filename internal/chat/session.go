package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/uznikturbo/service/internal/auth"
	"github.com/uznikturbo/service/internal/channel"
	"github.com/uznikturbo/service/pkg/protocol"
)

// ErrNotPermitted is returned by Open when the viewer may not join the
// ticket's chat. The channel is never dialed in that case.
var ErrNotPermitted = errors.New("chat: not permitted")

// LogFetcher fetches a ticket's full chat log. Satisfied by the API
// client.
type LogFetcher interface {
	ChatLog(ctx context.Context, ticketID int) ([]protocol.ChatMessage, error)
}

// CanChat reports whether the user may join the ticket's chat: only
// the ticket's creator and its assigned admin, and only once an admin
// has taken the ticket. This is a UX guard; the backend enforces the
// same rule on the handshake and closes with a policy violation when
// it disagrees.
func CanChat(t protocol.Ticket, u protocol.User) bool {
	if !t.Assigned() {
		return false
	}
	return u.ID == t.UserID || u.ID == *t.AdminID
}

// Config parameterizes a Session.
type Config struct {
	// WSBaseURL is the websocket origin, e.g. "wss://desk.example.com".
	WSBaseURL string

	// Store supplies the access token for each connect attempt.
	Store auth.Store

	// Log fetches the full message history. The backend delivers
	// frames at-least-once with no sequence numbers, so the log is
	// rebuilt from a full fetch on every (re)connect rather than
	// assuming no frames were missed while disconnected.
	Log LogFetcher

	// OnMessage, when set, observes each appended message.
	OnMessage func(protocol.ChatMessage)

	BaseDelay   time.Duration
	MaxAttempts int
	Dialer      *websocket.Dialer
	Logger      *slog.Logger
}

// Session is one user's live chat on one ticket: an ordered message
// log fed by a self-healing websocket. One instance per open ticket
// view; Close releases the socket and timers, and a closed session is
// not reused.
type Session struct {
	cfg    Config
	ticket protocol.Ticket
	cancel context.CancelFunc
	runCtx context.Context
	ch     *channel.Channel
	done   chan struct{}

	mu   sync.Mutex
	msgs []protocol.ChatMessage
}

// Open authorizes the viewer and starts the chat channel. The session
// lives until Close is called or ctx is cancelled.
func Open(ctx context.Context, cfg Config, ticket protocol.Ticket, viewer protocol.User) (*Session, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if !CanChat(ticket, viewer) {
		return nil, fmt.Errorf("%w: ticket %d", ErrNotPermitted, ticket.ID)
	}

	runCtx, cancel := context.WithCancel(ctx)
	s := &Session{
		cfg:    cfg,
		ticket: ticket,
		cancel: cancel,
		runCtx: runCtx,
		done:   make(chan struct{}),
	}
	s.ch = channel.New(channel.Config{
		URL:         s.buildURL,
		OnFrame:     s.handleFrame,
		OnState:     s.handleState,
		BaseDelay:   cfg.BaseDelay,
		MaxAttempts: cfg.MaxAttempts,
		Dialer:      cfg.Dialer,
		Logger:      cfg.Logger.With("channel", "chat", "ticket", ticket.ID),
	})

	go func() {
		defer close(s.done)
		s.ch.Run(runCtx)
	}()

	return s, nil
}

// Send publishes a message over the open socket. Fire-and-forget:
// when the socket is not open the message is silently dropped, so
// callers should disable the send affordance unless State is Open.
func (s *Session) Send(text string) {
	err := s.ch.Send(protocol.ChatSend{Message: text})
	if errors.Is(err, channel.ErrNotOpen) {
		s.cfg.Logger.Debug("chat send dropped, channel not open", "ticket", s.ticket.ID)
		return
	}
	if err != nil {
		s.cfg.Logger.Warn("chat send failed", "ticket", s.ticket.ID, "error", err)
	}
}

// Messages returns a copy of the log in arrival order.
func (s *Session) Messages() []protocol.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]protocol.ChatMessage, len(s.msgs))
	copy(out, s.msgs)
	return out
}

// State exposes the underlying channel state.
func (s *Session) State() (channel.State, int) {
	return s.ch.State()
}

// Close tears the session down: socket, backoff timer, goroutine.
// Blocks until the channel loop has exited.
func (s *Session) Close() {
	s.cancel()
	<-s.done
}

func (s *Session) buildURL() (string, error) {
	creds, ok := s.cfg.Store.Get()
	if !ok || creds.AccessToken == "" {
		return "", fmt.Errorf("chat: no access token")
	}
	return fmt.Sprintf("%s/ws/problems/%d/chat?token=%s",
		s.cfg.WSBaseURL, s.ticket.ID, url.QueryEscape(creds.AccessToken)), nil
}

// handleState resynchronizes the log from a full fetch every time the
// channel (re)opens. Dropped frames during a disconnect window cannot
// be detected otherwise, since the backend provides no sequence
// numbers.
func (s *Session) handleState(state channel.State, _ int) {
	if state != channel.Open {
		return
	}

	msgs, err := s.cfg.Log.ChatLog(s.runCtx, s.ticket.ID)
	if err != nil {
		s.cfg.Logger.Warn("chat resync failed", "ticket", s.ticket.ID, "error", err)
		return
	}

	s.mu.Lock()
	s.msgs = msgs
	s.mu.Unlock()
	s.cfg.Logger.Debug("chat resynced", "ticket", s.ticket.ID, "messages", len(msgs))
}

func (s *Session) handleFrame(data []byte) {
	var msg protocol.ChatMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.cfg.Logger.Warn("dropping bad chat frame", "ticket", s.ticket.ID, "error", err)
		return
	}

	s.mu.Lock()
	s.msgs = append(s.msgs, msg)
	s.mu.Unlock()

	if s.cfg.OnMessage != nil {
		s.cfg.OnMessage(msg)
	}
}
