package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"github.com/uznikturbo/service/internal/auth"
	"github.com/uznikturbo/service/internal/channel"
	"github.com/uznikturbo/service/internal/collection"
	"github.com/uznikturbo/service/pkg/protocol"
)

// Config parameterizes a Router.
type Config struct {
	// WSBaseURL is the websocket origin, e.g. "wss://desk.example.com".
	WSBaseURL string

	// Store supplies the access token. Read on every connect attempt
	// so a reconnect after refresh uses the current token.
	Store auth.Store

	// Viewer returns the authenticated user, or ok=false when the
	// identity is not known yet. Events arriving without a viewer are
	// dropped.
	Viewer func() (protocol.User, bool)

	// Tickets is the shared collection pushed events are merged into.
	Tickets *collection.Tickets

	BaseDelay   time.Duration
	MaxAttempts int
	Dialer      *websocket.Dialer
	Logger      *slog.Logger
}

// Router consumes the shared notification feed and merges pushed
// ticket mutations into the in-memory collection. Creation events
// insert only when the id is absent, so a push raced against a local
// optimistic create cannot regress confirmed state. Update events
// replace only tickets already in the visible set. Event types this
// client does not know are ignored.
type Router struct {
	cfg Config
	ch  *channel.Channel
}

// New creates a router. Run must be called to start it.
func New(cfg Config) *Router {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	r := &Router{cfg: cfg}
	r.ch = channel.New(channel.Config{
		URL:         r.buildURL,
		OnFrame:     r.handleFrame,
		BaseDelay:   cfg.BaseDelay,
		MaxAttempts: cfg.MaxAttempts,
		Dialer:      cfg.Dialer,
		Logger:      cfg.Logger.With("channel", "notifications"),
	})
	return r
}

// Run drives the underlying channel until the context is cancelled or
// the channel reaches a terminal state.
func (r *Router) Run(ctx context.Context) error {
	return r.ch.Run(ctx)
}

// State exposes the underlying channel state.
func (r *Router) State() (channel.State, int) {
	return r.ch.State()
}

func (r *Router) buildURL() (string, error) {
	creds, ok := r.cfg.Store.Get()
	if !ok || creds.AccessToken == "" {
		return "", fmt.Errorf("notify: no access token")
	}
	return fmt.Sprintf("%s/ws/problems?token=%s", r.cfg.WSBaseURL, url.QueryEscape(creds.AccessToken)), nil
}

func (r *Router) handleFrame(data []byte) {
	ev, err := protocol.ParseEvent(data)
	if err != nil {
		r.cfg.Logger.Warn("dropping bad notification frame", "error", err)
		return
	}
	if ev.Kind == protocol.EventUnknown {
		r.cfg.Logger.Debug("ignoring unknown notification type")
		return
	}

	viewer, ok := r.cfg.Viewer()
	if !ok {
		r.cfg.Logger.Warn("notification dropped, no authenticated viewer")
		return
	}
	if !ev.Ticket.VisibleTo(viewer) {
		return
	}

	switch ev.Kind {
	case protocol.EventNewTicket:
		if r.cfg.Tickets.Insert(ev.Ticket) {
			r.cfg.Logger.Debug("ticket inserted from push", "ticket", ev.Ticket.ID)
		}
	case protocol.EventUpdateTicket:
		if _, exists := r.cfg.Tickets.Get(ev.Ticket.ID); !exists {
			return
		}
		r.cfg.Tickets.Upsert(ev.Ticket)
		r.cfg.Logger.Debug("ticket updated from push", "ticket", ev.Ticket.ID)
	}
}
