package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/uznikturbo/service/internal/events"
	"github.com/uznikturbo/service/pkg/protocol"
)

// ErrRefreshRejected means the backend refused the refresh token. The
// session is gone: credentials have been cleared and the user must log
// in again.
var ErrRefreshRejected = errors.New("auth: refresh rejected")

// Coordinator performs the token refresh exchange, guaranteeing at
// most one in-flight refresh system-wide. Concurrent callers join the
// running refresh and all receive its result; a boolean "is
// refreshing" flag cannot provide this, because two callers could both
// observe the flag unset and each start a refresh, the second
// invalidating the first's new token.
type Coordinator struct {
	store   Store
	baseURL string
	client  *http.Client
	bus     *events.Bus
	logger  *slog.Logger
	group   singleflight.Group
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithHTTPClient replaces the HTTP client used for the refresh call.
func WithHTTPClient(c *http.Client) CoordinatorOption {
	return func(co *Coordinator) { co.client = c }
}

// NewCoordinator creates a refresh coordinator. bus may be nil when no
// advisory consumer exists (tests).
func NewCoordinator(store Store, baseURL string, bus *events.Bus, logger *slog.Logger, opts ...CoordinatorOption) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Coordinator{
		store:   store,
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
		bus:     bus,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Refresh exchanges the stored refresh token for a new credential
// pair. All concurrent callers share one network call and one result.
// On success the store holds the new pair. On any failure the store is
// cleared (exactly once, inside the shared call) and ErrRefreshRejected
// is returned to every waiter.
func (c *Coordinator) Refresh(ctx context.Context) (protocol.Credentials, error) {
	v, err, _ := c.group.Do("refresh", func() (any, error) {
		return c.doRefresh(ctx)
	})
	if err != nil {
		return protocol.Credentials{}, err
	}
	return v.(protocol.Credentials), nil
}

func (c *Coordinator) doRefresh(ctx context.Context) (protocol.Credentials, error) {
	creds, ok := c.store.Get()
	if !ok || creds.RefreshToken == "" {
		return protocol.Credentials{}, fmt.Errorf("%w: no refresh token", ErrRefreshRejected)
	}

	payload, err := json.Marshal(map[string]string{"refresh_token": creds.RefreshToken})
	if err != nil {
		return protocol.Credentials{}, fmt.Errorf("auth: marshal refresh: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth/refresh", bytes.NewReader(payload))
	if err != nil {
		return protocol.Credentials{}, fmt.Errorf("auth: create refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		c.expire()
		return protocol.Credentials{}, fmt.Errorf("%w: %v", ErrRefreshRejected, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.expire()
		return protocol.Credentials{}, fmt.Errorf("%w: read response: %v", ErrRefreshRejected, err)
	}

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("refresh rejected by backend", "status", resp.StatusCode)
		c.expire()
		return protocol.Credentials{}, fmt.Errorf("%w: status %d", ErrRefreshRejected, resp.StatusCode)
	}

	var tr protocol.TokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		c.expire()
		return protocol.Credentials{}, fmt.Errorf("%w: parse response: %v", ErrRefreshRejected, err)
	}

	next := protocol.Credentials{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
	}
	// The backend may rotate only the access token.
	if next.RefreshToken == "" {
		next.RefreshToken = creds.RefreshToken
	}

	c.store.Set(next)
	c.logger.Debug("credentials refreshed")
	return next, nil
}

// expire clears the session and tells the rest of the process that
// re-authentication is required.
func (c *Coordinator) expire() {
	c.store.Clear()
	if c.bus != nil {
		c.bus.Publish(events.Event{
			Kind:    events.KindAuthExpired,
			Message: "session expired, please log in again",
		})
	}
}
