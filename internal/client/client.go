package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/uznikturbo/service/internal/auth"
	"github.com/uznikturbo/service/internal/events"
)

// DefaultRetryAfter is assumed when a 429 response carries no
// Retry-After hint.
const DefaultRetryAfter = 60 * time.Second

// Client is the authenticated request pipeline to the service-desk
// backend. It injects the current access token, transparently recovers
// from token expiry via the refresh coordinator (one refresh, one
// replay), and maps backend failures onto the typed errors in this
// package. The pipeline itself is stateless; all credential mutation
// happens in the auth store.
type Client struct {
	http      *http.Client
	baseURL   string
	store     auth.Store
	refresher *auth.Coordinator
	bus       *events.Bus
	logger    *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

// New creates a client for the given backend base URL. bus may be nil
// when no advisory consumer exists.
func New(baseURL string, store auth.Store, refresher *auth.Coordinator, bus *events.Bus, logger *slog.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		http:      &http.Client{Timeout: 30 * time.Second},
		baseURL:   baseURL,
		store:     store,
		refresher: refresher,
		bus:       bus,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// do issues one logical request. body is JSON-marshaled when non-nil;
// a 2xx response is decoded into out when out is non-nil.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("client: marshal %s %s: %w", method, path, err)
		}
	}

	requestID := uuid.NewString()

	resp, respBody, err := c.send(ctx, method, path, payload, requestID)
	if err != nil {
		return err
	}

	if resp.StatusCode == http.StatusUnauthorized {
		creds, ok := c.store.Get()
		if !ok || creds.RefreshToken == "" {
			return ErrAuthExpired
		}

		if _, err := c.refresher.Refresh(ctx); err != nil {
			// The coordinator already cleared the credentials.
			return fmt.Errorf("%w: %v", ErrAuthExpired, err)
		}

		// Replay the original request exactly once with the fresh
		// token. A second 401 means the new token is no good either;
		// give up and force re-authentication.
		resp, respBody, err = c.send(ctx, method, path, payload, requestID)
		if err != nil {
			return err
		}
		if resp.StatusCode == http.StatusUnauthorized {
			c.store.Clear()
			if c.bus != nil {
				c.bus.Publish(events.Event{
					Kind:    events.KindAuthExpired,
					Message: "session expired, please log in again",
				})
			}
			return ErrAuthExpired
		}
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter := parseRetryAfter(resp)
		c.logger.Warn("rate limited", "method", method, "path", path, "retry_after", retryAfter)
		if c.bus != nil {
			c.bus.Publish(events.Event{
				Kind:       events.KindRateLimited,
				Message:    "too many requests, please slow down",
				RetryAfter: retryAfter,
			})
		}
		return &RateLimitError{RetryAfter: retryAfter}

	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    errorMessage(respBody),
		}
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("client: decode %s %s: %w", method, path, err)
		}
	}
	return nil
}

// send performs one HTTP round trip, rebuilding headers from the
// current credentials each time so a replay after refresh picks up the
// new access token.
func (c *Client) send(ctx context.Context, method, path string, payload []byte, requestID string) (*http.Response, []byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, nil, fmt.Errorf("client: create request %s %s: %w", method, path, err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Request-ID", requestID)
	if creds, ok := c.store.Get(); ok && creds.AccessToken != "" {
		req.Header.Set("Authorization", "Bearer "+creds.AccessToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("client: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("client: read response %s %s: %w", method, path, err)
	}
	return resp, body, nil
}

// parseRetryAfter reads the Retry-After hint in seconds, falling back
// to DefaultRetryAfter when absent or unparseable.
func parseRetryAfter(resp *http.Response) time.Duration {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return DefaultRetryAfter
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return DefaultRetryAfter
	}
	return time.Duration(secs) * time.Second
}

// errorMessage extracts the backend's error message from a response
// body. The backend wraps messages as {"detail": "..."}.
func errorMessage(body []byte) string {
	var detail struct {
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(body, &detail); err == nil && detail.Detail != "" {
		return detail.Detail
	}
	return "unexpected server error"
}
