package client

import (
	"errors"
	"fmt"
	"time"
)

// ErrAuthExpired means the session could not be recovered: either the
// refresh exchange failed, or a replayed request was still
// unauthorized. Credentials are already cleared when this is returned;
// the caller should send the user to the login screen.
var ErrAuthExpired = errors.New("client: authentication expired")

// RateLimitError reports a 429 from the backend. The request is never
// retried automatically; RetryAfter tells the caller how long the
// backend asked it to wait.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("client: rate limited, retry after %s", e.RetryAfter)
}

// APIError is any other non-2xx response, carrying the backend's
// human-readable message when one was present.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("client: api error (status %d): %s", e.StatusCode, e.Message)
}
