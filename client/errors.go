package client

import (
	"context"
	"errors"
	"fmt"

	"land-collector/models"
)

var errRejectedTwice = errors.New("token rejected again after refresh")

// AuthError means a token could not be issued or was rejected twice.
type AuthError struct {
	Op  string
	Err error
}

func (e *AuthError) Error() string {
	if e.Err == nil {
		return "auth: " + e.Op
	}
	return fmt.Sprintf("auth: %s: %v", e.Op, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// RateLimitExhausted means the backoff budget for HTTP 429 ran out.
type RateLimitExhausted struct {
	Endpoint string
	Attempts int
}

func (e *RateLimitExhausted) Error() string {
	return fmt.Sprintf("rate limit exhausted for %s after %d attempts", e.Endpoint, e.Attempts)
}

// TransportError wraps a network failure or an unexpected HTTP status.
// Status is zero for network failures.
type TransportError struct {
	Endpoint string
	Status   int
	Err      error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("transport: %s: unexpected status %d", e.Endpoint, e.Status)
	}
	return fmt.Sprintf("transport: %s: %v", e.Endpoint, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// KindOf maps an error returned by the client to the kind recorded on an
// absent section.
func KindOf(err error) models.ErrorKind {
	var (
		authErr *AuthError
		rateErr *RateLimitExhausted
	)
	switch {
	case err == nil:
		return models.KindNone
	case errors.As(err, &authErr):
		return models.KindAuth
	case errors.As(err, &rateErr):
		return models.KindRateLimit
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return models.KindCancelled
	default:
		return models.KindTransport
	}
}
