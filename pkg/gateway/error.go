package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	// ErrUnknownProvider is returned for names missing from the registry.
	ErrUnknownProvider   = errors.New("unknown provider")
	// ErrMissingCredential is returned when the provider's env var is empty.
	ErrMissingCredential = errors.New("missing credential")
	// ErrTimeout marks a call that hit its deadline.
	ErrTimeout           = errors.New("provider call timed out")
)

// StatusError is a non-success HTTP response from a provider.
type StatusError struct {
	Provider string
	Status   int
	Body     string
}

func (e *StatusError) Error() string {
	if e == nil {
		return "provider error"
	}
	return fmt.Sprintf("%s API returned status %d: %s", e.Provider, e.Status, e.Body)
}

// IsTransient reports whether an error is safe to retry.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrUnknownProvider) || errors.Is(err, ErrMissingCredential) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		if statusErr.Status == 429 || (statusErr.Status >= 500 && statusErr.Status <= 599) {
			return true
		}
	}
	return false
}
