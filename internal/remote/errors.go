package remote

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailTaken         = errors.New("an account with this email already exists")
	ErrInvalidResponse    = errors.New("invalid response from data service")
	// ErrUnavailable is returned while the circuit breaker is open.
	ErrUnavailable = errors.New("data service unavailable")
)

// APIError is a response the service produced but that does not carry the
// requested data: a non-2xx status or a body reporting failure.
type APIError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: data service returned status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: data service returned status %d: %s", e.Op, e.StatusCode, e.Message)
}

// Temporary reports whether retrying the same request may succeed.
func (e *APIError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == 429
}

// IsTemporary reports whether err is worth retrying later: transport
// failures, an open breaker and 5xx/429 responses. Domain rejections are not.
func IsTemporary(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrInvalidCredentials) || errors.Is(err, ErrEmailTaken) || errors.Is(err, ErrInvalidResponse) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}
	return true
}
