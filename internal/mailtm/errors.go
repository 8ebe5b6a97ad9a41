package mailtm

import (
	"errors"
	"fmt"
)

var (
	// ErrRateLimited means the provider answered 429 and retries ran out.
	ErrRateLimited = errors.New("rate limited by provider")

	// ErrUsernameConflict means account creation was rejected by provider
	// validation, usually because the address is taken.
	ErrUsernameConflict = errors.New("username conflict")

	// ErrNoDomainsAvailable means the provider lists no active domains.
	ErrNoDomainsAvailable = errors.New("no active domains available")

	// ErrAuthFailed means the provider refused to issue a token.
	ErrAuthFailed = errors.New("authentication failed")

	// ErrUnauthorized means a bearer token was rejected (expired or revoked).
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNotFound is matched by *NotFoundError.
	ErrNotFound = errors.New("not found")
)

// NotFoundError indicates a 404 response.
type NotFoundError struct {
	Path string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("not found: %s", e.Path)
}

// Is reports whether target is ErrNotFound.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// APIError is a non-2xx provider response. Kind, when set, is the
// sentinel the status maps to.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
	Kind       error
}

func (e *APIError) Error() string {
	body := e.Body
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	if e.Kind != nil {
		return fmt.Sprintf("%s %s: %v (%d): %s", e.Method, e.Path, e.Kind, e.StatusCode, body)
	}
	return fmt.Sprintf("%s %s: request failed (%d): %s", e.Method, e.Path, e.StatusCode, body)
}

func (e *APIError) Unwrap() error {
	return e.Kind
}

// statusOf returns the HTTP status carried by err, or 0.
func statusOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}
