package apiclient

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for API calls.
var (
	ErrNeedsReauth    = errors.New("apiclient: re-authentication required")
	ErrConnection     = errors.New("apiclient: connection error")
	ErrStatus         = errors.New("apiclient: unexpected status")
	ErrMissingBaseURL = errors.New("apiclient: base URL is required")
)

// Outcome classifies an error response.
type Outcome string

const (
	OutcomeNeedsReauth Outcome = "needs_reauth"
	OutcomeForbidden   Outcome = "forbidden"
	OutcomeNotFound    Outcome = "not_found"
	OutcomeServerError Outcome = "server_error"
	OutcomeFailed      Outcome = "failed"
)

// OutcomeFor maps a status code to its Outcome.
func OutcomeFor(status int) Outcome {
	switch status {
	case http.StatusUnauthorized:
		return OutcomeNeedsReauth
	case http.StatusForbidden:
		return OutcomeForbidden
	case http.StatusNotFound:
		return OutcomeNotFound
	case http.StatusInternalServerError:
		return OutcomeServerError
	default:
		return OutcomeFailed
	}
}

// StatusError is returned for responses outside 2xx.
type StatusError struct {
	Outcome    Outcome
	StatusCode int
	Message    string
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("apiclient: %s", e.Message)
}

// Is matches ErrStatus, and ErrNeedsReauth for 401 responses.
func (e *StatusError) Is(target error) bool {
	switch target {
	case ErrStatus:
		return true
	case ErrNeedsReauth:
		return e.Outcome == OutcomeNeedsReauth
	}
	return false
}

func newStatusError(status int, body []byte) *StatusError {
	return &StatusError{
		Outcome:    OutcomeFor(status),
		StatusCode: status,
		Message:    fmt.Sprintf("request failed with status code %d", status),
		Body:       body,
	}
}
