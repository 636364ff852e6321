// Package scanerr classifies scan failures into user-facing categories and
// defines the error types raised along the scan pipeline.
package scanerr

import (
	"context"
	"errors"
	"net"
	"strings"
)

// Category groups failures by what the user can do about them.
type Category int

const (
	// CategoryUnknown is anything not recognized. The raw message is kept.
	CategoryUnknown Category = iota
	// CategoryTransientServer is an upstream outage (502, 503, 504).
	CategoryTransientServer
	// CategoryConnectivity is a network or timeout failure on the client side.
	CategoryConnectivity
	// CategoryRateLimited is a 429 from the backend.
	CategoryRateLimited
	// CategorySessionExpired is a 401 or 403.
	CategorySessionExpired
)

func (c Category) String() string {
	switch c {
	case CategoryTransientServer:
		return "transient_server"
	case CategoryConnectivity:
		return "connectivity"
	case CategoryRateLimited:
		return "rate_limited"
	case CategorySessionExpired:
		return "session_expired"
	default:
		return "unknown"
	}
}

// Retryable reports whether polling should keep going after this category.
func (c Category) Retryable() bool {
	switch c {
	case CategoryTransientServer, CategoryConnectivity, CategoryRateLimited:
		return true
	default:
		return false
	}
}

// UserFacingError is a classified failure with an actionable message.
type UserFacingError struct {
	Category Category
	Message  string
	Action   string
	// Detail is the raw message the classification was derived from.
	Detail string
}

func (e *UserFacingError) Error() string {
	return e.Message
}

// StatusCoder is implemented by errors that carry an HTTP status code.
type StatusCoder interface {
	HTTPStatus() int
}

var connectivityMarkers = []string{
	"connection",
	"network",
	"timeout",
	"timed out",
	"deadline exceeded",
	"dial",
	"no such host",
	"unreachable",
	"eof",
}

// Classify maps an HTTP status (0 when there is none) and a raw message to a
// UserFacingError. It is a total function.
func Classify(status int, raw string) *UserFacingError {
	switch status {
	case 502, 503, 504:
		return &UserFacingError{
			Category: CategoryTransientServer,
			Message:  "The analysis service is temporarily unavailable",
			Action:   "Please try again in a moment",
			Detail:   raw,
		}
	case 429:
		return &UserFacingError{
			Category: CategoryRateLimited,
			Message:  "Too many scans in a short time",
			Action:   "Please wait a minute before scanning again",
			Detail:   raw,
		}
	case 401, 403:
		return &UserFacingError{
			Category: CategorySessionExpired,
			Message:  "Your session has expired",
			Action:   "Please sign in again",
			Detail:   raw,
		}
	}

	lower := strings.ToLower(raw)
	for _, marker := range connectivityMarkers {
		if strings.Contains(lower, marker) {
			return &UserFacingError{
				Category: CategoryConnectivity,
				Message:  "Could not reach the analysis service",
				Action:   "Check your internet connection and try again",
				Detail:   raw,
			}
		}
	}

	msg := strings.TrimSpace(raw)
	if msg == "" {
		msg = "unknown error"
	}
	return &UserFacingError{
		Category: CategoryUnknown,
		Message:  msg,
		Action:   "Please try again",
		Detail:   raw,
	}
}

// ClassifyError classifies an arbitrary error. A nil error is classified as
// unknown. An existing *UserFacingError in the chain is returned unchanged.
func ClassifyError(err error) *UserFacingError {
	if err == nil {
		return Classify(0, "")
	}

	var ufe *UserFacingError
	if errors.As(err, &ufe) {
		return ufe
	}

	var sc StatusCoder
	if errors.As(err, &sc) {
		if c := Classify(sc.HTTPStatus(), err.Error()); c.Category != CategoryUnknown {
			return c
		}
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.As(err, &netErr) {
		return &UserFacingError{
			Category: CategoryConnectivity,
			Message:  "Could not reach the analysis service",
			Action:   "Check your internet connection and try again",
			Detail:   err.Error(),
		}
	}

	var timeout *TimeoutError
	if errors.As(err, &timeout) {
		return &UserFacingError{
			Category: CategoryConnectivity,
			Message:  "The analysis is taking longer than expected",
			Action:   "Check your connection and try scanning again",
			Detail:   err.Error(),
		}
	}

	return Classify(0, err.Error())
}
