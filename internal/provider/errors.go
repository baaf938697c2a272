package provider

import (
	"context"
	"fmt"
	"net/http"

	"github.com/pkg/errors"
)

// Class says how the caller should react to a provider failure.
type Class int

const (
	// Fatal failures propagate to the saga.
	Fatal Class = iota
	// Transient failures (rate limits, 5xx, timeouts) are retried in place.
	Transient
	// Stale means the offer or resource is no longer valid; try another candidate.
	Stale
)

func (c Class) String() string {
	switch c {
	case Transient:
		return "transient"
	case Stale:
		return "stale"
	default:
		return "fatal"
	}
}

type Error struct {
	Op     string
	Class  Class
	Status int
	Code   string
	Err    error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Op, e.Class)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Code != "" {
		msg += " " + e.Code
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func ClassOf(err error) Class {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Class
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Transient
	}
	return Fatal
}

// ClassForStatus maps an HTTP status to a failure class.
func ClassForStatus(status int) Class {
	switch {
	case status == http.StatusTooManyRequests, status >= 500:
		return Transient
	case status == http.StatusGone:
		return Stale
	default:
		return Fatal
	}
}
