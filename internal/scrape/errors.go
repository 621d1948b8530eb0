package scrape

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/WillyEverGreen/CRCE-calc/internal/admission"
	"github.com/WillyEverGreen/CRCE-calc/internal/portal"
)

type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindQueueFull
	KindQueueTimeout
	KindInvalidCredentials
	KindPortalUnreachable
	KindNoSubjects
	KindSessionExpired
	KindCanceled
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindQueueFull:
		return "queue-full"
	case KindQueueTimeout:
		return "queue-timeout"
	case KindInvalidCredentials:
		return "invalid-credentials"
	case KindPortalUnreachable:
		return "portal-unreachable"
	case KindNoSubjects:
		return "no-subjects"
	case KindSessionExpired:
		return "session-expired"
	case KindCanceled:
		return "canceled"
	}
	return "internal"
}

const (
	msgInternal           = "Something went wrong. Please try again."
	msgQueueFull          = "Server is busy. Too many requests in queue. Please try again in a minute."
	msgQueueTimeout       = "Waited too long in the queue. Please try again in 30 seconds."
	msgInvalidCredentials = "Invalid PRN or DOB. Login failed."
	msgPortalUnreachable  = "College portal is not responding. Please try again later."
	msgNoSubjects         = "No subjects found. The portal may be under maintenance."
	msgSessionExpired     = "Portal session expired while fetching marks. Please try again."
	msgCanceled           = "Request cancelled."
)

// Error is the only error a scrape ends with, Message is safe to show to the user.
type Error struct {
	Kind    Kind
	Message string
	// RetryAfter is a hint for how long the caller should wait before trying again, zero
	// when retrying will not help.
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Err.Error())
}

func (e *Error) Unwrap() error {
	return e.Err
}

func validationError(message string) *Error {
	return &Error{Kind: KindValidation, Message: message}
}

// classify maps a failure from admission or the portal onto the user facing taxonomy.
func classify(err error) *Error {
	var scrapeErr *Error
	switch {
	case errors.As(err, &scrapeErr):
		return scrapeErr
	case errors.Is(err, admission.ErrQueueFull):
		return &Error{Kind: KindQueueFull, Message: msgQueueFull, RetryAfter: time.Minute, Err: err}
	case errors.Is(err, admission.ErrTimedOut):
		return &Error{Kind: KindQueueTimeout, Message: msgQueueTimeout, RetryAfter: 30 * time.Second, Err: err}
	case errors.Is(err, portal.ErrInvalidCredentials):
		return &Error{Kind: KindInvalidCredentials, Message: msgInvalidCredentials, Err: err}
	case errors.Is(err, portal.ErrNoSubjectsFound):
		return &Error{Kind: KindNoSubjects, Message: msgNoSubjects, Err: err}
	case errors.Is(err, portal.ErrTimeout), errors.Is(err, portal.ErrPortalUnreachable):
		return &Error{Kind: KindPortalUnreachable, Message: msgPortalUnreachable, RetryAfter: time.Minute, Err: err}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return &Error{Kind: KindCanceled, Message: msgCanceled, Err: err}
	}
	return &Error{Kind: KindInternal, Message: msgInternal, Err: err}
}
