// Package delivery submits debrief payloads to the backend and classifies
// failures as retryable or terminal for the dispatch loop.
package delivery

import (
	"context"
	"errors"
	"fmt"

	"fieldq/internal/outbox"
)

// Client submits a queued debrief. Implementations must be safe for
// concurrent use; the dispatch loop may run attempts in parallel.
type Client interface {
	Submit(ctx context.Context, item *outbox.Item) error
}

// Error describes a failed submission attempt. Retryable errors re-enter the
// backoff schedule; terminal ones park the item until the user retries.
type Error struct {
	Retryable bool
	Reason    string
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable inspects a submission error. Anything that is not a typed
// delivery error counts as retryable: unknown failure modes get the benefit
// of the doubt, matching the at-least-once bias.
func Retryable(err error) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Retryable
	}
	return true
}

// Reason extracts the short failure description for storage on the item.
func Reason(err error) string {
	var de *Error
	if errors.As(err, &de) && de.Reason != "" {
		return de.Reason
	}
	if err != nil {
		return err.Error()
	}
	return ""
}

func retryableError(reason string, err error) *Error {
	return &Error{Retryable: true, Reason: reason, Err: err}
}

func terminalError(reason string, err error) *Error {
	return &Error{Retryable: false, Reason: reason, Err: err}
}
