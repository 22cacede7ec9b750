package controller

import (
	"errors"
	"fmt"
	"time"
)

// TransientError reports a retryable external condition observed by a phase
// handler. The controller answers it with a bounded requeue; the resource
// stays in its current phase.
type TransientError struct {
	// Reason is a short machine-readable token recorded on the resource's
	// conditions, e.g. "ProviderThrottled".
	Reason string

	// RetryAfter is the suggested wait before the next attempt. Zero
	// selects the controller's default requeue interval.
	RetryAfter time.Duration

	Err error
}

func (e *TransientError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transient: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("transient: %s", e.Reason)
}

func (e *TransientError) Unwrap() error { return e.Err }

// TerminalError reports an unrecoverable domain condition. The controller
// moves the resource to the Failed phase and stops retrying until an
// operator intervenes.
type TerminalError struct {
	Reason string
	Err    error
}

func (e *TerminalError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("terminal: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("terminal: %s", e.Reason)
}

func (e *TerminalError) Unwrap() error { return e.Err }

// Transient wraps err as a retryable failure.
func Transient(reason string, err error) *TransientError {
	return &TransientError{Reason: reason, Err: err}
}

// TransientAfter wraps err as a retryable failure with an explicit wait.
func TransientAfter(reason string, retryAfter time.Duration, err error) *TransientError {
	return &TransientError{Reason: reason, RetryAfter: retryAfter, Err: err}
}

// Terminal wraps err as an unrecoverable failure.
func Terminal(reason string, err error) *TerminalError {
	return &TerminalError{Reason: reason, Err: err}
}

// IsTerminal reports whether err is (or wraps) a TerminalError.
func IsTerminal(err error) bool {
	var terminal *TerminalError
	return errors.As(err, &terminal)
}

// IsTransient reports whether err should be retried. Everything that is not
// terminal is treated as transient; handlers never have to remember to wrap
// ordinary errors.
func IsTransient(err error) bool {
	return err != nil && !IsTerminal(err)
}
