// Package apperr defines the closed set of error kinds surfaced by the bot.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error.
type Kind int

const (
	// KindTransientNetwork is an RPC or HTTP call that failed or timed out.
	KindTransientNetwork Kind = iota + 1
	// KindExhaustedRetries means every attempt of a retryable operation failed.
	KindExhaustedRetries
	// KindConfiguration is a missing or malformed setting.
	KindConfiguration
	// KindFatalStartup means a precondition of an operation is not met (no wallets).
	KindFatalStartup
)

func (k Kind) String() string {
	switch k {
	case KindTransientNetwork:
		return "transient_network"
	case KindExhaustedRetries:
		return "exhausted_retries"
	case KindConfiguration:
		return "configuration"
	case KindFatalStartup:
		return "fatal_startup"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Error carries the kind plus the operation, attempt count and cause.
type Error struct {
	Kind     Kind
	Op       string
	Attempts int
	Err      error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Attempts > 0 {
		msg = fmt.Sprintf("%s after %d attempts", msg, e.Attempts)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so errors.Is(err, &Error{Kind: k}) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Op == "" || t.Op == e.Op)
}

// Transient wraps a failed network call.
func Transient(op string, err error) error {
	return &Error{Kind: KindTransientNetwork, Op: op, Err: err}
}

// Exhausted reports that op failed on all attempts; err is the last failure.
func Exhausted(op string, attempts int, err error) error {
	return &Error{Kind: KindExhaustedRetries, Op: op, Attempts: attempts, Err: err}
}

// Config reports a configuration problem.
func Config(op string, err error) error {
	return &Error{Kind: KindConfiguration, Op: op, Err: err}
}

// Fatal reports an unmet startup precondition.
func Fatal(op string, err error) error {
	return &Error{Kind: KindFatalStartup, Op: op, Err: err}
}

// KindOf returns the kind of the outermost *Error in err's chain, or 0.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// IsKind reports whether any *Error in err's chain has kind k.
func IsKind(err error, k Kind) bool {
	return errors.Is(err, &Error{Kind: k})
}
