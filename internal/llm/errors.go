package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a model failure for retry purposes.
type Kind int

const (
	// KindTransient covers timeouts, rate limits and connection failures.
	// The caller may retry.
	KindTransient Kind = iota

	// KindFatal covers authentication, billing and malformed-input
	// failures. Retrying cannot help.
	KindFatal
)

func (k Kind) String() string {
	if k == KindFatal {
		return "fatal"
	}
	return "transient"
}

// UnavailableError wraps a model-tier failure with its retry classification.
type UnavailableError struct {
	Op   string
	Kind Kind
	Err  error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("llm %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// Transient wraps err as a retryable failure.
func Transient(op string, err error) error {
	return &UnavailableError{Op: op, Kind: KindTransient, Err: err}
}

// Fatal wraps err as a non-retryable failure.
func Fatal(op string, err error) error {
	return &UnavailableError{Op: op, Kind: KindFatal, Err: err}
}

// IsFatal reports whether err is classified as non-retryable.
func IsFatal(err error) bool {
	var ue *UnavailableError
	if errors.As(err, &ue) {
		return ue.Kind == KindFatal
	}
	return false
}

// IsTransient reports whether err is classified as retryable.
func IsTransient(err error) bool {
	var ue *UnavailableError
	if errors.As(err, &ue) {
		return ue.Kind == KindTransient
	}
	return false
}

// fatalIndicators are substrings of provider error messages that signal a
// problem retrying cannot fix.
var fatalIndicators = []string{
	"invalid api key",
	"incorrect api key",
	"authentication",
	"unauthorized",
	"status code: 401",
	"status code: 403",
	"billing",
	"credit balance",
	"quota exceeded",
	"content policy",
}

// classify maps a raw provider error to a retry kind. Providers return
// plain errors with embedded HTTP details, so substring matching is the
// only portable signal. Anything unrecognized is treated as transient,
// bounded by the retry budget.
func classify(err error) Kind {
	if err == nil {
		return KindTransient
	}

	// An error classified upstream keeps its kind; substring matching
	// cannot see it.
	var ue *UnavailableError
	if errors.As(err, &ue) {
		return ue.Kind
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}

	msg := strings.ToLower(err.Error())
	for _, ind := range fatalIndicators {
		if strings.Contains(msg, ind) {
			return KindFatal
		}
	}
	return KindTransient
}
