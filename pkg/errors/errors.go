package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind classifies why an acquisition attempt failed
type Kind string

const (
	KindAuthInvalid Kind = "AUTH_INVALID"
	KindNotFound    Kind = "NOT_FOUND"
	KindRateLimited Kind = "RATE_LIMITED"
	KindTransient   Kind = "TRANSIENT"
	KindBlocked     Kind = "BLOCKED"
	KindUnknown     Kind = "UNKNOWN"

	// KindExhausted marks an orchestration where every strategy, cache included, came up empty
	KindExhausted Kind = "EXHAUSTED"
)

// Error is a classified failure, optionally tagged with the strategy that raised it
type Error struct {
	Kind     Kind
	Strategy string
	Message  string
	Code     int
	Err      error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Strategy != "" {
		b.WriteString(e.Strategy)
		b.WriteString(": ")
	}
	b.WriteString(string(e.Kind))
	if e.Code != 0 {
		fmt.Fprintf(&b, " (code %d)", e.Code)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a classified error
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Newf creates a classified error with a formatted message
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies an underlying error
func Wrap(kind Kind, err error, msg string) *Error {
	if msg == "" && err != nil {
		msg = err.Error()
	} else if err != nil {
		msg = msg + ": " + err.Error()
	}
	return &Error{Kind: kind, Message: msg, Err: err}
}

// WithStrategy returns a copy of e tagged with the strategy name
func (e *Error) WithStrategy(name string) *Error {
	cp := *e
	cp.Strategy = name
	return &cp
}

// WithCode returns a copy of e carrying an upstream status or error code
func (e *Error) WithCode(code int) *Error {
	cp := *e
	cp.Code = code
	return &cp
}

// KindForStatus maps an HTTP status code to a failure kind.
// Status 0 means the request never got a response.
func KindForStatus(status int) Kind {
	switch {
	case status == 0:
		return KindTransient
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return KindAuthInvalid
	case status == http.StatusNotFound:
		return KindNotFound
	case status == http.StatusTooManyRequests:
		return KindRateLimited
	case status >= 500:
		return KindTransient
	default:
		return KindUnknown
	}
}

// FromStatus builds an error for an unexpected HTTP status
func FromStatus(status int, msg string) *Error {
	if msg == "" {
		msg = fmt.Sprintf("unexpected status %d", status)
	}
	return &Error{Kind: KindForStatus(status), Message: msg, Code: status}
}

// KindOf returns the failure kind carried by err.
// Context cancellation and deadlines count as transient.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var agg *AggregateError
	if stderrors.As(err, &agg) {
		return KindExhausted
	}
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(err, context.Canceled) {
		return KindTransient
	}
	return KindUnknown
}

// IsKind reports whether err is classified as kind
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Classify converts any error into *Error, keeping an existing classification
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if stderrors.As(err, &e) {
		return e
	}
	return Wrap(KindOf(err), err, "")
}

// AggregateError is raised when every strategy for a profile was exhausted.
// It keeps every sub-failure instead of only the last one.
type AggregateError struct {
	Profile  string
	Failures []*Error
}

func (a *AggregateError) Error() string {
	parts := make([]string, 0, len(a.Failures))
	for _, f := range a.Failures {
		parts = append(parts, f.Error())
	}
	if len(parts) == 0 {
		return fmt.Sprintf("all strategies exhausted for %s", a.Profile)
	}
	return fmt.Sprintf("all strategies exhausted for %s: %s", a.Profile, strings.Join(parts, "; "))
}

func (a *AggregateError) Unwrap() []error {
	errs := make([]error, len(a.Failures))
	for i, f := range a.Failures {
		errs[i] = f
	}
	return errs
}

// Add appends a sub-failure
func (a *AggregateError) Add(err *Error) {
	if err != nil {
		a.Failures = append(a.Failures, err)
	}
}
