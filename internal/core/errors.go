package core

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a render failure.
type Kind string

const (
	KindCompilation   Kind = "compilation"
	KindHelper        Kind = "helper"
	KindConfiguration Kind = "configuration"
	KindBroker        Kind = "broker"
	KindTimeout       Kind = "timeout"
)

// Property tells callers which part of an entity failed.
type Property string

const (
	PropertyContent Property = "content"
	PropertyHelpers Property = "helpers"
)

// ErrTimeout is the cause of errors produced when a render exceeds its
// deadline or its context is cancelled while JS is running.
var ErrTimeout = errors.New("execution timed out")

// Error is the envelope every render failure is reported with.
type Error struct {
	Kind       Kind
	Message    string
	Entity     *EntitySnapshot
	Property   Property
	StatusCode int
	// Line is the 1-based line inside the user helper source, 0 when unknown.
	Line  int
	Cause error
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Cause }

// Clone returns a copy that shares no mutable state with e.
func (e *Error) Clone() *Error {
	c := *e
	if e.Entity != nil {
		snap := *e.Entity
		c.Entity = &snap
	}
	return &c
}

// ConfigurationError reports invalid caller input such as an unknown engine.
func ConfigurationError(format string, args ...any) *Error {
	return &Error{
		Kind:       KindConfiguration,
		Message:    fmt.Sprintf(format, args...),
		StatusCode: http.StatusBadRequest,
	}
}

// CompilationError wraps an engine compile failure.
func CompilationError(cause error) *Error {
	return &Error{
		Kind:       KindCompilation,
		Message:    cause.Error(),
		Property:   PropertyContent,
		StatusCode: http.StatusInternalServerError,
		Cause:      cause,
	}
}

// HelperError wraps a failure raised while evaluating helpers or executing
// a compiled template.
func HelperError(cause error) *Error {
	return &Error{
		Kind:       KindHelper,
		Message:    cause.Error(),
		StatusCode: http.StatusInternalServerError,
		Cause:      cause,
	}
}

// BrokerError reports a broken placeholder invariant.
func BrokerError(cause error) *Error {
	return &Error{
		Kind:       KindBroker,
		Message:    cause.Error(),
		StatusCode: http.StatusInternalServerError,
		Cause:      cause,
	}
}

// AsError returns a fresh copy of the first *Error in err's chain, or wraps
// err as a helper error when there is none.
func AsError(err error) *Error {
	var re *Error
	if errors.As(err, &re) {
		return re.Clone()
	}
	if errors.Is(err, ErrTimeout) {
		e := HelperError(err)
		e.Kind = KindTimeout
		return e
	}
	return HelperError(err)
}
