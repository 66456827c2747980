// Package apperr defines the error kinds surfaced by the run pipeline.
package apperr

// File: internal/apperr/apperr.go
// Purpose: Typed error kinds shared by the emitter, driver, store, LLM layer and orchestrator.

import (
	"errors"
	"fmt"
)

// Kind classifies a failure so callers can decide how to surface it.
type Kind string

const (
	KindInvalidInput Kind = "invalid_input"
	KindIO           Kind = "io_error"
	KindToolNotFound Kind = "tool_not_found"
	KindToolTimeout  Kind = "tool_timeout"
	KindToolFailed   Kind = "tool_failed"
	KindStore        Kind = "store_error"
	KindQuota        Kind = "provider_quota"
	KindProvider     Kind = "provider_error"
	KindNoProviders  Kind = "no_providers_available"
	KindNotFound     Kind = "not_found"
	KindCanceled     Kind = "canceled"
)

// Error carries a Kind, the failing operation and the underlying cause.
type Error struct {
	Kind   Kind
	Op     string
	Err    error
	Detail string
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New builds an Error without a cause.
func New(kind Kind, op string, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// Wrap attaches a Kind to err. A nil err yields nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the Kind of the outermost *Error in the chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether any error in the chain has the given Kind.
func IsKind(err error, kind Kind) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Kind == kind {
			return true
		}
		err = e.Err
	}
	return false
}
