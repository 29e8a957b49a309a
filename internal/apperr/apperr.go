// Package apperr defines the kind-tagged errors used across the detection pipeline.
//
// Three kinds are caller or operator errors and are always surfaced: validation,
// unknown_provider and configuration. Every other kind describes a provider-side
// failure that the detection service absorbs into a fallback verdict.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindValidation       Kind = "validation"
	KindUnknownProvider  Kind = "unknown_provider"
	KindConfiguration    Kind = "configuration"
	KindProviderSubmit   Kind = "provider_submit"
	KindProviderPoll     Kind = "provider_poll"
	KindProviderTimeout  Kind = "provider_timeout"
	KindMalformedOutput  Kind = "malformed_output"
	KindPredictionFailed Kind = "prediction_failed"
	KindUnknown          Kind = "unknown"
)

type Error struct {
	Kind    Kind
	Op      string
	Message string
	Cause   error
	// Available lists the valid provider ids on unknown_provider errors.
	Available []string
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Kind, e.Op, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Kind, e.Op, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Wrap tags err with kind. An err that already carries a kind keeps it.
func Wrap(kind Kind, op, message string, err error) *Error {
	if err == nil {
		return nil
	}
	var typed *Error
	if errors.As(err, &typed) {
		return typed
	}
	return &Error{Kind: kind, Op: op, Message: message, Cause: err}
}

func UnknownProvider(op, id string, available []string) *Error {
	ids := make([]string, len(available))
	copy(ids, available)
	return &Error{
		Kind:      KindUnknownProvider,
		Op:        op,
		Message:   fmt.Sprintf("unknown model id %q", id),
		Available: ids,
	}
}

// KindOf returns the kind of the first *Error in the chain, or KindUnknown.
func KindOf(err error) Kind {
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Kind
	}
	return KindUnknown
}

func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Surfaced reports whether errors of kind must reach the caller as-is.
func Surfaced(kind Kind) bool {
	switch kind {
	case KindValidation, KindUnknownProvider, KindConfiguration:
		return true
	default:
		return false
	}
}

func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation, KindUnknownProvider:
		return http.StatusBadRequest
	case KindConfiguration:
		return http.StatusInternalServerError
	case KindProviderTimeout:
		return http.StatusGatewayTimeout
	case KindProviderSubmit, KindProviderPoll, KindMalformedOutput, KindPredictionFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
