// Package apperror defines the error kinds surfaced by the ingestion pipeline and the API.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure.
type Kind string

const (
	// KindConfig is a missing or invalid setting needed by the operation.
	KindConfig Kind = "ConfigError"
	// KindUpstream is a network or auth failure talking to the timing source.
	KindUpstream Kind = "UpstreamUnavailable"
	// KindStore is a persistence failure.
	KindStore Kind = "StoreError"
	// KindValidation is malformed caller input.
	KindValidation Kind = "ValidationError"
	// KindBusy means a cycle for the same partition is already running.
	KindBusy Kind = "PartitionBusy"
	// KindInternal is anything unclassified.
	KindInternal Kind = "InternalError"
)

// Error carries a Kind alongside a human readable message and an optional cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		if e.Message == "" {
			return fmt.Sprintf("%s: %v", e.Kind, e.Err)
		}
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the cause.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches any *Error of the same kind, so errors.Is(err, apperror.ErrConfig) works.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return other.Message == "" && other.Err == nil && other.Kind == e.Kind
}

// Sentinels usable with errors.Is.
var (
	ErrConfig     = &Error{Kind: KindConfig}
	ErrUpstream   = &Error{Kind: KindUpstream}
	ErrStore      = &Error{Kind: KindStore}
	ErrValidation = &Error{Kind: KindValidation}
	ErrBusy       = &Error{Kind: KindBusy}
)

// New builds an error of the given kind.
func New(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to err. A nil err stays nil.
func Wrap(kind Kind, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the first Kind found in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// MessageOf renders the first apperror in the chain without its kind prefix,
// falling back to err.Error().
func MessageOf(err error) string {
	if err == nil {
		return ""
	}
	var appErr *Error
	if !errors.As(err, &appErr) {
		return err.Error()
	}
	switch {
	case appErr.Err == nil:
		return appErr.Message
	case appErr.Message == "":
		return appErr.Err.Error()
	default:
		return appErr.Message + ": " + appErr.Err.Error()
	}
}

// HTTPStatus maps a kind onto the status code the API answers with.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation, KindConfig:
		return http.StatusBadRequest
	case KindBusy:
		return http.StatusConflict
	case KindUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
