package failure

import (
	"errors"
	"fmt"
)

// Kind classifies a terminal pipeline error
type Kind string

const (
	// CaptureFailed means the host raster primitive refused or errored
	CaptureFailed Kind = "capture_failed"
	// InvalidRegion means the selection or the computed crop is degenerate
	InvalidRegion Kind = "invalid_region"
	// ServiceError means a non-2xx status or a provider-reported processing error
	ServiceError Kind = "service_error"
	// PathNotFound means the response path did not resolve against the response
	PathNotFound Kind = "path_not_found"
	// ConfigMissing means a required provider field is absent
	ConfigMissing Kind = "config_missing"
	// ConfigInvalid means a provider field is present but unusable
	ConfigInvalid Kind = "config_invalid"
)

// Error is the structured error value passed between contexts.
// It serializes to JSON so it can cross the HTTP boundary intact.
type Error struct {
	Kind   Kind   `json:"kind"`
	Status int    `json:"status,omitempty"`
	Detail string `json:"detail,omitempty"`
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s (status %d): %s", e.Kind, e.Status, e.Detail)
	}
	if e.Detail == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

// New creates an Error of the given kind with a formatted detail message
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// Service creates a ServiceError carrying the HTTP status
func Service(status int, detail string) *Error {
	return &Error{Kind: ServiceError, Status: status, Detail: detail}
}

// From extracts the structured Error from err. Errors that carry no kind
// are reported with the fallback kind so the consumer always receives a
// classified value.
func From(err error, fallback Kind) *Error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe
	}
	return &Error{Kind: fallback, Detail: err.Error()}
}

// Is reports whether err is a structured Error of the given kind
func Is(err error, kind Kind) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind == kind
	}
	return false
}
