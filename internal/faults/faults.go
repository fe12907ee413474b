// Package faults defines the typed failures that cross the pipeline and
// the HTTP boundary.
package faults

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// UpstreamError is a non-success response from an external provider. Body is
// kept verbatim.
type UpstreamError struct {
	Provider string
	Status   int
	Body     string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s error %d: %s", e.Provider, e.Status, e.Body)
}

// ToolError is a non-zero exit of an external media tool.
type ToolError struct {
	Tool     string
	ExitCode int
	Stderr   string
	Cause    error
}

func (e *ToolError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("%s exited with code %d: %s", e.Tool, e.ExitCode, e.Stderr)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s exited with code %d: %v", e.Tool, e.ExitCode, e.Cause)
	}
	return fmt.Sprintf("%s exited with code %d", e.Tool, e.ExitCode)
}

func (e *ToolError) Unwrap() error { return e.Cause }

// ValidationError rejects a client request before any work starts.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func Invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Kind is the short name clients branch on.
func Kind(err error) string {
	var (
		up  *UpstreamError
		tl  *ToolError
		val *ValidationError
	)
	switch {
	case errors.As(err, &val):
		return "validation"
	case errors.As(err, &up):
		return "upstream"
	case errors.As(err, &tl):
		return "tool"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "internal"
	}
}

// HTTPStatus maps an error onto the status returned to the caller.
func HTTPStatus(err error) int {
	var (
		up  *UpstreamError
		val *ValidationError
	)
	switch {
	case errors.As(err, &val):
		return http.StatusBadRequest
	case errors.As(err, &up):
		if up.Status >= 400 && up.Status <= 599 {
			return up.Status
		}
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
