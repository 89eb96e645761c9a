// Package failure defines the error taxonomy surfaced to the session:
// invalid input, server errors, transport errors and job errors.
package failure

import (
	"errors"
	"fmt"
)

// Kind classifies an error for the user-facing layer.
type Kind string

const (
	KindInvalidInput Kind = "invalid_input"
	KindServer       Kind = "server_error"
	KindTransport    Kind = "transport_error"
	KindJob          Kind = "job_error"
)

// Error is a classified error carrying one human-readable message.
type Error struct {
	Kind    Kind
	Status  int // HTTP status for KindServer, zero otherwise
	Message string
	Err     error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// InvalidInput reports input rejected before or by the server.
func InvalidInput(msg string) *Error {
	return &Error{Kind: KindInvalidInput, Message: msg}
}

// Server reports a non-2xx response. An empty msg becomes "Server error: <status>".
func Server(status int, msg string) *Error {
	if msg == "" {
		msg = fmt.Sprintf("Server error: %d", status)
	}
	return &Error{Kind: KindServer, Status: status, Message: msg}
}

// Transport reports a connectivity failure.
func Transport(msg string, err error) *Error {
	if err != nil {
		msg = fmt.Sprintf("%s: %v", msg, err)
	}
	return &Error{Kind: KindTransport, Message: msg, Err: err}
}

// Job reports a download-error event for the active job.
func Job(msg string) *Error {
	if msg == "" {
		msg = "download failed"
	}
	return &Error{Kind: KindJob, Message: msg}
}

// KindOf returns the Kind of err, or "" when err is not a classified error.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// Is reports whether err is a classified error of the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
