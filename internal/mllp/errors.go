// Package mllp implements the Minimal Lower Layer Protocol transport for
// HL7v2 messages: byte framing over TCP, a receiving server, a sending
// client, and a pooled connector with health checks and reconnection.
package mllp

import (
	"errors"
	"fmt"
)

// Code classifies transport and protocol failures. Whether a failure is
// retryable is a property of its code.
type Code string

const (
	// CodeConfiguration marks unusable configuration, surfaced at
	// construction time. Fatal, never retryable.
	CodeConfiguration Code = "CONFIGURATION"

	// CodeConnectionFailed marks a failed dial or a connection lost mid-use.
	CodeConnectionFailed Code = "CONNECTION_FAILED"

	// CodeNoConnection marks pool-acquisition timeout.
	CodeNoConnection Code = "NO_CONNECTION"

	// CodeAckTimeout marks a send whose acknowledgment never arrived.
	CodeAckTimeout Code = "ACK_TIMEOUT"

	// CodeAckMismatch marks an acknowledgment echoing the wrong control id.
	// The stream is desynchronized; retrying would be unsafe.
	CodeAckMismatch Code = "ACK_MISMATCH"

	// CodeInvalidAck marks a response that is not a parseable acknowledgment.
	CodeInvalidAck Code = "INVALID_ACK"

	// CodeMessageError marks an application-level AE acknowledgment.
	CodeMessageError Code = "MESSAGE_ERROR"

	// CodeMessageRejected marks an application-level AR acknowledgment.
	CodeMessageRejected Code = "MESSAGE_REJECTED"
)

// Error is a classified transport error.
type Error struct {
	Code Code
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("mllp: %s: %s: %v", e.Code, e.Msg, e.Err)
	}
	return fmt.Sprintf("mllp: %s: %s", e.Code, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the operation that produced this error may be
// safely retried.
func (e *Error) Retryable() bool {
	switch e.Code {
	case CodeConnectionFailed, CodeNoConnection, CodeAckTimeout:
		return true
	}
	return false
}

func newError(code Code, msg string) *Error {
	return &Error{Code: code, Msg: msg}
}

func wrapError(code Code, msg string, err error) *Error {
	return &Error{Code: code, Msg: msg, Err: err}
}

// CodeOf returns the classification of err, or "" if it carries none.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
