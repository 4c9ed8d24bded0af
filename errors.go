// SPDX-License-Identifier: MIT
// Copyright © 2024–2026 Alexander Demin

package feed

import (
	"errors"
	"fmt"
	"strconv"
)

// ErrorKind classifies runtime failures of a Processor. All kinds stop the
// feed's forward progress the same way; the kind is informational.
type ErrorKind int

const (
	// DecodeError means the payload did not match the configured format.
	DecodeError ErrorKind = iota + 1
	// ForwardError means the trigger registry rejected the event.
	ForwardError
	// AcknowledgeError means the channel failed to acknowledge the message.
	AcknowledgeError
	// ConsumeError means the delivery stream ended without Stop, e.g. the
	// broker closed the connection.
	ConsumeError
)

// String returns the lower-case kind name used in logs and metric labels.
func (k ErrorKind) String() string {
	switch k {
	case DecodeError:
		return "decode"
	case ForwardError:
		return "forward"
	case AcknowledgeError:
		return "acknowledge"
	case ConsumeError:
		return "consume"
	default:
		return "unknown"
	}
}

// ErrorEvent is emitted once per message handling failure.
type ErrorEvent struct {
	FeedID string
	Kind   ErrorKind
	Err    error
}

// Error implements the error interface for ErrorEvent.
// It prefixes the cause with the feed id and the kind.
func (e *ErrorEvent) Error() string {
	return fmt.Sprintf("feed %s: %s: %v", e.FeedID, e.Kind, e.Err)
}

// Unwrap returns the failure that halted the feed.
func (e *ErrorEvent) Unwrap() error {
	return e.Err
}

// ValidationError is returned by Validate for unusable feed parameters.
// Err holds the probe failure, if any.
type ValidationError struct {
	Msg string
	Err error
}

// Error implements the error interface for ValidationError.
// The message is reported to callers unchanged.
func (e ValidationError) Error() string {
	return e.Msg
}

// Unwrap returns the probe failure, nil for parameter errors.
func (e ValidationError) Unwrap() error {
	return e.Err
}

// PanicError carries a value recovered from a panicking forward call.
type PanicError struct {
	Value any
}

// Error implements the error interface for PanicError.
func (e PanicError) Error() string {
	return fmt.Sprintf("forward panicked: %v", e.Value)
}

// FormatError renders err as the reason reported to the trigger registry.
// The code is taken from the first error in the chain exposing Code() int.
func FormatError(err error) string {
	msg, code := "unknown", "unknown"

	if err != nil && err.Error() != "" {
		msg = err.Error()
	}

	if c, ok := errorCode(err); ok {
		code = strconv.Itoa(c)
	}

	return fmt.Sprintf("amqp trigger feed: error with queue => (code: %s, message: %s)", code, msg)
}

func errorCode(err error) (int, bool) {
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() != 0 {
		return coder.Code(), true
	}

	return 0, false
}

// ProcessorConfError is returned by StartProcessor for an unusable configuration.
type ProcessorConfError struct {
	Reason string
}

// Error implements the error interface for ProcessorConfError.
func (e ProcessorConfError) Error() string {
	return "invalid processor config: " + e.Reason
}
