// SPDX-License-Identifier: MIT
// Copyright © 2024–2026 Alexander Demin

package broker

import "fmt"

// ConnectError is returned when a connection or its channel cannot be opened.
type ConnectError struct {
	Target    string
	ReplyCode int
	Err       error
}

// QueueUnavailableError is returned when the target queue does not exist or
// cannot be inspected.
type QueueUnavailableError struct {
	Queue     string
	ReplyCode int
	Err       error
}

// SubscribeError is returned when the channel refuses to start a consumer.
type SubscribeError struct {
	Queue     string
	ReplyCode int
	Err       error
}

// StreamClosedError is reported by Subscription.Err when the delivery stream
// ended without Cancel, e.g. the broker closed the connection.
type StreamClosedError struct {
	Queue     string
	ReplyCode int
	Reason    string
}

// ForeignMessageError is returned by Ack when the message was not delivered
// by the acknowledging channel.
type ForeignMessageError struct{}

// Error implements the error interface for ConnectError.
// It names the redacted target and the dial failure.
func (e ConnectError) Error() string {
	return fmt.Sprintf("connect to %s: %v", e.Target, e.Err)
}

// Unwrap returns the underlying dial or channel error.
func (e ConnectError) Unwrap() error {
	return e.Err
}

// Code returns the broker reply code, zero when unknown.
func (e ConnectError) Code() int {
	return e.ReplyCode
}

// Error implements the error interface for QueueUnavailableError.
func (e QueueUnavailableError) Error() string {
	return fmt.Sprintf("queue %q unavailable: %v", e.Queue, e.Err)
}

// Unwrap returns the error reported by the passive declare.
func (e QueueUnavailableError) Unwrap() error {
	return e.Err
}

// Code returns the broker reply code, zero when unknown.
func (e QueueUnavailableError) Code() int {
	return e.ReplyCode
}

// Error implements the error interface for SubscribeError.
func (e SubscribeError) Error() string {
	return fmt.Sprintf("subscribe to queue %q: %v", e.Queue, e.Err)
}

// Unwrap returns the error reported by the consume request.
func (e SubscribeError) Unwrap() error {
	return e.Err
}

// Code returns the broker reply code, zero when unknown.
func (e SubscribeError) Code() int {
	return e.ReplyCode
}

// Error implements the error interface for StreamClosedError.
// The broker reason is included when one was received.
func (e StreamClosedError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("delivery stream of queue %q closed", e.Queue)
	}

	return fmt.Sprintf("delivery stream of queue %q closed: %s", e.Queue, e.Reason)
}

// Code returns the broker reply code, zero when unknown.
func (e StreamClosedError) Code() int {
	return e.ReplyCode
}

// Error implements the error interface for ForeignMessageError.
func (ForeignMessageError) Error() string {
	return "message was not delivered by this channel"
}
