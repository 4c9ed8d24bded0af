// SPDX-License-Identifier: MIT
// Copyright © 2024–2026 Alexander Demin

package broker

import (
	"context"
	"net/url"
)

// TLSMaterial carries the certificate data used when opening a connection.
// CA is PEM text trusted as the only root authority. An empty CA keeps the
// system pool.
type TLSMaterial struct {
	CA string
}

// Dialer opens an authenticated channel bound to one broker.
type Dialer interface {
	// Open connects to target and returns a ready channel.
	// Failures are reported as ConnectError.
	Open(ctx context.Context, target string, tls TLSMaterial) (Channel, error)
}

// Channel is an opened connection to one broker queue.
// A Channel is owned by exactly one consumer and must not be shared.
type Channel interface {
	// SetPrefetch limits the number of unacknowledged deliveries the broker
	// hands to this channel.
	SetPrefetch(n int) error

	// VerifyQueue checks that the named queue exists without creating it.
	// Failures are reported as QueueUnavailableError.
	VerifyQueue(name string) error

	// Subscribe starts delivering messages of the named queue to handler.
	// The handler is invoked for one message at a time, never concurrently.
	// Failures are reported as SubscribeError.
	Subscribe(name string, handler func(Message)) (Subscription, error)

	// Ack acknowledges a message delivered by this channel.
	Ack(Message) error

	// Cancel stops the subscription and returns once the broker confirmed the
	// cancellation and the in-flight handler call, if any, has returned.
	Cancel(ctx context.Context, sub Subscription) error

	// Close releases the channel and its connection. Unacknowledged
	// messages are returned to the queue by the broker.
	Close() error
}

// Subscription identifies an active consumer on a Channel.
type Subscription interface {
	// ConsumerTag returns the broker-side consumer identifier.
	ConsumerTag() string

	// Done is closed once the delivery stream ended and the last handler
	// call returned.
	Done() <-chan struct{}

	// Err is valid after Done is closed. It is nil when the stream ended
	// through Cancel, otherwise a StreamClosedError.
	Err() error
}

// Publisher defines the interface for publishing messages to a broker.
// Implementations should send the payload and handle any connection lifecycle.
type Publisher interface {
	// Publish sends a message payload in the given context.
	// It returns an error if the message could not be delivered.
	Publish(context.Context, []byte) error

	// Close releases any resources held by the publisher, such as channels or connections.
	// After Close, further calls to Publish should return an error.
	Close() error
}

// Message represents a single broker-delivered message, allowing inspection.
// Acknowledgment goes through the Channel that delivered it.
type Message interface {
	// Headers returns the message metadata headers.
	Headers() map[string]interface{}

	// ContentType returns the MIME type of the message payload.
	ContentType() string

	// IsRedelivered signals if this delivery is a redelivery of a previous message.
	IsRedelivered() bool

	// Body returns the raw payload bytes.
	Body() []byte

	// RoutingKey returns the message routing key.
	RoutingKey() string

	// DeliveryTag returns the channel-scoped delivery sequence number.
	DeliveryTag() uint64
}

// RedactURL returns target with any password masked, suitable for logs and
// error messages.
func RedactURL(target string) string {
	u, err := url.Parse(target)
	if err != nil {
		return "invalid-url"
	}

	return u.Redacted()
}
