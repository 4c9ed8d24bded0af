// SPDX-License-Identifier: MIT
// Copyright © 2024–2026 Alexander Demin

package adapter

import (
	"sync/atomic"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rabbitmq/amqp091-go"
)

// Message wraps an AMQP delivery and tracks acknowledgment state.
type Message struct {
	// deliver holds the original AMQP delivery metadata and payload.
	deliver amqp091.Delivery
	// owner is the channel that received the delivery.
	owner *Channel
	// completed guards against a second acknowledgment of the same delivery.
	completed atomic.Bool
}

// RoutingKey returns the message routing key set on the AMQP delivery.
func (m *Message) RoutingKey() string {
	return m.deliver.RoutingKey
}

// Headers returns the message headers set on the AMQP delivery.
func (m *Message) Headers() map[string]interface{} {
	return m.deliver.Headers
}

// ContentType returns the MIME content type of the message payload.
// When the publisher did not set one it is detected from the body.
func (m *Message) ContentType() string {
	if m.deliver.ContentType != "" {
		return m.deliver.ContentType
	}

	return mimetype.Detect(m.deliver.Body).String()
}

// IsRedelivered indicates if the delivery is a redelivery (duplicate) of a previous message.
func (m *Message) IsRedelivered() bool {
	return m.deliver.Redelivered
}

// Body returns the raw message payload as a byte slice.
func (m *Message) Body() []byte {
	return m.deliver.Body
}

// DeliveryTag returns the channel-scoped delivery sequence number.
func (m *Message) DeliveryTag() uint64 {
	return m.deliver.DeliveryTag
}

// ack acknowledges the delivery exactly once. Later calls return nil.
func (m *Message) ack() error {
	if m.completed.CompareAndSwap(false, true) {
		return m.deliver.Ack(false)
	}

	return nil
}
