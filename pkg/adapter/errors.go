// SPDX-License-Identifier: MIT
// Copyright © 2024–2026 Alexander Demin

package adapter

import (
	"errors"

	"github.com/rabbitmq/amqp091-go"
)

// ConnClosedError is returned when operations are attempted on a closed connection.
type ConnClosedError struct{}

// PublisherClosedError is returned when publishing is attempted on a closed publisher.
type PublisherClosedError struct{}

// PublishNackError is returned when the broker negatively confirms a publishing.
type PublishNackError struct{}

// InvalidCertError is returned when the CA material holds no PEM certificate.
type InvalidCertError struct{}

// Error implements the error interface for ConnClosedError.
// It indicates the client explicitly closed the connection.
func (e ConnClosedError) Error() string {
	return "connection closed by client"
}

// Error implements the error interface for PublisherClosedError.
// It signals that the publisher has already been closed.
func (PublisherClosedError) Error() string {
	return "publisher already closed, unable to provide"
}

// Error implements the error interface for PublishNackError.
// The broker answered basic.nack for the publishing.
func (PublishNackError) Error() string {
	return "publishing was not confirmed by broker"
}

// Error implements the error interface for InvalidCertError.
func (InvalidCertError) Error() string {
	return "no PEM certificate found in CA material"
}

// replyCode extracts the AMQP reply code carried by err, zero when absent.
func replyCode(err error) int {
	var amqpErr *amqp091.Error
	if errors.As(err, &amqpErr) {
		return amqpErr.Code
	}

	return 0
}
