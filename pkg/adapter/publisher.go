// SPDX-License-Identifier: MIT
// Copyright © 2024–2026 Alexander Demin

package adapter

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
)

// Publisher sends messages in confirm mode: Publish returns only once the
// broker confirmed the message. Feeds only consume; Publisher serves
// integration environments that need to fill a queue.
type Publisher struct {
	// rabChan is the AMQP channel used for publishing with confirmations.
	rabChan *amqp091.Channel
	// cfg stores publisher settings like exchange name and routing key.
	cfg PublisherConfig
	// isClosed indicates whether the publisher has been closed.
	isClosed atomic.Bool
}

// newPublisher opens a channel, enables confirm mode, and sets mimetype limits.
func newPublisher(c *Con, cfg PublisherConfig) (*Publisher, error) {
	rabbitChan, err := c.connection.Channel()
	if err != nil {
		return nil, fmt.Errorf("create publish channel: %w", err)
	}

	if err = enableConfirm(rabbitChan); err != nil {
		return nil, err
	}

	mimetype.SetLimit(mimeReadLimit)

	return &Publisher{
		rabChan: rabbitChan,
		cfg:     cfg,
	}, nil
}

// confirmChannel is the part of *amqp091.Channel used to enter confirm mode.
type confirmChannel interface {
	Confirm(noWait bool) error
	Close() error
}

// enableConfirm puts ch into confirm mode and closes it when that fails.
func enableConfirm(ch confirmChannel) error {
	err := ch.Confirm(false)
	if err == nil {
		return nil
	}

	if cerr := ch.Close(); cerr != nil && !errors.Is(cerr, amqp091.ErrClosed) {
		err = errors.Join(err, fmt.Errorf("close publish channel: %w", cerr))
	}

	return fmt.Errorf("confirm channel for publisher: %w", err)
}

// Publish sends data to the configured exchange and routing key and waits for
// the broker confirmation.
func (p *Publisher) Publish(ctx context.Context, data []byte) error {
	if p.isClosed.Load() {
		return PublisherClosedError{}
	}

	conf, err := p.rabChan.PublishWithDeferredConfirmWithContext(setPublisherConfig(ctx, p.cfg, data))
	if err != nil {
		return fmt.Errorf("publish: %w", err)
	}

	success, err := conf.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("wait confirmation: %w", err)
	}

	if !success {
		return PublishNackError{}
	}

	return nil
}

// setPublisherConfig maps PublisherConfig and payload into AMQP publish arguments.
//
//nolint:gocritic // returning multiple values is justified in this context
func setPublisherConfig(ctx context.Context, cfg PublisherConfig, data []byte) (_ context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) {
	msg = amqp091.Publishing{
		ContentType: mimetype.Detect(data).String(),
		Body:        data,
		AppId:       cfg.AppId,
		MessageId:   uuid.NewString(),
	}

	if cfg.MessagePersistent {
		msg.DeliveryMode = amqp091.Persistent
	}

	return ctx, cfg.ExchangeName, cfg.RoutingKey, true, false, msg
}

// Close marks the publisher as closed and closes the AMQP channel.
func (p *Publisher) Close() error {
	if !p.isClosed.CompareAndSwap(false, true) {
		return nil
	}

	if err := p.rabChan.Close(); err != nil {
		return fmt.Errorf("close publisher channel: %w", err)
	}

	return nil
}
