// SPDX-License-Identifier: MIT
// Copyright © 2024–2026 Alexander Demin

package adapter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/GwynCerbin/amqp_feed/pkg/broker"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const consumerTagPrefix = "amqpfeed-"

// closeReasonWait bounds how long dispatch waits for the channel close reason
// after the delivery stream ended.
const closeReasonWait = 100 * time.Millisecond

// Channel implements broker.Channel on top of one AMQP channel and the
// connection it was opened on. Closing the Channel closes both.
type Channel struct {
	// con is the parent connection, owned by this channel.
	con *Con
	// rabChan is the AMQP channel used for consuming messages.
	rabChan *amqp091.Channel
	logger  *zap.Logger
	// notifyClose receives the reason when the broker closes the channel.
	notifyClose chan *amqp091.Error

	mu   sync.Mutex
	subs map[string]*subscription

	closed atomic.Bool
}

// subscription tracks one consumer and the goroutine dispatching its deliveries.
type subscription struct {
	tag   string
	queue string
	// done is closed once the dispatch goroutine returned.
	done chan struct{}
	// canceled is set before basic.cancel is sent.
	canceled atomic.Bool
	// err is written before done is closed.
	err error
}

// ConsumerTag returns the consumer tag sent with basic.consume.
func (s *subscription) ConsumerTag() string {
	return s.tag
}

// Done is closed when the dispatch goroutine returned.
func (s *subscription) Done() <-chan struct{} {
	return s.done
}

// Err reports why the delivery stream ended, nil after Cancel.
func (s *subscription) Err() error {
	return s.err
}

func newChannel(con *Con, ch *amqp091.Channel) *Channel {
	mimetype.SetLimit(mimeReadLimit)

	return &Channel{
		con:         con,
		rabChan:     ch,
		logger:      con.logger,
		notifyClose: ch.NotifyClose(make(chan *amqp091.Error, 1)),
		subs:        make(map[string]*subscription),
	}
}

// SetPrefetch sets the per-consumer delivery credit with basic.qos.
func (c *Channel) SetPrefetch(n int) error {
	if err := c.rabChan.Qos(n, 0, false); err != nil {
		return fmt.Errorf("set prefetch %d: %w", n, err)
	}

	return nil
}

// VerifyQueue declares the queue passively. A missing queue makes the broker
// close the AMQP channel, so the Channel is unusable afterwards.
func (c *Channel) VerifyQueue(name string) error {
	if _, err := c.rabChan.QueueDeclarePassive(name, false, false, false, false, nil); err != nil {
		return broker.QueueUnavailableError{Queue: name, ReplyCode: replyCode(err), Err: err}
	}

	return nil
}

// Subscribe starts a manual-ack consumer on the queue and feeds its deliveries
// to handler from a single goroutine.
func (c *Channel) Subscribe(name string, handler func(broker.Message)) (broker.Subscription, error) {
	if c.closed.Load() {
		return nil, broker.SubscribeError{Queue: name, Err: ConnClosedError{}}
	}

	tag := consumerTagPrefix + uuid.NewString()

	deliveries, err := c.rabChan.Consume(name, tag, false, false, false, false, nil)
	if err != nil {
		return nil, broker.SubscribeError{Queue: name, ReplyCode: replyCode(err), Err: err}
	}

	sub := &subscription{
		tag:   tag,
		queue: name,
		done:  make(chan struct{}),
	}

	c.mu.Lock()
	c.subs[tag] = sub
	c.mu.Unlock()

	go c.dispatch(sub, deliveries, handler)

	c.logger.Debug("consumer started", zap.String("queue", name), zap.String("consumer_tag", tag))

	return sub, nil
}

// dispatch runs handler for each delivery in order. The next delivery is not
// read before handler returns.
func (c *Channel) dispatch(sub *subscription, deliveries <-chan amqp091.Delivery, handler func(broker.Message)) {
	defer close(sub.done)

	for d := range deliveries {
		handler(&Message{deliver: d, owner: c})
	}

	if sub.canceled.Load() || c.closed.Load() {
		c.logger.Debug("delivery stream closed", zap.String("queue", sub.queue), zap.String("consumer_tag", sub.tag))
		return
	}

	serr := broker.StreamClosedError{Queue: sub.queue}

	select {
	case e, ok := <-c.notifyClose:
		if ok && e != nil {
			serr.ReplyCode, serr.Reason = e.Code, e.Reason
		}
	case <-time.After(closeReasonWait):
	}

	sub.err = serr

	c.logger.Warn("delivery stream closed unexpectedly", zap.String("queue", sub.queue), zap.String("consumer_tag", sub.tag), zap.Error(serr))
}

// Ack acknowledges a single delivery received on this channel.
func (c *Channel) Ack(msg broker.Message) error {
	m, ok := msg.(*Message)
	if !ok || m.owner != c {
		return broker.ForeignMessageError{}
	}

	if err := m.ack(); err != nil {
		return fmt.Errorf("ack delivery %d: %w", m.DeliveryTag(), err)
	}

	return nil
}

// Cancel sends basic.cancel for the subscription and waits for its dispatch
// goroutine to finish the in-flight delivery. Unknown subscriptions are ignored.
func (c *Channel) Cancel(ctx context.Context, sub broker.Subscription) error {
	if sub == nil {
		return nil
	}

	c.mu.Lock()
	s, ok := c.subs[sub.ConsumerTag()]
	delete(c.subs, sub.ConsumerTag())
	c.mu.Unlock()

	if !ok {
		return nil
	}

	s.canceled.Store(true)

	// A closed channel has already shut every delivery stream down.
	if err := c.rabChan.Cancel(s.tag, false); err != nil && !errors.Is(err, amqp091.ErrClosed) {
		return fmt.Errorf("cancel consumer %s: %w", s.tag, err)
	}

	select {
	case <-s.done:
		c.logger.Debug("consumer canceled", zap.String("queue", s.queue), zap.String("consumer_tag", s.tag))
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for consumer %s: %w", s.tag, ctx.Err())
	}
}

// Close closes the AMQP channel and its connection. The broker requeues any
// unacknowledged delivery. Calling Close more than once is a no-op.
func (c *Channel) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	var errs []error

	if err := c.rabChan.Close(); err != nil && !errors.Is(err, amqp091.ErrClosed) {
		errs = append(errs, fmt.Errorf("close channel: %w", err))
	}

	if err := c.con.Close(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}
