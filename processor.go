// SPDX-License-Identifier: MIT
// Copyright © 2024–2026 Alexander Demin

package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/GwynCerbin/amqp_feed/pkg/broker"

	"go.uber.org/zap"
)

// ForwardFunc delivers a decoded payload. A non-nil error halts the feed.
type ForwardFunc func(ctx context.Context, payload any) error

// ErrorFunc receives an ErrorEvent. ctx identifies the emitting processor:
// passing it to Processor.Stop (directly or through Registry.Remove) stops
// the processor from inside the listener.
type ErrorFunc func(ctx context.Context, ev *ErrorEvent)

// ProcessorConfig describes the subscription a Processor runs.
//   - Forward is required.
//   - OnError receives every ErrorEvent once, from a goroutine that is not the
//     message handler.
//   - Logger and Metrics are optional.
type ProcessorConfig struct {
	FeedID  string
	Queue   string
	Format  Format
	Forward ForwardFunc
	OnError ErrorFunc
	Logger  *zap.Logger
	Metrics *Metrics
}

// Processor consumes one queue through a broker.Channel, forwarding each
// decoded message and acknowledging it on success.
//
// The channel credit is set to one before subscribing, so the broker never
// hands out a second message while the first is unacknowledged. A failed
// decode, forward or ack leaves the credit consumed: the feed stops making
// progress until Stop returns the message to the queue.
type Processor struct {
	feedID  string
	queue   string
	format  Format
	ch      broker.Channel
	sub     broker.Subscription
	forward ForwardFunc
	onError ErrorFunc
	logger  *zap.Logger
	metrics *Metrics

	// ctx is passed to forward calls and canceled when Stop completes.
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	pending []*ErrorEvent
	wake    chan struct{}
	quit    chan struct{}
	// notified is closed when the notifier goroutine returned.
	notified chan struct{}

	stopping atomic.Bool
	// halted is closed as soon as Stop begins.
	halted chan struct{}
}

type notifierKey struct{}

// StartProcessor sets the channel credit to 1, verifies the queue and
// subscribes. Nothing is subscribed when an error is returned.
// ctx bounds the start sequence only; its values are kept for forward calls.
func StartProcessor(ctx context.Context, ch broker.Channel, cfg ProcessorConfig) (*Processor, error) {
	if ch == nil {
		return nil, ProcessorConfError{Reason: "nil channel"}
	}

	if cfg.Forward == nil {
		return nil, ProcessorConfError{Reason: "nil forward func"}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &Processor{
		feedID:   cfg.FeedID,
		queue:    cfg.Queue,
		format:   cfg.Format,
		ch:       ch,
		forward:  cfg.Forward,
		onError:  cfg.OnError,
		logger:   logger.With(zap.String("feed", cfg.FeedID), zap.String("queue", cfg.Queue)),
		metrics:  cfg.Metrics,
		wake:     make(chan struct{}, 1),
		quit:     make(chan struct{}),
		notified: make(chan struct{}),
		halted:   make(chan struct{}),
	}

	if err := ch.SetPrefetch(1); err != nil {
		return nil, fmt.Errorf("set prefetch: %w", err)
	}

	if err := ch.VerifyQueue(cfg.Queue); err != nil {
		var qe broker.QueueUnavailableError
		if !errors.As(err, &qe) {
			err = broker.QueueUnavailableError{Queue: cfg.Queue, Err: err}
		}

		return nil, err
	}

	p.ctx, p.cancel = context.WithCancel(context.WithoutCancel(ctx))

	go p.notify()

	sub, err := ch.Subscribe(cfg.Queue, p.handle)
	if err != nil {
		p.stopping.Store(true)
		close(p.halted)
		p.cancel()
		close(p.quit)

		var se broker.SubscribeError
		if !errors.As(err, &se) {
			err = broker.SubscribeError{Queue: cfg.Queue, Err: err}
		}

		return nil, err
	}

	p.sub = sub

	go p.watch()

	p.logger.Info("processor started", zap.String("consumer_tag", sub.ConsumerTag()))

	return p, nil
}

// handle runs once per delivery. It never panics and never acknowledges a
// message whose decode or forward failed.
func (p *Processor) handle(msg broker.Message) {
	if p.stopping.Load() {
		p.logger.Debug("processor stopping, message left for redelivery", zap.Uint64("delivery_tag", msg.DeliveryTag()))
		return
	}

	if ce := p.logger.Check(zap.DebugLevel, "message received"); ce != nil {
		ce.Write(
			zap.Uint64("delivery_tag", msg.DeliveryTag()),
			zap.Bool("redelivered", msg.IsRedelivered()),
			zap.String("content_type", msg.ContentType()),
			zap.Int("size", len(msg.Body())),
		)
	}

	payload, err := Decode(p.format, msg.Body())
	if err != nil {
		p.fail(DecodeError, err)
		return
	}

	if err = p.safeForward(payload); err != nil {
		p.fail(ForwardError, err)
		return
	}

	if err = p.ch.Ack(msg); err != nil {
		p.fail(AcknowledgeError, err)
		return
	}

	p.metrics.messageForwarded(p.feedID)
	p.logger.Debug("message forwarded", zap.Uint64("delivery_tag", msg.DeliveryTag()))
}

func (p *Processor) safeForward(payload any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = PanicError{Value: r}
		}
	}()

	return p.forward(p.ctx, payload)
}

// watch reports a delivery stream that ended without Stop.
func (p *Processor) watch() {
	select {
	case <-p.sub.Done():
	case <-p.halted:
		return
	}

	if p.stopping.Load() {
		return
	}

	err := p.sub.Err()
	if err == nil {
		err = broker.StreamClosedError{Queue: p.queue}
	}

	p.fail(ConsumeError, err)
}

// fail queues an ErrorEvent for the notifier goroutine.
func (p *Processor) fail(kind ErrorKind, err error) {
	p.metrics.feedFailed(p.feedID, kind)
	p.logger.Error("message handling failed, feed halted", zap.Stringer("kind", kind), zap.Error(err))

	p.mu.Lock()
	p.pending = append(p.pending, &ErrorEvent{FeedID: p.feedID, Kind: kind, Err: err})
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// notify hands queued events to onError until the processor stops. Events
// still queued once Stop has begun are dropped.
func (p *Processor) notify() {
	defer close(p.notified)

	ctx := context.WithValue(context.WithoutCancel(p.ctx), notifierKey{}, p)

	for {
		select {
		case <-p.quit:
			return
		case <-p.wake:
		}

		p.mu.Lock()
		events := p.pending
		p.pending = nil
		p.mu.Unlock()

		for _, ev := range events {
			if p.stopping.Load() {
				p.logger.Debug("processor stopping, error event dropped", zap.Error(ev))
				continue
			}

			if p.onError != nil {
				p.onError(ctx, ev)
			}
		}
	}
}

// emitter returns the processor whose error listener ctx was handed to.
func emitter(ctx context.Context) *Processor {
	p, _ := ctx.Value(notifierKey{}).(*Processor)

	return p
}

// Stop cancels the subscription and waits until the in-flight message and
// error listener call, if any, have returned or ctx is done. Once Stop
// returns nil, neither forward nor the error listener runs again.
// Called with the ctx given to the error listener, Stop does not wait for
// that listener call. Calling Stop again is a no-op.
func (p *Processor) Stop(ctx context.Context) error {
	if !p.stopping.CompareAndSwap(false, true) {
		return nil
	}

	close(p.halted)

	var errs []error

	if err := p.ch.Cancel(ctx, p.sub); err != nil {
		errs = append(errs, err)
	}

	close(p.quit)
	p.cancel()

	if emitter(ctx) != p {
		select {
		case <-p.notified:
		case <-ctx.Done():
			errs = append(errs, fmt.Errorf("wait for error listener: %w", ctx.Err()))
		}
	}

	if len(errs) != 0 {
		return fmt.Errorf("stop processor: %w", errors.Join(errs...))
	}

	p.logger.Info("processor stopped")

	return nil
}

// Halted is closed once Stop has begun.
func (p *Processor) Halted() <-chan struct{} {
	return p.halted
}

// Queue returns the name of the consumed queue.
func (p *Processor) Queue() string {
	return p.queue
}
