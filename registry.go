// SPDX-License-Identifier: MIT
// Copyright © 2024–2026 Alexander Demin

package feed

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/GwynCerbin/amqp_feed/pkg/broker"

	"go.uber.org/zap"
)

// Registry maps feed ids to running processors. Every feed owns its own
// channel and connection.
//
// Add and Remove for the same id are serialized; different ids never wait
// for each other.
type Registry struct {
	dialer   broker.Dialer
	triggers TriggerRegistry
	logger   *zap.Logger
	metrics  *Metrics

	locks *keyLock

	mu    sync.RWMutex
	feeds map[string]*entry
}

type entry struct {
	cfg  FeedConfig
	ch   broker.Channel
	proc *Processor
}

// NewRegistry returns an empty Registry opening channels with dialer and
// reporting to triggers.
func NewRegistry(dialer broker.Dialer, triggers TriggerRegistry) *Registry {
	return &Registry{
		dialer:   dialer,
		triggers: triggers,
		logger:   zap.NewNop(),
		locks:    newKeyLock(),
		feeds:    make(map[string]*entry),
	}
}

// SetLogger overrides the default no-op logger. Call it before the first Add.
func (r *Registry) SetLogger(logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}

	r.logger = logger
}

// SetMetrics enables metrics collection. Call it before the first Add.
func (r *Registry) SetMetrics(m *Metrics) {
	r.metrics = m
}

// Add starts a feed for id, replacing any feed already registered under it.
// The previous feed is fully stopped and closed before the new channel is
// opened. On error nothing is registered for id.
func (r *Registry) Add(ctx context.Context, id string, cfg FeedConfig) error {
	if err := cfg.check(); err != nil {
		return err
	}

	unlock := r.locks.Lock(id)
	defer unlock()

	if err := r.remove(ctx, id); err != nil {
		r.logger.Warn("replaced feed did not shut down cleanly", zap.String("feed", id), zap.Error(err))
	}

	ch, err := r.dialer.Open(ctx, cfg.URL, broker.TLSMaterial{CA: cfg.Cert})
	if err != nil {
		var ce broker.ConnectError
		if !errors.As(err, &ce) {
			err = broker.ConnectError{Target: broker.RedactURL(cfg.URL), Err: err}
		}

		return fmt.Errorf("add feed %s: %w", id, err)
	}

	proc, err := StartProcessor(ctx, ch, ProcessorConfig{
		FeedID:  id,
		Queue:   cfg.Queue,
		Format:  cfg.Format,
		Forward: r.forwarder(id),
		OnError: r.disabler(id),
		Logger:  r.logger,
		Metrics: r.metrics,
	})
	if err != nil {
		if cerr := ch.Close(); cerr != nil {
			r.logger.Warn("close channel of rejected feed", zap.String("feed", id), zap.Error(cerr))
		}

		return fmt.Errorf("add feed %s: %w", id, err)
	}

	r.mu.Lock()
	r.feeds[id] = &entry{cfg: cfg, ch: ch, proc: proc}
	r.mu.Unlock()

	r.metrics.feedStarted()
	r.logger.Info("feed added", zap.String("feed", id), zap.String("queue", cfg.Queue), zap.String("format", string(cfg.Format)))

	return nil
}

// Remove stops the feed registered under id and closes its connection.
// Unknown ids are a no-op. The entry is deleted even when the teardown
// reports an error; once Remove returns no further event for id is fired.
//
// Called with the ctx of a feed's error listener, Remove only removes that
// feed: it returns nil once the feed is already being stopped or id has been
// re-added since.
func (r *Registry) Remove(ctx context.Context, id string) error {
	owner := emitter(ctx)

	var abort <-chan struct{}
	if owner != nil {
		abort = owner.Halted()
	}

	unlock, ok := r.locks.LockOrAbort(id, abort)
	if !ok {
		r.logger.Debug("feed already stopping, remove skipped", zap.String("feed", id))
		return nil
	}

	defer unlock()

	if owner != nil && !r.runs(id, owner) {
		r.logger.Debug("feed replaced, stale remove skipped", zap.String("feed", id))
		return nil
	}

	return r.remove(ctx, id)
}

// runs reports whether id is still served by proc.
func (r *Registry) runs(id string, proc *Processor) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.feeds[id]

	return ok && e.proc == proc
}

// remove must be called with the id lock held.
func (r *Registry) remove(ctx context.Context, id string) error {
	r.mu.RLock()
	e, ok := r.feeds[id]
	r.mu.RUnlock()

	if !ok {
		return nil
	}

	defer func() {
		r.mu.Lock()
		delete(r.feeds, id)
		r.mu.Unlock()

		r.metrics.feedStopped()
	}()

	var errs []error

	if err := e.proc.Stop(ctx); err != nil {
		errs = append(errs, err)
	}

	if err := e.ch.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close channel: %w", err))
	}

	if len(errs) != 0 {
		return fmt.Errorf("remove feed %s: %w", id, errors.Join(errs...))
	}

	r.logger.Info("feed removed", zap.String("feed", id))

	return nil
}

// Close removes every registered feed.
func (r *Registry) Close(ctx context.Context) error {
	var errs []error

	for _, id := range r.IDs() {
		if err := r.Remove(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// IDs returns the registered feed ids in lexical order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.feeds))
	for id := range r.feeds {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Strings(ids)

	return ids
}

// Config returns the configuration of the feed registered under id.
func (r *Registry) Config(id string) (FeedConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.feeds[id]
	if !ok {
		return FeedConfig{}, false
	}

	return e.cfg, true
}

// Has reports whether a feed is registered under id.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.feeds[id]

	return ok
}

// Len returns the number of registered feeds.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.feeds)
}

func (r *Registry) forwarder(id string) ForwardFunc {
	return func(ctx context.Context, payload any) error {
		return r.triggers.Fire(ctx, id, newEvent(payload))
	}
}

// disabler reports processor failures to the trigger registry. It runs on the
// processor's notifier goroutine; the trigger registry may call Remove with
// the ctx it receives.
func (r *Registry) disabler(id string) ErrorFunc {
	return func(ctx context.Context, ev *ErrorEvent) {
		reason := FormatError(ev.Err)

		if err := r.triggers.Disable(ctx, id, nil, reason); err != nil {
			r.logger.Error("report disabled feed", zap.String("feed", id), zap.Error(err))
			return
		}

		r.logger.Warn("feed disabled", zap.String("feed", id), zap.Stringer("kind", ev.Kind), zap.String("reason", reason))
	}
}

func (c FeedConfig) check() error {
	switch {
	case c.URL == "":
		return ValidationError{Msg: "amqp trigger feed: missing url parameter"}
	case c.Queue == "":
		return ValidationError{Msg: "amqp trigger feed: missing queue parameter"}
	case !c.Format.Valid():
		return ValidationError{Msg: fmt.Sprintf("amqp trigger feed: unsupported format %q", c.Format)}
	}

	return nil
}
