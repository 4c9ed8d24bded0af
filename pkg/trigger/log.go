// SPDX-License-Identifier: MIT
// Copyright © 2024–2026 Alexander Demin

package trigger

import (
	"context"
	"fmt"

	feed "github.com/GwynCerbin/amqp_feed"

	"go.uber.org/zap"
)

// Remover removes a feed by id. *feed.Registry implements it.
type Remover interface {
	Remove(ctx context.Context, id string) error
}

// LogRegistry is a feed.TriggerRegistry that writes every fired event to a
// zap logger. When a Remover is set, disabled feeds are removed from it.
type LogRegistry struct {
	logger  *zap.Logger
	remover Remover
}

var _ feed.TriggerRegistry = (*LogRegistry)(nil)

// NewLogRegistry returns a LogRegistry writing to logger.
func NewLogRegistry(logger *zap.Logger) *LogRegistry {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &LogRegistry{logger: logger}
}

// SetRemover makes Disable remove the feed. Call it before feeds are added.
func (l *LogRegistry) SetRemover(r Remover) {
	l.remover = r
}

// Fire logs ev. It never fails.
func (l *LogRegistry) Fire(_ context.Context, id string, ev feed.Event) error {
	l.logger.Info("trigger fired", zap.String("trigger", id), zap.Any("event", map[string]any(ev)))

	return nil
}

// Disable logs the failure and removes the feed when a Remover is set.
func (l *LogRegistry) Disable(ctx context.Context, id string, code *int, message string) error {
	fields := []zap.Field{zap.String("trigger", id), zap.String("reason", message)}
	if code != nil {
		fields = append(fields, zap.Int("code", *code))
	}

	l.logger.Warn("trigger feed disabled", fields...)

	if l.remover == nil {
		return nil
	}

	if err := l.remover.Remove(ctx, id); err != nil {
		return fmt.Errorf("remove disabled feed %s: %w", id, err)
	}

	return nil
}
