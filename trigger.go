// SPDX-License-Identifier: MIT
// Copyright © 2024–2026 Alexander Demin

package feed

import "context"

// Event is the parameter set fired for one message: {"msg": <decoded payload>}.
type Event map[string]any

// TriggerRegistry receives fired events and feed failures.
type TriggerRegistry interface {
	// Fire delivers ev to the trigger identified by id. An error halts the feed.
	Fire(ctx context.Context, id string, ev Event) error

	// Disable reports that the feed stopped making progress. code is nil when
	// no reason code applies. Passing ctx to Registry.Remove removes exactly
	// the feed that failed.
	Disable(ctx context.Context, id string, code *int, message string) error
}

// FeedConfig is the validated, immutable description of one feed.
type FeedConfig struct {
	URL    string `yaml:"url"`
	Queue  string `yaml:"queue"`
	Format Format `yaml:"format"`
	// Cert is PEM text trusted as root CA for amqps connections.
	Cert string `yaml:"cert"`
}

func newEvent(payload any) Event {
	return Event{"msg": payload}
}
