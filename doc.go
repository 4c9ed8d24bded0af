// SPDX-License-Identifier: MIT
// Copyright © 2024–2026 Alexander Demin

// Package feed bridges RabbitMQ queues to a trigger registry.
//
// Every feed registered with a Registry consumes one queue through its own
// connection, one message at a time: the message is decoded, fired at the
// TriggerRegistry and acknowledged only after the fire succeeded. The first
// failure halts the feed and is reported through TriggerRegistry.Disable;
// the unacknowledged message returns to the queue when the feed is removed.
package feed
