// SPDX-License-Identifier: MIT
// Copyright © 2024–2026 Alexander Demin

package feed

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the prometheus collectors of a feed provider.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	forwarded *prometheus.CounterVec
	failures  *prometheus.CounterVec
	active    prometheus.Gauge
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		forwarded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "amqpfeed_messages_forwarded_total",
				Help: "Number of messages fired at the trigger registry and acknowledged",
			},
			[]string{"feed"},
		),
		failures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "amqpfeed_feed_errors_total",
				Help: "Number of message handling failures that halted a feed",
			},
			[]string{"feed", "kind"},
		),
		active: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "amqpfeed_active_feeds",
				Help: "Number of feeds with a running message processor",
			},
		),
	}

	for _, c := range []prometheus.Collector{m.forwarded, m.failures, m.active} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}

	return m, nil
}

func (m *Metrics) messageForwarded(feedID string) {
	if m == nil {
		return
	}

	m.forwarded.WithLabelValues(feedID).Inc()
}

func (m *Metrics) feedFailed(feedID string, kind ErrorKind) {
	if m == nil {
		return
	}

	m.failures.WithLabelValues(feedID, kind.String()).Inc()
}

func (m *Metrics) feedStarted() {
	if m == nil {
		return
	}

	m.active.Inc()
}

func (m *Metrics) feedStopped() {
	if m == nil {
		return
	}

	m.active.Dec()
}
