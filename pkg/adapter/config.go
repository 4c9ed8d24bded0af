// SPDX-License-Identifier: MIT
// Copyright © 2024–2026 Alexander Demin

package adapter

import (
	"time"

	"github.com/rabbitmq/amqp091-go"
)

const mimeReadLimit = 512 //bytes that mime will read

const (
	defaultHeartbeat        = 10 * time.Second
	defaultHandshakeTimeout = 30 * time.Second
	defaultLocale           = "en_US"
)

// Client holds connection settings shared by every feed connection.
// Credentials and virtual host travel in the feed URL.
type Client struct {
	TcpHeartBeat     time.Duration `env:"HEARTBEAT" yaml:"tcp_heartbeat"`
	HandshakeTimeout time.Duration `env:"HANDSHAKE_TIMEOUT" yaml:"handshake_timeout"`
	Properties       amqp091.Table `env:"PROPERTIES" yaml:"properties"`
	Locale           string        `env:"LOCALE" yaml:"locale"`
}

// PublisherConfig selects where a Publisher sends messages. It is used by
// integration tooling; feeds never publish.
type PublisherConfig struct {
	ExchangeName      string `env:"EXCHANGE" yaml:"exchange"`
	RoutingKey        string `env:"ROUTING" yaml:"routing_key"`
	MessagePersistent bool   `env:"PERSISTENT" yaml:"is_persistent"`
	AppId             string `env:"APP_ID" yaml:"app_id"`
}

// QueueDeclare describes a queue created by Con.DeclareQueue when preparing
// an integration environment. Feeds only verify existing queues.
type QueueDeclare struct {
	Name       string        `env:"NAME" yaml:"name"`
	Durable    bool          `env:"DURABLE" yaml:"durable"`
	AutoDelete bool          `env:"AUTO_DELETE" yaml:"auto_delete"`
	Exclusive  bool          `env:"EXCLUSIVE" yaml:"exclusive"`
	Args       amqp091.Table `env:"ARGS" yaml:"args"`
}

func (c Client) withDefaults() Client {
	if c.TcpHeartBeat == 0 {
		c.TcpHeartBeat = defaultHeartbeat
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = defaultHandshakeTimeout
	}
	if c.Locale == "" {
		c.Locale = defaultLocale
	}

	return c
}
