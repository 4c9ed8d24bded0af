// SPDX-License-Identifier: MIT
// Copyright © 2024–2026 Alexander Demin

package adapter

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/GwynCerbin/amqp_feed/pkg/broker"

	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Dialer opens a dedicated AMQP connection for every feed.
// It implements broker.Dialer.
type Dialer struct {
	cfg    Client
	logger *zap.Logger
}

// NewDialer returns a Dialer using cfg for every connection it opens.
// A nil cfg selects the defaults, a nil logger discards log output.
func NewDialer(cfg *Client, logger *zap.Logger) *Dialer {
	var c Client
	if cfg != nil {
		c = *cfg
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	return &Dialer{
		cfg:    c.withDefaults(),
		logger: logger,
	}
}

// Con wraps one AMQP connection. It is used directly for queue management and
// publishing, and underlies every Channel returned by Dialer.Open.
type Con struct {
	// connection holds the active AMQP connection.
	connection *amqp091.Connection
	// target is the broker URI with credentials redacted.
	target string
	logger *zap.Logger
	closed atomic.Bool
}

// Open connects to target and opens one channel on the new connection.
func (d *Dialer) Open(ctx context.Context, target string, tlsm broker.TLSMaterial) (broker.Channel, error) {
	con, err := d.Connect(ctx, target, tlsm)
	if err != nil {
		return nil, err
	}

	ch, err := con.connection.Channel()
	if err != nil {
		if cerr := con.Close(); cerr != nil {
			d.logger.Warn("close connection after channel failure", zap.Error(cerr))
		}

		return nil, broker.ConnectError{Target: con.target, ReplyCode: replyCode(err), Err: fmt.Errorf("create channel: %w", err)}
	}

	return newChannel(con, ch), nil
}

// Connect dials the broker at target. Credentials and vhost are taken from the
// URI. When tlsm carries a CA it becomes the only trusted root; TLS itself is
// selected by the amqps scheme.
func (d *Dialer) Connect(ctx context.Context, target string, tlsm broker.TLSMaterial) (*Con, error) {
	redacted := broker.RedactURL(target)

	tlsCfg, err := tlsConfig(tlsm)
	if err != nil {
		return nil, broker.ConnectError{Target: redacted, Err: err}
	}

	clientCfg := amqp091.Config{
		Heartbeat:       d.cfg.TcpHeartBeat,
		Properties:      d.cfg.Properties,
		Locale:          d.cfg.Locale,
		TLSClientConfig: tlsCfg,
		Dial:            contextDial(ctx, d.cfg.HandshakeTimeout),
	}

	con, err := amqp091.DialConfig(target, clientCfg)
	if err != nil {
		return nil, broker.ConnectError{Target: redacted, ReplyCode: replyCode(err), Err: fmt.Errorf("dial amqp091: %w", err)}
	}

	c := &Con{
		connection: con,
		target:     redacted,
		logger:     d.logger.With(zap.String("target", redacted)),
	}

	go c.watch(con.NotifyClose(make(chan *amqp091.Error, 1)))

	c.logger.Debug("connection opened")

	return c, nil
}

// watch logs the connection shutdown. The connection is never re-dialed:
// recovery is left to the owner removing and re-adding the feed.
func (c *Con) watch(notify chan *amqp091.Error) {
	err, ok := <-notify
	if !ok || err == nil {
		c.logger.Debug("connection closed")
		return
	}

	c.logger.Warn("connection closed by broker", zap.Int("code", err.Code), zap.String("reason", err.Reason))
}

// DeclareQueue opens a channel, declares a queue, and closes the channel.
// Feeds never declare queues; this prepares integration environments.
func (c *Con) DeclareQueue(cfg *QueueDeclare) error {
	ch, err := c.connection.Channel()
	if err != nil {
		return fmt.Errorf("create channel: %w", err)
	}

	defer c.closeChannel(ch)

	if _, err = ch.QueueDeclare(cfg.Name, cfg.Durable, cfg.AutoDelete, cfg.Exclusive, false, cfg.Args); err != nil {
		return fmt.Errorf("create queue: %w", err)
	}

	return nil
}

// DeleteQueue removes an existing queue by name. Like DeclareQueue it is
// integration tooling.
func (c *Con) DeleteQueue(name string) error {
	ch, err := c.connection.Channel()
	if err != nil {
		return fmt.Errorf("create channel: %w", err)
	}

	defer c.closeChannel(ch)

	if _, err = ch.QueueDelete(name, false, false, false); err != nil {
		return fmt.Errorf("delete queue: %w", err)
	}

	return nil
}

// CreatePublisher returns a broker.Publisher that waits for broker confirmation
// of every message.
func (c *Con) CreatePublisher(cfg *PublisherConfig) (broker.Publisher, error) {
	if cfg == nil {
		cfg = &PublisherConfig{}
	}

	return newPublisher(c, *cfg)
}

func (c *Con) closeChannel(ch *amqp091.Channel) {
	if err := ch.Close(); err != nil && !errors.Is(err, amqp091.ErrClosed) {
		c.logger.Warn("close channel", zap.Error(err))
	}
}

// Close shuts the connection down. Calling Close more than once is a no-op.
func (c *Con) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	if err := c.connection.Close(); err != nil && !errors.Is(err, amqp091.ErrClosed) {
		return fmt.Errorf("close connection error: %w", err)
	}

	return nil
}

// tlsConfig builds a client TLS configuration trusting only the given CA.
// It returns nil when no CA is provided so that amqp091 uses its defaults.
func tlsConfig(tlsm broker.TLSMaterial) (*tls.Config, error) {
	if tlsm.CA == "" {
		return nil, nil
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM([]byte(tlsm.CA)) {
		return nil, InvalidCertError{}
	}

	return &tls.Config{
		RootCAs:    pool,
		MinVersion: tls.VersionTLS12,
	}, nil
}

// contextDial dials with ctx and bounds the AMQP handshake by timeout or the
// context deadline, whichever comes first. amqp091 clears the deadline once
// the connection is open.
func contextDial(ctx context.Context, timeout time.Duration) func(network, addr string) (net.Conn, error) {
	return func(network, addr string) (net.Conn, error) {
		dialer := net.Dialer{Timeout: timeout}

		conn, err := dialer.DialContext(ctx, network, addr)
		if err != nil {
			return nil, err
		}

		deadline := time.Now().Add(timeout)
		if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
			deadline = d
		}

		if err = conn.SetDeadline(deadline); err != nil {
			_ = conn.Close()
			return nil, err
		}

		return conn, nil
	}
}
