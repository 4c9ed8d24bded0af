// SPDX-License-Identifier: MIT
// Copyright © 2024–2026 Alexander Demin

package feed

import (
	"context"
	"encoding/base64"
	"encoding/pem"
	"strings"

	"github.com/GwynCerbin/amqp_feed/pkg/broker"
)

const (
	certFormatUTF8   = "utf-8"
	certFormatBase64 = "base64"
)

// Params are the raw feed parameters supplied by the caller.
type Params struct {
	URL        string `yaml:"url"`
	Queue      string `yaml:"queue"`
	Format     string `yaml:"format"`
	Cert       string `yaml:"cert"`
	CertFormat string `yaml:"cert_format"`
}

// Validate checks params, decodes the certificate and probes the broker:
// it opens a channel, verifies the queue and closes the channel again.
// No feed is registered. Every failure is a ValidationError.
func Validate(ctx context.Context, dialer broker.Dialer, params Params) (FeedConfig, error) {
	cfg := FeedConfig{
		URL:    params.URL,
		Queue:  params.Queue,
		Format: Format(params.Format),
	}

	if cfg.URL == "" {
		return FeedConfig{}, ValidationError{Msg: "amqp trigger feed: missing url parameter"}
	}

	if cfg.Queue == "" {
		return FeedConfig{}, ValidationError{Msg: "amqp trigger feed: missing queue parameter"}
	}

	if !cfg.Format.Valid() {
		return FeedConfig{}, ValidationError{Msg: "amqp trigger feed: format parameter must be json, utf-8, text or base64"}
	}

	if params.Cert != "" {
		cert, err := decodeCert(params.Cert, params.CertFormat)
		if err != nil {
			return FeedConfig{}, err
		}

		cfg.Cert = cert
	}

	if err := probe(ctx, dialer, cfg); err != nil {
		return FeedConfig{}, ValidationError{Msg: FormatError(err), Err: err}
	}

	return cfg, nil
}

func decodeCert(cert, format string) (string, error) {
	switch format {
	case "", certFormatUTF8:
	case certFormatBase64:
		raw, err := base64.StdEncoding.DecodeString(strings.Join(strings.Fields(cert), ""))
		if err != nil {
			return "", ValidationError{Msg: "amqp trigger feed: cert parameter is not valid base64", Err: err}
		}

		cert = string(raw)
	default:
		return "", ValidationError{Msg: "amqp trigger feed: cert_format parameter must be utf-8 or base64"}
	}

	if block, _ := pem.Decode([]byte(cert)); block == nil || block.Type != "CERTIFICATE" {
		return "", ValidationError{Msg: "amqp trigger feed: cert parameter must hold a PEM encoded certificate"}
	}

	return cert, nil
}

func probe(ctx context.Context, dialer broker.Dialer, cfg FeedConfig) error {
	ch, err := dialer.Open(ctx, cfg.URL, broker.TLSMaterial{CA: cfg.Cert})
	if err != nil {
		return err
	}

	if err = ch.VerifyQueue(cfg.Queue); err != nil {
		_ = ch.Close()
		return err
	}

	return ch.Close()
}
