// SPDX-License-Identifier: MIT
// Copyright © 2024–2026 Alexander Demin

package feed

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Format selects how a message body is turned into the fired event payload.
type Format string

const (
	// FormatDefault behaves like FormatUTF8.
	FormatDefault Format = ""
	FormatUTF8    Format = "utf-8"
	FormatText    Format = "text"
	FormatBase64  Format = "base64"
	FormatJSON    Format = "json"
)

// Valid reports whether f is a known format.
func (f Format) Valid() bool {
	switch f {
	case FormatDefault, FormatUTF8, FormatText, FormatBase64, FormatJSON:
		return true
	default:
		return false
	}
}

// Decode converts body according to format. Text formats never fail: invalid
// UTF-8 sequences are replaced with U+FFFD. JSON bodies that do not parse
// return an error.
func Decode(format Format, body []byte) (any, error) {
	switch format {
	case FormatDefault, FormatUTF8, FormatText:
		return toText(body), nil
	case FormatBase64:
		return base64.StdEncoding.EncodeToString(body), nil
	case FormatJSON:
		var v any
		if err := json.Unmarshal([]byte(toText(body)), &v); err != nil {
			return nil, fmt.Errorf("parse json payload: %w", err)
		}

		return v, nil
	default:
		return nil, fmt.Errorf("unsupported message format %q", format)
	}
}

func toText(body []byte) string {
	if utf8.Valid(body) {
		return string(body)
	}

	return strings.ToValidUTF8(string(body), "\uFFFD")
}
