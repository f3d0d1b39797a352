// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2024 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

// Package frames encodes and decodes the line-oriented text frames exchanged with stomp clients.
package frames

import (
	"errors"
	"io"
	"sort"
	"strings"
)

// Command is the verb on the first line of a frame.
type Command byte

const (
	Unknown Command = iota
	Connect
	Send
	Subscribe
	Unsubscribe
	Disconnect
	Connected
	Message
	Receipt
	Error
)

// CommandNames maps each known command to its wire text.
var CommandNames = map[Command]string{
	Unknown:     "UNKNOWN",
	Connect:     "CONNECT",
	Send:        "SEND",
	Subscribe:   "SUBSCRIBE",
	Unsubscribe: "UNSUBSCRIBE",
	Disconnect:  "DISCONNECT",
	Connected:   "CONNECTED",
	Message:     "MESSAGE",
	Receipt:     "RECEIPT",
	Error:       "ERROR",
}

var commandsByName = func() map[string]Command {
	m := make(map[string]Command, len(CommandNames))
	for c, name := range CommandNames {
		if c != Unknown {
			m[name] = c
		}
	}
	return m
}()

// String returns the wire text of the command.
func (c Command) String() string {
	if name, ok := CommandNames[c]; ok {
		return name
	}
	return CommandNames[Unknown]
}

// LookupCommand returns the command matching the wire text, or Unknown.
func LookupCommand(s string) Command {
	if c, ok := commandsByName[s]; ok {
		return c
	}
	return Unknown
}

// Header keys used by the broker.
const (
	HeaderAcceptVersion = "accept-version"
	HeaderHost          = "host"
	HeaderLogin         = "login"
	HeaderPasscode      = "passcode"
	HeaderVersion       = "version"
	HeaderDestination   = "destination"
	HeaderID            = "id"
	HeaderReceipt       = "receipt"
	HeaderReceiptID     = "receipt-id"
	HeaderSubscription  = "subscription"
	HeaderMessageID     = "message-id"
	HeaderMessage       = "message"
)

var (
	ErrEmptyFrame = errors.New("empty frame") // the frame text contained no command
)

// Headers is a set of frame headers. Keys are unique.
type Headers map[string]string

// Get returns the value of a header and whether it was present.
func (h Headers) Get(key string) (string, bool) {
	v, ok := h[key]
	return v, ok
}

// Has indicates whether every one of the keys is present.
func (h Headers) Has(keys ...string) bool {
	for _, k := range keys {
		if _, ok := h[k]; !ok {
			return false
		}
	}
	return true
}

// Keys returns the header keys in sorted order.
func (h Headers) Keys() []string {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Frame is a single decoded protocol message.
type Frame struct {
	Command Command
	Name    string // the command text as received, kept for unknown commands
	Headers Headers
	Body    string
}

// New returns a frame for a known command.
func New(c Command, headers Headers, body string) Frame {
	if headers == nil {
		headers = Headers{}
	}
	return Frame{
		Command: c,
		Name:    c.String(),
		Headers: headers,
		Body:    body,
	}
}

// Parse decodes frame text. Lines up to the first blank line are headers; header lines
// without a colon are skipped, and repeated keys keep the last value. Everything after
// the blank line is the body, with trailing newlines removed.
func Parse(text string) (Frame, error) {
	if strings.TrimSpace(text) == "" {
		return Frame{}, ErrEmptyFrame
	}

	lines := strings.Split(text, "\n")
	name := strings.TrimSpace(lines[0])
	f := Frame{
		Command: LookupCommand(name),
		Name:    name,
		Headers: Headers{},
	}

	i := 1
	for ; i < len(lines); i++ {
		line := lines[i]
		if line == "" || line == "\r" {
			break
		}

		k, v, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		f.Headers[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}

	if i < len(lines) {
		f.Body = strings.TrimRight(strings.Join(lines[i+1:], "\n"), "\n")
	}

	return f, nil
}

// String encodes the frame as wire text, without the NUL terminator.
func (f Frame) String() string {
	var sb strings.Builder
	_, _ = f.WriteTo(&sb)
	return sb.String()
}

// WriteTo writes the encoded frame to w.
func (f Frame) WriteTo(w io.Writer) (int64, error) {
	name := f.Name
	if f.Command != Unknown || name == "" {
		name = f.Command.String()
	}

	var sb strings.Builder
	sb.WriteString(name)
	sb.WriteByte('\n')
	for _, k := range f.Headers.Keys() {
		sb.WriteString(k)
		sb.WriteByte(':')
		sb.WriteString(f.Headers[k])
		sb.WriteByte('\n')
	}
	sb.WriteByte('\n')
	sb.WriteString(f.Body)

	n, err := io.WriteString(w, sb.String())
	return int64(n), err
}

// Copy returns a frame with its own header map.
func (f Frame) Copy() Frame {
	h := make(Headers, len(f.Headers))
	for k, v := range f.Headers {
		h[k] = v
	}
	f.Headers = h
	return f
}
