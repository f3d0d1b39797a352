// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2024 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package stomp

import (
	"fmt"

	"github.com/mochi-mqtt/stomp/frames"
)

// Kind classifies a protocol rejection.
type Kind byte

const (
	KindMalformed Kind = iota
	KindNotAuthenticated
	KindNotSubscribed
	KindInvalidIdentifier
	KindCredentialRejected
	KindUnavailable
)

// Code is a protocol rejection sent to a client as an ERROR frame.
type Code struct {
	Message     string // the short message header value
	Description string // the frame body
	Kind        Kind
}

// Error returns the short message of the code.
func (c Code) Error() string {
	return c.Message
}

// Is matches codes by message and kind, so described copies still match their origin.
func (c Code) Is(target error) bool {
	t, ok := target.(Code)
	return ok && t.Message == c.Message && t.Kind == c.Kind
}

// Recoverable indicates the client could correct the frame and continue on the same connection.
func (c Code) Recoverable() bool {
	switch c.Kind {
	case KindMalformed, KindNotSubscribed, KindInvalidIdentifier:
		return true
	default:
		return false
	}
}

// Describe returns a copy of the code with a formatted description.
func (c Code) Describe(format string, a ...any) Code {
	c.Description = fmt.Sprintf(format, a...)
	return c
}

// Frame renders the code as an ERROR frame, echoing a receipt id if one is given.
func (c Code) Frame(receipt string) frames.Frame {
	h := frames.Headers{
		frames.HeaderMessage: c.Message,
	}
	if receipt != "" {
		h[frames.HeaderReceiptID] = receipt
	}
	return frames.New(frames.Error, h, c.Description)
}

var (
	ErrNotLoggedIn           = Code{Message: "User not logged in", Description: "You must log in first.", Kind: KindNotAuthenticated}
	ErrMalformedConnect      = Code{Message: "Malformed Frame", Description: "Invalid CONNECT frame parameters", Kind: KindMalformed}
	ErrMalformedSend         = Code{Message: "Malformed Frame", Description: "Missing destination or body", Kind: KindMalformed}
	ErrMalformedSubscribe    = Code{Message: "Malformed Frame", Description: "Missing destination or id header", Kind: KindMalformed}
	ErrMalformedUnsubscribe  = Code{Message: "Malformed Frame", Description: "Missing id header", Kind: KindMalformed}
	ErrInvalidID             = Code{Message: "Invalid ID", Description: "Subscription ID must be a number", Kind: KindInvalidIdentifier}
	ErrNotSubscribedTo       = Code{Message: "Not subscribed", Description: "User is not subscribed to topic", Kind: KindNotSubscribed}
	ErrWrongPassword         = Code{Message: "Wrong password", Description: "Password does not match", Kind: KindCredentialRejected}
	ErrAlreadyLoggedIn       = Code{Message: "User already logged in", Description: "User is already logged in", Kind: KindCredentialRejected}
	ErrServerUnavailable     = Code{Message: "Server unavailable", Description: "The server is not accepting new connections", Kind: KindUnavailable}
	ErrFrameRejectedByServer = Code{Message: "Frame rejected", Description: "The frame was rejected by the server", Kind: KindMalformed}
)
