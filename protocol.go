// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2024 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package stomp

import (
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/mochi-mqtt/stomp/frames"
	"github.com/mochi-mqtt/stomp/system"
	"github.com/mochi-mqtt/stomp/users"
)

// ProtocolVersion is the only protocol version the broker negotiates.
const ProtocolVersion = "1.2"

const (
	StateUnauthenticated State = iota // waiting for a successful CONNECT
	StateAuthenticated                // logged in
	StateTerminated                   // disconnected or failed; frames are ignored
)

// State is the login state of a protocol instance.
type State byte

// String returns a readable name for the state.
func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticated:
		return "authenticated"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// ProtocolOptions contains the collaborators and policies of a protocol instance.
type ProtocolOptions struct {
	Log               *slog.Logger                                    // a logger for the connection
	Info              *system.Info                                    // server counters, may be nil
	RecoverableErrors bool                                            // keep the connection open after recoverable errors
	OnLogin           func(username string, status users.LoginStatus) // called after every resolved login
}

// Protocol is the frame state machine of a single connection. Its state is only
// read and written by the execution context which owns the connection, so it is
// not synchronized.
type Protocol struct {
	id              int
	registry        *Registry
	directory       users.Directory
	opts            ProtocolOptions
	state           State
	loggedIn        bool
	shouldTerminate bool
}

// NewProtocol returns a protocol for a connection already registered with the registry.
func NewProtocol(id int, registry *Registry, directory users.Directory, opts ProtocolOptions) *Protocol {
	if opts.Log == nil {
		opts.Log = slog.Default()
	}

	return &Protocol{
		id:        id,
		registry:  registry,
		directory: directory,
		opts:      opts,
	}
}

// ShouldTerminate indicates the connection must be closed.
func (p *Protocol) ShouldTerminate() bool {
	return p.shouldTerminate
}

// State returns the current login state.
func (p *Protocol) State() State {
	return p.state
}

// Process decodes and handles frame text. Text with no command is ignored.
func (p *Protocol) Process(text string) error {
	f, err := frames.Parse(text)
	if errors.Is(err, frames.ErrEmptyFrame) {
		return nil
	}

	return p.ProcessFrame(f)
}

// ProcessFrame handles a decoded frame. The returned error is the Code sent to the
// client as an ERROR frame, if any.
func (p *Protocol) ProcessFrame(f frames.Frame) error {
	if p.state == StateTerminated {
		return nil
	}

	if !p.loggedIn && f.Command != frames.Connect {
		return p.fail(ErrNotLoggedIn, "")
	}

	switch f.Command {
	case frames.Connect:
		return p.processConnect(f)
	case frames.Send:
		return p.processSend(f)
	case frames.Subscribe:
		return p.processSubscribe(f)
	case frames.Unsubscribe:
		return p.processUnsubscribe(f)
	case frames.Disconnect:
		return p.processDisconnect(f)
	default:
		p.opts.Log.Warn("unknown command", "command", f.Name, "client", p.id)
		return nil
	}
}

func (p *Protocol) processConnect(f frames.Frame) error {
	if !f.Headers.Has(frames.HeaderAcceptVersion, frames.HeaderHost, frames.HeaderLogin, frames.HeaderPasscode) ||
		!strings.Contains(f.Headers[frames.HeaderAcceptVersion], ProtocolVersion) {
		return p.fail(ErrMalformedConnect, "")
	}

	username := f.Headers[frames.HeaderLogin]
	status := p.directory.Login(p.id, username, f.Headers[frames.HeaderPasscode])
	if p.opts.OnLogin != nil {
		p.opts.OnLogin(username, status)
	}

	switch status {
	case users.LoginSuccessNew, users.LoginSuccessExisting:
		p.loggedIn = true
		p.state = StateAuthenticated
		p.registry.SendToConnection(p.id, frames.New(frames.Connected, frames.Headers{
			frames.HeaderVersion: ProtocolVersion,
		}, ""))
		p.opts.Log.Debug("client logged in", "client", p.id, "username", username, "status", status.String())
		return nil
	case users.LoginWrongPassword:
		return p.fail(ErrWrongPassword, "")
	case users.LoginAlreadyLoggedIn:
		return p.fail(ErrAlreadyLoggedIn, "")
	default:
		return nil
	}
}

func (p *Protocol) processSend(f frames.Frame) error {
	receipt := f.Headers[frames.HeaderReceipt]
	destination, ok := f.Headers.Get(frames.HeaderDestination)
	if !ok {
		return p.fail(ErrMalformedSend, receipt)
	}

	_, n, err := p.registry.Publish(p.id, destination, f.Body)
	if err != nil {
		return p.fail(ErrNotSubscribedTo.Describe("User is not subscribed to topic %s", destination), receipt)
	}

	if p.opts.Info != nil {
		atomic.AddInt64(&p.opts.Info.MessagesReceived, 1)
		atomic.AddInt64(&p.opts.Info.MessagesSent, int64(n))
	}

	p.receipt(receipt)
	return nil
}

func (p *Protocol) processSubscribe(f frames.Frame) error {
	receipt := f.Headers[frames.HeaderReceipt]
	if !f.Headers.Has(frames.HeaderDestination, frames.HeaderID) {
		return p.fail(ErrMalformedSubscribe, receipt)
	}

	subID, err := strconv.Atoi(f.Headers[frames.HeaderID])
	if err != nil {
		return p.fail(ErrInvalidID, receipt)
	}

	if err := p.registry.Subscribe(p.id, f.Headers[frames.HeaderDestination], subID); err != nil {
		p.opts.Log.Warn("subscribe failed", "error", err, "client", p.id)
		return nil
	}

	p.receipt(receipt)
	return nil
}

func (p *Protocol) processUnsubscribe(f frames.Frame) error {
	receipt := f.Headers[frames.HeaderReceipt]
	raw, ok := f.Headers.Get(frames.HeaderID)
	if !ok {
		return p.fail(ErrMalformedUnsubscribe, receipt)
	}

	subID, err := strconv.Atoi(raw)
	if err != nil {
		return p.fail(ErrInvalidID, receipt)
	}

	p.registry.Unsubscribe(p.id, subID)
	p.receipt(receipt)
	return nil
}

func (p *Protocol) processDisconnect(f frames.Frame) error {
	p.directory.Logout(p.id)
	p.receipt(f.Headers[frames.HeaderReceipt])
	p.terminate()
	return nil
}

// receipt acknowledges a frame if the client asked for it.
func (p *Protocol) receipt(id string) {
	if id == "" {
		return
	}

	p.registry.SendToConnection(p.id, frames.New(frames.Receipt, frames.Headers{
		frames.HeaderReceiptID: id,
	}, ""))
}

// fail sends an ERROR frame and, unless the error is recoverable under the
// configured policy, terminates the connection.
func (p *Protocol) fail(code Code, receipt string) error {
	p.registry.SendToConnection(p.id, code.Frame(receipt))
	if p.opts.Info != nil {
		atomic.AddInt64(&p.opts.Info.Errors, 1)
	}

	if p.opts.RecoverableErrors && p.loggedIn && code.Recoverable() {
		p.opts.Log.Debug("recoverable client error", "error", code, "client", p.id)
		return code
	}

	p.terminate()
	return code
}

func (p *Protocol) terminate() {
	p.shouldTerminate = true
	p.loggedIn = false
	p.state = StateTerminated
	p.registry.Disconnect(p.id)
}
