// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2024 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co, thedevop, dgduncan

package stomp

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/mochi-mqtt/stomp/frames"
	"github.com/mochi-mqtt/stomp/system"
	"github.com/mochi-mqtt/stomp/users"
)

const (
	SetOptions byte = iota
	OnSysInfoTick
	OnStarted
	OnStopped
	OnConnect
	OnDisconnect
	OnFrameRead
	OnFrameProcessed
	OnLogin
)

var (
	// ErrInvalidConfigType indicates a different Type of config value was expected to what was received.
	ErrInvalidConfigType = errors.New("invalid config type provided")

	// ErrRejectFrame may be returned by OnFrameRead to refuse a frame. The connection is
	// sent an ERROR and closed.
	ErrRejectFrame = errors.New("frame rejected by hook")
)

// Hook provides an interface of handlers for different events which occur
// during the lifecycle of the broker.
type Hook interface {
	ID() string
	Provides(b byte) bool
	Init(config any) error
	Stop() error
	SetOpts(l *slog.Logger, o *HookOptions)
	OnStarted()
	OnStopped()
	OnSysInfoTick(*system.Info)
	OnConnect(cl *Connection) error                                    // return an error to refuse the transport connection
	OnDisconnect(cl *Connection, err error)                            // the connection has been torn down
	OnFrameRead(cl *Connection, f frames.Frame) (frames.Frame, error)  // a frame was decoded, before it is processed
	OnFrameProcessed(cl *Connection, f frames.Frame, err error)        // a frame was handled by the protocol
	OnLogin(cl *Connection, username string, status users.LoginStatus) // a CONNECT frame was resolved by the user directory
}

// HookOptions contains values which are inherited from the server on initialisation.
type HookOptions struct {
	Capabilities *Capabilities
}

// Hooks is a slice of Hook interfaces to be called in sequence.
type Hooks struct {
	Log        *slog.Logger   // a logger for the hook (from the server)
	internal   atomic.Value   // a slice of []Hook
	wg         sync.WaitGroup // a waitgroup for syncing hook shutdown
	qty        int64          // the number of hooks in use
	sync.Mutex                // a mutex for locking when adding hooks
}

// Len returns the number of hooks added.
func (h *Hooks) Len() int64 {
	return atomic.LoadInt64(&h.qty)
}

// Provides returns true if any one hook provides any of the requested hook methods.
func (h *Hooks) Provides(b ...byte) bool {
	for _, hook := range h.GetAll() {
		for _, hb := range b {
			if hook.Provides(hb) {
				return true
			}
		}
	}

	return false
}

// Add adds and initializes a new hook.
func (h *Hooks) Add(hook Hook, config any) error {
	h.Lock()
	defer h.Unlock()

	if err := hook.Init(config); err != nil {
		return fmt.Errorf("failed initialising %s hook: %w", hook.ID(), err)
	}

	i, ok := h.internal.Load().([]Hook)
	if !ok {
		i = []Hook{}
	}

	i = append(i, hook)
	h.internal.Store(i)
	atomic.AddInt64(&h.qty, 1)
	h.wg.Add(1)

	return nil
}

// GetAll returns a slice of all the hooks.
func (h *Hooks) GetAll() []Hook {
	i, ok := h.internal.Load().([]Hook)
	if !ok {
		return []Hook{}
	}

	return i
}

// Stop indicates all attached hooks to gracefully end.
func (h *Hooks) Stop() {
	go func() {
		for _, hook := range h.GetAll() {
			h.Log.Info("stopping hook", "hook", hook.ID())
			if err := hook.Stop(); err != nil {
				h.Log.Debug("problem stopping hook", "error", err, "hook", hook.ID())
			}

			h.wg.Done()
		}
	}()

	h.wg.Wait()
}

// each calls fn for every hook providing the event.
func (h *Hooks) each(event byte, fn func(Hook)) {
	for _, hook := range h.GetAll() {
		if hook.Provides(event) {
			fn(hook)
		}
	}
}

// OnSysInfoTick is called when the system info values are refreshed.
func (h *Hooks) OnSysInfoTick(sys *system.Info) {
	h.each(OnSysInfoTick, func(hook Hook) { hook.OnSysInfoTick(sys) })
}

// OnStarted is called when the server has started serving.
func (h *Hooks) OnStarted() {
	h.each(OnStarted, func(hook Hook) { hook.OnStarted() })
}

// OnStopped is called when the server has closed.
func (h *Hooks) OnStopped() {
	h.each(OnStopped, func(hook Hook) { hook.OnStopped() })
}

// OnConnect is called when a transport connection is accepted, and may return an error
// to refuse it.
func (h *Hooks) OnConnect(cl *Connection) error {
	for _, hook := range h.GetAll() {
		if hook.Provides(OnConnect) {
			if err := hook.OnConnect(cl); err != nil {
				return err
			}
		}
	}
	return nil
}

// OnDisconnect is called once a connection has been torn down.
func (h *Hooks) OnDisconnect(cl *Connection, err error) {
	h.each(OnDisconnect, func(hook Hook) { hook.OnDisconnect(cl, err) })
}

// OnFrameRead is called when a frame is decoded. Hooks may rewrite the frame, and any
// hook returning ErrRejectFrame stops the chain. Other errors are ignored.
func (h *Hooks) OnFrameRead(cl *Connection, f frames.Frame) (frames.Frame, error) {
	fx := f
	for _, hook := range h.GetAll() {
		if hook.Provides(OnFrameRead) {
			nf, err := hook.OnFrameRead(cl, fx)
			switch {
			case errors.Is(err, ErrRejectFrame):
				h.Log.Debug("frame rejected", "hook", hook.ID(), "command", fx.Name)
				return f, err
			case err != nil:
				h.Log.Debug("frame read hook failed", "hook", hook.ID(), "error", err)
			default:
				fx = nf
			}
		}
	}

	return fx, nil
}

// OnFrameProcessed is called after a frame has been handled by the protocol.
func (h *Hooks) OnFrameProcessed(cl *Connection, f frames.Frame, err error) {
	h.each(OnFrameProcessed, func(hook Hook) { hook.OnFrameProcessed(cl, f, err) })
}

// OnLogin is called when the user directory resolves a CONNECT frame.
func (h *Hooks) OnLogin(cl *Connection, username string, status users.LoginStatus) {
	h.each(OnLogin, func(hook Hook) { hook.OnLogin(cl, username, status) })
}

// HookBase provides a set of default methods for each hook. It should be embedded in
// all hooks.
type HookBase struct {
	Hook
	Log  *slog.Logger
	Opts *HookOptions
}

// ID returns the ID of the hook.
func (h *HookBase) ID() string {
	return "base"
}

// Provides indicates which methods a hook provides. The default is none - this method
// should be overridden by the embedding hook.
func (h *HookBase) Provides(b byte) bool {
	return false
}

// Init performs any pre-start initializations for the hook.
func (h *HookBase) Init(config any) error {
	return nil
}

// SetOpts is called by the server to propagate internal values and generally should
// not be called manually.
func (h *HookBase) SetOpts(l *slog.Logger, opts *HookOptions) {
	h.Log = l
	h.Opts = opts
}

// Stop is called to gracefully shut down the hook.
func (h *HookBase) Stop() error {
	return nil
}

// OnStarted is called when the server starts.
func (h *HookBase) OnStarted() {}

// OnStopped is called when the server stops.
func (h *HookBase) OnStopped() {}

// OnSysInfoTick is called when the server refreshes system info.
func (h *HookBase) OnSysInfoTick(*system.Info) {}

// OnConnect is called when a new transport connection is accepted.
func (h *HookBase) OnConnect(cl *Connection) error {
	return nil
}

// OnDisconnect is called when a connection is closed.
func (h *HookBase) OnDisconnect(cl *Connection, err error) {}

// OnFrameRead is called when a frame is decoded.
func (h *HookBase) OnFrameRead(cl *Connection, f frames.Frame) (frames.Frame, error) {
	return f, nil
}

// OnFrameProcessed is called after a frame is handled.
func (h *HookBase) OnFrameProcessed(cl *Connection, f frames.Frame, err error) {}

// OnLogin is called when a login attempt is resolved.
func (h *HookBase) OnLogin(cl *Connection, username string, status users.LoginStatus) {}
