// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2024 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package debug

import (
	"log/slog"

	"github.com/mochi-mqtt/stomp"
	"github.com/mochi-mqtt/stomp/frames"
	"github.com/mochi-mqtt/stomp/system"
	"github.com/mochi-mqtt/stomp/users"
)

// Options contains configuration settings for the debug output.
type Options struct {
	ShowFrameBodies bool `yaml:"show_frame_bodies" json:"show_frame_bodies"` // include frame bodies in the output
	ShowSysInfo     bool `yaml:"show_sys_info" json:"show_sys_info"`         // log every system info tick
	ShowPasswords   bool `yaml:"show_passwords" json:"show_passwords"`       // don't mask passcode headers
}

// Hook is a debugging hook which logs additional low-level information from the server.
type Hook struct {
	stomp.HookBase
	config *Options
	Log    *slog.Logger
}

// ID returns the ID of the hook.
func (h *Hook) ID() string {
	return "debug"
}

// Provides indicates that this hook provides all methods.
func (h *Hook) Provides(b byte) bool {
	return true
}

// Init is called when the hook is initialized.
func (h *Hook) Init(config any) error {
	opts, ok := config.(*Options)
	if !ok && config != nil {
		return stomp.ErrInvalidConfigType
	}

	if opts == nil {
		opts = new(Options)
	}

	h.config = opts

	return nil
}

// SetOpts is called when the hook receives inheritable server parameters.
func (h *Hook) SetOpts(l *slog.Logger, opts *stomp.HookOptions) {
	h.Log = l
	h.Log.Debug("", "method", "SetOpts")
}

// Stop is called when the hook is stopped.
func (h *Hook) Stop() error {
	h.Log.Debug("", "method", "Stop")
	return nil
}

// OnStarted is called when the server starts.
func (h *Hook) OnStarted() {
	h.Log.Debug("", "method", "OnStarted")
}

// OnStopped is called when the server stops.
func (h *Hook) OnStopped() {
	h.Log.Debug("", "method", "OnStopped")
}

// OnSysInfoTick is called when the server publishes its system info.
func (h *Hook) OnSysInfoTick(info *system.Info) {
	if !h.config.ShowSysInfo {
		return
	}

	h.Log.Debug("system info",
		"method", "OnSysInfoTick",
		"clients_connected", info.ClientsConnected,
		"users_online", info.UsersOnline,
		"subscriptions", info.Subscriptions,
		"destinations", info.Destinations)
}

// OnConnect is called when a new transport connection is accepted.
func (h *Hook) OnConnect(cl *stomp.Connection) error {
	h.Log.Debug("connection accepted", "method", "OnConnect", "client", cl.ID, "remote", cl.Net.Remote, "listener", cl.Net.Listener)
	return nil
}

// OnDisconnect is called when a connection is torn down.
func (h *Hook) OnDisconnect(cl *stomp.Connection, err error) {
	h.Log.Debug("connection closed", "method", "OnDisconnect", "client", cl.ID, "username", cl.Username(), "error", err)
}

// OnFrameRead is called when a frame is received from a connection.
func (h *Hook) OnFrameRead(cl *stomp.Connection, f frames.Frame) (frames.Frame, error) {
	h.Log.Debug("frame read", append([]any{"method", "OnFrameRead", "client", cl.ID}, h.frameMeta(f)...)...)
	return f, nil
}

// OnFrameProcessed is called when a frame has been handled by the protocol.
func (h *Hook) OnFrameProcessed(cl *stomp.Connection, f frames.Frame, err error) {
	h.Log.Debug("frame processed", "method", "OnFrameProcessed", "client", cl.ID, "command", f.Command.String(), "error", err)
}

// OnLogin is called when a CONNECT frame has been resolved against the user directory.
func (h *Hook) OnLogin(cl *stomp.Connection, username string, status users.LoginStatus) {
	h.Log.Debug("login", "method", "OnLogin", "client", cl.ID, "username", username, "status", status.String())
}

// frameMeta returns the log attributes for a frame.
func (h *Hook) frameMeta(f frames.Frame) []any {
	headers := make(map[string]string, len(f.Headers))
	for k, v := range f.Headers {
		if k == frames.HeaderPasscode && !h.config.ShowPasswords {
			v = "******"
		}
		headers[k] = v
	}

	m := []any{"command", f.Command.String(), "headers", headers}
	if h.config.ShowFrameBodies {
		m = append(m, "body", f.Body)
	}

	return m
}
