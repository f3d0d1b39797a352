// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2024 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package stomp

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mochi-mqtt/stomp/frames"
	"github.com/mochi-mqtt/stomp/system"
	"github.com/mochi-mqtt/stomp/users"
)

type modifiedHookBase struct {
	HookBase
	err  error
	fail bool
}

var errTestHook = errors.New("error")

func (h *modifiedHookBase) ID() string {
	return "modified"
}

func (h *modifiedHookBase) Init(config any) error {
	if config != nil {
		return errTestHook
	}
	return nil
}

func (h *modifiedHookBase) Provides(b byte) bool {
	return true
}

func (h *modifiedHookBase) Stop() error {
	if h.fail {
		return errTestHook
	}

	return nil
}

func (h *modifiedHookBase) OnConnect(cl *Connection) error {
	if h.fail {
		return errTestHook
	}

	return nil
}

func (h *modifiedHookBase) OnFrameRead(cl *Connection, f frames.Frame) (frames.Frame, error) {
	if h.fail {
		if h.err != nil {
			return f, h.err
		}

		return f, errTestHook
	}

	f = f.Copy()
	f.Headers["modified"] = "true"
	return f, nil
}

type providesCheck struct {
	HookBase
	provides byte
}

func (h *providesCheck) Provides(b byte) bool {
	return h.provides == b
}

func TestHooksProvides(t *testing.T) {
	h := new(Hooks)
	err := h.Add(&providesCheck{provides: OnLogin}, nil)
	require.NoError(t, err)

	err = h.Add(&providesCheck{provides: OnFrameRead}, nil)
	require.NoError(t, err)

	require.True(t, h.Provides(OnLogin))
	require.True(t, h.Provides(OnFrameRead, OnStopped))
	require.False(t, h.Provides(OnConnect))
}

func TestHooksAddLenGetAll(t *testing.T) {
	h := new(Hooks)
	err := h.Add(new(HookBase), nil)
	require.NoError(t, err)

	err = h.Add(new(modifiedHookBase), nil)
	require.NoError(t, err)

	require.Equal(t, int64(2), h.Len())

	all := h.GetAll()
	require.Equal(t, "base", all[0].ID())
	require.Equal(t, "modified", all[1].ID())
}

func TestHooksAddInitFailure(t *testing.T) {
	h := new(Hooks)
	err := h.Add(new(modifiedHookBase), map[string]any{})
	require.Error(t, err)
	require.ErrorIs(t, err, errTestHook)
	require.Equal(t, int64(0), h.Len())
}

func TestHooksStop(t *testing.T) {
	h := new(Hooks)
	h.Log = logger

	require.NoError(t, h.Add(new(HookBase), nil))
	require.NoError(t, h.Add(&modifiedHookBase{fail: true}, nil))
	require.Equal(t, int64(2), h.Len())

	h.Stop()
}

// coverage: also cover some empty functions
func TestHooksNonReturns(t *testing.T) {
	h := new(Hooks)
	cl := newServer().NewConnection(nil, "test")

	for i := 0; i < 2; i++ {
		t.Run("step-"+string(rune('0'+i)), func(t *testing.T) {
			// on first iteration, check without hook methods
			h.OnStarted()
			h.OnStopped()
			h.OnSysInfoTick(new(system.Info))
			h.OnDisconnect(cl, nil)
			h.OnFrameProcessed(cl, frames.Frame{}, nil)
			h.OnLogin(cl, "meni", users.LoginSuccessNew)

			// on second iteration, check added hook methods
			err := h.Add(new(modifiedHookBase), nil)
			require.NoError(t, err)
		})
	}
}

func TestHooksOnConnect(t *testing.T) {
	h := new(Hooks)
	cl := newServer().NewConnection(nil, "test")

	require.NoError(t, h.Add(new(modifiedHookBase), nil))
	require.NoError(t, h.OnConnect(cl))

	require.NoError(t, h.Add(&modifiedHookBase{fail: true}, nil))
	require.ErrorIs(t, h.OnConnect(cl), errTestHook)
}

func TestHooksOnFrameRead(t *testing.T) {
	h := new(Hooks)
	h.Log = logger
	cl := newServer().NewConnection(nil, "test")
	in := frames.New(frames.Send, frames.Headers{frames.HeaderDestination: "/topic/a"}, "hello")

	f, err := h.OnFrameRead(cl, in)
	require.NoError(t, err)
	require.Equal(t, in, f)

	require.NoError(t, h.Add(new(modifiedHookBase), nil))
	f, err = h.OnFrameRead(cl, in)
	require.NoError(t, err)
	require.Equal(t, "true", f.Headers["modified"])
	require.False(t, in.Headers.Has("modified"))

	// plain errors are skipped
	require.NoError(t, h.Add(&modifiedHookBase{fail: true}, nil))
	f, err = h.OnFrameRead(cl, in)
	require.NoError(t, err)
	require.Equal(t, "true", f.Headers["modified"])

	require.NoError(t, h.Add(&modifiedHookBase{fail: true, err: ErrRejectFrame}, nil))
	f, err = h.OnFrameRead(cl, in)
	require.ErrorIs(t, err, ErrRejectFrame)
	require.Equal(t, in, f)
}

func TestHookBaseID(t *testing.T) {
	h := new(HookBase)
	require.Equal(t, "base", h.ID())
}

func TestHookBaseProvidesNone(t *testing.T) {
	h := new(HookBase)
	require.False(t, h.Provides(OnConnect))
	require.False(t, h.Provides(OnFrameRead))
}

func TestHookBaseInit(t *testing.T) {
	h := new(HookBase)
	require.Nil(t, h.Init(nil))
}

func TestHookBaseSetOpts(t *testing.T) {
	h := new(HookBase)
	h.SetOpts(logger, new(HookOptions))
	require.NotNil(t, h.Log)
	require.NotNil(t, h.Opts)
}

func TestHookBaseClose(t *testing.T) {
	h := new(HookBase)
	require.Nil(t, h.Stop())
}

func TestHookBaseOnConnect(t *testing.T) {
	h := new(HookBase)
	require.NoError(t, h.OnConnect(new(Connection)))
}

func TestHookBaseOnFrameRead(t *testing.T) {
	h := new(HookBase)
	in := frames.New(frames.Connect, nil, "")
	f, err := h.OnFrameRead(new(Connection), in)
	require.NoError(t, err)
	require.Equal(t, in, f)
}
