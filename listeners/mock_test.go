// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2024 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package listeners

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMockEstablisher(t *testing.T) {
	_, w := net.Pipe()
	defer w.Close()
	require.NoError(t, MockEstablisher("t1", w))
}

func TestNewMockListener(t *testing.T) {
	mocked := NewMockListener("t1", testAddr)
	require.Equal(t, "t1", mocked.id)
	require.Equal(t, testAddr, mocked.address)
}

func TestMockListenerIdentity(t *testing.T) {
	mocked := NewMockListener("t1", testAddr)
	require.Equal(t, "t1", mocked.ID())
	require.Equal(t, testAddr, mocked.Address())
	require.Equal(t, "mock", mocked.Protocol())
}

func TestMockListenerInit(t *testing.T) {
	mocked := NewMockListener("t1", testAddr)
	require.NoError(t, mocked.Init(logger))
	require.True(t, mocked.IsListening())
}

func TestMockListenerInitFailure(t *testing.T) {
	mocked := NewMockListener("t1", testAddr)
	mocked.ErrListen = true
	require.ErrorIs(t, mocked.Init(logger), ErrMockListen)
	require.False(t, mocked.IsListening())
}

func TestMockListenerServeAndClose(t *testing.T) {
	mocked := NewMockListener("t1", testAddr)
	done := make(chan struct{})
	go func() {
		mocked.Serve(MockEstablisher)
		close(done)
	}()
	require.Eventually(t, mocked.IsServing, time.Second, time.Millisecond)

	var closed string
	mocked.Close(func(id string) {
		closed = id
	})
	<-done
	require.Equal(t, "t1", closed)
	require.False(t, mocked.IsServing())

	mocked.Close(MockCloser)
}

func TestMockListenerServeAfterClose(t *testing.T) {
	mocked := NewMockListener("t1", testAddr)
	mocked.Close(MockCloser)
	mocked.Serve(MockEstablisher)
	require.False(t, mocked.IsServing())
}

func TestMockListenerDial(t *testing.T) {
	mocked := NewMockListener("t1", testAddr)
	_, err := mocked.Dial()
	require.ErrorIs(t, err, ErrMockNotServing)

	established := make(chan string, 1)
	go mocked.Serve(func(id string, c net.Conn) error {
		buf := make([]byte, 5)
		_, _ = io.ReadFull(c, buf)
		established <- id + ":" + string(buf)
		return c.Close()
	})
	require.Eventually(t, mocked.IsServing, time.Second, time.Millisecond)

	c, err := mocked.Dial()
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Write([]byte("hello"))
	require.NoError(t, err)
	require.Equal(t, "t1:hello", <-established)

	mocked.Close(MockCloser)
	_, err = mocked.Dial()
	require.ErrorIs(t, err, ErrMockNotServing)
}
