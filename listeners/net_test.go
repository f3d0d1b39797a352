// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2024 mochi-mqtt, mochi-co
// SPDX-FileContributor: Jeroen Rinzema

package listeners

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNetIdentity(t *testing.T) {
	n, err := net.Listen("tcp", testAddr)
	require.NoError(t, err)
	defer n.Close()

	l := NewNet("t1", n)
	require.Equal(t, "t1", l.ID())
	require.Equal(t, n.Addr().String(), l.Address())
	require.Equal(t, "tcp", l.Protocol())
	require.NoError(t, l.Init(logger))
}

func TestNetServeAndClose(t *testing.T) {
	n, err := net.Listen("tcp", testAddr)
	require.NoError(t, err)

	l := NewNet("t1", n)
	require.NoError(t, l.Init(logger))

	established := make(chan string, 1)
	served := make(chan struct{})
	go func() {
		l.Serve(func(id string, c net.Conn) error {
			established <- id
			return c.Close()
		})
		close(served)
	}()

	c, err := net.Dial("tcp", l.Address())
	require.NoError(t, err)
	defer c.Close()

	select {
	case id := <-established:
		require.Equal(t, "t1", id)
	case <-time.After(time.Second):
		t.Fatal("connection was not established")
	}

	var closed string
	l.Close(func(id string) {
		closed = id
	})
	require.Equal(t, "t1", closed)
	<-served
}
