// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2024 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package listeners

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewTCP(t *testing.T) {
	l := NewTCP(Config{ID: "t1", Address: testAddr})
	require.Equal(t, "t1", l.id)
	require.Equal(t, testAddr, l.address)
}

func TestTCPIdentity(t *testing.T) {
	l := NewTCP(Config{ID: "t1", Address: testAddr})
	require.Equal(t, "t1", l.ID())
	require.Equal(t, testAddr, l.Address())
	require.Equal(t, "tcp", l.Protocol())
}

func TestTCPInit(t *testing.T) {
	l := NewTCP(Config{ID: "t1", Address: testAddr})
	err := l.Init(logger)
	require.NoError(t, err)
	defer l.listen.Close()
	require.NotNil(t, l.listen)
	require.NotEqual(t, testAddr, l.Address())

	l2 := NewTCP(Config{ID: "t2", Address: l.Address()})
	err = l2.Init(logger)
	require.Error(t, err)
}

func TestTCPInitTLSWithoutCertificate(t *testing.T) {
	l := NewTCP(Config{ID: "t1", Address: testAddr, TLSConfig: tlsConfigBasic})
	require.Error(t, l.Init(logger))
}

func TestTCPServeAndClose(t *testing.T) {
	l := NewTCP(Config{ID: "t1", Address: testAddr})
	require.NoError(t, l.Init(logger))

	established := make(chan net.Conn, 1)
	served := make(chan struct{})
	go func() {
		l.Serve(func(id string, c net.Conn) error {
			established <- c
			return errors.New("done")
		})
		close(served)
	}()

	c, err := net.Dial("tcp", l.Address())
	require.NoError(t, err)
	defer c.Close()

	select {
	case sc := <-established:
		sc.Close()
	case <-time.After(time.Second):
		t.Fatal("connection was not established")
	}

	var closed string
	l.Close(func(id string) {
		closed = id
	})
	require.Equal(t, "t1", closed)

	select {
	case <-served:
	case <-time.After(time.Second):
		t.Fatal("serve did not return")
	}

	l.Close(func(id string) {
		t.Fatal("closer should only run once")
	})
}
