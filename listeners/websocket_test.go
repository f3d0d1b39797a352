// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2024 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package listeners

import (
	"bufio"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func TestNewWebsocket(t *testing.T) {
	l := NewWebsocket(Config{ID: "t1", Address: testAddr})
	require.Equal(t, "t1", l.id)
	require.Equal(t, testAddr, l.address)
	require.Equal(t, Subprotocols, l.upgrader.Subprotocols)
}

func TestWebsocketIdentity(t *testing.T) {
	l := NewWebsocket(Config{ID: "t1", Address: testAddr})
	require.Equal(t, "t1", l.ID())
	require.Equal(t, testAddr, l.Address())
	require.Equal(t, "ws", l.Protocol())
}

func TestWebsocketProtocolTLS(t *testing.T) {
	l := NewWebsocket(Config{ID: "t1", Address: testAddr, TLSConfig: tlsConfigBasic})
	require.Equal(t, "wss", l.Protocol())
}

func TestWebsocketInit(t *testing.T) {
	l := NewWebsocket(Config{ID: "t1", Address: testAddr})
	require.Nil(t, l.listen)
	require.NoError(t, l.Init(logger))
	require.NotNil(t, l.listen)
	require.Equal(t, testAddr, l.listen.Addr)
}

func TestWebsocketServeAndClose(t *testing.T) {
	l := NewWebsocket(Config{ID: "t1", Address: testAddr})
	require.NoError(t, l.Init(logger))

	served := make(chan struct{})
	go func() {
		l.Serve(MockEstablisher)
		close(served)
	}()
	time.Sleep(10 * time.Millisecond)

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
}

func TestWebsocketUpgradeStream(t *testing.T) {
	l := NewWebsocket(Config{ID: "t1", Address: testAddr})
	require.NoError(t, l.Init(logger))

	frames := make(chan string, 2)
	l.establish = func(id string, c net.Conn) error {
		r := bufio.NewReader(c)
		for i := 0; i < 2; i++ {
			f, err := r.ReadString(0)
			if err != nil {
				return err
			}
			frames <- f
		}
		_, err := c.Write([]byte("CONNECTED\nversion:1.2\n\n\x00"))
		return err
	}

	s := httptest.NewServer(http.HandlerFunc(l.handler))
	defer s.Close()

	dialer := &websocket.Dialer{Subprotocols: []string{"v12.stomp"}}
	ws, resp, err := dialer.Dial("ws"+strings.TrimPrefix(s.URL, "http"), nil)
	require.NoError(t, err)
	defer ws.Close()
	require.Equal(t, "v12.stomp", resp.Header.Get("Sec-Websocket-Protocol"))

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("CONNECT\nhost:a\n\n\x00SEND\n")))
	require.NoError(t, ws.WriteMessage(websocket.BinaryMessage, []byte("destination:/x\n\nhi\x00")))

	require.Equal(t, "CONNECT\nhost:a\n\n\x00", <-frames)
	require.Equal(t, "SEND\ndestination:/x\n\nhi\x00", <-frames)

	op, msg, err := ws.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.TextMessage, op)
	require.Equal(t, "CONNECTED\nversion:1.2\n\n\x00", string(msg))
}
