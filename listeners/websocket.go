// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2024 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package listeners

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Subprotocols are the STOMP websocket subprotocols offered during the upgrade.
var Subprotocols = []string{"v12.stomp", "v11.stomp"}

// Websocket is a listener for establishing STOMP over websocket connections.
type Websocket struct {
	httpListener
	establish EstablishFn         // the server's establish connection handler
	upgrader  *websocket.Upgrader // upgrades incoming http requests to websocket connections
}

// NewWebsocket returns a websocket listener for the configured address.
func NewWebsocket(config Config) *Websocket {
	return &Websocket{
		httpListener: newHTTPListener(config),
		upgrader: &websocket.Upgrader{
			Subprotocols: Subprotocols,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// Protocol returns the protocol of the listener.
func (l *Websocket) Protocol() string {
	if l.config.TLSConfig != nil {
		return "wss"
	}

	return "ws"
}

// Init initializes the listener.
func (l *Websocket) Init(log *slog.Logger) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", l.handler)
	l.bind(log, mux, 60*time.Second)
	return nil
}

// handler upgrades an incoming request and hands the websocket to the broker.
func (l *Websocket) handler(w http.ResponseWriter, r *http.Request) {
	c, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer c.Close()

	err = l.establish(l.id, &wsConn{Conn: c.UnderlyingConn(), c: c})
	if err != nil {
		l.log.Warn("connection ended with error", "error", err)
	}
}

// Serve serves websocket upgrades, passing each connection to establish.
func (l *Websocket) Serve(establish EstablishFn) {
	l.establish = establish
	l.httpListener.Serve(establish)
}

// wsConn is a websocket connection which satisfies the net.Conn interface.
// Each write is sent as a single text message; inbound text and binary
// messages are read as one continuous stream.
type wsConn struct {
	net.Conn
	c  *websocket.Conn
	r  io.Reader  // the reader for the message currently being consumed
	mu sync.Mutex // serializes writes
}

// Read reads the next span of bytes from the websocket connection and returns the number of bytes read.
func (ws *wsConn) Read(p []byte) (int, error) {
	for {
		if ws.r == nil {
			_, r, err := ws.c.NextReader()
			if err != nil {
				return 0, err
			}
			ws.r = r
		}

		n, err := ws.r.Read(p)
		if errors.Is(err, io.EOF) {
			ws.r = nil
			if n > 0 {
				return n, nil
			}
			continue
		}

		return n, err
	}
}

// Write writes bytes to the websocket connection.
func (ws *wsConn) Write(p []byte) (int, error) {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	err := ws.c.WriteMessage(websocket.TextMessage, p)
	if err != nil {
		return 0, err
	}

	return len(p), nil
}

// Close signals the underlying websocket conn to close.
func (ws *wsConn) Close() error {
	return ws.Conn.Close()
}
