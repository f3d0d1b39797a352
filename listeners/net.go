// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2024 mochi-mqtt, mochi-co
// SPDX-FileContributor: Jeroen Rinzema, mochi-co

package listeners

import (
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
)

// stream accepts broker connections from a net.Listener. It carries the accept
// loop and shutdown shared by the TCP, UnixSock and Net listeners.
type stream struct {
	mu      sync.Mutex
	id      string       // the internal id of the listener
	address string       // the network address to bind to
	listen  net.Listener // accepts new connections once initialised
	log     *slog.Logger // server logger
	end     uint32       // ensure the close methods are only called once
}

// ID returns the id of the listener.
func (l *stream) ID() string {
	return l.id
}

// Address returns the bound address of the listener, or the configured one before Init.
func (l *stream) Address() string {
	if l.listen != nil {
		return l.listen.Addr().String()
	}
	return l.address
}

// Serve accepts connections until the listener is closed, handing each to
// establish on its own goroutine.
func (l *stream) Serve(establish EstablishFn) {
	for atomic.LoadUint32(&l.end) == 0 {
		conn, err := l.listen.Accept()
		if err != nil {
			if atomic.LoadUint32(&l.end) == 0 {
				l.log.Error("failed to accept connection", "error", err)
			}
			return
		}

		go l.establish(establish, conn)
	}
}

func (l *stream) establish(establish EstablishFn, conn net.Conn) {
	if atomic.LoadUint32(&l.end) == 1 {
		_ = conn.Close()
		return
	}

	if err := establish(l.id, conn); err != nil {
		l.log.Warn("connection ended with error", "error", err)
	}
}

// Close stops accepting connections and closes the ones already established.
func (l *stream) Close(closeClients CloseFn) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if atomic.CompareAndSwapUint32(&l.end, 0, 1) {
		closeClients(l.id)
	}

	if l.listen != nil {
		_ = l.listen.Close()
	}
}

// Net is a listener serving broker connections from an existing net.Listener.
type Net struct {
	stream
}

// NewNet returns a listener serving incoming connections on the given net.Listener.
func NewNet(id string, listener net.Listener) *Net {
	return &Net{
		stream: stream{
			id:      id,
			address: listener.Addr().String(),
			listen:  listener,
		},
	}
}

// Protocol returns the network of the listener.
func (l *Net) Protocol() string {
	return l.listen.Addr().Network()
}

// Init sets the logger. The listener is already bound.
func (l *Net) Init(log *slog.Logger) error {
	l.log = log
	return nil
}
