// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2024 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package listeners

import (
	"errors"
	"log/slog"
	"net"
	"sync"
)

var (
	ErrMockListen     = errors.New("mock listen failure")          // Init was asked to fail
	ErrMockNotServing = errors.New("mock listener is not serving") // Dial was called before Serve or after Close
)

// MockEstablisher is an EstablishFn which accepts every connection.
func MockEstablisher(id string, c net.Conn) error {
	return nil
}

// MockCloser is a CloseFn which does nothing.
func MockCloser(id string) {}

// MockListener is an in-memory listener. Connections are made with Dial, which
// hands the server end of a net.Pipe to the establish function.
type MockListener struct {
	mu        sync.RWMutex
	id        string        // the id of the listener
	address   string        // the address reported by the listener
	done      chan struct{} // closed when the listener is closed
	establish EstablishFn   // set while serving
	serving   bool
	listening bool
	closed    bool
	ErrListen bool // fail Init with ErrMockListen
}

// NewMockListener returns a new instance of MockListener.
func NewMockListener(id, address string) *MockListener {
	return &MockListener{
		id:      id,
		address: address,
		done:    make(chan struct{}),
	}
}

// Init marks the listener as listening, unless ErrListen is set.
func (l *MockListener) Init(log *slog.Logger) error {
	if l.ErrListen {
		return ErrMockListen
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.listening = true
	return nil
}

// Serve accepts dialled connections until the listener is closed.
func (l *MockListener) Serve(establish EstablishFn) {
	l.mu.Lock()
	if !l.closed {
		l.serving = true
		l.establish = establish
	}
	l.mu.Unlock()

	<-l.done
}

// Dial opens an in-memory connection to the listener and returns the client end.
// The server end is established on its own goroutine.
func (l *MockListener) Dial() (net.Conn, error) {
	l.mu.RLock()
	establish, serving := l.establish, l.serving
	l.mu.RUnlock()

	if !serving {
		return nil, ErrMockNotServing
	}

	client, server := net.Pipe()
	go func() {
		_ = establish(l.id, server)
	}()

	return client, nil
}

// ID returns the id of the mock listener.
func (l *MockListener) ID() string {
	return l.id
}

// Address returns the address of the listener.
func (l *MockListener) Address() string {
	return l.address
}

// Protocol returns the protocol of the listener.
func (l *MockListener) Protocol() string {
	return "mock"
}

// Close stops serving and closes the listener's connections.
func (l *MockListener) Close(closer CloseFn) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.serving = false
	closer(l.id)
	if !l.closed {
		l.closed = true
		close(l.done)
	}
}

// IsServing indicates whether the mock listener is serving.
func (l *MockListener) IsServing() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.serving
}

// IsListening indicates whether the mock listener is listening.
func (l *MockListener) IsListening() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.listening
}
