// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2024 mochi-mqtt, mochi-co
// SPDX-FileContributor: Derek Duncan, mochi-co

package listeners

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

const shutdownTimeout = 5 * time.Second

// httpListener wraps an http.Server for the listeners which answer over http.
type httpListener struct {
	mu      sync.Mutex
	id      string       // the internal id of the listener
	address string       // the network address to bind to
	config  Config       // configuration values for the listener
	listen  *http.Server // the http server, set by bind
	log     *slog.Logger // server logger
	end     uint32       // ensure the close methods are only called once
}

func newHTTPListener(config Config) httpListener {
	return httpListener{
		id:      config.ID,
		address: config.Address,
		config:  config,
	}
}

// ID returns the id of the listener.
func (l *httpListener) ID() string {
	return l.id
}

// Address returns the address of the listener.
func (l *httpListener) Address() string {
	return l.address
}

// Protocol returns the protocol of the listener.
func (l *httpListener) Protocol() string {
	if l.config.TLSConfig != nil {
		return "https"
	}

	return "http"
}

// bind prepares the http server for the handler.
func (l *httpListener) bind(log *slog.Logger, handler http.Handler, timeout time.Duration) {
	l.log = log
	l.listen = &http.Server{
		Addr:         l.address,
		Handler:      handler,
		TLSConfig:    l.config.TLSConfig,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	}
}

// Serve listens and serves http requests until the listener is closed.
func (l *httpListener) Serve(establish EstablishFn) {
	var err error
	if l.listen.TLSConfig != nil {
		err = l.listen.ListenAndServeTLS("", "")
	} else {
		err = l.listen.ListenAndServe()
	}

	if err != nil && atomic.LoadUint32(&l.end) == 0 {
		l.log.Error("failed to serve", "error", err, "listener", l.id)
	}
}

// Close closes any client connections and shuts the http server down.
func (l *httpListener) Close(closeClients CloseFn) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !atomic.CompareAndSwapUint32(&l.end, 0, 1) {
		return
	}

	closeClients(l.id)
	if l.listen != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = l.listen.Shutdown(ctx)
	}
}
