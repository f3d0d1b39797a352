// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2024 mochi-mqtt, mochi-co
// SPDX-FileContributor: Derek Duncan

package listeners

import (
	"log/slog"
	"net/http"
	"time"
)

// HTTPHealthCheck is a listener answering GET /healthcheck with 200 while the broker runs.
type HTTPHealthCheck struct {
	httpListener
}

// NewHTTPHealthCheck returns a healthcheck listener for the configured address.
func NewHTTPHealthCheck(config Config) *HTTPHealthCheck {
	return &HTTPHealthCheck{
		httpListener: newHTTPListener(config),
	}
}

// Init initializes the listener.
func (l *HTTPHealthCheck) Init(log *slog.Logger) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthcheck", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})

	l.bind(log, mux, 5*time.Second)
	return nil
}
