// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2024 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package listeners

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mochi-mqtt/stomp/system"
)

// HTTPStats is a listener presenting the broker stats as JSON on / and in the
// prometheus exposition format on /metrics.
type HTTPStats struct {
	httpListener
	sysInfo  *system.Info         // pointers to the server data
	registry *prometheus.Registry // a private registry for the server metrics
}

// NewHTTPStats returns a stats listener for the configured address.
func NewHTTPStats(config Config, sysInfo *system.Info) *HTTPStats {
	return &HTTPStats{
		httpListener: newHTTPListener(config),
		sysInfo:      sysInfo,
	}
}

// Init registers the metrics and prepares the http server.
func (l *HTTPStats) Init(log *slog.Logger) error {
	l.registry = prometheus.NewRegistry()
	l.sysInfo.RegisterPrometheusMetrics(l.registry)

	mux := http.NewServeMux()
	mux.HandleFunc("/", l.jsonHandler)
	mux.Handle("/metrics", promhttp.HandlerFor(l.registry, promhttp.HandlerOpts{}))

	l.bind(log, mux, 5*time.Second)
	return nil
}

// jsonHandler is an HTTP handler which outputs the server stats as JSON.
func (l *HTTPStats) jsonHandler(w http.ResponseWriter, req *http.Request) {
	info := *l.sysInfo.Clone()

	out, err := json.MarshalIndent(info, "", "\t")
	if err != nil {
		_, _ = io.WriteString(w, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(out)
}
