// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2024 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

// Package system holds the broker statistics.
package system

import (
	"runtime"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Namespace prefixes every exported prometheus metric.
const Namespace = "stomp"

// Info contains atomic counters and values for various server statistics.
type Info struct {
	Version             string `json:"version"`              // the current version of the server
	Started             int64  `json:"started"`              // the time the server started in unix seconds
	Time                int64  `json:"time"`                 // current time on the server
	Uptime              int64  `json:"uptime"`               // the number of seconds the server has been online
	BytesReceived       int64  `json:"bytes_received"`       // total number of bytes received since the broker started
	BytesSent           int64  `json:"bytes_sent"`           // total number of bytes sent since the broker started
	ClientsConnected    int64  `json:"clients_connected"`    // number of currently connected clients
	ClientsDisconnected int64  `json:"clients_disconnected"` // total number of clients which have disconnected
	ClientsMaximum      int64  `json:"clients_maximum"`      // maximum number of active clients that have been connected
	ClientsTotal        int64  `json:"clients_total"`        // total number of transport connections accepted
	UsersOnline         int64  `json:"users_online"`         // number of users currently logged in
	FramesReceived      int64  `json:"frames_received"`      // total number of frames received
	FramesSent          int64  `json:"frames_sent"`          // total number of frames of any type sent
	MessagesReceived    int64  `json:"messages_received"`    // total number of SEND frames accepted for publishing
	MessagesSent        int64  `json:"messages_sent"`        // total number of MESSAGE frames handed to subscribers
	MessagesDropped     int64  `json:"messages_dropped"`     // total number of frames dropped to slow clients
	Errors              int64  `json:"errors"`               // total number of ERROR frames sent
	Subscriptions       int64  `json:"subscriptions"`        // number of active subscriptions
	Destinations        int64  `json:"destinations"`         // number of destinations with at least one subscriber
	MemoryAlloc         int64  `json:"memory_alloc"`         // memory currently allocated
	Threads             int64  `json:"threads"`              // number of active goroutines, named as threads for platform ambiguity
}

// Clone makes a copy of Info using atomic operation
func (i *Info) Clone() *Info {
	return &Info{
		Version:             i.Version,
		Started:             atomic.LoadInt64(&i.Started),
		Time:                atomic.LoadInt64(&i.Time),
		Uptime:              atomic.LoadInt64(&i.Uptime),
		BytesReceived:       atomic.LoadInt64(&i.BytesReceived),
		BytesSent:           atomic.LoadInt64(&i.BytesSent),
		ClientsConnected:    atomic.LoadInt64(&i.ClientsConnected),
		ClientsDisconnected: atomic.LoadInt64(&i.ClientsDisconnected),
		ClientsMaximum:      atomic.LoadInt64(&i.ClientsMaximum),
		ClientsTotal:        atomic.LoadInt64(&i.ClientsTotal),
		UsersOnline:         atomic.LoadInt64(&i.UsersOnline),
		FramesReceived:      atomic.LoadInt64(&i.FramesReceived),
		FramesSent:          atomic.LoadInt64(&i.FramesSent),
		MessagesReceived:    atomic.LoadInt64(&i.MessagesReceived),
		MessagesSent:        atomic.LoadInt64(&i.MessagesSent),
		MessagesDropped:     atomic.LoadInt64(&i.MessagesDropped),
		Errors:              atomic.LoadInt64(&i.Errors),
		Subscriptions:       atomic.LoadInt64(&i.Subscriptions),
		Destinations:        atomic.LoadInt64(&i.Destinations),
		MemoryAlloc:         atomic.LoadInt64(&i.MemoryAlloc),
		Threads:             atomic.LoadInt64(&i.Threads),
	}
}

// RegisterPrometheusMetrics exposes the counters on a prometheus registry. A nil
// registry uses the prometheus default registerer.
func (i *Info) RegisterPrometheusMetrics(registry prometheus.Registerer) {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	type metrics struct {
		metricType string
		name       string
		help       string
		value      *int64
	}

	metricsList := []metrics{
		{"c", "bytes_received", "A count of total number of bytes received", &i.BytesReceived},
		{"c", "bytes_sent", "A counter total number of bytes sent", &i.BytesSent},
		{"g", "clients_connected", "A gauge of number of currently connected clients", &i.ClientsConnected},
		{"c", "clients_disconnected", "A counter of clients which have disconnected", &i.ClientsDisconnected},
		{"g", "clients_maximum", "A gauge of maximum number of active clients that have been connected", &i.ClientsMaximum},
		{"c", "clients_total", "A counter of accepted transport connections", &i.ClientsTotal},
		{"g", "users_online", "A gauge of users currently logged in", &i.UsersOnline},
		{"c", "frames_received", "A counter of the total number of frames received", &i.FramesReceived},
		{"c", "frames_sent", "A counter of the total number of frames sent", &i.FramesSent},
		{"c", "messages_received", "A counter of total number of SEND frames published", &i.MessagesReceived},
		{"c", "messages_sent", "A counter of total number of MESSAGE frames delivered", &i.MessagesSent},
		{"c", "messages_dropped", "A counter of total number of frames dropped to slow clients", &i.MessagesDropped},
		{"c", "errors", "A counter of ERROR frames sent", &i.Errors},
		{"g", "subscriptions", "A gauge of active subscriptions", &i.Subscriptions},
		{"g", "destinations", "A gauge of destinations with subscribers", &i.Destinations},
		{"g", "memory_alloc", "A gauge of heap memory in use", &i.MemoryAlloc},
		{"g", "threads", "A gauge of running goroutines", &i.Threads},
	}

	for _, m := range metricsList {
		m := m
		fn := func() float64 {
			return float64(atomic.LoadInt64(m.value))
		}

		switch m.metricType {
		case "c":
			registry.MustRegister(
				prometheus.NewCounterFunc(
					prometheus.CounterOpts{
						Namespace: Namespace,
						Name:      m.name,
						Help:      m.help,
					},
					fn,
				),
			)
		case "g":
			registry.MustRegister(
				prometheus.NewGaugeFunc(
					prometheus.GaugeOpts{
						Namespace: Namespace,
						Name:      m.name,
						Help:      m.help,
					},
					fn,
				),
			)
		}
	}

	buildInfo := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "build_info",
			Help:      "Build Information",
		},
		[]string{"goversion", "version"},
	)
	registry.MustRegister(buildInfo)
	buildInfo.With(prometheus.Labels{"goversion": runtime.Version(), "version": i.Version}).Set(1)
}
