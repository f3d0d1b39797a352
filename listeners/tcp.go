// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2024 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package listeners

import (
	"crypto/tls"
	"log/slog"
	"net"
)

// TCP is a listener for STOMP clients connecting over plain or TLS wrapped TCP.
type TCP struct {
	stream
	config Config // configuration values for the listener
}

// NewTCP returns a TCP listener for the configured address.
func NewTCP(config Config) *TCP {
	return &TCP{
		stream: stream{
			id:      config.ID,
			address: config.Address,
		},
		config: config,
	}
}

// Protocol returns the protocol of the listener.
func (l *TCP) Protocol() string {
	return "tcp"
}

// Init binds the listener to its address.
func (l *TCP) Init(log *slog.Logger) error {
	l.log = log

	var err error
	if l.config.TLSConfig != nil {
		l.listen, err = tls.Listen("tcp", l.address, l.config.TLSConfig)
	} else {
		l.listen, err = net.Listen("tcp", l.address)
	}

	return err
}
