// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2024 mochi-mqtt, mochi-co
// SPDX-FileContributor: jason@zgwit.com

package listeners

import (
	"log/slog"
	"net"
	"os"
)

// UnixSock is a listener for STOMP clients connecting over a unix domain socket.
type UnixSock struct {
	stream
}

// NewUnixSock returns a unix socket listener for the configured path.
func NewUnixSock(config Config) *UnixSock {
	return &UnixSock{
		stream: stream{
			id:      config.ID,
			address: config.Address,
		},
	}
}

// Protocol returns the protocol of the listener.
func (l *UnixSock) Protocol() string {
	return "unix"
}

// Init binds the socket, replacing any stale socket file left at the path.
func (l *UnixSock) Init(log *slog.Logger) error {
	l.log = log

	var err error
	_ = os.Remove(l.address)
	l.listen, err = net.Listen("unix", l.address)
	return err
}
