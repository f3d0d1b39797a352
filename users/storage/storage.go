// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2024 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

// Package storage contains the record types shared by the user store backends.
package storage

import (
	"encoding/json"
	"errors"
	"log/slog"
)

const (
	UserKey = "USR" // unique key to denote users in a store
)

var (
	// ErrDBFileNotOpen indicates that the file database (e.g. bolt/badger) wasn't open for reading.
	ErrDBFileNotOpen = errors.New("db file not open")

	// ErrInvalidConfigType indicates a different Type of config value was expected to what was received.
	ErrInvalidConfigType = errors.New("invalid config type provided")
)

// Serializable is an interface for objects that can be serialized and deserialized.
type Serializable interface {
	UnmarshalBinary([]byte) error
	MarshalBinary() (data []byte, err error)
}

// User is a storable representation of a broker user and their login history.
type User struct {
	Username   string `json:"username" yaml:"username,omitempty"`      // the username / storage key
	Password   string `json:"password" yaml:"password"`                // the password of the user
	T          string `json:"t" yaml:"-"`                              // the data type (user)
	Created    int64  `json:"created" yaml:"created,omitempty"`        // unix time the user was first seen
	LastLogin  int64  `json:"lastLogin" yaml:"last_login,omitempty"`   // unix time of the latest login
	LastLogout int64  `json:"lastLogout" yaml:"last_logout,omitempty"` // unix time of the latest logout
	Logins     int64  `json:"logins" yaml:"logins,omitempty"`          // the number of successful logins
}

// MarshalBinary encodes the values into a json string.
func (d User) MarshalBinary() (data []byte, err error) {
	return json.Marshal(d)
}

// UnmarshalBinary decodes a json string into a struct.
func (d *User) UnmarshalBinary(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, d)
}

// UserKeyFor returns the primary key for a user.
func UserKeyFor(username string) string {
	return UserKey + "_" + username
}

// Base provides the logger shared by the store backends.
type Base struct {
	Log *slog.Logger
}

// SetLogger sets the logger used by the store, falling back to the default logger.
func (b *Base) SetLogger(l *slog.Logger) {
	if l == nil {
		l = slog.Default()
	}
	b.Log = l
}
