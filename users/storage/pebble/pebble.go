// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2024 mochi-mqtt, mochi-co
// SPDX-FileContributor: werbenhu

// Package pebble stores broker users in a pebble database.
package pebble

import (
	"fmt"
	"strings"

	pebbledb "github.com/cockroachdb/pebble"
	"github.com/mochi-mqtt/stomp/users/storage"
)

const (
	// defaultDbFile is the default file path for the pebble db file.
	defaultDbFile = ".pebble"
)

const (
	NoSync = "NoSync" // NoSync specifies the default write options for writes which do not synchronize to disk.
	Sync   = "Sync"   // Sync specifies the default write options for writes which synchronize to disk.
)

// keyUpperBound returns the upper bound for a given byte slice by incrementing the last byte.
// It returns nil if all bytes are incremented and equal to 0.
func keyUpperBound(b []byte) []byte {
	end := make([]byte, len(b))
	copy(end, b)
	for i := len(end) - 1; i >= 0; i-- {
		end[i] = end[i] + 1
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

// Options contains configuration settings for the pebble DB instance.
type Options struct {
	Options *pebbledb.Options `yaml:"-" json:"-"`
	Mode    string            `yaml:"mode" json:"mode"`
	Path    string            `yaml:"path" json:"path"`
}

// Store is a user store using a pebble DB as a backend.
type Store struct {
	storage.Base
	config *Options               // options for configuring the pebble DB instance.
	db     *pebbledb.DB           // the pebble DB instance
	mode   *pebbledb.WriteOptions // per-query parameters for Set and Delete operations
}

// ID returns the id of the store.
func (s *Store) ID() string {
	return "pebble-db"
}

// Init opens the pebble instance.
func (s *Store) Init(config any) error {
	opts, ok := config.(*Options)
	if !ok && config != nil {
		return storage.ErrInvalidConfigType
	}

	if opts == nil {
		opts = new(Options)
	}
	s.config = opts

	if s.Log == nil {
		s.SetLogger(nil)
	}

	if len(s.config.Path) == 0 {
		s.config.Path = defaultDbFile
	}

	if s.config.Options == nil {
		s.config.Options = &pebbledb.Options{}
	}
	s.config.Options.Logger = s

	s.mode = pebbledb.NoSync
	if strings.EqualFold(s.config.Mode, Sync) {
		s.mode = pebbledb.Sync
	}

	var err error
	s.db, err = pebbledb.Open(s.config.Path, s.config.Options)
	return err
}

// Stop closes the pebble instance.
func (s *Store) Stop() error {
	if s.db == nil {
		return nil
	}

	err := s.db.Close()
	s.db = nil
	return err
}

// SaveUser writes a user record to the store.
func (s *Store) SaveUser(u storage.User) error {
	if s.db == nil {
		return storage.ErrDBFileNotOpen
	}

	u.T = storage.UserKey
	return s.setKv(storage.UserKeyFor(u.Username), &u)
}

// DeleteUser removes a user record from the store.
func (s *Store) DeleteUser(username string) error {
	if s.db == nil {
		return storage.ErrDBFileNotOpen
	}

	return s.delKv(storage.UserKeyFor(username))
}

// StoredUser returns a single stored user.
func (s *Store) StoredUser(username string) (v storage.User, err error) {
	if s.db == nil {
		return v, storage.ErrDBFileNotOpen
	}

	err = s.getKv(storage.UserKeyFor(username), &v)
	return v, err
}

// StoredUsers returns all stored users.
func (s *Store) StoredUsers() (v []storage.User, err error) {
	if s.db == nil {
		s.Log.Error("", "error", storage.ErrDBFileNotOpen)
		return v, storage.ErrDBFileNotOpen
	}

	iter, err := s.db.NewIter(&pebbledb.IterOptions{
		LowerBound: []byte(storage.UserKey),
		UpperBound: keyUpperBound([]byte(storage.UserKey)),
	})
	if err != nil {
		return v, err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		item := storage.User{}
		if err := item.UnmarshalBinary(iter.Value()); err == nil {
			v = append(v, item)
		}
	}

	return v, nil
}

// Errorf satisfies the pebble interface for an error logger.
func (s *Store) Errorf(m string, v ...any) {
	s.Log.Error(fmt.Sprintf(strings.ToLower(strings.Trim(m, "\n")), v...))
}

// Infof satisfies the pebble interface for an info logger.
func (s *Store) Infof(m string, v ...any) {
	s.Log.Info(fmt.Sprintf(strings.ToLower(strings.Trim(m, "\n")), v...))
}

// Fatalf satisfies the pebble interface for a fatal logger. Pebble expects it not to return.
func (s *Store) Fatalf(m string, v ...any) {
	msg := fmt.Sprintf(m, v...)
	s.Log.Error(strings.ToLower(strings.Trim(msg, "\n")))
	panic(msg)
}

// delKv deletes a key-value pair from the database.
func (s *Store) delKv(k string) error {
	err := s.db.Delete([]byte(k), s.mode)
	if err != nil {
		s.Log.Error("failed to delete data", "error", err, "key", k)
	}
	return err
}

// setKv stores a key-value pair in the database.
func (s *Store) setKv(k string, v storage.Serializable) error {
	bs, err := v.MarshalBinary()
	if err != nil {
		return err
	}

	err = s.db.Set([]byte(k), bs, s.mode)
	if err != nil {
		s.Log.Error("failed to update data", "error", err, "key", k)
	}
	return err
}

// getKv retrieves the value associated with a key from the database.
func (s *Store) getKv(k string, v storage.Serializable) error {
	value, closer, err := s.db.Get([]byte(k))
	if err != nil {
		return err
	}
	defer closer.Close()

	return v.UnmarshalBinary(value)
}
