// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2024 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co, gsagula, werbenhu

// Package badger stores broker users in a BadgerDB directory.
package badger

import (
	"errors"
	"fmt"
	"strings"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/mochi-mqtt/stomp/users/storage"
)

const (
	// defaultDbFile is the default file path for the badger db file.
	defaultDbFile         = ".badger"
	defaultGcInterval     = 5 * 60 // gc interval in seconds
	defaultGcDiscardRatio = 0.5
)

// Options contains configuration settings for the BadgerDB instance.
type Options struct {
	Options *badgerdb.Options `yaml:"-" json:"-"`
	Path    string            `yaml:"path" json:"path"`

	// GcDiscardRatio must be in the range (0.0, 1.0), otherwise the default of 0.5 is used.
	GcDiscardRatio float64 `yaml:"gc_discard_ratio" json:"gc_discard_ratio"`
	GcInterval     int64   `yaml:"gc_interval" json:"gc_interval"`
}

// Store is a user store using BadgerDB as a backend.
type Store struct {
	storage.Base
	config   *Options      // options for configuring the BadgerDB instance.
	gcTicker *time.Ticker  // ticker for BadgerDB garbage collection.
	gcDone   chan struct{} // closed to halt the gc loop.
	db       *badgerdb.DB  // the BadgerDB instance.
}

// ID returns the id of the store.
func (s *Store) ID() string {
	return "badger-db"
}

// gcLoop periodically reclaims space in the value log files.
func (s *Store) gcLoop(db *badgerdb.DB, ticker *time.Ticker, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
		again:
			err := db.RunValueLogGC(s.config.GcDiscardRatio)
			if err == nil {
				goto again
			}
		}
	}
}

// Init opens the badger instance.
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

	if s.config.GcInterval == 0 {
		s.config.GcInterval = defaultGcInterval
	}

	if s.config.GcDiscardRatio <= 0.0 || s.config.GcDiscardRatio >= 1.0 {
		s.config.GcDiscardRatio = defaultGcDiscardRatio
	}

	if s.config.Options == nil {
		defaultOpts := badgerdb.DefaultOptions(s.config.Path)
		s.config.Options = &defaultOpts
	}
	s.config.Options.Logger = s

	var err error
	s.db, err = badgerdb.Open(*s.config.Options)
	if err != nil {
		return err
	}

	s.gcTicker = time.NewTicker(time.Duration(s.config.GcInterval) * time.Second)
	s.gcDone = make(chan struct{})
	go s.gcLoop(s.db, s.gcTicker, s.gcDone)

	return nil
}

// Stop closes the badger instance.
func (s *Store) Stop() error {
	if s.gcTicker != nil {
		s.gcTicker.Stop()
		close(s.gcDone)
		s.gcTicker = nil
	}

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

	err = s.iterKv(storage.UserKey, func(value []byte) error {
		obj := storage.User{}
		if err := obj.UnmarshalBinary(value); err != nil {
			return err
		}
		v = append(v, obj)
		return nil
	})

	if err != nil && !errors.Is(err, badgerdb.ErrKeyNotFound) {
		return
	}

	return v, nil
}

// Errorf satisfies the badger interface for an error logger.
func (s *Store) Errorf(m string, v ...any) {
	s.Log.Error(fmt.Sprintf(strings.ToLower(strings.Trim(m, "\n")), v...))
}

// Warningf satisfies the badger interface for a warning logger.
func (s *Store) Warningf(m string, v ...any) {
	s.Log.Warn(fmt.Sprintf(strings.ToLower(strings.Trim(m, "\n")), v...))
}

// Infof satisfies the badger interface for an info logger.
func (s *Store) Infof(m string, v ...any) {
	s.Log.Info(fmt.Sprintf(strings.ToLower(strings.Trim(m, "\n")), v...))
}

// Debugf satisfies the badger interface for a debug logger.
func (s *Store) Debugf(m string, v ...any) {
	s.Log.Debug(fmt.Sprintf(strings.ToLower(strings.Trim(m, "\n")), v...))
}

// setKv stores a key-value pair in the database.
func (s *Store) setKv(k string, v storage.Serializable) error {
	err := s.db.Update(func(txn *badgerdb.Txn) error {
		data, err := v.MarshalBinary()
		if err != nil {
			return err
		}
		return txn.Set([]byte(k), data)
	})
	if err != nil {
		s.Log.Error("failed to upsert data", "error", err, "key", k)
	}
	return err
}

// delKv deletes a key-value pair from the database.
func (s *Store) delKv(k string) error {
	err := s.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Delete([]byte(k))
	})
	if err != nil {
		s.Log.Error("failed to delete data", "error", err, "key", k)
	}
	return err
}

// getKv retrieves the value associated with a key from the database.
func (s *Store) getKv(k string, v storage.Serializable) error {
	return s.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get([]byte(k))
		if err != nil {
			return err
		}
		value, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		return v.UnmarshalBinary(value)
	})
}

// iterKv iterates over key-value pairs with keys having the specified prefix in the database.
func (s *Store) iterKv(prefix string, visit func([]byte) error) error {
	err := s.db.View(func(txn *badgerdb.Txn) error {
		iterator := txn.NewIterator(badgerdb.DefaultIteratorOptions)
		defer iterator.Close()

		for iterator.Seek([]byte(prefix)); iterator.ValidForPrefix([]byte(prefix)); iterator.Next() {
			value, err := iterator.Item().ValueCopy(nil)
			if err != nil {
				return err
			}

			if err := visit(value); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		s.Log.Error("failed to find data", "error", err, "prefix", prefix)
	}
	return err
}
