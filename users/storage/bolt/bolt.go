// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2024 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co, werbenhu

// Package bolt stores broker users in a boltdb file.
package bolt

import (
	"bytes"
	"errors"
	"time"

	"github.com/mochi-mqtt/stomp/users/storage"
	"go.etcd.io/bbolt"
)

var (
	ErrKeyNotFound = errors.New("key not found")
)

const (
	// defaultDbFile is the default file path for the boltdb file.
	defaultDbFile = ".bolt"

	// defaultTimeout is the default time to hold a connection to the file.
	defaultTimeout = 250 * time.Millisecond

	defaultBucket = "stomp"
)

// Options contains configuration settings for the bolt instance.
type Options struct {
	Options *bbolt.Options `yaml:"-" json:"-"`
	Bucket  string         `yaml:"bucket" json:"bucket"`
	Path    string         `yaml:"path" json:"path"`
}

// Store is a user store using a boltdb file as a backend.
type Store struct {
	storage.Base
	config *Options  // options for configuring the boltdb instance.
	db     *bbolt.DB // the boltdb instance.
}

// ID returns the id of the store.
func (s *Store) ID() string {
	return "bolt-db"
}

// Init opens the boltdb file and ensures the bucket exists.
func (s *Store) Init(config any) error {
	opts, ok := config.(*Options)
	if !ok && config != nil {
		return storage.ErrInvalidConfigType
	}

	if opts == nil {
		opts = new(Options)
	}

	if s.Log == nil {
		s.SetLogger(nil)
	}

	s.config = opts
	if s.config.Options == nil {
		s.config.Options = &bbolt.Options{
			Timeout: defaultTimeout,
		}
	}

	if len(s.config.Path) == 0 {
		s.config.Path = defaultDbFile
	}

	if len(s.config.Bucket) == 0 {
		s.config.Bucket = defaultBucket
	}

	var err error
	s.db, err = bbolt.Open(s.config.Path, 0600, s.config.Options)
	if err != nil {
		return err
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(s.config.Bucket))
		return err
	})
}

// Stop closes the boltdb instance.
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

	err = s.iterKv(storage.UserKey, func(value []byte) error {
		obj := storage.User{}
		if err := obj.UnmarshalBinary(value); err != nil {
			return err
		}
		v = append(v, obj)
		return nil
	})

	return v, err
}

// setKv stores a key-value pair in the database.
func (s *Store) setKv(k string, v storage.Serializable) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(s.config.Bucket))
		data, err := v.MarshalBinary()
		if err != nil {
			return err
		}
		return bucket.Put([]byte(k), data)
	})
	if err != nil {
		s.Log.Error("failed to upsert data", "error", err, "key", k)
	}
	return err
}

// delKv deletes a key-value pair from the database.
func (s *Store) delKv(k string) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(s.config.Bucket)).Delete([]byte(k))
	})
	if err != nil {
		s.Log.Error("failed to delete data", "error", err, "key", k)
	}
	return err
}

// getKv retrieves the value associated with a key from the database.
func (s *Store) getKv(k string, v storage.Serializable) error {
	return s.db.View(func(tx *bbolt.Tx) error {
		value := tx.Bucket([]byte(s.config.Bucket)).Get([]byte(k))
		if value == nil {
			return ErrKeyNotFound
		}
		return v.UnmarshalBinary(value)
	})
}

// iterKv iterates over key-value pairs with keys having the specified prefix in the database.
func (s *Store) iterKv(prefix string, visit func([]byte) error) error {
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(s.config.Bucket)).Cursor()
		p := []byte(prefix)
		for k, v := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, v = c.Next() {
			if err := visit(v); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		s.Log.Error("failed to iter data", "error", err, "prefix", prefix)
	}
	return err
}
