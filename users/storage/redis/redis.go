// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2024 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

// Package redis stores broker users in a redis hash set.
package redis

import (
	"context"
	"errors"
	"fmt"

	redis "github.com/go-redis/redis/v8"
	"github.com/mochi-mqtt/stomp/users/storage"
)

// defaultAddr is the default address to the redis service.
const defaultAddr = "localhost:6379"

// defaultHPrefix is a prefix to better identify hsets created by the broker.
const defaultHPrefix = "stomp-"

// Options contains configuration settings for the redis client.
type Options struct {
	Address  string         `yaml:"address" json:"address"`
	Username string         `yaml:"username" json:"username"`
	Password string         `yaml:"password" json:"password"`
	Database int            `yaml:"database" json:"database"`
	HPrefix  string         `yaml:"h_prefix" json:"h_prefix"`
	Options  *redis.Options `yaml:"-" json:"-"` // overrides the fields above when set
}

// Store is a user store using Redis as a backend.
type Store struct {
	storage.Base
	config *Options        // options for connecting to the Redis instance.
	db     *redis.Client   // the Redis instance
	ctx    context.Context // a context for the connection
}

// ID returns the id of the store.
func (s *Store) ID() string {
	return "redis-db"
}

// hKey returns a hash set key with a unique prefix.
func (s *Store) hKey(k string) string {
	return s.config.HPrefix + k
}

// Init connects to the redis service.
func (s *Store) Init(config any) error {
	opts, ok := config.(*Options)
	if !ok && config != nil {
		return storage.ErrInvalidConfigType
	}

	s.ctx = context.Background()

	if opts == nil {
		opts = new(Options)
	}

	s.config = opts
	if s.config.Options == nil {
		s.config.Options = &redis.Options{
			Addr:     s.config.Address,
			Username: s.config.Username,
			Password: s.config.Password,
			DB:       s.config.Database,
		}
	}

	if s.config.Options.Addr == "" {
		s.config.Options.Addr = defaultAddr
	}

	if s.config.HPrefix == "" {
		s.config.HPrefix = defaultHPrefix
	}

	if s.Log == nil {
		s.SetLogger(nil)
	}

	s.Log.Info("connecting to redis service",
		"address", s.config.Options.Addr,
		"username", s.config.Options.Username,
		"password-len", len(s.config.Options.Password),
		"db", s.config.Options.DB)

	s.db = redis.NewClient(s.config.Options)
	_, err := s.db.Ping(s.ctx).Result()
	if err != nil {
		return fmt.Errorf("failed to ping service: %w", err)
	}

	s.Log.Info("connected to redis service")

	return nil
}

// Stop closes the redis connection.
func (s *Store) Stop() error {
	if s.db == nil {
		return nil
	}

	s.Log.Info("disconnecting from redis service")
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
	err := s.db.HSet(s.ctx, s.hKey(storage.UserKey), u.Username, u).Err()
	if err != nil {
		s.Log.Error("failed to hset user data", "error", err, "username", u.Username)
	}
	return err
}

// DeleteUser removes a user record from the store.
func (s *Store) DeleteUser(username string) error {
	if s.db == nil {
		return storage.ErrDBFileNotOpen
	}

	err := s.db.HDel(s.ctx, s.hKey(storage.UserKey), username).Err()
	if err != nil {
		s.Log.Error("failed to delete user data", "error", err, "username", username)
	}
	return err
}

// StoredUser returns a single stored user. A missing user yields redis.Nil.
func (s *Store) StoredUser(username string) (v storage.User, err error) {
	if s.db == nil {
		return v, storage.ErrDBFileNotOpen
	}

	row, err := s.db.HGet(s.ctx, s.hKey(storage.UserKey), username).Bytes()
	if err != nil {
		return v, err
	}

	err = v.UnmarshalBinary(row)
	return v, err
}

// StoredUsers returns all stored users.
func (s *Store) StoredUsers() (v []storage.User, err error) {
	if s.db == nil {
		s.Log.Error("", "error", storage.ErrDBFileNotOpen)
		return v, storage.ErrDBFileNotOpen
	}

	rows, err := s.db.HGetAll(s.ctx, s.hKey(storage.UserKey)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		s.Log.Error("failed to HGetAll user data", "error", err)
		return v, err
	}

	for _, row := range rows {
		var d storage.User
		if err = d.UnmarshalBinary([]byte(row)); err != nil {
			s.Log.Error("failed to unmarshal user data", "error", err, "data", row)
			continue
		}

		v = append(v, d)
	}

	return v, nil
}
