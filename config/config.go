// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2023 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package config

import (
	"encoding/json"
	"errors"
	"log/slog"

	"gopkg.in/yaml.v3"

	"github.com/mochi-mqtt/stomp"
	"github.com/mochi-mqtt/stomp/hooks/debug"
	"github.com/mochi-mqtt/stomp/listeners"
	"github.com/mochi-mqtt/stomp/users"
	"github.com/mochi-mqtt/stomp/users/storage/badger"
	"github.com/mochi-mqtt/stomp/users/storage/bolt"
	"github.com/mochi-mqtt/stomp/users/storage/pebble"
	"github.com/mochi-mqtt/stomp/users/storage/redis"
)

// ErrMultipleUserStores indicates more than one user store was configured.
var ErrMultipleUserStores = errors.New("only one user store may be configured")

// config defines the structure of configuration data to be parsed from a config source.
type config struct {
	Options     stomp.Options
	Listeners   []listeners.Config `yaml:"listeners" json:"listeners"`
	Users       UsersConfig        `yaml:"users" json:"users"`
	HookConfigs HookConfigs        `yaml:"hooks" json:"hooks"`
}

// UsersConfig contains the users known at startup and the store they are kept in.
type UsersConfig struct {
	Ledger  users.Users        `yaml:"ledger" json:"ledger"`
	Storage *UserStorageConfig `yaml:"storage" json:"storage"`
}

// UserStorageConfig contains configurations for the different user stores.
type UserStorageConfig struct {
	Badger *badger.Options `yaml:"badger" json:"badger"`
	Bolt   *bolt.Options   `yaml:"bolt" json:"bolt"`
	Pebble *pebble.Options `yaml:"pebble" json:"pebble"`
	Redis  *redis.Options  `yaml:"redis" json:"redis"`
}

// HookConfigs contains configurations to enable individual hooks.
type HookConfigs struct {
	Debug *debug.Options `yaml:"debug" json:"debug"`
}

// ToHooks converts Hook file configurations into Hooks to be added to the server.
func (hc HookConfigs) ToHooks() []stomp.HookLoadConfig {
	var hlc []stomp.HookLoadConfig

	if hc.Debug != nil {
		hlc = append(hlc, stomp.HookLoadConfig{
			Hook:   new(debug.Hook),
			Config: hc.Debug,
		})
	}

	return hlc
}

// ToLedger returns a ledger preloaded with the configured users, or nil if there are none.
func (uc UsersConfig) ToLedger() *users.Ledger {
	if len(uc.Ledger) == 0 {
		return nil
	}

	l := users.NewLedger(slog.Default())
	for name, u := range uc.Ledger {
		u.Username = name
		l.Users[name] = u
	}

	return l
}

// ToStore converts the user storage configuration into a store to attach on serve.
func (uc UsersConfig) ToStore() (*stomp.UserStoreConfig, error) {
	if uc.Storage == nil {
		return nil, nil
	}

	var stores []*stomp.UserStoreConfig
	if uc.Storage.Badger != nil {
		stores = append(stores, &stomp.UserStoreConfig{Store: new(badger.Store), Config: uc.Storage.Badger})
	}

	if uc.Storage.Bolt != nil {
		stores = append(stores, &stomp.UserStoreConfig{Store: new(bolt.Store), Config: uc.Storage.Bolt})
	}

	if uc.Storage.Pebble != nil {
		stores = append(stores, &stomp.UserStoreConfig{Store: new(pebble.Store), Config: uc.Storage.Pebble})
	}

	if uc.Storage.Redis != nil {
		stores = append(stores, &stomp.UserStoreConfig{Store: new(redis.Store), Config: uc.Storage.Redis})
	}

	switch len(stores) {
	case 0:
		return nil, nil
	case 1:
		return stores[0], nil
	default:
		return nil, ErrMultipleUserStores
	}
}

// FromBytes unmarshals a byte slice of JSON or YAML config data into a valid server options value.
// User and hook configurations are converted into their server values using the methods in this package.
func FromBytes(b []byte) (*stomp.Options, error) {
	c := new(config)

	if len(b) == 0 {
		return nil, nil
	}

	if b[0] == '{' {
		err := json.Unmarshal(b, c)
		if err != nil {
			return nil, err
		}
	} else {
		err := yaml.Unmarshal(b, c)
		if err != nil {
			return nil, err
		}
	}

	store, err := c.Users.ToStore()
	if err != nil {
		return nil, err
	}

	o := c.Options
	o.Hooks = c.HookConfigs.ToHooks()
	o.Listeners = c.Listeners
	o.Users = c.Users.ToLedger()
	o.UserStore = store

	return &o, nil
}
