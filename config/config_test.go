// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2023 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package config

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mochi-mqtt/stomp"
	"github.com/mochi-mqtt/stomp/hooks/debug"
	"github.com/mochi-mqtt/stomp/listeners"
	"github.com/mochi-mqtt/stomp/users/storage/badger"
	"github.com/mochi-mqtt/stomp/users/storage/bolt"
	"github.com/mochi-mqtt/stomp/users/storage/pebble"
	"github.com/mochi-mqtt/stomp/users/storage/redis"
)

var (
	yamlBytes = []byte(`
listeners:
  - type: "tcp"
    id: "file-tcp1"
    address: ":61613"
hooks:
  debug:
    show_frame_bodies: true
users:
  ledger:
    meni:
      password: films
options:
  mode: reactor
  reactor_workers: 4
  client_net_write_buffer_size: 2048
  capabilities:
    maximum_frame_size: 4096
    compatibilities:
      recoverable_errors: true
`)

	jsonBytes = []byte(`{
   "listeners": [
      {
         "type": "tcp",
         "id": "file-tcp1",
         "address": ":61613"
      }
   ],
   "hooks": {
      "debug": {
         "show_frame_bodies": true
      }
   },
   "users": {
      "ledger": {
         "meni": {
            "password": "films"
         }
      }
   },
   "options": {
      "mode": "reactor",
      "reactor_workers": 4,
      "client_net_write_buffer_size": 2048,
      "capabilities": {
         "maximum_frame_size": 4096,
         "compatibilities": {
            "recoverable_errors": true
         }
      }
   }
}
`)
)

func requireParsed(t *testing.T, o *stomp.Options) {
	require.NotNil(t, o)
	require.Equal(t, []listeners.Config{
		{Type: listeners.TypeTCP, ID: "file-tcp1", Address: ":61613"},
	}, o.Listeners)

	require.Len(t, o.Hooks, 1)
	require.IsType(t, new(debug.Hook), o.Hooks[0].Hook)
	require.Equal(t, &debug.Options{ShowFrameBodies: true}, o.Hooks[0].Config)

	require.Equal(t, "reactor", o.Mode)
	require.Equal(t, 4, o.ReactorWorkers)
	require.Equal(t, 2048, o.ClientNetWriteBufferSize)
	require.Equal(t, uint32(4096), o.Capabilities.MaximumFrameSize)
	require.True(t, o.Capabilities.Compatibilities.RecoverableErrors)

	require.NotNil(t, o.Users)
	require.Equal(t, "films", o.Users.Users["meni"].Password)
	require.Equal(t, "meni", o.Users.Users["meni"].Username)
	require.Nil(t, o.UserStore)
}

func TestFromBytesEmpty(t *testing.T) {
	_, err := FromBytes([]byte{})
	require.NoError(t, err)
}

func TestFromBytesYAML(t *testing.T) {
	o, err := FromBytes(yamlBytes)
	require.NoError(t, err)
	requireParsed(t, o)
}

func TestFromBytesYAMLError(t *testing.T) {
	_, err := FromBytes(append(yamlBytes, 'a'))
	require.Error(t, err)
}

func TestFromBytesJSON(t *testing.T) {
	o, err := FromBytes(jsonBytes)
	require.NoError(t, err)
	requireParsed(t, o)
}

func TestFromBytesJSONError(t *testing.T) {
	_, err := FromBytes(append(jsonBytes, 'a'))
	require.Error(t, err)
}

func TestFromBytesNoUsers(t *testing.T) {
	o, err := FromBytes([]byte("options:\n  mode: tpc\n"))
	require.NoError(t, err)
	require.Nil(t, o.Users)
	require.Nil(t, o.UserStore)
	require.Empty(t, o.Hooks)
}

func TestToStore(t *testing.T) {
	tt := []struct {
		desc  string
		yaml  string
		store any
	}{
		{desc: "badger", yaml: "badger:\n  path: .badger", store: new(badger.Store)},
		{desc: "bolt", yaml: "bolt:\n  path: .bolt\n  bucket: users", store: new(bolt.Store)},
		{desc: "pebble", yaml: "pebble:\n  path: .pebble\n  mode: sync", store: new(pebble.Store)},
		{desc: "redis", yaml: "redis:\n  address: localhost:6379\n  h_prefix: stomp-", store: new(redis.Store)},
	}

	for _, tx := range tt {
		t.Run(tx.desc, func(t *testing.T) {
			o, err := FromBytes([]byte("users:\n  storage:\n    " + indent(tx.yaml)))
			require.NoError(t, err)
			require.NotNil(t, o.UserStore)
			require.IsType(t, tx.store, o.UserStore.Store)
			require.NotNil(t, o.UserStore.Config)
		})
	}
}

func TestToStoreRedisFields(t *testing.T) {
	o, err := FromBytes([]byte(`
users:
  storage:
    redis:
      address: "10.0.0.1:6379"
      password: secret
      database: 2
`))
	require.NoError(t, err)
	cfg, ok := o.UserStore.Config.(*redis.Options)
	require.True(t, ok)
	require.Equal(t, "10.0.0.1:6379", cfg.Address)
	require.Equal(t, "secret", cfg.Password)
	require.Equal(t, 2, cfg.Database)
}

func TestToStoreMultiple(t *testing.T) {
	_, err := FromBytes([]byte(`
users:
  storage:
    bolt:
      path: .bolt
    badger:
      path: .badger
`))
	require.ErrorIs(t, err, ErrMultipleUserStores)
}

func indent(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		out = append(out, s[i])
		if s[i] == '\n' {
			out = append(out, "    "...)
		}
	}
	return string(out)
}
