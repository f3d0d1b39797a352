// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2024 mochi-mqtt, mochi-co
// SPDX-FileContributor: werbenhu

package pebble

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"testing"

	pebbledb "github.com/cockroachdb/pebble"
	"github.com/mochi-mqtt/stomp/users/storage"
	"github.com/stretchr/testify/require"
)

var logger = slog.New(slog.NewTextHandler(io.Discard, nil))

func newStore(t *testing.T, mode string) *Store {
	s := new(Store)
	s.SetLogger(logger)
	err := s.Init(&Options{
		Path: filepath.Join(t.TempDir(), "users.pebble"),
		Mode: mode,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.Stop()
	})
	return s
}

func TestKeyUpperBound(t *testing.T) {
	require.Equal(t, []byte("USS"), keyUpperBound([]byte("USR")))
	require.Equal(t, []byte{0x01, 0x01}, keyUpperBound([]byte{0x01, 0x00}))
	require.Equal(t, []byte{0x02}, keyUpperBound([]byte{0x01, 0xff}))
	require.Nil(t, keyUpperBound([]byte{0xff, 0xff}))
}

func TestID(t *testing.T) {
	s := new(Store)
	require.Equal(t, "pebble-db", s.ID())
}

func TestInitTypedNilOptions(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	dir := t.TempDir()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() {
		_ = os.Chdir(wd)
	})

	s := new(Store)
	s.SetLogger(logger)
	require.NoError(t, s.Init((*Options)(nil)))
	defer s.Stop()

	require.Equal(t, defaultDbFile, s.config.Path)
	_, err = os.Stat(filepath.Join(dir, defaultDbFile))
	require.NoError(t, err)
}

func TestInitBadConfig(t *testing.T) {
	s := new(Store)
	s.SetLogger(logger)
	err := s.Init(map[string]any{})
	require.ErrorIs(t, err, storage.ErrInvalidConfigType)
}

func TestInitMode(t *testing.T) {
	s := newStore(t, "")
	require.Equal(t, pebbledb.NoSync, s.mode)

	s = newStore(t, "sync")
	require.Equal(t, pebbledb.Sync, s.mode)
}

func TestSaveAndStoredUsers(t *testing.T) {
	s := newStore(t, Sync)
	require.NoError(t, s.SaveUser(storage.User{Username: "meni", Password: "films", Logins: 1}))
	require.NoError(t, s.SaveUser(storage.User{Username: "bob", Password: "pw"}))
	require.NoError(t, s.SaveUser(storage.User{Username: "meni", Password: "films", Logins: 2}))

	users, err := s.StoredUsers()
	require.NoError(t, err)
	require.Len(t, users, 2)
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	require.Equal(t, "bob", users[0].Username)
	require.Equal(t, "meni", users[1].Username)
	require.Equal(t, int64(2), users[1].Logins)
	require.Equal(t, storage.UserKey, users[1].T)
}

func TestStoredUser(t *testing.T) {
	s := newStore(t, NoSync)
	require.NoError(t, s.SaveUser(storage.User{Username: "meni", Password: "films"}))

	u, err := s.StoredUser("meni")
	require.NoError(t, err)
	require.Equal(t, "films", u.Password)

	_, err = s.StoredUser("nobody")
	require.ErrorIs(t, err, pebbledb.ErrNotFound)
}

func TestDeleteUser(t *testing.T) {
	s := newStore(t, NoSync)
	require.NoError(t, s.SaveUser(storage.User{Username: "meni"}))
	require.NoError(t, s.DeleteUser("meni"))

	users, err := s.StoredUsers()
	require.NoError(t, err)
	require.Empty(t, users)
}

func TestClosedStore(t *testing.T) {
	s := newStore(t, NoSync)
	require.NoError(t, s.Stop())

	require.ErrorIs(t, s.SaveUser(storage.User{Username: "meni"}), storage.ErrDBFileNotOpen)
	require.ErrorIs(t, s.DeleteUser("meni"), storage.ErrDBFileNotOpen)
	_, err := s.StoredUsers()
	require.ErrorIs(t, err, storage.ErrDBFileNotOpen)
	_, err = s.StoredUser("meni")
	require.ErrorIs(t, err, storage.ErrDBFileNotOpen)
	require.NoError(t, s.Stop())
}

func TestFatalfPanics(t *testing.T) {
	s := new(Store)
	s.SetLogger(logger)
	require.Panics(t, func() {
		s.Fatalf("fatal %s", "x")
	})
}
