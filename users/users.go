// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2024 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

// Package users holds the broker's user directory: who may log in, who is
// currently logged in, and on which connection.
package users

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/jinzhu/copier"
	"github.com/mochi-mqtt/stomp/users/storage"
	"gopkg.in/yaml.v3"
)

const (
	LoginSuccessNew       LoginStatus = iota // the user was unknown and has been created
	LoginSuccessExisting                     // a known user logged in
	LoginWrongPassword                       // the password did not match
	LoginAlreadyLoggedIn                     // the user is logged in on another connection
	LoginAlreadyConnected                    // the connection is already logged in
)

// LoginStatus is the outcome of a login attempt.
type LoginStatus byte

// String returns a readable name for the status.
func (s LoginStatus) String() string {
	switch s {
	case LoginSuccessNew:
		return "success_new"
	case LoginSuccessExisting:
		return "success_existing"
	case LoginWrongPassword:
		return "wrong_password"
	case LoginAlreadyLoggedIn:
		return "already_logged_in"
	case LoginAlreadyConnected:
		return "already_connected"
	default:
		return "unknown"
	}
}

// Succeeded indicates whether the status resulted in a logged in connection.
func (s LoginStatus) Succeeded() bool {
	return s == LoginSuccessNew || s == LoginSuccessExisting
}

// Directory resolves logins for connections.
type Directory interface {
	Login(connectionID int, username, password string) LoginStatus
	Logout(connectionID int)
}

// Store persists user records.
type Store interface {
	ID() string
	Init(config any) error
	Stop() error
	SetLogger(l *slog.Logger)
	SaveUser(u storage.User) error
	DeleteUser(username string) error
	StoredUser(username string) (storage.User, error)
	StoredUsers() ([]storage.User, error)
}

// Users is a map of user records keyed on username.
type Users map[string]storage.User

// Ledger is an in-memory Directory, optionally preloaded from a config
// file and optionally written through to a Store.
type Ledger struct {
	sync.Mutex `json:"-" yaml:"-"`
	Users      Users `json:"users" yaml:"users"` // known users

	online    map[string]int // username -> connection id
	connected map[int]string // connection id -> username
	store     Store
	log       *slog.Logger
	now       func() int64
}

// NewLedger returns an empty ledger.
func NewLedger(log *slog.Logger) *Ledger {
	l := new(Ledger)
	l.init(log)
	return l
}

func (l *Ledger) init(log *slog.Logger) {
	if log == nil {
		log = slog.Default()
	}

	l.log = log
	if l.Users == nil {
		l.Users = Users{}
	}
	if l.online == nil {
		l.online = map[string]int{}
	}
	if l.connected == nil {
		l.connected = map[int]string{}
	}
	if l.now == nil {
		l.now = func() int64 { return time.Now().Unix() }
	}
}

// SetLogger replaces the logger used by the ledger.
func (l *Ledger) SetLogger(log *slog.Logger) {
	l.Lock()
	defer l.Unlock()
	l.init(log)
}

// Attach initializes a store and merges its records into the ledger. Records
// known only to the ledger are written to the store.
func (l *Ledger) Attach(store Store, config any) error {
	l.Lock()
	defer l.Unlock()
	l.init(l.log)

	store.SetLogger(l.log.With("store", store.ID()))
	if err := store.Init(config); err != nil {
		return fmt.Errorf("failed to init user store %s: %w", store.ID(), err)
	}

	stored, err := store.StoredUsers()
	if err != nil {
		return fmt.Errorf("failed to load stored users: %w", err)
	}

	seen := make(map[string]bool, len(stored))
	for _, u := range stored {
		seen[u.Username] = true
		l.Users[u.Username] = u
	}

	for name, u := range l.Users {
		if seen[name] {
			continue
		}
		u.Username = name
		if err := store.SaveUser(u); err != nil {
			return fmt.Errorf("failed to save user %s: %w", name, err)
		}
	}

	l.store = store
	l.log.Info("attached user store", "store", store.ID(), "users", len(l.Users))

	return nil
}

// Stop closes the attached store, if any.
func (l *Ledger) Stop() error {
	l.Lock()
	defer l.Unlock()
	if l.store == nil {
		return nil
	}

	err := l.store.Stop()
	l.store = nil
	return err
}

// save writes a record through to the store. The caller must hold the lock.
func (l *Ledger) save(u storage.User) {
	if l.store == nil {
		return
	}

	if err := l.store.SaveUser(u); err != nil {
		l.log.Error("failed to persist user", "error", err, "username", u.Username)
	}
}

// Login resolves a login attempt for a connection.
func (l *Ledger) Login(connectionID int, username, password string) LoginStatus {
	l.Lock()
	defer l.Unlock()
	l.init(l.log)

	if _, ok := l.connected[connectionID]; ok {
		return LoginAlreadyConnected
	}

	now := l.now()
	u, ok := l.Users[username]
	if !ok {
		u = storage.User{
			Username:  username,
			Password:  password,
			T:         storage.UserKey,
			Created:   now,
			LastLogin: now,
			Logins:    1,
		}
		l.Users[username] = u
		l.bind(connectionID, username)
		l.save(u)
		return LoginSuccessNew
	}

	if u.Password != password {
		return LoginWrongPassword
	}

	if _, ok := l.online[username]; ok {
		return LoginAlreadyLoggedIn
	}

	if u.Created == 0 {
		u.Created = now
	}
	u.Username = username
	u.LastLogin = now
	u.Logins++
	l.Users[username] = u
	l.bind(connectionID, username)
	l.save(u)

	return LoginSuccessExisting
}

func (l *Ledger) bind(connectionID int, username string) {
	l.connected[connectionID] = username
	l.online[username] = connectionID
}

// Logout releases the user logged in on a connection. It is a no-op for a
// connection which is not logged in.
func (l *Ledger) Logout(connectionID int) {
	l.Lock()
	defer l.Unlock()
	l.init(l.log)

	username, ok := l.connected[connectionID]
	if !ok {
		return
	}

	delete(l.connected, connectionID)
	delete(l.online, username)

	u := l.Users[username]
	u.LastLogout = l.now()
	l.Users[username] = u
	l.save(u)
}

// IsLoggedIn indicates whether a user is logged in on any connection.
func (l *Ledger) IsLoggedIn(username string) bool {
	l.Lock()
	defer l.Unlock()
	_, ok := l.online[username]
	return ok
}

// Online returns the number of logged in users.
func (l *Ledger) Online() int {
	l.Lock()
	defer l.Unlock()
	return len(l.online)
}

// Unmarshal decodes a JSON or YAML string (such as a users file) into the ledger.
func (l *Ledger) Unmarshal(data []byte) error {
	l.Lock()
	defer l.Unlock()
	if len(data) == 0 {
		return nil
	}

	var err error
	if data[0] == '{' {
		err = json.Unmarshal(data, l)
	} else {
		err = yaml.Unmarshal(data, l)
	}
	if err != nil {
		return err
	}

	for name, u := range l.Users {
		u.Username = name
		u.T = storage.UserKey
		l.Users[name] = u
	}

	return nil
}

// ToJSON encodes the values into a JSON string.
func (l *Ledger) ToJSON() (data []byte, err error) {
	l.Lock()
	defer l.Unlock()
	return json.Marshal(l)
}

// ToYAML encodes the values into a YAML string.
func (l *Ledger) ToYAML() (data []byte, err error) {
	l.Lock()
	defer l.Unlock()
	return yaml.Marshal(l)
}

// ReportEntry is a snapshot of one user for the shutdown report.
type ReportEntry struct {
	storage.User
	Online bool `json:"online"`
}

// Report returns a detached copy of every user record, ordered by username.
func (l *Ledger) Report() []ReportEntry {
	l.Lock()
	defer l.Unlock()

	records := make([]storage.User, 0, len(l.Users))
	for _, u := range l.Users {
		records = append(records, u)
	}

	var copied []storage.User
	if err := copier.CopyWithOption(&copied, &records, copier.Option{DeepCopy: true}); err != nil {
		l.log.Error("failed to copy user records", "error", err)
		copied = records
	}

	out := make([]ReportEntry, 0, len(copied))
	for _, u := range copied {
		_, online := l.online[u.Username]
		out = append(out, ReportEntry{User: u, Online: online})
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Username < out[j].Username
	})

	return out
}

// WriteReport writes the report as an aligned table.
func (l *Ledger) WriteReport(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "USER\tONLINE\tLOGINS\tLAST LOGIN\tLAST LOGOUT")
	for _, e := range l.Report() {
		fmt.Fprintf(tw, "%s\t%t\t%d\t%s\t%s\n", e.Username, e.Online, e.Logins, unixString(e.LastLogin), unixString(e.LastLogout))
	}
	return tw.Flush()
}

func unixString(v int64) string {
	if v == 0 {
		return "-"
	}
	return time.Unix(v, 0).UTC().Format(time.RFC3339)
}
