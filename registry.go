// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2024 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package stomp

import (
	"errors"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/mochi-mqtt/stomp/frames"
)

var (
	ErrConnectionNotFound = errors.New("connection not found")                        // the connection id is not registered
	ErrNotSubscribed      = errors.New("connection is not subscribed to destination") // publishing requires a subscription
)

// DeliverFn hands an encoded frame to the output of a single connection. It must not block.
type DeliverFn func(frame string)

// Registry is the directory of live connections and the subscriptions they hold.
// The destinations and subscriptions maps are always inverses of each other, and
// a destination is removed as soon as it has no subscribers.
type Registry struct {
	mu            sync.RWMutex
	connections   map[int]DeliverFn      // live connections and their delivery primitive
	destinations  map[string]map[int]int // destination -> connection id -> subscription id
	subscriptions map[int]map[int]string // connection id -> subscription id -> destination
	messageID     int64                  // the last allocated message id
	subsQty       int64                  // the number of active subscriptions

	// StrictMessageIDs stops direct sends from advancing the message id counter.
	StrictMessageIDs bool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		connections:   map[int]DeliverFn{},
		destinations:  map[string]map[int]int{},
		subscriptions: map[int]map[int]string{},
	}
}

// Register marks a connection as live.
func (r *Registry) Register(id int, deliver DeliverFn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connections[id] = deliver
}

// NextMessageID allocates a new message id.
func (r *Registry) NextMessageID() int64 {
	return atomic.AddInt64(&r.messageID, 1)
}

// SendToConnection delivers a frame to a single live connection, returning false if
// the connection is not registered.
func (r *Registry) SendToConnection(id int, f frames.Frame) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sendLocked(id, f.String())
}

// sendLocked delivers to a connection. The caller must hold the read lock.
func (r *Registry) sendLocked(id int, text string) bool {
	deliver, ok := r.connections[id]
	if !ok {
		return false
	}

	if !r.StrictMessageIDs {
		atomic.AddInt64(&r.messageID, 1)
	}

	deliver(text)
	return true
}

// SendToDestination delivers the same frame to every current subscriber of a destination.
func (r *Registry) SendToDestination(destination string, f frames.Frame) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	subs, ok := r.destinations[destination]
	if !ok {
		return 0
	}

	text := f.String()
	var n int
	for id := range subs {
		if deliver, ok := r.connections[id]; ok {
			deliver(text)
			n++
		}
	}

	return n
}

// Publish delivers a MESSAGE frame to every subscriber of a destination, each addressed
// with the subscriber's own subscription id and sharing one newly allocated message id.
// The sender must be subscribed to the destination.
func (r *Registry) Publish(sender int, destination, body string) (int64, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	subs, ok := r.destinations[destination]
	if !ok {
		return 0, 0, ErrNotSubscribed
	}

	if _, ok := subs[sender]; !ok {
		return 0, 0, ErrNotSubscribed
	}

	mid := r.NextMessageID()
	smid := strconv.FormatInt(mid, 10)
	var n int
	for id, subID := range subs {
		f := frames.New(frames.Message, frames.Headers{
			frames.HeaderSubscription: strconv.Itoa(subID),
			frames.HeaderMessageID:    smid,
			frames.HeaderDestination:  destination,
		}, body)

		if r.sendLocked(id, f.String()) {
			n++
		}
	}

	return mid, n, nil
}

// Subscribe binds a connection to a destination under a subscription id. A previous
// subscription id held by the connection for the same destination is replaced, and a
// subscription id previously bound to another destination is moved.
func (r *Registry) Subscribe(id int, destination string, subID int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.connections[id]; !ok {
		return ErrConnectionNotFound
	}

	subs, ok := r.subscriptions[id]
	if !ok {
		subs = map[int]string{}
		r.subscriptions[id] = subs
	}

	if prev, ok := subs[subID]; ok && prev != destination {
		r.unbindLocked(id, subID, prev)
	}

	dest, ok := r.destinations[destination]
	if !ok {
		dest = map[int]int{}
		r.destinations[destination] = dest
	}

	if prev, ok := dest[id]; ok {
		if prev == subID {
			return nil
		}
		delete(subs, prev)
		r.subsQty--
	}

	dest[id] = subID
	subs[subID] = destination
	r.subsQty++

	return nil
}

// Unsubscribe removes a subscription by id, returning the destination it was bound to.
func (r *Registry) Unsubscribe(id int, subID int) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs, ok := r.subscriptions[id]
	if !ok {
		return "", false
	}

	destination, ok := subs[subID]
	if !ok {
		return "", false
	}

	r.unbindLocked(id, subID, destination)
	if len(subs) == 0 {
		delete(r.subscriptions, id)
	}

	return destination, true
}

// unbindLocked removes one binding in both directions. The caller must hold the write lock.
func (r *Registry) unbindLocked(id, subID int, destination string) {
	delete(r.subscriptions[id], subID)
	if dest, ok := r.destinations[destination]; ok {
		delete(dest, id)
		if len(dest) == 0 {
			delete(r.destinations, destination)
		}
	}
	r.subsQty--
}

// Disconnect removes a connection and every subscription it holds.
func (r *Registry) Disconnect(id int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, live := r.connections[id]
	delete(r.connections, id)

	for subID, destination := range r.subscriptions[id] {
		r.unbindLocked(id, subID, destination)
	}
	delete(r.subscriptions, id)

	return live
}

// IsConnected indicates whether a connection is live.
func (r *Registry) IsConnected(id int) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.connections[id]
	return ok
}

// IsSubscribed indicates whether a connection subscribes to a destination.
func (r *Registry) IsSubscribed(id int, destination string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.destinations[destination][id]
	return ok
}

// Subscribers returns a copy of the connection id to subscription id map for a destination.
func (r *Registry) Subscribers(destination string) map[int]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m := make(map[int]int, len(r.destinations[destination]))
	for k, v := range r.destinations[destination] {
		m[k] = v
	}
	return m
}

// Subscriptions returns a copy of the subscription id to destination map for a connection.
func (r *Registry) Subscriptions(id int) map[int]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m := make(map[int]string, len(r.subscriptions[id]))
	for k, v := range r.subscriptions[id] {
		m[k] = v
	}
	return m
}

// Len returns the number of live connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connections)
}

// Destinations returns the number of destinations with at least one subscriber.
func (r *Registry) Destinations() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.destinations)
}

// SubscriptionsLen returns the number of active subscriptions across all connections.
func (r *Registry) SubscriptionsLen() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.subsQty
}
