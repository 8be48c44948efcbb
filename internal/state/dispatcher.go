// Package state holds the live door state mirror and fans out change
// notifications to subscribers.
package state

import (
	"log"
	"sync"
)

// Change is one published state transition.
type Change struct {
	DoorID int
	State  DoorState
}

// subscriber is one registered listener with a buffered delivery
// channel, scoped to one door or to all of them.
type subscriber struct {
	id     int
	doorID int
	ch     chan Change
}

// Dispatcher fans state changes out to subscribers. Delivery is
// best-effort: a subscriber whose buffer is full misses the change and
// is expected to re-read current state. There is no replay; a new
// subscriber only sees changes published after it subscribed.
type Dispatcher struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]*subscriber
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{subs: make(map[int]*subscriber)}
}

// Subscribe registers a listener for one door's changes (doorID 0
// subscribes to every door) and returns its channel plus a cancel
// function. Cancel is idempotent and closes the channel.
func (d *Dispatcher) Subscribe(doorID, buffer int) (<-chan Change, func()) {
	if buffer <= 0 {
		buffer = 16
	}

	d.mu.Lock()
	id := d.nextID
	d.nextID++
	sub := &subscriber{id: id, doorID: doorID, ch: make(chan Change, buffer)}
	d.subs[id] = sub
	d.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			// The write lock excludes in-flight Publish sends, so the
			// close cannot race a send.
			d.mu.Lock()
			delete(d.subs, id)
			close(sub.ch)
			d.mu.Unlock()
		})
	}
	return sub.ch, cancel
}

// Publish delivers a change to every subscriber of the changed door
// without blocking.
func (d *Dispatcher) Publish(change Change) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, sub := range d.subs {
		if sub.doorID != 0 && sub.doorID != change.DoorID {
			continue
		}
		select {
		case sub.ch <- change:
		default:
			log.Printf("[state] subscriber %d buffer full, dropping change for door %d", sub.id, change.DoorID)
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (d *Dispatcher) SubscriberCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subs)
}
