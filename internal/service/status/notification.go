// Package status holds the transient progress and notification state that
// front-ends poll or subscribe to while chats are being processed.
package status

import (
	"sync"
	"time"
)

// DefaultTTL is how long a notification stays visible when no TTL is given.
const DefaultTTL = 5000 * time.Millisecond

// State enumerates the notification states.
type State string

const (
	StateIdle    State = "idle"
	StateError   State = "error-active"
	StateSuccess State = "success-active"
)

// Snapshot is a point-in-time copy of the notifier.
type Snapshot struct {
	State      State  `json:"state"`
	Error      string `json:"error,omitempty"`
	Success    string `json:"success,omitempty"`
	Generation uint64 `json:"generation"`
}

// Notifier holds at most one active error or success message. Every new
// message bumps a generation counter and cancels the pending expiry timer,
// so an older timer can never clear a newer message.
type Notifier struct {
	mu         sync.Mutex
	defaultTTL time.Duration
	state      State
	message    string
	generation uint64
	timer      *time.Timer

	subs    map[int]chan Snapshot
	nextSub int
}

// NewNotifier returns an idle notifier. A non-positive defaultTTL falls back
// to DefaultTTL.
func NewNotifier(defaultTTL time.Duration) *Notifier {
	if defaultTTL <= 0 {
		defaultTTL = DefaultTTL
	}
	return &Notifier{
		defaultTTL: defaultTTL,
		state:      StateIdle,
		subs:       make(map[int]chan Snapshot),
	}
}

// SetError shows msg as an error for ttl, replacing any success message.
// A non-positive ttl uses the default.
func (n *Notifier) SetError(msg string, ttl time.Duration) {
	n.set(StateError, msg, ttl)
}

// SetSuccess shows msg as a success for ttl, replacing any error message.
// A non-positive ttl uses the default.
func (n *Notifier) SetSuccess(msg string, ttl time.Duration) {
	n.set(StateSuccess, msg, ttl)
}

// Clear returns the notifier to idle immediately.
func (n *Notifier) Clear() {
	n.mu.Lock()
	n.generation++
	n.stopTimerLocked()
	n.state = StateIdle
	n.message = ""
	n.publishLocked()
	n.mu.Unlock()
}

// Snapshot returns the current state.
func (n *Notifier) Snapshot() Snapshot {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.snapshotLocked()
}

// Subscribe registers for state changes. The channel holds only the latest
// snapshot; slow readers skip intermediate states. Call cancel to
// unsubscribe and close the channel.
func (n *Notifier) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)

	n.mu.Lock()
	id := n.nextSub
	n.nextSub++
	n.subs[id] = ch
	n.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			n.mu.Lock()
			delete(n.subs, id)
			n.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Stop cancels the pending expiry timer without changing state.
func (n *Notifier) Stop() {
	n.mu.Lock()
	n.stopTimerLocked()
	n.mu.Unlock()
}

func (n *Notifier) set(state State, msg string, ttl time.Duration) {
	if ttl <= 0 {
		ttl = n.defaultTTL
	}

	n.mu.Lock()
	n.generation++
	gen := n.generation
	n.stopTimerLocked()
	n.state = state
	n.message = msg
	n.timer = time.AfterFunc(ttl, func() { n.expire(gen) })
	n.publishLocked()
	n.mu.Unlock()
}

func (n *Notifier) expire(gen uint64) {
	n.mu.Lock()
	if n.generation != gen {
		n.mu.Unlock()
		return
	}
	n.state = StateIdle
	n.message = ""
	n.timer = nil
	n.publishLocked()
	n.mu.Unlock()
}

func (n *Notifier) stopTimerLocked() {
	if n.timer != nil {
		n.timer.Stop()
		n.timer = nil
	}
}

func (n *Notifier) snapshotLocked() Snapshot {
	snap := Snapshot{State: n.state, Generation: n.generation}
	switch n.state {
	case StateError:
		snap.Error = n.message
	case StateSuccess:
		snap.Success = n.message
	}
	return snap
}

// publishLocked fans the current state out to subscribers. Sends never
// block, so holding the lock keeps deliveries in generation order.
func (n *Notifier) publishLocked() {
	snap := n.snapshotLocked()
	for _, ch := range n.subs {
		select {
		case ch <- snap:
			continue
		default:
		}
		// Drop the stale snapshot and deliver the newest one.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}
