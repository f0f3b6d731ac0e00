// Package multiplexer correlates inbound responses and SSE events with the
// waiters that registered the outstanding requests they answer.
package multiplexer

import (
	"sync"

	"github.com/austinylin/carapace/internal/protocol"
)

// waiterChanCapacity bounds each waiter's channel so a burst of SSE events
// can buffer without blocking the reader loop that delivers them.
const waiterChanCapacity = 100

// Multiplexer is an id-to-channel table. One entry exists per outstanding
// request; HandleResponse delivers to it by id without removing it,
// since an SSE stream produces many messages under the same id.
type Multiplexer struct {
	mu      sync.Mutex
	waiters map[string]chan protocol.Message
}

// New returns an empty multiplexer.
func New() *Multiplexer {
	return &Multiplexer{waiters: make(map[string]chan protocol.Message)}
}

// RegisterWaiter creates a buffered channel for id and stores it. The
// caller owns the returned receive-only channel; it closes when
// RemoveWaiter, CleanupOnDisconnect, or Clear runs.
func (m *Multiplexer) RegisterWaiter(id string) <-chan protocol.Message {
	ch := make(chan protocol.Message, waiterChanCapacity)
	m.mu.Lock()
	m.waiters[id] = ch
	m.mu.Unlock()
	return ch
}

// HandleResponse routes msg to the waiter registered under its id, if any.
// A message with no registered waiter is dropped silently — it is an
// orphan, per spec. The entry is never removed here; callers that know a
// response is terminal call RemoveWaiter explicitly.
//
// The send happens with mu held, so it is serialized against RemoveWaiter
// and CleanupOnDisconnect closing the same channel: a lookup that finds
// the waiter still present is guaranteed a live channel for the whole
// send. The send never blocks: the channel is sized for SSE bursts, and a
// message that arrives while a receiver's buffer is full is dropped.
func (m *Multiplexer) HandleResponse(msg protocol.Message) {
	id, ok := msg.ID()
	if !ok {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.waiters[id]
	if !ok {
		return
	}
	select {
	case ch <- msg:
	default:
	}
}

// RemoveWaiter drops the sender registered under id. The receiver observes
// channel closure on its next receive once the buffer drains.
func (m *Multiplexer) RemoveWaiter(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.waiters[id]
	if !ok {
		return
	}
	delete(m.waiters, id)
	close(ch)
}

// CleanupOnDisconnect drops every registered waiter. Receivers observe
// closure; this is invoked by the reader loop once a connection is found
// unhealthy.
func (m *Multiplexer) CleanupOnDisconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, ch := range m.waiters {
		delete(m.waiters, id)
		close(ch)
	}
}

// Clear is an alias for CleanupOnDisconnect used at shutdown.
func (m *Multiplexer) Clear() {
	m.CleanupOnDisconnect()
}

// Len reports the number of currently registered waiters, exposed as a
// Prometheus gauge by the agent process.
func (m *Multiplexer) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.waiters)
}
