package server

import (
	"sync"

	"github.com/austinylin/carapace/internal/protocol"
)

// sseQueue is an unbounded FIFO of messages shared by every dispatch task
// on one connection and drained by that connection's single writer task.
// A plain buffered channel would impose an artificial cap on how many
// concurrent SSE streams (or a single fast one) can be in flight before a
// dispatcher blocks; this queue never applies backpressure to a dispatch
// task, matching the "unbounded SSE-event channel" in the server listener
// contract.
type sseQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []protocol.Message
	closed bool
}

func newSSEQueue() *sseQueue {
	q := &sseQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// push enqueues msg. It is a no-op after close.
func (q *sseQueue) push(msg protocol.Message) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.items = append(q.items, msg)
	q.cond.Signal()
}

// pop blocks until an item is available or the queue is closed and
// drained, in which case ok is false.
func (q *sseQueue) pop() (msg protocol.Message, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return nil, false
	}
	msg, q.items = q.items[0], q.items[1:]
	return msg, true
}

// close marks the queue closed and wakes any blocked pop.
func (q *sseQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}
