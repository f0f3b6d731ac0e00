package server

import (
	"testing"
	"time"

	"github.com/austinylin/carapace/internal/protocol"
)

func TestSSEQueue_PushPopFIFO(t *testing.T) {
	t.Parallel()

	q := newSSEQueue()
	q.push(protocol.SseEvent{Data: "one"})
	q.push(protocol.SseEvent{Data: "two"})

	first, ok := q.pop()
	if !ok || first.(protocol.SseEvent).Data != "one" {
		t.Fatalf("first pop = %#v, ok=%v, want Data=one", first, ok)
	}
	second, ok := q.pop()
	if !ok || second.(protocol.SseEvent).Data != "two" {
		t.Fatalf("second pop = %#v, ok=%v, want Data=two", second, ok)
	}
}

func TestSSEQueue_PopBlocksUntilPush(t *testing.T) {
	t.Parallel()

	q := newSSEQueue()
	done := make(chan protocol.Message, 1)
	go func() {
		msg, ok := q.pop()
		if ok {
			done <- msg
		}
	}()

	select {
	case <-done:
		t.Fatal("pop should block with no item queued")
	case <-time.After(50 * time.Millisecond):
	}

	q.push(protocol.SseEvent{Data: "late"})

	select {
	case msg := <-done:
		if msg.(protocol.SseEvent).Data != "late" {
			t.Errorf("got %#v, want Data=late", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for pop to unblock")
	}
}

func TestSSEQueue_CloseUnblocksPop(t *testing.T) {
	t.Parallel()

	q := newSSEQueue()
	done := make(chan bool, 1)
	go func() {
		_, ok := q.pop()
		done <- ok
	}()

	q.close()

	select {
	case ok := <-done:
		if ok {
			t.Error("pop on a closed, empty queue should report ok=false")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for close to unblock pop")
	}
}

func TestSSEQueue_PushAfterCloseIsNoop(t *testing.T) {
	t.Parallel()

	q := newSSEQueue()
	q.close()
	q.push(protocol.SseEvent{Data: "dropped"})

	_, ok := q.pop()
	if ok {
		t.Error("push after close should not be observable")
	}
}

func TestSSEQueue_DrainsRemainingItemsBeforeReportingClosed(t *testing.T) {
	t.Parallel()

	q := newSSEQueue()
	q.push(protocol.SseEvent{Data: "buffered"})
	q.close()

	msg, ok := q.pop()
	if !ok || msg.(protocol.SseEvent).Data != "buffered" {
		t.Fatalf("expected to drain the buffered item first, got %#v ok=%v", msg, ok)
	}
	_, ok = q.pop()
	if ok {
		t.Error("expected the queue to report closed once drained")
	}
}
