// ABOUTME: Tests for the message-insertion change feed
// ABOUTME: Covers delivery order, overflow dropping, and close semantics

package store

import (
	"fmt"
	"testing"
	"time"
)

func TestFeed_DeliversInOrder(t *testing.T) {
	feed := newFeed(nil)
	defer feed.close()

	for i := range 5 {
		feed.publish(&Message{ID: fmt.Sprintf("msg-%d", i)})
	}

	for i := range 5 {
		select {
		case msg := <-feed.Events():
			want := fmt.Sprintf("msg-%d", i)
			if msg.ID != want {
				t.Errorf("position %d: got %q, want %q", i, msg.ID, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for message %d", i)
		}
	}
}

func TestFeed_DropsWhenFull(t *testing.T) {
	feed := newFeed(nil)
	defer feed.close()

	// Overflow the buffer with nobody draining; publish must not block.
	for i := range feedBufferSize + 10 {
		feed.publish(&Message{ID: fmt.Sprintf("msg-%d", i)})
	}

	// Everything that fit is still there, in order.
	received := 0
	for {
		select {
		case <-feed.Events():
			received++
		case <-time.After(100 * time.Millisecond):
			if received != feedBufferSize {
				t.Errorf("expected %d buffered messages, got %d", feedBufferSize, received)
			}
			return
		}
	}
}

func TestFeed_CloseEndsStream(t *testing.T) {
	feed := newFeed(nil)

	feed.publish(&Message{ID: "msg-1"})
	feed.close()

	// Buffered message still drains, then the channel reports closed.
	select {
	case msg, ok := <-feed.Events():
		if !ok {
			t.Fatal("channel closed before draining buffered message")
		}
		if msg.ID != "msg-1" {
			t.Errorf("got %q, want %q", msg.ID, "msg-1")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out draining buffered message")
	}

	select {
	case _, ok := <-feed.Events():
		if ok {
			t.Error("expected channel to be closed")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for channel close")
	}
}

func TestFeed_PublishAfterCloseIsNoop(t *testing.T) {
	feed := newFeed(nil)
	feed.close()

	// Must not panic on a closed feed.
	feed.publish(&Message{ID: "msg-late"})

	// Close is idempotent.
	feed.close()
}
