package bus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(10, "conn.")
	defer unsub()

	b.Publish(Event{Kind: KindConnConnected, Payload: "test"})

	select {
	case evt := <-ch:
		if evt.Kind != KindConnConnected {
			t.Errorf("got kind %q, want %q", evt.Kind, KindConnConnected)
		}
		if evt.Timestamp.IsZero() {
			t.Error("timestamp not stamped on publish")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestNamespaceFiltering(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(10, "message.")
	defer unsub()

	b.Publish(Event{Kind: KindConnConnected})
	b.Publish(Event{Kind: KindMessageAppended})

	select {
	case evt := <-ch:
		if evt.Kind != KindMessageAppended {
			t.Errorf("got kind %q, want %q", evt.Kind, KindMessageAppended)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	// Ensure the connection event was not delivered.
	select {
	case evt := <-ch:
		t.Errorf("unexpected event: %v", evt)
	case <-time.After(50 * time.Millisecond):
		// Expected: no more events.
	}
}

func TestMultiplePrefixes(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(10, "conn.", "unread.")
	defer unsub()

	b.Publish(Event{Kind: KindUnreadChanged})
	b.Publish(Event{Kind: KindConnDisconnected})

	for _, want := range []string{KindUnreadChanged, KindConnDisconnected} {
		select {
		case evt := <-ch:
			if evt.Kind != want {
				t.Errorf("got kind %q, want %q", evt.Kind, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for %q", want)
		}
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(10, "conn.")
	unsub()

	b.Publish(Event{Kind: KindConnConnected})

	select {
	case evt := <-ch:
		t.Errorf("received event after unsubscribe: %v", evt)
	case <-time.After(50 * time.Millisecond):
		// Expected.
	}
}

func TestDropOnFullBuffer(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1, "store.")
	defer unsub()

	// Fill buffer.
	b.Publish(Event{Kind: KindStoreUpdated, Payload: 1})
	// This should be dropped (non-blocking).
	b.Publish(Event{Kind: KindStoreUpdated, Payload: 2})

	evt := <-ch
	if evt.Payload != 1 {
		t.Errorf("got payload %v, want 1", evt.Payload)
	}
}

func TestClose(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(10, "conn.")
	defer unsub()

	b.Close()
	b.Publish(Event{Kind: KindConnConnected})

	select {
	case evt := <-ch:
		t.Errorf("received event after close: %v", evt)
	case <-time.After(50 * time.Millisecond):
		// Expected.
	}
}
