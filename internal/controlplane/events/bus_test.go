package events

import (
	"testing"
	"time"
)

func TestBusPublishSubscribe(t *testing.T) {
	bus := NewBus(8)
	ch := bus.Subscribe("sub-1")
	defer bus.Unsubscribe("sub-1")

	ev := Event{
		ID:       "ev-1",
		Occurred: time.Now().UTC(),
		Event:    "windlass.flow-run.Running",
		Resource: Resource{ResourceIDLabel: "windlass.flow-run.r1"},
	}
	bus.Publish(ev)

	select {
	case got := <-ch:
		if got.ID != "ev-1" {
			t.Fatalf("expected ev-1, got %s", got.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestBusDropsForSlowSubscriber(t *testing.T) {
	bus := NewBus(1)
	bus.Subscribe("slow")
	defer bus.Unsubscribe("slow")

	ev := Event{ID: "ev-1", Event: "x", Resource: Resource{ResourceIDLabel: "r"}}
	bus.Publish(ev)
	// Buffer is full now; this must not block.
	done := make(chan struct{})
	go func() {
		bus.Publish(ev)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}
}

func TestBusUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus(4)
	ch := bus.Subscribe("sub")
	bus.Unsubscribe("sub")

	if _, ok := <-ch; ok {
		t.Fatal("expected closed channel after Unsubscribe")
	}
	if bus.SubscriberCount() != 0 {
		t.Fatalf("expected 0 subscribers, got %d", bus.SubscriberCount())
	}
}
