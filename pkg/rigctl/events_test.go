package rigctl

import (
	"strconv"
	"sync"
	"testing"
	"time"
)

func TestBusSubscribeFiltersByKind(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	got := make(chan Event, 8)
	bus.Subscribe(EventError, func(ev Event) {
		got <- ev
	})

	bus.Publish(Event{Kind: EventConnection, Message: "connected"})
	bus.Publish(Event{Kind: EventError, Message: "boom"})
	bus.Publish(Event{Kind: EventRadio, Message: "tuned"})

	select {
	case ev := <-got:
		if ev.Kind != EventError || ev.Message != "boom" {
			t.Errorf("Expected the error event, got %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("Subscriber never received the error event")
	}

	select {
	case ev := <-got:
		t.Errorf("Subscriber received a filtered-out event: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBusSubscribeAll(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	var mu sync.Mutex
	var kinds []EventKind
	done := make(chan struct{})
	bus.SubscribeAll(func(ev Event) {
		mu.Lock()
		kinds = append(kinds, ev.Kind)
		if len(kinds) == 3 {
			close(done)
		}
		mu.Unlock()
	})

	bus.Publish(Event{Kind: EventConnection})
	bus.Publish(Event{Kind: EventDaemonOutput})
	bus.Publish(Event{Kind: EventRadio})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("SubscribeAll did not receive every event")
	}

	mu.Lock()
	defer mu.Unlock()
	want := []EventKind{EventConnection, EventDaemonOutput, EventRadio}
	for i, k := range want {
		if kinds[i] != k {
			t.Errorf("Event %d kind = %v, want %v", i, kinds[i], k)
		}
	}
}

func TestBusDeliveryOrder(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	const n = 50
	var mu sync.Mutex
	var got []string
	done := make(chan struct{})
	bus.Subscribe(EventRadio, func(ev Event) {
		mu.Lock()
		got = append(got, ev.Message)
		if len(got) == n {
			close(done)
		}
		mu.Unlock()
	})

	for i := 0; i < n; i++ {
		bus.Publish(Event{Kind: EventRadio, Message: strconv.Itoa(i)})
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Not all events delivered")
	}

	mu.Lock()
	defer mu.Unlock()
	for i := 0; i < n; i++ {
		if got[i] != strconv.Itoa(i) {
			t.Fatalf("Delivery out of order at %d: got %s", i, got[i])
		}
	}
}

func TestBusUnsubscribe(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	got := make(chan Event, 8)
	sub := bus.Subscribe(EventError, func(ev Event) {
		got <- ev
	})

	bus.Unsubscribe(sub)
	bus.Unsubscribe(sub) // safe to repeat

	bus.Publish(Event{Kind: EventError, Message: "after unsubscribe"})

	select {
	case ev := <-got:
		t.Errorf("Unsubscribed handler received %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBusPublishNeverBlocks(t *testing.T) {
	bus := NewBus()

	release := make(chan struct{})
	bus.SubscribeAll(func(Event) {
		<-release
	})

	// Flood well past the queue size while the consumer is stuck. The
	// publisher must shed, not stall.
	start := time.Now()
	for i := 0; i < subscriptionQueueSize*4; i++ {
		bus.Publish(Event{Kind: EventError})
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("Publish blocked on a slow subscriber for %v", elapsed)
	}

	close(release)
	bus.Close()
}

func TestBusClose(t *testing.T) {
	bus := NewBus()

	got := make(chan Event, 8)
	bus.Subscribe(EventError, func(ev Event) {
		got <- ev
	})

	bus.Close()
	bus.Close() // idempotent

	bus.Publish(Event{Kind: EventError, Message: "after close"})
	select {
	case ev := <-got:
		t.Errorf("Event delivered after Close: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}

	// Subscribing after Close is a no-op rather than a panic.
	sub := bus.Subscribe(EventError, func(Event) {})
	bus.Unsubscribe(sub)
}

func TestBusStampsEventTime(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	got := make(chan Event, 1)
	bus.Subscribe(EventRadio, func(ev Event) {
		got <- ev
	})

	before := time.Now()
	bus.Publish(Event{Kind: EventRadio})

	select {
	case ev := <-got:
		if ev.Time.Before(before) || ev.Time.After(time.Now()) {
			t.Errorf("Event time %v outside publish window", ev.Time)
		}
	case <-time.After(time.Second):
		t.Fatal("Event never delivered")
	}
}
