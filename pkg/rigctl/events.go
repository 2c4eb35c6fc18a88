package rigctl

import (
	"sync"
	"time"

	"github.com/rigranger/rigrangerd/pkg/logging"
)

// EventKind classifies events published by the manager.
type EventKind int

const (
	// EventConnection carries a ConnectionStatus payload on every state
	// machine transition.
	EventConnection EventKind = iota
	// EventDaemonOutput carries one line of rigctld stdout/stderr.
	EventDaemonOutput
	// EventError carries protocol-level anomalies, e.g. a response that
	// matched no pending request.
	EventError
	// EventRadio carries the new value after a successful set operation.
	EventRadio
)

// String returns the event kind name.
func (k EventKind) String() string {
	switch k {
	case EventConnection:
		return "connection"
	case EventDaemonOutput:
		return "daemon_output"
	case EventError:
		return "error"
	case EventRadio:
		return "radio"
	default:
		return "unknown"
	}
}

// Event is published once and fanned out to all matching subscriptions.
type Event struct {
	Kind    EventKind
	Time    time.Time
	Message string

	// Connection payload
	State  State
	Reason string

	// Radio payload
	Op        Op
	Frequency int64
	Mode      string
	Passband  int
	PTT       bool
	Level     string
	Value     float64
}

// Handler receives events for one subscription. Handlers run on the
// subscription's dispatch goroutine, never on the listener loop.
type Handler func(Event)

// Subscription is the handle returned by Subscribe and accepted by
// Unsubscribe.
type Subscription struct {
	kind    EventKind
	all     bool
	handler Handler
	queue   chan Event
	done    chan struct{}
}

const subscriptionQueueSize = 64

// Bus is an in-process publish/subscribe hub. Publish never blocks the
// caller: each subscription drains its own buffered queue on a dedicated
// goroutine, and a full queue drops the oldest pending event instead of
// stalling the publisher.
type Bus struct {
	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	closed bool
	wg     sync.WaitGroup
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{
		subs: make(map[*Subscription]struct{}),
	}
}

// Subscribe registers a handler for one event kind.
func (b *Bus) Subscribe(kind EventKind, handler Handler) *Subscription {
	return b.subscribe(kind, false, handler)
}

// SubscribeAll registers a handler for every event kind.
func (b *Bus) SubscribeAll(handler Handler) *Subscription {
	return b.subscribe(0, true, handler)
}

func (b *Bus) subscribe(kind EventKind, all bool, handler Handler) *Subscription {
	sub := &Subscription{
		kind:    kind,
		all:     all,
		handler: handler,
		queue:   make(chan Event, subscriptionQueueSize),
		done:    make(chan struct{}),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(sub.done)
		return sub
	}
	b.subs[sub] = struct{}{}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for {
			select {
			case ev := <-sub.queue:
				sub.handler(ev)
			case <-sub.done:
				// Drain what was queued before removal.
				for {
					select {
					case ev := <-sub.queue:
						sub.handler(ev)
					default:
						return
					}
				}
			}
		}
	}()

	return sub
}

// Unsubscribe removes a subscription. Safe to call more than once.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}

	b.mu.Lock()
	_, ok := b.subs[sub]
	if ok {
		delete(b.subs, sub)
	}
	b.mu.Unlock()

	if ok {
		close(sub.done)
	}
}

// Publish fans the event out to matching subscriptions. Delivery is ordered
// per publishing goroutine and at-least-once for live subscriptions.
func (b *Bus) Publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	for sub := range b.subs {
		if !sub.all && sub.kind != ev.Kind {
			continue
		}
		select {
		case sub.queue <- ev:
		default:
			// Slow consumer: shed the oldest queued event so the
			// publisher (the listener loop) keeps moving.
			select {
			case <-sub.queue:
			default:
			}
			select {
			case sub.queue <- ev:
			default:
				logging.Warnf("events", "dropping %s event for slow subscriber", ev.Kind)
			}
		}
	}
}

// Close stops all dispatch goroutines after draining queued events.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := make([]*Subscription, 0, len(b.subs))
	for sub := range b.subs {
		subs = append(subs, sub)
	}
	b.subs = make(map[*Subscription]struct{})
	b.mu.Unlock()

	for _, sub := range subs {
		close(sub.done)
	}
	b.wg.Wait()
}
