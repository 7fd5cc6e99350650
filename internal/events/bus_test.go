package events

import (
	"context"
	"testing"
	"time"
)

func TestBusDeliversInSubscriptionOrder(t *testing.T) {
	bus := NewBus()

	var order []int
	bus.Subscribe(func(Event) { order = append(order, 1) })
	bus.Subscribe(func(Event) { order = append(order, 2) })
	bus.Subscribe(func(Event) { order = append(order, 3) })

	bus.Publish(Event{EventType: EventLogout})

	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("delivery order = %v, want [1 2 3]", order)
	}
}

func TestBusCancelIsIdempotent(t *testing.T) {
	bus := NewBus()

	var calls int
	sub := bus.Subscribe(func(Event) { calls++ })

	bus.Publish(Event{EventType: EventLogout})
	sub.Cancel()
	sub.Cancel()
	bus.Publish(Event{EventType: EventLogout})

	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestBusCloseDropsSubscribers(t *testing.T) {
	bus := NewBus()

	var calls int
	bus.Subscribe(func(Event) { calls++ })
	bus.Close()

	bus.Publish(Event{EventType: EventLogout})
	if calls != 0 {
		t.Fatalf("calls after close = %d, want 0", calls)
	}

	// Subscriptions after close are inert handles.
	sub := bus.Subscribe(func(Event) { calls++ })
	bus.Publish(Event{EventType: EventLogout})
	sub.Cancel()
	if calls != 0 {
		t.Fatalf("calls via post-close subscription = %d, want 0", calls)
	}
}

func TestDispatcherDeliversToSink(t *testing.T) {
	sink := NewChannelSink(4)
	d := NewDispatcher(Config{Enabled: true, BufferSize: 4, DropIfFull: true}, sink)

	event := Event{
		Timestamp: time.Now(),
		EventType: EventLogout,
		Reason:    ReasonExplicit,
	}
	d.Emit(nil, event)
	d.Close()

	select {
	case got := <-sink.Events():
		if got.EventType != EventLogout || got.Reason != ReasonExplicit {
			t.Fatalf("event = %+v, want explicit logout", got)
		}
	default:
		t.Fatal("event not delivered before Close returned")
	}
}

func TestDispatcherDisabledIsNil(t *testing.T) {
	d := NewDispatcher(Config{Enabled: false}, nil)
	if d != nil {
		t.Fatal("disabled dispatcher should be nil")
	}
	// Nil receivers are safe no-ops.
	d.Emit(nil, Event{EventType: EventLogout})
	d.Close()
	if d.Dropped() != 0 {
		t.Fatal("nil dispatcher reported drops")
	}
}

// gatedSink blocks every delivery until released, forcing backpressure.
type gatedSink struct {
	release chan struct{}
}

func (s *gatedSink) Emit(_ context.Context, _ Event) {
	<-s.release
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	sink := &gatedSink{release: make(chan struct{})}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1, DropIfFull: true}, sink)

	// One event can be stuck in the sink and one in the buffer; the rest
	// must be dropped rather than block the caller.
	for i := 0; i < 10; i++ {
		d.Emit(nil, Event{EventType: EventLogout})
	}
	if d.Dropped() == 0 {
		t.Fatal("expected drops under backpressure")
	}

	close(sink.release)
	d.Close()
}
