package events

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestPublishReachesAllSubscribers(t *testing.T) {
	bus := NewBus(zerolog.Nop())
	defer bus.Close()

	a := bus.Subscribe()
	b := bus.Subscribe()

	bus.Publish(BreakEvenMoved{PositionID: "p1", Symbol: "MES", NewStop: 5000.25})

	for _, ch := range []<-chan Envelope{a, b} {
		select {
		case env := <-ch:
			ev, ok := env.Event.(BreakEvenMoved)
			if !ok {
				t.Fatalf("event type = %T", env.Event)
			}
			if ev.NewStop != 5000.25 {
				t.Errorf("NewStop = %v", ev.NewStop)
			}
			if env.Time.IsZero() {
				t.Error("envelope time not stamped")
			}
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	bus := NewBus(zerolog.Nop())
	defer bus.Close()

	ch := bus.Subscribe()
	// overfill: one past the buffer must be dropped, not deadlock
	for i := 0; i < cap(ch)+10; i++ {
		bus.Publish(TradingResumed{})
	}

	received := 0
	for {
		select {
		case <-ch:
			received++
		default:
			if received != cap(ch) {
				t.Errorf("received = %d, want %d buffered", received, cap(ch))
			}
			return
		}
	}
}

func TestCloseEndsSubscription(t *testing.T) {
	bus := NewBus(zerolog.Nop())
	ch := bus.Subscribe()
	bus.Close()

	if _, open := <-ch; open {
		t.Error("channel still open after Close")
	}

	// publish and subscribe after close must not panic
	bus.Publish(TradingResumed{})
	dead := bus.Subscribe()
	if _, open := <-dead; open {
		t.Error("post-close subscription returned an open channel")
	}
}
