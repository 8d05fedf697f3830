package events

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const subscriberBuffer = 64

// Envelope is what subscribers receive: the event plus its delivery
// timestamp.
type Envelope struct {
	Time  time.Time `json:"time"`
	Event Event     `json:"event"`
}

// Bus fans typed events out to subscribers. Publish never blocks; a
// subscriber that falls behind drops events rather than stalling the
// trading path.
type Bus struct {
	mu     sync.RWMutex
	subs   []chan Envelope
	closed bool
	logger zerolog.Logger
}

func NewBus(logger zerolog.Logger) *Bus {
	return &Bus{
		logger: logger.With().Str("component", "EventBus").Logger(),
	}
}

// Subscribe returns a channel of all future events. The channel is
// closed by Close.
func (b *Bus) Subscribe() <-chan Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Envelope, subscriberBuffer)
	if b.closed {
		close(ch)
		return ch
	}
	b.subs = append(b.subs, ch)
	return ch
}

// Publish delivers ev to every subscriber.
func (b *Bus) Publish(ev Event) {
	env := Envelope{Time: time.Now().UTC(), Event: ev}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	for _, ch := range b.subs {
		select {
		case ch <- env:
		default:
			b.logger.Warn().
				Type("event", ev).
				Msg("Subscriber buffer full, event dropped")
		}
	}
}

// Close closes all subscriber channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, ch := range b.subs {
		close(ch)
	}
	b.subs = nil
}
