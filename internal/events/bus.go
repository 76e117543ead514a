package events

import (
	"context"
	"sync/atomic"

	"github.com/benbjohnson/clock"
)

// Bus is an in-process pub-sub listener backed by a buffered channel.
// Publishing never blocks the store: when the buffer is full the event is
// dropped and counted.
type Bus struct {
	ch      chan Event
	clock   clock.Clock
	dropped atomic.Int64
}

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithClock sets the clock used to stamp login and logout events.
func WithClock(c clock.Clock) BusOption {
	return func(b *Bus) { b.clock = c }
}

// NewBus creates a bus with the given buffer size.
func NewBus(buffer int, opts ...BusOption) *Bus {
	b := &Bus{ch: make(chan Event, buffer), clock: clock.New()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish attempts to enqueue the event without blocking.
// Returns true if published, false if the buffer is full.
func (b *Bus) Publish(e Event) bool {
	select {
	case b.ch <- e:
		return true
	default:
		b.dropped.Add(1)
		return false
	}
}

// Subscribe returns the receive side of the bus.
func (b *Bus) Subscribe() <-chan Event {
	return b.ch
}

// Dropped reports how many events were lost to a full buffer.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}

func (b *Bus) OnUpdate(_ context.Context, e Event) { b.Publish(e) }

func (b *Bus) OnDelete(_ context.Context, e Event) { b.Publish(e) }

func (b *Bus) OnLogin(_ context.Context, userID, sessionID string) {
	b.Publish(Event{Topic: TopicLogin, Kind: KindLogin, UserID: userID, SessionID: sessionID, At: b.clock.Now().UTC()})
}

func (b *Bus) OnLogout(_ context.Context, userID, sessionID string) {
	b.Publish(Event{Topic: TopicLogout, Kind: KindLogout, UserID: userID, SessionID: sessionID, At: b.clock.Now().UTC()})
}
