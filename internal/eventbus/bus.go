package eventbus

import (
	"log/slog"
	"sync"
	"time"
)

// audioLevelThrottle is the minimum spacing between consecutive emitted
// voice:audio-level events. Events arriving sooner are dropped without
// queueing — a deliberate drop-if-too-recent policy with no catch-up, since
// a backlog of stale levels is worse than a gap.
const audioLevelThrottle = 50 * time.Millisecond

// subscriberBuffer bounds how many pending events a single subscriber may
// queue before new events are dropped for it specifically. A slow
// subscriber never blocks Emit and never blocks other subscribers.
const subscriberBuffer = 256

// Bus is the central fan-out point for [Event] values. Emit is
// non-blocking: subscribers that cannot keep up lose events rather than
// stall the emitter. Per-event-type order is preserved for any single
// subscriber; order across different event types is undefined.
//
// Bus is constructed once at the composition root and shared by
// reference; it holds no ambient global state.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[int]chan Event
	nextID      int

	lastAudioLevel time.Time
}

// New creates an empty Bus ready to accept subscribers and emissions.
func New() *Bus {
	return &Bus{subscribers: make(map[int]chan Event)}
}

// Subscribe registers a new listener and returns a channel of events plus
// an unsubscribe function. The returned channel is closed by Unsubscribe;
// callers must keep draining it until then to avoid leaking the internal
// buffer (though Emit will simply drop events once it fills).
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	ch := make(chan Event, subscriberBuffer)
	b.subscribers[id] = ch
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		if existing, ok := b.subscribers[id]; ok {
			delete(b.subscribers, id)
			close(existing)
		}
		b.mu.Unlock()
	}
	return ch, unsubscribe
}

// Emit delivers ev to every current subscriber without blocking. A
// voice:audio-level event arriving less than [audioLevelThrottle] after
// the previous one is dropped at the bridge before reaching any
// subscriber — all other event types pass through unfiltered.
func (b *Bus) Emit(ev Event) {
	if lvl, ok := ev.(VoiceAudioLevel); ok {
		if !b.allowAudioLevel(lvl.At) {
			return
		}
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- ev:
		default:
			slog.Debug("eventbus: dropping event for slow subscriber", "event", ev.Name())
		}
	}
}

// allowAudioLevel applies the monotonic-clock drop-if-too-recent rule:
// if at is within audioLevelThrottle of the last accepted sample, the
// sample is rejected outright rather than queued for later delivery.
func (b *Bus) allowAudioLevel(at time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.lastAudioLevel.IsZero() && at.Sub(b.lastAudioLevel) < audioLevelThrottle {
		return false
	}
	b.lastAudioLevel = at
	return true
}
