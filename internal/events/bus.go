package events

import (
	"sync"
	"time"
)

// Kind names a process-wide advisory condition.
type Kind string

const (
	// KindRateLimited is published when any request hits the backend's
	// rate limit. Coalesced so a burst of concurrent 429s yields one
	// notice.
	KindRateLimited Kind = "rate_limited"
	// KindAuthExpired is published when the session can no longer be
	// refreshed and the user must log in again.
	KindAuthExpired Kind = "auth_expired"
)

// Event is one advisory notice.
type Event struct {
	Kind       Kind          `json:"kind"`
	Message    string        `json:"message"`
	Time       time.Time     `json:"time"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
}

// Bus is a process-wide advisory channel. Publishers never block:
// a subscriber that falls behind loses events rather than stalling
// the request path. Events of the same kind arriving within the
// coalescing window collapse into the first one.
type Bus struct {
	mu       sync.Mutex
	subs     map[int]chan Event
	nextSub  int
	lastSeen map[Kind]time.Time
	window   time.Duration

	// ring buffer of recent events, oldest overwritten first
	recent []Event
	pos    int
	count  int

	now func() time.Time
}

// DefaultCoalesceWindow suppresses repeat advisories of the same kind
// for this long after one is published.
const DefaultCoalesceWindow = 5 * time.Second

const recentSize = 64

// NewBus creates a bus with the given coalescing window.
// window <= 0 uses DefaultCoalesceWindow.
func NewBus(window time.Duration) *Bus {
	if window <= 0 {
		window = DefaultCoalesceWindow
	}
	return &Bus{
		subs:     make(map[int]chan Event),
		lastSeen: make(map[Kind]time.Time),
		window:   window,
		recent:   make([]Event, recentSize),
		now:      time.Now,
	}
}

// Publish delivers e to all subscribers unless an event of the same
// kind was published within the coalescing window. Returns whether the
// event was delivered.
func (b *Bus) Publish(e Event) bool {
	b.mu.Lock()
	now := b.now()
	if last, ok := b.lastSeen[e.Kind]; ok && now.Sub(last) < b.window {
		b.mu.Unlock()
		return false
	}
	b.lastSeen[e.Kind] = now
	if e.Time.IsZero() {
		e.Time = now
	}

	b.recent[b.pos] = e
	b.pos = (b.pos + 1) % recentSize
	if b.count < recentSize {
		b.count++
	}

	subs := make([]chan Event, 0, len(b.subs))
	for _, ch := range b.subs {
		subs = append(subs, ch)
	}
	b.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- e:
		default:
		}
	}
	return true
}

// Subscribe registers a listener. The returned cancel func must be
// called when the listener goes away; after cancel the channel is
// closed.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	id := b.nextSub
	b.nextSub++
	ch := make(chan Event, 16)
	b.subs[id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if _, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(ch)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// Recent returns up to limit recent events, oldest first.
// limit <= 0 returns all buffered events.
func (b *Bus) Recent(limit int) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	start := 0
	if b.count == recentSize {
		start = b.pos
	}
	result := make([]Event, 0, b.count)
	for i := 0; i < b.count; i++ {
		result = append(result, b.recent[(start+i)%recentSize])
	}
	if limit > 0 && len(result) > limit {
		result = result[len(result)-limit:]
	}
	return result
}
