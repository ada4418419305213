// Package events carries lifecycle signals (login, refresh, stream
// state, page progress) to any interested consumer, plus a ring-buffer
// slog handler so recent logs can be dumped on failure.
package events

import (
	"sync"
	"time"
)

type EventType string

const (
	EventLogin      EventType = "login"
	EventOTP        EventType = "otp"
	EventRefresh    EventType = "refresh"
	EventStreamUp   EventType = "stream_up"
	EventStreamDown EventType = "stream_down"
	EventPage       EventType = "page"
	EventSyncDone   EventType = "sync_done"
	EventWarning    EventType = "warning"
)

type Event struct {
	Type      EventType `json:"type"`
	ConnID    string    `json:"conn_id,omitempty"`
	Message   string    `json:"message"`
	Count     int       `json:"count,omitempty"`
	Timestamp time.Time `json:"ts"`
}

// Bus is a best-effort fan-out with a bounded replay ring. Slow
// subscribers lose events rather than block the publisher.
type Bus struct {
	mu          sync.RWMutex
	ring        []Event
	ringSize    int
	ringPos     int
	ringCount   int
	subscribers map[int]chan Event
	nextID      int
}

func NewBus(ringSize int) *Bus {
	if ringSize <= 0 {
		ringSize = 200
	}
	return &Bus{
		ring:        make([]Event, ringSize),
		ringSize:    ringSize,
		subscribers: make(map[int]chan Event),
	}
}

func (b *Bus) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.ring[b.ringPos] = e
	b.ringPos = (b.ringPos + 1) % b.ringSize
	if b.ringCount < b.ringSize {
		b.ringCount++
	}

	for _, ch := range b.subscribers {
		select {
		case ch <- e:
		default:
		}
	}
}

func (b *Bus) Subscribe() (id int, ch <-chan Event, recent []Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := make(chan Event, 64)
	id = b.nextID
	b.nextID++
	b.subscribers[id] = c

	recent = b.recentLocked()
	return id, c, recent
}

func (b *Bus) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.subscribers[id]; ok {
		delete(b.subscribers, id)
		close(ch)
	}
}

func (b *Bus) recentLocked() []Event {
	if b.ringCount == 0 {
		return nil
	}
	result := make([]Event, b.ringCount)
	start := (b.ringPos - b.ringCount + b.ringSize) % b.ringSize
	for i := 0; i < b.ringCount; i++ {
		result[i] = b.ring[(start+i)%b.ringSize]
	}
	return result
}
