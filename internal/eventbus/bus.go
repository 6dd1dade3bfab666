// Package eventbus fans scheduler and bridge events out to in-process listeners.
package eventbus

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Event is one in-memory notification.
//
// Publish never blocks: every subscriber owns a buffered channel and events that
// do not fit are dropped for that subscriber only.
type Event struct {
	Type string
	Time time.Time
	Data any
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// Filtered is implemented by buses that can restrict a subscription to topic prefixes.
type Filtered interface {
	SubscribePrefix(buffer int, prefixes ...string) (ch <-chan Event, unsubscribe func())
}

// SubscribeTopics subscribes to topics, filtered by the bus when it supports it.
// Unfiltered buses deliver everything, so receivers still check Event.Type.
func SubscribeTopics(bus Bus, buffer int, topics ...string) (<-chan Event, func()) {
	if f, ok := bus.(Filtered); ok {
		return f.SubscribePrefix(buffer, topics...)
	}
	return bus.Subscribe(buffer)
}

// Stats reports delivery counters.
type Stats struct {
	Published   uint64
	Dropped     uint64
	Subscribers int
}

// New returns an in-memory bus without background goroutines.
func New() *MemBus {
	return &MemBus{subs: map[uint64]*subscriber{}}
}

type subscriber struct {
	ch       chan Event
	prefixes []string
}

func (s *subscriber) wants(topic string) bool {
	if len(s.prefixes) == 0 {
		return true
	}
	for _, p := range s.prefixes {
		if strings.HasPrefix(topic, p) {
			return true
		}
	}
	return false
}

type MemBus struct {
	mu        sync.RWMutex
	subs      map[uint64]*subscriber
	seq       atomic.Uint64
	published atomic.Uint64
	dropped   atomic.Uint64
}

func (b *MemBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.published.Add(1)

	b.mu.RLock()
	targets := make([]chan Event, 0, len(b.subs))
	for _, s := range b.subs {
		if s.wants(e.Type) {
			targets = append(targets, s.ch)
		}
	}
	b.mu.RUnlock()

	for _, ch := range targets {
		b.deliver(ch, e)
	}
}

// deliver recovers from a send on a channel closed by a concurrent unsubscribe.
func (b *MemBus) deliver(ch chan Event, e Event) {
	defer func() { _ = recover() }()
	select {
	case ch <- e:
	default:
		b.dropped.Add(1)
	}
}

func (b *MemBus) Subscribe(buffer int) (<-chan Event, func()) {
	return b.SubscribePrefix(buffer)
}

// SubscribePrefix subscribes to events whose type starts with one of prefixes.
// No prefixes means every event.
func (b *MemBus) SubscribePrefix(buffer int, prefixes ...string) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	s := &subscriber{ch: make(chan Event, buffer), prefixes: append([]string(nil), prefixes...)}
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = s
	b.mu.Unlock()

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(s.ch)
		})
	}
}

func (b *MemBus) Stats() Stats {
	b.mu.RLock()
	n := len(b.subs)
	b.mu.RUnlock()
	return Stats{Published: b.published.Load(), Dropped: b.dropped.Load(), Subscribers: n}
}
