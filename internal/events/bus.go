package events

import (
	"sync"
	"sync/atomic"
)

// Message is a payload tagged with the topic it was published on.
type Message struct {
	Topic   Event
	Payload any
}

// subscriber owns exactly one of the two channel shapes.
type subscriber struct {
	raw    chan any
	tagged chan Message
}

func (s *subscriber) offer(e Event, payload any) bool {
	if s.tagged != nil {
		select {
		case s.tagged <- Message{Topic: e, Payload: payload}:
			return true
		default:
			return false
		}
	}
	select {
	case s.raw <- payload:
		return true
	default:
		return false
	}
}

func (s *subscriber) close() {
	if s.tagged != nil {
		close(s.tagged)
		return
	}
	close(s.raw)
}

// Bus fans pipeline views out to consumers. Publishing never blocks the
// pipeline: a subscriber whose buffer is full misses the payload and the
// miss is counted.
type Bus struct {
	mu      sync.RWMutex
	subs    map[Event][]*subscriber
	dropped atomic.Uint64
}

func NewBus() *Bus {
	return &Bus{subs: make(map[Event][]*subscriber)}
}

// Subscribe registers a listener for one topic and returns the payload
// channel and an unsubscribe function that closes it.
func (b *Bus) Subscribe(e Event, buffer int) (<-chan any, func()) {
	s := &subscriber{raw: make(chan any, buffer)}
	return s.raw, b.add(s, []Event{e})
}

// SubscribeTopics delivers every listed topic on one channel, in publish
// order, so a consumer can tell views apart without a goroutine per topic.
func (b *Bus) SubscribeTopics(buffer int, topics ...Event) (<-chan Message, func()) {
	s := &subscriber{tagged: make(chan Message, buffer)}
	return s.tagged, b.add(s, topics)
}

func (b *Bus) add(s *subscriber, topics []Event) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, e := range topics {
		b.subs[e] = append(b.subs[e], s)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for _, e := range topics {
				subs := b.subs[e]
				for i, c := range subs {
					if c == s {
						b.subs[e] = append(subs[:i], subs[i+1:]...)
						break
					}
				}
			}
			s.close()
		})
	}
}

// Publish offers payload to every subscriber of e.
func (b *Bus) Publish(e Event, payload any) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs[e] {
		if !s.offer(e, payload) {
			b.dropped.Add(1)
		}
	}
}

// Dropped returns how many deliveries were skipped because a subscriber
// was full.
func (b *Bus) Dropped() uint64 { return b.dropped.Load() }
