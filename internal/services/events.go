package services

import (
	"sync"
	"time"

	"github.com/Riboost-Studio/print-queue-agent/internal/model"
)

const subscriberBuffer = 64

type subscriber struct {
	ch chan model.Event
}

// EventBus fans agent events out to control-stream subscribers.
// Publish never blocks: a subscriber whose buffer is full misses the event.
type EventBus struct {
	mu   sync.RWMutex
	subs map[*subscriber]struct{}
}

func NewEventBus() *EventBus {
	return &EventBus{subs: make(map[*subscriber]struct{})}
}

// Subscribe returns a receive channel and an unsubscribe function that
// closes it.
func (b *EventBus) Subscribe() (<-chan model.Event, func()) {
	s := &subscriber{ch: make(chan model.Event, subscriberBuffer)}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, s)
			b.mu.Unlock()
			close(s.ch)
		})
	}
	return s.ch, unsub
}

func (b *EventBus) Publish(e model.Event) {
	if b == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs {
		select {
		case s.ch <- e:
		default:
		}
	}
}

// Len returns the current subscriber count.
func (b *EventBus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
