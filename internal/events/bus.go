// Package events provides a non-blocking publish/subscribe bus for viewer
// state changes. Delivery is asynchronous over buffered channels; a slow
// subscriber drops events rather than stalling the scheduler.
package events

import (
	"sync"
	"time"
)

// EventType identifies the kind of state change being published.
type EventType string

const (
	// EventPageReady is published when a decoded frame lands in the cache.
	EventPageReady EventType = "page_ready"
	// EventPageFailed is published when a page decode fails.
	EventPageFailed EventType = "page_failed"
	// EventRapidMode is published when rapid mode is entered or left.
	EventRapidMode EventType = "rapid_mode"
	// EventProgressive is published after any progressive-load state mutation.
	EventProgressive EventType = "progressive"
	// EventConfigReloaded is published when the settings watcher applies a
	// changed settings file to a live session.
	EventConfigReloaded EventType = "config_reloaded"
)

// Event is one published state change.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Data      map[string]any
}

// Subscriber receives events for one event type.
type Subscriber func(Event)

// Bus fans events out to subscribers without ever blocking the publisher.
// If a subscriber's channel is full the event is dropped for that subscriber.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]chan Event
	bufferSize  int
}

// NewBus creates a bus with the given per-subscriber buffer size.
func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &Bus{
		subscribers: make(map[EventType][]chan Event),
		bufferSize:  bufferSize,
	}
}

// Subscribe registers fn for eventType. The callback runs on its own
// goroutine. Returns an unsubscribe function.
func (b *Bus) Subscribe(eventType EventType, fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, b.bufferSize)
	b.subscribers[eventType] = append(b.subscribers[eventType], ch)

	go func() {
		for event := range ch {
			func() {
				defer func() {
					// A panicking subscriber must not take the bus down.
					_ = recover()
				}()
				fn(event)
			}()
		}
	}()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		subs := b.subscribers[eventType]
		for i, subCh := range subs {
			if subCh == ch {
				b.subscribers[eventType] = append(subs[:i], subs[i+1:]...)
				close(ch)
				break
			}
		}
	}
}

// Publish sends an event to every subscriber of eventType, dropping it for
// any subscriber whose buffer is full.
func (b *Bus) Publish(eventType EventType, data map[string]any) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	event := Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}

	for _, ch := range b.subscribers[eventType] {
		select {
		case ch <- event:
		default:
			// Buffer full; drop rather than block the scheduler.
		}
	}
}

// Close closes all subscriber channels and clears subscriptions.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for eventType, subs := range b.subscribers {
		for _, ch := range subs {
			close(ch)
		}
		delete(b.subscribers, eventType)
	}
}
