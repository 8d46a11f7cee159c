package savedata

import (
	gosync "sync"
)

// Event types published during a pass.
const (
	EventPassStarted  = "pass-started"
	EventRecordCopied = "record-copied"
	EventRecordFailed = "record-failed"
	EventPassFinished = "pass-finished"
)

// PassEvent is a progress update broadcast to console clients.
type PassEvent struct {
	Type   string `json:"type"`
	PassID string `json:"passId,omitempty"`
	Policy string `json:"policy,omitempty"`
	Name   string `json:"name,omitempty"`
	Target string `json:"target,omitempty"`
	Status string `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`
}

// EventBus broadcasts PassEvents to every subscriber.
type EventBus struct {
	mu      gosync.RWMutex
	clients map[chan PassEvent]struct{}
}

// NewEventBus creates a new EventBus.
func NewEventBus() *EventBus {
	return &EventBus{
		clients: make(map[chan PassEvent]struct{}),
	}
}

// Subscribe registers a new client and returns its event channel.
func (b *EventBus) Subscribe() chan PassEvent {
	ch := make(chan PassEvent, 16)
	b.mu.Lock()
	b.clients[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a client and closes its channel.
func (b *EventBus) Unsubscribe(ch chan PassEvent) {
	b.mu.Lock()
	delete(b.clients, ch)
	b.mu.Unlock()
	close(ch)
}

// Publish sends an event to all subscribers. Slow clients miss it.
func (b *EventBus) Publish(event PassEvent) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.clients {
		select {
		case ch <- event:
		default:
			// slow client, drop event
		}
	}
}
