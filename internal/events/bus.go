// Package events is the in-process notification bus connecting the watcher,
// queue, crew, and API layers without coupling them to each other
// directly, a plain topic/handler registry generalized from a single
// transition callback to named topics.
package events

import (
	"log"
	"sync"
)

// Well-known topic names used across the service.
const (
	TaskQueued         = "taskQueued"
	TaskStarted        = "taskStarted"
	TaskCompleted      = "taskCompleted"
	TaskFailed         = "taskFailed"
	QueueDrained       = "queueDrained"
	ResearchTriggered  = "research:triggered"
	ResearchComplete   = "research:complete"
	IterationStart     = "iteration:start"
	IterationComplete  = "iteration:complete"
	SpecialistDispatch = "specialist:dispatch"
	SpecialistComplete = "specialist:complete"
	PivotDetected      = "pivot:detected"
)

// Event is a single notification carried on the bus.
type Event struct {
	Name    string
	Payload any
}

// Handler reacts to an Event. Handlers run concurrently with each other and
// must not block the emitting goroutine for long.
type Handler func(Event)

type subscription struct {
	id int
	h  Handler
}

// Bus is a process-wide, mutex-protected topic registry.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]subscription
	nextID   int
}

// New returns an empty bus.
func New() *Bus {
	return &Bus{handlers: make(map[string][]subscription)}
}

// On registers h to run whenever topic is emitted, returning a subscription
// id that Off can later use to remove it, so callers (like the websocket
// event stream) can unsubscribe on disconnect instead of leaking a handler
// per connection.
func (b *Bus) On(topic string, h Handler) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.handlers[topic] = append(b.handlers[topic], subscription{id: id, h: h})
	return id
}

// Off removes a previously registered handler by its subscription id.
func (b *Bus) Off(topic string, id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.handlers[topic]
	for i, s := range subs {
		if s.id == id {
			b.handlers[topic] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}

// Emit dispatches payload to every handler registered for topic. Each
// handler runs in its own goroutine so a slow or misbehaving subscriber
// (e.g. the websocket fan-out) never blocks task processing; panics are
// recovered and logged rather than crashing the caller.
func (b *Bus) Emit(topic string, payload any) {
	b.mu.RLock()
	subs := b.handlers[topic]
	hs := make([]Handler, len(subs))
	for i, s := range subs {
		hs[i] = s.h
	}
	b.mu.RUnlock()

	evt := Event{Name: topic, Payload: payload}
	for _, h := range hs {
		go func(h Handler) {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("[Events] handler for %q panicked: %v", topic, r)
				}
			}()
			h(evt)
		}(h)
	}
}
