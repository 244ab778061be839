package server

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/ashita-ai/kanri/internal/model"
	"github.com/ashita-ai/kanri/internal/store"
)

// SSE event names.
const (
	EventActivity  = "activity"
	EventCreated   = "entity-created"
	EventStatus    = "status-changed"
	EventUpdated   = "entity-updated"
	EventAgent     = "agent-changed"
	EventRootCause = "root-cause"
)

// Broker fans out committed store changes to SSE subscribers. Register
// Observe with store.Subscribe.
type Broker struct {
	logger *slog.Logger

	mu          sync.RWMutex
	subscribers map[chan []byte]struct{}
}

// NewBroker creates a new SSE broker.
func NewBroker(logger *slog.Logger) *Broker {
	return &Broker{
		logger:      logger,
		subscribers: make(map[chan []byte]struct{}),
	}
}

// changeMessage is the data payload of every SSE event.
type changeMessage struct {
	Entity model.EntityRef `json:"entity"`
	From   string          `json:"from,omitempty"`
	To     string          `json:"to,omitempty"`
	Data   any             `json:"data,omitempty"`
}

// Observe formats a store change as an SSE event and broadcasts it.
func (b *Broker) Observe(c store.Change) {
	name, ok := sseName(c.Kind)
	if !ok {
		return
	}
	payload, err := json.Marshal(changeMessage{Entity: c.Entity, From: c.From, To: c.To, Data: c.Data})
	if err != nil {
		b.logger.Warn("broker: marshal change", "kind", c.Kind, "error", err)
		return
	}
	b.broadcast(formatSSE(name, string(payload)))
}

func sseName(k store.ChangeKind) (string, bool) {
	switch k {
	case store.ChangeActivity:
		return EventActivity, true
	case store.ChangeCreated:
		return EventCreated, true
	case store.ChangeStatus:
		return EventStatus, true
	case store.ChangeUpdated:
		return EventUpdated, true
	case store.ChangeAgent:
		return EventAgent, true
	case store.ChangeRootCause:
		return EventRootCause, true
	default:
		return "", false
	}
}

// Subscribe returns a channel that receives SSE-formatted events.
// The caller must call Unsubscribe when done.
func (b *Broker) Subscribe() chan []byte {
	ch := make(chan []byte, 64)
	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber channel and closes it.
func (b *Broker) Unsubscribe(ch chan []byte) {
	b.mu.Lock()
	delete(b.subscribers, ch)
	b.mu.Unlock()
	close(ch)
}

// Subscribers reports the number of connected clients.
func (b *Broker) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// broadcast sends an event to all subscribers. A subscriber whose buffer
// is full misses the event; one slow client never blocks the store.
func (b *Broker) broadcast(event []byte) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
}

// formatSSE formats an event as a Server-Sent Events message.
func formatSSE(eventType, data string) []byte {
	return []byte("event: " + eventType + "\ndata: " + data + "\n\n")
}
