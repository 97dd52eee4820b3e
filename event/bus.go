package event

import (
	"context"
	"sync"

	"github.com/scriptorium-dev/palimpsest/entity"
)

// Event announces a completed expansion.
type Event struct {
	// Identifier is the expanded entity's identifier.
	Identifier string `json:"identifier"`

	// Entity is the merged entity.
	Entity *entity.Entity `json:"entity"`
}

// Publisher delivers change notifications.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Bus is an in-process publisher fanning events out to subscriber
// channels.
type Bus struct {
	mu          sync.RWMutex
	subscribers []chan Event
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe returns a channel receiving every subsequent event. The
// channel is buffered; a subscriber that falls more than bufferSize
// events behind misses the overflow rather than blocking publishers.
func (b *Bus) Subscribe() <-chan Event {
	const bufferSize = 16
	ch := make(chan Event, bufferSize)
	b.mu.Lock()
	b.subscribers = append(b.subscribers, ch)
	b.mu.Unlock()
	return ch
}

// Publish delivers the event to all current subscribers.
func (b *Bus) Publish(_ context.Context, ev Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
	return nil
}
