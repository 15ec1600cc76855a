// Package eventbus is the in-process pub/sub backbone connecting the
// dispatcher's "Emit events" step (spec.md §4.1 step 7) to the notifier
// (§4.3): createDirectChild, deleteDirectChild, resourceUpdate, and
// resourceDelete events flow here and subscribers (the notifier and the
// announcer) drain them independently.
package eventbus

import (
	"context"
	"sync"

	"github.com/onem2m-cse/cse/internal/resource"
)

// Kind is the oneM2M subscription net (notificationEventType) enumeration
// a change event may represent.
type Kind int

const (
	KindUpdateResource Kind = iota + 1
	KindDeleteResource
	KindCreateDirectChild
	KindDeleteDirectChild
	KindRetrieveDirectChild
	KindMissingDataPoints
)

// Event is one change notification published after a successful commit.
type Event struct {
	Kind Kind
	// Target is the resource the event is "about": the changed resource for
	// Update/Delete, the new/removed child for CreateDirectChild/DeleteDirectChild.
	Target *resource.Resource
	// ParentRI is the subscription-indexing key: the pi subscriptions are
	// filed under (the changed resource's own ri for Update/Delete, the
	// parent's ri for the DirectChild events).
	ParentRI string
	// ChangedAttrs is the updated-attribute-name set for resourceUpdate
	// events, used for enc/atr filtering (spec.md §4.3).
	ChangedAttrs map[string]bool
	Originator   string
}

// Handler processes one event. Handlers run sequentially in publish order
// per subscriber to preserve per-resource ordering; slow handlers should
// hand off to their own worker pool rather than block Publish.
type Handler func(ctx context.Context, ev Event)

// Bus fans a published Event out to every registered Handler.
type Bus struct {
	mu       sync.RWMutex
	handlers []Handler
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{}
}

// Subscribe registers a handler invoked for every future Publish.
func (b *Bus) Subscribe(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

// Publish fans ev out to all subscribers synchronously. Callers that must
// not block the commit path should subscribe with a handler that enqueues
// to its own channel/worker pool.
func (b *Bus) Publish(ctx context.Context, ev Event) {
	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()

	for _, h := range handlers {
		h(ctx, ev)
	}
}
