package events

import (
	"sync"

	"github.com/Ystanxx/HEIC2any/state"
)

// Type identifies the kind of event a handler subscribes to.
type Type int

const (
	TypeJobUpdated Type = iota
	TypeOverallUpdated
	TypeAllDone
)

// Event is a typed payload published on the bus.
type Event interface {
	Type() Type
}

// JobUpdated carries a snapshot of a job after one of its runtime fields
// changed. Consumers must use the snapshot rather than re-reading the live
// job from another goroutine.
type JobUpdated struct {
	Index int
	Job   state.Job
}

func (JobUpdated) Type() Type { return TypeJobUpdated }

// OverallUpdated signals that aggregate progress may have changed. It is
// intentionally empty: consumers recompute their own statistics from the
// job snapshots they hold.
type OverallUpdated struct{}

func (OverallUpdated) Type() Type { return TypeOverallUpdated }

// AllDone is published by the batch runner once every job is terminal.
type AllDone struct {
	Completed int
	Failed    int
	Cancelled int
}

func (AllDone) Type() Type { return TypeAllDone }

type Handler func(Event)

// Bus is a thread-safe publish/subscribe channel between the task manager
// and its observers. Handlers run synchronously on the publishing
// goroutine, in registration order.
type Bus struct {
	mu   sync.Mutex
	subs map[Type][]Handler
}

func NewBus() *Bus {
	return &Bus{subs: make(map[Type][]Handler)}
}

func (b *Bus) Subscribe(t Type, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[t] = append(b.subs[t], h)
}

// Publish invokes every handler registered for the event's type. The
// subscriber list is snapshotted under the lock and handlers run outside
// it, so a handler may re-enter the bus. A panicking handler is dropped
// and the remaining handlers still run.
func (b *Bus) Publish(e Event) {
	b.mu.Lock()
	handlers := make([]Handler, len(b.subs[e.Type()]))
	copy(handlers, b.subs[e.Type()])
	b.mu.Unlock()

	for _, h := range handlers {
		invoke(h, e)
	}
}

func invoke(h Handler, e Event) {
	defer func() {
		_ = recover()
	}()
	h(e)
}
