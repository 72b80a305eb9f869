package kernel

import (
	"sync"

	"github.com/gojupyter/kernelclient/wire"
)

// EventKind distinguishes the three engine-level signals of spec §4.F.
type EventKind int

const (
	EventStatusChanged EventKind = iota
	EventIOPubMessage
	EventUnhandledMessage
)

// Event is the payload carried on an engine's signal channels. Only the
// field matching Kind is meaningful.
type Event struct {
	Kind    EventKind
	Status  Status
	Message wire.Message
}

// broadcaster is a small multi-subscriber fan-out, realizing spec's
// "signal" concept as a Go channel per subscriber — grounded on the
// teacher's per-channel poll-against-a-stop-channel shape
// (internal/dispatcher/dispatcher.go's `poll` helper), generalized from one
// reader to N independent subscribers.
type broadcaster struct {
	mu   sync.Mutex
	subs map[int]chan Event
	next int
}

func newBroadcaster() *broadcaster {
	return &broadcaster{subs: make(map[int]chan Event)}
}

// Listen returns a buffered channel of future events plus an unsubscribe
// function. A slow subscriber drops events past its buffer rather than
// blocking the engine's single dispatch goroutine.
func (b *broadcaster) Listen() (<-chan Event, func()) {
	b.mu.Lock()
	id := b.next
	b.next++
	ch := make(chan Event, 64)
	b.subs[id] = ch
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if existing, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(existing)
		}
	}
}

func (b *broadcaster) emit(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (b *broadcaster) closeAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
