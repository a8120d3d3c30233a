// Package events delivers upload lifecycle notifications to subscribers.
package events

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gammazero/deque"
)

type Kind string

const (
	EndpointCreated Kind = "endpoint_created"
	FileCreated     Kind = "file_created"
	UploadComplete  Kind = "upload_complete"
	FileDeleted     Kind = "file_deleted"
)

// Event is a snapshot of an upload at the moment something happened to it.
type Event struct {
	Kind        Kind
	UploadID    string
	Size        int64
	Length      int64
	DeferLength bool
	Metadata    string
	URL         string // set for EndpointCreated
	At          time.Time
}

type Handler func(Event)

// Bus queues published events without bound and runs handlers on a single
// goroutine in publish order. A panicking handler is logged and skipped.
type Bus struct {
	mu       sync.Mutex
	cond     *sync.Cond
	queue    deque.Deque[Event]
	handlers map[Kind][]Handler
	closed   bool
	done     chan struct{}
	logger   *slog.Logger
}

func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bus{
		handlers: make(map[Kind][]Handler),
		done:     make(chan struct{}),
		logger:   logger.With(slog.String("comp", "events")),
	}
	b.cond = sync.NewCond(&b.mu)
	go b.loop()
	return b
}

func (b *Bus) Subscribe(kind Kind, h Handler) {
	b.mu.Lock()
	b.handlers[kind] = append(b.handlers[kind], h)
	b.mu.Unlock()
}

// Publish never blocks on subscribers. Events published after Close are dropped.
func (b *Bus) Publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.queue.PushBack(e)
	b.cond.Signal()
}

// Close delivers what is already queued, then stops the bus.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		<-b.done
		return
	}
	b.closed = true
	b.cond.Signal()
	b.mu.Unlock()
	<-b.done
}

func (b *Bus) loop() {
	defer close(b.done)
	for {
		b.mu.Lock()
		for b.queue.Len() == 0 && !b.closed {
			b.cond.Wait()
		}
		if b.queue.Len() == 0 {
			b.mu.Unlock()
			return
		}
		e := b.queue.PopFront()
		hs := append([]Handler(nil), b.handlers[e.Kind]...)
		b.mu.Unlock()

		for _, h := range hs {
			b.dispatch(h, e)
		}
	}
}

func (b *Bus) dispatch(h Handler, e Event) {
	defer func() {
		if rec := recover(); rec != nil {
			b.logger.Error("events.handler_panic", "kind", string(e.Kind), "upload_id", e.UploadID, "err", rec)
		}
	}()
	h(e)
}
