package events

import (
	"sync"

	"go.uber.org/zap"
)

// Handler processes one event. Handlers for the same invoice are invoked in
// publish order; handlers for different invoices may run concurrently.
type Handler func(Event)

type subscription struct {
	name    string
	types   map[Type]bool // empty means all types
	handler Handler
}

func (s *subscription) wants(t Type) bool {
	return len(s.types) == 0 || s.types[t]
}

// Bus delivers events asynchronously while preserving per-invoice ordering.
// Each invoice gets its own queue drained by a single goroutine, so events
// for one invoice never reorder while unrelated invoices stay independent.
type Bus struct {
	mu      sync.Mutex
	subs    []*subscription
	queues  map[string]chan Event
	closed  bool
	sending sync.WaitGroup // in-flight Publish sends
	wg      sync.WaitGroup
	logger  *zap.Logger
}

const queueDepth = 64

func NewBus(logger *zap.Logger) *Bus {
	return &Bus{
		queues: make(map[string]chan Event),
		logger: logger,
	}
}

// Subscribe registers a handler for the given event types. A nil or empty
// type list subscribes to every event. Subscribing after Close is a no-op.
func (b *Bus) Subscribe(name string, types []Type, handler Handler) {
	sub := &subscription{
		name:    name,
		types:   make(map[Type]bool, len(types)),
		handler: handler,
	}
	for _, t := range types {
		sub.types[t] = true
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.subs = append(b.subs, sub)
}

// Publish enqueues the event for delivery. It returns false if the bus is
// closed or the event type is not recognized.
func (b *Bus) Publish(event Event) bool {
	if !event.Type.IsValid() {
		b.logger.Warn("dropping event with unknown type",
			zap.String("type", string(event.Type)),
			zap.String("invoice_id", event.InvoiceID))
		return false
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return false
	}
	queue, ok := b.queues[event.InvoiceID]
	if !ok {
		queue = make(chan Event, queueDepth)
		b.queues[event.InvoiceID] = queue
		b.wg.Add(1)
		go b.drain(queue)
	}
	// Registering the send under the lock lets Close wait for it before
	// closing any queue, so the send below can never hit a closed channel.
	b.sending.Add(1)
	b.mu.Unlock()

	queue <- event
	b.sending.Done()
	return true
}

func (b *Bus) drain(queue chan Event) {
	defer b.wg.Done()
	for event := range queue {
		b.mu.Lock()
		subs := make([]*subscription, len(b.subs))
		copy(subs, b.subs)
		b.mu.Unlock()

		for _, sub := range subs {
			if sub.wants(event.Type) {
				b.deliver(sub, event)
			}
		}
	}
}

// deliver invokes one handler, recovering from panics so a misbehaving
// subscriber cannot stall the invoice's queue.
func (b *Bus) deliver(sub *subscription, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				zap.String("subscriber", sub.name),
				zap.String("event_type", string(event.Type)),
				zap.String("invoice_id", event.InvoiceID),
				zap.Any("panic", r))
		}
	}()
	sub.handler(event)
}

// Close stops accepting events and blocks until all queued events have been
// delivered.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()

	// No new sends can start once closed is set. Wait for in-flight sends to
	// land; the drain goroutines are still consuming, so a sender blocked on a
	// full queue makes progress instead of deadlocking here.
	b.sending.Wait()

	b.mu.Lock()
	for _, queue := range b.queues {
		close(queue)
	}
	b.mu.Unlock()

	b.wg.Wait()
}
