// Package events dispatches upload events to named handlers.
package events

import (
	"context"
	"errors"
	"sync"

	clamav "github.com/DevHatRo/clamav-instream-go"
	"github.com/rs/zerolog"
)

// TopicUpload is the topic upload events are published on.
const TopicUpload = "data.process"

// ErrClosed is returned by TriggerAsync after Close.
var ErrClosed = errors.New("events: bus closed")

const defaultWorkers = 4

type binding struct {
	name    string
	handler clamav.UploadHandler
}

type job struct {
	ctx   context.Context
	topic string
	ev    *clamav.UploadEvent
}

// Bus routes events by topic. Handlers of a topic run one after another in
// bind order and share the event, so a handler sees changes made by the
// ones before it. It implements clamav.EventBus.
type Bus struct {
	mu       sync.RWMutex
	bindings map[string][]binding

	// closeMu guards closed and the queue; it is separate from mu so a
	// sender blocked on a full queue never stalls the workers.
	closeMu sync.RWMutex
	closed  bool

	logger  zerolog.Logger
	workers int
	queue   chan job
	wg      sync.WaitGroup
	pending sync.WaitGroup
}

// Option configures a Bus.
type Option func(*Bus)

// WithWorkers sets how many goroutines run async events (default: 4).
func WithWorkers(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.workers = n
		}
	}
}

// WithLogger sets the bus logger.
func WithLogger(l zerolog.Logger) Option {
	return func(b *Bus) {
		b.logger = l
	}
}

// NewBus creates a Bus and starts its async workers.
func NewBus(opts ...Option) *Bus {
	b := &Bus{
		bindings: make(map[string][]binding),
		logger:   zerolog.Nop(),
		workers:  defaultWorkers,
	}
	for _, opt := range opts {
		opt(b)
	}

	b.queue = make(chan job, b.workers)
	for i := 0; i < b.workers; i++ {
		b.wg.Add(1)
		go b.work()
	}
	return b
}

// Bind registers h under name on topic. A handler already bound under the
// same name on that topic is replaced in place.
func (b *Bus) Bind(topic, name string, h clamav.UploadHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	list := b.bindings[topic]
	for i := range list {
		if list[i].name == name {
			list[i].handler = h
			return
		}
	}
	b.bindings[topic] = append(list, binding{name: name, handler: h})
}

// Unbind removes the handler registered under name on topic.
func (b *Bus) Unbind(topic, name string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	list := b.bindings[topic]
	for i := range list {
		if list[i].name == name {
			b.bindings[topic] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

// OnFileUploaded binds h on TopicUpload.
func (b *Bus) OnFileUploaded(name string, h clamav.UploadHandler) {
	b.Bind(TopicUpload, name, h)
}

// Handlers returns the names bound on topic, in call order.
func (b *Bus) Handlers(topic string) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	names := make([]string, 0, len(b.bindings[topic]))
	for _, bd := range b.bindings[topic] {
		names = append(names, bd.name)
	}
	return names
}

// Trigger runs every handler bound on topic in the calling goroutine.
func (b *Bus) Trigger(ctx context.Context, topic string, ev *clamav.UploadEvent) {
	b.mu.RLock()
	list := append([]binding(nil), b.bindings[topic]...)
	b.mu.RUnlock()

	for _, bd := range list {
		b.call(ctx, topic, bd, ev)
	}
}

// TriggerAsync queues ev for a worker. It blocks while all workers are busy
// and the queue is full, until ctx is done.
func (b *Bus) TriggerAsync(ctx context.Context, topic string, ev *clamav.UploadEvent) error {
	b.closeMu.RLock()
	defer b.closeMu.RUnlock()
	if b.closed {
		return ErrClosed
	}

	b.pending.Add(1)
	select {
	case b.queue <- job{ctx: ctx, topic: topic, ev: ev}:
		return nil
	case <-ctx.Done():
		b.pending.Done()
		return ctx.Err()
	}
}

// Wait blocks until every queued event has been handled.
func (b *Bus) Wait() {
	b.pending.Wait()
}

// Close stops accepting async events, waits for queued ones and stops the
// workers.
func (b *Bus) Close() {
	b.closeMu.Lock()
	if b.closed {
		b.closeMu.Unlock()
		return
	}
	b.closed = true
	close(b.queue)
	b.closeMu.Unlock()

	b.wg.Wait()
}

func (b *Bus) work() {
	defer b.wg.Done()
	for j := range b.queue {
		b.Trigger(j.ctx, j.topic, j.ev)
		b.pending.Done()
	}
}

func (b *Bus) call(ctx context.Context, topic string, bd binding, ev *clamav.UploadEvent) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error().
				Str("topic", topic).
				Str("handler", bd.name).
				Interface("panic", r).
				Msg("event handler panicked")
		}
	}()
	bd.handler(ctx, ev)
}
