// Package bus provides the event-delivery substrate between the
// dispatcher, the verification consumers, and the aggregator. The
// in-memory implementation is a topic fan-out over buffered channels with
// at-least-once semantics: consumers must be idempotent, and the bus can
// deliberately redeliver to exercise that property.
package bus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/ahrav/go-crucible/internal/ports"
)

// defaultBufferSize bounds each subscriber channel.
const defaultBufferSize = 1024

// ErrBusClosed is returned by operations on a closed bus.
var ErrBusClosed = errors.New("event bus is closed")

// Option configures an InMemoryBus.
type Option func(*InMemoryBus)

// WithBufferSize sets the per-subscriber channel capacity.
func WithBufferSize(n int) Option {
	return func(b *InMemoryBus) {
		if n > 0 {
			b.bufferSize = n
		}
	}
}

// WithDuplicateEvery makes every nth publish deliver twice. The pipeline
// assumes at-least-once delivery; this option lets tests and soak runs
// prove consumer idempotence instead of trusting it.
func WithDuplicateEvery(n int) Option {
	return func(b *InMemoryBus) { b.duplicateEvery = n }
}

// InMemoryBus implements ports.EventBus with per-topic subscriber fan-out.
type InMemoryBus struct {
	mu             sync.RWMutex
	subscribers    map[string][]chan ports.Envelope
	bufferSize     int
	duplicateEvery int
	published      atomic.Int64
	closed         bool

	// done unblocks publishers stuck on a full buffer when the bus
	// closes. Close signals it before taking the write lock, since a
	// blocked publisher holds the read lock.
	done      chan struct{}
	closeOnce sync.Once
}

var _ ports.EventBus = (*InMemoryBus)(nil)

// NewInMemoryBus creates a bus with the given options applied.
func NewInMemoryBus(opts ...Option) *InMemoryBus {
	b := &InMemoryBus{
		subscribers: make(map[string][]chan ports.Envelope),
		bufferSize:  defaultBufferSize,
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish delivers the envelope to every subscriber of its topic. Delivery
// blocks on a full subscriber buffer until ctx is done or the bus closes,
// so slow consumers apply backpressure instead of dropping events while a
// shutdown still proceeds.
//
// The read lock is held for the duration of delivery so Close cannot
// close a channel a publisher is sending on.
func (b *InMemoryBus) Publish(ctx context.Context, env ports.Envelope) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return ErrBusClosed
	}

	deliveries := 1
	if n := b.published.Add(1); b.duplicateEvery > 0 && n%int64(b.duplicateEvery) == 0 {
		deliveries = 2
	}

	for d := 0; d < deliveries; d++ {
		for _, ch := range b.subscribers[env.Topic] {
			select {
			case ch <- env:
			case <-ctx.Done():
				return ctx.Err()
			case <-b.done:
				return ErrBusClosed
			}
		}
	}
	return nil
}

// Subscribe registers a consumer for a topic. The returned channel closes
// when the bus closes.
func (b *InMemoryBus) Subscribe(ctx context.Context, topic string) (<-chan ports.Envelope, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBusClosed
	}

	ch := make(chan ports.Envelope, b.bufferSize)
	b.subscribers[topic] = append(b.subscribers[topic], ch)
	return ch, nil
}

// Close stops delivery and closes every subscriber channel. Publishers
// blocked on a full buffer are released with ErrBusClosed. Idempotent.
func (b *InMemoryBus) Close() error {
	b.closeOnce.Do(func() { close(b.done) })

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	for _, subs := range b.subscribers {
		for _, ch := range subs {
			close(ch)
		}
	}
	b.subscribers = make(map[string][]chan ports.Envelope)
	return nil
}
