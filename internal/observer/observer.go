// Package observer provides a typed publish/subscribe primitive whose
// subscribers are isolated from each other and from the publisher.
//
// A subscriber that panics is logged and stays subscribed; the publisher
// and the remaining subscribers are unaffected.
package observer

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

type subscriber[T any] struct {
	id uint64
	fn func(T)
}

// Broadcaster holds the latest value of a stream and fans it out.
type Broadcaster[T any] struct {
	name string
	log  *zap.Logger

	mu      sync.Mutex
	nextID  uint64
	subs    []subscriber[T]
	current T
}

// New creates a broadcaster seeded with initial.
func New[T any](name string, initial T, log *zap.Logger) *Broadcaster[T] {
	if log == nil {
		log = zap.NewNop()
	}
	return &Broadcaster[T]{name: name, log: log, current: initial}
}

// Subscribe registers fn and invokes it synchronously with the current value.
// The returned function removes the subscription and is safe to call twice.
func (b *Broadcaster[T]) Subscribe(fn func(T)) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscriber[T]{id: id, fn: fn})
	current := b.current
	b.mu.Unlock()

	b.deliver(id, fn, current)

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.subs {
			if s.id == id {
				b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
				return
			}
		}
	}
}

// Publish stores v as the current value and notifies every subscriber in
// subscription order. Callbacks run outside the broadcaster lock.
func (b *Broadcaster[T]) Publish(v T) {
	b.mu.Lock()
	b.current = v
	subs := make([]subscriber[T], len(b.subs))
	copy(subs, b.subs)
	b.mu.Unlock()

	for _, s := range subs {
		b.deliver(s.id, s.fn, v)
	}
}

// Current returns the last published value.
func (b *Broadcaster[T]) Current() T {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// Len reports the number of live subscriptions.
func (b *Broadcaster[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (b *Broadcaster[T]) deliver(id uint64, fn func(T), v T) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("subscriber callback failed",
				zap.String("stream", b.name),
				zap.Uint64("subscriber", id),
				zap.String("panic", fmt.Sprint(r)))
		}
	}()
	fn(v)
}

// Channel adapts a subscription into a buffered channel for goroutine
// consumers. When the buffer is full the oldest pending value is dropped so
// a slow reader never blocks the publisher. The cancel function closes the
// channel.
func (b *Broadcaster[T]) Channel(size int) (<-chan T, func()) {
	if size < 1 {
		size = 1
	}
	ch := make(chan T, size)
	var (
		mu     sync.Mutex
		closed bool
	)
	unsubscribe := b.Subscribe(func(v T) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case ch <- v:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- v
		}
	})
	cancel := func() {
		unsubscribe()
		mu.Lock()
		defer mu.Unlock()
		if !closed {
			closed = true
			close(ch)
		}
	}
	return ch, cancel
}
