// Package broadcast fans values out to a list of observers in publish order.
package broadcast

import (
	"sync"
	"sync/atomic"
)

type observer[T any] struct {
	fn     func(T)
	active atomic.Bool
}

type delivery[T any] struct {
	value   T
	targets []*observer[T]
}

// Broadcaster delivers every published value to the observers registered at publish time.
//
// Publish never blocks on observers: values are queued and handed to observers by a single
// dispatcher goroutine, so every observer sees values in exactly the order they were published,
// and observers may call back into the publisher without deadlocking. The dispatcher exits when
// the queue is empty and is restarted by the next Publish.
type Broadcaster[T any] struct {
	mu          sync.Mutex
	observers   []*observer[T]
	queue       []delivery[T]
	dispatching bool

	replay  bool
	last    T
	hasLast bool

	onPanic func(recovered any)
}

// New creates a broadcaster whose observers only see values published after they subscribe.
// onPanic, when set, receives values recovered from panicking observers.
func New[T any](onPanic func(recovered any)) *Broadcaster[T] {
	return &Broadcaster[T]{onPanic: onPanic}
}

// NewReplay creates a broadcaster that hands the latest value to each new observer first,
// starting from initial.
func NewReplay[T any](initial T, onPanic func(recovered any)) *Broadcaster[T] {
	return &Broadcaster[T]{replay: true, last: initial, hasLast: true, onPanic: onPanic}
}

// Subscribe registers fn and returns a func that unregisters it. Values already queued for
// delivery when cancel is called are not delivered to fn anymore.
func (b *Broadcaster[T]) Subscribe(fn func(T)) (cancel func()) {
	o := &observer[T]{fn: fn}
	o.active.Store(true)

	b.mu.Lock()
	b.observers = append(b.observers, o)
	if b.replay && b.hasLast {
		b.enqueueLocked(delivery[T]{value: b.last, targets: []*observer[T]{o}})
	}
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			o.active.Store(false)
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, cur := range b.observers {
				if cur == o {
					b.observers = append(b.observers[:i:i], b.observers[i+1:]...)
					break
				}
			}
		})
	}
}

// Publish queues v for every current observer.
func (b *Broadcaster[T]) Publish(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.replay {
		b.last, b.hasLast = v, true
	}
	if len(b.observers) == 0 {
		return
	}
	targets := make([]*observer[T], len(b.observers))
	copy(targets, b.observers)
	b.enqueueLocked(delivery[T]{value: v, targets: targets})
}

// Len returns the number of registered observers.
func (b *Broadcaster[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.observers)
}

func (b *Broadcaster[T]) enqueueLocked(d delivery[T]) {
	b.queue = append(b.queue, d)
	if !b.dispatching {
		b.dispatching = true
		go b.dispatch()
	}
}

func (b *Broadcaster[T]) dispatch() {
	for {
		b.mu.Lock()
		if len(b.queue) == 0 {
			b.dispatching = false
			b.queue = nil
			b.mu.Unlock()
			return
		}
		d := b.queue[0]
		b.queue = b.queue[1:]
		b.mu.Unlock()

		for _, o := range d.targets {
			if o.active.Load() {
				b.call(o, d.value)
			}
		}
	}
}

func (b *Broadcaster[T]) call(o *observer[T], v T) {
	defer func() {
		if r := recover(); r != nil && b.onPanic != nil {
			b.onPanic(r)
		}
	}()
	o.fn(v)
}
