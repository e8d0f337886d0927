// Package observe provides value broadcasters with replay-on-subscribe.
package observe

import (
	"sync"

	"github.com/google/uuid"
	cmap "github.com/orcaman/concurrent-map/v2"
)

type subscriber[T any] struct {
	fn     func(T)
	active bool
}

// Broadcaster holds the current value of T and pushes every change to its
// subscribers.
//
// Publish and Activate must be called from a single owner goroutine; Add,
// Remove and Current are safe from any goroutine. A subscriber added with
// Add receives nothing until Activate replays the current value to it, so
// the owner controls where in the change sequence the replay lands.
type Broadcaster[T any] struct {
	subs    cmap.ConcurrentMap[string, *subscriber[T]]
	equal   func(a, b T) bool
	onPanic func(any)

	mu      sync.RWMutex
	current T
}

// New creates a Broadcaster holding initial. equal decides whether a
// published value is a change.
func New[T any](initial T, equal func(a, b T) bool) *Broadcaster[T] {
	return &Broadcaster[T]{
		subs:    cmap.New[*subscriber[T]](),
		equal:   equal,
		current: initial,
	}
}

// OnPanic sets a hook invoked when a subscriber callback panics. The panic
// is recovered either way.
func (b *Broadcaster[T]) OnPanic(fn func(any)) {
	b.onPanic = fn
}

// Add registers fn and returns its subscription id. fn stays inactive
// until Activate is called with that id.
func (b *Broadcaster[T]) Add(fn func(T)) string {
	id := uuid.New().String()
	b.subs.Set(id, &subscriber[T]{fn: fn})
	return id
}

// Activate replays the current value to subscription id and starts
// delivering changes to it. Unknown or removed ids are ignored.
func (b *Broadcaster[T]) Activate(id string) {
	sub, ok := b.subs.Get(id)
	if !ok || sub.active {
		return
	}
	sub.active = true
	b.call(sub.fn, b.Current())
}

// Subscribe adds and immediately activates fn. Only for use on the owner goroutine.
func (b *Broadcaster[T]) Subscribe(fn func(T)) string {
	id := b.Add(fn)
	b.Activate(id)
	return id
}

// Remove drops subscription id.
func (b *Broadcaster[T]) Remove(id string) {
	b.subs.Remove(id)
}

// Current returns the last published value.
func (b *Broadcaster[T]) Current() T {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.current
}

// Len returns the number of registered subscriptions.
func (b *Broadcaster[T]) Len() int {
	return b.subs.Count()
}

// Publish stores v and notifies active subscribers if v differs from the
// current value. It reports whether a change was published.
func (b *Broadcaster[T]) Publish(v T) bool {
	b.mu.Lock()
	if b.equal != nil && b.equal(b.current, v) {
		b.mu.Unlock()
		return false
	}
	b.current = v
	b.mu.Unlock()

	for item := range b.subs.IterBuffered() {
		if item.Val.active {
			b.call(item.Val.fn, v)
		}
	}
	return true
}

func (b *Broadcaster[T]) call(fn func(T), v T) {
	defer func() {
		if r := recover(); r != nil && b.onPanic != nil {
			b.onPanic(r)
		}
	}()
	fn(v)
}
