package client

import "sync"

// listeners is a registry of callbacks for one event type. The zero value
// is ready to use.
type listeners[T any] struct {
	mu      sync.Mutex
	nextID  uint64
	entries []listenerEntry[T]
}

type listenerEntry[T any] struct {
	id uint64
	fn func(T)
}

// add registers fn and returns a cleanup that removes exactly this
// registration. Calling the cleanup more than once is harmless.
func (l *listeners[T]) add(fn func(T)) func() {
	if fn == nil {
		return func() {}
	}
	l.mu.Lock()
	l.nextID++
	id := l.nextID
	l.entries = append(l.entries, listenerEntry[T]{id: id, fn: fn})
	l.mu.Unlock()

	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		for i, e := range l.entries {
			if e.id == id {
				l.entries = append(l.entries[:i:i], l.entries[i+1:]...)
				return
			}
		}
	}
}

// emit calls every registered listener in registration order. Listeners run
// without the registry lock, so they may add or remove listeners.
func (l *listeners[T]) emit(v T) {
	l.mu.Lock()
	snapshot := make([]func(T), len(l.entries))
	for i, e := range l.entries {
		snapshot[i] = e.fn
	}
	l.mu.Unlock()

	for _, fn := range snapshot {
		fn(v)
	}
}

func (l *listeners[T]) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
