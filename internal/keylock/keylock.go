// Package keylock provides mutual exclusion per key: holders of different
// keys proceed in parallel, holders of the same key run one at a time.
//
// Typical use-case: serializing the lifecycle operations of one guild's
// player while other guilds are created and destroyed concurrently.
package keylock

import (
	"context"
	"sync"
)

// Locker hands out per-key locks. The zero value is not usable; call New.
type Locker[K comparable] struct {
	mu    sync.Mutex
	locks map[K]*entry
}

type entry struct {
	sem  chan struct{}
	refs int // holders plus waiters; the entry is dropped at zero
}

// New creates an empty Locker.
func New[K comparable]() *Locker[K] {
	return &Locker[K]{locks: make(map[K]*entry)}
}

// Lock blocks until key is held and returns the function releasing it.
func (l *Locker[K]) Lock(key K) (unlock func()) {
	unlock, _ = l.LockContext(context.Background(), key)
	return unlock
}

// LockContext is like Lock but gives up when ctx is done, returning the
// context error and a nil unlock function.
func (l *Locker[K]) LockContext(ctx context.Context, key K) (unlock func(), err error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	e, ok := l.locks[key]
	if !ok {
		e = &entry{sem: make(chan struct{}, 1)}
		l.locks[key] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		l.release(key, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.sem
			l.release(key, e)
		})
	}, nil
}

func (l *Locker[K]) release(key K, e *entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.locks, key)
	}
}

// Len returns the number of keys currently held or waited on.
func (l *Locker[K]) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
