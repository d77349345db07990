// Package lock provides non-blocking named locks, either process-local or
// shared across processes through Redis.
package lock

import (
	"context"
	"errors"
	"sync"
)

// ErrHeld indicates the named lock is owned by someone else.
var ErrHeld = errors.New("lock held")

// Locker acquires named locks without blocking.
type Locker interface {
	// TryLock acquires key or returns ErrHeld. The returned release func
	// must be called exactly once.
	TryLock(ctx context.Context, key string) (release func(), err error)
}

type local struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewLocal returns a Locker scoped to the current process.
func NewLocal() Locker {
	return &local{held: make(map[string]struct{})}
}

func (l *local) TryLock(_ context.Context, key string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.held[key]; ok {
		return nil, ErrHeld
	}
	l.held[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
	}, nil
}
