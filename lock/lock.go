// Package lock provides named, non-blocking mutual exclusion used to keep
// two trainings of the same mode from running at once.
package lock

import (
	"context"
	"errors"
	"sync"
)

// ErrLocked is returned by TryLock when the name is already held.
var ErrLocked = errors.New("lock: already held")

// Unlock releases a lock obtained from TryLock. Calling it more than once
// is a no-op.
type Unlock func() error

// Locker hands out named locks without waiting for them.
type Locker interface {
	// TryLock acquires name or returns ErrLocked immediately.
	TryLock(ctx context.Context, name string) (Unlock, error)
}

// Local is an in-process Locker.
type Local struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewLocal returns an empty in-process Locker.
func NewLocal() *Local {
	return &Local{held: make(map[string]struct{})}
}

func (l *Local) TryLock(_ context.Context, name string) (Unlock, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[name]; ok {
		return nil, ErrLocked
	}
	l.held[name] = struct{}{}

	var once sync.Once
	return func() error {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, name)
			l.mu.Unlock()
		})
		return nil
	}, nil
}

var _ Locker = (*Local)(nil)
