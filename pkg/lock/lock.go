// Package lock serialises sync runs. The HTTP trigger and the scheduler take
// the same lock, so at most one run is in flight per process, or per
// deployment when Redis is configured.
package lock

import (
	"context"
	"sync"
)

// Release gives the lock back. It is safe to call more than once.
type Release func()

// Locker hands out a single run slot
type Locker interface {
	// TryLock returns ok=false without blocking when the slot is taken
	TryLock(ctx context.Context) (release Release, ok bool, err error)
}

// Local is an in-process lock
type Local struct {
	mu   sync.Mutex
	held bool
}

// NewLocal returns an unlocked Local
func NewLocal() *Local {
	return &Local{}
}

func (l *Local) TryLock(context.Context) (Release, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held {
		return nil, false, nil
	}
	l.held = true
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			l.held = false
			l.mu.Unlock()
		})
	}, true, nil
}

// Held reports whether a run currently holds the lock
func (l *Local) Held() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held
}
