package chord

import (
	"context"
	"sync"
)

// FairMutex is a mutual exclusion lock granted in arrival order. Unlock
// hands the lock directly to the oldest waiter, so a goroutine that keeps
// calling Lock can never overtake one that is already queued.
//
// The zero value is an unlocked mutex. It is not reentrant.
type FairMutex struct {
	mu      sync.Mutex
	locked  bool
	waiters []chan struct{}
}

// Lock blocks until the lock is granted.
func (m *FairMutex) Lock() {
	_ = m.LockContext(context.Background())
}

// LockContext blocks until the lock is granted or ctx is done. The lock is
// held only when the returned error is nil.
func (m *FairMutex) LockContext(ctx context.Context) error {
	m.mu.Lock()
	if !m.locked {
		m.locked = true
		m.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	m.waiters = append(m.waiters, ch)
	m.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
	}

	m.mu.Lock()
	for i, w := range m.waiters {
		if w == ch {
			m.waiters = append(m.waiters[:i], m.waiters[i+1:]...)
			m.mu.Unlock()
			return ctx.Err()
		}
	}
	m.mu.Unlock()

	// the lock was handed over while ctx expired, pass it on
	m.Unlock()
	return ctx.Err()
}

// TryLock acquires the lock only if it is free and nobody is queued.
func (m *FairMutex) TryLock() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locked {
		return false
	}
	m.locked = true
	return true
}

// Unlock releases the lock, handing it to the oldest waiter if any.
func (m *FairMutex) Unlock() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.locked {
		panic("chord: unlock of unlocked FairMutex")
	}
	if len(m.waiters) == 0 {
		m.locked = false
		return
	}
	next := m.waiters[0]
	m.waiters[0] = nil
	m.waiters = m.waiters[1:]
	close(next)
}
