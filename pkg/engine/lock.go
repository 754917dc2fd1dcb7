package engine

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// LocalLock is a ModelLock for a single process.
type LocalLock struct {
	sem *semaphore.Weighted
}

// NewLocalLock creates an unlocked LocalLock.
func NewLocalLock() *LocalLock {
	return &LocalLock{sem: semaphore.NewWeighted(1)}
}

// Lock blocks until the lock is acquired or ctx is done.
func (l *LocalLock) Lock(ctx context.Context) error {
	return l.sem.Acquire(ctx, 1)
}

// TryLock acquires the lock without blocking.
func (l *LocalLock) TryLock() bool {
	return l.sem.TryAcquire(1)
}

// Unlock releases the lock. It panics if the lock is not held.
func (l *LocalLock) Unlock() {
	l.sem.Release(1)
}
