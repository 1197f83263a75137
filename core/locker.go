package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

const defaultLockTTL = 5 * time.Minute

type LockHandle interface {
	Unlock(ctx context.Context) error
}

// ConnectionLocker serializes work on a single connection.
type ConnectionLocker interface {
	Acquire(ctx context.Context, connectionID string, ttl time.Duration) (LockHandle, error)
}

type memoryLock struct {
	until    time.Time
	released chan struct{}
}

// MemoryConnectionLocker blocks until the connection is free, the held lock
// outlives its ttl, or ctx is done.
type MemoryConnectionLocker struct {
	mu    sync.Mutex
	locks map[string]*memoryLock
	nowFn func() time.Time
}

func NewMemoryConnectionLocker() *MemoryConnectionLocker {
	return &MemoryConnectionLocker{
		locks: make(map[string]*memoryLock),
		nowFn: func() time.Time { return time.Now().UTC() },
	}
}

func (l *MemoryConnectionLocker) Acquire(ctx context.Context, connectionID string, ttl time.Duration) (LockHandle, error) {
	if l == nil {
		return nil, fmt.Errorf("core: connection locker is not configured")
	}
	connectionID = strings.TrimSpace(connectionID)
	if connectionID == "" {
		return nil, fmt.Errorf("core: connection id is required for lock acquisition")
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}

	for {
		now := l.nowFn()
		l.mu.Lock()
		held, ok := l.locks[connectionID]
		if !ok || !now.Before(held.until) {
			lock := &memoryLock{until: now.Add(ttl), released: make(chan struct{})}
			l.locks[connectionID] = lock
			l.mu.Unlock()
			return &memoryLockHandle{locker: l, connectionID: connectionID, lock: lock}, nil
		}
		l.mu.Unlock()

		wait := held.until.Sub(now)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-held.released:
		case <-timer.C:
		}
		timer.Stop()
	}
}

type memoryLockHandle struct {
	locker       *MemoryConnectionLocker
	connectionID string
	lock         *memoryLock
	once         sync.Once
}

func (h *memoryLockHandle) Unlock(_ context.Context) error {
	if h == nil || h.locker == nil {
		return nil
	}
	h.once.Do(func() {
		h.locker.mu.Lock()
		if current, ok := h.locker.locks[h.connectionID]; ok && current == h.lock {
			delete(h.locker.locks, h.connectionID)
		}
		h.locker.mu.Unlock()
		close(h.lock.released)
	})
	return nil
}

var _ ConnectionLocker = (*MemoryConnectionLocker)(nil)
