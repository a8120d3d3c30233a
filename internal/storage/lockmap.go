package storage

import (
	"context"
	"sync"
)

// LockMap hands out one exclusive lock per upload id. Entries are created on
// first use and dropped once nobody holds or waits for them.
type LockMap struct {
	mu    sync.Mutex
	locks map[string]*idLock
}

type idLock struct {
	ch    chan struct{} // one token: held while empty
	users int
}

func NewLockMap() *LockMap {
	return &LockMap{locks: make(map[string]*idLock)}
}

// Lock blocks until the id is free or ctx is done. The returned func releases
// the lock and must be called exactly once.
func (m *LockMap) Lock(ctx context.Context, id string) (func(), error) {
	m.mu.Lock()
	l, ok := m.locks[id]
	if !ok {
		l = &idLock{ch: make(chan struct{}, 1)}
		l.ch <- struct{}{}
		m.locks[id] = l
	}
	l.users++
	m.mu.Unlock()

	select {
	case <-l.ch:
	case <-ctx.Done():
		m.release(id, l)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.ch <- struct{}{}
			m.release(id, l)
		})
	}, nil
}

func (m *LockMap) release(id string, l *idLock) {
	m.mu.Lock()
	l.users--
	if l.users == 0 {
		delete(m.locks, id)
	}
	m.mu.Unlock()
}

// Len reports how many ids currently have a lock entry.
func (m *LockMap) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}
