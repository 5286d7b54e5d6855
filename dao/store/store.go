package store

import (
	"context"
	"errors"
	"sync"

	"B2P/task"
)

var ErrNotFound = errors.New("store: task not found")

// StatusStore keeps the latest status per task name.
type StatusStore interface {
	SetStatus(ctx context.Context, s task.Status) error
	GetStatus(ctx context.Context, taskName string) (task.Status, error)
	StatusLister
}

// Locker serializes pipelines for the same task name. Lock blocks until the
// lock is held or ctx ends; the returned func releases it.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// MemoryStore is the single-process StatusStore.
type MemoryStore struct {
	mu       sync.RWMutex
	statuses map[string]task.Status
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{statuses: make(map[string]task.Status)}
}

func (m *MemoryStore) SetStatus(ctx context.Context, s task.Status) error {
	m.mu.Lock()
	m.statuses[s.Task] = s
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) GetStatus(ctx context.Context, taskName string) (task.Status, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.statuses[taskName]
	if !ok {
		return task.Status{}, ErrNotFound
	}
	return s, nil
}

// MemoryLocker 每个 key 一个容量为 1 的 channel 当锁用, ctx 取消时可以放弃等待
type MemoryLocker struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{locks: make(map[string]chan struct{})}
}

func (l *MemoryLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	ch, ok := l.locks[key]
	if !ok {
		ch = make(chan struct{}, 1)
		l.locks[key] = ch
	}
	l.mu.Unlock()

	select {
	case ch <- struct{}{}:
		var once sync.Once
		return func() { once.Do(func() { <-ch }) }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
