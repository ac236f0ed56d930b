// Package keylock serialises operations that target the same entity key while
// leaving operations on distinct keys fully parallel.
package keylock

import (
	"context"
	"sync"
)

// Unlock releases a held key.
type Unlock func()

// Locker acquires exclusive access to a key.
type Locker interface {
	Lock(ctx context.Context, key string) (Unlock, error)
}

// Keys for the entities the core mutates.
func AssetKey(phoneNumber string) string { return "asset:" + phoneNumber }

func TaskKey(taskID string) string { return "task:" + taskID }

func ItemKey(taskID, itemID string) string { return "item:" + taskID + ":" + itemID }

// JobKey guards a scheduled job so only one run is active at a time.
func JobKey(slug string) string { return "job:" + slug }

type entry struct {
	ch   chan struct{}
	refs int
}

// Memory is an in-process Locker. Entries are reference counted and dropped
// once nobody holds or waits on them.
type Memory struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// NewMemory creates an in-process locker.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]*entry)}
}

// Lock blocks until key is free or ctx is done.
func (m *Memory) Lock(ctx context.Context, key string) (Unlock, error) {
	m.mu.Lock()
	e, ok := m.entries[key]
	if !ok {
		e = &entry{ch: make(chan struct{}, 1)}
		m.entries[key] = e
	}
	e.refs++
	m.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		m.release(key, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.ch
			m.release(key, e)
		})
	}, nil
}

func (m *Memory) release(key string, e *entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(m.entries, key)
	}
}

// Len returns the number of keys currently held or awaited.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
