package node

import (
	"fmt"
	"sort"
	"sync"
)

// Storage maps (storageName, variableName) to a value for one thread.
type Storage interface {
	Put(storageName, variableName string, value any) error
	Get(storageName, variableName string) (any, bool)
}

// MemoryStorage is the in-process Storage for one hosted thread. Each thread
// owns its own instance; instances are never shared between threads.
type MemoryStorage struct {
	mu     sync.RWMutex
	thread ThreadID
	vars   map[string]map[string]any
}

var _ Storage = (*MemoryStorage)(nil)

func NewMemoryStorage(thread ThreadID) *MemoryStorage {
	return &MemoryStorage{thread: thread, vars: make(map[string]map[string]any)}
}

func (s *MemoryStorage) Thread() ThreadID {
	return s.thread
}

func (s *MemoryStorage) Put(storageName, variableName string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	vars, ok := s.vars[storageName]
	if !ok {
		vars = make(map[string]any)
		s.vars[storageName] = vars
	}
	vars[variableName] = value
	return nil
}

func (s *MemoryStorage) Get(storageName, variableName string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.vars[storageName][variableName]
	return v, ok
}

// StorageSet resolves the storage of every thread hosted on this node.
type StorageSet struct {
	mu      sync.RWMutex
	threads map[ThreadID]*MemoryStorage
}

func NewStorageSet(threads ...ThreadID) *StorageSet {
	s := &StorageSet{threads: make(map[ThreadID]*MemoryStorage, len(threads))}
	for _, t := range threads {
		s.threads[t] = NewMemoryStorage(t)
	}
	return s
}

// Host adds a thread, returning its existing storage if already hosted.
func (s *StorageSet) Host(thread ThreadID) *MemoryStorage {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.threads[thread]; ok {
		return st
	}
	st := NewMemoryStorage(thread)
	s.threads[thread] = st
	return st
}

func (s *StorageSet) Storage(thread ThreadID) (Storage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.threads[thread]
	if !ok {
		return nil, fmt.Errorf("%w: thread %d not hosted here", ErrUnknownThread, thread)
	}
	return st, nil
}

func (s *StorageSet) Threads() []ThreadID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ThreadID, 0, len(s.threads))
	for t := range s.threads {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
