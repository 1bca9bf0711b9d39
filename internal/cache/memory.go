package cache

import (
	"sort"
	"sync"
)

// MemoryBackend keeps every generation in process memory
type MemoryBackend struct {
	generations map[string]map[string]*Entry
	mutex       sync.RWMutex
}

// NewMemoryBackend creates a new in-memory backend
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		generations: make(map[string]map[string]*Entry),
	}
}

// Open returns the store for generation, creating it if absent
func (b *MemoryBackend) Open(generation string) (Store, error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if _, exists := b.generations[generation]; !exists {
		b.generations[generation] = make(map[string]*Entry)
	}
	return &memoryStore{backend: b, generation: generation}, nil
}

// DeleteGeneration removes a generation and its entries
func (b *MemoryBackend) DeleteGeneration(generation string) error {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	delete(b.generations, generation)
	return nil
}

// ListGenerations returns all generation ids in sorted order
func (b *MemoryBackend) ListGenerations() ([]string, error) {
	b.mutex.RLock()
	defer b.mutex.RUnlock()

	out := make([]string, 0, len(b.generations))
	for generation := range b.generations {
		out = append(out, generation)
	}
	sort.Strings(out)
	return out, nil
}

// Close drops all generations
func (b *MemoryBackend) Close() error {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.generations = make(map[string]map[string]*Entry)
	return nil
}

// memoryStore is a handle onto one generation of a MemoryBackend.
type memoryStore struct {
	backend    *MemoryBackend
	generation string
}

func (s *memoryStore) Generation() string { return s.generation }

func (s *memoryStore) Get(key Key) (*Entry, error) {
	s.backend.mutex.RLock()
	defer s.backend.mutex.RUnlock()

	entries, exists := s.backend.generations[s.generation]
	if !exists {
		return nil, nil
	}
	entry, exists := entries[key.String()]
	if !exists {
		return nil, nil
	}
	return entry.Clone(), nil
}

func (s *memoryStore) Put(key Key, entry *Entry) error {
	stored := entry.Clone()

	s.backend.mutex.Lock()
	defer s.backend.mutex.Unlock()

	entries, exists := s.backend.generations[s.generation]
	if !exists {
		return ErrGenerationDeleted
	}
	entries[key.String()] = stored
	return nil
}

func (s *memoryStore) Stats() (Stats, error) {
	s.backend.mutex.RLock()
	defer s.backend.mutex.RUnlock()

	var stats Stats
	for _, entry := range s.backend.generations[s.generation] {
		stats.Entries++
		stats.Bytes += int64(len(entry.Body))
	}
	return stats, nil
}
