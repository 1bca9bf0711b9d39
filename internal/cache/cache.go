package cache

import (
	"fmt"
	"log"
)

// Config holds configuration options for the cache
type Config struct {
	Policy  Policy
	Verbose bool
}

// Cache is the single entry point to cached responses. Reads and writes go
// through it so every write passes the cacheability policy.
type Cache struct {
	backend Backend
	policy  Policy
	verbose bool
}

// New creates a cache over backend with the default policy
func New(backend Backend) *Cache {
	return NewWithConfig(backend, &Config{Policy: DefaultPolicy()})
}

// NewWithConfig creates a cache over backend with configuration
func NewWithConfig(backend Backend, config *Config) *Cache {
	if config == nil {
		config = &Config{Policy: DefaultPolicy()}
	}

	if config.Verbose {
		log.Printf("Cache initialized with verbose logging enabled (max entry size %d bytes)", config.Policy.MaxEntrySize)
	}

	return &Cache{
		backend: backend,
		policy:  config.Policy,
		verbose: config.Verbose,
	}
}

// Open returns the store for generation. It is idempotent.
func (c *Cache) Open(generation string) (Store, error) {
	store, err := c.backend.Open(generation)
	if err != nil {
		return nil, err
	}
	if c.verbose {
		log.Printf("Cache: opened generation %s", generation)
	}
	return store, nil
}

// Get returns the entry cached under key, or nil.
func (c *Cache) Get(store Store, key Key) (*Entry, error) {
	entry, err := store.Get(key)
	if err != nil {
		return nil, err
	}
	if c.verbose {
		if entry != nil {
			log.Printf("Cache: hit %s in %s", key, store.Generation())
		} else {
			log.Printf("Cache: miss %s in %s", key, store.Generation())
		}
	}
	return entry, nil
}

// Admit applies the cacheability policy without writing.
func (c *Cache) Admit(key Key, entry *Entry) error {
	return c.policy.Check(key, entry)
}

// Put stores entry under key. An entry rejected by the policy is logged and
// skipped; only backend failures are returned.
func (c *Cache) Put(store Store, key Key, entry *Entry) error {
	if err := c.policy.Check(key, entry); err != nil {
		if c.verbose {
			log.Printf("Cache: skipped write - %v", err)
		}
		return nil
	}
	if err := store.Put(key, entry); err != nil {
		return fmt.Errorf("failed to store %s in %s: %w", key, store.Generation(), err)
	}
	if c.verbose {
		log.Printf("Cache: stored %s in %s (%d bytes)", key, store.Generation(), len(entry.Body))
	}
	return nil
}

// DeleteGeneration removes a whole generation. Only the lifecycle manager
// calls it.
func (c *Cache) DeleteGeneration(generation string) error {
	if err := c.backend.DeleteGeneration(generation); err != nil {
		return err
	}
	if c.verbose {
		log.Printf("Cache: deleted generation %s", generation)
	}
	return nil
}

// ListGenerations returns every known generation id.
func (c *Cache) ListGenerations() ([]string, error) {
	return c.backend.ListGenerations()
}

// Stats returns entry count and size for every generation.
func (c *Cache) Stats() (map[string]Stats, error) {
	generations, err := c.backend.ListGenerations()
	if err != nil {
		return nil, err
	}

	stats := make(map[string]Stats, len(generations))
	for _, generation := range generations {
		store, err := c.backend.Open(generation)
		if err != nil {
			return nil, err
		}
		s, err := store.Stats()
		if err != nil {
			return nil, err
		}
		stats[generation] = s
	}
	return stats, nil
}

// Close closes the backend
func (c *Cache) Close() error {
	return c.backend.Close()
}
