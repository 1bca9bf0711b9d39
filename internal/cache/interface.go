package cache

import (
	"errors"
	"net/http"
	"time"
)

// ErrGenerationDeleted is returned when writing to a store whose generation
// has been deleted.
var ErrGenerationDeleted = errors.New("cache generation deleted")

// Entry is a cached response
type Entry struct {
	Status   int         `json:"status"`
	Header   http.Header `json:"header"`
	Body     []byte      `json:"body"`
	StoredAt time.Time   `json:"stored_at"`
}

// Clone returns a deep copy of the entry.
func (e *Entry) Clone() *Entry {
	if e == nil {
		return nil
	}
	out := *e
	out.Header = e.Header.Clone()
	if e.Body != nil {
		out.Body = append([]byte(nil), e.Body...)
	}
	return &out
}

// Stats describes the contents of one store.
type Stats struct {
	Entries int   `json:"entries"`
	Bytes   int64 `json:"bytes"`
}

// Store is one named cache generation
type Store interface {
	// Generation returns the generation id this store belongs to
	Generation() string

	// Get returns the entry for key, or nil if nothing is cached
	Get(key Key) (*Entry, error)

	// Put stores entry under key, replacing any previous entry
	Put(key Key, entry *Entry) error

	// Stats returns entry count and total body size
	Stats() (Stats, error)
}

// Backend holds every cache generation
type Backend interface {
	// Open returns the store for generation, creating it if absent
	Open(generation string) (Store, error)

	// DeleteGeneration removes a generation and all of its entries
	DeleteGeneration(generation string) error

	// ListGenerations returns every known generation id, sorted
	ListGenerations() ([]string, error)

	// Close releases backend resources
	Close() error
}
