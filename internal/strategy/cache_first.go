package strategy

import (
	"context"

	"github.com/Jake-Mok-Nelson/offline-cache/internal/network"
)

// CacheFirst answers from the cache without touching the network; on a
// miss it fetches and stores cacheable responses.
type CacheFirst struct {
	entries  Entries
	fetcher  network.Fetcher
	fallback Fallback
	config   *Config
}

// NewCacheFirst creates a cache-first strategy
func NewCacheFirst(entries Entries, fetcher network.Fetcher, fallback Fallback, config *Config) *CacheFirst {
	return &CacheFirst{
		entries:  entries,
		fetcher:  fetcher,
		fallback: fallback,
		config:   normalizeConfig(config),
	}
}

// Name implements Strategy.
func (s *CacheFirst) Name() string { return "cache-first" }

// Execute implements Strategy.
func (s *CacheFirst) Execute(ctx context.Context, req *Request) Result {
	if entry := lookup(s.entries, req, s.config.Verbose); entry != nil {
		return served(fromEntry(entry), SourceCache, nil)
	}
	return fetchAndStore(ctx, s.entries, s.fetcher, s.fallback, req, s.config)
}

// fetchAndStore is the miss path shared by cache-first and
// stale-while-revalidate.
func fetchAndStore(ctx context.Context, entries Entries, fetcher network.Fetcher, fallback Fallback, req *Request, config *Config) Result {
	resp, err := fetcher.Fetch(ctx, req.HTTP)
	if err != nil {
		if fallback != nil {
			if resp := fallback(ctx, req); resp != nil {
				return served(resp, SourceFallback, err)
			}
		}
		return fatal(err)
	}
	store(ctx, entries, req, resp, config.now(), config.Verbose)
	return served(resp, SourceNetwork, nil)
}
