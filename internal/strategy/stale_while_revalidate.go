package strategy

import (
	"context"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Jake-Mok-Nelson/offline-cache/internal/network"
)

// StaleWhileRevalidate answers from the cache immediately and refreshes the
// entry in the background. The response already handed to the caller is
// never swapped; only the stored entry changes for the next request.
type StaleWhileRevalidate struct {
	entries  Entries
	fetcher  network.Fetcher
	fallback Fallback
	timeout  time.Duration
	config   *Config

	group singleflight.Group
	wg    sync.WaitGroup
}

// NewStaleWhileRevalidate creates a stale-while-revalidate strategy.
// Background refreshes are detached from the caller and bounded by timeout.
func NewStaleWhileRevalidate(entries Entries, fetcher network.Fetcher, fallback Fallback, timeout time.Duration, config *Config) *StaleWhileRevalidate {
	if timeout <= 0 {
		timeout = network.DefaultTimeout
	}
	return &StaleWhileRevalidate{
		entries:  entries,
		fetcher:  fetcher,
		fallback: fallback,
		timeout:  timeout,
		config:   normalizeConfig(config),
	}
}

// Name implements Strategy.
func (s *StaleWhileRevalidate) Name() string { return "stale-while-revalidate" }

// Execute implements Strategy.
func (s *StaleWhileRevalidate) Execute(ctx context.Context, req *Request) Result {
	entry := lookup(s.entries, req, s.config.Verbose)
	if entry == nil {
		return fetchAndStore(ctx, s.entries, s.fetcher, s.fallback, req, s.config)
	}

	s.revalidate(ctx, req)
	return served(fromEntry(entry), SourceCache, nil)
}

// revalidate refreshes req's entry once per key at a time.
func (s *StaleWhileRevalidate) revalidate(ctx context.Context, req *Request) {
	bg := &Request{Key: req.Key, Store: req.Store}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		s.group.Do(req.Key.String(), func() (interface{}, error) {
			ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
			defer cancel()

			bg.HTTP = req.HTTP.Clone(ctx)
			resp, err := s.fetcher.Fetch(ctx, bg.HTTP)
			if err != nil {
				if s.config.Verbose {
					log.Printf("Strategy: revalidation of %s failed - %v", req.Key, err)
				}
				return nil, err
			}
			store(ctx, s.entries, bg, resp, s.config.now(), s.config.Verbose)
			return nil, nil
		})
	}()
}

// Wait blocks until every background refresh has finished.
func (s *StaleWhileRevalidate) Wait() {
	s.wg.Wait()
}
