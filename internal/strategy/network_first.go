package strategy

import (
	"context"

	"github.com/Jake-Mok-Nelson/offline-cache/internal/network"
)

// NetworkFirst tries the network and falls back to the cache, then to a
// synthesized response. Used for navigations and API calls.
type NetworkFirst struct {
	entries      Entries
	fetcher      network.Fetcher
	fallback     Fallback
	writeThrough bool
	config       *Config
}

// NetworkFirstOptions configures a NetworkFirst strategy.
type NetworkFirstOptions struct {
	Fallback Fallback
	// WriteThrough stores successful network responses. API routes leave it
	// off so API responses never land in the static store.
	WriteThrough bool
}

// NewNetworkFirst creates a network-first strategy
func NewNetworkFirst(entries Entries, fetcher network.Fetcher, opts NetworkFirstOptions, config *Config) *NetworkFirst {
	return &NetworkFirst{
		entries:      entries,
		fetcher:      fetcher,
		fallback:     opts.Fallback,
		writeThrough: opts.WriteThrough,
		config:       normalizeConfig(config),
	}
}

// Name implements Strategy.
func (s *NetworkFirst) Name() string { return "network-first" }

// Execute implements Strategy.
func (s *NetworkFirst) Execute(ctx context.Context, req *Request) Result {
	resp, err := s.fetcher.Fetch(ctx, req.HTTP)
	if err == nil {
		if s.writeThrough {
			store(ctx, s.entries, req, resp, s.config.now(), s.config.Verbose)
		}
		return served(resp, SourceNetwork, nil)
	}

	if entry := lookup(s.entries, req, s.config.Verbose); entry != nil {
		return served(fromEntry(entry), SourceCache, err)
	}
	if s.fallback != nil {
		if resp := s.fallback(ctx, req); resp != nil {
			return served(resp, SourceFallback, err)
		}
	}
	return fatal(err)
}
