// Package strategy implements the runtime caching strategies: network-first,
// cache-first and stale-while-revalidate. Every strategy returns an explicit
// Result instead of failing; the worst case for a read is a synthesized
// offline response.
package strategy

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/Jake-Mok-Nelson/offline-cache/internal/cache"
	"github.com/Jake-Mok-Nelson/offline-cache/internal/network"
	"github.com/Jake-Mok-Nelson/offline-cache/internal/report"
)

// Source tells where a response came from.
type Source string

const (
	SourceNetwork  Source = "network"
	SourceCache    Source = "cache"
	SourceFallback Source = "fallback"
)

// Request is one intercepted fetch routed to a strategy.
type Request struct {
	HTTP  *http.Request
	Key   cache.Key
	Store cache.Store
}

// Result is the explicit outcome of a strategy run.
type Result struct {
	Response *network.Response
	Source   Source
	Outcome  report.Outcome
	Err      error
}

// Strategy answers a request from the network, the cache or a fallback.
type Strategy interface {
	Name() string
	Execute(ctx context.Context, req *Request) Result
}

// Entries is the slice of the cache abstraction strategies may use.
type Entries interface {
	Get(store cache.Store, key cache.Key) (*cache.Entry, error)
	Put(store cache.Store, key cache.Key, entry *cache.Entry) error
}

// Fallback synthesizes a response when neither network nor cache can answer.
type Fallback func(ctx context.Context, req *Request) *network.Response

// Config holds options shared by all strategies
type Config struct {
	Verbose bool
	// Now stamps stored entries and synthesized responses; defaults to time.Now.
	Now func() time.Time
}

func (c *Config) now() time.Time {
	if c == nil || c.Now == nil {
		return time.Now()
	}
	return c.Now()
}

func normalizeConfig(config *Config) *Config {
	if config == nil {
		return &Config{}
	}
	return config
}

// lookup reads the cache and treats read failures as misses.
func lookup(entries Entries, req *Request, verbose bool) *cache.Entry {
	if req.Store == nil {
		return nil
	}
	entry, err := entries.Get(req.Store, req.Key)
	if err != nil {
		if verbose {
			log.Printf("Strategy: cache read for %s failed - %v", req.Key, err)
		}
		return nil
	}
	return entry
}

// store writes resp through to the cache unless the caller has gone away.
// A cancelled write never commits.
func store(ctx context.Context, entries Entries, req *Request, resp *network.Response, now time.Time, verbose bool) {
	if req.Store == nil || ctx.Err() != nil {
		return
	}
	entry := &cache.Entry{
		Status:   resp.Status,
		Header:   resp.Header.Clone(),
		Body:     resp.Body,
		StoredAt: now,
	}
	if err := entries.Put(req.Store, req.Key, entry); err != nil && verbose {
		log.Printf("Strategy: cache write for %s failed - %v", req.Key, err)
	}
}

func fromEntry(entry *cache.Entry) *network.Response {
	return &network.Response{
		Status: entry.Status,
		Header: entry.Header.Clone(),
		Body:   entry.Body,
	}
}

func served(resp *network.Response, source Source, err error) Result {
	outcome := report.OutcomeSuccess
	if err != nil {
		outcome = report.OutcomeRecoverable
	}
	return Result{Response: resp, Source: source, Outcome: outcome, Err: err}
}

func fatal(err error) Result {
	return Result{Outcome: report.OutcomeFatal, Err: err}
}
