package router

import (
	"net/http"
	"net/url"
	"time"

	"github.com/Jake-Mok-Nelson/offline-cache/internal/cache"
	"github.com/Jake-Mok-Nelson/offline-cache/internal/strategy"
)

// Static asset strategy names.
const (
	StaticCacheFirst           = "cache-first"
	StaticStaleWhileRevalidate = "stale-while-revalidate"
)

// Defaults configures the standard strategy registrations.
type Defaults struct {
	// OfflinePage is the document served to navigations that fail with
	// nothing cached. Relative to the origin.
	OfflinePage string
	// StaticStrategy is StaticCacheFirst or StaticStaleWhileRevalidate.
	StaticStrategy string
	// RevalidateTimeout bounds background refreshes.
	RevalidateTimeout time.Duration
	Strategy          *strategy.Config
}

// RegisterDefaults registers network-first for navigations and API calls
// and the configured static strategy. API responses are never written to
// the cache. The stale-while-revalidate strategy is returned when selected
// so callers can wait for background refreshes on shutdown.
func (r *Router) RegisterDefaults(entries strategy.Entries, origin *url.URL, opts Defaults) *strategy.StaleWhileRevalidate {
	var offlineKey *cache.Key
	if origin != nil && opts.OfflinePage != "" {
		if ref, err := url.Parse(opts.OfflinePage); err == nil {
			key := cache.NewKey(http.MethodGet, origin.ResolveReference(ref))
			offlineKey = &key
		}
	}

	now := time.Now
	if opts.Strategy != nil && opts.Strategy.Now != nil {
		now = opts.Strategy.Now
	}

	r.Register(RouteNavigation, strategy.NewNetworkFirst(entries, r.fetcher, strategy.NetworkFirstOptions{
		Fallback:     strategy.NavigationFallback(entries, offlineKey),
		WriteThrough: true,
	}, opts.Strategy))
	r.Register(RouteAPI, strategy.NewNetworkFirst(entries, r.fetcher, strategy.NetworkFirstOptions{
		Fallback: strategy.APIFallback(now),
	}, opts.Strategy))

	if opts.StaticStrategy == StaticStaleWhileRevalidate {
		swr := strategy.NewStaleWhileRevalidate(entries, r.fetcher, strategy.StaticFallback(), opts.RevalidateTimeout, opts.Strategy)
		r.Register(RouteStaticAsset, swr)
		return swr
	}
	r.Register(RouteStaticAsset, strategy.NewCacheFirst(entries, r.fetcher, strategy.StaticFallback(), opts.Strategy))
	return nil
}
