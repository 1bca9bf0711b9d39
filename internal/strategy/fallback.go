package strategy

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/Jake-Mok-Nelson/offline-cache/internal/cache"
	"github.com/Jake-Mok-Nelson/offline-cache/internal/network"
)

// OfflinePage is served to navigations when nothing better is cached.
const OfflinePage = `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Offline</title></head>
<body><h1>You are offline</h1><p>This page is not available without a connection.</p></body>
</html>
`

// OfflineError is the body of a synthesized API response.
type OfflineError struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// NavigationFallback serves the cached offline document (typically the app
// shell at "/") and otherwise the built-in offline page.
func NavigationFallback(entries Entries, offlineDocument *cache.Key) Fallback {
	return func(ctx context.Context, req *Request) *network.Response {
		if offlineDocument != nil && req.Store != nil {
			if entry, err := entries.Get(req.Store, *offlineDocument); err == nil && entry != nil {
				return fromEntry(entry)
			}
		}
		return &network.Response{
			Status: http.StatusOK,
			Header: http.Header{"Content-Type": []string{"text/html; charset=utf-8"}},
			Body:   []byte(OfflinePage),
		}
	}
}

// APIFallback answers API calls with a 503 JSON error object.
func APIFallback(now func() time.Time) Fallback {
	if now == nil {
		now = time.Now
	}
	return func(ctx context.Context, req *Request) *network.Response {
		body, _ := json.Marshal(OfflineError{
			Error:     "Offline mode",
			Message:   "Network unavailable and no cached data",
			Timestamp: now().UTC().Format(time.RFC3339),
		})
		return &network.Response{
			Status: http.StatusServiceUnavailable,
			Header: http.Header{"Content-Type": []string{"application/json"}},
			Body:   body,
		}
	}
}

// StaticFallback returns an empty stylesheet or script for CSS and JS so
// pages degrade without console errors, and a 503 for everything else.
func StaticFallback() Fallback {
	return func(ctx context.Context, req *Request) *network.Response {
		name := path.Base(req.HTTP.URL.Path)
		switch strings.ToLower(path.Ext(name)) {
		case ".css":
			return &network.Response{
				Status: http.StatusOK,
				Header: http.Header{"Content-Type": []string{"text/css"}},
				Body:   []byte(fmt.Sprintf("/* Offline - unable to load %s */\n", name)),
			}
		case ".js", ".mjs":
			return &network.Response{
				Status: http.StatusOK,
				Header: http.Header{"Content-Type": []string{"application/javascript"}},
				Body:   []byte(fmt.Sprintf("/* Offline - unable to load %s */\n", name)),
			}
		}
		return &network.Response{
			Status: http.StatusServiceUnavailable,
			Header: http.Header{"Content-Type": []string{"text/plain; charset=utf-8"}},
			Body:   []byte("Offline\n"),
		}
	}
}
