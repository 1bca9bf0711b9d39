// Package proxy serves the offline cache as an HTTP reverse proxy in front
// of the origin, with control endpoints under ControlPrefix.
package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/jmgilman/go/errors"

	"github.com/Jake-Mok-Nelson/offline-cache/internal/connectivity"
	"github.com/Jake-Mok-Nelson/offline-cache/internal/lifecycle"
	"github.com/Jake-Mok-Nelson/offline-cache/internal/network"
	"github.com/Jake-Mok-Nelson/offline-cache/internal/report"
	"github.com/Jake-Mok-Nelson/offline-cache/internal/router"
	"github.com/Jake-Mok-Nelson/offline-cache/internal/strategy"
	"github.com/Jake-Mok-Nelson/offline-cache/internal/syncqueue"
)

// ControlPrefix is reserved for control endpoints and never forwarded.
const ControlPrefix = "/__offline-cache/"

// Response headers describing how a request was answered.
const (
	HeaderSource = "X-Cache-Source"
	HeaderRoute  = "X-Cache-Route"
)

// MaxMutationBody bounds request bodies held for replay.
const MaxMutationBody = 1 << 20

// hopHeaders are connection-scoped and never forwarded.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Config holds configuration options for the proxy server
type Config struct {
	Origin    *url.URL
	APIPrefix string
	Verbose   bool
}

// Deps are the components the proxy serves through.
type Deps struct {
	Router   *router.Router
	Slot     *lifecycle.Slot
	Queue    *syncqueue.Queue
	Monitor  *connectivity.Monitor
	Fetcher  network.Fetcher
	Reporter report.Reporter
}

// Server is the offline cache HTTP front end.
type Server struct {
	origin    *url.URL
	apiPrefix string
	verbose   bool

	router   *router.Router
	slot     *lifecycle.Slot
	queue    *syncqueue.Queue
	monitor  *connectivity.Monitor
	fetcher  network.Fetcher
	reporter report.Reporter

	control http.Handler
	drains  sync.WaitGroup
}

// New creates a proxy server. A reconnect reported by the monitor drains
// the sync queue in the background.
func New(config *Config, deps Deps) *Server {
	if config == nil {
		config = &Config{}
	}
	s := &Server{
		origin:    config.Origin,
		apiPrefix: config.APIPrefix,
		verbose:   config.Verbose,
		router:    deps.Router,
		slot:      deps.Slot,
		queue:     deps.Queue,
		monitor:   deps.Monitor,
		fetcher:   deps.Fetcher,
		reporter:  deps.Reporter,
	}
	if s.apiPrefix == "" {
		s.apiPrefix = router.DefaultAPIPrefix
	}
	if s.reporter == nil {
		s.reporter = report.Discard{}
	}
	s.control = s.routes()

	if s.monitor != nil {
		s.monitor.OnReconnect(s.drainInBackground)
	}

	if config.Verbose {
		log.Printf("Proxy initialized for origin %s", s.origin)
	}
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if strings.HasPrefix(r.URL.Path, ControlPrefix) {
		s.control.ServeHTTP(w, r)
		return
	}

	if r.URL.IsAbs() && !s.router.Allows(r.URL) {
		err := errors.Newf(errors.CodeForbidden, "target %s is not an allowed origin", r.URL.Host)
		writeError(w, http.StatusForbidden, errors.WithContext(err, "host", r.URL.Host))
		return
	}

	// Only mutations that may be queued are buffered; the rest stream.
	var body []byte
	buffered := s.buffers(r)
	if buffered {
		var err error
		body, err = io.ReadAll(io.LimitReader(r.Body, MaxMutationBody+1))
		if err != nil {
			writeError(w, http.StatusBadRequest, errors.Wrap(err, errors.CodeInvalidInput, "failed to read request body"))
			return
		}
		if len(body) > MaxMutationBody {
			writeError(w, http.StatusRequestEntityTooLarge, errors.Newf(errors.CodeInvalidInput, "request body exceeds %d bytes", MaxMutationBody))
			return
		}
	}

	out, err := s.outbound(r, body, buffered)
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.Wrap(err, errors.CodeInvalidInput, "failed to build upstream request"))
		return
	}

	route, result := s.router.Handle(r.Context(), out)
	s.observe(r.Context(), result)

	if route == router.RouteBypass && result.Response == nil && s.queueable(out, result.Err) {
		s.enqueue(w, out, body)
		return
	}
	if result.Response == nil {
		writeError(w, http.StatusBadGateway, result.Err)
		return
	}

	writeResponse(w, result.Response, route, result.Source)
}

// outbound rewrites r onto the origin. Absolute-form requests keep their
// target, which ServeHTTP has already checked against the allowed origins.
// GET and HEAD drop Accept-Encoding so the transport negotiates compression
// itself and hands back decoded bodies for the cache.
func (s *Server) outbound(r *http.Request, body []byte, buffered bool) (*http.Request, error) {
	target := r.URL
	if !r.URL.IsAbs() {
		if s.origin == nil {
			return nil, fmt.Errorf("no origin configured for %s", r.URL)
		}
		target = s.origin.ResolveReference(&url.URL{
			Path:     r.URL.Path,
			RawPath:  r.URL.RawPath,
			RawQuery: r.URL.RawQuery,
		})
	}

	var reader io.Reader
	switch {
	case buffered && len(body) > 0:
		reader = bytes.NewReader(body)
	case !buffered && r.Body != nil && r.Body != http.NoBody:
		reader = r.Body
	}
	out, err := http.NewRequestWithContext(r.Context(), r.Method, target.String(), reader)
	if err != nil {
		return nil, err
	}
	if !buffered && reader != nil {
		out.ContentLength = r.ContentLength
	}
	out.Header = r.Header.Clone()
	removeHopHeaders(out.Header)
	if r.Method == http.MethodGet || r.Method == http.MethodHead {
		out.Header.Del("Accept-Encoding")
	}
	return out, nil
}

// buffers reports whether r is a mutation under the API prefix, the only
// kind of request that can be queued for replay.
func (s *Server) buffers(r *http.Request) bool {
	return s.queue != nil &&
		r.Method != http.MethodGet &&
		r.Method != http.MethodHead &&
		strings.HasPrefix(r.URL.Path, s.apiPrefix)
}

// observe feeds request outcomes to the connectivity monitor.
func (s *Server) observe(ctx context.Context, result strategy.Result) {
	if s.monitor == nil {
		return
	}
	switch {
	case report.IsNetworkUnavailable(result.Err):
		s.monitor.ReportFailure()
	case result.Err == nil && result.Source == strategy.SourceNetwork:
		s.monitor.ReportSuccess(ctx)
	}
}

func (s *Server) queueable(req *http.Request, err error) bool {
	return s.buffers(req) && report.IsNetworkUnavailable(err)
}

// queuedResponse acknowledges a mutation held for replay.
type queuedResponse struct {
	Queued bool   `json:"queued"`
	ID     string `json:"id"`
}

func (s *Server) enqueue(w http.ResponseWriter, req *http.Request, body []byte) {
	header := req.Header.Clone()
	m := syncqueue.NewMutation(syncqueue.Payload{
		Method: req.Method,
		URL:    req.URL.String(),
		Header: header,
		Body:   body,
	})
	if dropped, err := s.queue.Enqueue(m); err != nil && s.verbose {
		log.Printf("Proxy: queued %s, dropped %s - %v", m.ID, dropped.ID, err)
	}

	writeJSON(w, http.StatusAccepted, queuedResponse{Queued: true, ID: m.ID})
}

// Drain replays the sync queue now.
func (s *Server) Drain(ctx context.Context) (*syncqueue.DrainReport, error) {
	if s.queue == nil {
		return &syncqueue.DrainReport{}, nil
	}
	return s.queue.Drain(ctx, s)
}

func (s *Server) drainInBackground(ctx context.Context) {
	s.drains.Add(1)
	go func() {
		defer s.drains.Done()
		result, err := s.Drain(context.WithoutCancel(ctx))
		if err != nil {
			log.Printf("Warning: sync drain stopped - %v", err)
			return
		}
		if s.verbose || len(result.Discarded) > 0 {
			log.Printf("Proxy: sync drain replayed %d, discarded %d, %d remaining", len(result.Replayed), len(result.Discarded), result.Remaining)
		}
	}()
}

// Wait blocks until background drains have finished.
func (s *Server) Wait() {
	s.drains.Wait()
}

func writeResponse(w http.ResponseWriter, resp *network.Response, route router.Route, source strategy.Source) {
	header := w.Header()
	for k, values := range resp.Header {
		header[k] = append([]string(nil), values...)
	}
	removeHopHeaders(header)
	header.Set("Content-Length", strconv.Itoa(len(resp.Body)))
	header.Set(HeaderRoute, string(route))
	if source != "" {
		header.Set(HeaderSource, string(source))
	}
	w.WriteHeader(resp.Status)
	w.Write(resp.Body)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Warning: failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	if err == nil {
		err = errors.New(errors.CodeInternal, "no response")
	}
	writeJSON(w, status, errors.ToJSON(err))
}

func removeHopHeaders(h http.Header) {
	for _, v := range h.Values("Connection") {
		for _, name := range strings.Split(v, ",") {
			h.Del(strings.TrimSpace(name))
		}
	}
	for _, name := range hopHeaders {
		h.Del(name)
	}
}
