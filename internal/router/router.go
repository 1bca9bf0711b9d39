// Package router classifies intercepted requests and dispatches each to the
// caching strategy registered for its route.
package router

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Jake-Mok-Nelson/offline-cache/internal/cache"
	"github.com/Jake-Mok-Nelson/offline-cache/internal/network"
	"github.com/Jake-Mok-Nelson/offline-cache/internal/report"
	"github.com/Jake-Mok-Nelson/offline-cache/internal/strategy"
)

// Route is the classification of an intercepted request.
type Route string

const (
	RouteNavigation  Route = "navigation"
	RouteStaticAsset Route = "static-asset"
	RouteAPI         Route = "api"
	// RouteCrossOrigin requests go straight to the network.
	RouteCrossOrigin Route = "cross-origin-excluded"
	// RouteBypass covers non-GET requests, which are never cached.
	RouteBypass Route = "bypass"
)

// DefaultAPIPrefix marks API requests when no prefix is configured.
const DefaultAPIPrefix = "/api/"

const tracerName = "github.com/Jake-Mok-Nelson/offline-cache/internal/router"

// Controller exposes the store of the active generation. The boolean is
// false until a generation is active, and the router passes everything
// through until then.
type Controller interface {
	Current() (cache.Store, bool)
}

// Config holds configuration options for the router
type Config struct {
	Origin         *url.URL
	AllowedOrigins []string
	APIPrefix      string
	// TracerProvider defaults to the global provider.
	TracerProvider trace.TracerProvider
	Verbose        bool
}

// Router dispatches requests to strategies.
type Router struct {
	origin     string
	allowed    map[string]bool
	apiPrefix  string
	controller Controller
	fetcher    network.Fetcher
	reporter   report.Reporter
	strategies map[Route]strategy.Strategy
	tracer     trace.Tracer
	verbose    bool
}

// New creates a router. Strategies are added with Register.
func New(config *Config, controller Controller, fetcher network.Fetcher, reporter report.Reporter) *Router {
	if config == nil {
		config = &Config{}
	}
	if reporter == nil {
		reporter = report.Discard{}
	}

	r := &Router{
		allowed:    make(map[string]bool),
		apiPrefix:  config.APIPrefix,
		controller: controller,
		fetcher:    fetcher,
		reporter:   reporter,
		strategies: make(map[Route]strategy.Strategy),
		verbose:    config.Verbose,
	}
	tp := config.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	r.tracer = tp.Tracer(tracerName)
	if r.apiPrefix == "" {
		r.apiPrefix = DefaultAPIPrefix
	}
	if config.Origin != nil {
		r.origin = originOf(config.Origin)
		r.allowed[r.origin] = true
	}
	for _, raw := range config.AllowedOrigins {
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" {
			log.Printf("Warning: ignoring invalid allowed origin %q", raw)
			continue
		}
		r.allowed[originOf(u)] = true
	}

	if config.Verbose {
		log.Printf("Router initialized for origin %s (api prefix %s, %d allowed origins)", r.origin, r.apiPrefix, len(r.allowed))
	}
	return r
}

// Register assigns the strategy used for route.
func (r *Router) Register(route Route, s strategy.Strategy) {
	r.strategies[route] = s
}

// Strategy returns the strategy registered for route.
func (r *Router) Strategy(route Route) (strategy.Strategy, bool) {
	s, ok := r.strategies[route]
	return s, ok
}

// Classify assigns a route to req. The API prefix is checked before the
// navigation headers so JSON fetches of API paths are never navigations.
func (r *Router) Classify(req *http.Request) Route {
	if req.Method != http.MethodGet {
		return RouteBypass
	}
	scheme := strings.ToLower(req.URL.Scheme)
	if scheme != "http" && scheme != "https" {
		return RouteCrossOrigin
	}
	if !r.allowed[originOf(req.URL)] {
		return RouteCrossOrigin
	}
	if strings.HasPrefix(req.URL.Path, r.apiPrefix) {
		return RouteAPI
	}
	if req.Header.Get("Sec-Fetch-Mode") == "navigate" || strings.Contains(req.Header.Get("Accept"), "text/html") {
		return RouteNavigation
	}
	return RouteStaticAsset
}

// Handle routes req and returns the strategy result. req.URL must be
// absolute. Bypassed, excluded and pre-activation requests go straight to
// the network.
func (r *Router) Handle(ctx context.Context, req *http.Request) (Route, strategy.Result) {
	route := r.Classify(req)

	ctx, span := r.tracer.Start(ctx, "offline-cache.route",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("http.request.method", req.Method),
			attribute.String("url.full", req.URL.String()),
			attribute.String("offline_cache.route", string(route)),
		),
	)
	defer span.End()

	result := r.dispatch(ctx, req, route)

	span.SetAttributes(
		attribute.String("offline_cache.source", string(result.Source)),
		attribute.String("offline_cache.outcome", string(result.Outcome)),
	)
	if result.Response != nil {
		span.SetAttributes(attribute.Int("http.response.status_code", result.Response.Status))
	}
	if result.Err != nil {
		span.RecordError(result.Err)
	}
	if result.Outcome == report.OutcomeFatal {
		span.SetStatus(codes.Error, "no response")
	}

	r.reporter.Report(report.Event{
		Operation: "fetch",
		Subject:   req.Method + " " + req.URL.String(),
		Outcome:   result.Outcome,
		Err:       result.Err,
	})

	if r.verbose {
		log.Printf("Router: %s %s -> %s via %s (%s)", req.Method, req.URL, route, result.Source, result.Outcome)
	}
	return route, result
}

func (r *Router) dispatch(ctx context.Context, req *http.Request, route Route) strategy.Result {
	if route == RouteBypass || route == RouteCrossOrigin {
		return r.passThrough(ctx, req)
	}

	store, active := r.controller.Current()
	if !active {
		return r.passThrough(ctx, req)
	}

	s, ok := r.strategies[route]
	if !ok {
		return r.passThrough(ctx, req)
	}

	return s.Execute(ctx, &strategy.Request{
		HTTP:  req,
		Key:   cache.NewKey(req.Method, req.URL),
		Store: store,
	})
}

func (r *Router) passThrough(ctx context.Context, req *http.Request) strategy.Result {
	resp, err := r.fetcher.Fetch(ctx, req)
	if err != nil {
		return strategy.Result{Outcome: report.OutcomeFatal, Err: err}
	}
	return strategy.Result{Response: resp, Source: strategy.SourceNetwork, Outcome: report.OutcomeSuccess}
}

// Allows reports whether u belongs to the origin or an allowed origin.
func (r *Router) Allows(u *url.URL) bool {
	return r.allowed[originOf(u)]
}

// originOf renders scheme://host with default ports removed.
func originOf(u *url.URL) string {
	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Host)
	switch {
	case scheme == "http" && strings.HasSuffix(host, ":80"):
		host = strings.TrimSuffix(host, ":80")
	case scheme == "https" && strings.HasSuffix(host, ":443"):
		host = strings.TrimSuffix(host, ":443")
	}
	return fmt.Sprintf("%s://%s", scheme, host)
}
