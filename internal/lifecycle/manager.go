package lifecycle

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Jake-Mok-Nelson/offline-cache/internal/cache"
	"github.com/Jake-Mok-Nelson/offline-cache/internal/network"
	"github.com/Jake-Mok-Nelson/offline-cache/internal/report"
)

// DefaultConcurrency bounds parallel manifest fetches during install.
const DefaultConcurrency = 6

// Config holds configuration options for the lifecycle manager
type Config struct {
	AppName     string
	Version     string
	Origin      *url.URL
	Manifest    []string
	Concurrency int
	Verbose     bool
}

// Manager drives one cache generation through its lifecycle. It is the only
// component that deletes generations.
type Manager struct {
	cache      *cache.Cache
	fetcher    network.Fetcher
	reporter   report.Reporter
	config     Config
	generation string

	// transition serializes lifecycle operations.
	transition sync.Mutex

	mu          sync.RWMutex
	state       State
	store       cache.Store
	controlling bool
	skipWaiting bool
}

// AssetFailure is a manifest entry that could not be precached.
type AssetFailure struct {
	URL string `json:"url"`
	Err error  `json:"-"`
}

// InstallReport summarizes a precache run.
type InstallReport struct {
	Generation string         `json:"generation"`
	Cached     []string       `json:"cached"`
	Failed     []AssetFailure `json:"failed"`
	Duration   time.Duration  `json:"duration"`
}

// GenerationFailure is a stale generation that could not be deleted.
type GenerationFailure struct {
	Generation string `json:"generation"`
	Err        error  `json:"-"`
}

// ActivateReport summarizes an activation.
type ActivateReport struct {
	Generation string              `json:"generation"`
	Deleted    []string            `json:"deleted"`
	Failed     []GenerationFailure `json:"failed"`
}

// NewManager creates a lifecycle manager in the installing state
func NewManager(c *cache.Cache, fetcher network.Fetcher, reporter report.Reporter, config *Config) *Manager {
	if config == nil {
		config = &Config{}
	}
	cfg := *config
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if reporter == nil {
		reporter = report.Discard{}
	}

	generation := cache.GenerationID(cfg.AppName, cfg.Version)
	if cfg.Verbose {
		log.Printf("Lifecycle manager initialized for generation %s (%d manifest assets)", generation, len(cfg.Manifest))
	}

	return &Manager{
		cache:      c,
		fetcher:    fetcher,
		reporter:   reporter,
		config:     cfg,
		generation: generation,
		state:      StateInstalling,
	}
}

// Generation returns the generation id this manager owns.
func (m *Manager) Generation() string {
	return m.generation
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Controlling reports whether the manager has claimed clients.
func (m *Manager) Controlling() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.controlling
}

// Current returns the store requests are served from. The boolean is false
// until the generation is active.
func (m *Manager) Current() (cache.Store, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state != StateActive || !m.controlling {
		return nil, false
	}
	return m.store, true
}

func (m *Manager) setState(state State) {
	m.mu.Lock()
	m.state = state
	m.controlling = state == StateActive
	m.mu.Unlock()
}

// Install opens the generation store and precaches every manifest asset.
// Failures are per asset: the install report lists them and installation
// still moves to waiting.
func (m *Manager) Install(ctx context.Context) (*InstallReport, error) {
	m.transition.Lock()
	defer m.transition.Unlock()

	if state := m.State(); state != StateInstalling {
		return nil, illegalTransition("install", state)
	}

	start := time.Now()
	store, err := m.cache.Open(m.generation)
	if err != nil {
		return nil, fmt.Errorf("failed to open generation %s: %w", m.generation, err)
	}

	if m.config.Verbose {
		log.Printf("Install: precaching %d assets into %s", len(m.config.Manifest), m.generation)
	}

	errs := make([]error, len(m.config.Manifest))
	var g errgroup.Group
	g.SetLimit(m.config.Concurrency)
	for i, raw := range m.config.Manifest {
		g.Go(func() error {
			errs[i] = m.precache(ctx, store, raw)
			return nil
		})
	}
	g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("install of %s interrupted: %w", m.generation, err)
	}

	result := &InstallReport{Generation: m.generation}
	for i, raw := range m.config.Manifest {
		if errs[i] != nil {
			log.Printf("Warning: %v", errs[i])
			m.reporter.Report(report.Event{Operation: "precache", Subject: raw, Outcome: report.OutcomeRecoverable, Err: errs[i]})
			result.Failed = append(result.Failed, AssetFailure{URL: raw, Err: errs[i]})
			continue
		}
		m.reporter.Report(report.Event{Operation: "precache", Subject: raw, Outcome: report.OutcomeSuccess})
		result.Cached = append(result.Cached, raw)
	}
	result.Duration = time.Since(start)

	m.mu.Lock()
	m.store = store
	m.mu.Unlock()
	m.setState(StateWaiting)

	if m.config.Verbose {
		log.Printf("Install: %s waiting, %d cached, %d failed in %s", m.generation, len(result.Cached), len(result.Failed), result.Duration)
	}

	if m.skipWaitingRequested() {
		if _, err := m.activate(ctx); err != nil {
			return result, err
		}
	}
	return result, nil
}

// precache fetches and stores one manifest asset.
func (m *Manager) precache(ctx context.Context, store cache.Store, raw string) error {
	target, err := m.resolve(raw)
	if err != nil {
		return report.PrecacheAssetFailure(raw, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return report.PrecacheAssetFailure(raw, err)
	}
	resp, err := m.fetcher.Fetch(ctx, req)
	if err != nil {
		return report.PrecacheAssetFailure(raw, err)
	}
	if resp.Status != http.StatusOK {
		return report.PrecacheAssetFailure(raw, fmt.Errorf("unexpected status %d", resp.Status))
	}

	key := cache.NewKey(http.MethodGet, target)
	entry := &cache.Entry{
		Status:   resp.Status,
		Header:   resp.Header,
		Body:     resp.Body,
		StoredAt: time.Now(),
	}
	if err := m.cache.Admit(key, entry); err != nil {
		return report.PrecacheAssetFailure(raw, err)
	}
	if err := m.cache.Put(store, key, entry); err != nil {
		return report.PrecacheAssetFailure(raw, err)
	}

	if m.config.Verbose {
		log.Printf("Install: cached %s (%d bytes)", key, len(entry.Body))
	}
	return nil
}

// resolve turns a manifest entry into an absolute URL. Relative entries are
// resolved against the origin.
func (m *Manager) resolve(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid manifest URL: %w", err)
	}
	if u.IsAbs() {
		return u, nil
	}
	if m.config.Origin == nil {
		return nil, fmt.Errorf("relative manifest URL %q without an origin", raw)
	}
	return m.config.Origin.ResolveReference(u), nil
}

// Resume adopts a generation that is already present in the backend, as
// after a restart over a persistent store. It reports false when the
// generation must be installed.
func (m *Manager) Resume(ctx context.Context) (bool, error) {
	m.transition.Lock()
	defer m.transition.Unlock()

	if state := m.State(); state != StateInstalling {
		return false, illegalTransition("resume", state)
	}

	generations, err := m.cache.ListGenerations()
	if err != nil {
		return false, fmt.Errorf("failed to list generations: %w", err)
	}
	found := false
	for _, generation := range generations {
		if generation == m.generation {
			found = true
			break
		}
	}
	if !found {
		return false, nil
	}

	store, err := m.cache.Open(m.generation)
	if err != nil {
		return false, fmt.Errorf("failed to open generation %s: %w", m.generation, err)
	}
	m.mu.Lock()
	m.store = store
	m.mu.Unlock()
	m.setState(StateWaiting)

	if m.config.Verbose {
		log.Printf("Install: resumed existing generation %s", m.generation)
	}
	return true, nil
}

// SkipWaiting forces a waiting generation to activate immediately. Sent
// during install it takes effect as soon as installation finishes.
func (m *Manager) SkipWaiting(ctx context.Context) (*ActivateReport, error) {
	m.mu.Lock()
	m.skipWaiting = true
	m.mu.Unlock()

	m.transition.Lock()
	defer m.transition.Unlock()

	switch state := m.State(); state {
	case StateInstalling:
		return nil, nil
	case StateWaiting, StateActive:
		return m.activate(ctx)
	default:
		return nil, illegalTransition("skip waiting", state)
	}
}

func (m *Manager) skipWaitingRequested() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.skipWaiting
}

// Activate deletes every generation other than this one and starts
// serving. Deletions finish before Activate returns. Activating an active
// generation is a no-op apart from retrying leftover deletions.
func (m *Manager) Activate(ctx context.Context) (*ActivateReport, error) {
	m.transition.Lock()
	defer m.transition.Unlock()

	return m.activate(ctx)
}

func (m *Manager) activate(ctx context.Context) (*ActivateReport, error) {
	if err := m.claim(); err != nil {
		return nil, err
	}
	return m.collect()
}

// claim makes the generation active and controlling without touching
// other generations.
func (m *Manager) claim() error {
	state := m.State()
	if state != StateWaiting && state != StateActive {
		return illegalTransition("activate", state)
	}
	m.setState(StateActive)
	m.reporter.Report(report.Event{Operation: "activate", Subject: m.generation, Outcome: report.OutcomeSuccess})

	if m.config.Verbose && state != StateActive {
		log.Printf("Activate: %s active", m.generation)
	}
	return nil
}

// collect deletes every generation other than this one. A failed delete is
// reported and retried by the next activation.
func (m *Manager) collect() (*ActivateReport, error) {
	generations, err := m.cache.ListGenerations()
	if err != nil {
		return nil, fmt.Errorf("failed to list generations: %w", err)
	}

	result := &ActivateReport{Generation: m.generation}
	for _, generation := range generations {
		// Exact comparison: an older version activating purges newer caches.
		if generation == m.generation {
			continue
		}
		if err := m.cache.DeleteGeneration(generation); err != nil {
			failure := report.GenerationDeletionFailure(generation, err)
			log.Printf("Warning: %v", failure)
			m.reporter.Report(report.Event{Operation: "activate", Subject: generation, Outcome: report.OutcomeRecoverable, Err: failure})
			result.Failed = append(result.Failed, GenerationFailure{Generation: generation, Err: failure})
			continue
		}
		result.Deleted = append(result.Deleted, generation)
	}

	if m.config.Verbose && len(result.Deleted) > 0 {
		log.Printf("Activate: %s deleted %d stale generations", m.generation, len(result.Deleted))
	}
	return result, nil
}

// Supersede retires an installed generation after a newer one took over.
func (m *Manager) Supersede() error {
	m.transition.Lock()
	defer m.transition.Unlock()

	state := m.State()
	if state == StateSuperseded {
		return nil
	}
	if state != StateActive && state != StateWaiting {
		return illegalTransition("supersede", state)
	}
	m.setState(StateSuperseded)

	if m.config.Verbose {
		log.Printf("Lifecycle: %s superseded", m.generation)
	}
	return nil
}

// Info describes the generation this manager owns.
type Info struct {
	GenerationID string `json:"generationId"`
	EntryCount   int    `json:"entryCount"`
	Bytes        int64  `json:"bytes"`
	State        State  `json:"state"`
}

// Info returns entry count and size of the manager's generation.
func (m *Manager) Info() (*Info, error) {
	m.mu.RLock()
	store, state := m.store, m.state
	m.mu.RUnlock()

	info := &Info{GenerationID: m.generation, State: state}
	if store == nil {
		return info, nil
	}
	stats, err := store.Stats()
	if err != nil {
		return nil, fmt.Errorf("failed to read stats for %s: %w", m.generation, err)
	}
	info.EntryCount = stats.Entries
	info.Bytes = stats.Bytes
	return info, nil
}

// clear deletes the generation and reopens it empty.
func (m *Manager) clear() error {
	m.transition.Lock()
	defer m.transition.Unlock()

	if err := m.cache.DeleteGeneration(m.generation); err != nil {
		return report.GenerationDeletionFailure(m.generation, err)
	}
	store, err := m.cache.Open(m.generation)
	if err != nil {
		return fmt.Errorf("failed to reopen generation %s: %w", m.generation, err)
	}
	m.mu.Lock()
	if m.store != nil {
		m.store = store
	}
	m.mu.Unlock()

	if m.config.Verbose {
		log.Printf("Lifecycle: cleared %s", m.generation)
	}
	return nil
}
