// Package connectivity tracks whether the origin is reachable and signals
// reconnects.
package connectivity

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/Jake-Mok-Nelson/offline-cache/internal/network"
)

// DefaultInterval is the probe period when none is configured.
const DefaultInterval = 15 * time.Second

// Prober fetches a URL.
type Prober interface {
	Get(ctx context.Context, url string) (*network.Response, error)
}

// Config holds configuration options for the monitor
type Config struct {
	// ProbeURL is fetched on every tick. Any HTTP response counts as online.
	ProbeURL string
	Interval time.Duration
	Verbose  bool
}

// Monitor probes the origin and calls its reconnect handlers on every
// offline to online transition. It starts out online.
type Monitor struct {
	prober   Prober
	probeURL string
	interval time.Duration
	verbose  bool

	mu          sync.Mutex
	online      bool
	lastChange  time.Time
	onReconnect []func(context.Context)
}

// Status is a snapshot of the monitor.
type Status struct {
	Online     bool      `json:"online"`
	LastChange time.Time `json:"last_change"`
}

// New creates a monitor
func New(prober Prober, config *Config) *Monitor {
	if config == nil {
		config = &Config{}
	}
	interval := config.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}

	if config.Verbose {
		log.Printf("Connectivity monitor initialized (probe %s every %s)", config.ProbeURL, interval)
	}

	return &Monitor{
		prober:     prober,
		probeURL:   config.ProbeURL,
		interval:   interval,
		verbose:    config.Verbose,
		online:     true,
		lastChange: time.Now(),
	}
}

// OnReconnect registers fn to run after each reconnect. Handlers run
// sequentially on the goroutine that observed the transition.
func (m *Monitor) OnReconnect(fn func(context.Context)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onReconnect = append(m.onReconnect, fn)
}

// Online reports the last observed state.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Status returns the current state and when it last changed.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{Online: m.online, LastChange: m.lastChange}
}

// ReportFailure marks the origin unreachable ahead of the next probe.
func (m *Monitor) ReportFailure() {
	m.set(context.Background(), false)
}

// ReportSuccess marks the origin reachable, firing reconnect handlers if it
// was offline.
func (m *Monitor) ReportSuccess(ctx context.Context) {
	m.set(ctx, true)
}

// Probe fetches the probe URL once and records the result.
func (m *Monitor) Probe(ctx context.Context) bool {
	_, err := m.prober.Get(ctx, m.probeURL)
	online := err == nil
	if err != nil && m.verbose {
		log.Printf("Connectivity: probe of %s failed - %v", m.probeURL, err)
	}
	m.set(ctx, online)
	return online
}

// Run probes on every tick until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	t := time.NewTicker(m.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.Probe(ctx)
		}
	}
}

func (m *Monitor) set(ctx context.Context, online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	m.lastChange = time.Now()
	handlers := append([]func(context.Context){}, m.onReconnect...)
	m.mu.Unlock()

	if !online {
		log.Printf("Connectivity: origin unreachable, serving from cache")
		return
	}
	log.Printf("Connectivity: origin reachable again")
	for _, fn := range handlers {
		fn(ctx)
	}
}
