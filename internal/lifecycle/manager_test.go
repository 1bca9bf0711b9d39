package lifecycle

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/jmgilman/go/errors"

	"github.com/Jake-Mok-Nelson/offline-cache/internal/cache"
	"github.com/Jake-Mok-Nelson/offline-cache/internal/network"
	"github.com/Jake-Mok-Nelson/offline-cache/internal/report"
)

// newOrigin serves a small dashboard; any other path is a 404.
func newOrigin(t *testing.T, hits *int32) *httptest.Server {
	t.Helper()
	assets := map[string]struct{ contentType, body string }{
		"/":         {"text/html; charset=utf-8", "<html>shell</html>"},
		"/app.css":  {"text/css", "body{}"},
		"/app.js":   {"application/javascript", "init()"},
		"/old.js":   {"application/javascript", "legacy()"},
		"/logo.png": {"image/png", "png"},
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			atomic.AddInt32(hits, 1)
		}
		asset, ok := assets[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", asset.contentType)
		fmt.Fprint(w, asset.body)
	}))
	t.Cleanup(server.Close)
	return server
}

func newManager(t *testing.T, c *cache.Cache, origin string, version string, manifest ...string) (*Manager, *report.LogReporter) {
	t.Helper()
	u, err := url.Parse(origin)
	if err != nil {
		t.Fatalf("Failed to parse origin: %v", err)
	}
	reporter := report.NewLogReporter()
	m := NewManager(c, network.NewClient(), reporter, &Config{
		AppName:  "dashboard",
		Version:  version,
		Origin:   u,
		Manifest: manifest,
	})
	return m, reporter
}

func cachedAt(t *testing.T, c *cache.Cache, store cache.Store, rawURL string) *cache.Entry {
	t.Helper()
	key, err := cache.ParseKey(http.MethodGet, rawURL)
	if err != nil {
		t.Fatalf("Failed to parse key: %v", err)
	}
	entry, err := c.Get(store, key)
	if err != nil {
		t.Fatalf("Failed to read %s: %v", rawURL, err)
	}
	return entry
}

func TestInstall_PrecacheIsBestEffort(t *testing.T) {
	origin := newOrigin(t, nil)
	c := cache.New(cache.NewMemoryBackend())
	m, reporter := newManager(t, c, origin.URL, "1.0.0", "/", "/app.css", "/missing.js", origin.URL+"/app.js")

	result, err := m.Install(context.Background())
	if err != nil {
		t.Fatalf("Expected install to succeed despite a missing asset, got: %v", err)
	}

	if m.State() != StateWaiting {
		t.Errorf("Expected state waiting, got %s", m.State())
	}
	if len(result.Cached) != 3 {
		t.Errorf("Expected 3 cached assets, got %v", result.Cached)
	}
	if len(result.Failed) != 1 || result.Failed[0].URL != "/missing.js" {
		t.Fatalf("Expected /missing.js to fail, got %+v", result.Failed)
	}
	if code := errors.GetCode(result.Failed[0].Err); code != report.CodePrecacheAssetFailed {
		t.Errorf("Expected code %s, got %s", report.CodePrecacheAssetFailed, code)
	}
	if got := reporter.Stats().Codes[report.CodePrecacheAssetFailed]; got != 1 {
		t.Errorf("Expected 1 precache failure reported, got %d", got)
	}

	info, err := m.Info()
	if err != nil {
		t.Fatalf("Expected no error reading info, got: %v", err)
	}
	if info.EntryCount != 3 {
		t.Errorf("Expected 3 entries, got %d", info.EntryCount)
	}

	if _, ok := m.Current(); ok {
		t.Errorf("Expected no current store before activation")
	}
}

func TestInstall_RejectedContentTypeIsAFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		fmt.Fprint(w, "blob")
	}))
	defer server.Close()

	c := cache.New(cache.NewMemoryBackend())
	m, _ := newManager(t, c, server.URL, "1.0.0", "/download.bin")

	result, err := m.Install(context.Background())
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(result.Failed) != 1 {
		t.Fatalf("Expected 1 failure, got %+v", result.Failed)
	}
	if code := errors.GetCode(result.Failed[0].Err); code != report.CodePrecacheAssetFailed {
		t.Errorf("Expected code %s, got %s", report.CodePrecacheAssetFailed, code)
	}
	if info, _ := m.Info(); info.EntryCount != 0 {
		t.Errorf("Expected rejected asset not to be stored, got %d entries", info.EntryCount)
	}
}

func TestLifecycle_IllegalTransitions(t *testing.T) {
	origin := newOrigin(t, nil)
	c := cache.New(cache.NewMemoryBackend())
	m, _ := newManager(t, c, origin.URL, "1.0.0", "/")

	if _, err := m.Activate(context.Background()); errors.GetCode(err) != errors.CodeConflict {
		t.Errorf("Expected conflict activating before install, got %v", err)
	}
	if err := m.Supersede(); errors.GetCode(err) != errors.CodeConflict {
		t.Errorf("Expected conflict superseding before install, got %v", err)
	}

	if _, err := m.Install(context.Background()); err != nil {
		t.Fatalf("Expected install to succeed, got: %v", err)
	}
	if _, err := m.Install(context.Background()); errors.GetCode(err) != errors.CodeConflict {
		t.Errorf("Expected conflict on second install, got %v", err)
	}
}

func TestActivate_Idempotent(t *testing.T) {
	origin := newOrigin(t, nil)
	c := cache.New(cache.NewMemoryBackend())
	m, _ := newManager(t, c, origin.URL, "1.0.0", "/", "/app.css")

	if _, err := m.Install(context.Background()); err != nil {
		t.Fatalf("Expected install to succeed, got: %v", err)
	}
	first, err := m.Activate(context.Background())
	if err != nil {
		t.Fatalf("Expected activate to succeed, got: %v", err)
	}
	second, err := m.Activate(context.Background())
	if err != nil {
		t.Fatalf("Expected second activate to succeed, got: %v", err)
	}

	if len(first.Deleted) != 0 || len(second.Deleted) != 0 {
		t.Errorf("Expected nothing to delete, got %v and %v", first.Deleted, second.Deleted)
	}
	if m.State() != StateActive || !m.Controlling() {
		t.Errorf("Expected active and controlling, got %s controlling=%v", m.State(), m.Controlling())
	}

	store, ok := m.Current()
	if !ok {
		t.Fatalf("Expected a current store after activation")
	}
	if entry := cachedAt(t, c, store, origin.URL+"/app.css"); entry == nil {
		t.Errorf("Expected /app.css to survive double activation")
	}
}

func TestActivate_RemovesPreviousGeneration(t *testing.T) {
	origin := newOrigin(t, nil)
	c := cache.New(cache.NewMemoryBackend())

	v1, _ := newManager(t, c, origin.URL, "1.0.0", "/", "/app.css", "/old.js")
	if _, err := v1.Install(context.Background()); err != nil {
		t.Fatalf("Expected v1 install to succeed, got: %v", err)
	}
	if _, err := v1.Activate(context.Background()); err != nil {
		t.Fatalf("Expected v1 activate to succeed, got: %v", err)
	}

	v2, _ := newManager(t, c, origin.URL, "2.0.0", "/", "/app.css")
	if _, err := v2.Install(context.Background()); err != nil {
		t.Fatalf("Expected v2 install to succeed, got: %v", err)
	}

	// Both generations exist while v2 waits.
	generations, _ := c.ListGenerations()
	if !reflect.DeepEqual(generations, []string{"dashboard-v1.0.0", "dashboard-v2.0.0"}) {
		t.Errorf("Expected both generations while waiting, got %v", generations)
	}

	result, err := v2.Activate(context.Background())
	if err != nil {
		t.Fatalf("Expected v2 activate to succeed, got: %v", err)
	}
	if !reflect.DeepEqual(result.Deleted, []string{"dashboard-v1.0.0"}) {
		t.Errorf("Expected v1 to be deleted, got %v", result.Deleted)
	}

	generations, _ = c.ListGenerations()
	if !reflect.DeepEqual(generations, []string{"dashboard-v2.0.0"}) {
		t.Errorf("Expected only v2 to remain, got %v", generations)
	}

	store, _ := v2.Current()
	if entry := cachedAt(t, c, store, origin.URL+"/old.js"); entry != nil {
		t.Errorf("Expected v1-only asset to be absent from v2")
	}
	if entry := cachedAt(t, c, store, origin.URL+"/app.css"); entry == nil {
		t.Errorf("Expected shared asset to be precached in v2")
	}
}

func TestActivate_DowngradePurgesNewerGeneration(t *testing.T) {
	origin := newOrigin(t, nil)
	c := cache.New(cache.NewMemoryBackend())

	for _, version := range []string{"2.0.0", "1.0.0"} {
		m, _ := newManager(t, c, origin.URL, version, "/")
		if _, err := m.Install(context.Background()); err != nil {
			t.Fatalf("Expected install of %s to succeed, got: %v", version, err)
		}
		if _, err := m.Activate(context.Background()); err != nil {
			t.Fatalf("Expected activate of %s to succeed, got: %v", version, err)
		}
	}

	generations, _ := c.ListGenerations()
	if !reflect.DeepEqual(generations, []string{"dashboard-v1.0.0"}) {
		t.Errorf("Expected only the downgraded generation, got %v", generations)
	}
}

func TestSkipWaiting(t *testing.T) {
	origin := newOrigin(t, nil)

	t.Run("while waiting", func(t *testing.T) {
		c := cache.New(cache.NewMemoryBackend())
		m, _ := newManager(t, c, origin.URL, "1.0.0", "/")
		if _, err := m.Install(context.Background()); err != nil {
			t.Fatalf("Expected install to succeed, got: %v", err)
		}
		if _, err := m.SkipWaiting(context.Background()); err != nil {
			t.Fatalf("Expected skip waiting to succeed, got: %v", err)
		}
		if m.State() != StateActive {
			t.Errorf("Expected active, got %s", m.State())
		}
	})

	t.Run("before install", func(t *testing.T) {
		c := cache.New(cache.NewMemoryBackend())
		m, _ := newManager(t, c, origin.URL, "1.0.0", "/")
		if _, err := m.SkipWaiting(context.Background()); err != nil {
			t.Fatalf("Expected skip waiting to be accepted, got: %v", err)
		}
		if m.State() != StateInstalling {
			t.Errorf("Expected still installing, got %s", m.State())
		}
		if _, err := m.Install(context.Background()); err != nil {
			t.Fatalf("Expected install to succeed, got: %v", err)
		}
		if m.State() != StateActive {
			t.Errorf("Expected install to activate immediately, got %s", m.State())
		}
	})
}

func TestResume_AdoptsExistingGeneration(t *testing.T) {
	var hits int32
	origin := newOrigin(t, &hits)
	c := cache.New(cache.NewMemoryBackend())

	first, _ := newManager(t, c, origin.URL, "1.0.0", "/", "/app.css")
	if _, err := first.Install(context.Background()); err != nil {
		t.Fatalf("Expected install to succeed, got: %v", err)
	}
	fetched := atomic.LoadInt32(&hits)

	second, _ := newManager(t, c, origin.URL, "1.0.0", "/", "/app.css")
	resumed, err := second.Resume(context.Background())
	if err != nil {
		t.Fatalf("Expected resume to succeed, got: %v", err)
	}
	if !resumed {
		t.Fatalf("Expected existing generation to be resumed")
	}
	if second.State() != StateWaiting {
		t.Errorf("Expected waiting, got %s", second.State())
	}
	if atomic.LoadInt32(&hits) != fetched {
		t.Errorf("Expected resume not to fetch, got %d extra requests", atomic.LoadInt32(&hits)-fetched)
	}

	fresh, _ := newManager(t, c, origin.URL, "2.0.0", "/")
	resumed, err = fresh.Resume(context.Background())
	if err != nil || resumed {
		t.Errorf("Expected unknown generation not to resume, got %v %v", resumed, err)
	}
}

func TestSlot_Upgrade(t *testing.T) {
	origin := newOrigin(t, nil)
	c := cache.New(cache.NewMemoryBackend())

	v1, _ := newManager(t, c, origin.URL, "1.0.0", "/", "/old.js")
	slot := NewSlot(v1)
	if _, err := v1.Install(context.Background()); err != nil {
		t.Fatalf("Expected install to succeed, got: %v", err)
	}
	if _, err := v1.Activate(context.Background()); err != nil {
		t.Fatalf("Expected activate to succeed, got: %v", err)
	}

	v2, _ := newManager(t, c, origin.URL, "2.0.0", "/")
	_, activated, err := slot.Upgrade(context.Background(), v2)
	if err != nil {
		t.Fatalf("Expected upgrade to succeed, got: %v", err)
	}
	if !reflect.DeepEqual(activated.Deleted, []string{"dashboard-v1.0.0"}) {
		t.Errorf("Expected v1 deleted, got %v", activated.Deleted)
	}
	if v1.State() != StateSuperseded {
		t.Errorf("Expected v1 superseded, got %s", v1.State())
	}
	if slot.Manager() != v2 {
		t.Errorf("Expected slot to hold v2")
	}
	store, ok := slot.Current()
	if !ok || store.Generation() != "dashboard-v2.0.0" {
		t.Errorf("Expected v2 store to be current, got %v %v", store, ok)
	}
}

// routingBackend records every generation deleted while the slot still
// routes requests to it.
type routingBackend struct {
	*cache.MemoryBackend
	slot *Slot

	mu      sync.Mutex
	inUse   []string
	deleted []string
}

func (b *routingBackend) DeleteGeneration(generation string) error {
	b.mu.Lock()
	if store, ok := b.currentStore(); ok && store.Generation() == generation {
		b.inUse = append(b.inUse, generation)
	}
	b.deleted = append(b.deleted, generation)
	b.mu.Unlock()
	return b.MemoryBackend.DeleteGeneration(generation)
}

func (b *routingBackend) currentStore() (cache.Store, bool) {
	if b.slot == nil {
		return nil, false
	}
	return b.slot.Current()
}

func TestSlot_UpgradeSwapsBeforeDeleting(t *testing.T) {
	origin := newOrigin(t, nil)
	backend := &routingBackend{MemoryBackend: cache.NewMemoryBackend()}
	c := cache.New(backend)

	v1, _ := newManager(t, c, origin.URL, "1.0.0", "/", "/app.css")
	if _, err := v1.Install(context.Background()); err != nil {
		t.Fatalf("Expected install to succeed, got: %v", err)
	}
	if _, err := v1.Activate(context.Background()); err != nil {
		t.Fatalf("Expected activate to succeed, got: %v", err)
	}
	backend.slot = NewSlot(v1)

	v2, _ := newManager(t, c, origin.URL, "2.0.0", "/", "/app.css")
	if _, _, err := backend.slot.Upgrade(context.Background(), v2); err != nil {
		t.Fatalf("Expected upgrade to succeed, got: %v", err)
	}

	if !reflect.DeepEqual(backend.deleted, []string{"dashboard-v1.0.0"}) {
		t.Errorf("Expected v1 to be deleted, got %v", backend.deleted)
	}
	if len(backend.inUse) != 0 {
		t.Errorf("Expected no generation deleted while routed, got %v", backend.inUse)
	}
}

// failingBackend fails DeleteGeneration while failing is set.
type failingBackend struct {
	*cache.MemoryBackend
	failing atomic.Bool
}

func (b *failingBackend) DeleteGeneration(generation string) error {
	if b.failing.Load() {
		return fmt.Errorf("disk busy")
	}
	return b.MemoryBackend.DeleteGeneration(generation)
}

func TestActivate_DeletionFailureDoesNotBlock(t *testing.T) {
	origin := newOrigin(t, nil)
	backend := &failingBackend{MemoryBackend: cache.NewMemoryBackend()}
	c := cache.New(backend)

	v1, _ := newManager(t, c, origin.URL, "1.0.0", "/")
	if _, err := v1.Install(context.Background()); err != nil {
		t.Fatalf("Expected v1 install to succeed, got: %v", err)
	}
	if _, err := v1.Activate(context.Background()); err != nil {
		t.Fatalf("Expected v1 activate to succeed, got: %v", err)
	}

	v2, reporter := newManager(t, c, origin.URL, "2.0.0", "/")
	if _, err := v2.Install(context.Background()); err != nil {
		t.Fatalf("Expected v2 install to succeed, got: %v", err)
	}

	backend.failing.Store(true)
	result, err := v2.Activate(context.Background())
	if err != nil {
		t.Fatalf("Expected activate to succeed despite deletion failure, got: %v", err)
	}
	if v2.State() != StateActive {
		t.Errorf("Expected active, got %s", v2.State())
	}
	if len(result.Failed) != 1 || result.Failed[0].Generation != "dashboard-v1.0.0" {
		t.Fatalf("Expected v1 listed as failed, got %+v", result.Failed)
	}
	if code := errors.GetCode(result.Failed[0].Err); code != report.CodeGenerationDeletionFailed {
		t.Errorf("Expected code %s, got %s", report.CodeGenerationDeletionFailed, code)
	}
	if n := reporter.Stats().Codes[report.CodeGenerationDeletionFailed]; n != 1 {
		t.Errorf("Expected 1 deletion failure reported, got %d", n)
	}

	backend.failing.Store(false)
	retry, err := v2.Activate(context.Background())
	if err != nil {
		t.Fatalf("Expected second activate to succeed, got: %v", err)
	}
	if !reflect.DeepEqual(retry.Deleted, []string{"dashboard-v1.0.0"}) {
		t.Errorf("Expected v1 deleted on retry, got %v", retry.Deleted)
	}
	generations, _ := c.ListGenerations()
	if !reflect.DeepEqual(generations, []string{"dashboard-v2.0.0"}) {
		t.Errorf("Expected only v2 to remain, got %v", generations)
	}
}
