package lifecycle

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/Jake-Mok-Nelson/offline-cache/internal/cache"
)

// Slot holds the manager currently serving requests. A reload installs a
// new manager beside the old one and swaps it in once active.
type Slot struct {
	current atomic.Pointer[Manager]
}

// NewSlot creates a slot holding m.
func NewSlot(m *Manager) *Slot {
	s := &Slot{}
	s.current.Store(m)
	return s
}

// Manager returns the manager in the slot.
func (s *Slot) Manager() *Manager {
	return s.current.Load()
}

// Swap installs m and returns the previous manager.
func (s *Slot) Swap(m *Manager) *Manager {
	return s.current.Swap(m)
}

// Current returns the active store of the manager in the slot.
func (s *Slot) Current() (cache.Store, bool) {
	m := s.current.Load()
	if m == nil {
		return nil, false
	}
	return m.Current()
}

// Upgrade installs next, makes it active, swaps it into the slot and
// supersedes the manager it replaced. Stale generations are deleted only
// after the slot routes to next.
func (s *Slot) Upgrade(ctx context.Context, next *Manager) (*InstallReport, *ActivateReport, error) {
	installed, err := next.Install(ctx)
	if err != nil {
		return installed, nil, fmt.Errorf("failed to install %s: %w", next.Generation(), err)
	}

	next.transition.Lock()
	defer next.transition.Unlock()

	if err := next.claim(); err != nil {
		return installed, nil, fmt.Errorf("failed to activate %s: %w", next.Generation(), err)
	}

	var supersedeErr error
	if previous := s.Swap(next); previous != nil && previous != next {
		supersedeErr = previous.Supersede()
	}

	activated, err := next.collect()
	if err != nil {
		return installed, nil, fmt.Errorf("failed to activate %s: %w", next.Generation(), err)
	}
	return installed, activated, supersedeErr
}
