// Package router picks the bridge backend for a chain and exposes the backends' fee estimates.
//
// The routing table is immutable once published: every admin change builds a copy, bumps the
// version and swaps it in. Callers take a Snapshot at the start of an operation and keep using
// it, so configuration never changes under an in-progress bridge call.
package router

import (
	"context"
	"math/big"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"gobridgeledger/acl"
	"gobridgeledger/bridgesvc"
	"gobridgeledger/types"
)

type Entry struct {
	Config  types.ServiceConfig
	Backend bridgesvc.Backend
}

// Routable reports whether the entry may take new traffic
func (e *Entry) Routable() bool {
	return e.Config.Active && !e.Backend.Paused()
}

type Snapshot struct {
	version   uint64
	entries   []*Entry // registration order
	byID      map[string]*Entry
	preferred map[uint64]string
	defaultID string
}

func (s *Snapshot) Version() uint64 {
	return s.version
}

func (s *Snapshot) Entry(id string) (*Entry, bool) {
	e, ok := s.byID[id]
	return e, ok
}

// Select applies, in order: the chain's preferred backend if active, the active supporting
// backend with the strictly highest priority (earliest registered wins a tie), the default
// backend if it is active and supports the chain.
func (s *Snapshot) Select(chainID uint64) (*Entry, error) {
	if id, ok := s.preferred[chainID]; ok {
		if e, ok := s.byID[id]; ok && e.Routable() && e.Config.Supports(chainID) {
			return e, nil
		}
	}

	var best *Entry
	for _, e := range s.entries {
		if !e.Routable() || !e.Config.Supports(chainID) {
			continue
		}
		if best == nil || e.Config.Priority > best.Config.Priority {
			best = e
		}
	}
	if best != nil {
		return best, nil
	}

	if e, ok := s.byID[s.defaultID]; ok && e.Routable() && e.Config.Supports(chainID) {
		return e, nil
	}
	return nil, types.Errorf(types.ErrNoServiceAvailable, "chain %d", chainID)
}

func (s *Snapshot) clone() *Snapshot {
	c := &Snapshot{
		version:   s.version + 1,
		entries:   make([]*Entry, 0, len(s.entries)),
		byID:      make(map[string]*Entry, len(s.byID)),
		preferred: make(map[uint64]string, len(s.preferred)),
		defaultID: s.defaultID,
	}
	for _, e := range s.entries {
		cp := &Entry{Config: e.Config, Backend: e.Backend}
		cp.Config.SupportedChains = append([]uint64(nil), e.Config.SupportedChains...)
		c.entries = append(c.entries, cp)
		c.byID[cp.Config.ID] = cp
	}
	for k, v := range s.preferred {
		c.preferred[k] = v
	}
	return c
}

type Router struct {
	roles *acl.List
	log   *zap.SugaredLogger
	now   func() time.Time

	// writers only, readers go through current
	mu      sync.Mutex
	current atomic.Pointer[Snapshot]
	// removed backends stay reachable so operations already routed through them resolve
	retired map[string]bridgesvc.Backend
}

func New(roles *acl.List, log *zap.SugaredLogger) *Router {
	r := &Router{
		roles:   roles,
		log:     log.Named("router"),
		now:     time.Now,
		retired: make(map[string]bridgesvc.Backend),
	}
	r.current.Store(&Snapshot{
		byID:      make(map[string]*Entry),
		preferred: make(map[uint64]string),
	})
	return r
}

func (r *Router) Snapshot() *Snapshot {
	return r.current.Load()
}

func (r *Router) Select(chainID uint64) (*Entry, error) {
	return r.Snapshot().Select(chainID)
}

// EstimateFee returns the selected backend's own estimate and its id
func (r *Router) EstimateFee(ctx context.Context, chainID uint64, gasBudget uint64, payload []byte) (*big.Int, string, error) {
	e, err := r.Select(chainID)
	if err != nil {
		return nil, "", err
	}
	fee, err := e.Backend.EstimateFee(ctx, chainID, gasBudget, payload)
	if err != nil {
		return nil, "", err
	}
	return fee, e.Config.ID, nil
}

// Backend finds a backend by id, including removed ones
func (r *Router) Backend(id string) (bridgesvc.Backend, bool) {
	if e, ok := r.Snapshot().Entry(id); ok {
		return e.Backend, true
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.retired[id]
	return b, ok
}

// Services lists the registered backends in registration order
func (r *Router) Services() []types.ServiceConfig {
	snap := r.Snapshot()
	out := make([]types.ServiceConfig, 0, len(snap.entries))
	for _, e := range snap.entries {
		out = append(out, e.Config)
	}
	return out
}

type Routing struct {
	Version   uint64
	Default   string
	Preferred map[uint64]string
}

func (r *Router) Routing() Routing {
	snap := r.Snapshot()
	pref := make(map[uint64]string, len(snap.preferred))
	for k, v := range snap.preferred {
		pref[k] = v
	}
	return Routing{Version: snap.version, Default: snap.defaultID, Preferred: pref}
}

// update runs f on a copy of the table and publishes it if f succeeds
func (r *Router) update(caller string, f func(s *Snapshot) error) error {
	if err := r.roles.Require(caller, acl.RoleAdmin); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	next := r.current.Load().clone()
	if err := f(next); err != nil {
		return err
	}
	r.current.Store(next)
	return nil
}

func checkSupport(b bridgesvc.Backend, chains []uint64) error {
	for _, c := range chains {
		if !b.IsChainSupported(c) {
			return types.Errorf(types.ErrChainUnsupported, "service %s cannot serve chain %d", b.ID(), c)
		}
	}
	return nil
}

// Add registers a backend. cfg.SupportedChains must all be chains the backend can serve.
func (r *Router) Add(caller string, cfg types.ServiceConfig, b bridgesvc.Backend) error {
	return r.update(caller, func(s *Snapshot) error {
		if cfg.ID == "" || cfg.ID != b.ID() {
			return types.Errorf(types.ErrInvalidRequest, "service id %q does not match backend %q", cfg.ID, b.ID())
		}
		if cfg.ServiceType != b.Type() {
			return types.Errorf(types.ErrInvalidRequest, "service %s is %s, not %s", cfg.ID, b.Type(), cfg.ServiceType)
		}
		if _, ok := s.byID[cfg.ID]; ok {
			return types.Errorf(types.ErrInvalidRequest, "service %s already registered", cfg.ID)
		}
		if err := checkSupport(b, cfg.SupportedChains); err != nil {
			return err
		}
		cfg.SupportedChains = append([]uint64(nil), cfg.SupportedChains...)
		if cfg.RegisteredAt == 0 {
			cfg.RegisteredAt = r.now().Unix()
		}
		e := &Entry{Config: cfg, Backend: b}
		s.entries = append(s.entries, e)
		s.byID[cfg.ID] = e
		delete(r.retired, cfg.ID)

		r.log.Infow("Service added", "service", cfg.ID, "type", cfg.ServiceType, "priority", cfg.Priority, "chains", cfg.SupportedChains)
		return nil
	})
}

// Update changes the mutable routing fields of a backend, nil fields are left alone
type Update struct {
	Active          *bool
	Priority        *int
	SupportedChains []uint64
}

func (r *Router) Update(caller, id string, u Update) error {
	return r.update(caller, func(s *Snapshot) error {
		e, ok := s.byID[id]
		if !ok {
			return types.Errorf(types.ErrNotFound, "service %s", id)
		}
		if u.SupportedChains != nil {
			if err := checkSupport(e.Backend, u.SupportedChains); err != nil {
				return err
			}
			next := types.ServiceConfig{SupportedChains: u.SupportedChains}
			for chain, pid := range s.preferred {
				if pid == id && !next.Supports(chain) {
					return types.Errorf(types.ErrInvalidRequest, "service %s is preferred for chain %d", id, chain)
				}
			}
			e.Config.SupportedChains = append([]uint64(nil), u.SupportedChains...)
		}
		if u.Active != nil {
			e.Config.Active = *u.Active
		}
		if u.Priority != nil {
			e.Config.Priority = *u.Priority
		}
		r.log.Infow("Service updated", "service", id, "active", e.Config.Active, "priority", e.Config.Priority, "chains", e.Config.SupportedChains)
		return nil
	})
}

// Remove takes a backend out of routing; preferences and the default pointing at it are cleared
func (r *Router) Remove(caller, id string) error {
	return r.update(caller, func(s *Snapshot) error {
		e, ok := s.byID[id]
		if !ok {
			return types.Errorf(types.ErrNotFound, "service %s", id)
		}
		delete(s.byID, id)
		for i, x := range s.entries {
			if x == e {
				s.entries = append(s.entries[:i], s.entries[i+1:]...)
				break
			}
		}
		for chain, pid := range s.preferred {
			if pid == id {
				delete(s.preferred, chain)
			}
		}
		if s.defaultID == id {
			s.defaultID = ""
		}
		r.retired[id] = e.Backend

		r.log.Infow("Service removed", "service", id)
		return nil
	})
}

// SetDefault sets the fallback backend, an empty id clears it
func (r *Router) SetDefault(caller, id string) error {
	return r.update(caller, func(s *Snapshot) error {
		if id != "" {
			if _, ok := s.byID[id]; !ok {
				return types.Errorf(types.ErrNotFound, "service %s", id)
			}
		}
		s.defaultID = id
		r.log.Infow("Default service set", "service", id)
		return nil
	})
}

// SetPreferred pins a chain to a backend that supports it, an empty id clears the preference
func (r *Router) SetPreferred(caller string, chainID uint64, id string) error {
	return r.update(caller, func(s *Snapshot) error {
		if id == "" {
			delete(s.preferred, chainID)
			return nil
		}
		e, ok := s.byID[id]
		if !ok {
			return types.Errorf(types.ErrNotFound, "service %s", id)
		}
		if !e.Config.Supports(chainID) {
			return types.Errorf(types.ErrChainUnsupported, "service %s does not support chain %d", id, chainID)
		}
		s.preferred[chainID] = id
		r.log.Infow("Preferred service set", "chain", chainID, "service", id)
		return nil
	})
}

// Chains lists every chain some registered backend declares, sorted
func (r *Router) Chains() []uint64 {
	set := make(map[uint64]struct{})
	for _, e := range r.Snapshot().entries {
		for _, c := range e.Config.SupportedChains {
			set[c] = struct{}{}
		}
	}
	out := make([]uint64, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
