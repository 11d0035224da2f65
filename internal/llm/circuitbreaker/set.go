package circuitbreaker

import (
	"fmt"
)

// Set holds one breaker per tier. The tier map is fixed at construction, so
// lookups need no locking; each breaker synchronizes itself.
type Set struct {
	breakers map[string]*Breaker
	order    []string
}

// NewSet builds breakers for cfgs, preserving their order. Duplicate names
// keep the first config.
func NewSet(cfgs []Config, opts ...Option) *Set {
	s := &Set{
		breakers: make(map[string]*Breaker, len(cfgs)),
		order:    make([]string, 0, len(cfgs)),
	}
	for _, cfg := range cfgs {
		if _, exists := s.breakers[cfg.Name]; exists {
			continue
		}
		s.breakers[cfg.Name] = New(cfg, opts...)
		s.order = append(s.order, cfg.Name)
	}
	return s
}

// Get returns the breaker for tier.
func (s *Set) Get(tier string) (*Breaker, bool) {
	b, ok := s.breakers[tier]
	return b, ok
}

// Names returns tier names in construction order.
func (s *Set) Names() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Status returns a snapshot of every breaker keyed by tier name.
func (s *Set) Status() map[string]Status {
	out := make(map[string]Status, len(s.breakers))
	for name, b := range s.breakers {
		out[name] = b.Snapshot()
	}
	return out
}

// Reset force-heals one tier.
func (s *Set) Reset(tier string) error {
	b, ok := s.breakers[tier]
	if !ok {
		return fmt.Errorf("%w: %s", ErrBreakerNotFound, tier)
	}
	b.Reset()
	return nil
}

// ResetAll force-heals every tier.
func (s *Set) ResetAll() {
	for _, name := range s.order {
		s.breakers[name].Reset()
	}
}
