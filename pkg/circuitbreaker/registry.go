package circuitbreaker

import (
	"slices"
	"sync"
)

// Registry hands out one Breaker per key, typically a webhook host.
type Registry struct {
	cfg Config

	mu    sync.RWMutex
	byKey map[string]*Breaker
}

// NewRegistry creates a registry whose breakers all share cfg.
func NewRegistry(cfg Config) *Registry {
	return &Registry{cfg: cfg, byKey: map[string]*Breaker{}}
}

// Get returns the breaker for key. The first call for a key creates it.
func (r *Registry) Get(key string) *Breaker {
	r.mu.RLock()
	b := r.byKey[key]
	r.mu.RUnlock()
	if b != nil {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b = r.byKey[key]; b == nil {
		b = New(r.cfg)
		r.byKey[key] = b
	}
	return b
}

// Stats counts breakers by state.
type Stats struct {
	Total    int
	Open     int
	HalfOpen int
	Closed   int
}

// Stats returns a snapshot of breaker states.
func (r *Registry) Stats() Stats {
	var s Stats
	r.each(func(_ string, state State) {
		s.Total++
		switch state {
		case Open:
			s.Open++
		case HalfOpen:
			s.HalfOpen++
		default:
			s.Closed++
		}
	})
	return s
}

// OpenKeys lists the keys whose circuit is currently open, sorted.
func (r *Registry) OpenKeys() []string {
	var keys []string
	r.each(func(key string, state State) {
		if state == Open {
			keys = append(keys, key)
		}
	})
	slices.Sort(keys)
	return keys
}

func (r *Registry) each(fn func(key string, state State)) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for key, b := range r.byKey {
		fn(key, b.State())
	}
}
