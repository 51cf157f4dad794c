package rabbitmq

import (
	"slices"
	"strings"
	"sync"
)

// Registry maps queue names to consumer configs. It is sealed while any
// runtime using it runs; registering the same queue twice keeps the last
// config.
type Registry struct {
	mu        sync.RWMutex
	consumers map[string]ConsumerConfig
	// seals counts the runtimes currently running from this registry.
	seals int
}

func NewRegistry() *Registry {
	return &Registry{consumers: make(map[string]ConsumerConfig)}
}

func (r *Registry) Register(cfg ConsumerConfig) error {
	if err := cfg.Validate(); err != nil {
		return &RegistrationError{Queue: cfg.Queue, Err: err}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.seals > 0 {
		return &RegistrationError{Queue: cfg.Queue, Err: ErrRegisterWhileRunning}
	}
	r.consumers[cfg.Queue] = cfg
	return nil
}

// All returns the registered configs ordered by queue name.
func (r *Registry) All() []ConsumerConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.consumers)
}

func (r *Registry) snapshotLocked() []ConsumerConfig {
	out := make([]ConsumerConfig, 0, len(r.consumers))
	for _, cfg := range r.consumers {
		out = append(out, cfg)
	}
	slices.SortFunc(out, func(a, b ConsumerConfig) int { return strings.Compare(a.Queue, b.Queue) })
	return out
}

// seal blocks further registration and returns the configs to run. An
// empty registry is left unsealed. Every successful seal must be paired with
// one unseal.
func (r *Registry) seal() []ConsumerConfig {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.consumers) == 0 {
		return nil
	}
	r.seals++
	return r.snapshotLocked()
}

// unseal releases one seal. Registration reopens once the last runtime
// sharing the registry has stopped.
func (r *Registry) unseal() {
	r.mu.Lock()
	if r.seals > 0 {
		r.seals--
	}
	r.mu.Unlock()
}
