package metadata

import (
	"fmt"
	"sync"
	"time"
)

// DefaultTTL applies to metrics without a registered freshness window.
const DefaultTTL = 24 * time.Hour

// MetricSpec describes one cached metric: how long an observation stays
// fresh, which service owns it, and the key its value travels under in the
// adapter's info payload.
type MetricSpec struct {
	Name     string
	TTL      time.Duration
	Service  string
	FieldKey string
}

// Registry maps metric names to their specs. Adapters register the metrics
// they own at construction; once wiring completes the registry is frozen and
// reads are lock-free by convention.
type Registry struct {
	mu      sync.Mutex
	frozen  bool
	metrics map[string]MetricSpec
}

// NewRegistry creates an empty metric registry.
func NewRegistry() *Registry {
	return &Registry{metrics: map[string]MetricSpec{}}
}

// Register adds or replaces a metric spec. Before the freeze a second
// registration of the same name overwrites the first; after the freeze the
// call panics, since late registration indicates a wiring bug.
func (r *Registry) Register(name string, ttl time.Duration, service, fieldKey string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		panic(fmt.Sprintf("metric %q registered after freeze", name))
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	r.metrics[name] = MetricSpec{Name: name, TTL: ttl, Service: service, FieldKey: fieldKey}
}

// Freeze marks wiring as complete. Idempotent.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Get returns the spec for a metric name and whether it is registered.
func (r *Registry) Get(name string) (MetricSpec, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	spec, ok := r.metrics[name]
	return spec, ok
}

// TTL returns the freshness window for a metric, falling back to the default
// for unregistered names.
func (r *Registry) TTL(name string) time.Duration {
	if spec, ok := r.Get(name); ok {
		return spec.TTL
	}
	return DefaultTTL
}

// ForService returns the specs owned by a service.
func (r *Registry) ForService(service string) []MetricSpec {
	r.mu.Lock()
	defer r.mu.Unlock()

	var specs []MetricSpec
	for _, spec := range r.metrics {
		if spec.Service == service {
			specs = append(specs, spec)
		}
	}
	return specs
}
