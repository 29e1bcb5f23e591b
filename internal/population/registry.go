// Package population holds the run scoped population lookup that earlier
// scrapers fill and later formulas read.
package population

import (
	"sort"
	"sync"

	"hdxscraper/internal/admin"
	"hdxscraper/internal/expr"
)

// Tag is the output HXL tag whose values feed the registry.
const Tag = "#population"

// Registry maps an admin key, or a named population key, to a population.
// One registry exists per run. Set overwrites, so the last producer wins.
type Registry struct {
	mu     sync.RWMutex
	values map[string]float64
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{values: make(map[string]float64)}
}

// Set stores the population for key.
func (r *Registry) Set(key string, value float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values[key] = value
}

// Get returns the population for key.
func (r *Registry) Get(key string) (float64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.values[key]
	return v, ok
}

// Lookup returns the population as an expression value, whole numbers as
// integers.
func (r *Registry) Lookup(key string) (any, bool) {
	v, ok := r.Get(key)
	if !ok {
		return nil, false
	}
	return expr.Normalize(v), true
}

// AddValues stores every numeric value of an output column. When values
// holds only the single "value" entry it is stored under fixedKey instead.
// Non-numeric values are skipped. It returns the number stored.
func (r *Registry) AddValues(values map[string]any, fixedKey string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored := 0
	for adm, raw := range values {
		n, ok := expr.ToFloat(raw)
		if !ok {
			continue
		}
		key := adm
		if fixedKey != "" && adm == admin.SingleKey && len(values) == 1 {
			key = fixedKey
		}
		r.values[key] = n
		stored++
	}
	return stored
}

// Len returns the number of keys.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.values)
}

// Keys returns the keys in sorted order.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.values))
	for k := range r.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Snapshot returns a copy of the registry contents.
func (r *Registry) Snapshot() map[string]float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]float64, len(r.values))
	for k, v := range r.values {
		out[k] = v
	}
	return out
}
