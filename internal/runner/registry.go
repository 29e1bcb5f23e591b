package runner

import (
	"fmt"
	"sync"

	"hdxscraper/internal/config"
	apperrors "hdxscraper/internal/errors"
	"hdxscraper/internal/scraper"
)

// Registry holds units in registration order.
type Registry struct {
	mu     sync.RWMutex
	units  map[string]scraper.Unit
	order  []string
	levels []string
}

// NewRegistry creates a registry. When levels are given, units may only
// write those levels.
func NewRegistry(levels ...string) *Registry {
	return &Registry{
		units:  make(map[string]scraper.Unit),
		levels: append([]string(nil), levels...),
	}
}

// Register adds a unit. A nil unit, an empty or duplicate name and an
// undeclared level are configuration errors.
func (r *Registry) Register(unit scraper.Unit) error {
	if unit == nil {
		return apperrors.NewConfigError("cannot register nil unit", nil)
	}
	name := unit.Name()
	if name == "" {
		return apperrors.NewConfigError("unit name cannot be empty", nil)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.units[name]; exists {
		return apperrors.NewConfigError(fmt.Sprintf("unit %s already registered", name), nil)
	}
	if len(r.levels) > 0 && !writesTable(unit) {
		for _, level := range unit.Levels() {
			if !contains(r.levels, level) {
				return apperrors.NewConfigError(fmt.Sprintf("unit %s writes undeclared level %s", name, level), nil)
			}
		}
	}
	r.units[name] = unit
	r.order = append(r.order, name)
	return nil
}

// Get retrieves a unit by name.
func (r *Registry) Get(name string) (scraper.Unit, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.units[name]
	return u, ok
}

// List returns every unit in registration order.
func (r *Registry) List() []scraper.Unit {
	r.mu.RLock()
	defer r.mu.RUnlock()
	units := make([]scraper.Unit, 0, len(r.order))
	for _, name := range r.order {
		units = append(units, r.units[name])
	}
	return units
}

// Names returns unit names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Count returns the number of units.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Levels returns the declared levels, or when none were declared every
// level written by a unit, in first-seen order.
func (r *Registry) Levels() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.levels) > 0 {
		return append([]string(nil), r.levels...)
	}
	var out []string
	for _, name := range r.order {
		if writesTable(r.units[name]) {
			continue
		}
		for _, level := range r.units[name].Levels() {
			if !contains(out, level) {
				out = append(out, level)
			}
		}
	}
	return out
}

// RegisterDocument registers every scraper of doc, then its time series,
// then its aggregations. regions may be nil when no aggregation maps by
// region.
func RegisterDocument(r *Registry, doc *config.Document, regions *scraper.RegionLookup) error {
	for _, spec := range doc.Scrapers {
		if err := r.Register(scraper.NewConfigurable(spec)); err != nil {
			return err
		}
	}
	for _, spec := range doc.TimeSeries {
		if err := r.Register(scraper.NewTimeSeries(spec)); err != nil {
			return err
		}
	}
	for _, agg := range doc.Aggregations {
		if err := r.Register(scraper.NewAggregation(agg, regions)); err != nil {
			return err
		}
	}
	return nil
}

func writesTable(u scraper.Unit) bool {
	tw, ok := u.(scraper.TableWriter)
	return ok && tw.WritesTable()
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
