// Package scraper defines scraper units and the output they produce. A unit
// reads its sources, resolves admins and emits one output matrix per level
// plus the provenance of each column.
package scraper

import (
	"context"
	"log/slog"
	"time"

	"hdxscraper/internal/admin"
	"hdxscraper/internal/population"
	"hdxscraper/internal/reader"
	"hdxscraper/internal/sources"
)

// Traits describe how a unit interacts with the rest of a run.
type Traits struct {
	// ProducesPopulation units write the population registry.
	ProducesPopulation bool
	// ConsumesPopulation units read the population registry.
	ConsumesPopulation bool
	// CanFallback allows cached results to stand in when the unit fails.
	CanFallback bool
	// ReadsResults units consume the output of earlier units.
	ReadsResults bool
}

// Independent reports whether the unit may run alongside others.
func (t Traits) Independent() bool {
	return !t.ProducesPopulation && !t.ConsumesPopulation && !t.ReadsResults
}

// LevelOutput is what a unit produced for one level.
type LevelOutput struct {
	Matrix *OutputMatrix
	// Table holds the rows of units that are not keyed by admin.
	Table   *Table
	Sources []sources.Record
	// Rows is the number of source rows the output was computed from.
	Rows int
}

// Output maps level names to what a unit produced for them.
type Output map[string]*LevelOutput

// ResultView exposes the merged results of the units that already ran.
type ResultView interface {
	Level(level string) (*OutputMatrix, bool)
}

// RunContext carries the run scoped collaborators handed to every unit.
type RunContext struct {
	Today      time.Time
	Countries  []string
	Reader     reader.Reader
	Matcher    admin.Matcher
	Population *population.Registry
	Catalog    sources.Catalog
	DateFormat sources.DateFormat
	Results    ResultView
	Logger     *slog.Logger
}

func (rc *RunContext) logger() *slog.Logger {
	if rc.Logger == nil {
		return slog.Default()
	}
	return rc.Logger
}

// Unit is one scraper.
type Unit interface {
	Name() string
	// Levels lists the result levels the unit writes.
	Levels() []string
	Traits() Traits
	Produce(ctx context.Context, rc *RunContext) (Output, error)
}

// Declared is implemented by units that know their output headers before
// running. Cached results can only stand in for such units.
type Declared interface {
	Headers(level string) []Header
}

// TableWriter is implemented by units whose output is a table named after
// the unit rather than the columns of an admin level.
type TableWriter interface {
	WritesTable() bool
}

// SourceOverwriter is implemented by units whose source records replace
// records already collected for the same tag.
type SourceOverwriter interface {
	OverwriteSources() *bool
}

// Func adapts a function to Unit, for scrapers written in code.
type Func struct {
	UnitName   string
	UnitLevels []string
	UnitTraits Traits
	// UnitHeaders, when set, declares the output of every level.
	UnitHeaders []Header
	Fn         func(ctx context.Context, rc *RunContext) (Output, error)
}

// Name implements Unit
func (f *Func) Name() string { return f.UnitName }

// Levels implements Unit
func (f *Func) Levels() []string { return f.UnitLevels }

// Traits implements Unit
func (f *Func) Traits() Traits { return f.UnitTraits }

// Headers implements Declared
func (f *Func) Headers(string) []Header { return f.UnitHeaders }

// Produce implements Unit
func (f *Func) Produce(ctx context.Context, rc *RunContext) (Output, error) {
	return f.Fn(ctx, rc)
}
