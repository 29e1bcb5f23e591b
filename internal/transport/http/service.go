package http

import (
	"context"

	"hdxscraper/internal/runner"
	"hdxscraper/internal/scraper"
	"hdxscraper/internal/sources"
)

// Service is the read side of a runner.
type Service interface {
	Results(levels ...string) map[string]*runner.LevelResult
	Tables() map[string]*scraper.Table
	Sources() []sources.Record
	States() []runner.UnitState
}

// RunFunc starts a run and blocks until it ends.
type RunFunc func(ctx context.Context) error

var _ Service = (*runner.Runner)(nil)
