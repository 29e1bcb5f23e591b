package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"hdxscraper/internal/aggregate"
	"hdxscraper/internal/config"
	apperrors "hdxscraper/internal/errors"
	"hdxscraper/internal/population"
)

// Aggregation is a unit that rolls up the merged results of another level.
type Aggregation struct {
	spec    config.AggregationSpec
	regions *RegionLookup
}

// NewAggregation builds the unit. regions is required when the spec maps by
// region.
func NewAggregation(spec config.AggregationSpec, regions *RegionLookup) *Aggregation {
	return &Aggregation{spec: spec, regions: regions}
}

// Name implements Unit
func (a *Aggregation) Name() string { return a.spec.Name }

// Levels implements Unit
func (a *Aggregation) Levels() []string { return []string{a.spec.OutputLevel} }

// Traits implements Unit
func (a *Aggregation) Traits() Traits {
	t := Traits{CanFallback: true, ReadsResults: true}
	for _, c := range a.spec.Columns {
		if strings.Contains(c.Formula, population.Tag) {
			t.ConsumesPopulation = true
		}
	}
	return t
}

// Headers implements Declared. Columns without a tag are left out.
func (a *Aggregation) Headers(string) []Header {
	var out []Header
	for _, c := range a.spec.Columns {
		name := c.Column
		if c.Rename != "" {
			name = c.Rename
		}
		h := Header{Label: name, HXLTag: c.Output}
		if a.spec.UseHXL {
			h = Header{Label: c.Output, HXLTag: name}
		}
		if h.HXLTag != "" {
			out = append(out, h)
		}
	}
	return out
}

func (a *Aggregation) mapping(in *OutputMatrix) (aggregate.Mapping, error) {
	switch {
	case len(a.spec.AdminTable) > 0:
		return aggregate.Mapping(a.spec.AdminTable), nil
	case a.spec.Mapping == config.MappingRegions:
		if a.regions == nil {
			return nil, apperrors.NewConfigError(fmt.Sprintf("aggregation %s: no region lookup loaded", a.spec.Name), nil)
		}
		return a.regions.Mapping(), nil
	case len(a.spec.Admins) > 0:
		return aggregate.ToSingle(a.spec.Admins), nil
	}
	return aggregate.ToSingle(in.Admins()), nil
}

// Produce implements Unit
func (a *Aggregation) Produce(ctx context.Context, rc *RunContext) (Output, error) {
	if rc.Results == nil {
		return nil, apperrors.NewAggregationInputMissing(a.spec.InputLevel)
	}
	in, ok := rc.Results.Level(a.spec.InputLevel)
	if !ok || in.Len() == 0 {
		return nil, apperrors.NewAggregationInputMissing(a.spec.InputLevel)
	}
	mapping, err := a.mapping(in)
	if err != nil {
		return nil, err
	}

	var pop aggregate.PopulationLookup
	if rc.Population != nil {
		pop = rc.Population
	}
	agg := aggregate.New(a.spec, mapping, pop, rc.logger())
	cols, err := agg.Run(ctx, in)
	if err != nil {
		return nil, err
	}
	matrix := &OutputMatrix{}
	for _, c := range cols {
		matrix.Add(Header{Label: c.Label, HXLTag: c.HXLTag}, c.Values)
	}
	rc.logger().InfoContext(ctx, "aggregation_produced",
		slog.String("aggregation", a.spec.Name),
		slog.String("level", a.spec.OutputLevel),
		slog.Int("columns", matrix.Len()))
	return Output{a.spec.OutputLevel: {Matrix: matrix}}, nil
}
