package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"hdxscraper/internal/admin"
	"hdxscraper/internal/config"
	apperrors "hdxscraper/internal/errors"
	"hdxscraper/internal/reader"
	"hdxscraper/internal/selection"
	"hdxscraper/internal/sources"
)

// Configurable is a unit driven entirely by a ScraperSpec.
type Configurable struct {
	spec *config.ScraperSpec
}

// NewConfigurable wraps a validated spec.
func NewConfigurable(spec *config.ScraperSpec) *Configurable {
	return &Configurable{spec: spec}
}

// Spec returns the unit's configuration.
func (c *Configurable) Spec() *config.ScraperSpec { return c.spec }

// Name implements Unit
func (c *Configurable) Name() string { return c.spec.Name }

// Levels implements Unit
func (c *Configurable) Levels() []string { return []string{c.spec.OutputLevel()} }

// Traits implements Unit
func (c *Configurable) Traits() Traits {
	return Traits{
		ProducesPopulation: c.spec.ProducesPopulation(),
		ConsumesPopulation: c.spec.ConsumesPopulation(),
		CanFallback:        c.spec.AllowsFallback(),
	}
}

// Headers implements Declared. Scrapers that infer columns from HXL tags
// have no declared tags until they read their source.
func (c *Configurable) Headers(string) []Header {
	var out []Header
	for _, sub := range c.spec.AllSubsets() {
		for i, tag := range sub.OutputHXL {
			h := Header{HXLTag: tag}
			if i < len(sub.Output) {
				h.Label = sub.Output[i]
			}
			out = append(out, h)
		}
	}
	return out
}

// OverwriteSources implements SourceOverwriter
func (c *Configurable) OverwriteSources() *bool { return c.spec.ShouldOverwriteSources }

func (c *Configurable) source() reader.Source {
	s := c.spec
	return reader.Source{
		Name:     s.Name,
		URL:      s.URL,
		Format:   s.Format,
		Sheet:    s.Sheet,
		Dataset:  s.Dataset,
		Resource: s.Resource,
		Headers:  reader.HeaderSpec{Rows: s.Headers.Rows, Names: s.Headers.Names},
		UseHXL:   s.UseHXL,
	}
}

// Produce reads the source, selects rows and computes every output column.
func (c *Configurable) Produce(ctx context.Context, rc *RunContext) (Output, error) {
	spec := c.spec
	logger := rc.logger().With(slog.String("scraper", spec.Name))
	if rc.Reader == nil {
		return nil, apperrors.NewConfigError("no reader configured", nil)
	}

	headers, seq, err := rc.Reader.Read(ctx, c.source())
	if err != nil {
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			return nil, err
		}
		return nil, apperrors.NewSourceUnavailableError(fmt.Sprintf("scraper %s", spec.Name), err)
	}

	adminCols := [][]string(spec.Admin)
	var subsets []config.Subset
	if spec.UseHXL {
		layout := selection.InferHXL(spec, headers)
		adminCols, subsets = layout.Admin, layout.Subsets
	}

	level := spec.LevelOrDefault()
	var countries []string
	if level == config.LevelNational {
		countries = rc.Countries
	}
	resolver, err := admin.NewResolver(admin.ResolverConfig{
		Columns:   adminCols,
		Level:     config.LevelNumber(level),
		Exact:     spec.AdminExact,
		Filter:    spec.AdminFilter,
		Single:    spec.AdminSingle,
		Countries: countries,
	}, rc.Matcher, headers.Names)
	if err != nil {
		seq.Close()
		return nil, apperrors.NewConfigError(fmt.Sprintf("scraper %s", spec.Name), err)
	}

	parser, err := selection.NewParser(selection.Options{
		Spec:     spec,
		Subsets:  subsets,
		Headers:  headers,
		Resolver: resolver,
		Today:    rc.Today,
		Logger:   logger,
	})
	if err != nil {
		seq.Close()
		return nil, err
	}
	selected, err := parser.Select(ctx, seq)
	if err != nil {
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, apperrors.NewFormatError(fmt.Sprintf("scraper %s", spec.Name), err)
	}

	matrix := &OutputMatrix{}
	for _, sr := range selected.Subsets {
		cols, err := c.columns(ctx, sr, rc, logger)
		if err != nil {
			return nil, err
		}
		for i, values := range cols {
			h := Header{}
			if i < len(sr.Subset.Output) {
				h.Label = sr.Subset.Output[i]
			}
			if i < len(sr.Subset.OutputHXL) {
				h.HXLTag = sr.Subset.OutputHXL[i]
			}
			matrix.Add(h, values)
			if h.HXLTag == config.PopulationTag && rc.Population != nil {
				n := rc.Population.AddValues(values, sr.Subset.PopulationKey)
				logger.DebugContext(ctx, "population_added", slog.Int("count", n))
			}
		}
	}
	if err := matrix.Validate(); err != nil {
		return nil, err
	}

	records, err := c.records(ctx, rc, matrix, selected.MaxDate)
	if err != nil {
		return nil, err
	}
	logger.InfoContext(ctx, "scraper_produced",
		slog.String("level", spec.OutputLevel()),
		slog.Int("columns", matrix.Len()),
		slog.Int("rows_selected", selected.Stats.Selected))
	return Output{spec.OutputLevel(): {Matrix: matrix, Sources: records, Rows: selected.Stats.Selected}}, nil
}

// columns computes the output columns of one subset.
func (c *Configurable) columns(ctx context.Context, sr selection.SubsetResult, rc *RunContext, logger *slog.Logger) ([]map[string]any, error) {
	sub := sr.Subset
	switch {
	case len(sub.Process) > 0:
		return processColumns(ctx, sr, rc.Population, logger)
	case len(sub.Sum) > 0:
		return sumColumns(ctx, sr, rc.Population, logger)
	}
	out := make([]map[string]any, len(sr.Columns))
	for i, values := range sr.Columns {
		out[i] = typeColumn(values)
	}
	return out, nil
}

// records builds the provenance of every tagged column. The date is the
// latest selected row date unless the document gives one.
func (c *Configurable) records(ctx context.Context, rc *RunContext, matrix *OutputMatrix, maxDate selection.Date) ([]sources.Record, error) {
	var date sources.Span
	switch {
	case c.spec.ForceDateToday:
		date = sources.SpanOf(rc.Today)
	case !maxDate.IsZero():
		date = sources.SpanOf(maxDate.Time())
	}

	var tags []string
	var values []map[string]any
	for i, h := range matrix.Headers {
		if h.HXLTag == "" {
			continue
		}
		tags = append(tags, h.HXLTag)
		values = append(values, matrix.Values[i])
	}
	return provenance(ctx, rc, c.spec, date, tags, values)
}

// provenance fills the source, url and date of spec's records from the
// dataset metadata when the document leaves them unset.
func provenance(ctx context.Context, rc *RunContext, spec *config.ScraperSpec, date sources.Span, tags []string, values []map[string]any) ([]sources.Record, error) {
	tmpl, err := sources.NewTemplate(spec, rc.DateFormat, date)
	if err != nil {
		return nil, apperrors.NewConfigError(fmt.Sprintf("scraper %s", spec.Name), err)
	}
	if spec.Dataset != "" && rc.Catalog != nil && (tmpl.Source.Default == "" || tmpl.URL.Default == "" || tmpl.Dates.Default.IsZero()) {
		meta, err := rc.Catalog.Metadata(ctx, spec.Dataset)
		if err != nil {
			rc.logger().WarnContext(ctx, "dataset_metadata_failed",
				slog.String("scraper", spec.Name),
				slog.String("dataset", spec.Dataset),
				slog.String("error", err.Error()))
		} else {
			if tmpl.Source.Default == "" {
				tmpl.Source.Default = meta.Source
			}
			if tmpl.URL.Default == "" {
				tmpl.URL.Default = meta.URL
			}
			if tmpl.Dates.Default.IsZero() {
				tmpl.Dates.Default = meta.Span
			}
		}
	}
	if tmpl.URL.Default == "" {
		tmpl.URL.Default = spec.URL
	}
	return tmpl.Records(spec.OutputLevel(), tags, values), nil
}
