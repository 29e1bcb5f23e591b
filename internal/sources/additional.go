package sources

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"hdxscraper/internal/config"
	apperrors "hdxscraper/internal/errors"
)

// DatasetMetadata is what a catalog knows about a dataset.
type DatasetMetadata struct {
	Source string
	URL    string
	Span   Span
}

// Catalog looks up dataset metadata.
type Catalog interface {
	Metadata(ctx context.Context, dataset string) (DatasetMetadata, error)
}

// Additional applies the additional_sources section of a document.
type Additional struct {
	Specs   []config.AdditionalSource
	Catalog Catalog
	Format  DateFormat
	Today   time.Time
	Logger  *slog.Logger
}

// Apply adds each additional source to the tracker. A copy whose tag is not
// yet tracked is skipped. Catalog failures skip that source and are returned
// together once every source has been tried.
func (a *Additional) Apply(ctx context.Context, tracker *Tracker) error {
	logger := a.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var errs []error
	for _, spec := range a.Specs {
		rec, ok, err := a.build(ctx, spec, tracker)
		if err != nil {
			logger.WarnContext(ctx, "additional_source_failed",
				slog.String("hxltag", spec.Indicator),
				slog.String("error", err.Error()))
			errs = append(errs, err)
			continue
		}
		if !ok {
			logger.DebugContext(ctx, "additional_source_copy_missing",
				slog.String("hxltag", spec.Indicator),
				slog.String("copy", spec.Copy))
			continue
		}
		tracker.Add(ctx, rec, spec.ShouldOverwriteSource)
	}
	return errors.Join(errs...)
}

func (a *Additional) build(ctx context.Context, spec config.AdditionalSource, tracker *Tracker) (Record, bool, error) {
	dates, err := ParseDates(spec.SourceDate)
	if err != nil {
		return Record{}, false, apperrors.NewConfigError(fmt.Sprintf("additional source %s", spec.Indicator), err)
	}
	span, _ := dates.For(spec.Indicator, true)
	if spec.ForceDateToday {
		span = SpanOf(a.Today)
	}
	source, url := spec.Source, spec.SourceURL

	if spec.Dataset != "" {
		if a.Catalog == nil {
			return Record{}, false, apperrors.NewConfigError(
				fmt.Sprintf("additional source %s names dataset %s but no catalog is configured", spec.Indicator, spec.Dataset), nil)
		}
		meta, err := a.Catalog.Metadata(ctx, spec.Dataset)
		if err != nil {
			return Record{}, false, err
		}
		if span.IsZero() {
			span = meta.Span
		}
		if source == "" {
			source = meta.Source
		}
		if url == "" {
			url = meta.URL
		}
	}

	rec := Record{HXLTag: spec.Indicator, Date: a.Format.Format(span), Source: source, URL: url}
	if spec.Copy != "" {
		orig, ok := tracker.Lookup(spec.Copy)
		if !ok {
			return Record{}, false, nil
		}
		if rec.Date == "" {
			rec.Date = orig.Date
		}
		if rec.Source == "" {
			rec.Source = orig.Source
		}
		if rec.URL == "" {
			rec.URL = orig.URL
		}
	}
	return rec, true, nil
}

// StaticCatalog serves metadata from memory.
type StaticCatalog map[string]DatasetMetadata

// Metadata implements Catalog
func (c StaticCatalog) Metadata(_ context.Context, dataset string) (DatasetMetadata, error) {
	meta, ok := c[dataset]
	if !ok {
		return DatasetMetadata{}, apperrors.NewSourceUnavailableError(fmt.Sprintf("dataset %s not in catalog", dataset), nil)
	}
	return meta, nil
}
