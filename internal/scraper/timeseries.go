package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"hdxscraper/internal/config"
	apperrors "hdxscraper/internal/errors"
	"hdxscraper/internal/expr"
	"hdxscraper/internal/reader"
	"hdxscraper/internal/selection"
	"hdxscraper/internal/sources"
)

// TimeSeries is a unit that copies dated rows into a table of its own. Each
// output row is the row's date followed by the input columns, in source
// order. It writes no admin level, so its table is reported under the unit
// name.
type TimeSeries struct {
	spec *config.TimeSeriesSpec
}

// NewTimeSeries wraps a validated spec.
func NewTimeSeries(spec *config.TimeSeriesSpec) *TimeSeries {
	return &TimeSeries{spec: spec}
}

// Name implements Unit
func (t *TimeSeries) Name() string { return t.spec.UnitName() }

// Levels implements Unit
func (t *TimeSeries) Levels() []string { return []string{t.Name()} }

// Traits implements Unit
func (t *TimeSeries) Traits() Traits { return Traits{} }

// WritesTable implements TableWriter
func (t *TimeSeries) WritesTable() bool { return true }

// Headers returns the table's columns: the date, then one per input.
func (t *TimeSeries) Headers() []Header {
	spec := t.spec
	headers := []Header{{Label: strings.Join(spec.Date, ""), HXLTag: spec.DateHXL}}
	for i, label := range spec.Output {
		h := Header{Label: label}
		if i < len(spec.OutputHXL) {
			h.HXLTag = spec.OutputHXL[i]
		}
		headers = append(headers, h)
	}
	return headers
}

// Produce implements Unit
func (t *TimeSeries) Produce(ctx context.Context, rc *RunContext) (Output, error) {
	spec := t.spec
	logger := rc.logger().With(slog.String("timeseries", spec.Name))
	if rc.Reader == nil {
		return nil, apperrors.NewConfigError("no reader configured", nil)
	}

	_, seq, err := rc.Reader.Read(ctx, reader.Source{
		Name:     t.Name(),
		URL:      spec.URL,
		Format:   spec.Format,
		Sheet:    spec.Sheet,
		Dataset:  spec.Dataset,
		Resource: spec.Resource,
		Headers:  reader.HeaderSpec{Rows: spec.Headers.Rows, Names: spec.Headers.Names},
	})
	if err != nil {
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			return nil, err
		}
		return nil, apperrors.NewSourceUnavailableError(fmt.Sprintf("time series %s", spec.Name), err)
	}
	defer seq.Close()

	kind := selection.DateKind(spec.DateType)
	table := &Table{Headers: t.Headers()}
	var latest selection.Date
	skipped := 0
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		row, ok := seq.Next()
		if !ok {
			break
		}
		date, err := selection.ParseDate(kind, t.rawDate(row))
		if err != nil {
			skipped++
			continue
		}
		if spec.IgnoresFutureDates() && date.InFuture(rc.Today) {
			continue
		}
		if date.Compare(latest) > 0 {
			latest = date
		}
		out := make([]any, 0, len(spec.Input)+1)
		out = append(out, date.String())
		for _, col := range spec.Input {
			out = append(out, row[col])
		}
		table.Rows = append(table.Rows, out)
	}
	if err := seq.Err(); err != nil {
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			return nil, err
		}
		return nil, apperrors.NewFormatError(fmt.Sprintf("time series %s", spec.Name), err)
	}
	if skipped > 0 {
		logger.WarnContext(ctx, "timeseries_dates_invalid", slog.Int("rows", skipped))
	}

	var span sources.Span
	if !latest.IsZero() {
		span = sources.SpanOf(latest.Time())
	}
	records, err := provenance(ctx, rc, spec.SourceSpec(), span, spec.OutputHXL, nil)
	if err != nil {
		return nil, err
	}
	logger.InfoContext(ctx, "timeseries_produced", slog.Int("rows", len(table.Rows)))
	return Output{t.Name(): {Table: table, Sources: records, Rows: len(table.Rows)}}, nil
}

// rawDate joins the date columns of a row when there are several.
func (t *TimeSeries) rawDate(row reader.Row) any {
	if len(t.spec.Date) == 1 {
		return row[t.spec.Date[0]]
	}
	var sb strings.Builder
	for _, col := range t.spec.Date {
		sb.WriteString(expr.Format(row[col]))
	}
	return sb.String()
}
