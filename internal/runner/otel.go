package runner

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "hdxscraper/runner"

// instruments wraps the tracer and counters used by a run.
type instruments struct {
	tracer trace.Tracer
	units  metric.Int64Counter
	rows   metric.Int64Counter
}

func newInstruments(tp trace.TracerProvider, mp metric.MeterProvider) (*instruments, error) {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(instrumentationName)

	units, err := meter.Int64Counter("units_total",
		metric.WithDescription("Scraper units run, by final status"),
		metric.WithUnit("{unit}"))
	if err != nil {
		return nil, err
	}
	rows, err := meter.Int64Counter("rows_selected_total",
		metric.WithDescription("Source rows selected by scraper units"),
		metric.WithUnit("{row}"))
	if err != nil {
		return nil, err
	}
	return &instruments{
		tracer: tp.Tracer(instrumentationName),
		units:  units,
		rows:   rows,
	}, nil
}

func (in *instruments) startUnit(ctx context.Context, name string, levels []string) (context.Context, trace.Span) {
	return in.tracer.Start(ctx, "runner.unit",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("unit.name", name),
			attribute.StringSlice("unit.levels", levels),
		),
	)
}

func (in *instruments) endUnit(ctx context.Context, span trace.Span, name string, status UnitStatus, rows int, err error) {
	span.SetAttributes(
		attribute.String("unit.status", string(status)),
		attribute.Int("unit.rows_selected", rows),
	)
	if err != nil {
		span.RecordError(err)
	}
	if status == UnitStatusFailed {
		span.SetStatus(codes.Error, "unit failed")
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()

	in.units.Add(ctx, 1, metric.WithAttributes(
		attribute.String("unit", name),
		attribute.String("status", string(status)),
	))
	if rows > 0 {
		in.rows.Add(ctx, int64(rows), metric.WithAttributes(attribute.String("unit", name)))
	}
}
