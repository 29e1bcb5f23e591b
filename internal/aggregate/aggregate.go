// Package aggregate rolls the values of one admin level up into another:
// countries into regions, or everything into a single global value.
package aggregate

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"strings"

	"hdxscraper/internal/admin"
	"hdxscraper/internal/config"
	apperrors "hdxscraper/internal/errors"
	"hdxscraper/internal/expr"
	"hdxscraper/internal/population"
)

// Mapping sends each input admin to one or more output admins.
type Mapping map[string][]string

// ToSingle maps every admin to the single output key.
func ToSingle(admins []string) Mapping {
	m := make(Mapping, len(admins))
	for _, adm := range admins {
		m[adm] = []string{admin.SingleKey}
	}
	return m
}

// Column is one input or output column.
type Column struct {
	Label  string
	HXLTag string
	Values map[string]any
}

// Input gives access to the columns of the input level.
type Input interface {
	// Column finds a column by HXL tag when byTag is set, else by header.
	Column(name string, byTag bool) (Column, bool)
}

// PopulationLookup is the read side of the population registry.
type PopulationLookup interface {
	Lookup(key string) (any, bool)
}

// Aggregator computes the columns of one aggregation.
type Aggregator struct {
	Name       string
	UseHXL     bool
	Columns    []config.AggregationColumn
	Mapping    Mapping
	Population PopulationLookup
	Logger     *slog.Logger
}

// New builds an aggregator from its document spec.
func New(spec config.AggregationSpec, mapping Mapping, pop PopulationLookup, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{
		Name:       spec.Name,
		UseHXL:     spec.UseHXL,
		Columns:    spec.Columns,
		Mapping:    mapping,
		Population: pop,
		Logger:     logger.With(slog.String("aggregation", spec.Name)),
	}
}

// Run aggregates every configured column. Columns whose inputs are missing
// from the input level are skipped with an error log. Eval columns can read
// the outputs of earlier columns.
func (a *Aggregator) Run(ctx context.Context, in Input) ([]Column, error) {
	var out []Column
	for _, spec := range a.Columns {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		col, ok := a.column(ctx, spec, in, out)
		if !ok {
			continue
		}
		out = append(out, col)
	}
	return out, nil
}

func (a *Aggregator) column(ctx context.Context, spec config.AggregationColumn, in Input, siblings []Column) (Column, bool) {
	var inputs []Column
	for _, name := range spec.Inputs() {
		c, ok := in.Column(name, a.UseHXL)
		if !ok {
			continue
		}
		inputs = append(inputs, c)
	}
	if len(inputs) == 0 && spec.Action != config.ActionEval {
		a.Logger.ErrorContext(ctx, "aggregation_column_not_found",
			slog.String("column", spec.Column),
			slog.Bool("use_hxl", a.UseHXL))
		return Column{}, false
	}

	out := a.header(spec, inputs)
	collected := a.collect(inputs)
	switch spec.Action {
	case config.ActionSum, config.ActionMean:
		out.Values = a.total(ctx, out, collected, spec.Action == config.ActionMean)
	case config.ActionRange:
		out.Values = a.span(ctx, out, collected)
	case config.ActionEval:
		values, err := a.eval(ctx, spec, collected, siblings)
		if err != nil {
			a.Logger.ErrorContext(ctx, "aggregation_formula_invalid",
				slog.String("column", spec.Column),
				slog.String("error", err.Error()))
			return Column{}, false
		}
		out.Values = values
	default:
		return Column{}, false
	}
	return out, true
}

func (a *Aggregator) header(spec config.AggregationColumn, inputs []Column) Column {
	name := spec.Column
	if spec.Rename != "" {
		name = spec.Rename
	}
	if a.UseHXL {
		c := Column{HXLTag: name, Label: spec.Output}
		if c.Label == "" && len(inputs) > 0 {
			c.Label = inputs[0].Label
		}
		return c
	}
	c := Column{Label: name, HXLTag: spec.Output}
	if c.HXLTag == "" && len(inputs) > 0 {
		c.HXLTag = inputs[0].HXLTag
	}
	return c
}

// collect gathers, per output admin, one value from each input admin. When
// several input columns are given the first non-null value wins.
func (a *Aggregator) collect(inputs []Column) map[string][]any {
	out := make(map[string][]any)
	found := make(map[string]struct{})
	for _, in := range inputs {
		adms := make([]string, 0, len(in.Values))
		for adm := range in.Values {
			adms = append(adms, adm)
		}
		sort.Strings(adms)
		for _, adm := range adms {
			v := in.Values[adm]
			if v == nil {
				continue
			}
			for _, dest := range a.Mapping[adm] {
				key := dest + "|" + adm
				if _, ok := found[key]; ok {
					continue
				}
				found[key] = struct{}{}
				out[dest] = append(out[dest], v)
			}
		}
	}
	return out
}

func (a *Aggregator) missing(ctx context.Context, out Column, dest string) {
	err := apperrors.NewAggregationInputMissing(dest)
	a.Logger.DebugContext(ctx, "aggregation_input_missing",
		slog.String("column", out.Label),
		slog.String("hxltag", out.HXLTag),
		slog.String("error", err.Error()))
}

func (a *Aggregator) total(ctx context.Context, out Column, collected map[string][]any, mean bool) map[string]any {
	values := make(map[string]any, len(collected))
	for dest, list := range collected {
		var (
			isum    int64
			fsum    float64
			isFloat bool
			n       int
		)
		for _, raw := range list {
			num, ok := numeric(raw)
			if !ok {
				continue
			}
			n++
			switch x := num.(type) {
			case int64:
				isum += x
			case float64:
				fsum += x
				isFloat = true
			}
		}
		if n == 0 {
			a.missing(ctx, out, dest)
			continue
		}
		if !isFloat {
			if !mean {
				values[dest] = isum
				continue
			}
			if isum%int64(n) == 0 {
				values[dest] = isum / int64(n)
				continue
			}
			values[dest] = round4(float64(isum) / float64(n))
			continue
		}
		total := fsum + float64(isum)
		if mean {
			total /= float64(n)
		}
		values[dest] = round4(total)
	}
	return values
}

func (a *Aggregator) span(ctx context.Context, out Column, collected map[string][]any) map[string]any {
	values := make(map[string]any, len(collected))
	for dest, list := range collected {
		var lo, hi any
		var lf, hf float64
		for _, raw := range list {
			num, ok := numeric(raw)
			if !ok {
				continue
			}
			f, _ := expr.ToFloat(num)
			if lo == nil || f < lf {
				lo, lf = num, f
			}
			if hi == nil || f > hf {
				hi, hf = num, f
			}
		}
		if lo == nil {
			a.missing(ctx, out, dest)
			continue
		}
		values[dest] = formatNumber(lo) + "-" + formatNumber(hi)
	}
	return values
}

func (a *Aggregator) eval(ctx context.Context, spec config.AggregationColumn, collected map[string][]any, siblings []Column) (map[string]any, error) {
	var names []string
	for _, s := range siblings {
		names = append(names, s.Label, s.HXLTag)
	}
	prog, err := expr.Compile(spec.Formula, names...)
	if err != nil {
		return nil, err
	}

	dests := make(map[string]struct{})
	for dest := range collected {
		dests[dest] = struct{}{}
	}
	if len(dests) == 0 {
		for _, s := range siblings {
			for dest := range s.Values {
				dests[dest] = struct{}{}
			}
		}
	}

	values := make(map[string]any, len(dests))
	for dest := range dests {
		env := expr.MapEnv{}
		for _, s := range siblings {
			v := s.Values[dest]
			if s.Label != "" {
				env[s.Label] = v
			}
			if s.HXLTag != "" {
				env[s.HXLTag] = v
			}
		}
		if prog.References(population.Tag) {
			key := dest
			if spec.PopulationKey != "" {
				key = spec.PopulationKey
			}
			var pop any
			if a.Population != nil {
				pop, _ = a.Population.Lookup(key)
			}
			if pop == nil {
				a.Logger.WarnContext(ctx, "population_missing", slog.String("admin", key))
			}
			env[population.Tag] = pop
		}
		v, err := prog.Eval(env)
		if err != nil {
			a.Logger.DebugContext(ctx, "aggregation_eval_failed",
				slog.String("admin", dest),
				slog.String("error", err.Error()))
			values[dest] = nil
			continue
		}
		if f, ok := v.(float64); ok {
			v = round4(f)
		}
		values[dest] = v
	}
	return values, nil
}

// numeric converts one collected value. Strings may hold several numbers
// separated by "|" which are summed; "N/A" and empty parts are ignored.
func numeric(raw any) (any, bool) {
	s, ok := raw.(string)
	if !ok {
		return expr.ToNumber(raw)
	}
	var (
		isum    int64
		fsum    float64
		isFloat bool
		found   bool
	)
	for _, part := range strings.Split(s, "|") {
		part = strings.TrimSpace(part)
		if part == "" || part == "N/A" {
			continue
		}
		n, ok := expr.ToNumber(part)
		if !ok {
			continue
		}
		found = true
		switch x := n.(type) {
		case int64:
			isum += x
		case float64:
			fsum += x
			isFloat = true
		}
	}
	if !found {
		return nil, false
	}
	if isFloat {
		return fsum + float64(isum), true
	}
	return isum, true
}

// round4 keeps at most four decimals.
func round4(f float64) any {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	r, err := strconv.ParseFloat(expr.NumberFormat(f, 4), 64)
	if err != nil {
		return f
	}
	return expr.Normalize(r)
}

func formatNumber(v any) string {
	if f, ok := v.(float64); ok {
		return expr.NumberFormat(f, 4)
	}
	return fmt.Sprint(v)
}
