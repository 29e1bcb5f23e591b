// Package selection turns the rows of one source into per admin values. It
// applies the row pipeline (stop row, flatten, filters, sort, admin
// resolution, dates), keeps the latest rows and accumulates input columns.
package selection

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"hdxscraper/internal/admin"
	"hdxscraper/internal/config"
	apperrors "hdxscraper/internal/errors"
	"hdxscraper/internal/expr"
	"hdxscraper/internal/reader"
)

var (
	flattenPattern  = regexp.MustCompile(`\{\{(\d+)\}\}`)
	templatePattern = regexp.MustCompile(`\{\{([^{}]+)\}\}`)
)

// Options configures a Parser.
type Options struct {
	Spec *config.ScraperSpec
	// Subsets overrides the spec's subsets, for example after HXL inference.
	Subsets  []config.Subset
	Headers  reader.Headers
	Resolver *admin.Resolver
	Today    time.Time
	Logger   *slog.Logger
}

type flattenPlan struct {
	spec   config.FlattenSpec
	prefix string
	suffix string
	start  int
}

func (f flattenPlan) column(n int) string {
	return f.prefix + strconv.Itoa(n) + f.suffix
}

type subsetPlan struct {
	config.Subset
	filter     *expr.Program
	transforms map[string]*expr.Program
	templates  map[string]*expr.Program
	append     map[string]struct{}
	keep       map[string]struct{}
	list       map[string]struct{}
	ignore     map[string]struct{}
}

// Parser selects rows for one scraper. Build one per run with NewParser.
type Parser struct {
	spec      *config.ScraperSpec
	resolver  *admin.Resolver
	names     []string
	exprs     *expr.Cache
	prefilter *expr.Program
	subsets   []*subsetPlan
	flatten   []flattenPlan
	dateKind  DateKind
	dateLevel string
	today     time.Time
	logger    *slog.Logger
}

// NewParser compiles every expression the spec declares. Compile errors are
// returned as ExpressionError.
func NewParser(opts Options) (*Parser, error) {
	if opts.Spec == nil || opts.Resolver == nil {
		return nil, apperrors.NewConfigError("selection needs a spec and an admin resolver", nil)
	}
	spec := opts.Spec
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	today := opts.Today
	if today.IsZero() {
		today = time.Now().UTC()
	}

	names := append([]string(nil), opts.Headers.Names...)
	names = append(names, opts.Headers.HXLTags...)
	names = append(names, spec.FilterCols...)
	for _, f := range spec.Flatten {
		names = append(names, f.New, f.ExtraCol)
	}

	p := &Parser{
		spec:      spec,
		resolver:  opts.Resolver,
		names:     names,
		exprs:     expr.NewCache(names...),
		dateKind:  KindDate,
		dateLevel: spec.DateLevelOrDefault(),
		today:     today,
		logger:    logger.With(slog.String("scraper", spec.Name)),
	}
	if spec.DateType != "" {
		p.dateKind = DateKind(spec.DateType)
	}

	var err error
	if spec.Prefilter != "" {
		if p.prefilter, err = p.exprs.Get(spec.Prefilter); err != nil {
			return nil, err
		}
	}
	for _, f := range spec.Flatten {
		loc := flattenPattern.FindStringSubmatchIndex(f.Original)
		if loc == nil {
			return nil, apperrors.NewConfigError(
				fmt.Sprintf("scraper %s: flatten column %q has no {{n}} counter", spec.Name, f.Original), nil)
		}
		start, _ := strconv.Atoi(f.Original[loc[2]:loc[3]])
		p.flatten = append(p.flatten, flattenPlan{
			spec:   f,
			prefix: f.Original[:loc[0]],
			suffix: f.Original[loc[1]:],
			start:  start,
		})
	}

	subsets := opts.Subsets
	if subsets == nil {
		subsets = spec.AllSubsets()
	}
	for _, sub := range subsets {
		plan, err := p.plan(sub)
		if err != nil {
			return nil, err
		}
		p.subsets = append(p.subsets, plan)
	}
	return p, nil
}

func (p *Parser) plan(sub config.Subset) (*subsetPlan, error) {
	plan := &subsetPlan{
		Subset:     sub,
		transforms: make(map[string]*expr.Program),
		templates:  make(map[string]*expr.Program),
		append:     setOf(sub.InputAppend),
		keep:       setOf(sub.InputKeep),
		list:       setOf(sub.List),
		ignore:     setOf(sub.InputIgnoreVals),
	}
	var err error
	if sub.Filter != "" {
		if plan.filter, err = p.exprs.Get(sub.Filter); err != nil {
			return nil, err
		}
	}
	for col, src := range sub.Transform {
		prog, err := expr.Compile(src, append(append([]string(nil), p.names...), col)...)
		if err != nil {
			return nil, err
		}
		plan.transforms[col] = prog
	}
	for _, col := range sub.Input {
		if !strings.Contains(col, "{{") {
			continue
		}
		src := templatePattern.ReplaceAllStringFunc(col, func(m string) string {
			return "row[" + strconv.Quote(templatePattern.FindStringSubmatch(m)[1]) + "]"
		})
		if plan.templates[col], err = p.exprs.Get(src); err != nil {
			return nil, err
		}
	}
	return plan, nil
}

func setOf(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}

// Stats counts what happened to the rows of one run.
type Stats struct {
	Read       int
	Stopped    bool
	Flattened  int
	Filtered   int
	Unresolved int
	BadDates   int
	Future     int
	Selected   int
}

// SubsetResult holds the accumulated input values of one subset. Columns is
// index-aligned with Subset.Input and maps output admin keys to a value, or
// to a []any when the column accumulates.
type SubsetResult struct {
	Subset  config.Subset
	Admins  []string
	Columns []map[string]any
	Rows    int
}

// Result is the output of Select.
type Result struct {
	Subsets []SubsetResult
	MaxDate Date
	Stats   Stats
}

type candidate struct {
	row     reader.Row
	key     admin.Key
	adm     string
	dateKey string
	date    Date
}

// Select drains seq and accumulates the selected rows.
func (p *Parser) Select(ctx context.Context, seq reader.Sequence) (*Result, error) {
	res := &Result{}
	rows, err := p.read(ctx, seq, &res.Stats)
	if err != nil {
		return nil, err
	}
	rows = p.filter(rows, &res.Stats)
	p.sortRows(rows)

	candidates := p.resolve(rows, &res.Stats)
	for _, plan := range p.subsets {
		sr, maxDate, err := p.selectSubset(plan, candidates)
		if err != nil {
			return nil, err
		}
		res.Stats.Selected += sr.Rows
		if maxDate.Compare(res.MaxDate) > 0 {
			res.MaxDate = maxDate
		}
		res.Subsets = append(res.Subsets, sr)
	}

	p.logger.DebugContext(ctx, "rows_selected",
		slog.Int("read", res.Stats.Read),
		slog.Int("selected", res.Stats.Selected),
		slog.Int("unresolved", res.Stats.Unresolved),
		slog.Int("future", res.Stats.Future),
	)
	return res, nil
}

func (p *Parser) read(ctx context.Context, seq reader.Sequence, stats *Stats) ([]reader.Row, error) {
	defer seq.Close()
	var rows []reader.Row
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		row, ok := seq.Next()
		if !ok {
			break
		}
		stats.Read++
		if p.stopAt(row) {
			stats.Stopped = true
			break
		}
		if len(p.flatten) == 0 {
			rows = append(rows, row)
			continue
		}
		flat := p.flattenRow(row)
		stats.Flattened += len(flat)
		rows = append(rows, flat...)
	}
	if err := seq.Err(); err != nil {
		return nil, err
	}
	return rows, nil
}

func (p *Parser) stopAt(row reader.Row) bool {
	if len(p.spec.StopRow) == 0 {
		return false
	}
	for col, want := range p.spec.StopRow {
		if strings.TrimSpace(expr.Format(row[col])) != want {
			return false
		}
	}
	return true
}

// flattenRow emits one row per counter value until a numbered column is
// missing.
func (p *Parser) flattenRow(row reader.Row) []reader.Row {
	var out []reader.Row
	for i := 0; ; i++ {
		flat := row.Clone()
		for _, f := range p.flatten {
			col := f.column(f.start + i)
			v, ok := row[col]
			if !ok {
				return out
			}
			flat[f.spec.New] = v
			if f.spec.ExtraCol != "" {
				flat[f.spec.ExtraCol] = col
			}
		}
		out = append(out, flat)
	}
}

func (p *Parser) filter(rows []reader.Row, stats *Stats) []reader.Row {
	kept := rows[:0]
	for _, row := range rows {
		if p.prefilter != nil {
			ok, err := p.prefilter.EvalBool(rowEnv(row))
			if err != nil {
				p.logger.Debug("prefilter_failed", slog.String("error", err.Error()))
			}
			if !ok {
				stats.Filtered++
				continue
			}
		}
		if !p.externalAllowed(row) {
			stats.Filtered++
			continue
		}
		kept = append(kept, row)
	}
	return kept
}

func (p *Parser) externalAllowed(row reader.Row) bool {
	for col, allowed := range p.spec.ExternalFilter {
		v, ok := row[col]
		if !ok {
			continue
		}
		s := strings.TrimSpace(expr.Format(v))
		found := false
		for _, a := range allowed {
			if a == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (p *Parser) needsImplicitSort() bool {
	if len(p.spec.Date) == 0 || p.spec.Sort != nil {
		return false
	}
	for _, sub := range p.subsets {
		if sub.Accumulates() || len(sub.InputAppend) > 0 {
			return true
		}
	}
	return false
}

func (p *Parser) sortRows(rows []reader.Row) {
	if s := p.spec.Sort; s != nil {
		sort.SliceStable(rows, func(i, j int) bool {
			for _, key := range s.Keys {
				c := compareValues(rows[i][key], rows[j][key])
				if c == 0 {
					continue
				}
				if s.Reverse {
					return c > 0
				}
				return c < 0
			}
			return false
		})
		return
	}
	if !p.needsImplicitSort() {
		return
	}
	p.logger.Warn("implicit_date_sort", slog.String("date", strings.Join(p.spec.Date, ",")))
	dates := make(map[int]Date, len(rows))
	order := make([]int, len(rows))
	for i, row := range rows {
		order[i] = i
		if d, err := p.rowDate(row); err == nil {
			dates[i] = d
		}
	}
	sort.SliceStable(order, func(i, j int) bool {
		return dates[order[i]].Compare(dates[order[j]]) < 0
	})
	sorted := make([]reader.Row, len(rows))
	for i, idx := range order {
		sorted[i] = rows[idx]
	}
	copy(rows, sorted)
}

// compareValues orders numbers numerically and everything else as text.
func compareValues(a, b any) int {
	af, aok := expr.ToFloat(a)
	bf, bok := expr.ToFloat(b)
	if aok && bok {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		}
		return 0
	}
	return strings.Compare(expr.Format(a), expr.Format(b))
}

func (p *Parser) rowDate(row reader.Row) (Date, error) {
	var raw any
	if len(p.spec.Date) == 1 {
		raw = row[p.spec.Date[0]]
	} else {
		var sb strings.Builder
		for _, col := range p.spec.Date {
			sb.WriteString(expr.Format(row[col]))
		}
		raw = sb.String()
	}
	return ParseDate(p.dateKind, raw)
}

func (p *Parser) dateKeyOf(k admin.Key) string {
	switch p.dateLevel {
	case config.LevelSingle:
		return ""
	case config.LevelSubnational:
		return k.Path()
	}
	return k.At(admin.LevelNational)
}

// resolve types every row's admin and date. Unresolved rows, bad dates and
// future dates are dropped.
func (p *Parser) resolve(rows []reader.Row, stats *Stats) []candidate {
	out := make([]candidate, 0, len(rows))
	for _, row := range rows {
		key, ok := p.resolver.Resolve(row)
		if !ok {
			stats.Unresolved++
			continue
		}
		c := candidate{row: row, key: key, adm: p.resolver.OutputKey(key), dateKey: p.dateKeyOf(key)}
		if len(p.spec.Date) > 0 {
			d, err := p.rowDate(row)
			if err != nil {
				stats.BadDates++
				p.logger.Debug("row_date_invalid", slog.String("admin", c.adm), slog.String("error", err.Error()))
				continue
			}
			if p.spec.IgnoresFutureDates() && d.InFuture(p.today) {
				stats.Future++
				continue
			}
			c.date = d
		}
		out = append(out, c)
	}
	if stats.Unresolved > 0 {
		p.logger.Debug("admin_unresolved_rows", slog.Int("count", stats.Unresolved))
	}
	return out
}

func (p *Parser) selectSubset(plan *subsetPlan, candidates []candidate) (SubsetResult, Date, error) {
	matched := make([]candidate, 0, len(candidates))
	for _, c := range candidates {
		if plan.filter != nil {
			ok, err := plan.filter.EvalBool(rowEnv(c.row))
			if err != nil {
				p.logger.Debug("subset_filter_failed", slog.String("subset", plan.Name), slog.String("error", err.Error()))
			}
			if !ok {
				continue
			}
		}
		matched = append(matched, c)
	}

	var maxDate Date
	if len(p.spec.Date) > 0 {
		latest := make(map[string]Date)
		for _, c := range matched {
			dk := c.dateKey
			if p.spec.SingleMaxdate {
				dk = ""
			}
			if c.date.Compare(latest[dk]) > 0 {
				latest[dk] = c.date
			}
			if c.date.Compare(maxDate) > 0 {
				maxDate = c.date
			}
		}
		kept := matched[:0]
		for _, c := range matched {
			dk := c.dateKey
			if p.spec.SingleMaxdate {
				dk = ""
			}
			if c.date.Compare(latest[dk]) == 0 {
				kept = append(kept, c)
			}
		}
		matched = kept
	}

	sr := SubsetResult{Subset: plan.Subset, Columns: make([]map[string]any, len(plan.Input))}
	for i := range sr.Columns {
		sr.Columns[i] = make(map[string]any)
	}
	seen := make(map[string]struct{})
	for _, c := range matched {
		if _, ok := seen[c.adm]; !ok {
			seen[c.adm] = struct{}{}
			sr.Admins = append(sr.Admins, c.adm)
		}
		for i, col := range plan.Input {
			val, err := p.value(plan, c.row, col)
			if err != nil {
				return SubsetResult{}, Date{}, err
			}
			p.accumulate(plan, sr.Columns[i], c.adm, col, val)
		}
		sr.Rows++
	}
	return sr, maxDate, nil
}

// value reads one input of a row and applies its transform.
func (p *Parser) value(plan *subsetPlan, row reader.Row, col string) (any, error) {
	var val any
	if prog, ok := plan.templates[col]; ok {
		v, err := prog.Eval(rowEnv(row))
		if err != nil {
			p.logger.Debug("input_template_failed", slog.String("column", col), slog.String("error", err.Error()))
		}
		val = v
	} else {
		val = row[col]
	}
	if s, ok := val.(string); ok {
		val = strings.TrimSpace(s)
	}

	prog, ok := plan.transforms[col]
	if !ok {
		return val, nil
	}
	if _, ignored := plan.ignore[expr.Format(val)]; ignored {
		return val, nil
	}
	out, err := prog.Eval(expr.Layered{expr.MapEnv{"val": val, col: val}, rowEnv(row)})
	if err != nil {
		p.logger.Debug("transform_failed", slog.String("column", col), slog.String("error", err.Error()))
		return nil, nil
	}
	return out, nil
}

func (p *Parser) accumulate(plan *subsetPlan, values map[string]any, adm, col string, val any) {
	_, asList := plan.list[col]
	if plan.Accumulates() || asList {
		list, _ := values[adm].([]any)
		values[adm] = append(list, val)
		return
	}
	cur, exists := values[adm]
	if _, ok := plan.append[col]; ok {
		if exists && expr.Truthy(cur) {
			values[adm] = p.appendValue(cur, val)
			return
		}
		values[adm] = val
		return
	}
	if _, ok := plan.keep[col]; ok && exists && expr.Truthy(cur) {
		return
	}
	values[adm] = val
}

// appendValue adds numbers and joins anything else with the separator.
func (p *Parser) appendValue(cur, val any) any {
	cn, cok := expr.ToNumber(cur)
	vn, vok := expr.ToNumber(val)
	if cok && vok {
		ci, cInt := cn.(int64)
		vi, vInt := vn.(int64)
		if cInt && vInt {
			return ci + vi
		}
		cf, _ := expr.ToFloat(cn)
		vf, _ := expr.ToFloat(vn)
		return cf + vf
	}
	return expr.Format(cur) + p.spec.AppendSeparator + expr.Format(val)
}

// rowEnv exposes a row to expressions.
type rowEnv reader.Row

// Lookup implements expr.Env
func (r rowEnv) Lookup(name string) (any, bool) {
	v, ok := r[name]
	return v, ok
}
