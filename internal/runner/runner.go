package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"hdxscraper/internal/config"
	apperrors "hdxscraper/internal/errors"
	"hdxscraper/internal/fallback"
	"hdxscraper/internal/population"
	"hdxscraper/internal/scraper"
	"hdxscraper/internal/sources"
)

// Config wires a runner.
type Config struct {
	Registry *Registry
	// Context is copied for every unit. Results is set by the runner.
	Context scraper.RunContext
	// Fallbacks holds the cached results substituted for failed units.
	Fallbacks *fallback.Set
	// Additional sources are applied after every unit has run.
	Additional []config.AdditionalSource
	// OverwriteSources is the default for units that do not say.
	OverwriteSources bool

	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
	Logger         *slog.Logger
}

// Options selects and orders the units of one run.
type Options struct {
	// Include limits the run to these units. Empty runs every unit.
	Include []string
	// ForceInclude units run even when excluded by Include or Levels.
	ForceInclude []string
	// Prioritise runs these units first, in the order given.
	Prioritise []string
	// Levels limits the run to units writing at least one of these levels.
	// Units writing tables are not limited.
	Levels []string
	// Concurrency above 1 runs units that neither touch the population
	// registry nor read earlier results alongside each other.
	Concurrency int
}

// Runner executes registered units.
type Runner struct {
	registry   *Registry
	rc         scraper.RunContext
	fallbacks  *fallback.Set
	additional []config.AdditionalSource
	overwrite  bool
	inst       *instruments
	logger     *slog.Logger

	mu       sync.RWMutex
	outputs  map[string]scraper.Output
	fellBack map[string]map[string]bool
	state    *runState
	errs     *ErrorList
	sources  []sources.Record
}

// New creates a runner.
func New(cfg Config) (*Runner, error) {
	if cfg.Registry == nil {
		return nil, apperrors.NewConfigError("runner needs a registry", nil)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	inst, err := newInstruments(cfg.TracerProvider, cfg.MeterProvider)
	if err != nil {
		return nil, fmt.Errorf("failed to create runner instruments: %w", err)
	}
	rc := cfg.Context
	if rc.Population == nil {
		rc.Population = population.NewRegistry()
	}
	if rc.Logger == nil {
		rc.Logger = logger
	}
	return &Runner{
		registry:   cfg.Registry,
		rc:         rc,
		fallbacks:  cfg.Fallbacks,
		additional: cfg.Additional,
		overwrite:  cfg.OverwriteSources,
		inst:       inst,
		logger:     logger,
		outputs:    make(map[string]scraper.Output),
		fellBack:   make(map[string]map[string]bool),
		state:      newRunState(nil),
		errs:       &ErrorList{},
	}, nil
}

// Population returns the registry shared by the run's units.
func (r *Runner) Population() *population.Registry { return r.rc.Population }

// Run executes the selected units. Unit failures do not stop the run: they
// are returned together as an *ErrorList once every unit has run. Only
// cancellation ends a run early.
func (r *Runner) Run(ctx context.Context, opts Options) error {
	ordered := r.plan(ctx, opts)

	r.mu.Lock()
	r.outputs = make(map[string]scraper.Output)
	r.fellBack = make(map[string]map[string]bool)
	r.sources = nil
	r.errs = &ErrorList{}
	names := make([]string, len(ordered))
	for i, u := range ordered {
		names[i] = u.Name()
	}
	r.state = newRunState(names)
	r.mu.Unlock()

	r.logger.InfoContext(ctx, "run_started",
		slog.Int("units", len(ordered)),
		slog.String("order", strings.Join(names, ",")))

	if err := r.execute(ctx, ordered, opts.Concurrency); err != nil {
		r.logger.WarnContext(ctx, "run_cancelled", slog.String("error", err.Error()))
		return err
	}

	recs, err := r.collectSources(ctx)
	if err != nil {
		r.logger.WarnContext(ctx, "additional_sources_incomplete", slog.String("error", err.Error()))
	}
	r.mu.Lock()
	r.sources = recs
	r.mu.Unlock()

	errs := r.Errors()
	r.logger.InfoContext(ctx, "run_completed",
		slog.Int("units", len(ordered)),
		slog.Int("errors", len(errs.Errors)),
		slog.Int("sources", len(recs)))
	return errs.Err()
}

// plan selects the units of a run and puts them in run order.
func (r *Runner) plan(ctx context.Context, opts Options) []scraper.Unit {
	for _, list := range [][]string{opts.Include, opts.ForceInclude, opts.Prioritise} {
		for _, name := range list {
			if _, ok := r.registry.Get(name); !ok {
				r.logger.WarnContext(ctx, "unit_unknown", slog.String("unit", name))
			}
		}
	}

	var selected []scraper.Unit
	for _, u := range r.registry.List() {
		if contains(opts.ForceInclude, u.Name()) {
			selected = append(selected, u)
			continue
		}
		if len(opts.Include) > 0 && !contains(opts.Include, u.Name()) {
			continue
		}
		if len(opts.Levels) > 0 && !writesTable(u) && !writesAny(u, opts.Levels) {
			continue
		}
		selected = append(selected, u)
	}

	placed := make(map[string]bool, len(selected))
	ordered := make([]scraper.Unit, 0, len(selected))
	byName := make(map[string]scraper.Unit, len(selected))
	for _, u := range selected {
		byName[u.Name()] = u
	}
	for _, name := range opts.Prioritise {
		if u, ok := byName[name]; ok && !placed[name] {
			ordered = append(ordered, u)
			placed[name] = true
		}
	}
	for _, u := range selected {
		if u.Traits().ProducesPopulation && !placed[u.Name()] {
			ordered = append(ordered, u)
			placed[u.Name()] = true
		}
	}
	for _, u := range selected {
		if !placed[u.Name()] {
			ordered = append(ordered, u)
			placed[u.Name()] = true
		}
	}
	return ordered
}

func writesAny(u scraper.Unit, levels []string) bool {
	for _, level := range u.Levels() {
		if contains(levels, level) {
			return true
		}
	}
	return false
}

func (r *Runner) execute(ctx context.Context, ordered []scraper.Unit, concurrency int) error {
	for i := 0; i < len(ordered); {
		if err := ctx.Err(); err != nil {
			return err
		}
		if concurrency <= 1 || !ordered[i].Traits().Independent() {
			if err := r.runUnit(ctx, ordered[i]); err != nil {
				return err
			}
			i++
			continue
		}

		j := i
		for j < len(ordered) && ordered[j].Traits().Independent() {
			j++
		}
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(concurrency)
		for _, u := range ordered[i:j] {
			g.Go(func() error { return r.runUnit(gctx, u) })
		}
		if err := g.Wait(); err != nil {
			return err
		}
		i = j
	}
	return nil
}

// runUnit produces one unit's output. It returns an error only when the run
// is cancelled.
func (r *Runner) runUnit(ctx context.Context, u scraper.Unit) error {
	name := u.Name()
	logger := r.logger.With(slog.String("unit", name))
	if err := r.state.transition(name, UnitStatusRunning, nil); err != nil {
		return err
	}
	logger.InfoContext(ctx, "unit_started")

	ctx, span := r.inst.startUnit(ctx, name, u.Levels())
	rc := r.rc
	rc.Results = resultView{r}
	rc.Logger = r.rc.Logger.With(slog.String("unit", name))

	out, err := u.Produce(ctx, &rc)
	if err == nil {
		rows := 0
		for _, lo := range out {
			rows += lo.Rows
		}
		r.store(name, out, nil)
		r.state.setRows(name, rows)
		_ = r.state.transition(name, UnitStatusSucceeded, nil)
		r.inst.endUnit(ctx, span, name, UnitStatusSucceeded, rows, nil)
		logger.InfoContext(ctx, "unit_succeeded", slog.Int("rows_selected", rows))
		return nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil || errors.Is(err, context.Canceled) {
		_ = r.state.transition(name, UnitStatusFailed, err)
		r.inst.endUnit(ctx, span, name, UnitStatusFailed, 0, err)
		if ctxErr != nil {
			return ctxErr
		}
		return err
	}

	status := r.substitute(ctx, u, &rc, err, logger)
	_ = r.state.transition(name, status, err)
	r.inst.endUnit(ctx, span, name, status, 0, err)
	return nil
}

// substitute replaces the output of a failed unit with cached results for
// every level they cover. Levels without cached results are reported as
// failures.
func (r *Runner) substitute(ctx context.Context, u scraper.Unit, rc *scraper.RunContext, cause error, logger *slog.Logger) UnitStatus {
	name := u.Name()
	declared, isDeclared := u.(scraper.Declared)
	canFallback := u.Traits().CanFallback && r.fallbacks != nil && isDeclared

	out := scraper.Output{}
	used := make(map[string]bool)
	for _, level := range u.Levels() {
		var headers []scraper.Header
		if canFallback {
			headers = declared.Headers(level)
		}
		if len(headers) == 0 || !r.fallbacks.Has(level) {
			r.errs.Add(newUnitError(name, level, cause))
			continue
		}
		tags := make([]string, len(headers))
		for i, h := range headers {
			tags[i] = h.HXLTag
		}
		values, recs := r.fallbacks.Get(level, tags)
		matrix := &scraper.OutputMatrix{}
		for i, h := range headers {
			matrix.Add(h, values[i])
			if h.HXLTag == config.PopulationTag && rc.Population != nil {
				rc.Population.AddValues(values[i], "")
			}
		}
		out[level] = &scraper.LevelOutput{Matrix: matrix, Sources: recs}
		used[level] = true
	}

	if len(out) == 0 {
		logger.ErrorContext(ctx, "unit_failed",
			slog.String("error", cause.Error()),
			slog.String("type", string(apperrors.TypeOf(cause))))
		return UnitStatusFailed
	}
	r.store(name, out, used)
	logger.ErrorContext(ctx, "fallback_used",
		slog.String("error", cause.Error()),
		slog.Int("levels", len(out)))
	return UnitStatusFallback
}

func (r *Runner) store(name string, out scraper.Output, fellBack map[string]bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outputs[name] = out
	if fellBack != nil {
		r.fellBack[name] = fellBack
	}
}

// collectSources de-duplicates the source records of every unit in
// registration order, then applies the additional sources.
func (r *Runner) collectSources(ctx context.Context) ([]sources.Record, error) {
	tracker := sources.NewTracker(r.overwrite, r.logger)
	r.mu.RLock()
	for _, u := range r.registry.List() {
		out, ok := r.outputs[u.Name()]
		if !ok {
			continue
		}
		var overwrite *bool
		if so, ok := u.(scraper.SourceOverwriter); ok {
			overwrite = so.OverwriteSources()
		}
		for _, level := range u.Levels() {
			if lo, ok := out[level]; ok {
				tracker.AddAll(ctx, lo.Sources, overwrite)
			}
		}
	}
	r.mu.RUnlock()

	var err error
	if len(r.additional) > 0 {
		add := &sources.Additional{
			Specs:   r.additional,
			Catalog: r.rc.Catalog,
			Format:  r.rc.DateFormat,
			Today:   r.rc.Today,
			Logger:  r.logger,
		}
		err = add.Apply(ctx, tracker)
	}
	return tracker.Records(), err
}

// merge combines the outputs written for level in registration order.
func (r *Runner) merge(level string) (*LevelResult, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	res := &LevelResult{Level: level}
	matrix := &scraper.OutputMatrix{}
	found := false
	for _, name := range r.registry.Names() {
		out, ok := r.outputs[name]
		if !ok {
			continue
		}
		lo, ok := out[level]
		if !ok || lo.Matrix == nil {
			continue
		}
		found = true
		matrix.Merge(lo.Matrix)
		if r.fellBack[name][level] {
			res.UsedFallback = true
			res.Fallbacks = append(res.Fallbacks, name)
		}
	}
	res.Headers, res.Values = matrix.Headers, matrix.Values
	return res, found
}

// Results returns the merged results of the given levels, or of every
// level when none are given. Levels nothing was written to are absent.
func (r *Runner) Results(levels ...string) map[string]*LevelResult {
	if len(levels) == 0 {
		levels = r.registry.Levels()
	}
	recs := r.Sources()
	out := make(map[string]*LevelResult, len(levels))
	for _, level := range levels {
		res, ok := r.merge(level)
		if !ok {
			continue
		}
		res.Sources = sourcesFor(recs, res.Headers)
		out[level] = res
	}
	return out
}

// sourcesFor keeps the records of the given columns. Records of per admin
// variants of a tag, such as "#affected+afg", belong to the tag's column.
func sourcesFor(recs []sources.Record, headers []scraper.Header) []sources.Record {
	var out []sources.Record
	for _, rec := range recs {
		for _, h := range headers {
			if h.HXLTag == "" {
				continue
			}
			if rec.HXLTag == h.HXLTag || strings.HasPrefix(rec.HXLTag, h.HXLTag+"+") {
				out = append(out, rec)
				break
			}
		}
	}
	return out
}

// Tables returns the tables written in the last run, keyed by unit name.
func (r *Runner) Tables() map[string]*scraper.Table {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]*scraper.Table)
	for name, o := range r.outputs {
		for _, lo := range o {
			if lo.Table != nil {
				out[name] = lo.Table
			}
		}
	}
	return out
}

// Sources returns every source record of the last run, additional sources
// included.
func (r *Runner) Sources() []sources.Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]sources.Record(nil), r.sources...)
}

// States returns the unit states of the last run in run order.
func (r *Runner) States() []UnitState {
	r.mu.RLock()
	st := r.state
	r.mu.RUnlock()
	return st.snapshot()
}

// Status returns the status of one unit in the last run.
func (r *Runner) Status(name string) UnitStatus {
	r.mu.RLock()
	st := r.state
	r.mu.RUnlock()
	return st.status(name)
}

// Errors returns the unit failures of the last run.
func (r *Runner) Errors() *ErrorList {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.errs
}

// resultView gives units read access to the results merged so far.
type resultView struct{ r *Runner }

func (v resultView) Level(level string) (*scraper.OutputMatrix, bool) {
	res, ok := v.r.merge(level)
	if !ok {
		return nil, false
	}
	return res.Matrix(), true
}
