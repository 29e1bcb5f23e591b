package runner_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hdxscraper/internal/config"
	apperrors "hdxscraper/internal/errors"
	"hdxscraper/internal/fallback"
	"hdxscraper/internal/population"
	"hdxscraper/internal/reader"
	"hdxscraper/internal/runner"
	"hdxscraper/internal/scraper"
	"hdxscraper/internal/shared/testutil"
	"hdxscraper/internal/sources"
)

// recorder remembers the order units ran in.
type recorder struct {
	mu    sync.Mutex
	order []string
}

func (r *recorder) add(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.order = append(r.order, name)
}

func unit(rec *recorder, name string, traits scraper.Traits, tag string, values map[string]any) *scraper.Func {
	return &scraper.Func{
		UnitName:    name,
		UnitLevels:  []string{config.LevelNational},
		UnitTraits:  traits,
		UnitHeaders: []scraper.Header{{Label: name, HXLTag: tag}},
		Fn: func(ctx context.Context, rc *scraper.RunContext) (scraper.Output, error) {
			if rec != nil {
				rec.add(name)
			}
			m := &scraper.OutputMatrix{}
			m.Add(scraper.Header{Label: name, HXLTag: tag}, values)
			return scraper.Output{config.LevelNational: {
				Matrix:  m,
				Sources: []sources.Record{{HXLTag: tag, Date: "Jan 1, 2021", Source: name, URL: "https://example.org/" + name}},
				Rows:    len(values),
			}}, nil
		},
	}
}

func failing(name, tag string, canFallback bool) *scraper.Func {
	return &scraper.Func{
		UnitName:    name,
		UnitLevels:  []string{config.LevelNational},
		UnitTraits:  scraper.Traits{CanFallback: canFallback},
		UnitHeaders: []scraper.Header{{Label: name, HXLTag: tag}},
		Fn: func(context.Context, *scraper.RunContext) (scraper.Output, error) {
			return nil, apperrors.NewSourceUnavailableError(name, errors.New("connection refused"))
		},
	}
}

func newRunner(t *testing.T, reg *runner.Registry, mutate func(*runner.Config)) (*runner.Runner, *testutil.CaptureHandler) {
	t.Helper()
	logger, logs := testutil.NewTestLogger(t)
	cfg := runner.Config{
		Registry: reg,
		Context: scraper.RunContext{
			Today:      time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC),
			Matcher:    testutil.Matcher(),
			DateFormat: sources.NewDateFormat(nil, "", ""),
		},
		Logger: logger,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	r, err := runner.New(cfg)
	require.NoError(t, err)
	return r, logs
}

func TestRegistry_Register(t *testing.T) {
	reg := runner.NewRegistry(config.LevelNational)
	require.NoError(t, reg.Register(unit(nil, "a", scraper.Traits{}, "#a", nil)))

	tests := []struct {
		name string
		unit scraper.Unit
	}{
		{name: "nil unit", unit: nil},
		{name: "empty name", unit: &scraper.Func{}},
		{name: "duplicate", unit: unit(nil, "a", scraper.Traits{}, "#a", nil)},
		{name: "undeclared level", unit: &scraper.Func{UnitName: "b", UnitLevels: []string{"regional"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := reg.Register(tt.unit)
			assert.ErrorIs(t, err, apperrors.ErrConfig)
		})
	}
	assert.Equal(t, 1, reg.Count())
	assert.Equal(t, []string{config.LevelNational}, reg.Levels())
}

func TestRunner_Ordering(t *testing.T) {
	rec := &recorder{}
	reg := runner.NewRegistry()
	require.NoError(t, reg.Register(unit(rec, "first", scraper.Traits{}, "#a", nil)))
	require.NoError(t, reg.Register(unit(rec, "pop", scraper.Traits{ProducesPopulation: true}, "#population", nil)))
	require.NoError(t, reg.Register(unit(rec, "last", scraper.Traits{}, "#c", nil)))
	require.NoError(t, reg.Register(unit(rec, "urgent", scraper.Traits{}, "#d", nil)))

	r, _ := newRunner(t, reg, nil)
	require.NoError(t, r.Run(context.Background(), runner.Options{Prioritise: []string{"urgent", "missing"}}))
	assert.Equal(t, []string{"urgent", "pop", "first", "last"}, rec.order)

	states := r.States()
	require.Len(t, states, 4)
	for _, st := range states {
		assert.Equal(t, runner.UnitStatusSucceeded, st.Status, st.Name)
	}
}

func TestRunner_Selection(t *testing.T) {
	newReg := func(rec *recorder) *runner.Registry {
		reg := runner.NewRegistry()
		require.NoError(t, reg.Register(unit(rec, "a", scraper.Traits{}, "#a", nil)))
		require.NoError(t, reg.Register(unit(rec, "b", scraper.Traits{}, "#b", nil)))
		require.NoError(t, reg.Register(&scraper.Func{
			UnitName:   "regional",
			UnitLevels: []string{"regional"},
			Fn: func(context.Context, *scraper.RunContext) (scraper.Output, error) {
				rec.add("regional")
				return scraper.Output{}, nil
			},
		}))
		return reg
	}

	tests := []struct {
		name string
		opts runner.Options
		want []string
	}{
		{name: "everything", want: []string{"a", "b", "regional"}},
		{name: "include", opts: runner.Options{Include: []string{"b"}}, want: []string{"b"}},
		{name: "force include", opts: runner.Options{Include: []string{"b"}, ForceInclude: []string{"a"}}, want: []string{"a", "b"}},
		{name: "levels", opts: runner.Options{Levels: []string{"regional"}}, want: []string{"regional"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recorder{}
			r, _ := newRunner(t, newReg(rec), nil)
			require.NoError(t, r.Run(context.Background(), tt.opts))
			assert.Equal(t, tt.want, rec.order)
		})
	}
}

func TestRunner_MergeInRegistrationOrder(t *testing.T) {
	reg := runner.NewRegistry()
	require.NoError(t, reg.Register(unit(nil, "cases", scraper.Traits{}, "#affected", map[string]any{"AFG": int64(1), "MMR": int64(2)})))
	require.NoError(t, reg.Register(unit(nil, "deaths", scraper.Traits{}, "#killed", map[string]any{"AFG": int64(0)})))
	require.NoError(t, reg.Register(unit(nil, "update", scraper.Traits{}, "#affected", map[string]any{"MMR": int64(5)})))

	r, _ := newRunner(t, reg, nil)
	require.NoError(t, r.Run(context.Background(), runner.Options{Prioritise: []string{"update"}}))

	res := r.Results(config.LevelNational)[config.LevelNational]
	require.NotNil(t, res)
	assert.Equal(t, []scraper.Header{{Label: "cases", HXLTag: "#affected"}, {Label: "deaths", HXLTag: "#killed"}}, res.Headers)
	assert.Equal(t, map[string]any{"AFG": int64(1), "MMR": int64(5)}, res.Values[0])

	require.Len(t, res.Sources, 2)
	assert.Equal(t, "cases", res.Sources[0].Source)
	assert.False(t, res.UsedFallback)
}

func TestRunner_Fallback(t *testing.T) {
	set, err := fallback.Parse([]byte(`{
		"national_data": [{"#country+code": "AFG", "#affected": 7}],
		"sources": [{"#indicator+name": "#affected", "#date": "Dec 1, 2020", "#meta+source": "cache", "#meta+url": "u"}]
	}`))
	require.NoError(t, err)

	reg := runner.NewRegistry()
	require.NoError(t, reg.Register(failing("cached", "#affected", true)))
	require.NoError(t, reg.Register(failing("nofallback", "#killed", false)))
	require.NoError(t, reg.Register(unit(nil, "ok", scraper.Traits{}, "#ok", map[string]any{"AFG": int64(3)})))

	r, logs := newRunner(t, reg, func(c *runner.Config) { c.Fallbacks = set })
	err = r.Run(context.Background(), runner.Options{})
	require.Error(t, err)
	assert.True(t, runner.IsUnitError(err))
	assert.ErrorIs(t, err, apperrors.ErrSourceUnavailable)

	assert.Equal(t, runner.UnitStatusFallback, r.Status("cached"))
	assert.Equal(t, runner.UnitStatusFailed, r.Status("nofallback"))
	assert.Equal(t, runner.UnitStatusSucceeded, r.Status("ok"))

	errs := r.Errors()
	assert.Empty(t, errs.ByUnit("cached"))
	require.Len(t, errs.ByUnit("nofallback"), 1)
	assert.Equal(t, apperrors.ErrTypeSourceUnavailable, errs.ByUnit("nofallback")[0].Type)

	res := r.Results()[config.LevelNational]
	require.NotNil(t, res)
	assert.True(t, res.UsedFallback)
	assert.Equal(t, []string{"cached"}, res.Fallbacks)
	assert.Equal(t, []scraper.Header{{Label: "cached", HXLTag: "#affected"}, {Label: "ok", HXLTag: "#ok"}}, res.Headers)
	assert.Equal(t, map[string]any{"AFG": int64(7)}, res.Values[0])
	assert.Equal(t, "cache", res.Sources[0].Source)
	testutil.AssertLogged(t, logs, slog.LevelError, "fallback_used")
	testutil.AssertLogged(t, logs, slog.LevelError, "unit_failed")
}

func TestRunner_Cancelled(t *testing.T) {
	reg := runner.NewRegistry()
	require.NoError(t, reg.Register(unit(nil, "a", scraper.Traits{}, "#a", nil)))
	r, _ := newRunner(t, reg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := r.Run(ctx, runner.Options{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, runner.IsUnitError(err))
}

const document = `
scrapers:
  ratio:
    url: mem://tagged
    use_hxl: true
    input: "#total"
    process: "#total / #population"
    output: Ratio
    output_hxl: "#total+ratio"
    source: WHO
    source_date: "2020-06-01"
  cases:
    url: mem://cases
    admin: Country
    input: Total
    output: Total
    output_hxl: "#total"
    source: WHO
    source_date: "2020-06-01"
  population:
    url: mem://population
    admin: Country
    input: Population
    output: Population
    output_hxl: "#population"
    source: World Bank
    source_date: "2019-12-31"
aggregations:
  - name: regional
    input_level: national
    output_level: regional
    use_hxl: true
    admin_mapping:
      AFG: [ROAP]
      MMR: [ROAP]
    columns:
      - column: "#total"
        action: sum
additional_sources:
  - indicator: "#food-prices"
    source: WFP
    source_url: https://example.org/wfp
    source_date: "2020-05-01"
`

func documentRunner(t *testing.T, concurrency int) (*runner.Runner, *population.Registry) {
	t.Helper()
	doc, err := config.ParseScrapers([]byte(document))
	require.NoError(t, err)

	reg := runner.NewRegistry(config.LevelNational, "regional")
	require.NoError(t, runner.RegisterDocument(reg, doc, nil))

	pop := population.NewRegistry()
	r, _ := newRunner(t, reg, func(c *runner.Config) {
		c.Context.Reader = &reader.MemoryReader{Tables: map[string][][]string{
			"mem://population": testutil.Table([]string{"Country", "Population"},
				[]string{"Afghanistan", "480"},
			),
			"mem://cases": testutil.Table([]string{"Country", "Total"},
				[]string{"AFG", "120"},
				[]string{"Myanmar", "30"},
			),
			"mem://tagged": {
				{"ISO3", "Total"},
				{"#country+code", "#total"},
				{"AFG", "120"},
				{"MMR", "50"},
			},
		}}
		c.Context.Population = pop
		c.Additional = doc.AdditionalSources
	})
	require.NoError(t, r.Run(context.Background(), runner.Options{Concurrency: concurrency}))
	return r, pop
}

func TestRunner_PopulationScenario(t *testing.T) {
	r, pop := documentRunner(t, 1)

	v, ok := pop.Get("AFG")
	require.True(t, ok)
	assert.Equal(t, 480.0, v)

	results := r.Results()
	national := results[config.LevelNational]
	require.NotNil(t, national)
	assert.Equal(t, []scraper.Header{
		{Label: "Ratio", HXLTag: "#total+ratio"},
		{Label: "Total", HXLTag: "#total"},
		{Label: "Population", HXLTag: "#population"},
	}, national.Headers)
	assert.Equal(t, 0.25, national.Values[0]["AFG"])
	assert.Nil(t, national.Values[0]["MMR"])

	regional := results["regional"]
	require.NotNil(t, regional)
	assert.Equal(t, map[string]any{"ROAP": int64(150)}, regional.Values[0])

	tags := make([]string, 0)
	for _, rec := range r.Sources() {
		tags = append(tags, rec.HXLTag)
	}
	assert.Equal(t, []string{"#total+ratio", "#total", "#population", "#food-prices"}, tags)

	order := make([]string, 0)
	for _, st := range r.States() {
		order = append(order, st.Name)
	}
	assert.Equal(t, []string{"population", "ratio", "cases", "regional"}, order)
}

func TestRunner_Deterministic(t *testing.T) {
	encode := func(r *runner.Runner) string {
		data, err := json.Marshal(r.Results())
		require.NoError(t, err)
		return string(data)
	}
	sequential, _ := documentRunner(t, 1)
	concurrent, _ := documentRunner(t, 4)
	assert.JSONEq(t, encode(sequential), encode(concurrent))
}

func TestLevelResult_MarshalJSON(t *testing.T) {
	res := &runner.LevelResult{
		Headers: []scraper.Header{{Label: "Cases", HXLTag: "#affected"}},
		Values:  []map[string]any{{"AFG": int64(1)}},
		Sources: []sources.Record{{HXLTag: "#affected", Date: "Jan 1, 2021", Source: "WHO", URL: "u"}},
	}
	data, err := json.Marshal(res)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"headers": [["Cases", "#affected"]],
		"values": [{"AFG": 1}],
		"sources": [["#affected", "Jan 1, 2021", "WHO", "u"]],
		"used_fallback": false
	}`, string(data))
}

func TestFallbackSet_RoundTrip(t *testing.T) {
	r, _ := documentRunner(t, 1)
	set := runner.FallbackSet(r.Results(), r.Sources())

	values, recs := set.Get(config.LevelNational, []string{"#total"})
	assert.Equal(t, map[string]any{"AFG": int64(120), "MMR": int64(30)}, values[0])
	require.Len(t, recs, 1)
	assert.Equal(t, "WHO", recs[0].Source)

	values, _ = set.Get("regional", []string{"#total"})
	assert.Equal(t, map[string]any{"ROAP": int64(150)}, values[0])
}

func TestRunner_TimeSeriesTables(t *testing.T) {
	doc, err := config.ParseScrapers([]byte(`
scrapers:
  cases:
    url: mem://cases
    admin: Country
    input: Total
    output: Total
    output_hxl: "#total"
    source: WHO
timeseries:
  cases:
    url: mem://series
    date: Date
    date_type: date
    date_hxl: "#date"
    input: Total
    output: Total
    output_hxl: "#total+series"
    source: WHO
`))
	require.NoError(t, err)

	reg := runner.NewRegistry(config.LevelNational)
	require.NoError(t, runner.RegisterDocument(reg, doc, nil))
	assert.Equal(t, []string{"cases", "timeseries_cases"}, reg.Names())

	r, _ := newRunner(t, reg, func(c *runner.Config) {
		c.Context.Reader = &reader.MemoryReader{Tables: map[string][][]string{
			"mem://cases": testutil.Table([]string{"Country", "Total"},
				[]string{"AFG", "120"},
			),
			"mem://series": testutil.Table([]string{"Date", "Total"},
				[]string{"2020-05-01", "100"},
				[]string{"2020-06-01", "120"},
			),
		}}
	})
	require.NoError(t, r.Run(context.Background(), runner.Options{Levels: []string{config.LevelNational}}))

	tables := r.Tables()
	require.Contains(t, tables, "timeseries_cases")
	assert.Equal(t, [][]any{{"2020-05-01", "100"}, {"2020-06-01", "120"}}, tables["timeseries_cases"].Rows)

	results := r.Results()
	assert.Len(t, results, 1, "tables are not result levels")
	assert.Contains(t, results, config.LevelNational)

	var series *sources.Record
	for _, rec := range r.Sources() {
		if rec.HXLTag == "#total+series" {
			rec := rec
			series = &rec
		}
	}
	require.NotNil(t, series)
	assert.Equal(t, "Jun 1, 2020", series.Date)
}
