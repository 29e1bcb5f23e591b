package selection_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hdxscraper/internal/admin"
	"hdxscraper/internal/config"
	"hdxscraper/internal/reader"
	"hdxscraper/internal/selection"
	"hdxscraper/internal/shared/testutil"
)

var today = time.Date(2021, time.January, 1, 0, 0, 0, 0, time.UTC)

func boolPtr(b bool) *bool { return &b }

func run(t *testing.T, spec *config.ScraperSpec, headers []string, lines ...[]any) *selection.Result {
	t.Helper()
	res, _ := runLogged(t, spec, headers, lines...)
	return res
}

func runLogged(t *testing.T, spec *config.ScraperSpec, headers []string, lines ...[]any) (*selection.Result, *testutil.CaptureHandler) {
	t.Helper()
	logger, logs := testutil.NewTestLogger(t)
	level := spec.LevelOrDefault()
	resolver, err := admin.NewResolver(admin.ResolverConfig{
		Columns: spec.Admin,
		Level:   config.LevelNumber(level),
		Exact:   spec.AdminExact,
		Filter:  spec.AdminFilter,
		Single:  spec.AdminSingle,
	}, testutil.Matcher(), headers)
	require.NoError(t, err)

	p, err := selection.NewParser(selection.Options{
		Spec:     spec,
		Headers:  reader.Headers{Names: headers},
		Resolver: resolver,
		Today:    today,
		Logger:   logger,
	})
	require.NoError(t, err)

	res, err := p.Select(context.Background(), reader.NewSliceSequence(testutil.Rows(headers, lines...)))
	require.NoError(t, err)
	return res, logs
}

func nationalSpec(sub config.Subset) *config.ScraperSpec {
	return &config.ScraperSpec{
		Name:   "test",
		Admin:  config.AdminColumns{{"Country"}},
		Date:   config.StringList{"Date"},
		Subset: sub,
	}
}

func TestSelect_DateLatestPerAdmin(t *testing.T) {
	spec := nationalSpec(config.Subset{Input: config.StringList{"Value"}, Output: config.StringList{"Value"}})
	res := run(t, spec, []string{"Country", "Date", "Value"},
		[]any{"Afghanistan", "2020-01-01", "10"},
		[]any{"AFG", "2020-06-01", "20"},
		[]any{"Burma", "2019-03-01", "5"},
		[]any{"Atlantis", "2020-06-01", "7"},
		[]any{"Afghanistan", "2020-03-01", "15"},
	)

	require.Len(t, res.Subsets, 1)
	sub := res.Subsets[0]
	assert.Equal(t, []string{"AFG", "MMR"}, sub.Admins)
	assert.Equal(t, map[string]any{"AFG": "20", "MMR": "5"}, sub.Columns[0])
	assert.Equal(t, 1, res.Stats.Unresolved)
	assert.Equal(t, "2020-06-01", res.MaxDate.String())
}

func TestSelect_FutureDates(t *testing.T) {
	headers := []string{"Country", "Date", "Value"}
	lines := [][]any{
		{"AFG", "2020-06-01", "20"},
		{"AFG", "2022-01-01", "99"},
	}

	tests := []struct {
		name   string
		ignore *bool
		want   any
		future int
	}{
		{name: "ignored by default", ignore: nil, want: "20", future: 1},
		{name: "allowed", ignore: boolPtr(false), want: "99", future: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := nationalSpec(config.Subset{Input: config.StringList{"Value"}})
			spec.IgnoreFutureDate = tt.ignore
			res := run(t, spec, headers, lines...)
			assert.Equal(t, tt.want, res.Subsets[0].Columns[0]["AFG"])
			assert.Equal(t, tt.future, res.Stats.Future)
		})
	}
}

func TestSelect_SingleMaxdate(t *testing.T) {
	headers := []string{"Country", "Date", "Value"}
	lines := [][]any{
		{"AFG", "2020-06-01", "20"},
		{"MMR", "2019-03-01", "5"},
		{"SYR", "2020-06-01", "8"},
	}

	t.Run("single_maxdate", func(t *testing.T) {
		spec := nationalSpec(config.Subset{Input: config.StringList{"Value"}})
		spec.SingleMaxdate = true
		res := run(t, spec, headers, lines...)
		assert.Equal(t, map[string]any{"AFG": "20", "SYR": "8"}, res.Subsets[0].Columns[0])
	})

	t.Run("single date level", func(t *testing.T) {
		spec := nationalSpec(config.Subset{Input: config.StringList{"Value"}})
		spec.DateLevel = config.LevelSingle
		res := run(t, spec, headers, lines...)
		assert.Equal(t, map[string]any{"AFG": "20", "SYR": "8"}, res.Subsets[0].Columns[0])
	})

	t.Run("per admin", func(t *testing.T) {
		spec := nationalSpec(config.Subset{Input: config.StringList{"Value"}})
		res := run(t, spec, headers, lines...)
		assert.Len(t, res.Subsets[0].Columns[0], 3)
	})
}

func TestSelect_Subnational(t *testing.T) {
	spec := &config.ScraperSpec{
		Name:  "provinces",
		Level: config.LevelSubnational,
		Admin: config.AdminColumns{{"Country"}, {"Province"}},
		Date:  config.StringList{"Date"},
		Subset: config.Subset{
			Input: config.StringList{"People"},
		},
	}
	res := run(t, spec, []string{"Country", "Province", "Date", "People"},
		[]any{"AFG", "Kabul", "2020-01-01", "100"},
		[]any{"AFG", "Kapisa", "2020-01-01", "50"},
		[]any{"AFG", "Kabul", "2020-02-01", "120"},
		[]any{"AFG", "Nowhere", "2020-02-01", "1"},
	)
	assert.Equal(t, map[string]any{"AF01": "120", "AF02": "50"}, res.Subsets[0].Columns[0])
	assert.Equal(t, 1, res.Stats.Unresolved)
}

func TestSelect_Accumulation(t *testing.T) {
	headers := []string{"Country", "Name", "Value"}
	lines := [][]any{
		{"AFG", "first", "1"},
		{"AFG", "second", "2"},
		{"MMR", "only", "5"},
	}

	tests := []struct {
		name string
		sub  config.Subset
		sep  string
		want []map[string]any
	}{
		{
			name: "last wins",
			sub:  config.Subset{Input: config.StringList{"Name", "Value"}},
			want: []map[string]any{
				{"AFG": "second", "MMR": "only"},
				{"AFG": "2", "MMR": "5"},
			},
		},
		{
			name: "append and keep",
			sub: config.Subset{
				Input:       config.StringList{"Name", "Value"},
				InputAppend: config.StringList{"Name", "Value"},
			},
			sep: ", ",
			want: []map[string]any{
				{"AFG": "first, second", "MMR": "only"},
				{"AFG": int64(3), "MMR": "5"},
			},
		},
		{
			name: "keep first",
			sub: config.Subset{
				Input:     config.StringList{"Name"},
				InputKeep: config.StringList{"Name"},
			},
			want: []map[string]any{{"AFG": "first", "MMR": "only"}},
		},
		{
			name: "list",
			sub: config.Subset{
				Input: config.StringList{"Name"},
				List:  config.StringList{"Name"},
			},
			want: []map[string]any{{"AFG": []any{"first", "second"}, "MMR": []any{"only"}}},
		},
		{
			name: "process collects lists",
			sub: config.Subset{
				Input:   config.StringList{"Value"},
				Process: []string{"Value"},
			},
			want: []map[string]any{{"AFG": []any{"1", "2"}, "MMR": []any{"5"}}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := &config.ScraperSpec{
				Name:            "acc",
				Admin:           config.AdminColumns{{"Country"}},
				AppendSeparator: tt.sep,
				Subset:          tt.sub,
			}
			res := run(t, spec, headers, lines...)
			assert.Equal(t, tt.want, res.Subsets[0].Columns)
		})
	}
}

func TestSelect_RowPipeline(t *testing.T) {
	t.Run("stop row", func(t *testing.T) {
		spec := &config.ScraperSpec{
			Admin:   config.AdminColumns{{"Country"}},
			StopRow: map[string]string{"Country": "Notes"},
			Subset:  config.Subset{Input: config.StringList{"Value"}},
		}
		res := run(t, spec, []string{"Country", "Value"},
			[]any{"AFG", "1"},
			[]any{"Notes", ""},
			[]any{"MMR", "2"},
		)
		assert.True(t, res.Stats.Stopped)
		assert.Equal(t, map[string]any{"AFG": "1"}, res.Subsets[0].Columns[0])
	})

	t.Run("flatten", func(t *testing.T) {
		spec := &config.ScraperSpec{
			Admin:   config.AdminColumns{{"Country"}},
			Flatten: []config.FlattenSpec{{Original: "Value {{1}}", New: "Value", ExtraCol: "Which"}},
			Subset: config.Subset{
				Input: config.StringList{"Value", "Which"},
				List:  config.StringList{"Value", "Which"},
			},
		}
		res := run(t, spec, []string{"Country", "Value 1", "Value 2"},
			[]any{"AFG", "a", "b"},
		)
		assert.Equal(t, 2, res.Stats.Flattened)
		assert.Equal(t, []any{"a", "b"}, res.Subsets[0].Columns[0]["AFG"])
		assert.Equal(t, []any{"Value 1", "Value 2"}, res.Subsets[0].Columns[1]["AFG"])
	})

	t.Run("prefilter and external filter", func(t *testing.T) {
		spec := &config.ScraperSpec{
			Admin:          config.AdminColumns{{"Country"}},
			Prefilter:      "Sex == 'all'",
			FilterCols:     config.StringList{"Sex"},
			ExternalFilter: map[string][]string{"Type": {"IDP", "Refugee"}, "Missing": {"x"}},
			Subset:         config.Subset{Input: config.StringList{"Value"}, List: config.StringList{"Value"}},
		}
		res := run(t, spec, []string{"Country", "Sex", "Type", "Value"},
			[]any{"AFG", "all", "IDP", "1"},
			[]any{"AFG", "f", "IDP", "2"},
			[]any{"AFG", "all", "Returnee", "3"},
			[]any{"AFG", "all", "Refugee", "4"},
		)
		assert.Equal(t, []any{"1", "4"}, res.Subsets[0].Columns[0]["AFG"])
		assert.Equal(t, 2, res.Stats.Filtered)
	})

	t.Run("explicit sort", func(t *testing.T) {
		spec := &config.ScraperSpec{
			Admin:  config.AdminColumns{{"Country"}},
			Sort:   &config.SortSpec{Keys: config.StringList{"Rank"}, Reverse: true},
			Subset: config.Subset{Input: config.StringList{"Value"}},
		}
		res := run(t, spec, []string{"Country", "Rank", "Value"},
			[]any{"AFG", "10", "ten"},
			[]any{"AFG", "2", "two"},
			[]any{"AFG", "9", "nine"},
		)
		assert.Equal(t, "two", res.Subsets[0].Columns[0]["AFG"])
	})

	t.Run("implicit date sort", func(t *testing.T) {
		spec := nationalSpec(config.Subset{
			Input:       config.StringList{"Value"},
			InputAppend: config.StringList{"Value"},
		})
		spec.DateLevel = config.LevelSingle
		res, logs := runLogged(t, spec, []string{"Country", "Date", "Value"},
			[]any{"AFG", "2020-06-01", "1"},
			[]any{"MMR", "2020-06-01", "2"},
			[]any{"SYR", "2019-01-01", "3"},
		)
		assert.Equal(t, []string{"AFG", "MMR"}, res.Subsets[0].Admins)
		testutil.AssertLogged(t, logs, slog.LevelWarn, "implicit_date_sort")
	})
}

func TestSelect_SubsetsAndTransforms(t *testing.T) {
	spec := &config.ScraperSpec{
		Name:  "subsets",
		Admin: config.AdminColumns{{"Country"}},
		Subsets: []config.Subset{
			{
				Name:            "female",
				Filter:          "Sex == 'f'",
				Input:           config.StringList{"Value"},
				Transform:       map[string]string{"Value": "float(val) * 2"},
				InputIgnoreVals: config.StringList{"N/A"},
			},
			{
				Name:   "male",
				Filter: "Sex == 'm'",
				Input:  config.StringList{"{{Value}} + '!'"},
			},
		},
	}
	res := run(t, spec, []string{"Country", "Sex", "Value"},
		[]any{"AFG", "f", "3"},
		[]any{"MMR", "f", "N/A"},
		[]any{"AFG", "m", "hi"},
	)
	require.Len(t, res.Subsets, 2)
	assert.Equal(t, map[string]any{"AFG": 6.0, "MMR": "N/A"}, res.Subsets[0].Columns[0])
	assert.Equal(t, map[string]any{"AFG": "hi!"}, res.Subsets[1].Columns[0])
}

func TestSelect_AdminSingle(t *testing.T) {
	spec := &config.ScraperSpec{
		Name:        "global",
		Level:       config.LevelSingle,
		AdminSingle: "ROAP",
		Date:        config.StringList{"Year"},
		DateType:    "year",
		Subset:      config.Subset{Input: config.StringList{"Value"}},
	}
	res := run(t, spec, []string{"Year", "Value"},
		[]any{"2019", "1"},
		[]any{"2020", "2"},
		[]any{"2023", "3"},
	)
	assert.Equal(t, map[string]any{"ROAP": "2"}, res.Subsets[0].Columns[0])
	assert.Equal(t, "2020", res.MaxDate.String())
}

func TestNewParser_Errors(t *testing.T) {
	resolver, err := admin.NewResolver(admin.ResolverConfig{Columns: [][]string{{"Country"}}}, testutil.Matcher(), nil)
	require.NoError(t, err)

	tests := []struct {
		name string
		spec *config.ScraperSpec
	}{
		{name: "bad prefilter", spec: &config.ScraperSpec{Prefilter: "a ==", Subset: config.Subset{Input: config.StringList{"v"}}}},
		{name: "flatten without counter", spec: &config.ScraperSpec{Flatten: []config.FlattenSpec{{Original: "Value", New: "v"}}}},
		{name: "bad transform", spec: &config.ScraperSpec{Subset: config.Subset{Input: config.StringList{"v"}, Transform: map[string]string{"v": "val +"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := selection.NewParser(selection.Options{Spec: tt.spec, Resolver: resolver, Today: today})
			assert.Error(t, err)
		})
	}
}
