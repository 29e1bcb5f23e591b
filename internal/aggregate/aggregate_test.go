package aggregate

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hdxscraper/internal/config"
	"hdxscraper/internal/population"
	"hdxscraper/internal/shared/testutil"
)

type columns []Column

func (c columns) Column(name string, byTag bool) (Column, bool) {
	for _, col := range c {
		if (byTag && col.HXLTag == name) || (!byTag && col.Label == name) {
			return col, true
		}
	}
	return Column{}, false
}

func runOne(t *testing.T, agg *Aggregator, in Input) []Column {
	t.Helper()
	out, err := agg.Run(context.Background(), in)
	require.NoError(t, err)
	return out
}

func TestAggregator_SumAndMean(t *testing.T) {
	in := columns{{
		Label:  "People",
		HXLTag: "#affected",
		Values: map[string]any{"A": int64(5), "B": nil, "C": "3"},
	}}
	mapping := ToSingle([]string{"A", "B", "C"})

	tests := []struct {
		name   string
		action string
		values []any
		want   any
	}{
		{name: "sum ignores null", action: config.ActionSum, want: int64(8)},
		{name: "mean ignores null", action: config.ActionMean, want: int64(4)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agg := &Aggregator{
				Columns: []config.AggregationColumn{{Column: "People", Action: tt.action}},
				Mapping: mapping,
				Logger:  slog.Default(),
			}
			out := runOne(t, agg, in)
			require.Len(t, out, 1)
			assert.Equal(t, "People", out[0].Label)
			assert.Equal(t, "#affected", out[0].HXLTag)
			assert.Equal(t, map[string]any{"value": tt.want}, out[0].Values)
		})
	}
}

func TestAggregator_RegionWithNullMember(t *testing.T) {
	logger, logs := testutil.NewTestLogger(t)
	in := columns{{
		Label:  "Cases",
		HXLTag: "#affected+infected",
		Values: map[string]any{"AFG": int64(10), "MMR": nil, "SYR": nil},
	}}
	agg := New(config.AggregationSpec{
		Name:    "regional",
		UseHXL:  true,
		Columns: []config.AggregationColumn{{Column: "#affected+infected", Action: config.ActionSum}},
	}, Mapping{"AFG": {"ROAP"}, "MMR": {"ROAP"}, "SYR": {"ROMENA"}}, nil, logger)

	out := runOne(t, agg, in)
	require.Len(t, out, 1)
	assert.Equal(t, "Cases", out[0].Label)
	assert.Equal(t, map[string]any{"ROAP": int64(10)}, out[0].Values)
	assert.False(t, logs.Has("aggregation_input_missing"))
}

func TestAggregator_Numbers(t *testing.T) {
	tests := []struct {
		name   string
		action string
		values map[string]any
		want   any
	}{
		{name: "mean not divisible", action: config.ActionMean, values: map[string]any{"A": int64(5), "B": int64(2)}, want: 3.5},
		{name: "pipe separated", action: config.ActionSum, values: map[string]any{"A": "1|2|N/A", "B": "4"}, want: int64(7)},
		{name: "floats rounded", action: config.ActionSum, values: map[string]any{"A": 0.123456, "B": int64(1)}, want: 1.1235},
		{name: "range", action: config.ActionRange, values: map[string]any{"A": int64(5), "B": "2", "C": 3.25}, want: "2-5"},
		{name: "thousands separators", action: config.ActionSum, values: map[string]any{"A": "1,000", "B": int64(1)}, want: int64(1001)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			admins := make([]string, 0, len(tt.values))
			for adm := range tt.values {
				admins = append(admins, adm)
			}
			agg := &Aggregator{
				Columns: []config.AggregationColumn{{Column: "x", Action: tt.action}},
				Mapping: ToSingle(admins),
				Logger:  slog.Default(),
			}
			out := runOne(t, agg, columns{{Label: "x", Values: tt.values}})
			require.Len(t, out, 1)
			assert.Equal(t, tt.want, out[0].Values["value"])
		})
	}
}

func TestAggregator_MissingInputs(t *testing.T) {
	logger, logs := testutil.NewTestLogger(t)
	agg := &Aggregator{
		Columns: []config.AggregationColumn{
			{Column: "x", Action: config.ActionSum},
			{Column: "absent", Action: config.ActionSum},
		},
		Mapping: Mapping{"A": {"R1"}, "B": {"R2"}},
		Logger:  logger,
	}
	out := runOne(t, agg, columns{{Label: "x", Values: map[string]any{"A": int64(1), "B": ""}}})

	require.Len(t, out, 1)
	assert.Equal(t, map[string]any{"R1": int64(1)}, out[0].Values)
	testutil.AssertLogged(t, logs, slog.LevelDebug, "aggregation_input_missing")
	testutil.AssertLogged(t, logs, slog.LevelError, "aggregation_column_not_found")
}

func TestAggregator_MultipleInputsFirstNonNull(t *testing.T) {
	in := columns{
		{Label: "primary", Values: map[string]any{"A": nil, "B": int64(2)}},
		{Label: "secondary", Values: map[string]any{"A": int64(10), "B": int64(20)}},
	}
	agg := &Aggregator{
		Columns: []config.AggregationColumn{{
			Column: "total",
			Action: config.ActionSum,
			Input:  config.StringList{"primary", "secondary"},
		}},
		Mapping: ToSingle([]string{"A", "B"}),
		Logger:  slog.Default(),
	}
	out := runOne(t, agg, in)
	require.Len(t, out, 1)
	assert.Equal(t, "total", out[0].Label)
	assert.Equal(t, int64(12), out[0].Values["value"])
}

func TestAggregator_Eval(t *testing.T) {
	logger, logs := testutil.NewTestLogger(t)
	pop := population.NewRegistry()
	pop.Set("ROAP", 400)

	in := columns{{Label: "Cases", HXLTag: "#affected", Values: map[string]any{"AFG": int64(60), "MMR": int64(40), "SYR": int64(5)}}}
	agg := &Aggregator{
		UseHXL: true,
		Columns: []config.AggregationColumn{
			{Column: "#affected", Action: config.ActionSum},
			{Column: "#affected+pct", Action: config.ActionEval, Formula: "#affected / #population"},
		},
		Mapping:    Mapping{"AFG": {"ROAP"}, "MMR": {"ROAP"}, "SYR": {"ROMENA"}},
		Population: pop,
		Logger:     logger,
	}
	out := runOne(t, agg, in)

	require.Len(t, out, 2)
	assert.Equal(t, map[string]any{"ROAP": int64(100), "ROMENA": int64(5)}, out[0].Values)
	assert.Equal(t, 0.25, out[1].Values["ROAP"])
	assert.Nil(t, out[1].Values["ROMENA"])
	assert.Contains(t, out[1].Values, "ROMENA")
	testutil.AssertLogged(t, logs, slog.LevelWarn, "population_missing")
}
