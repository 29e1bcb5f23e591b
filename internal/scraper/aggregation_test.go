package scraper

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hdxscraper/internal/config"
	apperrors "hdxscraper/internal/errors"
	"hdxscraper/internal/population"
)

type levels map[string]*OutputMatrix

func (l levels) Level(level string) (*OutputMatrix, bool) {
	m, ok := l[level]
	return m, ok
}

func nationalResults() levels {
	m := &OutputMatrix{}
	m.Add(Header{Label: "Cases", HXLTag: "#affected"}, map[string]any{"AFG": int64(10), "MMR": nil, "SYR": int64(4)})
	return levels{config.LevelNational: m}
}

func TestAggregation_Produce(t *testing.T) {
	l := NewRegionLookup(regionSpec(), nil, nil)
	l.Memberships = map[string][]string{"AFG": {"ROAP"}, "MMR": {"ROAP"}, "SYR": {"ROMENA"}}

	tests := []struct {
		name  string
		spec  config.AggregationSpec
		level string
		want  map[string]any
	}{
		{
			name: "regions",
			spec: config.AggregationSpec{
				Name: "regional", InputLevel: config.LevelNational, OutputLevel: "regional",
				UseHXL: true, Mapping: config.MappingRegions,
				Columns: []config.AggregationColumn{{Column: "#affected", Action: config.ActionSum}},
			},
			level: "regional",
			want:  map[string]any{"ROAP": int64(10), "ROMENA": int64(4)},
		},
		{
			name: "global",
			spec: config.AggregationSpec{
				Name: "global", InputLevel: config.LevelNational, OutputLevel: "global",
				Mapping: config.MappingGlobal,
				Columns: []config.AggregationColumn{{Column: "Cases", Action: config.ActionSum}},
			},
			level: "global",
			want:  map[string]any{"value": int64(14)},
		},
		{
			name: "explicit table",
			spec: config.AggregationSpec{
				Name: "custom", InputLevel: config.LevelNational, OutputLevel: "custom",
				AdminTable: map[string][]string{"AFG": {"X"}, "SYR": {"X", "Y"}},
				Columns:    []config.AggregationColumn{{Column: "Cases", Action: config.ActionMean}},
			},
			level: "custom",
			want:  map[string]any{"X": int64(7), "Y": int64(4)},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			unit := NewAggregation(tt.spec, l)
			assert.True(t, unit.Traits().ReadsResults)
			out, err := unit.Produce(context.Background(), &RunContext{
				Results:    nationalResults(),
				Population: population.NewRegistry(),
			})
			require.NoError(t, err)
			require.Contains(t, out, tt.level)
			assert.Equal(t, tt.want, out[tt.level].Matrix.Values[0])
		})
	}
}

func TestAggregation_MissingInputLevel(t *testing.T) {
	unit := NewAggregation(config.AggregationSpec{Name: "r", InputLevel: "subnational", OutputLevel: "regional"}, nil)
	_, err := unit.Produce(context.Background(), &RunContext{Results: nationalResults()})
	assert.ErrorIs(t, err, apperrors.ErrAggregationInputMissing)
}
