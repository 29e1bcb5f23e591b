package scraper

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hdxscraper/internal/config"
	"hdxscraper/internal/population"
	"hdxscraper/internal/selection"
)

func TestBracketGroups(t *testing.T) {
	tests := []struct {
		name    string
		formula string
		inputs  []string
		want    [][]int
	}{
		{name: "no groups", formula: "a + b", inputs: []string{"a", "b"}},
		{name: "nested", formula: "(a + (b)) / c", inputs: []string{"a", "b", "c"}, want: [][]int{{1}, {0, 1}}},
		{name: "brackets inside a column name", formula: "Total (est) * 2", inputs: []string{"Total (est)"}},
		{name: "constant group ignored", formula: "(100) * a", inputs: []string{"a"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, bracketGroups(tt.formula, tt.inputs))
		})
	}
}

func TestProcessColumns(t *testing.T) {
	pop := population.NewRegistry()
	pop.Set("AFG", 200)

	sr := selection.SubsetResult{
		Subset: config.Subset{
			Input:           config.StringList{"Cases", "Deaths"},
			InputKeep:       config.StringList{"Deaths"},
			InputIgnoreVals: config.StringList{"-"},
			Process: []string{
				"Cases + Deaths",
				"(Cases) + (Deaths)",
				"Cases / #population",
			},
		},
		Admins: []string{"AFG", "MMR", "SYR"},
		Columns: []map[string]any{
			{"AFG": []any{"10", "40"}, "MMR": []any{""}, "SYR": []any{"7"}},
			{"AFG": []any{"1", "4"}, "MMR": []any{"-"}, "SYR": []any{""}},
		},
	}
	out, err := processColumns(context.Background(), sr, pop, slog.Default())
	require.NoError(t, err)
	require.Len(t, out, 3)

	assert.Equal(t, map[string]any{"AFG": int64(41), "MMR": nil, "SYR": int64(7)}, out[0])
	assert.Equal(t, map[string]any{"AFG": int64(41), "MMR": nil, "SYR": nil}, out[1])
	assert.Equal(t, 0.2, out[2]["AFG"])
	assert.Nil(t, out[2]["SYR"])
}
