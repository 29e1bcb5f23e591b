package population

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_SetOverwrites(t *testing.T) {
	r := NewRegistry()
	r.Set("AFG", 100)
	r.Set("AFG", 480)

	v, ok := r.Get("AFG")
	require.True(t, ok)
	assert.Equal(t, 480.0, v)

	_, ok = r.Get("MMR")
	assert.False(t, ok)

	lv, ok := r.Lookup("AFG")
	require.True(t, ok)
	assert.Equal(t, int64(480), lv)
}

func TestRegistry_AddValues(t *testing.T) {
	tests := []struct {
		name     string
		values   map[string]any
		fixedKey string
		want     map[string]float64
	}{
		{
			name:   "per admin",
			values: map[string]any{"AFG": int64(480), "MMR": "54,000", "SYR": "n/a", "YEM": nil},
			want:   map[string]float64{"AFG": 480, "MMR": 54000},
		},
		{
			name:     "single value under population key",
			values:   map[string]any{"value": 7.5e9},
			fixedKey: "global",
			want:     map[string]float64{"global": 7.5e9},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry()
			n := r.AddValues(tt.values, tt.fixedKey)
			assert.Equal(t, len(tt.want), n)
			assert.Equal(t, tt.want, r.Snapshot())
		})
	}
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r.Set("AFG", float64(i))
			_, _ = r.Get("AFG")
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, r.Len())
	assert.Equal(t, []string{"AFG"}, r.Keys())
}
