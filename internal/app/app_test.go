package app

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hdxscraper/internal/config"
	"hdxscraper/internal/fallback"
	"hdxscraper/internal/runner"
)

const units = `
units:
  - code: AFG
    name: Afghanistan
    level: 0
  - code: MMR
    name: Myanmar
    level: 0
    aliases: [Burma]
`

const cached = `{
  "national_data": [{"#country+code": "AFG", "#broken": 7}],
  "sources": [{"#indicator+name": "#broken", "#date": "Apr 1, 2020", "#meta+source": "Cache", "#meta+url": "https://example.org/cache"}]
}`

func write(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func newTestApp(t *testing.T) (*Application, string) {
	t.Helper()
	dir := t.TempDir()
	cases := write(t, dir, "cases.csv", "Country,Total\nAfghanistan,100\nBurma,50\n")
	doc, err := config.ParseScrapers([]byte(`
scrapers:
  cases:
    url: ` + cases + `
    admin: Country
    input: Total
    output: Total
    output_hxl: "#total"
    source: WHO
    source_date: "2020-05-01"
  broken:
    url: ` + filepath.Join(dir, "missing.csv") + `
    admin: Country
    input: Value
    output: Broken
    output_hxl: "#broken"
    source: Nobody
`))
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Run.AdminUnits = write(t, dir, "units.yaml", units)
	cfg.Run.FallbackFile = write(t, dir, "fallback.json", cached)
	cfg.Telemetry.Metrics = false

	out := filepath.Join(dir, "out", "results.json")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	a, err := New(context.Background(), cfg, doc, Options{Output: out, Today: "2021-01-01"}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })
	return a, out
}

func TestApplication_RunWritesResults(t *testing.T) {
	a, out := newTestApp(t)
	require.NoError(t, a.Run(context.Background()))

	assert.Equal(t, runner.UnitStatusSucceeded, a.Runner.Status("cases"))
	assert.Equal(t, runner.UnitStatusFallback, a.Runner.Status("broken"))

	set, err := fallback.NewFileStore(out).Load(context.Background())
	require.NoError(t, err)
	cols, recs := set.Get(config.LevelNational, []string{"#total", "#broken"})
	assert.Equal(t, map[string]any{"AFG": int64(100), "MMR": int64(50)}, cols[0])
	assert.Equal(t, map[string]any{"AFG": int64(7)}, cols[1])

	require.Len(t, recs, 2)
	assert.Equal(t, "#total", recs[0].HXLTag)
	assert.Equal(t, "May 1, 2020", recs[0].Date)
	assert.Equal(t, "#broken", recs[1].HXLTag)
	assert.Equal(t, "Cache", recs[1].Source)
}

func TestApplication_Handler(t *testing.T) {
	a, _ := newTestApp(t)
	require.NoError(t, a.Run(context.Background()))

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/results/national", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"used_fallback":true`)
	assert.Contains(t, rec.Body.String(), `"broken"`)
}

func TestNew_InvalidToday(t *testing.T) {
	doc, err := config.ParseScrapers([]byte(`
scrapers:
  cases:
    url: cases.csv
    admin: Country
    input: Total
    output: Total
`))
	require.NoError(t, err)
	cfg := config.Default()
	cfg.Telemetry.Metrics = false
	_, err = New(context.Background(), cfg, doc, Options{Today: "yesterday"}, nil)
	assert.Error(t, err)
}
