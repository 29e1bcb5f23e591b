package scraper_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hdxscraper/internal/config"
	apperrors "hdxscraper/internal/errors"
	"hdxscraper/internal/reader"
	"hdxscraper/internal/scraper"
	"hdxscraper/internal/shared/testutil"
	"hdxscraper/internal/sources"
)

const timeSeriesDocument = `
timeseries:
  casualties:
    url: mem://casualties
    date: [Date, Time]
    date_type: date
    date_hxl: "#date"
    input: [Killed, Injured]
    output: [Killed, Injured]
    output_hxl: ["#affected+killed", "#affected+injured"]
    source: ACLED
  funding:
    url: mem://funding
    date: Year
    date_type: year
    ignore_future_date: false
    input: [Amount]
    output: [Funding]
    output_hxl: ["#value+funding"]
    source: FTS
    source_date: "2021-01-01"
  missing:
    url: mem://nowhere
    date: Year
    date_type: year
    input: [Amount]
    output: [Amount]
`

func newTimeSeriesContext(t *testing.T) (*config.Document, *scraper.RunContext, *testutil.CaptureHandler) {
	t.Helper()
	doc, err := config.ParseScrapers([]byte(timeSeriesDocument))
	require.NoError(t, err)
	logger, logs := testutil.NewTestLogger(t)
	rc := &scraper.RunContext{
		Today: time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC),
		Reader: &reader.MemoryReader{Tables: map[string][][]string{
			"mem://casualties": testutil.Table([]string{"Date", "Time", "Killed", "Injured"},
				[]string{"2020-05-01", " 10:00:00", "3", "5"},
				[]string{"2020-06-01", " 00:00:00", "4", "1"},
				[]string{"2099-01-01", " 00:00:00", "9", "9"},
				[]string{"unknown", "", "1", "1"},
			),
			"mem://funding": testutil.Table([]string{"Year", "Amount"},
				[]string{"2019", "100"},
				[]string{"2030", "250"},
			),
		}},
		DateFormat: sources.NewDateFormat(nil, "", ""),
		Logger:     logger,
	}
	return doc, rc, logs
}

func timeSeries(t *testing.T, doc *config.Document, name string) *scraper.TimeSeries {
	t.Helper()
	for _, spec := range doc.TimeSeries {
		if spec.Name == name {
			return scraper.NewTimeSeries(spec)
		}
	}
	t.Fatalf("time series %s not found", name)
	return nil
}

func TestTimeSeries_DatedRows(t *testing.T) {
	doc, rc, logs := newTimeSeriesContext(t)
	unit := timeSeries(t, doc, "casualties")
	assert.Equal(t, "timeseries_casualties", unit.Name())
	assert.Equal(t, []string{"timeseries_casualties"}, unit.Levels())

	out, err := unit.Produce(context.Background(), rc)
	require.NoError(t, err)
	lo, ok := out["timeseries_casualties"]
	require.True(t, ok)
	require.NotNil(t, lo.Table)
	assert.Nil(t, lo.Matrix)

	assert.Equal(t, []scraper.Header{
		{Label: "DateTime", HXLTag: "#date"},
		{Label: "Killed", HXLTag: "#affected+killed"},
		{Label: "Injured", HXLTag: "#affected+injured"},
	}, lo.Table.Headers)
	assert.Equal(t, [][]any{
		{"2020-05-01", "3", "5"},
		{"2020-06-01", "4", "1"},
	}, lo.Table.Rows, "future and unparseable dates are dropped")
	assert.Equal(t, 2, lo.Rows)

	assert.Equal(t, []sources.Record{
		{HXLTag: "#affected+killed", Date: "Jun 1, 2020", Source: "ACLED", URL: "mem://casualties"},
		{HXLTag: "#affected+injured", Date: "Jun 1, 2020", Source: "ACLED", URL: "mem://casualties"},
	}, lo.Sources)
	testutil.AssertLogged(t, logs, slog.LevelWarn, "timeseries_dates_invalid")
}

func TestTimeSeries_YearsKeepFutureWhenAllowed(t *testing.T) {
	doc, rc, _ := newTimeSeriesContext(t)
	out, err := timeSeries(t, doc, "funding").Produce(context.Background(), rc)
	require.NoError(t, err)

	lo := out["timeseries_funding"]
	require.NotNil(t, lo)
	assert.Equal(t, [][]any{{"2019", "100"}, {"2030", "250"}}, lo.Table.Rows)
	assert.Equal(t, []sources.Record{
		{HXLTag: "#value+funding", Date: "Jan 1, 2021", Source: "FTS", URL: "mem://funding"},
	}, lo.Sources, "document source date wins")
}

func TestTimeSeries_SourceUnavailable(t *testing.T) {
	doc, rc, _ := newTimeSeriesContext(t)
	_, err := timeSeries(t, doc, "missing").Produce(context.Background(), rc)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrSourceUnavailable)
}

func TestTable_MarshalJSON(t *testing.T) {
	table := &scraper.Table{
		Headers: []scraper.Header{{Label: "Date", HXLTag: "#date"}, {Label: "Killed", HXLTag: "#affected+killed"}},
		Rows:    [][]any{{"2020-05-01", "3"}},
	}
	data, err := json.Marshal(table)
	require.NoError(t, err)
	assert.JSONEq(t, `[["Date","Killed"],["#date","#affected+killed"],["2020-05-01","3"]]`, string(data))
}
