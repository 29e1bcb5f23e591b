package catalog

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "hdxscraper/internal/errors"
	"hdxscraper/internal/reader"
	"hdxscraper/internal/sources"
)

const whoDataset = `{
  "success": true,
  "result": {
    "name": "who-covid",
    "title": "WHO COVID-19",
    "dataset_date": "[2020-01-03T00:00:00 TO 2020-07-01T23:59:59]",
    "organization": {"title": "World Health Organization"},
    "resources": [
      {"name": "cases.csv", "url": "https://example.org/cases.csv", "format": "CSV"},
      {"name": "cases.xlsx", "url": "https://example.org/cases.xlsx", "format": "XLSX"}
    ]
  }
}`

type countingOpener struct {
	contents reader.StringOpener
	calls    int
}

func (o *countingOpener) Open(ctx context.Context, url string) (io.ReadCloser, error) {
	o.calls++
	return o.contents.Open(ctx, url)
}

func newCatalog(t *testing.T) (*CKAN, *countingOpener) {
	t.Helper()
	op := &countingOpener{contents: reader.StringOpener{
		"https://data.example.org/api/3/action/package_show?id=who-covid": whoDataset,
		"https://data.example.org/api/3/action/package_show?id=gone":      `{"success": false, "error": {"message": "Not found"}}`,
		"https://data.example.org/api/3/action/package_show?id=broken":    `{"success": tru`,
	}}
	c, err := NewCKAN("https://data.example.org/", op, nil)
	require.NoError(t, err)
	return c, op
}

func TestCKAN_Metadata(t *testing.T) {
	c, op := newCatalog(t)

	meta, err := c.Metadata(context.Background(), "who-covid")
	require.NoError(t, err)
	assert.Equal(t, "World Health Organization", meta.Source)
	assert.Equal(t, "https://data.example.org/dataset/who-covid", meta.URL)
	assert.Equal(t, time.Date(2020, 1, 3, 0, 0, 0, 0, time.UTC), meta.Span.Start)
	assert.Equal(t, 2020, meta.Span.End.Year())
	assert.Equal(t, time.July, meta.Span.End.Month())

	_, err = c.Metadata(context.Background(), "who-covid")
	require.NoError(t, err)
	assert.Equal(t, 1, op.calls)
}

func TestCKAN_Errors(t *testing.T) {
	c, _ := newCatalog(t)
	tests := []struct {
		name    string
		dataset string
		want    error
	}{
		{name: "unsuccessful", dataset: "gone", want: apperrors.ErrSourceUnavailable},
		{name: "bad json", dataset: "broken", want: apperrors.ErrFormat},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Metadata(context.Background(), tt.dataset)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestCKAN_Locate(t *testing.T) {
	c, _ := newCatalog(t)
	res, err := c.Locate(context.Background(), "who-covid", "", "xlsx")
	require.NoError(t, err)
	assert.Equal(t, "https://example.org/cases.xlsx", res.URL)

	res, err = c.Locate(context.Background(), "who-covid", "cases.csv", "")
	require.NoError(t, err)
	assert.Equal(t, "CSV", res.Format)
}

func TestParseDatasetDate(t *testing.T) {
	tests := []struct {
		in   string
		want sources.Span
		ok   bool
	}{
		{in: "[2020-05-01T00:00:00 TO 2020-05-01T23:59:59]", want: sources.SpanOf(time.Date(2020, 5, 1, 23, 59, 59, 0, time.UTC)), ok: true},
		{in: "2021-02-03", want: sources.SpanOf(time.Date(2021, 2, 3, 0, 0, 0, 0, time.UTC)), ok: true},
		{in: "", ok: false},
		{in: "[soon TO later]", ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := parseDatasetDate(tt.in)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}
