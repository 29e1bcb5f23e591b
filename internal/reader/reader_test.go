package reader

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	apperrors "hdxscraper/internal/errors"
)

func TestCSVReader_BasicHeaders(t *testing.T) {
	opener := StringOpener{"mem://pop.csv": "\ufeffcountry,year,value\nAFG,2019,100\n\nAFG,2020,120\n"}
	r := &CSVReader{Opener: opener}

	headers, seq, err := r.Read(context.Background(), Source{Name: "pop", URL: "mem://pop.csv"})
	require.NoError(t, err)
	assert.Equal(t, []string{"country", "year", "value"}, headers.Names)
	assert.Nil(t, headers.HXLTags)

	rows, err := Drain(seq)
	require.NoError(t, err)
	require.Len(t, rows, 2, "blank lines are skipped")
	assert.Equal(t, Row{"country": "AFG", "year": "2020", "value": "120"}, rows[1])
}

func TestCSVReader_HXLTagLine(t *testing.T) {
	opener := StringOpener{"mem://hxl.csv": "Country,Population\n#country+code,#population\nAFG,1000\n"}
	r := &CSVReader{Opener: opener}

	headers, seq, err := r.Read(context.Background(), Source{URL: "mem://hxl.csv", UseHXL: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"#country+code", "#population"}, headers.HXLTags)
	assert.Equal(t, "#population", headers.TagFor("Population"))

	rows, err := Drain(seq)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "1000", rows[0]["#population"])
	assert.Equal(t, "1000", rows[0]["Population"])
}

func TestCSVReader_SkipsUndecodableRows(t *testing.T) {
	opener := StringOpener{"mem://bad.csv": "a,b\n1,2\n3,\"x\"y\n5,6\n"}
	r := &CSVReader{Opener: opener}

	_, seq, err := r.Read(context.Background(), Source{URL: "mem://bad.csv"})
	require.NoError(t, err)
	rows, err := Drain(seq)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "5", rows[1]["a"])
}

func TestBindGrid_HeaderVariants(t *testing.T) {
	tables := map[string][][]string{
		"stacked": {
			{"Cases", "", "Deaths", ""},
			{"Total", "Female", "Total", "Female"},
			{"10", "4", "1", "0"},
		},
		"offset": {
			{"Title row"},
			{"iso", "value"},
			{"MMR", "5"},
		},
		"empty": {
			{"", " "},
			{"1", "2"},
		},
		"dupes": {
			{"value", "value"},
			{"1", "2"},
		},
	}
	mem := &MemoryReader{Tables: tables}
	ctx := context.Background()

	t.Run("stacked headers carry merged cells forward", func(t *testing.T) {
		headers, seq, err := mem.Read(ctx, Source{URL: "stacked", Headers: HeaderSpec{Rows: []int{1, 2}}})
		require.NoError(t, err)
		assert.Equal(t, []string{"Cases Total", "Cases Female", "Deaths Total", "Deaths Female"}, headers.Names)
		rows, err := Drain(seq)
		require.NoError(t, err)
		assert.Equal(t, "4", rows[0]["Cases Female"])
	})

	t.Run("header row offset", func(t *testing.T) {
		headers, seq, err := mem.Read(ctx, Source{URL: "offset", Headers: HeaderSpec{Rows: []int{2}}})
		require.NoError(t, err)
		assert.Equal(t, []string{"iso", "value"}, headers.Names)
		rows, err := Drain(seq)
		require.NoError(t, err)
		assert.Len(t, rows, 1)
	})

	t.Run("explicit names consume no rows", func(t *testing.T) {
		headers, seq, err := mem.Read(ctx, Source{URL: "offset", Headers: HeaderSpec{Names: []string{"a", "b"}}})
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, headers.Names)
		rows, err := Drain(seq)
		require.NoError(t, err)
		assert.Len(t, rows, 3)
	})

	t.Run("empty header is a format error", func(t *testing.T) {
		_, _, err := mem.Read(ctx, Source{URL: "empty"})
		assert.ErrorIs(t, err, apperrors.ErrFormat)
	})

	t.Run("missing header row is a format error", func(t *testing.T) {
		_, _, err := mem.Read(ctx, Source{URL: "offset", Headers: HeaderSpec{Rows: []int{9}}})
		assert.ErrorIs(t, err, apperrors.ErrFormat)
	})

	t.Run("duplicate names are suffixed", func(t *testing.T) {
		headers, _, err := mem.Read(ctx, Source{URL: "dupes"})
		require.NoError(t, err)
		assert.Equal(t, []string{"value", "value_2"}, headers.Names)
	})

	t.Run("missing table is source unavailable", func(t *testing.T) {
		_, _, err := mem.Read(ctx, Source{URL: "nope"})
		assert.ErrorIs(t, err, apperrors.ErrSourceUnavailable)
	})
}

func TestXLSXReader_SheetSelection(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.xlsx")
	f := excelize.NewFile()
	require.NoError(t, f.SetSheetRow("Sheet1", "A1", &[]any{"ignored"}))
	_, err := f.NewSheet("Data")
	require.NoError(t, err)
	require.NoError(t, f.SetSheetRow("Data", "A1", &[]any{"iso3", "value"}))
	require.NoError(t, f.SetSheetRow("Data", "A2", &[]any{"AFG", 7}))
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())

	fetcher, err := NewFetcher(FetcherConfig{}, nil)
	require.NoError(t, err)
	r := &XLSXReader{Opener: fetcher}
	ctx := context.Background()

	headers, seq, err := r.Read(ctx, Source{URL: path, Sheet: "Data"})
	require.NoError(t, err)
	assert.Equal(t, []string{"iso3", "value"}, headers.Names)
	rows, err := Drain(seq)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "7", rows[0]["value"])

	headers, _, err = r.Read(ctx, Source{URL: "file://" + path, Sheet: "2"})
	require.NoError(t, err)
	assert.Equal(t, []string{"iso3", "value"}, headers.Names)

	_, _, err = r.Read(ctx, Source{URL: path, Sheet: "Missing"})
	assert.ErrorIs(t, err, apperrors.ErrSourceUnavailable)

	_, _, err = r.Read(ctx, Source{URL: filepath.Join(dir, "absent.xlsx")})
	assert.ErrorIs(t, err, apperrors.ErrSourceUnavailable)
}

func TestJSONReader(t *testing.T) {
	opener := StringOpener{
		"mem://objects.json": `[{"iso3":"AFG","value":1},{"iso3":"MMR","value":2,"extra":"x"}]`,
		"mem://grid.json":    `[["iso3","value"],["AFG",1.5]]`,
		"mem://broken.json":  `{"not":"a list"}`,
	}
	r := &JSONReader{Opener: opener}
	ctx := context.Background()

	headers, seq, err := r.Read(ctx, Source{URL: "mem://objects.json"})
	require.NoError(t, err)
	assert.Equal(t, []string{"iso3", "value", "extra"}, headers.Names)
	rows, err := Drain(seq)
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	_, seq, err = r.Read(ctx, Source{URL: "mem://grid.json"})
	require.NoError(t, err)
	rows, err = Drain(seq)
	require.NoError(t, err)
	assert.Equal(t, "1.5", rows[0]["value"])

	_, _, err = r.Read(ctx, Source{URL: "mem://broken.json"})
	assert.ErrorIs(t, err, apperrors.ErrFormat)
}

func TestMulti_DispatchAndLocate(t *testing.T) {
	opener := StringOpener{"mem://a.csv": "x\n1\n"}
	locator := StaticLocator{
		"population-dataset": {
			{Name: "readme", URL: "mem://readme.txt", Format: "txt"},
			{Name: "population", URL: "mem://a.csv", Format: "CSV"},
		},
	}
	m := NewMulti(locator)
	m.Register(&CSVReader{Opener: opener}, "csv")
	ctx := context.Background()

	headers, _, err := m.Read(ctx, Source{URL: "mem://a.csv"})
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, headers.Names)

	headers, _, err = m.Read(ctx, Source{Dataset: "population-dataset", Format: "csv"})
	require.NoError(t, err, "first resource matching the format")
	assert.Equal(t, []string{"x"}, headers.Names)

	_, _, err = m.Read(ctx, Source{Dataset: "population-dataset", Resource: "missing"})
	assert.ErrorIs(t, err, apperrors.ErrSourceUnavailable)

	_, _, err = m.Read(ctx, Source{URL: "mem://a.parquet"})
	assert.ErrorIs(t, err, apperrors.ErrConfig)
}

func TestFetcher_HTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		assert.Equal(t, "hdxscraper", r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte("iso3\nAFG\n"))
	}))
	defer srv.Close()

	fetcher, err := NewFetcher(FetcherConfig{RequestsPerSecond: 100, Burst: 2}, nil)
	require.NoError(t, err)
	r := &CSVReader{Opener: fetcher}

	_, seq, err := r.Read(context.Background(), Source{URL: srv.URL + "/data.csv"})
	require.NoError(t, err)
	rows, err := Drain(seq)
	require.NoError(t, err)
	assert.Equal(t, []Row{{"iso3": "AFG"}}, rows)

	_, _, err = r.Read(context.Background(), Source{URL: srv.URL + "/missing"})
	assert.ErrorIs(t, err, apperrors.ErrSourceUnavailable)
}

func TestFetcher_S3WithoutConfig(t *testing.T) {
	fetcher, err := NewFetcher(FetcherConfig{}, nil)
	require.NoError(t, err)
	_, err = fetcher.Open(context.Background(), "s3://bucket/key.csv")
	assert.ErrorIs(t, err, apperrors.ErrConfig)
}

func TestSpreadsheetID(t *testing.T) {
	id, ok := SpreadsheetID("https://docs.google.com/spreadsheets/d/1AbC_d-9/edit#gid=0")
	assert.True(t, ok)
	assert.Equal(t, "1AbC_d-9", id)

	id, ok = SpreadsheetID("gsheet://XYZ/tab")
	assert.True(t, ok)
	assert.Equal(t, "XYZ", id)

	_, ok = SpreadsheetID("https://example.org/file.csv")
	assert.False(t, ok)
	assert.Equal(t, "gsheet", inferFormat("gsheet://XYZ"))
	assert.Equal(t, "csv", inferFormat("https://example.org/file.CSV?dl=1"))
}
