package reader

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	apperrors "hdxscraper/internal/errors"
)

// Opener retrieves raw bytes for a URL. Fetcher is the production Opener.
type Opener interface {
	Open(ctx context.Context, url string) (io.ReadCloser, error)
}

// CSVReader reads comma separated sources.
type CSVReader struct {
	Opener Opener
	Comma  rune
	Logger *slog.Logger
}

// Read implements Reader
func (r *CSVReader) Read(ctx context.Context, src Source) (Headers, Sequence, error) {
	rc, err := r.Opener.Open(ctx, src.URL)
	if err != nil {
		return Headers{}, nil, err
	}
	cr := csv.NewReader(skipBOM(rc))
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = false
	if r.Comma != 0 {
		cr.Comma = r.Comma
	}
	return bindGrid(src, &csvRecords{reader: cr, closer: rc}, r.Logger)
}

type csvRecords struct {
	reader *csv.Reader
	closer io.Closer
}

func (c *csvRecords) next() ([]string, error) {
	rec, err := c.reader.Read()
	if err != nil {
		var parseErr *csv.ParseError
		if errors.As(err, &parseErr) {
			return nil, &RecordError{Line: parseErr.Line, Err: parseErr.Err}
		}
		return nil, err
	}
	return rec, nil
}

func (c *csvRecords) Close() error { return c.closer.Close() }

func skipBOM(r io.Reader) io.Reader {
	br := bufio.NewReader(r)
	if b, err := br.Peek(3); err == nil && b[0] == 0xEF && b[1] == 0xBB && b[2] == 0xBF {
		_, _ = br.Discard(3)
	}
	return br
}

// XLSXReader reads Excel workbooks.
type XLSXReader struct {
	Opener Opener
	Logger *slog.Logger
}

// Read implements Reader
func (r *XLSXReader) Read(ctx context.Context, src Source) (Headers, Sequence, error) {
	rc, err := r.Opener.Open(ctx, src.URL)
	if err != nil {
		return Headers{}, nil, err
	}
	defer rc.Close()
	f, err := excelize.OpenReader(rc)
	if err != nil {
		return Headers{}, nil, apperrors.NewFormatError(fmt.Sprintf("opening workbook %s", src.URL), err)
	}
	sheet, err := selectSheet(f.GetSheetList(), src.Sheet)
	if err != nil {
		f.Close()
		return Headers{}, nil, err
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		f.Close()
		return Headers{}, nil, apperrors.NewFormatError(fmt.Sprintf("reading sheet %s", sheet), err)
	}
	loggerOrDefault(r.Logger).Debug("sheet_selected",
		slog.String("source", src.Name),
		slog.String("sheet", sheet),
		slog.Int("rows", len(rows)))
	return bindGrid(src, &sliceRecords{records: rows, closer: f}, r.Logger)
}

// selectSheet picks a sheet by name or 1-based index, defaulting to the first.
func selectSheet(sheets []string, want string) (string, error) {
	if len(sheets) == 0 {
		return "", apperrors.NewFormatError("workbook has no sheets", nil)
	}
	want = strings.TrimSpace(want)
	if want == "" {
		return sheets[0], nil
	}
	for _, s := range sheets {
		if s == want {
			return s, nil
		}
	}
	if i, err := strconv.Atoi(want); err == nil && i >= 1 && i <= len(sheets) {
		return sheets[i-1], nil
	}
	return "", apperrors.NewSourceUnavailableError(fmt.Sprintf("sheet %s not found", want), nil).
		WithContext("sheets", sheets)
}

// JSONReader reads either an array of arrays (treated like a grid) or an
// array of objects.
type JSONReader struct {
	Opener Opener
	Logger *slog.Logger
}

// Read implements Reader
func (r *JSONReader) Read(ctx context.Context, src Source) (Headers, Sequence, error) {
	rc, err := r.Opener.Open(ctx, src.URL)
	if err != nil {
		return Headers{}, nil, err
	}
	defer rc.Close()
	var raw []json.RawMessage
	if err := json.NewDecoder(rc).Decode(&raw); err != nil {
		return Headers{}, nil, apperrors.NewFormatError(fmt.Sprintf("decoding %s", src.URL), err)
	}
	if len(raw) == 0 {
		return Headers{}, nil, apperrors.NewFormatError(fmt.Sprintf("empty document %s", src.URL), nil)
	}
	trimmed := strings.TrimSpace(string(raw[0]))
	if strings.HasPrefix(trimmed, "[") {
		records := make([][]string, 0, len(raw))
		for i, msg := range raw {
			var cells []any
			if err := json.Unmarshal(msg, &cells); err != nil {
				loggerOrDefault(r.Logger).Warn("row_decode_skipped",
					slog.String("source", src.Name),
					slog.Int("line", i+1),
					slog.String("error", err.Error()))
				continue
			}
			rec := make([]string, len(cells))
			for j, c := range cells {
				rec[j] = cellString(c)
			}
			records = append(records, rec)
		}
		return bindGrid(src, &sliceRecords{records: records}, r.Logger)
	}

	var rows []Row
	seen := map[string]bool{}
	var names []string
	for i, msg := range raw {
		var obj map[string]any
		if err := json.Unmarshal(msg, &obj); err != nil {
			loggerOrDefault(r.Logger).Warn("row_decode_skipped",
				slog.String("source", src.Name),
				slog.Int("line", i+1),
				slog.String("error", err.Error()))
			continue
		}
		keys := make([]string, 0, len(obj))
		for k := range obj {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if !seen[k] {
				seen[k] = true
				names = append(names, k)
			}
		}
		rows = append(rows, Row(obj))
	}
	if len(src.Headers.Names) > 0 {
		names = src.Headers.Names
	}
	if len(names) == 0 {
		return Headers{}, nil, apperrors.NewFormatError(fmt.Sprintf("no columns in %s", src.URL), nil)
	}
	return Headers{Names: names}, NewSliceSequence(rows), nil
}

func cellString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	}
	return fmt.Sprint(v)
}
