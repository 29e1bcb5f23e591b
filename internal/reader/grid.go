package reader

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"

	apperrors "hdxscraper/internal/errors"
)

// recordSource yields raw cell records. A *RecordError marks a record that
// could not be decoded but after which reading may continue.
type recordSource interface {
	next() ([]string, error)
	Close() error
}

// RecordError reports an undecodable record.
type RecordError struct {
	Line int
	Err  error
}

func (e *RecordError) Error() string { return fmt.Sprintf("line %d: %v", e.Line, e.Err) }
func (e *RecordError) Unwrap() error { return e.Err }

// bindGrid reads the header rows (and the HXL tag line if requested) from
// records and returns a Sequence over the remaining records.
func bindGrid(src Source, records recordSource, logger *slog.Logger) (Headers, Sequence, error) {
	logger = loggerOrDefault(logger)
	headerRows := src.Headers.Rows
	if len(headerRows) == 0 && len(src.Headers.Names) == 0 {
		headerRows = []int{1}
	}
	sorted := append([]int(nil), headerRows...)
	sort.Ints(sorted)
	for _, r := range sorted {
		if r < 1 {
			records.Close()
			return Headers{}, nil, apperrors.NewConfigError(fmt.Sprintf("header row %d must be 1 or more", r), nil)
		}
	}

	var stacked [][]string
	line := 0
	if len(sorted) > 0 {
		want := make(map[int]bool, len(sorted))
		for _, r := range sorted {
			want[r] = true
		}
		for line < sorted[len(sorted)-1] {
			rec, err := records.next()
			line++
			if err != nil {
				records.Close()
				if errors.Is(err, io.EOF) {
					return Headers{}, nil, apperrors.NewFormatError(fmt.Sprintf("missing header row %d in %s", line, src.Name), nil)
				}
				return Headers{}, nil, apperrors.NewFormatError("reading header", err)
			}
			if want[line] {
				stacked = append(stacked, rec)
			}
		}
	}

	var names []string
	if len(src.Headers.Names) > 0 {
		names = append(names, src.Headers.Names...)
	} else {
		names = mergeHeaderRows(stacked)
	}
	if !anyNonEmpty(names) {
		records.Close()
		return Headers{}, nil, apperrors.NewFormatError(fmt.Sprintf("empty header in %s", src.Name), nil)
	}
	names = dedupe(names)
	headers := Headers{Names: names}

	if src.UseHXL {
		for {
			rec, err := records.next()
			line++
			if err != nil {
				records.Close()
				if errors.Is(err, io.EOF) {
					return Headers{}, nil, apperrors.NewFormatError(fmt.Sprintf("missing HXL tag row in %s", src.Name), nil)
				}
				return Headers{}, nil, apperrors.NewFormatError("reading HXL tag row", err)
			}
			if !anyNonEmpty(rec) {
				continue
			}
			tags := make([]string, len(names))
			for i := range names {
				if i < len(rec) {
					tags[i] = strings.TrimSpace(rec[i])
				}
			}
			headers.HXLTags = tags
			break
		}
	}

	return headers, &gridSequence{headers: headers, records: records, logger: logger, source: src.Name}, nil
}

// mergeHeaderRows joins stacked header rows column by column. Blank cells in
// upper rows inherit the value to their left, as merged cells do.
func mergeHeaderRows(rows [][]string) []string {
	width := 0
	for _, r := range rows {
		if len(r) > width {
			width = len(r)
		}
	}
	filled := make([][]string, len(rows))
	for i, r := range rows {
		filled[i] = make([]string, width)
		last := ""
		for j := 0; j < width; j++ {
			cell := ""
			if j < len(r) {
				cell = strings.TrimSpace(r[j])
			}
			if cell == "" && i < len(rows)-1 {
				cell = last
			}
			filled[i][j] = cell
			last = cell
		}
	}
	names := make([]string, width)
	for j := 0; j < width; j++ {
		var parts []string
		for i := range filled {
			if c := filled[i][j]; c != "" {
				parts = append(parts, c)
			}
		}
		names[j] = strings.Join(parts, " ")
	}
	return names
}

func anyNonEmpty(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return true
		}
	}
	return false
}

func dedupe(names []string) []string {
	seen := make(map[string]int, len(names))
	out := make([]string, len(names))
	for i, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		seen[n]++
		if seen[n] > 1 {
			n = fmt.Sprintf("%s_%d", n, seen[n])
		}
		out[i] = n
	}
	return out
}

type gridSequence struct {
	headers Headers
	records recordSource
	logger  *slog.Logger
	source  string
	err     error
	done    bool
}

func (s *gridSequence) Next() (Row, bool) {
	for !s.done {
		rec, err := s.records.next()
		if err != nil {
			var recErr *RecordError
			if errors.As(err, &recErr) {
				s.logger.Warn("row_decode_skipped",
					slog.String("source", s.source),
					slog.Int("line", recErr.Line),
					slog.String("error", recErr.Err.Error()))
				continue
			}
			s.done = true
			if !errors.Is(err, io.EOF) {
				s.err = apperrors.NewFormatError(fmt.Sprintf("reading %s", s.source), err)
			}
			return nil, false
		}
		if !anyNonEmpty(rec) {
			continue
		}
		return s.toRow(rec), true
	}
	return nil, false
}

func (s *gridSequence) toRow(rec []string) Row {
	row := make(Row, len(s.headers.Names)*2)
	for i, name := range s.headers.Names {
		cell := ""
		if i < len(rec) {
			cell = rec[i]
		}
		if name != "" {
			row[name] = cell
		}
		if i < len(s.headers.HXLTags) && s.headers.HXLTags[i] != "" {
			row[s.headers.HXLTags[i]] = cell
		}
	}
	return row
}

func (s *gridSequence) Err() error { return s.err }

func (s *gridSequence) Close() error {
	s.done = true
	return s.records.Close()
}

// sliceRecords serves records already held in memory.
type sliceRecords struct {
	records [][]string
	pos     int
	closer  io.Closer
}

func (s *sliceRecords) next() ([]string, error) {
	if s.pos >= len(s.records) {
		return nil, io.EOF
	}
	rec := s.records[s.pos]
	s.pos++
	return rec, nil
}

func (s *sliceRecords) Close() error {
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}
