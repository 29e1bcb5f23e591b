// Package reader turns source descriptors into header-bound rows.
package reader

import (
	"context"
	"log/slog"
)

// Row is one source record keyed by header and, when the source carries an
// HXL tag line, by HXL tag as well.
type Row map[string]any

// Clone returns a shallow copy of the row.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Headers holds the column names and their HXL tags, index-aligned. HXLTags
// is nil when the source has no tag line.
type Headers struct {
	Names   []string
	HXLTags []string
}

// TagFor returns the HXL tag of a header, or "".
func (h Headers) TagFor(name string) string {
	for i, n := range h.Names {
		if n == name && i < len(h.HXLTags) {
			return h.HXLTags[i]
		}
	}
	return ""
}

// HeaderSpec selects header rows. Rows are 1-based; several rows are stacked.
// Names overrides the file's header text.
type HeaderSpec struct {
	Rows  []int
	Names []string
}

// Source describes where and how to read a table.
type Source struct {
	Name     string
	URL      string
	Format   string
	Sheet    string
	Dataset  string
	Resource string
	Headers  HeaderSpec
	UseHXL   bool
}

// Sequence is a lazy, single-pass iterator over rows.
type Sequence interface {
	Next() (Row, bool)
	Err() error
	Close() error
}

// Reader produces the headers and rows of a source.
type Reader interface {
	Read(ctx context.Context, src Source) (Headers, Sequence, error)
}

// ReaderFunc adapts a function to Reader.
type ReaderFunc func(ctx context.Context, src Source) (Headers, Sequence, error)

// Read implements Reader
func (f ReaderFunc) Read(ctx context.Context, src Source) (Headers, Sequence, error) {
	return f(ctx, src)
}

// Drain reads every remaining row of seq and closes it.
func Drain(seq Sequence) ([]Row, error) {
	defer seq.Close()
	var rows []Row
	for {
		row, ok := seq.Next()
		if !ok {
			break
		}
		rows = append(rows, row)
	}
	return rows, seq.Err()
}

// sliceSequence iterates over rows already in memory.
type sliceSequence struct {
	rows []Row
	pos  int
}

// NewSliceSequence wraps rows in a Sequence.
func NewSliceSequence(rows []Row) Sequence {
	return &sliceSequence{rows: rows}
}

func (s *sliceSequence) Next() (Row, bool) {
	if s.pos >= len(s.rows) {
		return nil, false
	}
	row := s.rows[s.pos]
	s.pos++
	return row, true
}

func (s *sliceSequence) Err() error   { return nil }
func (s *sliceSequence) Close() error { return nil }

func loggerOrDefault(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}
