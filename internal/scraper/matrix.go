package scraper

import (
	"fmt"

	"hdxscraper/internal/aggregate"
	apperrors "hdxscraper/internal/errors"
	"hdxscraper/internal/expr"
)

// Header labels one output column.
type Header struct {
	Label  string
	HXLTag string
}

// OutputMatrix holds ordered output columns, each a mapping from admin key
// to value.
type OutputMatrix struct {
	Headers []Header
	Values  []map[string]any
}

// NewOutputMatrix checks that headers and values line up.
func NewOutputMatrix(headers []Header, values []map[string]any) (*OutputMatrix, error) {
	m := &OutputMatrix{Headers: headers, Values: values}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// Validate checks the column count and that no column mixes numbers,
// strings and lists.
func (m *OutputMatrix) Validate() error {
	if len(m.Headers) != len(m.Values) {
		return apperrors.NewConfigError(
			fmt.Sprintf("output has %d headers for %d columns", len(m.Headers), len(m.Values)), nil)
	}
	for i, col := range m.Values {
		kind := ""
		for adm, v := range col {
			k := kindOf(v)
			if k == "" {
				continue
			}
			if kind == "" {
				kind = k
				continue
			}
			if k != kind {
				return apperrors.NewFormatError(
					fmt.Sprintf("column %q mixes %s and %s values", m.Headers[i].Label, kind, k), nil).
					WithContext("admin", adm)
			}
		}
	}
	return nil
}

func kindOf(v any) string {
	switch v.(type) {
	case nil:
		return ""
	case int64, int, float64:
		return "number"
	case []any:
		return "list"
	}
	return "string"
}

// Len returns the number of columns.
func (m *OutputMatrix) Len() int { return len(m.Headers) }

// Add appends a column.
func (m *OutputMatrix) Add(h Header, values map[string]any) {
	m.Headers = append(m.Headers, h)
	m.Values = append(m.Values, values)
}

// Merge appends other's columns. A column whose HXL tag is already present
// has its values updated instead.
func (m *OutputMatrix) Merge(other *OutputMatrix) {
	if other == nil {
		return
	}
	for i, h := range other.Headers {
		if idx := m.indexOf(h.HXLTag, true); h.HXLTag != "" && idx >= 0 {
			for adm, v := range other.Values[i] {
				m.Values[idx][adm] = v
			}
			continue
		}
		values := make(map[string]any, len(other.Values[i]))
		for adm, v := range other.Values[i] {
			values[adm] = v
		}
		m.Add(h, values)
	}
}

func (m *OutputMatrix) indexOf(name string, byTag bool) int {
	for i, h := range m.Headers {
		if (byTag && h.HXLTag == name) || (!byTag && h.Label == name) {
			return i
		}
	}
	return -1
}

// Column implements aggregate.Input
func (m *OutputMatrix) Column(name string, byTag bool) (aggregate.Column, bool) {
	idx := m.indexOf(name, byTag)
	if idx < 0 {
		return aggregate.Column{}, false
	}
	h := m.Headers[idx]
	return aggregate.Column{Label: h.Label, HXLTag: h.HXLTag, Values: m.Values[idx]}, true
}

// Admins returns every admin key present in any column.
func (m *OutputMatrix) Admins() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, col := range m.Values {
		for adm := range col {
			if _, ok := seen[adm]; ok {
				continue
			}
			seen[adm] = struct{}{}
			out = append(out, adm)
		}
	}
	return out
}

// typeColumn converts a column of raw cell text to numbers when every value
// is numeric. Otherwise every scalar is kept as text. Empty cells become
// null.
func typeColumn(values map[string]any) map[string]any {
	numeric := true
	for _, v := range values {
		switch v.(type) {
		case []any:
			return values
		}
		if expr.IsEmpty(v) {
			continue
		}
		if _, ok := expr.ToNumber(v); !ok {
			numeric = false
		}
	}
	out := make(map[string]any, len(values))
	for adm, v := range values {
		switch {
		case expr.IsEmpty(v):
			out[adm] = nil
		case numeric:
			n, _ := expr.ToNumber(v)
			out[adm] = n
		default:
			out[adm] = expr.Format(v)
		}
	}
	return out
}
