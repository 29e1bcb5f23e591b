package scraper

import "encoding/json"

// Table is an ordered set of rows, used by units whose output is not keyed
// by admin.
type Table struct {
	Headers []Header
	Rows    [][]any
}

// MarshalJSON writes the table as rows: the header labels, the HXL tags,
// then the data rows.
func (t *Table) MarshalJSON() ([]byte, error) {
	labels := make([]any, len(t.Headers))
	tags := make([]any, len(t.Headers))
	for i, h := range t.Headers {
		labels[i] = h.Label
		tags[i] = h.HXLTag
	}
	rows := make([][]any, 0, len(t.Rows)+2)
	rows = append(rows, labels, tags)
	rows = append(rows, t.Rows...)
	return json.Marshal(rows)
}
