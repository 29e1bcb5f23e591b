// Package sources builds and de-duplicates the provenance records emitted
// with every output column.
package sources

import (
	"encoding/json"
	"fmt"
)

// Record describes where the values of one HXL tag came from.
type Record struct {
	HXLTag string
	Date   string
	Source string
	URL    string
}

// MarshalJSON writes the record as [tag, date, source, url].
func (r Record) MarshalJSON() ([]byte, error) {
	return json.Marshal([4]string{r.HXLTag, r.Date, r.Source, r.URL})
}

// UnmarshalJSON reads the array form written by MarshalJSON.
func (r *Record) UnmarshalJSON(data []byte) error {
	var fields []string
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	if len(fields) != 4 {
		return fmt.Errorf("source record needs 4 fields, got %d", len(fields))
	}
	*r = Record{HXLTag: fields[0], Date: fields[1], Source: fields[2], URL: fields[3]}
	return nil
}
