// Package fallback stores the results of a previous run so that they can
// stand in for a unit whose sources fail.
//
// The JSON layout matches the exported results: one list of rows per level
// under "<level>_data", each row keyed by HXL tag, plus a "sources" list.
package fallback

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"hdxscraper/internal/expr"
	"hdxscraper/internal/sources"
)

// Source record keys in the "sources" list.
const (
	SourceTagKey  = "#indicator+name"
	SourceDateKey = "#date"
	SourceNameKey = "#meta+source"
	SourceURLKey  = "#meta+url"

	sourcesKey = "sources"
)

// GlobalAdmin is the admin key of levels with a single value per column.
const GlobalAdmin = "value"

var defaultAdminTags = map[string]string{
	"global":      GlobalAdmin,
	"regional":    "#region+name",
	"national":    "#country+code",
	"subnational": "#adm1+code",
}

// DataKey is the JSON key holding the rows of level.
func DataKey(level string) string { return level + "_data" }

// AdminTag returns the row key that identifies the admin of level. Levels
// other than the four standard ones are treated as regional.
func AdminTag(level string) string {
	if tag, ok := defaultAdminTags[level]; ok {
		return tag
	}
	return defaultAdminTags["regional"]
}

// Row is one admin's values keyed by HXL tag.
type Row map[string]any

// Set is a complete fallback document.
type Set struct {
	Levels  map[string][]Row
	Sources []sources.Record
}

// Table is the tagged output of one level.
type Table struct {
	Tags   []string
	Values []map[string]any
}

// FromResults builds a set from the merged output of a run. Untagged columns
// cannot be looked up again and are left out.
func FromResults(levels map[string]Table, recs []sources.Record) *Set {
	set := &Set{Levels: make(map[string][]Row, len(levels)), Sources: recs}
	for level, table := range levels {
		adminTag := AdminTag(level)
		rows := make(map[string]Row)
		for i, tag := range table.Tags {
			if tag == "" || i >= len(table.Values) {
				continue
			}
			for adm, v := range table.Values[i] {
				if v == nil {
					continue
				}
				row, ok := rows[adm]
				if !ok {
					row = Row{}
					if adminTag != GlobalAdmin {
						row[adminTag] = adm
					}
					rows[adm] = row
				}
				row[tag] = v
			}
		}
		adms := make([]string, 0, len(rows))
		for adm := range rows {
			adms = append(adms, adm)
		}
		sort.Strings(adms)
		list := make([]Row, 0, len(adms))
		for _, adm := range adms {
			list = append(list, rows[adm])
		}
		set.Levels[level] = list
	}
	return set
}

// Has reports whether the set holds data for level.
func (s *Set) Has(level string) bool {
	if s == nil {
		return false
	}
	_, ok := s.Levels[level]
	return ok
}

// Get returns, for each tag, the values recorded for level, together with
// the source records of those tags in file order.
func (s *Set) Get(level string, tags []string) ([]map[string]any, []sources.Record) {
	values := make([]map[string]any, len(tags))
	for i := range values {
		values[i] = make(map[string]any)
	}
	if !s.Has(level) {
		return values, nil
	}

	adminTag := AdminTag(level)
	for _, row := range s.Levels[level] {
		adm := GlobalAdmin
		if adminTag != GlobalAdmin {
			adm = expr.Format(row[adminTag])
			if adm == "" {
				continue
			}
		}
		for i, tag := range tags {
			if v, ok := row[tag]; ok && v != nil {
				values[i][adm] = v
			}
		}
	}

	wanted := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		wanted[tag] = struct{}{}
	}
	var recs []sources.Record
	for _, rec := range s.Sources {
		if _, ok := wanted[rec.HXLTag]; ok {
			recs = append(recs, rec)
		}
	}
	return values, recs
}

// MarshalJSON writes the document layout.
func (s *Set) MarshalJSON() ([]byte, error) {
	doc := make(map[string]any, len(s.Levels)+1)
	for level, rows := range s.Levels {
		if rows == nil {
			rows = []Row{}
		}
		doc[DataKey(level)] = rows
	}
	srcs := make([]map[string]string, 0, len(s.Sources))
	for _, rec := range s.Sources {
		srcs = append(srcs, map[string]string{
			SourceTagKey:  rec.HXLTag,
			SourceDateKey: rec.Date,
			SourceNameKey: rec.Source,
			SourceURLKey:  rec.URL,
		})
	}
	doc[sourcesKey] = srcs
	return json.Marshal(doc)
}

// UnmarshalJSON reads the document layout. Numbers keep integer precision.
func (s *Set) UnmarshalJSON(data []byte) error {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	raw, ok := doc[sourcesKey]
	if !ok {
		return fmt.Errorf("fallback document has no %q key", sourcesKey)
	}
	var srcs []map[string]string
	if err := json.Unmarshal(raw, &srcs); err != nil {
		return fmt.Errorf("fallback sources: %w", err)
	}

	*s = Set{Levels: make(map[string][]Row)}
	for _, src := range srcs {
		s.Sources = append(s.Sources, sources.Record{
			HXLTag: src[SourceTagKey],
			Date:   src[SourceDateKey],
			Source: src[SourceNameKey],
			URL:    src[SourceURLKey],
		})
	}
	for key, raw := range doc {
		level, ok := levelOf(key)
		if !ok {
			continue
		}
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		var rows []map[string]any
		if err := dec.Decode(&rows); err != nil {
			return fmt.Errorf("fallback %s: %w", key, err)
		}
		list := make([]Row, 0, len(rows))
		for _, r := range rows {
			row := make(Row, len(r))
			for k, v := range r {
				row[k] = fromJSON(v)
			}
			list = append(list, row)
		}
		s.Levels[level] = list
	}
	return nil
}

// Parse decodes a fallback document.
func Parse(data []byte) (*Set, error) {
	var s Set
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func levelOf(key string) (string, bool) {
	const suffix = "_data"
	if len(key) <= len(suffix) || key[len(key)-len(suffix):] != suffix {
		return "", false
	}
	return key[:len(key)-len(suffix)], true
}

func fromJSON(v any) any {
	switch x := v.(type) {
	case json.Number:
		if n, ok := expr.ToNumber(x.String()); ok {
			return n
		}
		return x.String()
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = fromJSON(item)
		}
		return out
	}
	return v
}
