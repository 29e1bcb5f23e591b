package runner

import (
	"encoding/json"

	"hdxscraper/internal/fallback"
	"hdxscraper/internal/scraper"
	"hdxscraper/internal/sources"
)

// LevelResult is the merged output of one level.
type LevelResult struct {
	Level        string
	Headers      []scraper.Header
	Values       []map[string]any
	Sources      []sources.Record
	UsedFallback bool
	// Fallbacks names the units whose cached results were used.
	Fallbacks []string
}

type levelResultJSON struct {
	Headers      [][2]string      `json:"headers"`
	Values       []map[string]any `json:"values"`
	Sources      []sources.Record `json:"sources"`
	UsedFallback bool             `json:"used_fallback"`
	Fallbacks    []string         `json:"fallbacks,omitempty"`
}

// MarshalJSON writes headers as [label, tag] pairs and sources as
// [tag, date, source, url].
func (r *LevelResult) MarshalJSON() ([]byte, error) {
	out := levelResultJSON{
		Headers:      make([][2]string, len(r.Headers)),
		Values:       r.Values,
		Sources:      r.Sources,
		UsedFallback: r.UsedFallback,
		Fallbacks:    r.Fallbacks,
	}
	for i, h := range r.Headers {
		out.Headers[i] = [2]string{h.Label, h.HXLTag}
	}
	if out.Values == nil {
		out.Values = []map[string]any{}
	}
	if out.Sources == nil {
		out.Sources = []sources.Record{}
	}
	return json.Marshal(out)
}

// Matrix returns the result as an output matrix.
func (r *LevelResult) Matrix() *scraper.OutputMatrix {
	return &scraper.OutputMatrix{Headers: r.Headers, Values: r.Values}
}

// FallbackSet converts merged results into the layout read back as cached
// results by a later run.
func FallbackSet(results map[string]*LevelResult, recs []sources.Record) *fallback.Set {
	tables := make(map[string]fallback.Table, len(results))
	for level, res := range results {
		t := fallback.Table{Values: res.Values}
		for _, h := range res.Headers {
			t.Tags = append(t.Tags, h.HXLTag)
		}
		tables[level] = t
	}
	return fallback.FromResults(tables, recs)
}
