package sources

import (
	"sort"
	"strings"

	"hdxscraper/internal/admin"
	"hdxscraper/internal/config"
)

// Template turns a scraper's source settings into records for its output
// columns.
type Template struct {
	Source    config.TagValues
	URL       config.TagValues
	Dates     Dates
	Format    DateFormat
	None      bool
	Overwrite *bool

	// Suffix, when set, is appended to every tag as an attribute.
	Suffix string
	// AdminSources emits one record per admin unit in the values.
	AdminSources bool
	// AdminMapping maps admin keys, or a level name for single values, to
	// the attribute used. Keys that do not map are dropped.
	AdminMapping map[string]string
}

// NewTemplate builds the template of a configurable scraper. date is used
// when the document gives no source_date.
func NewTemplate(spec *config.ScraperSpec, format DateFormat, date Span) (Template, error) {
	dates, err := ParseDates(spec.SourceDate)
	if err != nil {
		return Template{}, err
	}
	if dates.Default.IsZero() || spec.UseDateFromDateCol || spec.ForceDateToday {
		if !date.IsZero() {
			dates.Default = date
		}
	}
	if spec.SourceDateFormat != nil {
		format = NewDateFormat(spec.SourceDateFormat, format.End, format.Separator)
	}
	return Template{
		Source:       spec.Source,
		URL:          spec.SourceURL,
		Dates:        dates,
		Format:       format,
		None:         spec.NoSources,
		Overwrite:    spec.ShouldOverwriteSources,
		Suffix:       spec.SourceSuffix,
		AdminSources: spec.AdminSources || len(spec.AdminSourceMapping) > 0,
		AdminMapping: spec.AdminSourceMapping,
	}, nil
}

// Records builds the records of one level. values is index-aligned with
// tags.
func (t Template) Records(level string, tags []string, values []map[string]any) []Record {
	if t.None {
		return nil
	}
	if t.Suffix == "" && !t.AdminSources {
		out := make([]Record, 0, len(tags))
		for _, tag := range tags {
			span, _ := t.Dates.For(tag, true)
			out = append(out, Record{
				HXLTag: tag,
				Date:   t.Format.Format(span),
				Source: t.Source.For(tag),
				URL:    t.URL.For(tag),
			})
		}
		return out
	}

	var out []Record
	for i, tag := range tags {
		if t.Suffix != "" {
			out = append(out, t.suffixed(tag, t.Suffix))
			continue
		}
		var vals map[string]any
		if i < len(values) {
			vals = values[i]
		}
		for _, attr := range t.adminAttributes(level, vals) {
			out = append(out, t.suffixed(tag, attr))
		}
	}
	return out
}

func (t Template) adminAttributes(level string, values map[string]any) []string {
	if _, single := values[admin.SingleKey]; single && len(values) == 1 {
		if t.AdminMapping == nil {
			return []string{level}
		}
		if attr := t.AdminMapping[level]; attr != "" {
			return []string{attr}
		}
		return nil
	}
	adms := make([]string, 0, len(values))
	for adm := range values {
		adms = append(adms, adm)
	}
	sort.Strings(adms)
	if t.AdminMapping == nil {
		return adms
	}
	seen := make(map[string]struct{})
	var attrs []string
	for _, adm := range adms {
		attr := t.AdminMapping[adm]
		if attr == "" {
			continue
		}
		if _, dup := seen[attr]; dup {
			continue
		}
		seen[attr] = struct{}{}
		attrs = append(attrs, attr)
	}
	return attrs
}

// suffixed looks settings up by the suffixed tag, then CUSTOM_<attr>, then
// the plain tag, then the defaults.
func (t Template) suffixed(tag, attr string) Record {
	tagged := tag + "+" + strings.ToLower(attr)
	custom := "CUSTOM_" + attr

	span, ok := t.Dates.For(tagged, false)
	if !ok {
		span, ok = t.Dates.For(custom, false)
	}
	if !ok {
		span, _ = t.Dates.For(tag, true)
	}
	return Record{
		HXLTag: tagged,
		Date:   t.Format.Format(span),
		Source: firstSet(t.Source, t.Source.Default, tagged, custom, tag),
		URL:    firstSet(t.URL, t.URL.Default, tagged, custom, tag),
	}
}

func firstSet(values config.TagValues, def string, keys ...string) string {
	for _, k := range keys {
		if v, ok := values.Lookup(k); ok {
			return v
		}
	}
	return def
}
