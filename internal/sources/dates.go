package sources

import (
	"fmt"
	"strings"
	"time"

	"hdxscraper/internal/config"
)

// Span is a source date or date range. Start is zero for a single date.
type Span struct {
	Start time.Time
	End   time.Time
}

// IsZero reports whether no end date is set.
func (s Span) IsZero() bool { return s.End.IsZero() }

// SpanOf returns a single date span.
func SpanOf(t time.Time) Span { return Span{End: t} }

var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"02/01/2006",
	"Jan 2, 2006",
	"2 January 2006",
	"January 2006",
	"2006-01",
	"2006",
}

// ParseDate parses the date forms found in scraper documents and catalogs.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", s)
}

func parseRange(r config.DateRange) (Span, error) {
	var span Span
	var err error
	if r.End != "" {
		if span.End, err = ParseDate(r.End); err != nil {
			return Span{}, err
		}
	}
	if r.Start != "" {
		if span.Start, err = ParseDate(r.Start); err != nil {
			return Span{}, err
		}
	}
	return span, nil
}

// Dates holds a default span and per tag spans.
type Dates struct {
	Default Span
	ByTag   map[string]Span
}

// ParseDates converts a document source_date.
func ParseDates(sd config.SourceDate) (Dates, error) {
	var d Dates
	var err error
	if d.Default, err = parseRange(sd.Default); err != nil {
		return Dates{}, fmt.Errorf("source_date: %w", err)
	}
	for tag, r := range sd.ByTag {
		span, err := parseRange(r)
		if err != nil {
			return Dates{}, fmt.Errorf("source_date %s: %w", tag, err)
		}
		if d.ByTag == nil {
			d.ByTag = make(map[string]Span, len(sd.ByTag))
		}
		d.ByTag[tag] = span
	}
	return d, nil
}

// For returns the span for tag. With fallback the default span is used when
// the tag has none.
func (d Dates) For(tag string, fallback bool) (Span, bool) {
	if span, ok := d.ByTag[tag]; ok && !span.IsZero() {
		return span, true
	}
	if fallback && !d.Default.IsZero() {
		return d.Default, true
	}
	return Span{}, false
}

// IsZero reports whether no date is configured.
func (d Dates) IsZero() bool { return d.Default.IsZero() && len(d.ByTag) == 0 }

// DateFormat renders spans. Start is only used for ranges; without it a range
// renders as its end date.
type DateFormat struct {
	Start     string
	End       string
	Separator string
}

// NewDateFormat builds a format from a document override and run defaults.
// Layouts may be Go reference layouts or strftime patterns.
func NewDateFormat(override *config.SourceDateFormat, defaultLayout, defaultSeparator string) DateFormat {
	f := DateFormat{End: defaultLayout, Separator: defaultSeparator}
	if override != nil {
		if override.End != "" {
			f.End = override.End
		}
		f.Start = override.Start
		if override.Separator != "" {
			f.Separator = override.Separator
		}
	}
	if f.End == "" {
		f.End = "Jan 2, 2006"
	}
	if f.Separator == "" {
		f.Separator = "-"
	}
	f.Start = goLayout(f.Start)
	f.End = goLayout(f.End)
	return f
}

// Format renders span.
func (f DateFormat) Format(span Span) string {
	if span.IsZero() {
		return ""
	}
	end := span.End.Format(f.End)
	if f.Start != "" && !span.Start.IsZero() {
		return span.Start.Format(f.Start) + f.Separator + end
	}
	return end
}

var strftime = strings.NewReplacer(
	"%Y", "2006",
	"%y", "06",
	"%m", "01",
	"%-m", "1",
	"%d", "02",
	"%-d", "2",
	"%b", "Jan",
	"%B", "January",
	"%a", "Mon",
	"%A", "Monday",
	"%H", "15",
	"%M", "04",
	"%S", "05",
	"%%", "%",
)

func goLayout(layout string) string {
	if !strings.Contains(layout, "%") {
		return layout
	}
	return strftime.Replace(layout)
}
