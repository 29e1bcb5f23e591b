package config

import (
	"fmt"
	"strings"
	"time"
)

// StringList decodes from a scalar or a sequence of scalars.
type StringList []string

// UnmarshalYAML implements yaml.Unmarshaler
func (s *StringList) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var single string
	if err := unmarshal(&single); err == nil {
		if single == "" {
			*s = nil
			return nil
		}
		*s = StringList{single}
		return nil
	}
	var list []string
	if err := unmarshal(&list); err != nil {
		return fmt.Errorf("expected a string or a list of strings: %w", err)
	}
	*s = list
	return nil
}

// Contains reports whether v is in the list.
func (s StringList) Contains(v string) bool {
	for _, item := range s {
		if item == v {
			return true
		}
	}
	return false
}

// AdminColumns holds candidate admin columns per level. It decodes from a
// column name, a list of column names (one per level) or a list whose items
// are themselves lists of candidates. A null item skips that level.
type AdminColumns [][]string

// UnmarshalYAML implements yaml.Unmarshaler
func (a *AdminColumns) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var single string
	if err := unmarshal(&single); err == nil {
		*a = AdminColumns{{single}}
		return nil
	}
	var items []interface{}
	if err := unmarshal(&items); err != nil {
		return fmt.Errorf("admin: expected a column, a list of columns or a list of lists: %w", err)
	}
	out := make(AdminColumns, len(items))
	for i, item := range items {
		switch v := item.(type) {
		case nil:
			out[i] = nil
		case string:
			out[i] = []string{v}
		case []interface{}:
			for _, c := range v {
				col, ok := c.(string)
				if !ok {
					return fmt.Errorf("admin: level %d has non-string column %v", i, c)
				}
				out[i] = append(out[i], col)
			}
		default:
			return fmt.Errorf("admin: unsupported entry %v at level %d", item, i)
		}
	}
	*a = out
	return nil
}

// HeaderRows selects header rows by 1-based number, stacks several rows, or
// gives explicit column names.
type HeaderRows struct {
	Rows  []int
	Names []string
}

// UnmarshalYAML implements yaml.Unmarshaler
func (h *HeaderRows) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var row int
	if err := unmarshal(&row); err == nil {
		h.Rows = []int{row}
		return nil
	}
	var rows []int
	if err := unmarshal(&rows); err == nil {
		h.Rows = rows
		return nil
	}
	var names []string
	if err := unmarshal(&names); err != nil {
		return fmt.Errorf("headers: expected a row number, a list of rows or a list of names: %w", err)
	}
	h.Names = names
	return nil
}

// TagValues is a scalar default plus optional per HXL tag overrides. It
// decodes from a scalar or from a mapping whose "default_source",
// "default_url" or "default" key gives the default.
type TagValues struct {
	Default string
	ByTag   map[string]string
}

// UnmarshalYAML implements yaml.Unmarshaler
func (t *TagValues) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var single string
	if err := unmarshal(&single); err == nil {
		t.Default = single
		return nil
	}
	var m map[string]string
	if err := unmarshal(&m); err != nil {
		return fmt.Errorf("expected a string or a mapping of strings: %w", err)
	}
	t.ByTag = make(map[string]string, len(m))
	for k, v := range m {
		switch k {
		case "default_source", "default_url", "default":
			t.Default = v
		default:
			t.ByTag[k] = v
		}
	}
	return nil
}

// For returns the value for tag, or the default.
func (t TagValues) For(tag string) string {
	if v, ok := t.ByTag[tag]; ok && v != "" {
		return v
	}
	return t.Default
}

// Lookup returns the per-tag value without falling back.
func (t TagValues) Lookup(tag string) (string, bool) {
	v, ok := t.ByTag[tag]
	return v, ok && v != ""
}

// IsZero reports whether nothing was configured.
func (t TagValues) IsZero() bool { return t.Default == "" && len(t.ByTag) == 0 }

// DateRange is a start and end date as written in a document.
type DateRange struct {
	Start string `yaml:"start"`
	End   string `yaml:"end"`
}

// SourceDate is a date, a start/end range, or per HXL tag dates.
type SourceDate struct {
	Default DateRange
	ByTag   map[string]DateRange
}

// UnmarshalYAML implements yaml.Unmarshaler
func (s *SourceDate) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw interface{}
	if err := unmarshal(&raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case nil:
		return nil
	case map[interface{}]interface{}:
		for key, value := range v {
			k := fmt.Sprint(key)
			switch k {
			case "start":
				s.Default.Start = scalarString(value)
			case "end":
				s.Default.End = scalarString(value)
			default:
				r, err := dateRangeFrom(value)
				if err != nil {
					return fmt.Errorf("source_date %s: %w", k, err)
				}
				if s.ByTag == nil {
					s.ByTag = make(map[string]DateRange)
				}
				s.ByTag[k] = r
			}
		}
	default:
		s.Default.End = scalarString(v)
	}
	return nil
}

func dateRangeFrom(value interface{}) (DateRange, error) {
	switch v := value.(type) {
	case map[interface{}]interface{}:
		var r DateRange
		for key, d := range v {
			switch fmt.Sprint(key) {
			case "start":
				r.Start = scalarString(d)
			case "end":
				r.End = scalarString(d)
			default:
				return DateRange{}, fmt.Errorf("unknown key %v", key)
			}
		}
		return r, nil
	case nil:
		return DateRange{}, nil
	default:
		return DateRange{End: scalarString(v)}, nil
	}
}

// IsZero reports whether no date was configured.
func (s SourceDate) IsZero() bool { return s.Default.End == "" && len(s.ByTag) == 0 }

// SourceDateFormat is a layout, or separate start and end layouts joined by
// a separator for date ranges.
type SourceDateFormat struct {
	Start     string `yaml:"start"`
	End       string `yaml:"end"`
	Separator string `yaml:"separator"`
}

// UnmarshalYAML implements yaml.Unmarshaler
func (f *SourceDateFormat) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var single string
	if err := unmarshal(&single); err == nil {
		f.End = single
		return nil
	}
	var m map[string]string
	if err := unmarshal(&m); err != nil {
		return fmt.Errorf("source_date_format: %w", err)
	}
	f.Start = m["start"]
	f.End = m["end"]
	if f.End == "" {
		f.End = m["date"]
	}
	f.Separator = m["separator"]
	return nil
}

func scalarString(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(x)
	case time.Time:
		return x.Format("2006-01-02")
	}
	return fmt.Sprint(v)
}
