package admin

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ResolverConfig describes how one scraper finds the admin of a row.
type ResolverConfig struct {
	// Columns holds, per admin level, the candidate columns tried left to
	// right. An empty entry means the level is not read from the row.
	Columns [][]string
	// Level is the output level. A negative level produces SingleKey.
	Level int
	// Exact disables fuzzy matching.
	Exact bool
	// Filter is an allow-list applied to the identifier at Level.
	Filter []string
	// Single fixes the output key for every row.
	Single string
	// Countries, when set, restricts level 0 identifiers.
	Countries []string
}

// Resolver applies a ResolverConfig to rows.
type Resolver struct {
	cfg       ResolverConfig
	matcher   Matcher
	filter    map[string]struct{}
	countries map[string]struct{}
	headers   []string
}

var headerIndexPattern = regexp.MustCompile(`^\{\{(\d+)\}\}$`)

// NewResolver binds cfg to a matcher. Headers are used to expand {{n}}
// column references.
func NewResolver(cfg ResolverConfig, matcher Matcher, headers []string) (*Resolver, error) {
	if matcher == nil && cfg.Single == "" && cfg.Level >= 0 {
		return nil, fmt.Errorf("admin matcher required for level %d", cfg.Level)
	}
	if cfg.Level >= 0 && cfg.Single == "" && cfg.Level >= len(cfg.Columns) {
		return nil, fmt.Errorf("no admin columns specified for level %d", cfg.Level)
	}
	r := &Resolver{cfg: cfg, matcher: matcher, headers: headers}
	columns := make([][]string, len(cfg.Columns))
	for i, candidates := range cfg.Columns {
		for _, col := range candidates {
			expanded, err := r.expand(col)
			if err != nil {
				return nil, err
			}
			columns[i] = append(columns[i], expanded)
		}
	}
	r.cfg.Columns = columns
	r.filter = toSet(cfg.Filter)
	r.countries = toSet(cfg.Countries)
	return r, nil
}

func toSet(values []string) map[string]struct{} {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[strings.ToUpper(strings.TrimSpace(v))] = struct{}{}
	}
	return set
}

func (r *Resolver) expand(col string) (string, error) {
	m := headerIndexPattern.FindStringSubmatch(col)
	if m == nil {
		return col, nil
	}
	i, _ := strconv.Atoi(m[1])
	if i >= len(r.headers) {
		return "", fmt.Errorf("admin column %s out of range (%d headers)", col, len(r.headers))
	}
	return r.headers[i], nil
}

// Columns returns the expanded candidate columns per level.
func (r *Resolver) Columns() [][]string { return r.cfg.Columns }

// Resolve finds the admin key of a row. Rows that fail to resolve, or that
// fall outside the allow-lists, return false.
func (r *Resolver) Resolve(row map[string]any) (Key, bool) {
	if r.cfg.Single != "" {
		return Key{r.cfg.Single}, true
	}
	if r.cfg.Level < 0 && len(r.cfg.Columns) == 0 {
		return Key{SingleKey}, true
	}
	key := Unresolved
	for level, candidates := range r.cfg.Columns {
		if len(candidates) == 0 {
			key = append(key, "")
			continue
		}
		k, ok := r.resolveLevel(row, key, candidates, level)
		if !ok {
			return Unresolved, false
		}
		key = k
	}
	if len(r.countries) > 0 {
		if _, ok := r.countries[strings.ToUpper(key.At(LevelNational))]; !ok && key.At(LevelNational) != "" {
			return Unresolved, false
		}
	}
	if r.filter != nil {
		id := key.String()
		if r.cfg.Level >= 0 {
			id = key.At(r.cfg.Level)
		}
		if _, ok := r.filter[strings.ToUpper(id)]; !ok {
			return Unresolved, false
		}
	}
	return key, true
}

// resolveLevel tries the candidate columns left to right and stops at the
// first exact match. Otherwise the last fuzzy match wins.
func (r *Resolver) resolveLevel(row map[string]any, parent Key, candidates []string, level int) (Key, bool) {
	fuzzy := Unresolved
	for _, col := range candidates {
		raw := strings.TrimSpace(stringValue(row[col]))
		if raw == "" {
			continue
		}
		if k, ok := r.resolveOne(parent, raw, level, true); ok {
			return k, true
		}
		if r.cfg.Exact {
			continue
		}
		if k, ok := r.resolveOne(parent, raw, level, false); ok {
			fuzzy = k
		}
	}
	return fuzzy, fuzzy.Resolved()
}

func (r *Resolver) resolveOne(parent Key, raw string, level int, exactOnly bool) (Key, bool) {
	if scoped, ok := r.matcher.(ScopedMatcher); ok && parent.Resolved() {
		return scoped.ResolveWithin(parent, raw, level, exactOnly)
	}
	return r.matcher.Resolve(raw, level, exactOnly)
}

// OutputKey returns the identifier rows are grouped and emitted under.
func (r *Resolver) OutputKey(k Key) string {
	if r.cfg.Single != "" {
		return r.cfg.Single
	}
	if r.cfg.Level < 0 {
		return SingleKey
	}
	return k.At(r.cfg.Level)
}

func stringValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case fmt.Stringer:
		return x.String()
	}
	return fmt.Sprint(v)
}
