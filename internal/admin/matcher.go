package admin

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Matcher turns a raw admin string into a canonical Key.
type Matcher interface {
	Resolve(raw string, level int, exactOnly bool) (Key, bool)
}

// ScopedMatcher can narrow subnational matching to units of a known parent.
type ScopedMatcher interface {
	Matcher
	ResolveWithin(parent Key, raw string, level int, exactOnly bool) (Key, bool)
}

// Unit is one row of admin reference data.
type Unit struct {
	Code    string   `yaml:"code" json:"code"`
	Name    string   `yaml:"name" json:"name"`
	Parent  string   `yaml:"parent,omitempty" json:"parent,omitempty"`
	Level   int      `yaml:"level" json:"level"`
	Aliases []string `yaml:"aliases,omitempty" json:"aliases,omitempty"`
}

// MatcherOptions configures fuzzy matching.
type MatcherOptions struct {
	Similarity Similarity
	Threshold  float64
	Rules      []ReplaceRule
	DenyTokens []string
	CacheSize  int
	Logger     *slog.Logger
}

const (
	defaultThreshold = 0.8
	defaultCacheSize = 1024
)

type fuzzyEntry struct {
	norm   string
	code   string
	parent string
}

type levelIndex struct {
	byCode map[string]Unit
	byName map[string][]string
	fuzzy  []fuzzyEntry
}

// TableMatcher matches against in-memory reference data. Exact code and
// name matches are tried first, then the best fuzzy candidate at or above
// the threshold. Ties resolve to nothing.
type TableMatcher struct {
	levels     []*levelIndex
	normalizer *Normalizer
	similarity Similarity
	threshold  float64
	cache      *lru.Cache[string, Key]
	logger     *slog.Logger
}

// NewTableMatcher indexes units for matching.
func NewTableMatcher(units []Unit, opts MatcherOptions) (*TableMatcher, error) {
	normalizer, err := NewNormalizer(opts.Rules, opts.DenyTokens)
	if err != nil {
		return nil, err
	}
	if opts.Similarity == nil {
		opts.Similarity = LevenshteinRatio
	}
	if opts.Threshold <= 0 {
		opts.Threshold = defaultThreshold
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = defaultCacheSize
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	cache, err := lru.New[string, Key](opts.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("create match cache: %w", err)
	}

	m := &TableMatcher{
		normalizer: normalizer,
		similarity: opts.Similarity,
		threshold:  opts.Threshold,
		cache:      cache,
		logger:     opts.Logger,
	}
	for _, u := range units {
		if u.Level < 0 || strings.TrimSpace(u.Code) == "" {
			return nil, fmt.Errorf("invalid admin unit %q at level %d", u.Code, u.Level)
		}
		idx := m.level(u.Level)
		code := strings.ToUpper(strings.TrimSpace(u.Code))
		u.Code = code
		u.Parent = strings.ToUpper(strings.TrimSpace(u.Parent))
		idx.byCode[code] = u
		for _, name := range append([]string{u.Name}, u.Aliases...) {
			if name = strings.TrimSpace(name); name == "" {
				continue
			}
			lower := strings.ToLower(name)
			idx.byName[lower] = appendUnique(idx.byName[lower], code)
			idx.fuzzy = append(idx.fuzzy, fuzzyEntry{norm: normalizer.Normalize(name), code: code, parent: u.Parent})
		}
	}
	return m, nil
}

func (m *TableMatcher) level(level int) *levelIndex {
	for len(m.levels) <= level {
		m.levels = append(m.levels, &levelIndex{byCode: map[string]Unit{}, byName: map[string][]string{}})
	}
	return m.levels[level]
}

// Name returns the reference name of a code at a level.
func (m *TableMatcher) Name(code string, level int) (string, bool) {
	if level < 0 || level >= len(m.levels) {
		return "", false
	}
	u, ok := m.levels[level].byCode[strings.ToUpper(code)]
	return u.Name, ok
}

// Codes returns every code at a level.
func (m *TableMatcher) Codes(level int) []string {
	if level < 0 || level >= len(m.levels) {
		return nil
	}
	codes := make([]string, 0, len(m.levels[level].byCode))
	for code := range m.levels[level].byCode {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// Resolve implements Matcher
func (m *TableMatcher) Resolve(raw string, level int, exactOnly bool) (Key, bool) {
	return m.ResolveWithin(Unresolved, raw, level, exactOnly)
}

// ResolveWithin implements ScopedMatcher
func (m *TableMatcher) ResolveWithin(parent Key, raw string, level int, exactOnly bool) (Key, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" || level < 0 || level >= len(m.levels) {
		return Unresolved, false
	}
	idx := m.levels[level]
	parentCode := strings.ToUpper(parent.String())

	if u, ok := idx.byCode[strings.ToUpper(raw)]; ok && (parentCode == "" || u.Parent == parentCode) {
		return m.keyFor(u, level), true
	}
	var candidates []string
	for _, code := range idx.byName[strings.ToLower(raw)] {
		if parentCode == "" || idx.byCode[code].Parent == parentCode {
			candidates = append(candidates, code)
		}
	}
	if len(candidates) == 1 {
		return m.keyFor(idx.byCode[candidates[0]], level), true
	}
	if exactOnly || len(candidates) > 1 {
		return Unresolved, false
	}

	cacheKey := fmt.Sprintf("%d|%s|%s", level, parentCode, raw)
	if k, ok := m.cache.Get(cacheKey); ok {
		return k, k.Resolved()
	}
	k := m.fuzzy(idx, parentCode, raw, level)
	m.cache.Add(cacheKey, k)
	return k, k.Resolved()
}

func (m *TableMatcher) fuzzy(idx *levelIndex, parentCode, raw string, level int) Key {
	target := m.normalizer.Normalize(raw)
	if target == "" {
		return Unresolved
	}
	bestScore := -1.0
	bestCode := ""
	tied := false
	for _, e := range idx.fuzzy {
		if parentCode != "" && e.parent != parentCode {
			continue
		}
		score := m.similarity.Score(target, e.norm)
		switch {
		case score > bestScore:
			bestScore, bestCode, tied = score, e.code, false
		case score == bestScore && e.code != bestCode:
			tied = true
		}
	}
	if bestCode == "" || bestScore < m.threshold || tied {
		m.logger.Debug("admin_fuzzy_unmatched",
			slog.String("raw", raw),
			slog.Int("level", level),
			slog.Float64("best_score", bestScore),
			slog.Bool("tied", tied))
		return Unresolved
	}
	m.logger.Debug("admin_fuzzy_matched",
		slog.String("raw", raw),
		slog.String("code", bestCode),
		slog.Float64("score", bestScore))
	return m.keyFor(idx.byCode[bestCode], level)
}

func (m *TableMatcher) keyFor(u Unit, level int) Key {
	if level == 0 {
		return Key{u.Code}
	}
	return Key{u.Parent, u.Code}
}

func appendUnique(list []string, v string) []string {
	for _, x := range list {
		if x == v {
			return list
		}
	}
	return append(list, v)
}
