package admin

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// ReplaceRule maps several spellings of a name fragment onto one replacement
// before fuzzy comparison.
type ReplaceRule struct {
	Targets     []string `yaml:"targets" json:"targets"`
	Replacement string   `yaml:"replacement" json:"replacement"`
	WholeName   bool     `yaml:"whole_name" json:"whole_name"`
}

// Normalizer prepares names for fuzzy comparison: case folding, accent
// stripping, configured replacements and removal of deny-listed tokens.
type Normalizer struct {
	rules []compiledRule
	deny  map[string]struct{}
}

type compiledRule struct {
	re          *regexp.Regexp
	replacement string
}

// NewNormalizer compiles the replacement rules.
func NewNormalizer(rules []ReplaceRule, denyTokens []string) (*Normalizer, error) {
	n := &Normalizer{deny: make(map[string]struct{}, len(denyTokens))}
	for i, rule := range rules {
		re, err := buildRuleRegex(rule)
		if err != nil {
			return nil, fmt.Errorf("replace rule %d: %w", i, err)
		}
		n.rules = append(n.rules, compiledRule{re: re, replacement: strings.ToLower(rule.Replacement)})
	}
	for _, tok := range denyTokens {
		if tok = strings.ToLower(strings.TrimSpace(tok)); tok != "" {
			n.deny[tok] = struct{}{}
		}
	}
	return n, nil
}

func buildRuleRegex(rule ReplaceRule) (*regexp.Regexp, error) {
	if len(rule.Targets) == 0 {
		return nil, errors.New("empty targets")
	}
	parts := make([]string, 0, len(rule.Targets))
	for _, t := range rule.Targets {
		parts = append(parts, regexp.QuoteMeta(strings.ToLower(t)))
	}
	pat := "(?:" + strings.Join(parts, "|") + ")"
	if rule.WholeName {
		pat = "^" + pat + "$"
	} else {
		pat = `\b` + pat + `\b`
	}
	return regexp.Compile(pat)
}

// Normalize returns the comparison form of name.
func (n *Normalizer) Normalize(name string) string {
	s := strings.ToLower(stripAccents(strings.TrimSpace(name)))
	if n != nil {
		for _, rule := range n.rules {
			s = rule.re.ReplaceAllString(s, rule.replacement)
		}
	}
	words := strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := words[:0]
	for _, w := range words {
		if n != nil {
			if _, denied := n.deny[w]; denied {
				continue
			}
		}
		out = append(out, w)
	}
	return strings.Join(out, " ")
}

func stripAccents(s string) string {
	decomposed := norm.NFD.String(s)
	var sb strings.Builder
	sb.Grow(len(decomposed))
	for _, r := range decomposed {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}
