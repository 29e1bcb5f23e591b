package expr

import (
	"fmt"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNumber
	tokString
	tokName
	tokOp
	tokLParen
	tokRParen
	tokLBracket
	tokRBracket
	tokComma
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

func (t token) String() string {
	if t.kind == tokEOF {
		return "end of expression"
	}
	return fmt.Sprintf("%q at %d", t.text, t.pos)
}

// multi-character operators, longest first
var operators = []string{
	"**", "//", "==", "!=", "<=", ">=", "&&", "||",
	"+", "-", "*", "/", "%", "<", ">", "!", "?", ":",
}

type lexer struct {
	src   string
	pos   int
	names []string
}

// newLexer builds a lexer that recognises the given column names verbatim,
// even when they contain spaces or punctuation. Longer names win.
func newLexer(src string, names []string) *lexer {
	sorted := make([]string, 0, len(names))
	for _, n := range names {
		if n != "" {
			sorted = append(sorted, n)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool { return len(sorted[i]) > len(sorted[j]) })
	return &lexer{src: src, names: sorted}
}

func (l *lexer) tokens() ([]token, error) {
	var out []token
	for {
		tok, err := l.next()
		if err != nil {
			return nil, err
		}
		out = append(out, tok)
		if tok.kind == tokEOF {
			return out, nil
		}
	}
}

func (l *lexer) next() (token, error) {
	l.skipSpace()
	if l.pos >= len(l.src) {
		return token{kind: tokEOF, pos: l.pos}, nil
	}
	start := l.pos
	if name, ok := l.matchKnownName(); ok {
		return token{kind: tokName, text: name, pos: start}, nil
	}

	c := l.src[l.pos]
	switch {
	case c == '"' || c == '\'':
		s, err := l.readString(c)
		if err != nil {
			return token{}, err
		}
		return token{kind: tokString, text: s, pos: start}, nil
	case c == '`':
		end := strings.IndexByte(l.src[l.pos+1:], '`')
		if end < 0 {
			return token{}, fmt.Errorf("unterminated column reference at %d", start)
		}
		name := l.src[l.pos+1 : l.pos+1+end]
		l.pos += end + 2
		return token{kind: tokName, text: name, pos: start}, nil
	case isDigit(c) || (c == '.' && l.pos+1 < len(l.src) && isDigit(l.src[l.pos+1])):
		return token{kind: tokNumber, text: l.readNumber(), pos: start}, nil
	case c == '#':
		return token{kind: tokName, text: l.readHXLTag(), pos: start}, nil
	case c == '(':
		l.pos++
		return token{kind: tokLParen, text: "(", pos: start}, nil
	case c == ')':
		l.pos++
		return token{kind: tokRParen, text: ")", pos: start}, nil
	case c == '[':
		l.pos++
		return token{kind: tokLBracket, text: "[", pos: start}, nil
	case c == ']':
		l.pos++
		return token{kind: tokRBracket, text: "]", pos: start}, nil
	case c == ',':
		l.pos++
		return token{kind: tokComma, text: ",", pos: start}, nil
	}

	r, size := utf8.DecodeRuneInString(l.src[l.pos:])
	if r == '_' || unicode.IsLetter(r) {
		l.pos += size
		for l.pos < len(l.src) {
			r, size = utf8.DecodeRuneInString(l.src[l.pos:])
			if r != '_' && !unicode.IsLetter(r) && !unicode.IsDigit(r) {
				break
			}
			l.pos += size
		}
		return token{kind: tokName, text: l.src[start:l.pos], pos: start}, nil
	}

	for _, op := range operators {
		if strings.HasPrefix(l.src[l.pos:], op) {
			l.pos += len(op)
			return token{kind: tokOp, text: op, pos: start}, nil
		}
	}
	return token{}, fmt.Errorf("unexpected character %q at %d", r, start)
}

func (l *lexer) skipSpace() {
	for l.pos < len(l.src) {
		r, size := utf8.DecodeRuneInString(l.src[l.pos:])
		if !unicode.IsSpace(r) {
			return
		}
		l.pos += size
	}
}

func (l *lexer) matchKnownName() (string, bool) {
	rest := l.src[l.pos:]
	for _, name := range l.names {
		if !strings.HasPrefix(rest, name) {
			continue
		}
		// a known name must not be the prefix of a longer identifier
		if len(rest) > len(name) && isIdentByte(name[len(name)-1]) && isIdentByte(rest[len(name)]) {
			continue
		}
		if name[0] == '#' && len(rest) > len(name)+1 && rest[len(name)] == '+' && isLetter(rest[len(name)+1]) {
			continue
		}
		l.pos += len(name)
		return name, true
	}
	return "", false
}

func (l *lexer) readString(quote byte) (string, error) {
	start := l.pos
	l.pos++
	var sb strings.Builder
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		switch c {
		case '\\':
			if l.pos+1 < len(l.src) {
				sb.WriteByte(l.src[l.pos+1])
				l.pos += 2
				continue
			}
		case quote:
			l.pos++
			return sb.String(), nil
		}
		sb.WriteByte(c)
		l.pos++
	}
	return "", fmt.Errorf("unterminated string at %d", start)
}

func (l *lexer) readNumber() string {
	start := l.pos
	seenDot, seenExp := false, false
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		switch {
		case isDigit(c):
		case c == '.' && !seenDot && !seenExp:
			seenDot = true
		case (c == 'e' || c == 'E') && !seenExp:
			seenExp = true
			if l.pos+1 < len(l.src) && (l.src[l.pos+1] == '+' || l.src[l.pos+1] == '-') {
				l.pos++
			}
		default:
			return l.src[start:l.pos]
		}
		l.pos++
	}
	return l.src[start:l.pos]
}

// readHXLTag reads #tag+attr+attr. A '+' only continues the tag when followed
// by a letter, so "#a +#b" and "#a+#b" still parse as additions.
func (l *lexer) readHXLTag() string {
	start := l.pos
	l.pos++
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		if isIdentByte(c) {
			l.pos++
			continue
		}
		if c == '+' && l.pos+1 < len(l.src) && isLetter(l.src[l.pos+1]) {
			l.pos++
			continue
		}
		break
	}
	return l.src[start:l.pos]
}

func isDigit(c byte) bool  { return c >= '0' && c <= '9' }
func isLetter(c byte) bool { return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') }
func isIdentByte(c byte) bool {
	return isDigit(c) || isLetter(c) || c == '_'
}
