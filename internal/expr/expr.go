// Package expr implements the closed expression language used by scraper
// filters, transforms, process columns and aggregation formulas.
//
// Only names bound in the Env and the fixed function library are reachable.
// There is no assignment, attribute access or I/O.
package expr

import (
	"sort"
	"sync"

	apperrors "hdxscraper/internal/errors"
)

// Env resolves names during evaluation.
type Env interface {
	Lookup(name string) (any, bool)
}

// MapEnv is an Env over a plain map.
type MapEnv map[string]any

// Lookup implements Env
func (m MapEnv) Lookup(name string) (any, bool) {
	v, ok := m[name]
	return v, ok
}

// Layered tries each Env in turn.
type Layered []Env

// Lookup implements Env
func (l Layered) Lookup(name string) (any, bool) {
	for _, env := range l {
		if env == nil {
			continue
		}
		if v, ok := env.Lookup(name); ok {
			return v, true
		}
	}
	return nil, false
}

// Program is a compiled expression. It is safe for concurrent use.
type Program struct {
	src   string
	root  node
	names []string
}

// Compile parses src. Names lists column headers that should be recognised
// verbatim even if they contain spaces or operator characters.
func Compile(src string, names ...string) (*Program, error) {
	root, err := parse(src, names)
	if err != nil {
		return nil, apperrors.NewExpressionError(src, err)
	}
	seen := make(map[string]struct{})
	root.collect(seen)
	refs := make([]string, 0, len(seen))
	for n := range seen {
		refs = append(refs, n)
	}
	sort.Strings(refs)
	return &Program{src: src, root: root, names: refs}, nil
}

// MustCompile is like Compile but panics on error. Use it for constants.
func MustCompile(src string, names ...string) *Program {
	p, err := Compile(src, names...)
	if err != nil {
		panic(err)
	}
	return p
}

// String returns the source text.
func (p *Program) String() string { return p.src }

// Names returns the names the expression references, sorted.
func (p *Program) Names() []string { return p.names }

// References reports whether the expression reads name.
func (p *Program) References(name string) bool {
	i := sort.SearchStrings(p.names, name)
	return i < len(p.names) && p.names[i] == name
}

// Eval evaluates the expression against env.
func (p *Program) Eval(env Env) (any, error) {
	v, err := p.root.eval(env)
	if err != nil {
		return nil, apperrors.NewExpressionError(p.src, err)
	}
	return v, nil
}

// EvalBool evaluates the expression and applies truthiness to the result.
func (p *Program) EvalBool(env Env) (bool, error) {
	v, err := p.Eval(env)
	if err != nil {
		return false, err
	}
	return Truthy(v), nil
}

// Cache compiles each distinct source once.
type Cache struct {
	mu       sync.Mutex
	names    []string
	programs map[string]*Program
}

// NewCache creates a cache whose programs recognise the given column names.
func NewCache(names ...string) *Cache {
	return &Cache{names: names, programs: make(map[string]*Program)}
}

// Get returns the compiled program for src.
func (c *Cache) Get(src string) (*Program, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.programs[src]; ok {
		return p, nil
	}
	p, err := Compile(src, c.names...)
	if err != nil {
		return nil, err
	}
	c.programs[src] = p
	return p, nil
}
