package expr

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrDivisionByZero is returned for x / 0, x // 0 and x % 0.
var ErrDivisionByZero = errors.New("division by zero")

type node interface {
	eval(env Env) (any, error)
	collect(names map[string]struct{})
}

type literalNode struct{ value any }

func (n *literalNode) eval(Env) (any, error)          { return n.value, nil }
func (n *literalNode) collect(map[string]struct{}) {}

type nameNode struct{ name string }

func (n *nameNode) eval(env Env) (any, error) {
	if env != nil {
		if v, ok := env.Lookup(n.name); ok {
			return v, nil
		}
	}
	return nil, fmt.Errorf("name %s is not defined", n.name)
}

func (n *nameNode) collect(names map[string]struct{}) { names[n.name] = struct{}{} }

type listNode struct{ items []node }

func (n *listNode) eval(env Env) (any, error) {
	out := make([]any, 0, len(n.items))
	for _, item := range n.items {
		v, err := item.eval(env)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (n *listNode) collect(names map[string]struct{}) {
	for _, item := range n.items {
		item.collect(names)
	}
}

type notNode struct{ operand node }

func (n *notNode) eval(env Env) (any, error) {
	v, err := n.operand.eval(env)
	if err != nil {
		return nil, err
	}
	return !Truthy(v), nil
}

func (n *notNode) collect(names map[string]struct{}) { n.operand.collect(names) }

type negNode struct {
	negate  bool
	operand node
}

func (n *negNode) eval(env Env) (any, error) {
	v, err := n.operand.eval(env)
	if err != nil || v == nil {
		return nil, err
	}
	num, ok := ToNumber(v)
	if !ok {
		return nil, fmt.Errorf("bad operand for unary minus: %v", v)
	}
	if !n.negate {
		return num, nil
	}
	if i, ok := num.(int64); ok {
		return -i, nil
	}
	return -num.(float64), nil
}

func (n *negNode) collect(names map[string]struct{}) { n.operand.collect(names) }

type logicalNode struct {
	and         bool
	left, right node
}

func (n *logicalNode) eval(env Env) (any, error) {
	l, err := n.left.eval(env)
	if err != nil {
		return nil, err
	}
	if n.and != Truthy(l) {
		return l, nil
	}
	return n.right.eval(env)
}

func (n *logicalNode) collect(names map[string]struct{}) {
	n.left.collect(names)
	n.right.collect(names)
}

type ternaryNode struct{ cond, then, alt node }

func (n *ternaryNode) eval(env Env) (any, error) {
	c, err := n.cond.eval(env)
	if err != nil {
		return nil, err
	}
	if Truthy(c) {
		return n.then.eval(env)
	}
	return n.alt.eval(env)
}

func (n *ternaryNode) collect(names map[string]struct{}) {
	n.cond.collect(names)
	n.then.collect(names)
	n.alt.collect(names)
}

type callNode struct {
	name string
	args []node
}

func (n *callNode) eval(env Env) (any, error) {
	fn := builtins[n.name]
	args := make([]any, len(n.args))
	for i, a := range n.args {
		v, err := a.eval(env)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	return fn(args)
}

func (n *callNode) collect(names map[string]struct{}) {
	for _, a := range n.args {
		a.collect(names)
	}
}

type binaryNode struct {
	op          string
	left, right node
}

func (n *binaryNode) collect(names map[string]struct{}) {
	n.left.collect(names)
	n.right.collect(names)
}

func (n *binaryNode) eval(env Env) (any, error) {
	l, err := n.left.eval(env)
	if err != nil {
		return nil, err
	}
	r, err := n.right.eval(env)
	if err != nil {
		return nil, err
	}
	return arith(n.op, l, r)
}

// arith applies an arithmetic operator. Null operands propagate as null.
func arith(op string, l, r any) (any, error) {
	if l == nil || r == nil {
		return nil, nil
	}
	if op == "+" {
		ls, lok := l.(string)
		rs, rok := r.(string)
		if lok && rok {
			if _, ln := ToNumber(ls); !ln {
				return ls + rs, nil
			}
			if _, rn := ToNumber(rs); !rn {
				return ls + rs, nil
			}
		}
	}
	ln, ok := ToNumber(l)
	if !ok {
		return nil, fmt.Errorf("unsupported operand %q for %s", Format(l), op)
	}
	rn, ok := ToNumber(r)
	if !ok {
		return nil, fmt.Errorf("unsupported operand %q for %s", Format(r), op)
	}
	li, lInt := ln.(int64)
	ri, rInt := rn.(int64)
	if lInt && rInt {
		switch op {
		case "+":
			if v, ok := addInt(li, ri); ok {
				return v, nil
			}
		case "-":
			if v, ok := subInt(li, ri); ok {
				return v, nil
			}
		case "*":
			if v, ok := mulInt(li, ri); ok {
				return v, nil
			}
		case "//":
			if ri == 0 {
				return nil, ErrDivisionByZero
			}
			if li == math.MinInt64 && ri == -1 {
				break
			}
			q := li / ri
			if (li%ri != 0) && ((li < 0) != (ri < 0)) {
				q--
			}
			return q, nil
		case "%":
			if ri == 0 {
				return nil, ErrDivisionByZero
			}
			m := li % ri
			if m != 0 && ((m < 0) != (ri < 0)) {
				m += ri
			}
			return m, nil
		case "**":
			if ri >= 0 {
				if v, ok := powInt(li, ri); ok {
					return v, nil
				}
			}
		}
	}
	lf, _ := ToFloat(ln)
	rf, _ := ToFloat(rn)
	switch op {
	case "+":
		return lf + rf, nil
	case "-":
		return lf - rf, nil
	case "*":
		return lf * rf, nil
	case "/":
		if rf == 0 {
			return nil, ErrDivisionByZero
		}
		return lf / rf, nil
	case "//":
		if rf == 0 {
			return nil, ErrDivisionByZero
		}
		return math.Floor(lf / rf), nil
	case "%":
		if rf == 0 {
			return nil, ErrDivisionByZero
		}
		m := math.Mod(lf, rf)
		if m != 0 && ((m < 0) != (rf < 0)) {
			m += rf
		}
		return m, nil
	case "**":
		return math.Pow(lf, rf), nil
	}
	return nil, fmt.Errorf("unknown operator %s", op)
}

// Integer results that would overflow int64 report false and are computed
// in float64 instead.

func addInt(a, b int64) (int64, bool) {
	s := a + b
	if (a > 0 && b > 0 && s < 0) || (a < 0 && b < 0 && s >= 0) {
		return 0, false
	}
	return s, true
}

func subInt(a, b int64) (int64, bool) {
	d := a - b
	if (a >= 0 && b < 0 && d < 0) || (a < 0 && b > 0 && d >= 0) {
		return 0, false
	}
	return d, true
}

func mulInt(a, b int64) (int64, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	if (a == -1 && b == math.MinInt64) || (b == -1 && a == math.MinInt64) {
		return 0, false
	}
	p := a * b
	if p/b != a {
		return 0, false
	}
	return p, true
}

// powInt uses square-and-multiply so the exponent costs log2(exp) steps.
func powInt(base, exp int64) (int64, bool) {
	result := int64(1)
	for exp > 0 {
		var ok bool
		if exp&1 == 1 {
			if result, ok = mulInt(result, base); !ok {
				return 0, false
			}
		}
		exp >>= 1
		if exp == 0 {
			break
		}
		if base, ok = mulInt(base, base); !ok {
			return 0, false
		}
	}
	return result, true
}

type compareNode struct {
	op          string
	left, right node
}

func (n *compareNode) collect(names map[string]struct{}) {
	n.left.collect(names)
	n.right.collect(names)
}

func (n *compareNode) eval(env Env) (any, error) {
	l, err := n.left.eval(env)
	if err != nil {
		return nil, err
	}
	r, err := n.right.eval(env)
	if err != nil {
		return nil, err
	}
	switch n.op {
	case "==":
		return equal(l, r), nil
	case "!=":
		return !equal(l, r), nil
	case "in", "not in":
		found, err := contains(r, l)
		if err != nil {
			return nil, err
		}
		return found == (n.op == "in"), nil
	}
	if l == nil || r == nil {
		return false, nil
	}
	c, err := compare(l, r)
	if err != nil {
		return nil, err
	}
	switch n.op {
	case "<":
		return c < 0, nil
	case "<=":
		return c <= 0, nil
	case ">":
		return c > 0, nil
	case ">=":
		return c >= 0, nil
	}
	return nil, fmt.Errorf("unknown comparison %s", n.op)
}

func equal(l, r any) bool {
	if l == nil || r == nil {
		return l == nil && r == nil
	}
	lb, lBool := l.(bool)
	rb, rBool := r.(bool)
	if lBool || rBool {
		return lBool && rBool && lb == rb
	}
	ls, lStr := l.(string)
	rs, rStr := r.(string)
	if lStr && rStr {
		return ls == rs
	}
	lf, lok := ToFloat(l)
	rf, rok := ToFloat(r)
	if lok && rok {
		return lf == rf
	}
	return Format(l) == Format(r)
}

func compare(l, r any) (int, error) {
	ls, lStr := l.(string)
	rs, rStr := r.(string)
	if lStr && rStr {
		_, ln := ToNumber(ls)
		_, rn := ToNumber(rs)
		if !ln || !rn {
			return strings.Compare(ls, rs), nil
		}
	}
	lf, lok := ToFloat(l)
	rf, rok := ToFloat(r)
	if !lok || !rok {
		return 0, fmt.Errorf("cannot compare %q and %q", Format(l), Format(r))
	}
	switch {
	case lf < rf:
		return -1, nil
	case lf > rf:
		return 1, nil
	}
	return 0, nil
}

func contains(container, item any) (bool, error) {
	switch c := container.(type) {
	case []any:
		for _, x := range c {
			if equal(x, item) {
				return true, nil
			}
		}
		return false, nil
	case string:
		if item == nil {
			return false, nil
		}
		return strings.Contains(c, Format(item)), nil
	case nil:
		return false, nil
	}
	return false, fmt.Errorf("cannot test membership in %T", container)
}
