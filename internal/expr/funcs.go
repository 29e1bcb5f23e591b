package expr

import (
	"fmt"
	"math"
	"strings"
	"time"
)

type builtin func(args []any) (any, error)

// builtins is the complete function library reachable from an expression.
var builtins = map[string]builtin{
	"number":        fnNumber,
	"int":           fnInt,
	"float":         fnFloat,
	"str":           fnStr,
	"len":           fnLen,
	"abs":           fnAbs,
	"round":         fnRound,
	"min":           fnMin,
	"max":           fnMax,
	"sum":           fnSum,
	"fraction":      fnFraction,
	"number_format": fnNumberFormat,
	"lower":         stringFn(strings.ToLower),
	"upper":         stringFn(strings.ToUpper),
	"strip":         stringFn(strings.TrimSpace),
	"startswith":    stringPred(strings.HasPrefix),
	"endswith":      stringPred(strings.HasSuffix),
	"contains":      stringPred(strings.Contains),
	"replace":       fnReplace,
	"get_date_year": fnDateYear,
	"coalesce":      fnCoalesce,
}

// Functions lists the names of the function library.
func Functions() []string {
	names := make([]string, 0, len(builtins))
	for name := range builtins {
		names = append(names, name)
	}
	return names
}

func arity(name string, args []any, min, max int) error {
	if len(args) < min || (max >= 0 && len(args) > max) {
		return fmt.Errorf("%s: wrong number of arguments (%d)", name, len(args))
	}
	return nil
}

// number coerces to a number, yielding null rather than failing.
func fnNumber(args []any) (any, error) {
	if err := arity("number", args, 1, 1); err != nil {
		return nil, err
	}
	n, ok := ToNumber(args[0])
	if !ok {
		return nil, nil
	}
	return n, nil
}

func fnInt(args []any) (any, error) {
	if err := arity("int", args, 1, 1); err != nil {
		return nil, err
	}
	f, ok := ToFloat(args[0])
	if !ok {
		return nil, nil
	}
	return int64(math.Trunc(f)), nil
}

func fnFloat(args []any) (any, error) {
	if err := arity("float", args, 1, 1); err != nil {
		return nil, err
	}
	f, ok := ToFloat(args[0])
	if !ok {
		return nil, nil
	}
	return f, nil
}

func fnStr(args []any) (any, error) {
	if err := arity("str", args, 1, 1); err != nil {
		return nil, err
	}
	return Format(args[0]), nil
}

func fnLen(args []any) (any, error) {
	if err := arity("len", args, 1, 1); err != nil {
		return nil, err
	}
	switch x := args[0].(type) {
	case string:
		return int64(len([]rune(x))), nil
	case []any:
		return int64(len(x)), nil
	case nil:
		return int64(0), nil
	}
	return nil, fmt.Errorf("len: unsupported %T", args[0])
}

func fnAbs(args []any) (any, error) {
	if err := arity("abs", args, 1, 1); err != nil {
		return nil, err
	}
	n, ok := ToNumber(args[0])
	if !ok {
		return nil, nil
	}
	if i, ok := n.(int64); ok {
		if i < 0 {
			return -i, nil
		}
		return i, nil
	}
	return math.Abs(n.(float64)), nil
}

func fnRound(args []any) (any, error) {
	if err := arity("round", args, 1, 2); err != nil {
		return nil, err
	}
	f, ok := ToFloat(args[0])
	if !ok {
		return nil, nil
	}
	if len(args) == 1 {
		return int64(math.RoundToEven(f)), nil
	}
	places, ok := ToFloat(args[1])
	if !ok {
		return nil, fmt.Errorf("round: bad precision %v", args[1])
	}
	scale := math.Pow(10, places)
	return math.Round(f*scale) / scale, nil
}

func numericArgs(name string, args []any) ([]any, error) {
	if len(args) == 1 {
		if list, ok := args[0].([]any); ok {
			args = list
		}
	}
	out := make([]any, 0, len(args))
	for _, a := range args {
		if a == nil {
			continue
		}
		n, ok := ToNumber(a)
		if !ok {
			return nil, fmt.Errorf("%s: non-numeric argument %q", name, Format(a))
		}
		out = append(out, n)
	}
	return out, nil
}

func fnMin(args []any) (any, error) { return extreme("min", args, -1) }
func fnMax(args []any) (any, error) { return extreme("max", args, 1) }

func extreme(name string, args []any, want int) (any, error) {
	nums, err := numericArgs(name, args)
	if err != nil || len(nums) == 0 {
		return nil, err
	}
	best := nums[0]
	for _, n := range nums[1:] {
		c, _ := compare(n, best)
		if c == want {
			best = n
		}
	}
	return best, nil
}

func fnSum(args []any) (any, error) {
	nums, err := numericArgs("sum", args)
	if err != nil {
		return nil, err
	}
	var total any = int64(0)
	for _, n := range nums {
		total, err = arith("+", total, n)
		if err != nil {
			return nil, err
		}
	}
	return total, nil
}

// fraction divides a by b, yielding null when either is missing or b is zero.
func fnFraction(args []any) (any, error) {
	if err := arity("fraction", args, 2, 2); err != nil {
		return nil, err
	}
	num, ok := ToFloat(args[0])
	if !ok {
		return nil, nil
	}
	den, ok := ToFloat(args[1])
	if !ok || den == 0 {
		return nil, nil
	}
	return num / den, nil
}

func fnNumberFormat(args []any) (any, error) {
	if err := arity("number_format", args, 1, 2); err != nil {
		return nil, err
	}
	f, ok := ToFloat(args[0])
	if !ok {
		return "", nil
	}
	places := 4
	if len(args) == 2 {
		p, ok := ToFloat(args[1])
		if !ok {
			return nil, fmt.Errorf("number_format: bad precision %v", args[1])
		}
		places = int(p)
	}
	return NumberFormat(f, places), nil
}

func stringFn(f func(string) string) builtin {
	return func(args []any) (any, error) {
		if err := arity("string function", args, 1, 1); err != nil {
			return nil, err
		}
		if args[0] == nil {
			return nil, nil
		}
		return f(Format(args[0])), nil
	}
}

func stringPred(f func(string, string) bool) builtin {
	return func(args []any) (any, error) {
		if err := arity("string predicate", args, 2, 2); err != nil {
			return nil, err
		}
		if args[0] == nil {
			return false, nil
		}
		return f(Format(args[0]), Format(args[1])), nil
	}
}

func fnReplace(args []any) (any, error) {
	if err := arity("replace", args, 3, 3); err != nil {
		return nil, err
	}
	if args[0] == nil {
		return nil, nil
	}
	return strings.ReplaceAll(Format(args[0]), Format(args[1]), Format(args[2])), nil
}

var dateLayouts = []string{"2006-01-02", "2006-01-02T15:04:05Z07:00", "2006-01-02 15:04:05", "02/01/2006", "2006"}

func fnDateYear(args []any) (any, error) {
	if err := arity("get_date_year", args, 1, 1); err != nil {
		return nil, err
	}
	s := strings.TrimSpace(Format(args[0]))
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return int64(t.Year()), nil
		}
	}
	return nil, nil
}

func fnCoalesce(args []any) (any, error) {
	for _, a := range args {
		if !IsEmpty(a) {
			return a, nil
		}
	}
	return nil, nil
}
