package scraper

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"hdxscraper/internal/config"
	"hdxscraper/internal/expr"
	"hdxscraper/internal/population"
	"hdxscraper/internal/selection"
)

// formulaInputs binds the accumulated input lists of a subset for formula
// evaluation.
type formulaInputs struct {
	sr      selection.SubsetResult
	keep    map[string]struct{}
	ignore  map[string]struct{}
	pop     *population.Registry
	logger  *slog.Logger
	missing map[string]struct{}
}

func newFormulaInputs(sr selection.SubsetResult, pop *population.Registry, logger *slog.Logger) *formulaInputs {
	f := &formulaInputs{
		sr:      sr,
		keep:    make(map[string]struct{}),
		ignore:  make(map[string]struct{}),
		pop:     pop,
		logger:  logger,
		missing: make(map[string]struct{}),
	}
	for _, col := range sr.Subset.InputKeep {
		f.keep[col] = struct{}{}
	}
	for _, v := range sr.Subset.InputIgnoreVals {
		f.ignore[v] = struct{}{}
	}
	return f
}

func (f *formulaInputs) list(i int, adm string) []any {
	l, _ := f.sr.Columns[i][adm].([]any)
	return l
}

func (f *formulaInputs) empty(v any) bool {
	if expr.IsEmpty(v) {
		return true
	}
	_, ignored := f.ignore[expr.Format(v)]
	return ignored
}

// population binds #population for adm, or for the subset's fixed key.
func (f *formulaInputs) population(ctx context.Context, env expr.MapEnv, adm string) {
	key := adm
	if f.sr.Subset.PopulationKey != "" {
		key = f.sr.Subset.PopulationKey
	}
	var v any
	if f.pop != nil {
		v, _ = f.pop.Lookup(key)
	}
	if v == nil {
		if _, logged := f.missing[key]; !logged {
			f.missing[key] = struct{}{}
			f.logger.WarnContext(ctx, "population_missing", slog.String("admin", key))
		}
	}
	env[population.Tag] = v
}

// processColumns evaluates process formulas once per admin. Each input is
// bound to its latest value, or its first when the input is kept. Empty
// and ignored values count as 0, but a formula, or any bracketed group in
// it, whose inputs are all empty yields null.
func processColumns(ctx context.Context, sr selection.SubsetResult, pop *population.Registry, logger *slog.Logger) ([]map[string]any, error) {
	inputs := []string(sr.Subset.Input)
	f := newFormulaInputs(sr, pop, logger)

	out := make([]map[string]any, 0, len(sr.Subset.Process))
	for _, src := range sr.Subset.Process {
		prog, err := expr.Compile(src, inputs...)
		if err != nil {
			return nil, err
		}
		groups := bracketGroups(src, inputs)
		values := make(map[string]any, len(sr.Admins))
		for _, adm := range sr.Admins {
			env := expr.MapEnv{}
			valued := make([]bool, len(inputs))
			hasValues := false
			for i, col := range inputs {
				list := f.list(i, adm)
				var v any
				if len(list) > 0 {
					idx := len(list) - 1
					if _, ok := f.keep[col]; ok {
						idx = 0
					}
					v = list[idx]
				}
				if f.empty(v) {
					env[col] = int64(0)
					continue
				}
				env[col] = v
				valued[i] = true
				if prog.References(col) {
					hasValues = true
				}
			}
			if !hasValues || !groupsValued(groups, valued) {
				values[adm] = nil
				continue
			}
			if prog.References(population.Tag) {
				f.population(ctx, env, adm)
			}
			v, err := prog.Eval(env)
			if err != nil {
				logger.DebugContext(ctx, "process_failed",
					slog.String("admin", adm),
					slog.String("formula", src),
					slog.String("error", err.Error()))
				v = nil
			}
			values[adm] = v
		}
		out = append(out, values)
	}
	return out, nil
}

// sumColumns sums each input per admin, skipping rows whose first input is
// empty (and, when must be populated, rows where any input is empty), then
// evaluates the formula over the sums.
func sumColumns(ctx context.Context, sr selection.SubsetResult, pop *population.Registry, logger *slog.Logger) ([]map[string]any, error) {
	inputs := []string(sr.Subset.Input)
	f := newFormulaInputs(sr, pop, logger)

	out := make([]map[string]any, 0, len(sr.Subset.Sum))
	for _, col := range sr.Subset.Sum {
		prog, err := expr.Compile(col.Formula, inputs...)
		if err != nil {
			return nil, err
		}
		values := make(map[string]any, len(sr.Admins))
		for _, adm := range sr.Admins {
			env := sumEnv(f, adm, col)
			if prog.References(population.Tag) {
				f.population(ctx, env, adm)
			}
			v, err := prog.Eval(env)
			if err != nil {
				logger.DebugContext(ctx, "sum_failed",
					slog.String("admin", adm),
					slog.String("formula", col.Formula),
					slog.String("error", err.Error()))
				v = nil
			}
			values[adm] = expr.Normalize(v)
		}
		out = append(out, values)
	}
	return out, nil
}

func sumEnv(f *formulaInputs, adm string, col config.SumCol) expr.MapEnv {
	inputs := f.sr.Subset.Input
	env := expr.MapEnv{}
	if len(inputs) == 0 {
		return env
	}
	sums := make([]float64, len(inputs))
	present := make([]bool, len(inputs))
	first := f.list(0, adm)
	for row, v0 := range first {
		if f.empty(v0) {
			continue
		}
		if col.MustBePopulated {
			complete := true
			for j := 1; j < len(inputs); j++ {
				l := f.list(j, adm)
				if row >= len(l) || f.empty(l[row]) {
					complete = false
					break
				}
			}
			if !complete {
				continue
			}
		}
		for j := range inputs {
			l := f.list(j, adm)
			if row >= len(l) {
				continue
			}
			if n, ok := expr.ToFloat(l[row]); ok {
				sums[j] += n
				present[j] = true
			}
		}
	}
	for j, name := range inputs {
		if present[j] {
			env[name] = expr.Normalize(sums[j])
		}
	}
	return env
}

// bracketGroups returns, for every parenthesised group in src, the indices
// of the inputs it mentions. Brackets inside an input name are not groups.
func bracketGroups(src string, inputs []string) [][]int {
	order := make([]int, len(inputs))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return len(inputs[order[a]]) > len(inputs[order[b]]) })

	// mask each input name with a single placeholder rune
	masked := src
	for _, i := range order {
		if inputs[i] == "" {
			continue
		}
		masked = strings.ReplaceAll(masked, inputs[i], string(rune(0xE000+i)))
	}

	var (
		groups [][]int
		stack  []int
	)
	runes := []rune(masked)
	for pos, r := range runes {
		switch r {
		case '(':
			stack = append(stack, pos)
		case ')':
			if len(stack) == 0 {
				continue
			}
			start := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			var refs []int
			for _, inner := range runes[start+1 : pos] {
				if inner >= 0xE000 && int(inner-0xE000) < len(inputs) {
					refs = append(refs, int(inner-0xE000))
				}
			}
			if len(refs) > 0 {
				groups = append(groups, refs)
			}
		}
	}
	return groups
}

func groupsValued(groups [][]int, valued []bool) bool {
	for _, refs := range groups {
		ok := false
		for _, i := range refs {
			if valued[i] {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}
