package tools

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

const (
	opSummary     = "summary"
	opCorrelation = "correlation"
	opGroupBy     = "groupby"
	opFilter      = "filter"
	opTransform   = "transform"
)

// Analyze runs descriptive statistics and row operations over a list of
// objects.
type Analyze struct {
	mu    sync.RWMutex
	cache map[string]*vm.Program
}

func NewAnalyze() *Analyze {
	return &Analyze{cache: make(map[string]*vm.Program)}
}

func (a *Analyze) Name() string {
	return "analyze"
}

func (a *Analyze) Description() string {
	return "Analyse rows: summary statistics, pearson correlation, group-by aggregation, expression filter or column transform."
}

func (a *Analyze) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"rows":       map[string]any{"type": "array", "description": "list of objects, usually a reference such as $(.step_1.rows)"},
			"operation":  map[string]any{"type": "string", "enum": []string{opSummary, opCorrelation, opGroupBy, opFilter, opTransform}},
			"columns":    map[string]any{"type": "array", "description": "columns for summary, correlation and transform"},
			"by":         map[string]any{"type": "string", "description": "groupby key column"},
			"value":      map[string]any{"type": "string", "description": "groupby value column"},
			"agg":        map[string]any{"type": "string", "enum": []string{"count", "sum", "mean", "min", "max"}},
			"expression": map[string]any{"type": "string", "description": "filter predicate over row fields, e.g. revenue > 100 && region == \"EU\""},
			"transform":  map[string]any{"type": "string", "enum": []string{"normalize", "standardize", "log"}},
		},
		"required": []string{"rows"},
	}
}

type analysis struct {
	Operation string `json:"operation"`
	Rows      int    `json:"rows"`
	Result    any    `json:"result"`
}

func (a *Analyze) Execute(ctx context.Context, params map[string]any) (any, error) {
	rows, err := rowsParam(params, "rows")
	if err != nil {
		return nil, err
	}
	op, err := stringParam(params, "operation", false)
	if err != nil {
		return nil, err
	}
	if op == "" {
		op = opSummary
	}
	columns, err := stringsParam(params, "columns")
	if err != nil {
		return nil, err
	}

	var result any
	switch op {
	case opSummary:
		result = summarize(rows, columns)
	case opCorrelation:
		result, err = correlate(rows, columns)
	case opGroupBy:
		result, err = groupBy(rows, params)
	case opFilter:
		result, err = a.filter(ctx, rows, params)
	case opTransform:
		result, err = transform(rows, columns, params)
	default:
		return nil, invalid("unknown operation %q", op)
	}
	if err != nil {
		return nil, err
	}
	return analysis{Operation: op, Rows: len(rows), Result: result}, nil
}

type columnSummary struct {
	Count  int      `json:"count"`
	Nulls  int      `json:"nulls"`
	Unique int      `json:"unique"`
	Type   string   `json:"type"`
	Mean   *float64 `json:"mean,omitempty"`
	Std    *float64 `json:"std,omitempty"`
	Min    *float64 `json:"min,omitempty"`
	P25    *float64 `json:"p25,omitempty"`
	Median *float64 `json:"median,omitempty"`
	P75    *float64 `json:"p75,omitempty"`
	Max    *float64 `json:"max,omitempty"`
}

func summarize(rows []map[string]any, columns []string) map[string]columnSummary {
	if len(columns) == 0 {
		columns = columnsOf(rows, nil)
	}
	out := make(map[string]columnSummary, len(columns))
	for _, col := range columns {
		var s columnSummary
		unique := make(map[string]struct{})
		nums, numeric := numericColumn(rows, col)
		for _, r := range rows {
			v := r[col]
			if v == nil {
				s.Nulls++
				continue
			}
			s.Count++
			unique[cellString(v)] = struct{}{}
		}
		s.Unique = len(unique)
		s.Type = "text"
		if numeric && len(nums) > 0 {
			s.Type = "number"
			sorted := append([]float64(nil), nums...)
			sort.Float64s(sorted)
			mean, std := meanStd(nums)
			s.Mean, s.Std = ptr(mean), ptr(std)
			s.Min, s.Max = ptr(sorted[0]), ptr(sorted[len(sorted)-1])
			s.P25, s.Median, s.P75 = ptr(quantile(sorted, 0.25)), ptr(quantile(sorted, 0.5)), ptr(quantile(sorted, 0.75))
		}
		out[col] = s
	}
	return out
}

func correlate(rows []map[string]any, columns []string) (map[string]map[string]*float64, error) {
	if len(columns) == 0 {
		for _, c := range columnsOf(rows, nil) {
			if nums, ok := numericColumn(rows, c); ok && len(nums) > 0 {
				columns = append(columns, c)
			}
		}
	}
	if len(columns) < 2 {
		return nil, invalid("correlation needs at least two numeric columns")
	}

	out := make(map[string]map[string]*float64, len(columns))
	for _, x := range columns {
		out[x] = make(map[string]*float64, len(columns))
		for _, y := range columns {
			xs, ys := pairs(rows, x, y)
			out[x][y] = pearson(xs, ys)
		}
	}
	return out, nil
}

type group struct {
	Key   any     `json:"key"`
	Count int     `json:"count"`
	Value float64 `json:"value"`
}

func groupBy(rows []map[string]any, params map[string]any) ([]group, error) {
	by, err := stringParam(params, "by", true)
	if err != nil {
		return nil, err
	}
	value, err := stringParam(params, "value", false)
	if err != nil {
		return nil, err
	}
	agg, err := stringParam(params, "agg", false)
	if err != nil {
		return nil, err
	}
	if agg == "" {
		agg = "count"
	}
	if agg != "count" && value == "" {
		return nil, invalid("agg %q needs a value column", agg)
	}

	index := make(map[string]int)
	var groups []group
	values := make(map[string][]float64)
	for _, r := range rows {
		k := cellString(r[by])
		i, ok := index[k]
		if !ok {
			i = len(groups)
			index[k] = i
			groups = append(groups, group{Key: r[by]})
		}
		groups[i].Count++
		if value != "" {
			if f, ok := toFloat(r[value]); ok {
				values[k] = append(values[k], f)
			}
		}
	}

	for k, i := range index {
		vs := values[k]
		switch agg {
		case "count":
			groups[i].Value = float64(groups[i].Count)
		case "sum":
			groups[i].Value = sum(vs)
		case "mean":
			if len(vs) > 0 {
				groups[i].Value = sum(vs) / float64(len(vs))
			}
		case "min", "max":
			if len(vs) == 0 {
				continue
			}
			m := vs[0]
			for _, v := range vs[1:] {
				if (agg == "min" && v < m) || (agg == "max" && v > m) {
					m = v
				}
			}
			groups[i].Value = m
		default:
			return nil, invalid("unknown agg %q", agg)
		}
	}
	sort.SliceStable(groups, func(i, j int) bool { return cellString(groups[i].Key) < cellString(groups[j].Key) })
	return groups, nil
}

type filtered struct {
	Rows     []map[string]any `json:"rows"`
	Original int              `json:"original_rows"`
	Kept     int              `json:"filtered_rows"`
}

func (a *Analyze) filter(ctx context.Context, rows []map[string]any, params map[string]any) (filtered, error) {
	expression, err := stringParam(params, "expression", true)
	if err != nil {
		return filtered{}, err
	}
	prog, err := a.compile(expression)
	if err != nil {
		return filtered{}, invalid("expression %q: %v", expression, err)
	}

	out := filtered{Rows: []map[string]any{}, Original: len(rows)}
	for _, r := range rows {
		if err := ctx.Err(); err != nil {
			return filtered{}, err
		}
		v, err := expr.Run(prog, r)
		if err != nil {
			return filtered{}, invalid("expression %q: %v", expression, err)
		}
		if keep, _ := v.(bool); keep {
			out.Rows = append(out.Rows, r)
		}
	}
	out.Kept = len(out.Rows)
	return out, nil
}

func (a *Analyze) compile(expression string) (*vm.Program, error) {
	a.mu.RLock()
	prog, ok := a.cache[expression]
	a.mu.RUnlock()
	if ok {
		return prog, nil
	}

	prog, err := expr.Compile(expression,
		expr.Env(map[string]any{}),
		expr.AllowUndefinedVariables(),
		expr.AsBool(),
	)
	if err != nil {
		return nil, err
	}
	a.mu.Lock()
	a.cache[expression] = prog
	a.mu.Unlock()
	return prog, nil
}

func transform(rows []map[string]any, columns []string, params map[string]any) ([]map[string]any, error) {
	kind, err := stringParam(params, "transform", true)
	if err != nil {
		return nil, err
	}
	if len(columns) == 0 {
		for _, c := range columnsOf(rows, nil) {
			if _, ok := numericColumn(rows, c); ok {
				columns = append(columns, c)
			}
		}
	}

	out := make([]map[string]any, len(rows))
	for i, r := range rows {
		c := make(map[string]any, len(r))
		for k, v := range r {
			c[k] = v
		}
		out[i] = c
	}

	for _, col := range columns {
		nums, ok := numericColumn(rows, col)
		if !ok || len(nums) == 0 {
			continue
		}
		var f func(float64) float64
		switch kind {
		case "normalize":
			lo, hi := nums[0], nums[0]
			for _, v := range nums {
				lo, hi = math.Min(lo, v), math.Max(hi, v)
			}
			if hi == lo {
				continue
			}
			f = func(v float64) float64 { return (v - lo) / (hi - lo) }
		case "standardize":
			mean, std := meanStd(nums)
			if std == 0 {
				continue
			}
			f = func(v float64) float64 { return (v - mean) / std }
		case "log":
			positive := true
			for _, v := range nums {
				positive = positive && v > 0
			}
			if !positive {
				continue
			}
			f = math.Log
		default:
			return nil, invalid("unknown transform %q", kind)
		}
		for _, r := range out {
			if v, ok := toFloat(r[col]); ok && r[col] != nil {
				r[col] = f(v)
			}
		}
	}
	return out, nil
}

// numericColumn returns the non-null values of col and whether all of them
// are numbers.
func numericColumn(rows []map[string]any, col string) ([]float64, bool) {
	var nums []float64
	for _, r := range rows {
		v := r[col]
		if v == nil {
			continue
		}
		if _, isText := v.(string); isText {
			return nil, false
		}
		f, ok := toFloat(v)
		if !ok {
			return nil, false
		}
		nums = append(nums, f)
	}
	return nums, true
}

func pairs(rows []map[string]any, x, y string) ([]float64, []float64) {
	var xs, ys []float64
	for _, r := range rows {
		a, okA := toFloat(r[x])
		b, okB := toFloat(r[y])
		if okA && okB && r[x] != nil && r[y] != nil {
			xs = append(xs, a)
			ys = append(ys, b)
		}
	}
	return xs, ys
}

// pearson is nil when undefined (fewer than two pairs or zero variance).
func pearson(xs, ys []float64) *float64 {
	n := len(xs)
	if n < 2 {
		return nil
	}
	mx, my := sum(xs)/float64(n), sum(ys)/float64(n)
	var sxy, sxx, syy float64
	for i := range xs {
		dx, dy := xs[i]-mx, ys[i]-my
		sxy += dx * dy
		sxx += dx * dx
		syy += dy * dy
	}
	if sxx == 0 || syy == 0 {
		return nil
	}
	return ptr(sxy / math.Sqrt(sxx*syy))
}

func sum(vs []float64) float64 {
	var s float64
	for _, v := range vs {
		s += v
	}
	return s
}

// meanStd uses the sample standard deviation.
func meanStd(vs []float64) (float64, float64) {
	n := float64(len(vs))
	mean := sum(vs) / n
	if len(vs) < 2 {
		return mean, 0
	}
	var ss float64
	for _, v := range vs {
		ss += (v - mean) * (v - mean)
	}
	return mean, math.Sqrt(ss / (n - 1))
}

// quantile interpolates linearly between closest ranks of sorted.
func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	return sorted[lo] + (sorted[hi]-sorted[lo])*(pos-float64(lo))
}

func ptr(f float64) *float64 {
	return &f
}
