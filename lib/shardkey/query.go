package shardkey

import (
	"fmt"
	"sort"
	"strings"
)

// --------------------------------------------------------------------------
// Types
// --------------------------------------------------------------------------

// Bound is one end of an interval.
type Bound struct {
	Value     any
	Inclusive bool
}

// Interval is a range of values of a single field.
type Interval struct {
	Lower Bound
	Upper Bound
}

// IsPoint reports whether the interval contains exactly one value.
func (i Interval) IsPoint() bool {
	return i.Lower.Inclusive && i.Upper.Inclusive && CompareValues(i.Lower.Value, i.Upper.Value) == 0
}

func (i Interval) empty() bool {
	c := CompareValues(i.Lower.Value, i.Upper.Value)
	return c > 0 || (c == 0 && !(i.Lower.Inclusive && i.Upper.Inclusive))
}

func (i Interval) String() string {
	l, u := "(", ")"
	if i.Lower.Inclusive {
		l = "["
	}
	if i.Upper.Inclusive {
		u = "]"
	}
	return l + FormatValue(i.Lower.Value) + ", " + FormatValue(i.Upper.Value) + u
}

// FieldRange is the set of values a query allows for one field, expressed as
// sorted, non-overlapping intervals.
type FieldRange struct {
	Field     string
	Intervals []Interval
}

func universe() Interval {
	return Interval{Lower: Bound{MinKey, true}, Upper: Bound{MaxKey, true}}
}

// Unconstrained reports whether the query does not restrict the field.
func (r FieldRange) Unconstrained() bool {
	if len(r.Intervals) != 1 {
		return false
	}
	i := r.Intervals[0]
	return i.Lower.Value == MinKey && i.Upper.Value == MaxKey
}

// Empty reports whether no value satisfies the query.
func (r FieldRange) Empty() bool {
	return len(r.Intervals) == 0
}

// Equality returns the value if the range is a single point.
func (r FieldRange) Equality() (any, bool) {
	if len(r.Intervals) == 1 && r.Intervals[0].IsPoint() {
		return r.Intervals[0].Lower.Value, true
	}
	return nil, false
}

func (r FieldRange) String() string {
	parts := make([]string, len(r.Intervals))
	for i, iv := range r.Intervals {
		parts[i] = iv.String()
	}
	return r.Field + ": " + strings.Join(parts, " U ")
}

// --------------------------------------------------------------------------
// Analysis
// --------------------------------------------------------------------------

// specialOps can not be answered by a key range.
var specialOps = map[string]struct{}{
	"$near":          {},
	"$nearSphere":    {},
	"$within":        {},
	"$geoWithin":     {},
	"$geoIntersects": {},
	"$where":         {},
	"$text":          {},
}

// Analyze computes the range of values query allows for field.
//
// Literal values and $eq produce a point, $gt/$gte/$lt/$lte narrow the bounds
// and $in produces one point per element. Operators that do not restrict a
// range ($ne, $exists, $regex, ...) leave the field unconstrained. Special
// predicates on any field fail with ErrUnsupportedQuery.
func Analyze(query Doc, field string) (FieldRange, error) {
	if err := checkSpecial(query); err != nil {
		return FieldRange{}, err
	}
	r := FieldRange{Field: field, Intervals: []Interval{universe()}}
	cond, ok := query[field]
	if !ok {
		return r, nil
	}

	ops, isOps := operatorDoc(cond)
	if !isOps {
		r.Intervals = []Interval{point(cond)}
		return r, nil
	}

	base := universe()
	var points []any
	hasIn := false
	for op, arg := range ops {
		switch op {
		case "$eq":
			base = intersect(base, point(arg))
		case "$gt":
			base = raiseLower(base, Bound{arg, false})
		case "$gte":
			base = raiseLower(base, Bound{arg, true})
		case "$lt":
			base = lowerUpper(base, Bound{arg, false})
		case "$lte":
			base = lowerUpper(base, Bound{arg, true})
		case "$in":
			list, ok := arg.([]any)
			if !ok {
				return FieldRange{}, fmt.Errorf("%w: $in needs an array", ErrUnsupportedQuery)
			}
			if hasIn {
				points = intersectPoints(points, list)
			} else {
				points = append([]any(nil), list...)
			}
			hasIn = true
		default:
			if _, special := specialOps[op]; special {
				return FieldRange{}, fmt.Errorf("%w: %s", ErrUnsupportedQuery, op)
			}
			// operators like $ne, $nin, $exists, $regex do not narrow the range
		}
	}

	if base.empty() {
		r.Intervals = nil
		return r, nil
	}
	if !hasIn {
		r.Intervals = []Interval{base}
		return r, nil
	}

	sort.Slice(points, func(i, j int) bool { return CompareValues(points[i], points[j]) < 0 })
	r.Intervals = r.Intervals[:0]
	for i, v := range points {
		if i > 0 && CompareValues(points[i-1], v) == 0 {
			continue
		}
		if iv := intersect(base, point(v)); !iv.empty() {
			r.Intervals = append(r.Intervals, iv)
		}
	}
	return r, nil
}

func checkSpecial(query Doc) error {
	for k, v := range query {
		if _, special := specialOps[k]; special {
			return fmt.Errorf("%w: %s", ErrUnsupportedQuery, k)
		}
		if ops, ok := operatorDoc(v); ok {
			for op := range ops {
				if _, special := specialOps[op]; special {
					return fmt.Errorf("%w: %s on %s", ErrUnsupportedQuery, op, k)
				}
			}
		}
	}
	return nil
}

// operatorDoc returns the condition as an operator map if all its keys are operators.
func operatorDoc(cond any) (map[string]any, bool) {
	var m map[string]any
	switch x := cond.(type) {
	case map[string]any:
		m = x
	case Doc:
		m = x
	default:
		return nil, false
	}
	if len(m) == 0 {
		return nil, false
	}
	for k := range m {
		if !strings.HasPrefix(k, "$") {
			return nil, false
		}
	}
	return m, true
}

func point(v any) Interval {
	return Interval{Lower: Bound{v, true}, Upper: Bound{v, true}}
}

func raiseLower(i Interval, b Bound) Interval {
	c := CompareValues(b.Value, i.Lower.Value)
	if c > 0 || (c == 0 && !b.Inclusive) {
		i.Lower = b
	}
	return i
}

func lowerUpper(i Interval, b Bound) Interval {
	c := CompareValues(b.Value, i.Upper.Value)
	if c < 0 || (c == 0 && !b.Inclusive) {
		i.Upper = b
	}
	return i
}

func intersect(a, b Interval) Interval {
	a = raiseLower(a, b.Lower)
	return lowerUpper(a, b.Upper)
}

func intersectPoints(a, b []any) []any {
	var out []any
	for _, x := range a {
		for _, y := range b {
			if CompareValues(x, y) == 0 {
				out = append(out, x)
				break
			}
		}
	}
	return out
}
