package query

import (
	"cmp"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cast"
)

// Plan is a Builder that records what was applied so it can be evaluated in memory.
type Plan struct {
	Conditions []Predicate
	AnyOf      [][]Predicate
	Order      []SortKey
	Offset     int
	Max        int
}

// Where records a filter condition.
func (p *Plan) Where(f Field, op Op, value any) {
	kind := KindRange
	switch op {
	case OpEq:
		kind = KindEq
	case OpIn:
		kind = KindIn
	case OpMatch:
		kind = KindTextSearch
	}
	p.Conditions = append(p.Conditions, Predicate{Kind: kind, Field: f, Op: op, Value: value})
}

// Or records a group of predicates of which one must match.
func (p *Plan) Or(preds []Predicate) { p.AnyOf = append(p.AnyOf, preds) }

// Sort appends a sort key.
func (p *Plan) Sort(f Field, dir Direction) { p.Order = append(p.Order, SortKey{Field: f, Dir: dir}) }

// Skip sets how many matches to drop.
func (p *Plan) Skip(n int) { p.Offset = n }

// Limit caps the number of results.
func (p *Plan) Limit(n int) { p.Max = n }

// Accessor reads the value stored under a column of a record.
type Accessor[T any] func(rec T, column string) any

// Run filters, orders and windows records. The input slice is not modified.
func Run[T any](p *Plan, records []T, get Accessor[T]) []T {
	out := make([]T, 0, len(records))
	for _, rec := range records {
		if matches(p, rec, get) {
			out = append(out, rec)
		}
	}
	slices.SortStableFunc(out, func(a, b T) int {
		for _, k := range p.Order {
			c := Compare(get(a, k.Field.Column), get(b, k.Field.Column))
			if c == 0 {
				continue
			}
			if k.Dir == Desc {
				return -c
			}
			return c
		}
		return 0
	})
	if p.Offset >= len(out) {
		return out[:0]
	}
	out = out[p.Offset:]
	if p.Max > 0 && p.Max < len(out) {
		out = out[:p.Max]
	}
	return out
}

func matches[T any](p *Plan, rec T, get Accessor[T]) bool {
	for _, pred := range p.Conditions {
		if !Eval(pred, get(rec, pred.Field.Column)) {
			return false
		}
	}
	for _, group := range p.AnyOf {
		hit := false
		for _, pred := range group {
			if Eval(pred, get(rec, pred.Field.Column)) {
				hit = true
				break
			}
		}
		if !hit {
			return false
		}
	}
	return true
}

// Eval reports whether value satisfies pred.
func Eval(pred Predicate, value any) bool {
	switch pred.Op {
	case OpEq:
		return Compare(value, pred.Value) == 0
	case OpIn:
		set, _ := pred.Value.([]any)
		for _, v := range set {
			if Compare(value, v) == 0 {
				return true
			}
		}
		return false
	case OpGt:
		return Compare(value, pred.Value) > 0
	case OpGte:
		return Compare(value, pred.Value) >= 0
	case OpLt:
		return Compare(value, pred.Value) < 0
	case OpLte:
		return Compare(value, pred.Value) <= 0
	case OpMatch:
		s, _ := value.(string)
		kw, _ := pred.Value.(string)
		return strings.Contains(strings.ToLower(s), strings.ToLower(kw))
	}
	return false
}

// Compare orders two scalar values. Numbers compare numerically, times chronologically and
// everything else by string form; nil sorts first.
func Compare(a, b any) int {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0
		case a == nil:
			return -1
		default:
			return 1
		}
	}
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return cmp.Compare(fa, fb)
		}
	}
	if ta, ok := a.(time.Time); ok {
		if tb, ok := b.(time.Time); ok {
			return ta.Compare(tb)
		}
	}
	return strings.Compare(toString(a), toString(b))
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func toString(v any) string {
	if t, ok := v.(time.Time); ok {
		return t.Format(time.RFC3339Nano)
	}
	return cast.ToString(v)
}
