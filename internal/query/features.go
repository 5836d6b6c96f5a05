package query

import (
	"maps"
	"math"
	"slices"
	"strings"

	"toko-catalog/internal/apperror"

	"github.com/spf13/cast"
)

// Reserved parameter names. Every other key is a filter candidate.
const (
	ParamPage    = "page"
	ParamLimit   = "limit"
	ParamKeyword = "keyword"
	ParamSort    = "sort"
)

var reserved = map[string]bool{ParamPage: true, ParamLimit: true, ParamKeyword: true, ParamSort: true}

// Params is the raw listing request: parameter name to the values it was given with.
type Params map[string][]string

func (p Params) first(key string) (string, bool) {
	vs, ok := p[key]
	if !ok || len(vs) == 0 {
		return "", false
	}
	return vs[0], true
}

// Options bounds pagination.
type Options struct {
	DefaultLimit int
	MaxLimit     int
}

// DefaultOptions returns the catalog's page size of 8 capped at 100.
func DefaultOptions() Options {
	return Options{DefaultLimit: 8, MaxLimit: 100}
}

func (o Options) normalize() Options {
	def := DefaultOptions()
	if o.DefaultLimit <= 0 {
		o.DefaultLimit = def.DefaultLimit
	}
	if o.MaxLimit <= 0 {
		o.MaxLimit = def.MaxLimit
	}
	if o.DefaultLimit > o.MaxLimit {
		o.DefaultLimit = o.MaxLimit
	}
	return o
}

// Spec is a composed listing query ready to be applied to a Builder.
type Spec struct {
	Filters []Predicate
	Search  []Predicate // OR'd together, AND'd with Filters
	Sort    []SortKey
	Page    int
	Limit   int
	Skip    int
	Total   int64
}

// OutOfRange reports whether the requested window starts past the last record.
func (s Spec) OutOfRange() bool {
	return int64(s.Skip) >= s.Total
}

// Builder is the query-building capability a storage engine exposes.
type Builder interface {
	Where(f Field, op Op, value any)
	Or(preds []Predicate)
	Sort(f Field, dir Direction)
	Skip(n int)
	Limit(n int)
}

// Apply feeds the spec into b: filters, then search, then sort, then the page window.
func (s Spec) Apply(b Builder) {
	for _, p := range s.Filters {
		b.Where(p.Field, p.Op, p.Value)
	}
	if len(s.Search) > 0 {
		b.Or(s.Search)
	}
	for _, k := range s.Sort {
		b.Sort(k.Field, k.Dir)
	}
	b.Skip(s.Skip)
	b.Limit(s.Limit)
}

// Build parses params against schema. total is the collection size computed by the caller;
// a page past the end still yields a valid spec.
func Build(schema *Schema, params Params, total int64, opts Options) (Spec, error) {
	var spec Spec
	var err error

	if spec.Filters, err = parseFilters(schema, params); err != nil {
		return Spec{}, err
	}
	spec.Search = parseSearch(schema, params)
	spec.Sort = parseSort(schema, params)
	if err = paginate(&spec, params, total, opts.normalize()); err != nil {
		return Spec{}, err
	}
	return spec, nil
}

func parseFilters(schema *Schema, params Params) ([]Predicate, error) {
	var preds []Predicate
	for _, key := range slices.Sorted(maps.Keys(params)) {
		if reserved[key] {
			continue
		}
		name, opName, ok := splitKey(key)
		if !ok {
			continue
		}
		field, known := schema.Lookup(name)
		if !known || !field.Filterable {
			continue
		}
		values := nonEmpty(params[key])
		if len(values) == 0 {
			continue
		}

		if opName == "" {
			p, err := equality(field, values)
			if err != nil {
				return nil, err
			}
			preds = append(preds, p)
			continue
		}

		op, known := rangeOps[opName]
		if !known {
			continue
		}
		v, err := coerce(field, key, values[len(values)-1])
		if err != nil {
			return nil, err
		}
		if op == OpEq {
			preds = append(preds, Eq(field, v))
		} else {
			preds = append(preds, Range(field, op, v))
		}
	}
	return preds, nil
}

func equality(field Field, values []string) (Predicate, error) {
	if len(values) == 1 {
		v, err := coerce(field, field.Name, values[0])
		if err != nil {
			return Predicate{}, err
		}
		return Eq(field, v), nil
	}
	set := make([]any, 0, len(values))
	for _, raw := range values {
		v, err := coerce(field, field.Name, raw)
		if err != nil {
			return Predicate{}, err
		}
		set = append(set, v)
	}
	return In(field, set), nil
}

// splitKey separates "price[gte]" into ("price", "gte"). A plain key has no operator.
func splitKey(key string) (name, op string, ok bool) {
	open := strings.IndexByte(key, '[')
	if open < 0 {
		return key, "", key != ""
	}
	if open == 0 || !strings.HasSuffix(key, "]") {
		return "", "", false
	}
	op = key[open+1 : len(key)-1]
	if op == "" || strings.ContainsAny(op, "[]") {
		return "", "", false
	}
	return key[:open], op, true
}

func coerce(field Field, key, raw string) (any, error) {
	if field.Type != TypeNumber {
		return raw, nil
	}
	f, err := cast.ToFloat64E(strings.TrimSpace(raw))
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, apperror.InvalidQuery("%s must be numeric, got %q", key, raw)
	}
	return f, nil
}

func nonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			out = append(out, v)
		}
	}
	return out
}

func parseSearch(schema *Schema, params Params) []Predicate {
	raw, ok := params.first(ParamKeyword)
	keyword := strings.TrimSpace(raw)
	if !ok || keyword == "" {
		return nil
	}
	var preds []Predicate
	for _, f := range schema.Searchable() {
		preds = append(preds, TextSearch(f, keyword))
	}
	return preds
}

func parseSort(schema *Schema, params Params) []SortKey {
	var keys []SortKey
	seen := make(map[string]bool)
	if raw, ok := params.first(ParamSort); ok {
		for _, token := range strings.Fields(raw) {
			dir := Asc
			if strings.HasPrefix(token, "-") {
				dir = Desc
				token = token[1:]
			} else {
				token = strings.TrimPrefix(token, "+")
			}
			f, known := schema.Lookup(token)
			if !known || !f.Sortable || seen[f.Name] {
				continue
			}
			seen[f.Name] = true
			keys = append(keys, SortKey{Field: f, Dir: dir})
		}
	}
	if len(keys) == 0 {
		for _, k := range schema.defaultSort {
			seen[k.Field.Name] = true
			keys = append(keys, k)
		}
	}
	if tb := schema.tieBreak; tb != nil && !seen[tb.Field.Name] {
		keys = append(keys, *tb)
	}
	return keys
}

func paginate(spec *Spec, params Params, total int64, opts Options) error {
	page, err := positiveInt(params, ParamPage, 1)
	if err != nil {
		return err
	}
	limit, err := positiveInt(params, ParamLimit, opts.DefaultLimit)
	if err != nil {
		return err
	}
	if limit > opts.MaxLimit {
		limit = opts.MaxLimit
	}
	spec.Page = page
	spec.Limit = limit
	spec.Skip = (page - 1) * limit
	spec.Total = total
	return nil
}

func positiveInt(params Params, key string, def int) (int, error) {
	raw, ok := params.first(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return def, nil
	}
	f, err := cast.ToFloat64E(strings.TrimSpace(raw))
	if err != nil || f != math.Trunc(f) || f < 1 || f > math.MaxInt32 {
		return 0, apperror.InvalidQuery("%s must be a positive integer, got %q", key, raw)
	}
	return int(f), nil
}
