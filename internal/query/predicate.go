package query

// Kind tags the shape of a Predicate.
type Kind int

const (
	KindEq Kind = iota
	KindIn
	KindRange
	KindTextSearch
)

// Op is a comparison operator understood by every Builder.
type Op string

const (
	OpEq    Op = "eq"
	OpGt    Op = "gt"
	OpGte   Op = "gte"
	OpLt    Op = "lt"
	OpLte   Op = "lte"
	OpIn    Op = "in"
	OpMatch Op = "match" // case-insensitive substring
)

var rangeOps = map[string]Op{
	"gt":  OpGt,
	"gte": OpGte,
	"lt":  OpLt,
	"lte": OpLte,
	"eq":  OpEq,
}

// Predicate is a single condition on one field.
//
// Value holds a float64 or string for KindEq and KindRange, a []any for KindIn and the raw
// keyword for KindTextSearch.
type Predicate struct {
	Kind  Kind
	Field Field
	Op    Op
	Value any
}

// Eq builds an equality predicate.
func Eq(f Field, v any) Predicate { return Predicate{Kind: KindEq, Field: f, Op: OpEq, Value: v} }

// In builds a set-membership predicate.
func In(f Field, vs []any) Predicate { return Predicate{Kind: KindIn, Field: f, Op: OpIn, Value: vs} }

// Range builds a comparison predicate.
func Range(f Field, op Op, v any) Predicate {
	return Predicate{Kind: KindRange, Field: f, Op: op, Value: v}
}

// TextSearch builds a case-insensitive substring predicate.
func TextSearch(f Field, keyword string) Predicate {
	return Predicate{Kind: KindTextSearch, Field: f, Op: OpMatch, Value: keyword}
}

// Direction is a sort direction.
type Direction int

const (
	Asc Direction = iota
	Desc
)

func (d Direction) String() string {
	if d == Desc {
		return "desc"
	}
	return "asc"
}

// SortKey orders results by one field.
type SortKey struct {
	Field Field
	Dir   Direction
}
