// Package query turns raw listing parameters into a bounded query Spec and applies it to a
// storage-specific Builder.
package query

// FieldType tells the parser how to coerce filter values.
type FieldType int

const (
	TypeText FieldType = iota
	TypeNumber
	TypeTime
)

// Field is a queryable attribute. Name is the public parameter name, Column the storage key.
// FoldedColumn, when set, holds the value already lowercased so SQL search does not depend on the
// engine's LOWER(), which only folds ASCII on SQLite.
type Field struct {
	Name         string
	Column       string
	FoldedColumn string
	Type         FieldType
	Filterable   bool
	Sortable     bool
	Searchable   bool
}

// Schema is the allow-list of fields a listing may touch.
type Schema struct {
	fields      map[string]Field
	order       []string
	defaultSort []SortKey
	tieBreak    *SortKey
}

// NewSchema builds a schema from fields, keeping declaration order for searchable fields.
func NewSchema(fields ...Field) *Schema {
	s := &Schema{fields: make(map[string]Field, len(fields))}
	for _, f := range fields {
		if f.Column == "" {
			f.Column = f.Name
		}
		if _, dup := s.fields[f.Name]; !dup {
			s.order = append(s.order, f.Name)
		}
		s.fields[f.Name] = f
	}
	return s
}

// WithDefaultSort sets the ordering used when the request carries no sort keys.
func (s *Schema) WithDefaultSort(keys ...SortKey) *Schema {
	s.defaultSort = keys
	return s
}

// WithTieBreak sets the key appended to every ordering so pages are deterministic.
func (s *Schema) WithTieBreak(key SortKey) *Schema {
	s.tieBreak = &key
	return s
}

// Lookup returns the field registered under name.
func (s *Schema) Lookup(name string) (Field, bool) {
	f, ok := s.fields[name]
	return f, ok
}

// Searchable returns the fields a keyword is matched against.
func (s *Schema) Searchable() []Field {
	var out []Field
	for _, name := range s.order {
		if f := s.fields[name]; f.Searchable {
			out = append(out, f)
		}
	}
	return out
}

// ProductSchema is the field catalog for product listings.
func ProductSchema() *Schema {
	s := NewSchema(
		Field{Name: "id", Type: TypeText, Filterable: true, Sortable: true},
		Field{Name: "name", FoldedColumn: "name_folded", Type: TypeText, Filterable: true, Sortable: true, Searchable: true},
		Field{Name: "description", Type: TypeText},
		Field{Name: "price", Type: TypeNumber, Filterable: true, Sortable: true},
		Field{Name: "category", Type: TypeText, Filterable: true, Sortable: true},
		Field{Name: "stock", Type: TypeNumber, Filterable: true, Sortable: true},
		Field{Name: "brand", Type: TypeText, Filterable: true, Sortable: true},
		Field{Name: "for_whom", Type: TypeText, Filterable: true, Sortable: true},
		Field{Name: "created_at", Type: TypeTime, Sortable: true},
		Field{Name: "updated_at", Type: TypeTime, Sortable: true},
	)
	created, _ := s.Lookup("created_at")
	id, _ := s.Lookup("id")
	return s.WithDefaultSort(SortKey{Field: created, Dir: Desc}).
		WithTieBreak(SortKey{Field: id, Dir: Asc})
}
