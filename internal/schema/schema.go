// Package schema describes the canonical target tables: the normalized
// fields every source is mapped onto, their types, and the metadata columns
// appended to every loaded row.
package schema

import (
	"fmt"
	"regexp"
	"strings"
)

// FieldType is the canonical type of a field.
type FieldType int

const (
	FieldString FieldType = iota
	FieldInteger
	FieldDecimal
	FieldDate
	FieldBool
)

var fieldTypeNames = map[FieldType]string{
	FieldString:  "string",
	FieldInteger: "integer",
	FieldDecimal: "decimal",
	FieldDate:    "date",
	FieldBool:    "boolean",
}

func (t FieldType) String() string {
	if name, ok := fieldTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("FieldType(%d)", int(t))
}

// ParseFieldType accepts the canonical type names and their common aliases.
func ParseFieldType(s string) (FieldType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "string", "text":
		return FieldString, nil
	case "integer", "int":
		return FieldInteger, nil
	case "decimal", "numeric":
		return FieldDecimal, nil
	case "date":
		return FieldDate, nil
	case "boolean", "bool":
		return FieldBool, nil
	}
	return 0, fmt.Errorf("unknown field type %q", s)
}

// Metadata columns set on every loaded row. LoadID identifies the batch and
// is what a rollback deletes by.
const (
	ColLoadedAt   = "loaded_at"
	ColSourceFile = "source_file"
	ColVersion    = "version"
	ColLoadID     = "load_id"
)

// MetadataColumns lists the metadata columns in storage order.
var MetadataColumns = []string{ColLoadedAt, ColSourceFile, ColVersion, ColLoadID}

// Field is one canonical field of a target table.
type Field struct {
	Name string
	Type FieldType

	// Required fields must be mapped by every column map.
	Required bool

	// Nullable fields become NULL when the source value is empty and no
	// default is configured.
	Nullable bool
}

// Schema is an ordered set of canonical fields for one table.
type Schema struct {
	Table  string
	Fields []Field

	index map[string]int
}

var identRe = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

// ValidIdentifier reports whether name is safe to use unquoted as a table or
// column name in both supported dialects.
func ValidIdentifier(name string) bool {
	return identRe.MatchString(name)
}

// New builds a schema, rejecting empty, duplicate or malformed names and
// names that collide with metadata columns.
func New(table string, fields []Field) (*Schema, error) {
	if !ValidIdentifier(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("table %s: no fields", table)
	}

	s := &Schema{
		Table:  table,
		Fields: append([]Field(nil), fields...),
		index:  make(map[string]int, len(fields)),
	}
	for i, f := range s.Fields {
		if !ValidIdentifier(f.Name) {
			return nil, fmt.Errorf("table %s: invalid field name %q", table, f.Name)
		}
		if isMetadata(f.Name) {
			return nil, fmt.Errorf("table %s: field %q is reserved for load metadata", table, f.Name)
		}
		if _, dup := s.index[f.Name]; dup {
			return nil, fmt.Errorf("table %s: duplicate field %q", table, f.Name)
		}
		s.index[f.Name] = i
	}
	return s, nil
}

// MustNew is New for package-level schema definitions.
func MustNew(table string, fields []Field) *Schema {
	s, err := New(table, fields)
	if err != nil {
		panic(err)
	}
	return s
}

// Field looks up a field by canonical name.
func (s *Schema) Field(name string) (Field, bool) {
	i, ok := s.index[name]
	if !ok {
		return Field{}, false
	}
	return s.Fields[i], true
}

// FieldNames returns the canonical field names in schema order.
func (s *Schema) FieldNames() []string {
	names := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		names[i] = f.Name
	}
	return names
}

// Columns returns the canonical fields followed by the metadata columns.
func (s *Schema) Columns() []string {
	return append(s.FieldNames(), MetadataColumns...)
}

// Required returns the fields every column map must provide.
func (s *Schema) Required() []Field {
	var out []Field
	for _, f := range s.Fields {
		if f.Required {
			out = append(out, f)
		}
	}
	return out
}

// WithTable returns a copy of s targeting another table.
func (s *Schema) WithTable(table string) (*Schema, error) {
	if table == "" || table == s.Table {
		return s, nil
	}
	return New(table, s.Fields)
}

func isMetadata(name string) bool {
	for _, c := range MetadataColumns {
		if c == name {
			return true
		}
	}
	return false
}
