// Package colmap holds the declarative column maps that tell the loader how
// each source's CSV columns land on the canonical schema.
//
// A Registry is built once at process start from a YAML, JSON or TOML file,
// validated eagerly, and read-only afterwards, so it is safe for concurrent
// use without locking.
package colmap

import (
	"github.com/JonMunkholm/csvload/internal/convert"
	"github.com/JonMunkholm/csvload/internal/schema"
)

// Combine modes for multi-column entries.
const (
	CombineJoin  = "join"
	CombineFlags = "flags"
)

// Defaults for multi-column entries.
const (
	DefaultSeparator = ", "
	DefaultFlagValue = "Y"
)

// Entry maps one canonical field to its source.
type Entry struct {
	Field    string
	Type     schema.FieldType
	Nullable bool

	// SourceColumn is set for single-column entries.
	SourceColumn string

	// SourceColumns and Combine are set for entries built from several
	// columns: "join" concatenates non-empty cells, "flags" concatenates the
	// names of the columns whose cell equals FlagValue.
	SourceColumns []string
	Combine       string
	Separator     string
	FlagValue     string

	// Split, when set, splits the value and keeps element Part.
	Split string
	Part  int

	Transforms []string

	// Default replaces an empty value. Value is a constant that ignores the
	// row entirely.
	Default *string
	Value   *string

	// Implicit marks optional schema fields the map does not mention; they
	// are always NULL.
	Implicit bool

	Coerce convert.Options
}

// Columns returns the source columns the entry reads.
func (e Entry) Columns() []string {
	if e.SourceColumn != "" {
		return []string{e.SourceColumn}
	}
	return e.SourceColumns
}

// ColumnMap is the resolved mapping for one source.
type ColumnMap struct {
	SourceID string
	Schema   *schema.Schema
	Entries  []Entry

	patterns []string
}

// Table is the target table name.
func (m *ColumnMap) Table() string {
	return m.Schema.Table
}

// Entry returns the entry for a canonical field.
func (m *ColumnMap) Entry(field string) (Entry, bool) {
	for _, e := range m.Entries {
		if e.Field == field {
			return e, true
		}
	}
	return Entry{}, false
}

// SourceColumns returns every distinct source column the map reads, in
// entry order.
func (m *ColumnMap) SourceColumns() []string {
	seen := make(map[string]bool)
	var cols []string
	for _, e := range m.Entries {
		for _, c := range e.Columns() {
			if !seen[c] {
				seen[c] = true
				cols = append(cols, c)
			}
		}
	}
	return cols
}

// Patterns returns the file-name globs that select this map.
func (m *ColumnMap) Patterns() []string {
	return append([]string(nil), m.patterns...)
}
