package schema

import (
	"fmt"
	"strings"
)

// Dialect selects SQL type names for DDL.
type Dialect int

const (
	Postgres Dialect = iota
	SQLite
)

func (d Dialect) columnType(t FieldType) string {
	if d == SQLite {
		switch t {
		case FieldInteger, FieldBool:
			return "INTEGER"
		default:
			// Decimals stay TEXT so scale survives; dates are ISO-8601 text.
			return "TEXT"
		}
	}
	switch t {
	case FieldInteger:
		return "BIGINT"
	case FieldDecimal:
		return "NUMERIC"
	case FieldDate:
		return "DATE"
	case FieldBool:
		return "BOOLEAN"
	default:
		return "TEXT"
	}
}

func (d Dialect) metadataTypes() map[string]string {
	if d == SQLite {
		return map[string]string{
			ColLoadedAt:   "TEXT NOT NULL",
			ColSourceFile: "TEXT NOT NULL",
			ColVersion:    "INTEGER NOT NULL",
			ColLoadID:     "TEXT NOT NULL",
		}
	}
	return map[string]string{
		ColLoadedAt:   "TIMESTAMPTZ NOT NULL",
		ColSourceFile: "TEXT NOT NULL",
		ColVersion:    "BIGINT NOT NULL",
		ColLoadID:     "UUID NOT NULL",
	}
}

// CreateTableSQL returns idempotent statements creating the target table and
// its indexes on version and load_id.
func (s *Schema) CreateTableSQL(d Dialect) []string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n", s.Table)

	for _, f := range s.Fields {
		fmt.Fprintf(&b, "\t%s %s", f.Name, d.columnType(f.Type))
		if !f.Nullable {
			b.WriteString(" NOT NULL")
		}
		b.WriteString(",\n")
	}

	meta := d.metadataTypes()
	for i, c := range MetadataColumns {
		fmt.Fprintf(&b, "\t%s %s", c, meta[c])
		if i < len(MetadataColumns)-1 {
			b.WriteString(",")
		}
		b.WriteString("\n")
	}
	b.WriteString(")")

	return []string{
		b.String(),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s_version_idx ON %s (%s)", s.Table, s.Table, ColVersion),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s_load_id_idx ON %s (%s)", s.Table, s.Table, ColLoadID),
	}
}
