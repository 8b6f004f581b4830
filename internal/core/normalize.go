package core

import (
	"strings"

	"github.com/JonMunkholm/csvload/internal/colmap"
	"github.com/JonMunkholm/csvload/internal/convert"
)

// RowNormalizer turns raw rows of one file into canonical records.
// It binds the column map to the file's header once; Normalize is then a
// pure function of the row and safe for concurrent use.
type RowNormalizer struct {
	width int
	bound []boundEntry
}

type boundEntry struct {
	colmap.Entry
	pos    []int
	column string
}

// NewRowNormalizer binds cm to header. Header names match source columns
// case-insensitively after trimming spaces and a leading byte-order mark.
// When a name repeats, the first occurrence wins.
func NewRowNormalizer(cm *colmap.ColumnMap, header []string) (*RowNormalizer, error) {
	index := headerIndex(header)

	n := &RowNormalizer{
		width: len(header),
		bound: make([]boundEntry, 0, len(cm.Entries)),
	}
	for _, e := range cm.Entries {
		b := boundEntry{Entry: e, column: strings.Join(e.Columns(), "+")}
		for _, col := range e.Columns() {
			pos, ok := index[foldHeader(col)]
			if !ok {
				return nil, &RowFormatError{Kind: KindMissingColumn, Column: col, Field: e.Field}
			}
			b.pos = append(b.pos, pos)
		}
		n.bound = append(n.bound, b)
	}
	return n, nil
}

// Width is the number of cells every data row must carry.
func (n *RowNormalizer) Width() int {
	return n.width
}

// Normalize converts one row. row is the 1-based data row number and line
// the physical line, both used only for error reports.
func (n *RowNormalizer) Normalize(row, line int, cells []string) (CanonicalRecord, error) {
	if len(cells) != n.width {
		return CanonicalRecord{}, &RowFormatError{
			Row:      row,
			Line:     line,
			Kind:     KindCellCount,
			Expected: n.width,
			Got:      len(cells),
		}
	}

	fields := make(map[string]any, len(n.bound))
	for i := range n.bound {
		v, err := n.bound[i].value(cells)
		if err != nil {
			err.Row, err.Line = row, line
			return CanonicalRecord{}, err
		}
		fields[n.bound[i].Field] = v
	}
	return CanonicalRecord{Fields: fields}, nil
}

// Normalize binds raw.Header and converts raw.Cells in one call.
func Normalize(raw RawRow, cm *colmap.ColumnMap) (CanonicalRecord, error) {
	n, err := NewRowNormalizer(cm, raw.Header)
	if err != nil {
		return CanonicalRecord{}, err
	}
	return n.Normalize(raw.Row, raw.Line, raw.Cells)
}

func (b *boundEntry) value(cells []string) (any, *RowFormatError) {
	if b.Implicit {
		return convert.Null(b.Type), nil
	}

	var raw string
	if b.Value != nil {
		raw = *b.Value
	} else {
		raw = b.extract(cells)
	}

	if raw == "" {
		switch {
		case b.Default != nil:
			raw = *b.Default
		case b.Nullable:
			return convert.Null(b.Type), nil
		default:
			return nil, &RowFormatError{Kind: KindEmpty, Field: b.Field, Column: b.column}
		}
	}

	v, err := convert.Coerce(b.Type, raw, b.Coerce)
	if err != nil {
		return nil, &RowFormatError{Kind: KindType, Field: b.Field, Column: b.column, Value: raw, Err: err}
	}
	return v, nil
}

// extract reads the entry's cells and applies combine, transforms and
// split, in that order.
func (b *boundEntry) extract(cells []string) string {
	var s string
	switch {
	case len(b.pos) == 1 && b.Combine == "":
		s = cleanCell(cells[b.pos[0]])
	case b.Combine == colmap.CombineFlags:
		var set []string
		for i, p := range b.pos {
			if strings.EqualFold(cleanCell(cells[p]), b.FlagValue) {
				set = append(set, b.SourceColumns[i])
			}
		}
		s = strings.Join(set, b.Separator)
	default:
		var parts []string
		for _, p := range b.pos {
			if c := cleanCell(cells[p]); c != "" {
				parts = append(parts, c)
			}
		}
		s = strings.Join(parts, b.Separator)
	}

	s = convert.ApplyTransforms(s, b.Transforms)
	if b.Split != "" {
		s = splitPart(s, b.Split, b.Part)
	}
	return strings.TrimSpace(s)
}

func splitPart(s, sep string, part int) string {
	var parts []string
	if strings.TrimSpace(sep) == "" {
		parts = strings.Fields(s)
	} else {
		parts = strings.Split(s, sep)
	}
	if part < 0 || part >= len(parts) {
		return ""
	}
	return parts[part]
}

func cleanCell(s string) string {
	return strings.TrimSpace(strings.ToValidUTF8(s, "?"))
}

func foldHeader(s string) string {
	return strings.ToLower(strings.TrimSpace(strings.TrimPrefix(s, "\ufeff")))
}

func headerIndex(header []string) map[string]int {
	index := make(map[string]int, len(header))
	for i, h := range header {
		key := foldHeader(h)
		if _, dup := index[key]; !dup {
			index[key] = i
		}
	}
	return index
}

// headerHasColumns reports whether record names every column in cols.
func headerHasColumns(record, cols []string) bool {
	index := headerIndex(record)
	for _, c := range cols {
		if _, ok := index[foldHeader(c)]; !ok {
			return false
		}
	}
	return true
}

// isEmptyRow reports whether every cell is blank.
func isEmptyRow(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
