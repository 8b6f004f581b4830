// Package convert coerces raw CSV cell text into typed pgtype values.
//
// Coercion is strict: each canonical type has exactly one accepted format
// (dates use the layout configured for the field), and anything else is an
// error rather than a silent NULL. Cleanup such as stripping currency
// symbols happens earlier, through named transforms.
package convert

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/JonMunkholm/csvload/internal/schema"
)

// ErrInvalidValue is wrapped by every coercion failure.
var ErrInvalidValue = errors.New("invalid value")

// DefaultDateLayout is used when neither the entry nor its source sets one.
const DefaultDateLayout = "2006-01-02"

// TwoDigitYearPivot defines how 2-digit years are interpreted.
// Years that would result in dates more than this many years in the future
// are assumed to be in the previous century.
var TwoDigitYearPivot = 20

var (
	integerRe = regexp.MustCompile(`^[+-]?\d+$`)
	decimalRe = regexp.MustCompile(`^[+-]?\d+(\.\d+)?$`)
)

// Default boolean token sets, matched case-insensitively.
var (
	DefaultTrueTokens  = []string{"true", "t", "yes", "y", "1"}
	DefaultFalseTokens = []string{"false", "f", "no", "n", "0"}
)

// Options carries the per-field coercion settings.
type Options struct {
	DateLayout  string
	TrueTokens  []string
	FalseTokens []string
}

// Coerce converts s to the pgtype value for t. Empty input is an error;
// callers decide between defaults and NULL before coercing.
func Coerce(t schema.FieldType, s string, opts Options) (any, error) {
	switch t {
	case schema.FieldString:
		if s == "" {
			return nil, fmt.Errorf("%w: empty string", ErrInvalidValue)
		}
		return pgtype.Text{String: s, Valid: true}, nil
	case schema.FieldInteger:
		return ParseInteger(s)
	case schema.FieldDecimal:
		return ParseDecimal(s)
	case schema.FieldDate:
		return ParseDate(s, opts.DateLayout)
	case schema.FieldBool:
		return ParseBool(s, opts.TrueTokens, opts.FalseTokens)
	}
	return nil, fmt.Errorf("%w: unsupported type %s", ErrInvalidValue, t)
}

// Null returns the typed NULL for t.
func Null(t schema.FieldType) any {
	switch t {
	case schema.FieldInteger:
		return pgtype.Int8{}
	case schema.FieldDecimal:
		return pgtype.Numeric{}
	case schema.FieldDate:
		return pgtype.Date{}
	case schema.FieldBool:
		return pgtype.Bool{}
	default:
		return pgtype.Text{}
	}
}

// ToText converts a string to pgtype.Text, invalid when blank.
func ToText(s string) pgtype.Text {
	s = strings.TrimSpace(s)
	if s == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: s, Valid: true}
}

// ParseInteger accepts an optional sign followed by base-10 digits.
// Separators, decimals and exponents are rejected.
func ParseInteger(s string) (pgtype.Int8, error) {
	if !integerRe.MatchString(s) {
		return pgtype.Int8{}, fmt.Errorf("%w: invalid integer %q", ErrInvalidValue, s)
	}
	i, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return pgtype.Int8{}, fmt.Errorf("%w: invalid integer %q: out of range", ErrInvalidValue, s)
	}
	return pgtype.Int8{Int64: i, Valid: true}, nil
}

// ParseDecimal accepts an optional sign, digits and an optional fraction.
// Scale is preserved: "12.50" keeps two fractional digits.
func ParseDecimal(s string) (pgtype.Numeric, error) {
	if !decimalRe.MatchString(s) {
		return pgtype.Numeric{}, fmt.Errorf("%w: invalid number %q", ErrInvalidValue, s)
	}
	var n pgtype.Numeric
	if err := n.Scan(s); err != nil {
		return pgtype.Numeric{}, fmt.Errorf("%w: invalid number %q: %v", ErrInvalidValue, s, err)
	}
	return n, nil
}

// ParseDate parses s with exactly one layout. Layouts with a two-digit year
// apply TwoDigitYearPivot.
func ParseDate(s, layout string) (pgtype.Date, error) {
	if layout == "" {
		layout = DefaultDateLayout
	}
	t, err := time.Parse(layout, s)
	if err != nil {
		return pgtype.Date{}, fmt.Errorf("%w: invalid date %q for layout %q", ErrInvalidValue, s, layout)
	}
	if twoDigitYear(layout) {
		if pivot := time.Now().Year() + TwoDigitYearPivot; t.Year() > pivot {
			t = t.AddDate(-100, 0, 0)
		}
	}
	return pgtype.Date{Time: t, Valid: true}, nil
}

func twoDigitYear(layout string) bool {
	return strings.Contains(layout, "06") && !strings.Contains(layout, "2006")
}

// ParseBool matches s case-insensitively against the token sets. Nil sets
// fall back to the defaults.
func ParseBool(s string, trueTokens, falseTokens []string) (pgtype.Bool, error) {
	if trueTokens == nil {
		trueTokens = DefaultTrueTokens
	}
	if falseTokens == nil {
		falseTokens = DefaultFalseTokens
	}
	for _, tok := range trueTokens {
		if strings.EqualFold(s, tok) {
			return pgtype.Bool{Bool: true, Valid: true}, nil
		}
	}
	for _, tok := range falseTokens {
		if strings.EqualFold(s, tok) {
			return pgtype.Bool{Bool: false, Valid: true}, nil
		}
	}
	return pgtype.Bool{}, fmt.Errorf("%w: invalid boolean %q", ErrInvalidValue, s)
}
