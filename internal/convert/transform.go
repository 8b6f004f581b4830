package convert

import (
	"sort"
	"strings"
	"unicode"
)

// Transform rewrites a cell value before coercion.
type Transform func(string) string

var transforms = map[string]Transform{
	"trim":            strings.TrimSpace,
	"upper":           strings.ToUpper,
	"lower":           strings.ToLower,
	"digits":          Digits,
	"strip_quotes":    StripQuotes,
	"collapse_spaces": CollapseSpaces,
	"us_state":        NormalizeUsState,
	"excel":           StripExcelFormula,
	"currency":        StripCurrency,
}

// LookupTransform returns the named transform.
func LookupTransform(name string) (Transform, bool) {
	fn, ok := transforms[name]
	return fn, ok
}

// TransformNames lists the registered transform names, sorted.
func TransformNames() []string {
	names := make([]string, 0, len(transforms))
	for name := range transforms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ApplyTransforms runs the named transforms in order. Names are validated
// when the column map loads; unknown names are ignored here.
func ApplyTransforms(s string, names []string) string {
	for _, name := range names {
		if fn, ok := transforms[name]; ok {
			s = fn(s)
		}
	}
	return s
}

// Digits keeps only ASCII digits ("(555) 123-4567" -> "5551234567").
func Digits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// StripQuotes removes every double quote, including doubled quotes left
// behind by exports that quote twice.
func StripQuotes(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, `"`, ""))
}

// CollapseSpaces trims s and folds internal whitespace runs to one space.
func CollapseSpaces(s string) string {
	return strings.Join(strings.FieldsFunc(s, unicode.IsSpace), " ")
}

// StripExcelFormula unwraps ="value" and drops a leading '='.
func StripExcelFormula(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, `="`) && strings.HasSuffix(s, `"`) && len(s) >= 3 {
		return s[2 : len(s)-1]
	}
	return strings.TrimPrefix(s, "=")
}

// StripCurrency removes currency symbols and thousands separators and turns
// accounting negatives "(12.00)" into "-12.00".
func StripCurrency(s string) string {
	s = strings.TrimSpace(s)

	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = strings.TrimSpace(s[1 : len(s)-1])
	}

	s = strings.NewReplacer("$", "", "€", "", "£", "", ",", "").Replace(s)
	s = strings.TrimSpace(s)

	if negative && s != "" {
		s = "-" + s
	}
	return s
}
