package colmap

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/JonMunkholm/csvload/internal/schema"
)

func testSchema() *schema.Schema {
	return schema.MustNew("payments", []schema.Field{
		{Name: "amount", Type: schema.FieldDecimal, Required: true},
		{Name: "paid_on", Type: schema.FieldDate, Nullable: true},
		{Name: "payer", Type: schema.FieldString, Nullable: true},
		{Name: "tags", Type: schema.FieldString, Nullable: true},
		{Name: "refunded", Type: schema.FieldBool, Nullable: true},
	})
}

const validYAML = `
table: payments
dateFormat: "2006-01-02"
sources:
  bank:
    match: ["*bank*.csv"]
    columns:
      - canonicalField: amount
        sourceColumn: Amt
        type: decimal
        transforms: [currency]
      - canonicalField: paid_on
        sourceColumn: Date
      - canonicalField: refunded
        sourceColumn: Refund
        default: "no"
  card:
    match: ["card_*.csv"]
    dateFormat: "1/2/06"
    columns:
      - canonicalField: amount
        sourceColumn: Total
      - canonicalField: paid_on
        sourceColumn: Posted
      - canonicalField: tags
        sourceColumns: [Online, Recurring]
        combine: flags
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoad_YAML(t *testing.T) {
	reg, err := Load(writeFile(t, "map.yaml", validYAML), testSchema())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if got := strings.Join(reg.Sources(), ","); got != "bank,card" {
		t.Errorf("Sources() = %s, want bank,card", got)
	}

	bank, err := reg.Resolve("bank")
	if err != nil {
		t.Fatalf("Resolve(bank) error = %v", err)
	}
	if bank.Table() != "payments" {
		t.Errorf("Table() = %q, want payments", bank.Table())
	}

	// Three mapped entries plus implicit NULLs for payer and tags.
	if len(bank.Entries) != 5 {
		t.Fatalf("len(Entries) = %d, want 5", len(bank.Entries))
	}
	payer, ok := bank.Entry("payer")
	if !ok || !payer.Implicit {
		t.Errorf("payer entry = %+v, want implicit", payer)
	}
	paid, _ := bank.Entry("paid_on")
	if paid.Coerce.DateLayout != "2006-01-02" {
		t.Errorf("bank paid_on layout = %q, want file default", paid.Coerce.DateLayout)
	}
	if got := strings.Join(bank.SourceColumns(), ","); got != "Amt,Date,Refund" {
		t.Errorf("SourceColumns() = %s", got)
	}

	card, _ := reg.Resolve("card")
	paid, _ = card.Entry("paid_on")
	if paid.Coerce.DateLayout != "1/2/06" {
		t.Errorf("card paid_on layout = %q, want source override", paid.Coerce.DateLayout)
	}
	tags, _ := card.Entry("tags")
	if tags.Combine != CombineFlags || tags.FlagValue != DefaultFlagValue || tags.Separator != DefaultSeparator {
		t.Errorf("tags entry = %+v, want flags defaults", tags)
	}
}

func TestLoad_JSONAndTOMLMatchYAML(t *testing.T) {
	jsonDoc := `{
  "sources": {
    "bank": {
      "match": ["*bank*.csv"],
      "columns": [
        {"canonicalField": "amount", "sourceColumn": "Amt", "type": "decimal"}
      ]
    }
  }
}`
	tomlDoc := `
[sources.bank]
match = ["*bank*.csv"]

[[sources.bank.columns]]
canonicalField = "amount"
sourceColumn = "Amt"
type = "decimal"
`
	for name, doc := range map[string]string{"map.json": jsonDoc, "map.toml": tomlDoc} {
		t.Run(name, func(t *testing.T) {
			reg, err := Load(writeFile(t, name, doc), testSchema())
			if err != nil {
				t.Fatalf("Load(%s) error = %v", name, err)
			}
			cm, err := reg.Resolve("bank")
			if err != nil {
				t.Fatalf("Resolve(bank) error = %v", err)
			}
			amount, _ := cm.Entry("amount")
			if amount.SourceColumn != "Amt" || amount.Type != schema.FieldDecimal {
				t.Errorf("amount entry = %+v", amount)
			}
		})
	}
}

func TestLoad_WithTableOverride(t *testing.T) {
	reg, err := Load(writeFile(t, "map.yaml", validYAML), testSchema(), WithTable("payments_staging"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	cm, _ := reg.Resolve("bank")
	if cm.Table() != "payments_staging" {
		t.Errorf("Table() = %q, want payments_staging", cm.Table())
	}
}

func TestLoad_ConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want []string
	}{
		{
			name: "missing required field",
			doc: `
sources:
  bank:
    columns:
      - canonicalField: payer
        sourceColumn: Name`,
			want: []string{`required canonical field "amount" is not mapped`},
		},
		{
			name: "unknown field and type mismatch",
			doc: `
sources:
  bank:
    columns:
      - canonicalField: amount
        sourceColumn: Amt
        type: integer
      - canonicalField: colour
        sourceColumn: Colour`,
			want: []string{"does not match schema type decimal", `unknown canonical field "colour"`},
		},
		{
			name: "bad default and transform",
			doc: `
sources:
  bank:
    columns:
      - canonicalField: amount
        sourceColumn: Amt
        default: "ten"
        transforms: [reverse]`,
			want: []string{`default "ten"`, `unknown transform "reverse"`},
		},
		{
			name: "duplicate ids and patterns",
			doc: `
sources:
  Bank:
    match: ["*.csv"]
    columns:
      - {canonicalField: amount, sourceColumn: Amt}
  bank:
    match: ["*.CSV"]
    columns:
      - {canonicalField: amount, sourceColumn: Amt}`,
			want: []string{"duplicate source identifier", "already used by source"},
		},
		{
			name: "duplicate canonical field",
			doc: `
sources:
  bank:
    columns:
      - {canonicalField: amount, sourceColumn: Amt}
      - {canonicalField: amount, sourceColumn: Amount}`,
			want: []string{"mapped more than once"},
		},
		{
			name: "entry without source",
			doc: `
sources:
  bank:
    columns:
      - {canonicalField: amount}`,
			want: []string{"no sourceColumn, sourceColumns or value"},
		},
		{
			name: "bad combine",
			doc: `
sources:
  bank:
    columns:
      - {canonicalField: amount, sourceColumn: Amt}
      - {canonicalField: tags, sourceColumns: [A, B], combine: merge}`,
			want: []string{`unknown combine mode "merge"`},
		},
		{
			name: "no sources",
			doc:  `table: payments`,
			want: []string{"no sources configured"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, "map.yaml", tt.doc)
			_, err := Load(path, testSchema())

			var cfgErr *ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("Load() error = %v, want *ConfigError", err)
			}
			if cfgErr.Path != path {
				t.Errorf("ConfigError.Path = %q, want %q", cfgErr.Path, path)
			}
			for _, want := range tt.want {
				if !strings.Contains(err.Error(), want) {
					t.Errorf("error %q missing %q", err.Error(), want)
				}
			}
		})
	}
}

func TestLoad_RejectsUnknownKeys(t *testing.T) {
	doc := `
sources:
  bank:
    columns:
      - canonicalField: amount
        sourceColum: Amt`
	_, err := Load(writeFile(t, "map.yml", doc), testSchema())
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("Load() error = %v, want *ConfigError", err)
	}
}

func TestLoad_UnsupportedExtension(t *testing.T) {
	_, err := Load(writeFile(t, "map.ini", "x=1"), testSchema())
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("Load() error = %v, want *ConfigError", err)
	}
}

func TestResolve_Unmapped(t *testing.T) {
	reg, err := Parse([]byte(validYAML), FormatYAML, testSchema())
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	_, err = reg.Resolve("crm")
	var unmapped *UnmappedSourceError
	if !errors.As(err, &unmapped) {
		t.Fatalf("Resolve(crm) error = %v, want *UnmappedSourceError", err)
	}
	if unmapped.SourceID != "crm" || unmapped.Ambiguous {
		t.Errorf("UnmappedSourceError = %+v", unmapped)
	}
}

func TestResolveFile(t *testing.T) {
	reg, err := Parse([]byte(validYAML), FormatYAML, testSchema())
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	tests := []struct {
		path      string
		want      string
		ambiguous bool
	}{
		{"/in/march_bank_export.csv", "bank", false},
		{"/in/MARCH_BANK.CSV", "bank", false},
		{"card_2024.csv", "card", false},
		{"crm.csv", "", false},
		{"card_bank.csv", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			cm, err := reg.ResolveFile(tt.path)
			if tt.want != "" {
				if err != nil {
					t.Fatalf("ResolveFile() error = %v", err)
				}
				if cm.SourceID != tt.want {
					t.Errorf("ResolveFile() = %s, want %s", cm.SourceID, tt.want)
				}
				return
			}
			var unmapped *UnmappedSourceError
			if !errors.As(err, &unmapped) {
				t.Fatalf("ResolveFile() error = %v, want *UnmappedSourceError", err)
			}
			if unmapped.Ambiguous != tt.ambiguous {
				t.Errorf("Ambiguous = %v, want %v", unmapped.Ambiguous, tt.ambiguous)
			}
		})
	}
}
