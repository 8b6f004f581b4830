package colmap

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/JonMunkholm/csvload/internal/convert"
	"github.com/JonMunkholm/csvload/internal/schema"
)

// Format is the encoding of a column-map file.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// FormatFromPath picks the decoder from the file extension. JSON is decoded
// by the YAML decoder.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".json":
		return FormatYAML, nil
	case ".toml":
		return FormatTOML, nil
	}
	return "", fmt.Errorf("unsupported column map extension %q (want .yaml, .yml, .json or .toml)", filepath.Ext(path))
}

type fileConfig struct {
	Table      string                  `yaml:"table" toml:"table"`
	DateFormat string                  `yaml:"dateFormat" toml:"dateFormat"`
	Sources    map[string]sourceConfig `yaml:"sources" toml:"sources"`
}

type sourceConfig struct {
	Match      []string      `yaml:"match" toml:"match"`
	DateFormat string        `yaml:"dateFormat" toml:"dateFormat"`
	Columns    []entryConfig `yaml:"columns" toml:"columns"`
}

type entryConfig struct {
	CanonicalField string   `yaml:"canonicalField" toml:"canonicalField"`
	SourceColumn   string   `yaml:"sourceColumn" toml:"sourceColumn"`
	SourceColumns  []string `yaml:"sourceColumns" toml:"sourceColumns"`
	Type           string   `yaml:"type" toml:"type"`
	Default        *string  `yaml:"default" toml:"default"`
	Value          *string  `yaml:"value" toml:"value"`
	Format         string   `yaml:"format" toml:"format"`
	Transforms     []string `yaml:"transforms" toml:"transforms"`
	Combine        string   `yaml:"combine" toml:"combine"`
	Separator      *string  `yaml:"separator" toml:"separator"`
	FlagValue      string   `yaml:"flagValue" toml:"flagValue"`
	Split          string   `yaml:"split" toml:"split"`
	Part           int      `yaml:"part" toml:"part"`
	TrueValues     []string `yaml:"trueValues" toml:"trueValues"`
	FalseValues    []string `yaml:"falseValues" toml:"falseValues"`
}

// Registry holds the validated column maps keyed by source identifier.
type Registry struct {
	schema *schema.Schema
	maps   map[string]*ColumnMap
	ids    []string
}

type options struct {
	table string
}

// Option adjusts how a column-map file is loaded.
type Option func(*options)

// WithTable targets table instead of the one named by the file or schema.
func WithTable(table string) Option {
	return func(o *options) { o.table = table }
}

// Load reads, decodes and validates the column-map file at path against s.
// Every failure is reported as a *ConfigError.
func Load(path string, s *schema.Schema, opts ...Option) (*Registry, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, &ConfigError{Path: path, Err: err}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Path: path, Err: err}
	}
	reg, err := Parse(data, format, s, opts...)
	if err != nil {
		var cfgErr *ConfigError
		if errors.As(err, &cfgErr) {
			cfgErr.Path = path
		}
		return nil, err
	}
	return reg, nil
}

// Parse decodes and validates column-map data. Unknown keys are rejected.
func Parse(data []byte, format Format, s *schema.Schema, opts ...Option) (*Registry, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	var fc fileConfig
	switch format {
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&fc); err != nil && !errors.Is(err, io.EOF) {
			return nil, &ConfigError{Err: fmt.Errorf("decode yaml: %w", err)}
		}
	case FormatTOML:
		dec := toml.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&fc); err != nil {
			return nil, &ConfigError{Err: fmt.Errorf("decode toml: %w", err)}
		}
	default:
		return nil, &ConfigError{Err: fmt.Errorf("unsupported format %q", format)}
	}

	table := fc.Table
	if o.table != "" {
		table = o.table
	}
	target, err := s.WithTable(table)
	if err != nil {
		return nil, &ConfigError{Err: err}
	}

	return build(fc, target)
}

// build validates the decoded file and resolves every source. All problems
// are collected before failing.
func build(fc fileConfig, s *schema.Schema) (*Registry, error) {
	var problems []string
	addf := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if len(fc.Sources) == 0 {
		addf("no sources configured")
	}
	if fc.DateFormat != "" && !hasYear(fc.DateFormat) {
		addf("dateFormat %q has no year component", fc.DateFormat)
	}

	ids := make([]string, 0, len(fc.Sources))
	for id := range fc.Sources {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	reg := &Registry{
		schema: s,
		maps:   make(map[string]*ColumnMap, len(ids)),
		ids:    ids,
	}

	foldedIDs := make(map[string]string)
	patternOwner := make(map[string]string)

	for _, id := range ids {
		src := fc.Sources[id]

		if strings.TrimSpace(id) == "" {
			addf("source identifier must not be blank")
			continue
		}
		folded := strings.ToLower(strings.TrimSpace(id))
		if other, dup := foldedIDs[folded]; dup {
			addf("duplicate source identifier %q (also %q)", id, other)
		}
		foldedIDs[folded] = id

		for _, p := range src.Match {
			if _, err := filepath.Match(p, ""); err != nil {
				addf("source %s: bad match pattern %q: %v", id, p, err)
				continue
			}
			key := strings.ToLower(p)
			if owner, dup := patternOwner[key]; dup {
				addf("source %s: match pattern %q already used by source %s", id, p, owner)
				continue
			}
			patternOwner[key] = id
		}

		dateFormat := src.DateFormat
		if dateFormat == "" {
			dateFormat = fc.DateFormat
		} else if !hasYear(dateFormat) {
			addf("source %s: dateFormat %q has no year component", id, dateFormat)
		}

		cm, entryProblems := buildMap(id, src, dateFormat, s)
		for _, p := range entryProblems {
			addf("source %s: %s", id, p)
		}
		reg.maps[id] = cm
	}

	if len(problems) > 0 {
		return nil, &ConfigError{Problems: problems}
	}
	return reg, nil
}

func buildMap(id string, src sourceConfig, dateFormat string, s *schema.Schema) (*ColumnMap, []string) {
	var problems []string
	addf := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	cm := &ColumnMap{
		SourceID: id,
		Schema:   s,
		patterns: append([]string(nil), src.Match...),
	}

	if len(src.Columns) == 0 {
		addf("no columns mapped")
	}

	mapped := make(map[string]bool, len(src.Columns))
	for i, ec := range src.Columns {
		label := ec.CanonicalField
		if label == "" {
			label = fmt.Sprintf("#%d", i+1)
		}

		field, ok := s.Field(ec.CanonicalField)
		if !ok {
			addf("entry %s: unknown canonical field %q", label, ec.CanonicalField)
			continue
		}
		if mapped[field.Name] {
			addf("entry %s: canonical field mapped more than once", label)
			continue
		}
		mapped[field.Name] = true

		e, entryProblems := buildEntry(ec, field, dateFormat)
		for _, p := range entryProblems {
			addf("entry %s: %s", label, p)
		}
		cm.Entries = append(cm.Entries, e)
	}

	for _, f := range s.Required() {
		if !mapped[f.Name] {
			addf("required canonical field %q is not mapped", f.Name)
		}
	}

	for _, f := range s.Fields {
		if !mapped[f.Name] && !f.Required {
			if !f.Nullable {
				addf("non-nullable canonical field %q is not mapped", f.Name)
				continue
			}
			cm.Entries = append(cm.Entries, Entry{
				Field:    f.Name,
				Type:     f.Type,
				Nullable: true,
				Implicit: true,
			})
		}
	}

	return cm, problems
}

func buildEntry(ec entryConfig, field schema.Field, dateFormat string) (Entry, []string) {
	var problems []string
	addf := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	e := Entry{
		Field:         field.Name,
		Type:          field.Type,
		Nullable:      field.Nullable,
		SourceColumn:  strings.TrimSpace(ec.SourceColumn),
		SourceColumns: trimAll(ec.SourceColumns),
		Combine:       strings.ToLower(ec.Combine),
		FlagValue:     ec.FlagValue,
		Split:         ec.Split,
		Part:          ec.Part,
		Transforms:    ec.Transforms,
		Default:       ec.Default,
		Value:         ec.Value,
	}

	if ec.Type != "" {
		t, err := schema.ParseFieldType(ec.Type)
		switch {
		case err != nil:
			addf("%v", err)
		case t != field.Type:
			addf("type %s does not match schema type %s", t, field.Type)
		}
	}

	switch {
	case e.Value != nil:
		if e.SourceColumn != "" || len(e.SourceColumns) > 0 {
			addf("value cannot be combined with sourceColumn or sourceColumns")
		}
	case e.SourceColumn != "" && len(e.SourceColumns) > 0:
		addf("set sourceColumn or sourceColumns, not both")
	case e.SourceColumn == "" && len(e.SourceColumns) == 0:
		addf("no sourceColumn, sourceColumns or value")
	}

	if len(e.SourceColumns) > 0 {
		if e.Combine == "" {
			e.Combine = CombineJoin
		}
		if e.Combine != CombineJoin && e.Combine != CombineFlags {
			addf("unknown combine mode %q (want join or flags)", ec.Combine)
		}
		for _, c := range e.SourceColumns {
			if c == "" {
				addf("blank name in sourceColumns")
			}
		}
	} else if e.Combine != "" {
		addf("combine requires sourceColumns")
	}

	e.Separator = DefaultSeparator
	if ec.Separator != nil {
		e.Separator = *ec.Separator
	}
	if e.Combine == CombineFlags && e.FlagValue == "" {
		e.FlagValue = DefaultFlagValue
	}

	if e.Part < 0 {
		addf("part must be non-negative")
	}
	if e.Part > 0 && e.Split == "" {
		addf("part requires split")
	}

	for _, name := range e.Transforms {
		if _, ok := convert.LookupTransform(name); !ok {
			addf("unknown transform %q (known: %s)", name, strings.Join(convert.TransformNames(), ", "))
		}
	}

	if field.Type == schema.FieldDate {
		e.Coerce.DateLayout = dateFormat
		if ec.Format != "" {
			e.Coerce.DateLayout = ec.Format
		}
		if e.Coerce.DateLayout == "" {
			e.Coerce.DateLayout = convert.DefaultDateLayout
		}
		if !hasYear(e.Coerce.DateLayout) {
			addf("date format %q has no year component", e.Coerce.DateLayout)
		}
	} else if ec.Format != "" {
		addf("format only applies to date fields")
	}

	if len(ec.TrueValues) > 0 || len(ec.FalseValues) > 0 {
		if field.Type != schema.FieldBool {
			addf("trueValues/falseValues only apply to boolean fields")
		}
		e.Coerce.TrueTokens = ec.TrueValues
		e.Coerce.FalseTokens = ec.FalseValues
		if e.Coerce.TrueTokens == nil {
			e.Coerce.TrueTokens = convert.DefaultTrueTokens
		}
		if e.Coerce.FalseTokens == nil {
			e.Coerce.FalseTokens = convert.DefaultFalseTokens
		}
		for _, t := range e.Coerce.TrueTokens {
			for _, f := range e.Coerce.FalseTokens {
				if strings.EqualFold(t, f) {
					addf("token %q is both true and false", t)
				}
			}
		}
	}

	if e.Default != nil {
		if _, err := convert.Coerce(e.Type, *e.Default, e.Coerce); err != nil {
			addf("default %q: %v", *e.Default, err)
		}
	}
	if e.Value != nil {
		if *e.Value == "" {
			if !e.Nullable {
				addf("empty value for non-nullable field")
			}
		} else if _, err := convert.Coerce(e.Type, *e.Value, e.Coerce); err != nil {
			addf("value %q: %v", *e.Value, err)
		}
	}

	return e, problems
}

func hasYear(layout string) bool {
	return strings.Contains(layout, "06")
}

func trimAll(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.TrimSpace(s)
	}
	return out
}

// Schema returns the target schema shared by every map.
func (r *Registry) Schema() *schema.Schema {
	return r.schema
}

// Sources returns the configured source identifiers, sorted.
func (r *Registry) Sources() []string {
	return append([]string(nil), r.ids...)
}

// Resolve returns the column map for a source identifier.
func (r *Registry) Resolve(sourceID string) (*ColumnMap, error) {
	if cm, ok := r.maps[sourceID]; ok {
		return cm, nil
	}
	return nil, &UnmappedSourceError{SourceID: sourceID, Candidates: r.Sources()}
}

// ResolveFile selects the column map whose match patterns fit the base name
// of path, case-insensitively. Exactly one source must match.
func (r *Registry) ResolveFile(path string) (*ColumnMap, error) {
	base := strings.ToLower(filepath.Base(path))

	var matches []string
	for _, id := range r.ids {
		for _, p := range r.maps[id].patterns {
			if ok, _ := filepath.Match(strings.ToLower(p), base); ok {
				matches = append(matches, id)
				break
			}
		}
	}

	switch len(matches) {
	case 1:
		return r.maps[matches[0]], nil
	case 0:
		return nil, &UnmappedSourceError{File: path, Candidates: r.Sources()}
	default:
		return nil, &UnmappedSourceError{File: path, Ambiguous: true, Candidates: matches}
	}
}
