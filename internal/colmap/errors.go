package colmap

import (
	"fmt"
	"strings"
)

// ConfigError reports a column-map file that failed to load or validate.
// Problems lists every validation failure found, not just the first.
type ConfigError struct {
	Path     string
	Problems []string
	Err      error
}

func (e *ConfigError) Error() string {
	where := "column map"
	if e.Path != "" {
		where = fmt.Sprintf("column map %s", e.Path)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: invalid configuration: %v", where, e.Err)
	}
	return fmt.Sprintf("%s: invalid configuration:\n  - %s", where, strings.Join(e.Problems, "\n  - "))
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// UnmappedSourceError reports a source identifier or file name with no
// column map, or a file name that matches more than one.
type UnmappedSourceError struct {
	SourceID  string
	File      string
	Ambiguous bool

	// Candidates lists the matching sources when Ambiguous, otherwise the
	// configured sources.
	Candidates []string
}

func (e *UnmappedSourceError) Error() string {
	switch {
	case e.Ambiguous:
		return fmt.Sprintf("file %q matches multiple column maps: %s", e.File, strings.Join(e.Candidates, ", "))
	case e.SourceID != "":
		return fmt.Sprintf("no column map for source %q (configured: %s)", e.SourceID, strings.Join(e.Candidates, ", "))
	default:
		return fmt.Sprintf("no column map matches file %q (configured: %s)", e.File, strings.Join(e.Candidates, ", "))
	}
}
