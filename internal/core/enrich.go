package core

import (
	"maps"
	"time"
)

// Enrich attaches load metadata to a normalized record. It returns a new
// record and never modifies rec or its field map.
func Enrich(rec CanonicalRecord, sourceFile string, version int64, loadedAt time.Time) CanonicalRecord {
	return CanonicalRecord{
		Fields:     maps.Clone(rec.Fields),
		LoadedAt:   loadedAt,
		SourceFile: sourceFile,
		Version:    version,
	}
}
