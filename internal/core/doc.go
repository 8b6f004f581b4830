// Package core provides the load pipeline for CSV files.
//
// This package holds the domain logic independent of any transport: the CLI
// and the HTTP API both drive it through [Service].
//
// # Pipeline
//
// Each file moves through fixed phases, recorded in [LoadResult.Phase]:
//
//  1. pending: the file is queued.
//  2. mapping_resolved: a [colmap.ColumnMap] was found by source id or by
//     file-name pattern.
//  3. normalizing: every data row is converted by a [RowNormalizer] into a
//     [CanonicalRecord]. The first row that does not fit fails the file.
//  4. enriched: a version was reserved by the [Allocator] and [Enrich]
//     attached loaded_at, source_file and version to every record.
//  5. committed: all records and the ledger update were written in one
//     storage transaction.
//
// Any failure ends in failed; nothing of the file is visible in the target
// table. A version reserved before the failure stays burned.
//
// # Versions
//
// Versions are strictly increasing per scope (per table by default) and are
// reserved in a durable ledger with a unique (scope, version) key, so
// concurrent loads in one or several processes never share a version.
//
// # Error Handling
//
// Failures are typed ([RowFormatError], [StorageError], plus the colmap
// errors) and mapped to support codes by [MapError]:
//
//   - CFG, MAP: column-map configuration and resolution
//   - ROW001-ROW005: rows that do not fit the map
//   - FILE, DB, STO, BAT, LOAD: files, storage, ledger and load control
package core
