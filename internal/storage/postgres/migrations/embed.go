// Package migrations holds the PostgreSQL ledger schema.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
