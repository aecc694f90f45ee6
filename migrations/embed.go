// Package migrations holds the ledger store schema. Every statement is
// unqualified; the migrator runs them with search_path set to the schema of
// one bot identity.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
