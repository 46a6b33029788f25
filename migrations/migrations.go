// Package migrations embeds the PostgreSQL schema so the migrate binary
// does not depend on the working directory.
package migrations

import "embed"

// FS holds every *.up.sql file, applied in lexical order.
//
//go:embed *.up.sql
var FS embed.FS
