// Package migrations embeds the SQL schema migrations. NNN_name.sql applies a
// migration and NNN_name.down.sql reverts it.
package migrations

import "embed"

//go:embed *.sql
var Files embed.FS
