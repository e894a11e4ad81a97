// Package migrations embeds the SQL schema applied by the postgres adapters.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
