// Package migrations embeds the SQL schema migrations so binaries can
// self-migrate at startup.
package migrations

import "embed"

//go:embed *.sql
var Files embed.FS
