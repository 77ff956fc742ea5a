// Package migrations embeds the goose SQL migrations for the metadata index.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
