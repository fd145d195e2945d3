// Package migrations embeds the sqlite schema for the credential store.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
