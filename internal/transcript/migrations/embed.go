// Package migrations holds the transcript schema, embedded into the binary.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
