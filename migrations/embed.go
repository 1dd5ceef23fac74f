// Package migrations embeds the goose SQL migrations for the dialog store.
package migrations

import "embed"

// FS holds every migration file; Dir is the directory goose reads from inside FS.
//
//go:embed *.sql
var FS embed.FS

const Dir = "."
