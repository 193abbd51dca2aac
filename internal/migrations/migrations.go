package migrations

import "embed"

//go:embed sql
var storeMigrations embed.FS
