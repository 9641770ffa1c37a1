// Package db embeds the SQL migrations, one directory per database driver.
package db

import "embed"

//go:embed postgres/*.sql sqlite/*.sql
var Migrations embed.FS
