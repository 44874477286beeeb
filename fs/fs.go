// Package appfs embeds the files shipped with the binaries: SQL migrations, email and prompt templates and assets.
package appfs

import "embed"

//go:embed migrations/*.sql templates/email/* templates/prompts/* assets/*
var FS embed.FS
