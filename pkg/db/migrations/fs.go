package migrations

import "embed"

// FS holds the migration sources so goose can discover versions without a checkout on disk.
//
//go:embed 0*.go
var FS embed.FS
