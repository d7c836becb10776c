//go:build !(sqlite_vec && cgo)

package store

import (
	_ "modernc.org/sqlite"
)

// Pure-Go SQLite driver. Vector search falls back to the in-process cosine
// scan over stored embeddings.
const (
	sqliteDriverName = "sqlite"
	vecExtension     = false
)
