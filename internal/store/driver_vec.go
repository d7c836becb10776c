//go:build sqlite_vec && cgo

package store

import (
	vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

// CGO driver with the sqlite-vec extension loaded for accelerated similarity
// search. Opt in with -tags sqlite_vec.
const (
	sqliteDriverName = "sqlite3"
	vecExtension     = true
)

func init() {
	vec.Auto()
}
