//go:build sqlite_vec && cgo

package store

import (
	vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

// cgo driver with the sqlite-vec extension auto-loaded, for
// embedding-based memory retrieval.
const driverName = "sqlite3"

func init() {
	vec.Auto()
}
