//go:build !(sqlite_vec && cgo)

package store

import (
	_ "modernc.org/sqlite"
)

// Pure-Go driver; the default build needs no cgo toolchain.
const driverName = "sqlite"
