//go:build cgo

package store

import (
	_ "github.com/mattn/go-sqlite3"
)

// driverName selects the cgo sqlite3 driver, which can load the sqlite-vec
// extension when built with the sqlite_vec tag.
const driverName = "sqlite3"
