//go:build !cgo

package store

import (
	_ "modernc.org/sqlite"
)

// driverName selects the pure-Go driver for cgo-less builds. Vector search
// falls back to the in-process cosine scan.
const driverName = "sqlite"
