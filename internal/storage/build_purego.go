//go:build purego || !sqlite_vec
// +build purego !sqlite_vec

package storage

// Default build: pure Go SQLite, no C toolchain. Query distances are
// computed in Go over the candidate rows.
//
//   CGO_ENABLED=0 go build ./...

import (
	_ "modernc.org/sqlite"
)

const (
	// DriverName is the database/sql driver for the sqlite backend
	DriverName = "sqlite"

	// VectorExtensionAvailable enables SQL-side distance ranking
	VectorExtensionAvailable = false

	// BuildMode is reported by the version command
	BuildMode = "purego"
)
