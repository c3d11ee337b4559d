//go:build sqlite_vec
// +build sqlite_vec

package storage

// Built with CGO and the sqlite_vec tag, the sqlite backend ranks queries
// inside SQLite using vec_distance_cosine.
//
//   CGO_ENABLED=1 go build -tags "sqlite_vec" ./...

import (
	_ "github.com/mattn/go-sqlite3"
)

const (
	// DriverName is the database/sql driver for the sqlite backend
	DriverName = "sqlite3"

	// VectorExtensionAvailable enables SQL-side distance ranking
	VectorExtensionAvailable = true

	// BuildMode is reported by the version command
	BuildMode = "cgo"
)
