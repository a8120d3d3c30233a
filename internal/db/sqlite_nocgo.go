//go:build !cgo

package db

import (
	"github.com/glebarez/sqlite" // pure Go, no cgo toolchain needed
)

// sqliteDSN uses the _pragma form; the pure-Go driver ignores mattn-style keys.
func sqliteDSN(path string) string {
	return path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_txlock=immediate"
}

func OpenSQLite(path string) (*DB, error) {
	return openSQLite(sqlite.Open(sqliteDSN(path)))
}
