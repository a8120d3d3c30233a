//go:build cgo

package db

import (
	"gorm.io/driver/sqlite"
)

// WAL + FK + busy timeout, immediate write transactions
func sqliteDSN(path string) string {
	return path + "?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000&_txlock=immediate"
}

func OpenSQLite(path string) (*DB, error) {
	return openSQLite(sqlite.Open(sqliteDSN(path)))
}
