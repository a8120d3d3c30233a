package db

import (
	"fmt"

	"gorm.io/gorm"
)

type DB struct {
	*gorm.DB
}

func New(gormDB *gorm.DB) *DB { return &DB{gormDB} }

// Open connects to the given driver ("sqlite" or "postgres") and migrates the schema.
func Open(driver, dsn string) (*DB, error) {
	switch driver {
	case "sqlite":
		return OpenSQLite(dsn)
	case "postgres":
		return OpenPostgres(dsn)
	default:
		return nil, fmt.Errorf("db: unknown driver %q", driver)
	}
}

func gormConfig() *gorm.Config {
	return &gorm.Config{TranslateError: true}
}

func (db *DB) AutoMigrate() error {
	if err := db.DB.AutoMigrate(&Upload{}); err != nil {
		return err
	}
	return db.ensureIndexes()
}

func (db *DB) ensureIndexes() error {
	stmts := []string{
		// listing order for the expiry sweep
		`CREATE INDEX IF NOT EXISTS ix_uploads_created_id ON uploads (created_at, id)`,
	}

	for i, s := range stmts {
		if err := db.DB.Exec(s).Error; err != nil {
			return fmt.Errorf("ensureIndexes step %d failed: %w", i, err)
		}
	}
	return nil
}

// openSQLite finishes either sqlite build: one connection, so writers queue
// in database/sql instead of racing for the file lock.
func openSQLite(d gorm.Dialector) (*DB, error) {
	g, err := gorm.Open(d, gormConfig())
	if err != nil {
		return nil, err
	}
	sqlDB, err := g.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	db := New(g)
	if err := db.AutoMigrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func (db *DB) Close() error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
