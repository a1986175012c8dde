package database

import (
	"fmt"
	"net/url"
	"strings"

	"adunlock/models"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Connect opens a gorm connection for a postgres:// or sqlite:// DSN.
// sqlite DSNs take the form sqlite://path/to/file.db or sqlite://:memory:.
func Connect(dsn string) (*gorm.DB, error) {
	dialector, err := dialectorFor(dsn)
	if err != nil {
		return nil, err
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("could not connect to database: %w", err)
	}
	if db.Dialector.Name() == "sqlite" {
		// One writer at a time; a shared :memory: database also needs a single connection.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return db, nil
}

func dialectorFor(dsn string) (gorm.Dialector, error) {
	dsn = strings.TrimSpace(dsn)
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	switch strings.ToLower(parsed.Scheme) {
	case "postgres", "postgresql":
		return postgres.Open(dsn), nil
	case "sqlite", "sqlite3":
		path := strings.TrimPrefix(dsn, parsed.Scheme+"://")
		if path == "" {
			return nil, fmt.Errorf("sqlite dsn %q has no path", dsn)
		}
		return sqlite.Open(path), nil
	default:
		return nil, fmt.Errorf("unsupported database scheme %q", parsed.Scheme)
	}
}

// Close releases the pool behind db.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// AutoMigrate creates the state document table.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&models.StateDocument{}); err != nil {
		return fmt.Errorf("automigrate failed: %w", err)
	}
	if db.Dialector.Name() == "postgres" {
		return migratePostgres(db)
	}
	return nil
}
