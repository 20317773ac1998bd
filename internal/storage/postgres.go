package storage

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// NewPostgres connects to PostgreSQL and creates missing tables.
func NewPostgres(url string) (*Store, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{db: db, dialect: dialectPostgres}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	log.Info().Msg("Connected to PostgreSQL")
	return s, nil
}

// NewSQLite opens a SQLite file, or an in-memory database for ":memory:".
func NewSQLite(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one connection keeps writers serialized and an in-memory db shared
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{db: db, dialect: dialectSQLite}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	log.Info().Str("path", path).Msg("Opened SQLite store")
	return s, nil
}

// Open picks the backend by driver name: "postgres" or "sqlite".
func Open(driver, postgresURL, sqlitePath string) (*Store, error) {
	switch driver {
	case "postgres":
		return NewPostgres(postgresURL)
	case "sqlite", "":
		return NewSQLite(sqlitePath)
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}
