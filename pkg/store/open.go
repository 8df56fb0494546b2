package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Open selects a backend from a database URL:
//
//	postgres://...   durable Postgres store
//	"" or a path     lite mode, single-file SQLite (":memory:" works)
//	"memory"         in-process store, nothing persisted
//
// The returned store owns the underlying connection; Close releases it.
func Open(databaseURL string) (EventStore, error) {
	switch {
	case databaseURL == "memory":
		return NewMemoryEventStore(), nil

	case strings.HasPrefix(databaseURL, "postgres://") || strings.HasPrefix(databaseURL, "postgresql://"):
		db, err := sql.Open("postgres", databaseURL)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		s, err := NewPostgresEventStore(db)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		return s, nil

	default:
		path := databaseURL
		if path == "" {
			if err := os.MkdirAll("data", 0o750); err != nil {
				return nil, fmt.Errorf("create data dir: %w", err)
			}
			path = filepath.Join("data", "aigrc.db")
		}
		db, err := sql.Open("sqlite", path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		s, err := NewSQLiteEventStore(db)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		return s, nil
	}
}
