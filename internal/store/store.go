// Package store provides the SQLite storage layer for botlabel.
//
// All annotation data lives in a single SQLite database file:
// - One row per (user, cluster) membership with its label
// - The user's embedding as a packed float32 BLOB
// - A small meta table describing the embedding encoding
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// DefaultDBPath is the default database location.
const DefaultDBPath = "~/.botlabel/botlabel.db"

// MemoryDBPath opens a private in-memory database (testing).
const MemoryDBPath = ":memory:"

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("not found")
	// ErrEmbeddingSize is returned when a stored BLOB cannot be decoded.
	ErrEmbeddingSize = errors.New("embedding blob size mismatch")
	// ErrDimensionMismatch is returned when an embedding disagrees with the
	// dimension recorded for the database.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// Config holds configuration for Open.
type Config struct {
	DBPath string
	// Reset deletes the database file before opening it. Irreversible.
	Reset bool
	// EmbeddingDimensions pins the vector width up front. Zero lets the
	// first non-empty load decide.
	EmbeddingDimensions int
	Logger              *zap.Logger
}

// SQLiteStore is the botlabel storage layer.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
	logger *zap.Logger
}

// Open initializes storage and returns a ready store.
//
// A missing database file is created with the users table. An existing file
// is left as is unless cfg.Reset is set, in which case it is destroyed and
// recreated. Pass ":memory:" for in-memory databases (testing).
func Open(cfg Config) (*SQLiteStore, error) {
	if cfg.DBPath == "" {
		cfg.DBPath = ExpandPath(DefaultDBPath)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	if cfg.DBPath != MemoryDBPath {
		dir := filepath.Dir(cfg.DBPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
		if cfg.Reset {
			if err := removeDatabaseFiles(cfg.DBPath); err != nil {
				return nil, fmt.Errorf("resetting database: %w", err)
			}
			logger.Warn("database reset", zap.String("path", cfg.DBPath))
		}
	}

	db, err := sql.Open("sqlite", cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One connection: an in-memory database only exists on the connection
	// that created it, and SQLite allows a single writer anyway.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting pragma %q: %w", p, err)
		}
	}

	s := &SQLiteStore{
		db:     db,
		dbPath: cfg.DBPath,
		logger: logger,
	}

	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}

	if cfg.EmbeddingDimensions > 0 {
		if err := s.pinDimensions(cfg.EmbeddingDimensions); err != nil {
			db.Close()
			return nil, err
		}
	}

	return s, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Path returns the database location the store was opened with.
func (s *SQLiteStore) Path() string {
	return s.dbPath
}

func removeDatabaseFiles(path string) error {
	for _, p := range []string{path, path + "-wal", path + "-shm"} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

// ExpandPath expands a leading ~ to the home directory.
func ExpandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}
