package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// SchemaVersion is written to meta on bootstrap. The schema is never
// altered in place; a new version means a reset.
const SchemaVersion = 1

// EmbeddingEncoding names the BLOB layout of the embedding column.
const EmbeddingEncoding = "float32le"

const (
	metaSchemaVersion       = "schema_version"
	metaEmbeddingEncoding   = "embedding_encoding"
	metaEmbeddingDimensions = "embedding_dimensions"
	metaCreatedAt           = "created_at"
)

// ensureSchema creates the tables on a fresh database. An existing users
// table means the database was already bootstrapped and nothing is touched.
func (s *SQLiteStore) ensureSchema() error {
	var exists int
	if err := s.db.QueryRow(
		`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='users'`,
	).Scan(&exists); err != nil {
		return fmt.Errorf("checking bootstrap state: %w", err)
	}
	if exists > 0 {
		return nil
	}
	return s.runBootstrapDDL()
}

func (s *SQLiteStore) runBootstrapDDL() error {
	statements := []string{
		// label: 0 unassigned, 1 not bot, 2 bot
		`CREATE TABLE IF NOT EXISTS users (
			user_id    TEXT NOT NULL,
			cluster_id INTEGER NOT NULL,
			label      INTEGER NOT NULL DEFAULT 0 CHECK (label IN (0, 1, 2)),
			embedding  BLOB,
			PRIMARY KEY (user_id, cluster_id)
		)`,

		`CREATE INDEX IF NOT EXISTS idx_users_cluster ON users(cluster_id)`,
		`CREATE INDEX IF NOT EXISTS idx_users_label ON users(label)`,

		`CREATE TABLE IF NOT EXISTS meta (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin bootstrap transaction: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range statements {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("executing bootstrap DDL: %w", err)
		}
	}

	seed := [][2]string{
		{metaSchemaVersion, strconv.Itoa(SchemaVersion)},
		{metaEmbeddingEncoding, EmbeddingEncoding},
		{metaCreatedAt, time.Now().UTC().Format(time.RFC3339)},
	}
	for _, kv := range seed {
		if _, err := tx.Exec(
			"INSERT OR IGNORE INTO meta (key, value) VALUES (?, ?)", kv[0], kv[1],
		); err != nil {
			return fmt.Errorf("seeding meta key %q: %w", kv[0], err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit bootstrap transaction: %w", err)
	}
	s.logger.Info("database bootstrapped",
		zap.String("path", s.dbPath),
		zap.Int("schema_version", SchemaVersion),
	)
	return nil
}

// pinDimensions records a configured embedding width, or checks it against
// the width already recorded.
func (s *SQLiteStore) pinDimensions(dims int) error {
	ctx := context.Background()
	recorded, err := s.EmbeddingDimensions(ctx)
	if err != nil {
		return err
	}
	if recorded != 0 && recorded != dims {
		return fmt.Errorf("%w: configured %d, database has %d", ErrDimensionMismatch, dims, recorded)
	}
	if recorded == 0 {
		if _, err := s.db.ExecContext(ctx,
			"INSERT OR REPLACE INTO meta (key, value) VALUES (?, ?)",
			metaEmbeddingDimensions, strconv.Itoa(dims),
		); err != nil {
			return fmt.Errorf("recording embedding dimensions: %w", err)
		}
	}
	return nil
}

// EmbeddingDimensions returns the recorded embedding width, or 0 when no
// embedding has been stored yet.
func (s *SQLiteStore) EmbeddingDimensions(ctx context.Context) (int, error) {
	return readDimensions(ctx, s.db)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func readDimensions(ctx context.Context, q queryRower) (int, error) {
	var value string
	err := q.QueryRowContext(ctx,
		"SELECT value FROM meta WHERE key = ?", metaEmbeddingDimensions,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading embedding dimensions: %w", err)
	}
	dims, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("parsing embedding dimensions %q: %w", value, err)
	}
	return dims, nil
}
