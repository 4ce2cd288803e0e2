package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
)

// Label is the annotation state of a user within a cluster.
type Label int

const (
	LabelUnassigned Label = 0
	LabelNotBot     Label = 1
	LabelBot        Label = 2
)

// Valid reports whether l is one of the three stored values.
func (l Label) Valid() bool {
	return l == LabelUnassigned || l == LabelNotBot || l == LabelBot
}

func (l Label) String() string {
	switch l {
	case LabelUnassigned:
		return "unassigned"
	case LabelNotBot:
		return "not_bot"
	case LabelBot:
		return "bot"
	default:
		return "label(" + strconv.Itoa(int(l)) + ")"
	}
}

// UserRecord is one (user, cluster) membership.
type UserRecord struct {
	UserID    string    `json:"user_id"`
	ClusterID int64     `json:"cluster_id"`
	Label     Label     `json:"label"`
	Embedding []float32 `json:"embedding,omitempty"`
}

// ClusterEntry is a cluster ready for insertion. UserIDs and Embeddings are
// parallel by index.
type ClusterEntry struct {
	ClusterID  int64
	UserIDs    []string
	Embeddings [][]float32
}

// InsertResult summarizes a bulk insert.
type InsertResult struct {
	Users      int
	Dimensions int
}

// InsertClusters inserts every member of every cluster in one transaction.
// Any failure (length mismatch, dimension mismatch, duplicate key) rolls
// back the whole call. New rows start out unassigned.
func (s *SQLiteStore) InsertClusters(ctx context.Context, clusters []ClusterEntry) (*InsertResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin insert transaction: %w", err)
	}
	defer tx.Rollback()

	recorded, err := readDimensions(ctx, tx)
	if err != nil {
		return nil, err
	}
	dims := recorded

	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO users (user_id, cluster_id, embedding) VALUES (?, ?, ?)",
	)
	if err != nil {
		return nil, fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	res := &InsertResult{}
	for _, c := range clusters {
		if len(c.UserIDs) != len(c.Embeddings) {
			return nil, fmt.Errorf("cluster %d: %d user ids but %d embeddings",
				c.ClusterID, len(c.UserIDs), len(c.Embeddings))
		}
		for i, userID := range c.UserIDs {
			vec := c.Embeddings[i]
			if len(vec) == 0 {
				return nil, fmt.Errorf("cluster %d user %q: %w: empty embedding", c.ClusterID, userID, ErrDimensionMismatch)
			}
			if dims == 0 {
				dims = len(vec)
			}
			if len(vec) != dims {
				return nil, fmt.Errorf("cluster %d user %q: %w: got %d, want %d",
					c.ClusterID, userID, ErrDimensionMismatch, len(vec), dims)
			}
			if _, err := stmt.ExecContext(ctx, userID, c.ClusterID, EncodeEmbedding(vec)); err != nil {
				return nil, fmt.Errorf("inserting user %q into cluster %d: %w", userID, c.ClusterID, err)
			}
			res.Users++
		}
	}

	if recorded == 0 && dims > 0 {
		if _, err := tx.ExecContext(ctx,
			"INSERT OR REPLACE INTO meta (key, value) VALUES (?, ?)",
			metaEmbeddingDimensions, strconv.Itoa(dims),
		); err != nil {
			return nil, fmt.Errorf("recording embedding dimensions: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit insert transaction: %w", err)
	}
	res.Dimensions = dims
	return res, nil
}

// ClusterUserIDs returns the user ids of a cluster in insertion order,
// index-aligned with ClusterEmbeddings.
func (s *SQLiteStore) ClusterUserIDs(ctx context.Context, clusterID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT user_id FROM users WHERE cluster_id = ? ORDER BY rowid", clusterID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying user ids for cluster %d: %w", clusterID, err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning user id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ClusterMembers returns full records for a cluster in insertion order,
// fetched by a single query.
func (s *SQLiteStore) ClusterMembers(ctx context.Context, clusterID int64) ([]*UserRecord, error) {
	dims, err := s.EmbeddingDimensions(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, cluster_id, label, embedding
		 FROM users WHERE cluster_id = ? ORDER BY rowid`, clusterID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying members of cluster %d: %w", clusterID, err)
	}
	defer rows.Close()
	return scanRecords(rows, dims)
}

// UnlabeledClusters returns, ascending, the clusters that still have at
// least one unassigned member.
func (s *SQLiteStore) UnlabeledClusters(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT DISTINCT cluster_id FROM users WHERE label = ? ORDER BY cluster_id",
		LabelUnassigned,
	)
	if err != nil {
		return nil, fmt.Errorf("querying unlabeled clusters: %w", err)
	}
	defer rows.Close()

	ids := make([]int64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning cluster id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetUser looks up a user by id. A user present in several clusters
// resolves to the membership with the lowest cluster id; UserMemberships
// returns all of them.
func (s *SQLiteStore) GetUser(ctx context.Context, userID string) (*UserRecord, error) {
	dims, err := s.EmbeddingDimensions(ctx)
	if err != nil {
		return nil, err
	}

	var (
		r    UserRecord
		blob []byte
	)
	err = s.db.QueryRowContext(ctx,
		`SELECT user_id, cluster_id, label, embedding
		 FROM users WHERE user_id = ? ORDER BY cluster_id LIMIT 1`, userID,
	).Scan(&r.UserID, &r.ClusterID, &r.Label, &blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %q: %w", userID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting user %q: %w", userID, err)
	}
	if r.Embedding, err = DecodeEmbedding(blob, dims); err != nil {
		return nil, fmt.Errorf("decoding embedding for user %q: %w", userID, err)
	}
	return &r, nil
}

// UserMemberships returns every cluster membership of a user, ordered by
// cluster id. An unknown user yields an empty slice.
func (s *SQLiteStore) UserMemberships(ctx context.Context, userID string) ([]*UserRecord, error) {
	dims, err := s.EmbeddingDimensions(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, cluster_id, label, embedding
		 FROM users WHERE user_id = ? ORDER BY cluster_id`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying memberships of user %q: %w", userID, err)
	}
	defer rows.Close()
	return scanRecords(rows, dims)
}

func scanRecords(rows *sql.Rows, dims int) ([]*UserRecord, error) {
	out := make([]*UserRecord, 0)
	for rows.Next() {
		r := &UserRecord{}
		var blob []byte
		if err := rows.Scan(&r.UserID, &r.ClusterID, &r.Label, &blob); err != nil {
			return nil, fmt.Errorf("scanning user row: %w", err)
		}
		vec, err := DecodeEmbedding(blob, dims)
		if err != nil {
			return nil, fmt.Errorf("decoding embedding for user %q: %w", r.UserID, err)
		}
		r.Embedding = vec
		out = append(out, r)
	}
	return out, rows.Err()
}
