package store

import (
	"context"
	"fmt"
)

// Stats holds observability numbers about the store.
type Stats struct {
	Users               int64 `json:"users"`
	Clusters            int64 `json:"clusters"`
	UnlabeledClusters   int64 `json:"unlabeled_clusters"`
	Unassigned          int64 `json:"unassigned"`
	NotBot              int64 `json:"not_bot"`
	Bot                 int64 `json:"bot"`
	EmbeddingDimensions int   `json:"embedding_dimensions"`
	DBSizeBytes         int64 `json:"db_size_bytes"`
}

// Stats returns row and label counts for the whole database.
func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	queries := []struct {
		query string
		dest  *int64
	}{
		{"SELECT COUNT(*) FROM users", &stats.Users},
		{"SELECT COUNT(DISTINCT cluster_id) FROM users", &stats.Clusters},
		{"SELECT COUNT(DISTINCT cluster_id) FROM users WHERE label = 0", &stats.UnlabeledClusters},
		{"SELECT COUNT(*) FROM users WHERE label = 0", &stats.Unassigned},
		{"SELECT COUNT(*) FROM users WHERE label = 1", &stats.NotBot},
		{"SELECT COUNT(*) FROM users WHERE label = 2", &stats.Bot},
	}

	for _, q := range queries {
		if err := s.db.QueryRowContext(ctx, q.query).Scan(q.dest); err != nil {
			return nil, fmt.Errorf("querying stats (%s): %w", q.query, err)
		}
	}

	dims, err := s.EmbeddingDimensions(ctx)
	if err != nil {
		return nil, err
	}
	stats.EmbeddingDimensions = dims

	// Only meaningful for file-based DBs
	if s.dbPath != MemoryDBPath {
		var pageCount, pageSize int64
		s.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount)
		s.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize)
		stats.DBSizeBytes = pageCount * pageSize
	}

	return stats, nil
}
