package store

import (
	"context"
	"fmt"
)

// UserLabel is an explicit label for one user.
type UserLabel struct {
	UserID string
	Label  Label
}

// ClusterLabeling describes the label writes for one cluster: the majority
// label for every member, then per-user overrides.
type ClusterLabeling struct {
	ClusterID int64
	Majority  Label
	Overrides []UserLabel
}

// LabelWriteResult reports the rows touched by ApplyClusterLabels.
type LabelWriteResult struct {
	ClusterRows  int64
	OverrideRows int64
}

// ApplyClusterLabels writes the majority label to every member of the
// cluster, then each override to that user's membership in the same
// cluster, and commits. Either the whole cluster is written or nothing is.
func (s *SQLiteStore) ApplyClusterLabels(ctx context.Context, l ClusterLabeling) (*LabelWriteResult, error) {
	if !l.Majority.Valid() {
		return nil, fmt.Errorf("cluster %d: invalid majority %s", l.ClusterID, l.Majority)
	}
	for _, o := range l.Overrides {
		if !o.Label.Valid() {
			return nil, fmt.Errorf("cluster %d user %q: invalid label %s", l.ClusterID, o.UserID, o.Label)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin label transaction: %w", err)
	}
	defer tx.Rollback()

	res := &LabelWriteResult{}
	r, err := tx.ExecContext(ctx,
		"UPDATE users SET label = ? WHERE cluster_id = ?", l.Majority, l.ClusterID,
	)
	if err != nil {
		return nil, fmt.Errorf("labeling cluster %d: %w", l.ClusterID, err)
	}
	if res.ClusterRows, err = r.RowsAffected(); err != nil {
		return nil, fmt.Errorf("labeling cluster %d: %w", l.ClusterID, err)
	}

	if len(l.Overrides) > 0 {
		stmt, err := tx.PrepareContext(ctx,
			"UPDATE users SET label = ? WHERE user_id = ? AND cluster_id = ?",
		)
		if err != nil {
			return nil, fmt.Errorf("preparing override: %w", err)
		}
		defer stmt.Close()

		for _, o := range l.Overrides {
			r, err := stmt.ExecContext(ctx, o.Label, o.UserID, l.ClusterID)
			if err != nil {
				return nil, fmt.Errorf("labeling user %q in cluster %d: %w", o.UserID, l.ClusterID, err)
			}
			n, err := r.RowsAffected()
			if err != nil {
				return nil, fmt.Errorf("labeling user %q in cluster %d: %w", o.UserID, l.ClusterID, err)
			}
			res.OverrideRows += n
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit labels for cluster %d: %w", l.ClusterID, err)
	}
	return res, nil
}
