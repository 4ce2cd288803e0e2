package label

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hurttlocker/botlabel/internal/metrics"
	"github.com/hurttlocker/botlabel/internal/store"
)

// ClusterWriter is the storage the propagator writes to.
type ClusterWriter interface {
	ApplyClusterLabels(ctx context.Context, l store.ClusterLabeling) (*store.LabelWriteResult, error)
}

// ClusterOutcome reports what was written for one cluster.
type ClusterOutcome struct {
	ClusterID    int64       `json:"cluster_id"`
	Majority     store.Label `json:"majority"`
	Yes          int         `json:"yes"`
	No           int         `json:"no"`
	ClusterRows  int64       `json:"cluster_rows"`
	OverrideRows int64       `json:"override_rows"`
}

// Result lists the clusters committed by LabelUsers, in processing order.
type Result struct {
	Clusters []ClusterOutcome `json:"clusters"`
}

// Propagator applies annotation tables to storage.
type Propagator struct {
	st     ClusterWriter
	logger *zap.Logger
}

// NewPropagator creates a propagator. A nil logger discards output.
func NewPropagator(st ClusterWriter, logger *zap.Logger) *Propagator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Propagator{st: st, logger: logger}
}

// LabelUsers writes the majority label of each annotated cluster to all of
// its members and then restores every annotated user's own label.
//
// The whole table is validated first; an invalid row means no writes.
// Clusters commit one at a time in order of first appearance. On error the
// returned Result still lists the clusters committed before the failure.
func (p *Propagator) LabelUsers(ctx context.Context, anns []Annotation) (*Result, error) {
	if err := Validate(anns); err != nil {
		return nil, err
	}

	plans, err := planClusters(anns)
	if err != nil {
		return nil, err
	}

	res := &Result{Clusters: make([]ClusterOutcome, 0)}
	for _, plan := range plans {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		w, err := p.st.ApplyClusterLabels(ctx, plan.Labeling)
		if err != nil {
			metrics.LabeledClustersTotal.WithLabelValues(metrics.ResultFailure).Inc()
			p.logger.Error("label propagation stopped",
				zap.Int64("cluster_id", plan.Labeling.ClusterID),
				zap.Int("committed_clusters", len(res.Clusters)),
				zap.Error(err),
			)
			return res, fmt.Errorf("labeling cluster %d: %w", plan.Labeling.ClusterID, err)
		}

		metrics.LabeledClustersTotal.WithLabelValues(metrics.ResultSuccess).Inc()
		for _, o := range plan.Labeling.Overrides {
			metrics.AnnotationsTotal.WithLabelValues(o.Label.String()).Inc()
		}

		out := ClusterOutcome{
			ClusterID:    plan.Labeling.ClusterID,
			Majority:     plan.Labeling.Majority,
			Yes:          plan.Yes,
			No:           plan.No,
			ClusterRows:  w.ClusterRows,
			OverrideRows: w.OverrideRows,
		}
		res.Clusters = append(res.Clusters, out)

		p.logger.Info("cluster labeled",
			zap.Int64("cluster_id", out.ClusterID),
			zap.Stringer("majority", out.Majority),
			zap.Int("yes", out.Yes),
			zap.Int("no", out.No),
			zap.Int64("members", out.ClusterRows),
			zap.Int64("overrides", out.OverrideRows),
		)
	}
	return res, nil
}

// clusterPlan is the labeling computed for one cluster.
type clusterPlan struct {
	Labeling store.ClusterLabeling
	Yes      int
	No       int
}

// planClusters groups annotations by cluster, in order of first
// appearance, and computes each cluster's majority. Ties go to NotBot.
// A user annotated twice in the same cluster keeps the first label for
// the override; every row still counts toward the vote.
func planClusters(anns []Annotation) ([]clusterPlan, error) {
	var order []int64
	plans := make(map[int64]*clusterPlan)
	seen := make(map[int64]map[string]bool)

	for _, a := range anns {
		lbl, err := ParseAnswer(a.Label)
		if err != nil {
			return nil, fmt.Errorf("user %q cluster %d: %w", a.UserID, a.ClusterID, err)
		}

		plan, ok := plans[a.ClusterID]
		if !ok {
			plan = &clusterPlan{Labeling: store.ClusterLabeling{ClusterID: a.ClusterID}}
			plans[a.ClusterID] = plan
			seen[a.ClusterID] = make(map[string]bool)
			order = append(order, a.ClusterID)
		}

		if lbl == store.LabelBot {
			plan.Yes++
		} else {
			plan.No++
		}

		if !seen[a.ClusterID][a.UserID] {
			seen[a.ClusterID][a.UserID] = true
			plan.Labeling.Overrides = append(plan.Labeling.Overrides, store.UserLabel{
				UserID: a.UserID,
				Label:  lbl,
			})
		}
	}

	out := make([]clusterPlan, 0, len(order))
	for _, id := range order {
		plan := plans[id]
		plan.Labeling.Majority = store.LabelNotBot
		if plan.Yes > plan.No {
			plan.Labeling.Majority = store.LabelBot
		}
		out = append(out, *plan)
	}
	return out, nil
}
