// Package metrics holds the Prometheus collectors for botlabel.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "botlabel"

// Result label values.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

var (
	// LoadsTotal counts cluster loads by result.
	LoadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "loads_total",
		Help:      "Cluster source loads by result (success, failure).",
	}, []string{"result"})

	// LoadedUsersTotal counts rows inserted by successful loads.
	LoadedUsersTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "loaded_users_total",
		Help:      "User memberships inserted by successful loads.",
	})

	// LabeledClustersTotal counts per-cluster label commits by result.
	LabeledClustersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "labeled_clusters_total",
		Help:      "Clusters processed by label propagation, by result.",
	}, []string{"result"})

	// AnnotationsTotal counts annotation rows by submitted label.
	AnnotationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "annotations_total",
		Help:      "Annotation rows applied, by label (bot, not_bot).",
	}, []string{"label"})

	// HTTPRequestsTotal counts API requests.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests by method, route and status code.",
	}, []string{"method", "route", "status"})

	// HTTPRequestDuration observes API latency.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by method and route.",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms to ~4s
	}, []string{"method", "route"})
)
