// Package obs provides the Prometheus metrics, health reporting, and
// circuit-breaker machinery shared by the storage adapters and the
// top-level coordinator.
package obs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every counter and histogram exported by a running database.
type Metrics struct {
	NounInserts prometheus.Counter
	NounDeletes prometheus.Counter
	VerbInserts prometheus.Counter
	VerbDeletes prometheus.Counter

	SearchQueries prometheus.Counter
	SearchErrors  prometheus.Counter
	SearchLatency prometheus.Histogram

	Commits        prometheus.Counter
	CommitLatency  prometheus.Histogram
	GCRuns         prometheus.Counter
	GCBlobsRemoved prometheus.Counter

	StorageRetries prometheus.Counter

	NounTypeCounts *prometheus.GaugeVec
	VerbTypeCounts *prometheus.GaugeVec
	ThrottleEvents *prometheus.CounterVec
}

// NewMetrics registers and returns the metrics instance. Call once per
// process; promauto panics on duplicate registration, matching the
// teacher's one-Metrics-per-Database convention.
func NewMetrics() *Metrics {
	return &Metrics{
		NounInserts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "hybridgraph_noun_inserts_total",
			Help: "Total noun insertions",
		}),
		NounDeletes: promauto.NewCounter(prometheus.CounterOpts{
			Name: "hybridgraph_noun_deletes_total",
			Help: "Total noun deletions",
		}),
		VerbInserts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "hybridgraph_verb_inserts_total",
			Help: "Total verb insertions",
		}),
		VerbDeletes: promauto.NewCounter(prometheus.CounterOpts{
			Name: "hybridgraph_verb_deletes_total",
			Help: "Total verb deletions",
		}),
		SearchQueries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "hybridgraph_search_queries_total",
			Help: "Total search queries",
		}),
		SearchErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "hybridgraph_search_errors_total",
			Help: "Total search errors",
		}),
		SearchLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name: "hybridgraph_search_latency_seconds",
			Help: "Search latency",
		}),
		Commits: promauto.NewCounter(prometheus.CounterOpts{
			Name: "hybridgraph_commits_total",
			Help: "Total commits to the COW version tree",
		}),
		CommitLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name: "hybridgraph_commit_latency_seconds",
			Help: "Commit latency",
		}),
		GCRuns: promauto.NewCounter(prometheus.CounterOpts{
			Name: "hybridgraph_gc_runs_total",
			Help: "Total blob garbage collection runs",
		}),
		GCBlobsRemoved: promauto.NewCounter(prometheus.CounterOpts{
			Name: "hybridgraph_gc_blobs_removed_total",
			Help: "Total blobs removed by garbage collection",
		}),
		StorageRetries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "hybridgraph_storage_retries_total",
			Help: "Total retried storage operations",
		}),
		NounTypeCounts: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hybridgraph_noun_type_count",
			Help: "Live noun count by type",
		}, []string{"type"}),
		VerbTypeCounts: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hybridgraph_verb_type_count",
			Help: "Live verb count by type",
		}, []string{"type"}),
		ThrottleEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "hybridgraph_throttle_events_total",
			Help: "Total throttled operations by reason",
		}, []string{"reason"}),
	}
}
