package engine

import (
	"errors"
	"net/http"
	"time"

	"github.com/OFFIS-RIT/peerscope/backend/pkg/common"
	"github.com/OFFIS-RIT/peerscope/backend/pkg/snapshot"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the engine's Prometheus collectors in a dedicated
// registry. A nil *Metrics records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	queriesTotal   *prometheus.CounterVec
	queryDuration  *prometheus.HistogramVec
	cacheHits      *prometheus.CounterVec
	runsTotal      *prometheus.CounterVec
	runDuration    *prometheus.HistogramVec
	snapshotSeq    *prometheus.GaugeVec
	snapshotCounts *prometheus.GaugeVec
}

// NewMetrics registers the engine collectors, labelled with service, and
// the Go, process and build info collectors when defaultCollectors is set.
func NewMetrics(service string, defaultCollectors bool) *Metrics {
	registry := prometheus.NewRegistry()
	wrapped := prometheus.WrapRegistererWith(prometheus.Labels{"service": service}, registry)

	m := &Metrics{Registry: registry}
	m.queriesTotal = createCounterVec("peerscope_queries_total", "Total number of engine queries", []string{"operation", "status"})
	m.queryDuration = createHistogramVec("peerscope_query_duration_seconds", "Duration of engine queries in seconds", []string{"operation"}, prometheus.DefBuckets)
	m.cacheHits = createCounterVec("peerscope_cache_hits_total", "Queries answered from the result cache", []string{"operation"})
	m.runsTotal = createCounterVec("peerscope_batch_runs_total", "Total number of batch runs", []string{"kind", "status"})
	m.runDuration = createHistogramVec("peerscope_batch_run_duration_seconds", "Duration of batch runs in seconds", []string{"kind"}, prometheus.ExponentialBuckets(0.1, 2, 14))
	m.snapshotSeq = createGaugeVec("peerscope_snapshot_sequence", "Sequence number of the published snapshot", nil)
	m.snapshotCounts = createGaugeVec("peerscope_snapshot_entities", "Entities in the published snapshot", []string{"attribute"})

	wrapped.MustRegister(
		m.queriesTotal,
		m.queryDuration,
		m.cacheHits,
		m.runsTotal,
		m.runDuration,
		m.snapshotSeq,
		m.snapshotCounts,
	)
	if defaultCollectors {
		wrapped.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			collectors.NewBuildInfoCollector(),
		)
	}
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

func (m *Metrics) observeQuery(operation string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.queriesTotal.WithLabelValues(operation, Status(err)).Inc()
	m.queryDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

func (m *Metrics) cacheHit(operation string) {
	if m == nil {
		return
	}
	m.cacheHits.WithLabelValues(operation).Inc()
}

func (m *Metrics) observeRun(kind string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues(kind, Status(err)).Inc()
	m.runDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
}

func (m *Metrics) observeSnapshot(s *snapshot.Snapshot) {
	if m == nil {
		return
	}
	m.snapshotSeq.WithLabelValues().Set(float64(s.Seq))
	m.snapshotCounts.WithLabelValues("indexed").Set(float64(s.Size()))
	m.snapshotCounts.WithLabelValues("community").Set(float64(len(s.Communities)))
	m.snapshotCounts.WithLabelValues("bucket").Set(float64(len(s.Buckets)))
}

// Status names the error kind of err for metric labels.
func Status(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, common.ErrEntityNotFound):
		return "not_found"
	case errors.Is(err, common.ErrMissingEmbedding):
		return "missing_embedding"
	case errors.Is(err, common.ErrInsufficientPeers):
		return "insufficient_peers"
	case errors.Is(err, common.ErrNoTagSet):
		return "no_tag_set"
	case errors.Is(err, common.ErrInvalidConfiguration):
		return "invalid_configuration"
	case errors.Is(err, common.ErrBatchInProgress):
		return "busy"
	case errors.Is(err, common.ErrStoreUnavailable):
		return "store_unavailable"
	default:
		return "error"
	}
}

func createCounterVec(name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: name,
			Help: help,
		},
		labels,
	)
}

func createHistogramVec(name, help string, labels []string, buckets []float64) *prometheus.HistogramVec {
	return prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    name,
			Help:    help,
			Buckets: buckets,
		},
		labels,
	)
}

func createGaugeVec(name, help string, labels []string) *prometheus.GaugeVec {
	return prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: name,
			Help: help,
		},
		labels,
	)
}
