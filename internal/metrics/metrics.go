// Package metrics instruments the pipeline with Prometheus counters and
// backs the verbose cache-hit-rate report.
package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the pipeline counters. The atomic mirrors serve the verbose
// summary without a registry scrape.
type Metrics struct {
	reg *prometheus.Registry

	filesEnumerated    prometheus.Counter
	filesFingerprinted prometheus.Counter
	cacheHits          prometheus.Counter
	cacheMisses        prometheus.Counter
	bytesHashed        prometheus.Counter
	groupsEmitted      prometheus.Counter

	enumerated    atomic.Int64
	fingerprinted atomic.Int64
	hits          atomic.Int64
	misses        atomic.Int64
	groups        atomic.Int64
}

// New creates and registers the counters on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		reg: reg,
		filesEnumerated: factory.NewCounter(prometheus.CounterOpts{
			Name: "dupfind_files_enumerated_total",
			Help: "Candidate files produced by the enumerator",
		}),
		filesFingerprinted: factory.NewCounter(prometheus.CounterOpts{
			Name: "dupfind_files_fingerprinted_total",
			Help: "Files whose content fingerprint was computed or reused",
		}),
		cacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "dupfind_cache_hits_total",
			Help: "Fingerprints reused from the path cache",
		}),
		cacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "dupfind_cache_misses_total",
			Help: "Fingerprints recomputed because the cache missed or was stale",
		}),
		bytesHashed: factory.NewCounter(prometheus.CounterOpts{
			Name: "dupfind_bytes_hashed_total",
			Help: "Content bytes run through the fingerprint function",
		}),
		groupsEmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "dupfind_duplicate_groups_total",
			Help: "Duplicate groups emitted by the reporter",
		}),
	}
}

func (m *Metrics) IncEnumerated() {
	m.filesEnumerated.Inc()
	m.enumerated.Add(1)
}

func (m *Metrics) AddEnumerated(n int64) {
	m.filesEnumerated.Add(float64(n))
	m.enumerated.Add(n)
}

func (m *Metrics) IncFingerprinted() {
	m.filesFingerprinted.Inc()
	m.fingerprinted.Add(1)
}

func (m *Metrics) IncCacheHit() {
	m.cacheHits.Inc()
	m.hits.Add(1)
}

func (m *Metrics) IncCacheMiss() {
	m.cacheMisses.Inc()
	m.misses.Add(1)
}

func (m *Metrics) AddBytesHashed(n int64) {
	m.bytesHashed.Add(float64(n))
}

func (m *Metrics) IncGroup() {
	m.groupsEmitted.Inc()
	m.groups.Add(1)
}

func (m *Metrics) AddGroups(n int64) {
	m.groupsEmitted.Add(float64(n))
	m.groups.Add(n)
}

func (m *Metrics) Enumerated() int64    { return m.enumerated.Load() }
func (m *Metrics) Fingerprinted() int64 { return m.fingerprinted.Load() }
func (m *Metrics) Groups() int64        { return m.groups.Load() }

// CacheHitRate returns hits/(hits+misses). ok is false before any cache
// consultation happened.
func (m *Metrics) CacheHitRate() (float64, bool) {
	hits, misses := m.hits.Load(), m.misses.Load()
	if hits+misses == 0 {
		return 0, false
	}
	return float64(hits) / float64(hits+misses), true
}

func (m *Metrics) Hits() int64   { return m.hits.Load() }
func (m *Metrics) Misses() int64 { return m.misses.Load() }

// Serve exposes the registry at addr until the process exits. Intended for
// long runs; errors are returned to the caller for logging only.
func (m *Metrics) Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return srv.ListenAndServe()
}
