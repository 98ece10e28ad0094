// Package metrics records query, retrieval and ingestion metrics with
// prometheus. A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Query outcomes.
const (
	OutcomeAnswered     = "answered"
	OutcomeCached       = "cached"
	OutcomeInsufficient = "insufficient"
	OutcomeFailed       = "failed"
	OutcomeInvalid      = "invalid"
)

type MetricsConfig struct {
	Namespace string
	Registry  prometheus.Registerer
}

type Metrics struct {
	queries          *prometheus.CounterVec
	queryLatency     *prometheus.HistogramVec
	providerRetries  prometheus.Counter
	retrievedChunks  prometheus.Histogram
	droppedFragments prometheus.Counter
	cacheErrors      *prometheus.CounterVec
	ingestedChunks   prometheus.Counter
	documents        *prometheus.CounterVec
}

func New(config MetricsConfig) *Metrics {
	if config.Namespace == "" {
		config.Namespace = "veritas"
	}
	if config.Registry == nil {
		config.Registry = prometheus.DefaultRegisterer
	}
	f := promauto.With(config.Registry)
	ns := config.Namespace

	return &Metrics{
		queries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "chat_queries_total",
			Help:      "Chat queries by outcome",
		}, []string{"outcome"}),
		queryLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "chat_query_duration_seconds",
			Help:      "Time spent answering chat queries",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"outcome"}),
		providerRetries: f.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "provider_retries_total",
			Help:      "Embedding and completion calls retried after a provider error",
		}),
		retrievedChunks: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "retrieved_chunks",
			Help:      "Chunks above the relevance threshold per query",
			Buckets:   prometheus.LinearBuckets(0, 1, 9),
		}),
		droppedFragments: f.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "prompt_dropped_fragments_total",
			Help:      "Retrieved fragments dropped by the prompt length budget",
		}),
		cacheErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "cache_errors_total",
			Help:      "Cache operations that failed",
		}, []string{"op"}),
		ingestedChunks: f.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "ingested_chunks_total",
			Help:      "Chunks added to the vector index",
		}),
		documents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "documents_total",
			Help:      "Documents indexed and removed",
		}, []string{"op"}),
	}
}

func (m *Metrics) ObserveQuery(outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.queries.WithLabelValues(outcome).Inc()
	m.queryLatency.WithLabelValues(outcome).Observe(took.Seconds())
}

func (m *Metrics) ProviderRetry() {
	if m == nil {
		return
	}
	m.providerRetries.Inc()
}

func (m *Metrics) ObserveRetrieval(kept, dropped int) {
	if m == nil {
		return
	}
	m.retrievedChunks.Observe(float64(kept))
	m.droppedFragments.Add(float64(dropped))
}

func (m *Metrics) CacheError(op string) {
	if m == nil {
		return
	}
	m.cacheErrors.WithLabelValues(op).Inc()
}

func (m *Metrics) DocumentIndexed(chunks int) {
	if m == nil {
		return
	}
	m.documents.WithLabelValues("indexed").Inc()
	m.ingestedChunks.Add(float64(chunks))
}

func (m *Metrics) DocumentRemoved() {
	if m == nil {
		return
	}
	m.documents.WithLabelValues("removed").Inc()
}
