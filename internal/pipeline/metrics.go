package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "policyqa_requests_total",
		Help: "Total document question batches processed.",
	})

	questionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "policyqa_questions_total",
		Help: "Total questions processed, by outcome.",
	}, []string{"outcome"})

	cacheLookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "policyqa_cache_lookups_total",
		Help: "Answer cache lookups, by result.",
	}, []string{"result"})

	ingestionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "policyqa_ingestions_total",
		Help: "Document ingestion passes, by result.",
	}, []string{"result"})

	requestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "policyqa_request_duration_seconds",
		Help:    "End-to-end latency of a question batch.",
		Buckets: prometheus.DefBuckets,
	})
)
