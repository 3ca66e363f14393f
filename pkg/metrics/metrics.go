// Copyright 2024-2026 Aiku AI

// Package metrics holds the Prometheus instruments shared by the relay. All
// collectors are registered with the global registry, so mounting promhttp
// is enough to expose them.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	IngestRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hookrelay_ingest_requests_total",
			Help: "Webhook requests by outcome (accepted, unauthorized, bad_request, rate_limited, unavailable).",
		}, []string{"result"})

	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hookrelay_queue_depth",
			Help: "Packages waiting in the relay channel.",
		})

	Deliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hookrelay_deliveries_total",
			Help: "Packages processed by the delivery worker by outcome (delivered, dropped, failed).",
		}, []string{"result"})

	ThreadsCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hookrelay_threads_created_total",
			Help: "Relay threads created by the delivery worker.",
		})

	ThreadCacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hookrelay_thread_cache_hits_total",
			Help: "Thread resolutions served from the in-memory cache after re-validation.",
		})

	Commands = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hookrelay_commands_total",
			Help: "Chat commands handled by name and outcome.",
		}, []string{"command", "result"})
)

func init() {
	prometheus.MustRegister(
		IngestRequests,
		QueueDepth,
		Deliveries,
		ThreadsCreated,
		ThreadCacheHits,
		Commands,
	)
}
