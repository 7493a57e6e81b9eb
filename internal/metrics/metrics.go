// Package metrics exposes the service's Prometheus instrumentation on
// /metrics, alongside the websocket endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveSessions tracks currently connected websocket sessions.
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "docserver_active_sessions",
		Help: "Number of currently connected websocket sessions.",
	})

	// EditsApplied counts successfully applied edit operations, by kind.
	EditsApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docserver_edits_applied_total",
		Help: "Edit operations applied to documents.",
	}, []string{"kind"})

	// EditsRejected counts edits rejected before mutation (locked doc,
	// validation failure, stale references).
	EditsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docserver_edits_rejected_total",
		Help: "Edit operations rejected before mutation.",
	}, []string{"reason"})

	// BroadcastsSent counts room fan-out deliveries by event.
	BroadcastsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docserver_broadcasts_total",
		Help: "Room broadcast events fanned out.",
	}, []string{"event"})

	// WriteThroughs counts durable write-through operations.
	WriteThroughs = promauto.NewCounter(prometheus.CounterOpts{
		Name: "docserver_write_throughs_total",
		Help: "Durable store write-through operations.",
	})

	// Snapshots counts snapshot operations.
	Snapshots = promauto.NewCounter(prometheus.CounterOpts{
		Name: "docserver_snapshots_total",
		Help: "Document snapshots cut.",
	})
)
