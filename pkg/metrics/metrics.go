package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ConnectionsCreated counts partner connection factory calls by mechanism and result
	// (success|error|unknown_mechanism).
	ConnectionsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailbridge_partner_connections_created_total",
			Help: "Partner connection factory calls by auth mechanism and result",
		},
		[]string{"auth_mechanism", "result"},
	)

	// UnknownMechanismLookups counts lookups that named no registered provider.
	UnknownMechanismLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailbridge_unknown_auth_mechanism_total",
			Help: "Lookups for auth mechanisms without a provider",
		},
		[]string{"operation"},
	)

	// PartnerConnections tracks connection rows per mechanism as of the last reconciliation.
	PartnerConnections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mailbridge_partner_connections",
			Help: "Partner connections per auth mechanism",
		},
		[]string{"auth_mechanism"},
	)

	// CounterDrift counts denormalised counters corrected by reconciliation.
	CounterDrift = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailbridge_counter_cache_repairs_total",
			Help: "Counter cache rows repaired during reconciliation",
		},
		[]string{"table"},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mailbridge_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
