// Package metrics exposes Prometheus collectors for the relay.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Connection metrics
	ConnectionsAccepted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatrelay_connections_accepted_total",
			Help: "Connections that were given a registry slot",
		},
		[]string{"transport"}, // "tcp" or "websocket"
	)

	ConnectionsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatrelay_connections_rejected_total",
			Help: "Connections closed because the registry was full",
		},
		[]string{"transport"},
	)

	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatrelay_active_sessions",
			Help: "Occupied registry slots",
		},
	)

	// Traffic metrics
	FramesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatrelay_frames_received_total",
			Help: "Inbound frames by message type",
		},
		[]string{"type"},
	)

	Deliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatrelay_deliveries_total",
			Help: "Fan-out and private sends by result",
		},
		[]string{"kind", "result"}, // kind: "broadcast" or "private"; result: "ok" or "failed"
	)

	AuthFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatrelay_auth_failures_total",
			Help: "Rejected REGISTER and LOGIN requests",
		},
		[]string{"op"},
	)

	RateLimitHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatrelay_rate_limit_hits_total",
			Help: "Frames dropped by the per-connection rate limiter",
		},
	)

	StoreLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatrelay_store_latency_seconds",
			Help:    "Credential store and chat log call latency",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .5},
		},
		[]string{"op"},
	)
)
