// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package metrics implements component #9's "metrics hooks" remainder:
// prometheus counters/histograms for the observable events §8's testable
// properties otherwise have no way to assert on (drop counts, retry
// attempts, circuit trips, control-message propagation latency). Grounded
// on ManuGH-xg2g/internal/metrics/circuit_breaker.go's
// promauto.NewCounterVec/NewGaugeVec-per-package style.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	edgeDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mediacore_edge_drops_total",
		Help: "Items dropped by a lossy edge on overflow (drop-oldest), by node_id and port.",
	}, []string{"node_id", "port"})

	nodeRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mediacore_node_retries_total",
		Help: "Retry attempts issued for a node's Transient/Timeout failures.",
	}, []string{"node_id", "kind"})

	circuitBreakerTrips = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mediacore_circuit_breaker_trips_total",
		Help: "Circuit breaker trips (5 consecutive failures) by node_id.",
	}, []string{"node_id"})

	ipcRingDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mediacore_ipc_ring_queue_depth",
		Help: "Observed IPC ring occupancy (published - consumed) by node_id and direction.",
	}, []string{"node_id", "direction"})

	controlPropagationLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "mediacore_control_propagation_latency_seconds",
		Help:    "Latency from control-message emission to a downstream node observing it (§4.7 P95 < 10ms target).",
		Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
	})

	sessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mediacore_sessions_active",
		Help: "Streaming sessions currently open.",
	})
)

// RecordEdgeDrop increments the lossy-edge drop counter for nodeID/port.
func RecordEdgeDrop(nodeID, port string) {
	edgeDrops.WithLabelValues(nodeID, port).Inc()
}

// RecordNodeRetry increments the retry counter for nodeID under the given
// error kind ("transient" or "timeout").
func RecordNodeRetry(nodeID, kind string) {
	nodeRetries.WithLabelValues(nodeID, kind).Inc()
}

// RecordCircuitBreakerTrip increments the trip counter for nodeID.
func RecordCircuitBreakerTrip(nodeID string) {
	circuitBreakerTrips.WithLabelValues(nodeID).Inc()
}

// SetIPCRingDepth records the current occupancy of an IPC ring.
// ipcring.Channel passes its channel name as nodeID and the side that took
// the reading ("producer" or "consumer") as direction.
func SetIPCRingDepth(nodeID, direction string, depth float64) {
	ipcRingDepth.WithLabelValues(nodeID, direction).Set(depth)
}

// ObserveControlPropagation records the latency between a control
// message's emission and a downstream observation of it.
func ObserveControlPropagation(d time.Duration) {
	controlPropagationLatency.Observe(d.Seconds())
}

// SessionOpened/SessionClosed track the active-session gauge across a
// streaming session's lifetime.
func SessionOpened() { sessionsActive.Inc() }
func SessionClosed() { sessionsActive.Dec() }
