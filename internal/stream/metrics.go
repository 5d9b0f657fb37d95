// ABOUTME: Prometheus metrics for the live feed
// ABOUTME: Tracks connected observers, forwarded envelopes and drops

package stream

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	observersConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "scribe",
		Subsystem: "stream",
		Name:      "observers_connected",
		Help:      "Currently registered live-feed observers.",
	})

	envelopesForwarded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "scribe",
		Subsystem: "stream",
		Name:      "envelopes_forwarded_total",
		Help:      "Envelopes broadcast from the change feed.",
	})

	droppedEnvelopes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "scribe",
		Subsystem: "stream",
		Name:      "envelopes_dropped_total",
		Help:      "Envelopes dropped for observers that fell behind.",
	})
)
