// ABOUTME: Prometheus counters for ingestion outcomes
// ABOUTME: Makes best-effort touch failures observable instead of silently stale

package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	messagesAppended = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "scribe",
		Subsystem: "ingest",
		Name:      "messages_appended_total",
		Help:      "Messages successfully persisted.",
	})

	// A rising touchFailures with a healthy append rate means
	// conversation updated_at is going stale.
	touchFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "scribe",
		Subsystem: "ingest",
		Name:      "touch_failures_total",
		Help:      "Best-effort conversation timestamp bumps that failed.",
	})
)
