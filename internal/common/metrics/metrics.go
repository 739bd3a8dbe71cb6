package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WebhookRequestsTotal counts webhook requests by event kind and HTTP status.
	WebhookRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "recoveryops",
		Subsystem: "webhook",
		Name:      "requests_total",
		Help:      "Total processor webhook requests by event kind and HTTP status.",
	}, []string{"kind", "status"})

	// WebhookDuration tracks webhook handling latency.
	WebhookDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "recoveryops",
		Subsystem: "webhook",
		Name:      "duration_seconds",
		Help:      "Processor webhook handling duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"kind"})

	// EventsProcessedTotal counts reconciled events by kind and outcome.
	EventsProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "recoveryops",
		Subsystem: "reconcile",
		Name:      "events_total",
		Help:      "Processor events by kind and outcome.",
	}, []string{"kind", "outcome"})

	// ReconciliationAlarmsTotal counts data-integrity alarms by reason.
	ReconciliationAlarmsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "recoveryops",
		Subsystem: "reconcile",
		Name:      "alarms_total",
		Help:      "Data-integrity alarms raised while reconciling events.",
	}, []string{"reason"})

	// NotificationsTotal counts post-commit notifications by kind and result.
	NotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "recoveryops",
		Subsystem: "notify",
		Name:      "notifications_total",
		Help:      "Notifications by kind and result (sent, failed, skipped).",
	}, []string{"kind", "result"})

	// ProcessorRequestsTotal counts calls to the processor API by operation and result.
	ProcessorRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "recoveryops",
		Subsystem: "processor",
		Name:      "requests_total",
		Help:      "Processor API calls by operation and result.",
	}, []string{"operation", "result"})
)
