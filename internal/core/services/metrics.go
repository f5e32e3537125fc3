package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type pollerMetrics struct {
	cyclesTotal         *prometheus.CounterVec
	cycleDuration       prometheus.Histogram
	entityPollsTotal    *prometheus.CounterVec
	entityPollDuration  prometheus.Histogram
	eventsEmittedTotal  *prometheus.CounterVec
	recordFailuresTotal *prometheus.CounterVec
	tasksEnqueuedTotal  prometheus.Counter
}

var metrics *pollerMetrics

func init() {
	metrics = new(pollerMetrics)

	metrics.cyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sercha_poller_cycles_total",
		Help: "The number of reconciliation cycles run, by outcome",
	}, []string{"outcome"})

	metrics.cycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sercha_poller_cycle_duration_seconds",
		Help:    "The amount of time a full reconciliation cycle of one subscription took",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 14),
	})

	metrics.entityPollsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sercha_poller_entity_polls_total",
		Help: "The number of entity type polls, by detection mode and outcome",
	}, []string{"mode", "outcome"})

	metrics.entityPollDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sercha_poller_entity_poll_duration_seconds",
		Help:    "The amount of time polling one entity type took (detect, apply, persist)",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
	})

	metrics.eventsEmittedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sercha_poller_events_emitted_total",
		Help: "The number of change events accepted by the sink, by kind",
	}, []string{"kind"})

	metrics.recordFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sercha_poller_record_failures_total",
		Help: "The number of records that could not be processed, by kind",
	}, []string{"kind"})

	metrics.tasksEnqueuedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sercha_poller_scheduler_tasks_enqueued_total",
		Help: "The number of poll tasks enqueued by the scheduler",
	})
}
