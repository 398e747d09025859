package regionalsync

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "regional_sync",
			Name:      "cycles_total",
			Help:      "Total reconciliation cycles by final status and trigger",
		},
		[]string{"status", "trigger"},
	)

	CycleDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "regional_sync",
			Name:      "cycle_duration_seconds",
			Help:      "Duration of reconciliation cycles",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"status"},
	)

	FetchErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "regional_sync",
			Name:      "fetch_errors_total",
			Help:      "Failed reads of the external regional list by kind",
		},
		[]string{"kind"},
	)

	PersistenceErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "regional_sync",
			Name:      "persistence_errors_total",
			Help:      "Per-name store failures by operation",
		},
		[]string{"op"},
	)

	RegionalsCreatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "regional_sync",
			Name:      "regionals_created_total",
			Help:      "Regional rows created",
		},
	)

	RegionalsDeactivatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "regional_sync",
			Name:      "regionals_deactivated_total",
			Help:      "Regional names deactivated",
		},
	)

	DiscardedRecordsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "regional_sync",
			Name:      "discarded_records_total",
			Help:      "External records dropped for a missing or invalid name",
		},
	)

	SkippedTicksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "regional_sync",
			Name:      "skipped_ticks_total",
			Help:      "Scheduled ticks skipped because a cycle was still running",
		},
	)

	LastSuccessTimestamp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "regional_sync",
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last cycle that finished without errors",
		},
	)
)
