package ndr

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Backup metrics
	backupTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ndr_backup_total",
			Help: "Total number of device backups by outcome",
		},
		[]string{"status"}, // changed, unchanged, failed
	)

	backupDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ndr_backup_duration_seconds",
			Help:    "Time taken to capture and archive one device configuration",
			Buckets: []float64{0.5, 1, 5, 10, 30, 60},
		},
	)

	// Restore metrics
	restoreTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ndr_restore_total",
			Help: "Total number of restore attempts by outcome and failure kind",
		},
		[]string{"outcome", "kind"},
	)

	restoreDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ndr_restore_duration_seconds",
			Help:    "Time taken by one restore attempt",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
		},
	)

	pointerReconcileFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ndr_pointer_reconcile_failures_total",
			Help: "Pointer reconciliations that failed after a restore attempt",
		},
	)

	// Scan metrics
	suspectDevices = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ndr_suspect_devices",
			Help: "Number of devices flagged suspect by the last scan",
		},
	)
)
