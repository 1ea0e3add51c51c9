// Package metrics exposes drift and health metrics via Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles the engine's Prometheus collectors
type Metrics struct {
	DriftMs         *prometheus.GaugeVec
	DriftAbs        prometheus.Histogram
	RateNudges      *prometheus.CounterVec
	Seeks           *prometheus.CounterVec
	HardResyncs     *prometheus.CounterVec
	ItemSwitches    *prometheus.CounterVec
	FailedItems     *prometheus.CounterVec
	RecoveryActions *prometheus.CounterVec
	SyncFailures    prometheus.Counter
	CatalogReloads  prometheus.Counter
	EpochResets     prometheus.Counter
}

// New registers the engine collectors on the given registerer
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		DriftMs: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "telecast_drift_ms",
			Help: "Signed drift between expected and actual playback position in milliseconds",
		}, []string{"channel"}),
		DriftAbs: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "telecast_drift_abs_ms",
			Help:    "Absolute drift magnitude observed per drift tick in milliseconds",
			Buckets: []float64{50, 100, 200, 500, 800, 1000, 2000, 5000, 10000},
		}),
		RateNudges: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "telecast_rate_nudges_total",
			Help: "Rate adjustments issued to correct drift",
		}, []string{"channel", "direction"}),
		Seeks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "telecast_seeks_total",
			Help: "Seeks issued to correct drift",
		}, []string{"channel"}),
		HardResyncs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "telecast_hard_resyncs_total",
			Help: "Full reloads at the expected position",
		}, []string{"channel"}),
		ItemSwitches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "telecast_item_switches_total",
			Help: "Transitions between playlist items",
		}, []string{"channel"}),
		FailedItems: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "telecast_failed_items_total",
			Help: "Playlist items marked unplayable",
		}, []string{"channel"}),
		RecoveryActions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "telecast_recovery_actions_total",
			Help: "Watchdog recovery actions by kind",
		}, []string{"channel", "action"}),
		SyncFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "telecast_sync_failures_total",
			Help: "Checksum sync ticks that failed after retries",
		}),
		CatalogReloads: factory.NewCounter(prometheus.CounterOpts{
			Name: "telecast_catalog_reloads_total",
			Help: "Catalog reloads triggered by checksum changes",
		}),
		EpochResets: factory.NewCounter(prometheus.CounterOpts{
			Name: "telecast_epoch_resets_total",
			Help: "Detected epoch version changes",
		}),
	}
}
