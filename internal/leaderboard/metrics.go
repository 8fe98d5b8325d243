package leaderboard

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes the engine's operational counters.
type Metrics struct {
	RunsTotal        *prometheus.CounterVec
	MessagesScanned  prometheus.Counter
	ScanDuration     prometheus.Histogram
	ScanTimeouts     prometheus.Counter
	RoleMutations    *prometheus.CounterVec
	RoleSyncErrors   prometheus.Counter
	NextFireUnix     prometheus.Gauge
	LastRunUnix      prometheus.Gauge
	RunsRejectedBusy prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RunsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rankbot", Subsystem: "leaderboard",
			Name: "runs_total", Help: "Completed leaderboard runs by result.",
		}, []string{"result", "trigger"}),
		MessagesScanned: f.NewCounter(prometheus.CounterOpts{
			Namespace: "rankbot", Subsystem: "leaderboard",
			Name: "messages_scanned_total", Help: "History messages inspected across all scans.",
		}),
		ScanDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "rankbot", Subsystem: "leaderboard",
			Name: "scan_duration_seconds", Help: "Wall time of one history scan.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		}),
		ScanTimeouts: f.NewCounter(prometheus.CounterOpts{
			Namespace: "rankbot", Subsystem: "leaderboard",
			Name: "scan_timeouts_total", Help: "Scans that stopped at the cap or on a page failure.",
		}),
		RoleMutations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rankbot", Subsystem: "leaderboard",
			Name: "role_mutations_total", Help: "Role grants and revokes applied.",
		}, []string{"op"}),
		RoleSyncErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: "rankbot", Subsystem: "leaderboard",
			Name: "role_sync_errors_total", Help: "Per-member role mutation failures.",
		}),
		NextFireUnix: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "rankbot", Subsystem: "leaderboard",
			Name: "next_fire_timestamp_seconds", Help: "Unix time of the next scheduled run.",
		}),
		LastRunUnix: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "rankbot", Subsystem: "leaderboard",
			Name: "last_run_timestamp_seconds", Help: "Unix time of the last completed run.",
		}),
		RunsRejectedBusy: f.NewCounter(prometheus.CounterOpts{
			Namespace: "rankbot", Subsystem: "leaderboard",
			Name: "runs_rejected_busy_total", Help: "Triggers rejected because a run was in flight.",
		}),
	}
}

func (m *Metrics) observeRun(result, trigger string) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(result, trigger).Inc()
}
