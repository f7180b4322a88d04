// Package metrics はポーリングと通知送信のPrometheusメトリクスです
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "asset_notifier"

// Poll cycle outcomes.
const (
	CycleOutcomeSuccess = "success"
	CycleOutcomeFailure = "failure"
	CycleOutcomeSkipped = "skipped"
)

// Metrics はポーラーとディスパッチが更新するコレクターをまとめたものです
// nilのままでも各メソッドは何もしません
type Metrics struct {
	pollCycles      *prometheus.CounterVec
	pollDuration    prometheus.Histogram
	snapshotAssets  prometheus.Gauge
	eventsDetected  *prometheus.CounterVec
	eventErrors     *prometheus.CounterVec
	dispatches      *prometheus.CounterVec
	activeCheckouts prometheus.Gauge
	lastPollSuccess prometheus.Gauge
}

// New はコレクターを作成してregistererに登録します
// registererがnilの場合は登録しません
func New(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		pollCycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_cycles_total",
			Help:      "Number of poll cycles by outcome.",
		}, []string{"outcome"}),
		pollDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "poll_duration_seconds",
			Help:      "Duration of completed poll cycles.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),
		snapshotAssets: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "snapshot_assets",
			Help:      "Number of assets in the most recent snapshot.",
		}),
		eventsDetected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_detected_total",
			Help:      "New events decided by the poller, by event type and policy action.",
		}, []string{"event_type", "action"}),
		eventErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_errors_total",
			Help:      "Per-event processing failures, by event type.",
		}, []string{"event_type"}),
		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatches_total",
			Help:      "Dispatch records written, by event type and status.",
		}, []string{"event_type", "status"}),
		activeCheckouts: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_checkouts",
			Help:      "Number of asset checkouts tracked as active after the last poll.",
		}),
		lastPollSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_poll_success_timestamp_seconds",
			Help:      "Unix time of the last successful poll cycle.",
		}),
	}

	if registerer != nil {
		registerer.MustRegister(
			m.pollCycles,
			m.pollDuration,
			m.snapshotAssets,
			m.eventsDetected,
			m.eventErrors,
			m.dispatches,
			m.activeCheckouts,
			m.lastPollSuccess,
		)
	}
	return m
}

// ObservePoll はポーリング1回分の結果を記録します
func (m *Metrics) ObservePoll(outcome string, duration time.Duration, finishedAt time.Time) {
	if m == nil {
		return
	}
	m.pollCycles.WithLabelValues(outcome).Inc()
	if outcome == CycleOutcomeSkipped {
		return
	}
	m.pollDuration.Observe(duration.Seconds())
	if outcome == CycleOutcomeSuccess {
		m.lastPollSuccess.Set(float64(finishedAt.Unix()))
	}
}

func (m *Metrics) SetSnapshotAssets(n int) {
	if m == nil {
		return
	}
	m.snapshotAssets.Set(float64(n))
}

func (m *Metrics) SetActiveCheckouts(n int) {
	if m == nil {
		return
	}
	m.activeCheckouts.Set(float64(n))
}

func (m *Metrics) IncEvent(eventType, action string) {
	if m == nil {
		return
	}
	m.eventsDetected.WithLabelValues(eventType, action).Inc()
}

func (m *Metrics) IncEventError(eventType string) {
	if m == nil {
		return
	}
	m.eventErrors.WithLabelValues(eventType).Inc()
}

func (m *Metrics) IncDispatch(eventType, status string) {
	if m == nil {
		return
	}
	m.dispatches.WithLabelValues(eventType, status).Inc()
}
