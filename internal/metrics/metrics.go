package metrics

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	EventsTotal       *prometheus.CounterVec
	EventsSkipped     *prometheus.CounterVec
	TailerReopens     *prometheus.CounterVec
	FeatureCoercions  prometheus.Counter
	UnseenCategories  *prometheus.CounterVec
	ModelUnavailable  *prometheus.CounterVec
	VerdictsTotal     *prometheus.CounterVec
	FinalScore        prometheus.Histogram
	RelayAlertsTotal  prometheus.Counter
	RelayWindowSize   *prometheus.GaugeVec
	HostRiskScore     prometheus.Gauge
	HostSubScore      *prometheus.GaugeVec
	HostItemsSkipped  *prometheus.CounterVec
	AlertsEmitted     *prometheus.CounterVec
	AlertsSuppressed  *prometheus.CounterVec
	NotifySent        *prometheus.CounterVec
	NotifyErrors      *prometheus.CounterVec
	DroppedLocalTotal *prometheus.CounterVec
	QueueDepth        *prometheus.GaugeVec
}

// New builds the collectors and registers them with reg. Passing
// prometheus.DefaultRegisterer exposes them on the /metrics handler.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		EventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "events_total",
			Help: "Decoded events by source stream and event type",
		}, []string{"stream", "type"}),
		EventsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "events_skipped_total",
			Help: "Event lines skipped by the tailer",
		}, []string{"stream", "reason"}),
		TailerReopens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tailer_reopens_total",
			Help: "Event log reopen operations",
		}, []string{"stream", "reason"}),
		FeatureCoercions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feature_coercions_total",
			Help: "Non-numeric feature values replaced with 0",
		}),
		UnseenCategories: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "feature_unseen_categories_total",
			Help: "Categorical values mapped to the unseen sentinel",
		}, []string{"column"}),
		ModelUnavailable: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "model_unavailable_total",
			Help: "Evaluations that fell back to a zero contribution",
		}, []string{"model"}),
		VerdictsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "verdicts_total",
			Help: "Fusion verdicts by label",
		}, []string{"stream", "label"}),
		FinalScore: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "fusion_final_score",
			Help:    "Distribution of fused scores",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		}),
		RelayAlertsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_matches_total",
			Help: "Stepping-stone relay matches",
		}),
		RelayWindowSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "relay_window_size",
			Help: "Inbound relay candidates held in the window",
		}, []string{"stream"}),
		HostRiskScore: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "host_risk_score",
			Help: "Latest host risk ensemble score",
		}),
		HostSubScore: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "host_risk_subscore",
			Help: "Latest host risk sub-score by detector",
		}, []string{"detector"}),
		HostItemsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "host_items_skipped_total",
			Help: "Processes or connections skipped during host scans",
		}, []string{"detector"}),
		AlertsEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "alerts_emitted_total",
			Help: "Alerts handed to transports",
		}, []string{"severity"}),
		AlertsSuppressed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "alerts_suppressed_total",
			Help: "Alert attempts suppressed by the gate",
		}, []string{"reason"}),
		NotifySent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notify_sent_total",
			Help: "Alerts delivered per transport",
		}, []string{"transport"}),
		NotifyErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notify_errors_total",
			Help: "Alert delivery failures per transport",
		}, []string{"transport"}),
		DroppedLocalTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "events_dropped_local_total",
			Help: "Items dropped locally due to backpressure or rate limits",
		}, []string{"stream"}),
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "queue_depth",
			Help: "Queue depth by stream",
		}, []string{"stream"}),
	}

	reg.MustRegister(
		m.EventsTotal,
		m.EventsSkipped,
		m.TailerReopens,
		m.FeatureCoercions,
		m.UnseenCategories,
		m.ModelUnavailable,
		m.VerdictsTotal,
		m.FinalScore,
		m.RelayAlertsTotal,
		m.RelayWindowSize,
		m.HostRiskScore,
		m.HostSubScore,
		m.HostItemsSkipped,
		m.AlertsEmitted,
		m.AlertsSuppressed,
		m.NotifySent,
		m.NotifyErrors,
		m.DroppedLocalTotal,
		m.QueueDepth,
	)

	return m
}

// NewUnregistered is for tests and one-shot commands.
func NewUnregistered() *Metrics {
	return New(prometheus.NewRegistry())
}
