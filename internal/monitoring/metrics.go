package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Admission metrics
	submissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "risk_gate_submissions_total",
			Help: "Total order submission attempts by outcome status",
		},
		[]string{"symbol", "status"},
	)

	rejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "risk_gate_rejections_total",
			Help: "Total risk rejections by failing check kind",
		},
		[]string{"check"},
	)

	// Alerting metrics
	alertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "risk_gate_alerts_total",
			Help: "Total risk alerts emitted",
		},
		[]string{"kind", "severity"},
	)

	protectiveActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "risk_gate_protective_actions_total",
			Help: "Total automated protective actions",
		},
		[]string{"kind", "executed"},
	)

	// Gate state
	emergencyGate = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "risk_gate_emergency_active",
			Help: "1 while the emergency halt gate is active",
		},
	)
)

func init() {
	prometheus.MustRegister(submissionsTotal)
	prometheus.MustRegister(rejectionsTotal)
	prometheus.MustRegister(alertsTotal)
	prometheus.MustRegister(protectiveActionsTotal)
	prometheus.MustRegister(emergencyGate)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordSubmission records a submission attempt and its outcome.
func RecordSubmission(symbol, status string) {
	submissionsTotal.WithLabelValues(symbol, status).Inc()
}

// RecordRejection records a risk rejection by check kind.
func RecordRejection(check string) {
	rejectionsTotal.WithLabelValues(check).Inc()
}

// RecordAlert records an emitted alert.
func RecordAlert(kind, severity string) {
	alertsTotal.WithLabelValues(kind, severity).Inc()
}

// RecordProtectiveAction records an automated protective action.
func RecordProtectiveAction(kind string, executed bool) {
	label := "false"
	if executed {
		label = "true"
	}
	protectiveActionsTotal.WithLabelValues(kind, label).Inc()
}

// SetEmergencyGate reflects the halt gate state.
func SetEmergencyGate(active bool) {
	if active {
		emergencyGate.Set(1)
	} else {
		emergencyGate.Set(0)
	}
}
