package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Backtest metrics
	backtestRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "risk_engine_backtest_runs_total",
			Help: "Total number of backtest runs by outcome",
		},
		[]string{"token", "outcome"},
	)

	tradesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "risk_engine_trades_total",
			Help: "Total number of simulated trades",
		},
		[]string{"token", "side"},
	)

	// Risk metrics
	riskRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "risk_engine_risk_rejections_total",
			Help: "Trades rejected by risk limits",
		},
		[]string{"reason"},
	)

	optimizerFallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "risk_engine_optimizer_fallbacks_total",
			Help: "Position sizer optimisations that fell back to equal weights",
		},
		[]string{"method"},
	)

	varDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "risk_engine_var_duration_seconds",
			Help:    "Time spent computing Value-at-Risk",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// Model metrics
	modelSaves = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "risk_engine_model_saves_total",
			Help: "Model versions persisted",
		},
		[]string{"token"},
	)
)

func init() {
	prometheus.MustRegister(backtestRuns)
	prometheus.MustRegister(tradesTotal)
	prometheus.MustRegister(riskRejections)
	prometheus.MustRegister(optimizerFallbacks)
	prometheus.MustRegister(varDuration)
	prometheus.MustRegister(modelSaves)
}

// MetricsHandler handles Prometheus metrics endpoint
type MetricsHandler struct{}

// NewMetricsHandler creates a new metrics handler
func NewMetricsHandler() *MetricsHandler {
	return &MetricsHandler{}
}

// ServeHTTP serves the Prometheus metrics endpoint
func (m *MetricsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

// RecordBacktest records a finished or aborted backtest
func RecordBacktest(token, outcome string) {
	backtestRuns.WithLabelValues(token, outcome).Inc()
}

// RecordTrade records a simulated trade
func RecordTrade(token, side string) {
	tradesTotal.WithLabelValues(token, side).Inc()
}

// RecordRiskRejection records a trade blocked by a risk limit
func RecordRiskRejection(reason string) {
	riskRejections.WithLabelValues(reason).Inc()
}

// RecordOptimizerFallback records an equal-weight fallback
func RecordOptimizerFallback(method string) {
	optimizerFallbacks.WithLabelValues(method).Inc()
}

// ObserveVaR records the duration of a VaR computation
func ObserveVaR(method string, d time.Duration) {
	varDuration.WithLabelValues(method).Observe(d.Seconds())
}

// RecordModelSave records a persisted model version
func RecordModelSave(token string) {
	modelSaves.WithLabelValues(token).Inc()
}
