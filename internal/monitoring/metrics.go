package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	FetchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "insight_fetch_total",
			Help: "Completed fetches, labeled by mode and terminal status.",
		},
		[]string{"mode", "status"},
	)
	FetchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "insight_fetch_duration_seconds",
			Help:    "Wall time of a fetch including retries.",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 80},
		},
		[]string{"mode"},
	)
	BrowserSessionsInUse = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "insight_browser_sessions_in_use",
			Help: "Headless browser sessions currently checked out.",
		},
	)
	PassTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "insight_pass_total",
			Help: "Extraction pass outcomes, labeled by pass and outcome (ok, fault, timeout).",
		},
		[]string{"pass", "outcome"},
	)
	PassDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "insight_pass_duration_seconds",
			Help:    "Duration of each extraction pass.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"pass"},
	)
	AnalysisTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "insight_analysis_total",
			Help: "Insight analysis outcomes (ok, degraded, deadline).",
		},
		[]string{"outcome"},
	)
	ModelTokens = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "insight_model_tokens_total",
			Help: "Model tokens consumed, labeled by direction (input, output).",
		},
		[]string{"direction"},
	)
	ModelCostUSD = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "insight_model_cost_usd_total",
			Help: "Estimated model spend in USD.",
		},
	)
	ModelBreakerState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "insight_model_breaker_state",
			Help: "Model circuit breaker state (0 closed, 1 open, 2 half-open).",
		},
	)
	RequestTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "insight_requests_total",
			Help: "Analysis requests, labeled by outcome (ok, degraded, deadline).",
		},
		[]string{"outcome"},
	)
	RequestDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "insight_request_duration_seconds",
			Help:    "End-to-end analysis request duration.",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 180, 240, 300, 400},
		},
	)
)

func init() {
	prometheus.MustRegister(FetchTotal)
	prometheus.MustRegister(FetchDuration)
	prometheus.MustRegister(BrowserSessionsInUse)
	prometheus.MustRegister(PassTotal)
	prometheus.MustRegister(PassDuration)
	prometheus.MustRegister(AnalysisTotal)
	prometheus.MustRegister(ModelTokens)
	prometheus.MustRegister(ModelCostUSD)
	prometheus.MustRegister(ModelBreakerState)
	prometheus.MustRegister(RequestTotal)
	prometheus.MustRegister(RequestDuration)
}

// ObserveFetch records one completed fetch.
func ObserveFetch(mode, status string, d time.Duration) {
	FetchTotal.WithLabelValues(mode, status).Inc()
	FetchDuration.WithLabelValues(mode).Observe(d.Seconds())
}

// ObservePass records one extraction pass outcome.
func ObservePass(pass, outcome string, d time.Duration) {
	PassTotal.WithLabelValues(pass, outcome).Inc()
	PassDuration.WithLabelValues(pass).Observe(d.Seconds())
}

// ObserveModelUsage records token usage and estimated cost of one model call.
func ObserveModelUsage(inputTokens, outputTokens int64, costUSD float64) {
	ModelTokens.WithLabelValues("input").Add(float64(inputTokens))
	ModelTokens.WithLabelValues("output").Add(float64(outputTokens))
	if costUSD > 0 {
		ModelCostUSD.Add(costUSD)
	}
}

// ObserveRequest records one finished analysis request.
func ObserveRequest(outcome string, d time.Duration) {
	RequestTotal.WithLabelValues(outcome).Inc()
	RequestDuration.Observe(d.Seconds())
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
