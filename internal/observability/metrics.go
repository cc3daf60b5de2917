package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	queueSize    *prometheus.GaugeVec
	enqueueTotal *prometheus.CounterVec
	dequeueTotal *prometheus.CounterVec
	taskDuration *prometheus.HistogramVec

	activeSessions     prometheus.Gauge
	invocationTotal    *prometheus.CounterVec
	invocationDuration *prometheus.HistogramVec
	invocationErrors   *prometheus.CounterVec
	costUnitsTotal     *prometheus.CounterVec

	routeTotal       *prometheus.CounterVec
	routeDuration    prometheus.Histogram
	strategyFallback prometheus.Counter
	strategyLogSize  prometheus.Gauge

	questionsPending  prometheus.Gauge
	questionsAnswered prometheus.Counter
	questionsExpired  prometheus.Counter

	experimentalActive prometheus.Gauge
	forksTotal         prometheus.Counter
	revertsTotal       prometheus.Counter

	transcriptLoadDuration prometheus.Histogram
	transcriptSaveDuration prometheus.Histogram
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			queueSize: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "queue_size",
					Help: "Current queue size by lane.",
				},
				[]string{"lane"},
			),
			enqueueTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "enqueue_total",
					Help: "Total enqueue operations by lane.",
				},
				[]string{"lane"},
			),
			dequeueTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "dequeue_total",
					Help: "Total dequeue/completion operations by lane and status.",
				},
				[]string{"lane", "status"},
			),
			taskDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "task_duration_seconds",
					Help:    "Task execution duration in seconds by lane.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"lane"},
			),
			activeSessions: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "active_sessions",
					Help: "Current active agent session count.",
				},
			),
			invocationTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "model_invocation_total",
					Help: "Total model service invocations by provider and status.",
				},
				[]string{"provider", "status"},
			),
			invocationDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "model_invocation_duration_seconds",
					Help:    "Model service invocation duration in seconds by provider.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"provider"},
			),
			invocationErrors: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "model_invocation_errors_total",
					Help: "Total model service invocation errors by provider.",
				},
				[]string{"provider"},
			),
			costUnitsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "model_cost_units_total",
					Help: "Cumulative model service cost units by role.",
				},
				[]string{"role"},
			),
			routeTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "route_total",
					Help: "Total routed tasks by strategy approach and status.",
				},
				[]string{"approach", "status"},
			),
			routeDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "route_duration_seconds",
					Help:    "End-to-end routing duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			strategyFallback: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "strategy_fallback_total",
					Help: "Total strategy parse failures resolved by the fallback strategy.",
				},
			),
			strategyLogSize: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "strategy_log_records",
					Help: "Number of records in the strategy log.",
				},
			),
			questionsPending: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "questions_pending",
					Help: "Questions currently awaiting an answer.",
				},
			),
			questionsAnswered: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "questions_answered_total",
					Help: "Total questions answered before expiry.",
				},
			),
			questionsExpired: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "questions_expired_total",
					Help: "Total questions resolved by the expiry fallback.",
				},
			),
			experimentalActive: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "experimental_instances_active",
					Help: "Active experimental instance count.",
				},
			),
			forksTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "instance_forks_total",
					Help: "Total experimental instance forks.",
				},
			),
			revertsTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "reverts_total",
					Help: "Total guardian revert operations.",
				},
			),
			transcriptLoadDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "transcript_load_duration_seconds",
					Help:    "Transcript load duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			transcriptSaveDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "transcript_save_duration_seconds",
					Help:    "Transcript append duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
		}

		prometheus.MustRegister(
			m.queueSize,
			m.enqueueTotal,
			m.dequeueTotal,
			m.taskDuration,
			m.activeSessions,
			m.invocationTotal,
			m.invocationDuration,
			m.invocationErrors,
			m.costUnitsTotal,
			m.routeTotal,
			m.routeDuration,
			m.strategyFallback,
			m.strategyLogSize,
			m.questionsPending,
			m.questionsAnswered,
			m.questionsExpired,
			m.experimentalActive,
			m.forksTotal,
			m.revertsTotal,
			m.transcriptLoadDuration,
			m.transcriptSaveDuration,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func RecordQueueEnqueue(lane string, queueSize int) {
	m := getMetrics()
	m.enqueueTotal.WithLabelValues(lane).Inc()
	m.queueSize.WithLabelValues(lane).Set(float64(queueSize))
}

func SetQueueSize(lane string, queueSize int) {
	m := getMetrics()
	m.queueSize.WithLabelValues(lane).Set(float64(queueSize))
}

func RecordQueueCompletion(lane string, duration time.Duration, success bool, queueSize int) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.dequeueTotal.WithLabelValues(lane, status).Inc()
	m.taskDuration.WithLabelValues(lane).Observe(duration.Seconds())
	m.queueSize.WithLabelValues(lane).Set(float64(queueSize))
}

func SetActiveSessions(count int) {
	m := getMetrics()
	m.activeSessions.Set(float64(count))
}

func RecordInvocation(provider string, duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.invocationTotal.WithLabelValues(provider, status).Inc()
	m.invocationDuration.WithLabelValues(provider).Observe(duration.Seconds())
	if !success {
		m.invocationErrors.WithLabelValues(provider).Inc()
	}
}

func AddCostUnits(role string, units float64) {
	m := getMetrics()
	m.costUnitsTotal.WithLabelValues(role).Add(units)
}

func RecordRoute(approach string, duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.routeTotal.WithLabelValues(approach, status).Inc()
	m.routeDuration.Observe(duration.Seconds())
}

func RecordStrategyFallback() {
	getMetrics().strategyFallback.Inc()
}

func SetStrategyLogSize(records int) {
	getMetrics().strategyLogSize.Set(float64(records))
}

func SetQuestionsPending(count int) {
	getMetrics().questionsPending.Set(float64(count))
}

func RecordQuestionAnswered() {
	getMetrics().questionsAnswered.Inc()
}

func RecordQuestionExpired() {
	getMetrics().questionsExpired.Inc()
}

func SetExperimentalActive(count int) {
	getMetrics().experimentalActive.Set(float64(count))
}

func RecordFork() {
	getMetrics().forksTotal.Inc()
}

func RecordRevert() {
	getMetrics().revertsTotal.Inc()
}

func RecordTranscriptLoad(duration time.Duration) {
	getMetrics().transcriptLoadDuration.Observe(duration.Seconds())
}

func RecordTranscriptSave(duration time.Duration) {
	getMetrics().transcriptSaveDuration.Observe(duration.Seconds())
}
