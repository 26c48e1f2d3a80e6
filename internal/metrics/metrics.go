package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// CacheOperation identifies the cache method being instrumented.
type CacheOperation string

const (
	// CacheOperationLookup records cache lookup calls.
	CacheOperationLookup CacheOperation = "lookup"
	// CacheOperationStore records cache store attempts.
	CacheOperationStore CacheOperation = "store"
)

// CacheLookupOutcome captures the result of a cache lookup.
type CacheLookupOutcome string

const (
	// CacheLookupHit indicates the lookup reused a cached blob.
	CacheLookupHit CacheLookupOutcome = "hit"
	// CacheLookupMiss indicates no cached blob was present.
	CacheLookupMiss CacheLookupOutcome = "miss"
	// CacheLookupError indicates the lookup failed due to an error.
	CacheLookupError CacheLookupOutcome = "error"
)

// Recorder publishes Prometheus metrics for evaluation activity.
type Recorder struct {
	gatherer prometheus.Gatherer
	handler  http.Handler

	evaluations       *prometheus.CounterVec
	evaluationLatency *prometheus.HistogramVec

	ruleOutcomes *prometheus.CounterVec

	cacheOperations *prometheus.CounterVec
	cacheLatency    *prometheus.HistogramVec

	storeCalls   *prometheus.CounterVec
	storeLatency *prometheus.HistogramVec
}

// NewRecorder constructs a Prometheus-backed Recorder. When reg is nil a
// dedicated registry is created so multiple recorders can coexist without
// conflicting with the global default registerer.
func NewRecorder(reg *prometheus.Registry) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	reg.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	evaluations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "guardrail",
		Subsystem: "engine",
		Name:      "evaluations_total",
		Help:      "Completed ruleset evaluations.",
	}, []string{"rule_type", "area", "outcome"})

	evaluationLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "guardrail",
		Subsystem: "engine",
		Name:      "evaluation_duration_seconds",
		Help:      "Latency distribution for completed ruleset evaluations.",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"rule_type", "area"})

	ruleOutcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "guardrail",
		Subsystem: "engine",
		Name:      "rule_outcomes_total",
		Help:      "Individual rule outcomes recorded during evaluations.",
	}, []string{"operator", "result", "action"})

	cacheOperations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "guardrail",
		Subsystem: "cache",
		Name:      "operations_total",
		Help:      "Cache operations executed while serving evaluations.",
	}, []string{"key_prefix", "operation", "result"})

	cacheLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "guardrail",
		Subsystem: "cache",
		Name:      "operation_duration_seconds",
		Help:      "Latency distribution for cache operations.",
		Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
	}, []string{"key_prefix", "operation", "result"})

	storeCalls := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "guardrail",
		Subsystem: "store",
		Name:      "calls_total",
		Help:      "Stored-procedure calls executed against the record store.",
	}, []string{"procedure", "result"})

	storeLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "guardrail",
		Subsystem: "store",
		Name:      "call_duration_seconds",
		Help:      "Latency distribution for stored-procedure calls.",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2},
	}, []string{"procedure", "result"})

	reg.MustRegister(evaluations, evaluationLatency, ruleOutcomes, cacheOperations, cacheLatency, storeCalls, storeLatency)

	handler := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})

	return &Recorder{
		gatherer:          reg,
		handler:           handler,
		evaluations:       evaluations,
		evaluationLatency: evaluationLatency,
		ruleOutcomes:      ruleOutcomes,
		cacheOperations:   cacheOperations,
		cacheLatency:      cacheLatency,
		storeCalls:        storeCalls,
		storeLatency:      storeLatency,
	}
}

// Handler exposes the Prometheus HTTP handler for the recorder's registry.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "metrics unavailable", http.StatusServiceUnavailable)
		})
	}
	return r.handler
}

// Gatherer returns the underlying Prometheus gatherer for tests and advanced
// integrations.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.gatherer
}

// ObserveEvaluation records the outcome and latency for a completed ruleset
// evaluation.
func (r *Recorder) ObserveEvaluation(ruleType, area, outcome string, duration time.Duration) {
	if r == nil {
		return
	}
	typeLabel := normalizeLabel(ruleType)
	areaLabel := normalizeLabel(area)
	r.evaluations.WithLabelValues(typeLabel, areaLabel, normalizeLabel(outcome)).Inc()
	r.evaluationLatency.WithLabelValues(typeLabel, areaLabel).Observe(duration.Seconds())
}

// ObserveRuleOutcome records one rule-level outcome.
func (r *Recorder) ObserveRuleOutcome(operator, result, action string) {
	if r == nil {
		return
	}
	r.ruleOutcomes.WithLabelValues(normalizeLabel(operator), normalizeLabel(result), normalizeLabel(action)).Inc()
}

// ObserveCacheLookup records the result of a cache lookup.
func (r *Recorder) ObserveCacheLookup(keyPrefix string, result CacheLookupOutcome, duration time.Duration) {
	if r == nil {
		return
	}
	resultLabel := string(result)
	if resultLabel == "" {
		resultLabel = string(CacheLookupMiss)
	}
	r.observeCache(normalizeLabel(keyPrefix), CacheOperationLookup, resultLabel, duration)
}

// ObserveCacheStore records the result of a cache store attempt.
func (r *Recorder) ObserveCacheStore(keyPrefix string, err error, duration time.Duration) {
	if r == nil {
		return
	}
	result := "stored"
	if err != nil {
		result = "error"
	}
	r.observeCache(normalizeLabel(keyPrefix), CacheOperationStore, result, duration)
}

// ObserveStoreCall records the result of a stored-procedure call.
func (r *Recorder) ObserveStoreCall(procedure string, err error, duration time.Duration) {
	if r == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	procLabel := normalizeLabel(procedure)
	r.storeCalls.WithLabelValues(procLabel, result).Inc()
	r.storeLatency.WithLabelValues(procLabel, result).Observe(duration.Seconds())
}

func (r *Recorder) observeCache(keyPrefix string, operation CacheOperation, result string, duration time.Duration) {
	opLabel := string(operation)
	if opLabel == "" {
		opLabel = string(CacheOperationLookup)
	}
	resLabel := normalizeLabel(result)
	r.cacheOperations.WithLabelValues(keyPrefix, opLabel, resLabel).Inc()
	r.cacheLatency.WithLabelValues(keyPrefix, opLabel, resLabel).Observe(duration.Seconds())
}

func normalizeLabel(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
