package observability

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method"},
	)

	BusPublishesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bus_publishes_total",
			Help: "Total number of messages published to the bus by exchange and task type",
		},
		[]string{"exchange", "task_type"},
	)
	BusReconnectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bus_reconnects_total",
			Help: "Total number of broker reconnect attempts that succeeded",
		},
	)

	RPCRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rpc_requests_total",
			Help: "Total number of RPC calls by task type and outcome",
		},
		[]string{"task_type", "outcome"},
	)
	RPCDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rpc_duration_seconds",
			Help:    "End-to-end RPC duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"task_type"},
	)

	TasksProcessing = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tasks_processing",
			Help: "Number of tasks currently being handled",
		},
		[]string{"task_type"},
	)
	TasksCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tasks_completed_total",
			Help: "Total number of tasks handled successfully",
		},
		[]string{"task_type"},
	)
	TasksFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tasks_failed_total",
			Help: "Total number of tasks that failed by task type and error kind",
		},
		[]string{"task_type", "kind"},
	)

	IndexTenants = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "recognition_index_tenants",
			Help: "Number of tenants held in the in-memory recognition index",
		},
	)
	IndexFaces = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "recognition_index_faces",
			Help: "Number of face rows held in the in-memory recognition index",
		},
	)
	RecognitionConfidence = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "recognition_confidence",
			Help:    "Distribution of best-match cosine confidence for recognition queries",
			Buckets: []float64{0, 0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
	)

	AnalyticsCacheHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "analytics_cache_hits_total",
			Help: "Total number of analytics report cache hits",
		},
	)
	AnalyticsCacheMissesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "analytics_cache_misses_total",
			Help: "Total number of analytics report cache misses",
		},
	)
)

func InitMetrics() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(BusPublishesTotal)
	prometheus.MustRegister(BusReconnectsTotal)
	prometheus.MustRegister(RPCRequestsTotal)
	prometheus.MustRegister(RPCDuration)
	prometheus.MustRegister(TasksProcessing)
	prometheus.MustRegister(TasksCompletedTotal)
	prometheus.MustRegister(TasksFailedTotal)
	prometheus.MustRegister(IndexTenants)
	prometheus.MustRegister(IndexFaces)
	prometheus.MustRegister(RecognitionConfidence)
	prometheus.MustRegister(AnalyticsCacheHitsTotal)
	prometheus.MustRegister(AnalyticsCacheMissesTotal)
}

// HTTPMetricsMiddleware records Prometheus metrics for each request.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		dur := time.Since(start).Seconds()
		// Route pattern may be unavailable outside chi router; guard nil
		var route string
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		if route == "" {
			route = r.URL.Path
		}
		method := r.Method
		status := ww.Status()
		HTTPRequestsTotal.WithLabelValues(route, method, http.StatusText(status)).Inc()
		HTTPRequestDuration.WithLabelValues(route, method).Observe(dur)
	})
}

func ObservePublish(exchange, taskType string) {
	BusPublishesTotal.WithLabelValues(exchange, taskType).Inc()
}

func ObserveReconnect() {
	BusReconnectsTotal.Inc()
}

func ObserveRPC(taskType, outcome string, seconds float64) {
	RPCRequestsTotal.WithLabelValues(taskType, outcome).Inc()
	RPCDuration.WithLabelValues(taskType).Observe(seconds)
}

func StartTask(taskType string) {
	TasksProcessing.WithLabelValues(taskType).Inc()
}

func CompleteTask(taskType string) {
	TasksProcessing.WithLabelValues(taskType).Dec()
	TasksCompletedTotal.WithLabelValues(taskType).Inc()
}

func FailTask(taskType, kind string) {
	TasksProcessing.WithLabelValues(taskType).Dec()
	TasksFailedTotal.WithLabelValues(taskType, kind).Inc()
}

// SetIndexSize publishes the current index footprint.
func SetIndexSize(tenants, faces int) {
	IndexTenants.Set(float64(tenants))
	IndexFaces.Set(float64(faces))
}

// ObserveRecognition records the best-match confidence of a recognition query.
func ObserveRecognition(confidence float64) {
	if confidence >= 0 && confidence <= 1 {
		RecognitionConfidence.Observe(confidence)
	}
}
