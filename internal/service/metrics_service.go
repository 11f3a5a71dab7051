package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for the governance
// engine.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	transitions     *prometheus.CounterVec
	approvals       *prometheus.CounterVec
	exceptionsOpen  *prometheus.CounterVec
	exceptionsClose *prometheus.CounterVec
	sweepDuration   prometheus.Observer
	sweepModels     prometheus.Counter
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "validation_request_transitions_total",
		Help: "Validation request status transitions by target status",
	}, []string{"to_status"})

	approvals := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "validation_approvals_total",
		Help: "Recorded approval actions by type",
	}, []string{"approval_type"})

	exceptionsOpen := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "model_exceptions_opened_total",
		Help: "Exceptions opened by detector type",
	}, []string{"exception_type"})

	exceptionsClose := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "model_exceptions_closed_total",
		Help: "Exceptions closed, split by manual vs auto",
	}, []string{"mode"})

	sweepDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "detection_sweep_duration_seconds",
		Help:    "Duration of exception detection sweeps",
		Buckets: prometheus.DefBuckets,
	})

	sweepModels := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "detection_sweep_models_total",
		Help: "Models scanned by detection sweeps",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, transitions, approvals,
		exceptionsOpen, exceptionsClose, sweepDuration, sweepModels, goroutines)

	return &MetricsService{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		transitions:     transitions,
		approvals:       approvals,
		exceptionsOpen:  exceptionsOpen,
		exceptionsClose: exceptionsClose,
		sweepDuration:   sweepDuration,
		sweepModels:     sweepModels,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordTransition counts a successful status transition.
func (m *MetricsService) RecordTransition(toStatus string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(toStatus).Inc()
}

// RecordApproval counts a recorded approval action.
func (m *MetricsService) RecordApproval(approvalType string) {
	if m == nil {
		return
	}
	m.approvals.WithLabelValues(approvalType).Inc()
}

// RecordExceptionOpened counts a newly opened exception.
func (m *MetricsService) RecordExceptionOpened(exceptionType string) {
	if m == nil {
		return
	}
	m.exceptionsOpen.WithLabelValues(exceptionType).Inc()
}

// RecordExceptionClosed counts a closed exception.
func (m *MetricsService) RecordExceptionClosed(auto bool) {
	if m == nil {
		return
	}
	mode := "manual"
	if auto {
		mode = "auto"
	}
	m.exceptionsClose.WithLabelValues(mode).Inc()
}

// ObserveSweep records the timing and size of a detection sweep.
func (m *MetricsService) ObserveSweep(modelCount int, duration time.Duration) {
	if m == nil {
		return
	}
	m.sweepDuration.Observe(duration.Seconds())
	m.sweepModels.Add(float64(modelCount))
}
