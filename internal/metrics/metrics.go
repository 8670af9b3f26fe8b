package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics stores Prometheus collectors used across the service.
type Metrics struct {
	HTTPRequests    *prometheus.CounterVec
	OTPRequests     *prometheus.CounterVec
	OTPLatency      *prometheus.HistogramVec
	GatewayRequests *prometheus.CounterVec
	GatewayLatency  *prometheus.HistogramVec
	Settlements     *prometheus.CounterVec
	Disbursements   *prometheus.CounterVec
	Errors          *prometheus.CounterVec
}

var (
	regOnce         sync.Once
	metricsInstance *Metrics
)

// Registry builds and registers the metrics singleton with optional namespace.
func Registry(namespace string) *Metrics {
	regOnce.Do(func() {
		metricsInstance = &Metrics{
			HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total HTTP requests by route and status code.",
			}, []string{"route", "status"}),
			OTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "otp_requests_total",
				Help:      "Total verification provider requests by action and outcome.",
			}, []string{"action", "status"}),
			OTPLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "otp_request_duration_seconds",
				Help:      "Latency distribution for verification provider calls.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"action", "status"}),
			GatewayRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "gateway_requests_total",
				Help:      "Total payment gateway requests by endpoint and status.",
			}, []string{"endpoint", "status"}),
			GatewayLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "gateway_request_duration_seconds",
				Help:      "Latency distribution for payment gateway requests.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"endpoint", "status"}),
			Settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "settlements_total",
				Help:      "Payment settlement attempts by outcome.",
			}, []string{"outcome"}),
			Disbursements: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "disbursements_total",
				Help:      "Disbursement operations by action and outcome.",
			}, []string{"action", "outcome"}),
			Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total errors grouped by component.",
			}, []string{"component"}),
		}

		prometheus.MustRegister(
			metricsInstance.HTTPRequests,
			metricsInstance.OTPRequests,
			metricsInstance.OTPLatency,
			metricsInstance.GatewayRequests,
			metricsInstance.GatewayLatency,
			metricsInstance.Settlements,
			metricsInstance.Disbursements,
			metricsInstance.Errors,
		)
	})
	return metricsInstance
}
