package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the onboarding service.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	OTPRequests      *prometheus.CounterVec
	OTPVerifications *prometheus.CounterVec
	StageTransitions *prometheus.CounterVec
	GateDecisions    *prometheus.CounterVec
	HTTPRequests     *prometheus.CounterVec
	HTTPDuration     *prometheus.HistogramVec
}

// New creates and registers all collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		OTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "onboard_otp_requests_total",
			Help: "One-time code requests by channel and whether a live code was reused.",
		}, []string{"channel", "reused"}),
		OTPVerifications: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "onboard_otp_verifications_total",
			Help: "One-time code verification outcomes by channel.",
		}, []string{"channel", "result"}),
		StageTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "onboard_stage_transitions_total",
			Help: "Onboarding stage and KYC transitions.",
		}, []string{"from", "to"}),
		GateDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "onboard_gate_decisions_total",
			Help: "Stage gate decisions by capability and outcome.",
		}, []string{"capability", "outcome"}),
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "onboard_http_requests_total",
			Help: "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		HTTPDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "onboard_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

func (m *Metrics) ObserveOTPRequest(channel string, reused bool) {
	if m == nil {
		return
	}
	m.OTPRequests.WithLabelValues(channel, strconv.FormatBool(reused)).Inc()
}

func (m *Metrics) ObserveOTPVerification(channel, result string) {
	if m == nil {
		return
	}
	m.OTPVerifications.WithLabelValues(channel, result).Inc()
}

func (m *Metrics) ObserveTransition(from, to string) {
	if m == nil {
		return
	}
	m.StageTransitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) ObserveGateDecision(capability, outcome string) {
	if m == nil {
		return
	}
	m.GateDecisions.WithLabelValues(capability, outcome).Inc()
}

func (m *Metrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
