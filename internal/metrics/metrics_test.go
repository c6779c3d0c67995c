package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserve(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveOTPRequest("phone", false)
	m.ObserveOTPRequest("phone", true)
	m.ObserveOTPRequest("phone", true)
	m.ObserveOTPVerification("email", "valid")
	m.ObserveTransition("profile_pending", "kyc_pending")
	m.ObserveGateDecision("full_application", "redirect")
	m.ObserveHTTP("GET", "/me", 200, 15*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.OTPRequests.WithLabelValues("phone", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OTPVerifications.WithLabelValues("email", "valid")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StageTransitions.WithLabelValues("profile_pending", "kyc_pending")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.GateDecisions.WithLabelValues("full_application", "redirect")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("GET", "/me", "200")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveOTPRequest("phone", false)
		m.ObserveHTTP("GET", "/", 200, time.Millisecond)
	})
}
