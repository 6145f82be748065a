// Package metrics provides the Prometheus collectors for session, request and tenant outcomes.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	obserrors "github.com/target/agentops-console/internal/observability/errors"
)

// Result constants for metric labels.
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultStale   = "stale"
)

// Refresh triggers.
const (
	TriggerReactive  = "reactive"
	TriggerProactive = "proactive"
	TriggerRestore   = "restore"
)

// Request outcomes recorded by the authenticating transport.
const (
	OutcomeOK            = "ok"
	OutcomeRetried       = "retried"
	OutcomeUnauthorized  = "unauthorized"
	OutcomeRefreshFailed = "refresh_failed"
	OutcomeError         = "error"
)

// Metrics holds the console's collectors. A nil *Metrics is a valid no-op.
type Metrics struct {
	SignInTotal            *prometheus.CounterVec
	RefreshTotal           *prometheus.CounterVec
	RefreshRetriesTotal    prometheus.Counter
	RequestsTotal          *prometheus.CounterVec
	TenantResolutionsTotal *prometheus.CounterVec
	TeardownsTotal         *prometheus.CounterVec
}

// New creates the collectors under namespace and registers them with reg.
// A nil reg leaves them unregistered.
func New(reg prometheus.Registerer, namespace string) *Metrics {
	m := &Metrics{
		SignInTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "signin_total",
				Help:      "Sign-in attempts by method and result",
			},
			[]string{"method", "result", "error_class"},
		),
		RefreshTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "session_refresh_total",
				Help:      "Token refreshes by trigger and result",
			},
			[]string{"trigger", "result", "error_class"},
		),
		RefreshRetriesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "session_refresh_retries_total",
				Help:      "Refresh attempts retried after a transient failure",
			},
		),
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "api_requests_total",
				Help:      "Authenticated API requests by outcome",
			},
			[]string{"outcome"},
		),
		TenantResolutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tenant_resolutions_total",
				Help:      "Tenant resolutions by final status",
			},
			[]string{"status", "error_class"},
		),
		TeardownsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "session_teardowns_total",
				Help:      "Local session teardowns by reason",
			},
			[]string{"reason"},
		),
	}
	if reg != nil {
		reg.MustRegister(
			m.SignInTotal,
			m.RefreshTotal,
			m.RefreshRetriesTotal,
			m.RequestsTotal,
			m.TenantResolutionsTotal,
			m.TeardownsTotal,
		)
	}
	return m
}

func resultOf(err error) string {
	if err != nil {
		return ResultError
	}
	return ResultSuccess
}

// ObserveSignIn records a sign-in attempt.
func (m *Metrics) ObserveSignIn(method string, err error) {
	if m == nil {
		return
	}
	m.SignInTotal.WithLabelValues(method, resultOf(err), obserrors.Classify(err)).Inc()
}

// ObserveRefresh records a refresh outcome. Pass ResultStale as result when a caller
// was handed the already-rotated session instead of exchanging.
func (m *Metrics) ObserveRefresh(trigger, result string, err error) {
	if m == nil {
		return
	}
	if result == "" {
		result = resultOf(err)
	}
	m.RefreshTotal.WithLabelValues(trigger, result, obserrors.Classify(err)).Inc()
}

// ObserveRefreshRetry records a retried refresh attempt.
func (m *Metrics) ObserveRefreshRetry() {
	if m == nil {
		return
	}
	m.RefreshRetriesTotal.Inc()
}

// ObserveRequest records an API request outcome.
func (m *Metrics) ObserveRequest(outcome string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(outcome).Inc()
}

// ObserveTenantResolution records the status a tenant resolution settled on.
func (m *Metrics) ObserveTenantResolution(status string, err error) {
	if m == nil {
		return
	}
	m.TenantResolutionsTotal.WithLabelValues(status, obserrors.Classify(err)).Inc()
}

// ObserveTeardown records a local teardown.
func (m *Metrics) ObserveTeardown(reason string) {
	if m == nil {
		return
	}
	m.TeardownsTotal.WithLabelValues(reason).Inc()
}
