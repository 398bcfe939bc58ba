// Package metrics Prometheus 指标导出
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 包含服务侧全部指标
type Metrics struct {
	// HTTP 指标
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// 工作区指标
	WorkspacesActive       prometheus.Gauge
	WorkspaceProvisions    *prometheus.CounterVec
	WorkspaceProvisionTime prometheus.Histogram

	// 终端指标
	TerminalSessionsActive prometheus.Gauge
	CommitsDetected        prometheus.Counter

	// 校验管线指标
	VerificationsTotal   *prometheus.CounterVec
	VerificationDuration prometheus.Histogram
}

// NewMetrics 创建指标实例，reg 通常传 prometheus.DefaultRegisterer
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total HTTP requests by method, route and status",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency in seconds",
				Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"method", "route"},
		),
		WorkspacesActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "workspaces_active",
				Help:      "Number of workspaces with a running container",
			},
		),
		WorkspaceProvisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "workspace_provisions_total",
				Help:      "Total workspace provisioning attempts by status",
			},
			[]string{"status"},
		),
		WorkspaceProvisionTime: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "workspace_provision_seconds",
				Help:      "Workspace provisioning duration in seconds",
				Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
		),
		TerminalSessionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "terminal_sessions_active",
				Help:      "Number of currently attached terminal sessions",
			},
		),
		CommitsDetected: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "commits_detected_total",
				Help:      "Total commits detected from terminal output",
			},
		),
		VerificationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "verifications_total",
				Help:      "Total verification runs by result",
			},
			[]string{"result"},
		),
		VerificationDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "verification_duration_seconds",
				Help:      "Verification pipeline duration in seconds",
				Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
			},
		),
	}
}

// RecordHTTPRequest 记录一次 HTTP 请求
func (m *Metrics) RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordProvision 记录一次工作区开通
func (m *Metrics) RecordProvision(success bool, duration time.Duration) {
	status := "success"
	if !success {
		status = "failed"
	}
	m.WorkspaceProvisions.WithLabelValues(status).Inc()
	m.WorkspaceProvisionTime.Observe(duration.Seconds())
}

// RecordVerification 记录一次校验运行
func (m *Metrics) RecordVerification(passed bool, duration time.Duration) {
	result := "failed"
	if passed {
		result = "passed"
	}
	m.VerificationsTotal.WithLabelValues(result).Inc()
	m.VerificationDuration.Observe(duration.Seconds())
}

// Handler 返回 Prometheus HTTP Handler
func Handler() http.Handler {
	return promhttp.Handler()
}
