// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器。所有 Record 方法对 nil 接收者是空操作，
// 组件可以在未配置指标时直接持有 nil。
type Collector struct {
	// 分发指标
	dispatchTotal    *prometheus.CounterVec
	dispatchDuration *prometheus.HistogramVec
	credentialUsage  *prometheus.CounterVec

	// 视频任务指标
	videoJobsTotal   *prometheus.CounterVec
	videoJobDuration *prometheus.HistogramVec
	videoPolls       *prometheus.CounterVec

	// 后处理指标
	gridPanels       prometheus.Counter
	structuredParses *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器并注册到默认 Registry。
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	return NewCollectorWith(namespace, prometheus.DefaultRegisterer, logger)
}

// NewCollectorWith 创建指标收集器并注册到给定 Registerer。
func NewCollectorWith(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	f := promauto.With(reg)
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.dispatchTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_requests_total",
			Help:      "Total number of generation requests by provider, transport and outcome",
		},
		[]string{"provider", "transport", "outcome"}, // outcome: ok 或 ErrorKind
	)

	c.dispatchDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_duration_seconds",
			Help:      "Generation request duration in seconds",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"provider", "transport"},
	)

	c.credentialUsage = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credential_usage_total",
			Help:      "Successful calls per credential",
		},
		[]string{"provider", "credential"},
	)

	c.videoJobsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "video_jobs_total",
			Help:      "Video jobs reaching a terminal state",
		},
		[]string{"backend", "state", "kind"},
	)

	c.videoJobDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "video_job_duration_seconds",
			Help:      "Wall-clock time from submit to terminal state",
			Buckets:   []float64{10, 30, 60, 120, 300, 600, 1200, 1800},
		},
		[]string{"backend"},
	)

	c.videoPolls = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "video_poll_attempts_total",
			Help:      "Video status poll attempts",
		},
		[]string{"backend"},
	)

	c.gridPanels = f.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grid_panels_total",
			Help:      "Panels produced by grid slicing",
		},
	)

	c.structuredParses = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "structured_parses_total",
			Help:      "Structured output parse attempts",
		},
		[]string{"outcome"},
	)

	return c
}

// RecordDispatch 记录一次分发结果。outcome 为 "ok" 或错误分类。
func (c *Collector) RecordDispatch(provider, transport, outcome string, duration time.Duration) {
	if c == nil {
		return
	}
	c.dispatchTotal.WithLabelValues(provider, transport, outcome).Inc()
	c.dispatchDuration.WithLabelValues(provider, transport).Observe(duration.Seconds())
}

// RecordCredentialUsage 记录凭据的一次成功调用。
func (c *Collector) RecordCredentialUsage(provider, credentialID string) {
	if c == nil || credentialID == "" {
		return
	}
	c.credentialUsage.WithLabelValues(provider, credentialID).Inc()
}

// RecordVideoJob 记录视频任务进入终态。
func (c *Collector) RecordVideoJob(backend, state, kind string, duration time.Duration) {
	if c == nil {
		return
	}
	c.videoJobsTotal.WithLabelValues(backend, state, kind).Inc()
	c.videoJobDuration.WithLabelValues(backend).Observe(duration.Seconds())
}

// RecordVideoPoll 记录一次状态轮询。
func (c *Collector) RecordVideoPoll(backend string) {
	if c == nil {
		return
	}
	c.videoPolls.WithLabelValues(backend).Inc()
}

// RecordGridSlice 记录切分出的面板数。
func (c *Collector) RecordGridSlice(panels int) {
	if c == nil {
		return
	}
	c.gridPanels.Add(float64(panels))
}

// RecordStructuredParse 记录结构化解析结果。
func (c *Collector) RecordStructuredParse(ok bool) {
	if c == nil {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "parse_failure"
	}
	c.structuredParses.WithLabelValues(outcome).Inc()
}
