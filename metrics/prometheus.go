package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Tsukikage7/delayjob/scheduler"
)

var _ scheduler.Recorder = (*PrometheusCollector)(nil)

// PrometheusCollector Prometheus 调度指标收集器.
type PrometheusCollector struct {
	config *Config

	// 任务指标
	submittedTotal prometheus.Counter
	finishedTotal  *prometheus.CounterVec
	duration       prometheus.Histogram
	dispatchLag    prometheus.Histogram

	// 调度器状态
	pending     prometheus.Gauge
	busyWorkers prometheus.Gauge

	registry *prometheus.Registry
}

// NewPrometheus 创建 Prometheus 指标收集器.
func NewPrometheus(cfg *Config) (*PrometheusCollector, error) {
	if cfg == nil {
		return nil, ErrNilConfig
	}
	cfg.ApplyDefaults()
	namespace := cfg.Namespace

	// 使用独立注册表，避免与默认注册表冲突
	registry := prometheus.NewRegistry()

	c := &PrometheusCollector{
		config:   cfg,
		registry: registry,
	}

	c.submittedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "submitted_total",
			Help:      "Total number of submitted jobs",
		},
	)

	c.finishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "finished_total",
			Help:      "Total number of jobs that reached a terminal state",
		},
		[]string{"status"},
	)

	c.duration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "job",
			Name:      "duration_seconds",
			Help:      "Job execution duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	c.dispatchLag = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "job",
			Name:      "dispatch_lag_seconds",
			Help:      "Delay between a job's due time and its actual start in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		},
	)

	c.pending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "pending",
			Help:      "Number of jobs waiting in the due-time queue",
		},
	)

	c.busyWorkers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "workers",
			Name:      "busy",
			Help:      "Number of workers currently executing a job",
		},
	)

	collectors := []prometheus.Collector{
		c.submittedTotal,
		c.finishedTotal,
		c.duration,
		c.dispatchLag,
		c.pending,
		c.busyWorkers,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	}

	for _, collector := range collectors {
		if err := registry.Register(collector); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRegisterMetric, err)
		}
	}

	return c, nil
}

// RecordSubmitted 记录任务提交.
func (c *PrometheusCollector) RecordSubmitted() {
	c.submittedTotal.Inc()
}

// RecordStarted 记录任务开始执行.
func (c *PrometheusCollector) RecordStarted(lag time.Duration) {
	c.dispatchLag.Observe(lag.Seconds())
}

// RecordFinished 记录任务终态，只有真正执行过的任务才记录耗时.
func (c *PrometheusCollector) RecordFinished(status string, duration time.Duration) {
	c.finishedTotal.WithLabelValues(status).Inc()
	if status == scheduler.StateCompleted.String() || status == scheduler.StateFailed.String() {
		c.duration.Observe(duration.Seconds())
	}
}

// SetPending 设置等待队列长度.
func (c *PrometheusCollector) SetPending(n int) {
	c.pending.Set(float64(n))
}

// SetBusyWorkers 设置忙碌 worker 数量.
func (c *PrometheusCollector) SetBusyWorkers(n int) {
	c.busyWorkers.Set(float64(n))
}

// Registry 返回底层注册表，用于注册额外的指标.
func (c *PrometheusCollector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler 返回 metrics 的 HTTP 处理器.
func (c *PrometheusCollector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Path 返回 metrics 路径.
func (c *PrometheusCollector) Path() string {
	if c.config.Path == "" {
		return "/metrics"
	}
	return c.config.Path
}

// Mux 返回挂载了 metrics 处理器的 ServeMux.
func (c *PrometheusCollector) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle(c.Path(), c.Handler())
	return mux
}
