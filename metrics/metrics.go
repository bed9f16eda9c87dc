// Package metrics 提供延迟任务调度的 Prometheus 指标.
//
// PrometheusCollector 实现 scheduler.Recorder，通过 scheduler.WithRecorder 注入：
//
//	collector := metrics.MustNewMetrics(metrics.DefaultConfig())
//	s := scheduler.New(scheduler.WithRecorder(collector))
//	http.Handle(collector.Path(), collector.Handler())
package metrics

// NewMetrics 创建指标收集器.
func NewMetrics(cfg *Config) (*PrometheusCollector, error) {
	if cfg == nil {
		return nil, ErrNilConfig
	}

	return NewPrometheus(cfg)
}

// MustNewMetrics 创建指标收集器，失败时 panic.
func MustNewMetrics(cfg *Config) *PrometheusCollector {
	c, err := NewMetrics(cfg)
	if err != nil {
		panic(err)
	}
	return c
}
