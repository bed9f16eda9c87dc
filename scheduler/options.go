package scheduler

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/Tsukikage7/delayjob/logger"
)

// tracerName 调度器使用的 tracer 名称.
const tracerName = "github.com/Tsukikage7/delayjob/scheduler"

// Config 调度器配置.
type Config struct {
	// Name 调度器名称，用于日志和生命周期管理.
	Name string `json:"name" yaml:"name" mapstructure:"name"`

	// Workers 最大并发执行任务数，默认 4.
	Workers int `json:"workers" yaml:"workers" mapstructure:"workers"`

	// EventBuffer Subscribe 未指定缓冲区时的默认大小，默认 64.
	EventBuffer int `json:"event_buffer" yaml:"event_buffer" mapstructure:"event_buffer"`
}

// Validate 验证配置.
func (c *Config) Validate() error {
	if c.Workers < 0 {
		return fmt.Errorf("scheduler: workers must not be negative, got %d", c.Workers)
	}
	if c.EventBuffer < 0 {
		return fmt.Errorf("scheduler: event_buffer must not be negative, got %d", c.EventBuffer)
	}
	return nil
}

// ApplyDefaults 应用默认值.
func (c *Config) ApplyDefaults() {
	if c.Name == "" {
		c.Name = "delayjob"
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = 64
	}
}

// DefaultConfig 返回默认配置.
func DefaultConfig() Config {
	c := Config{}
	c.ApplyDefaults()
	return c
}

// Recorder 调度指标记录器.
//
// metrics.PrometheusCollector 实现了该接口.
type Recorder interface {
	// RecordSubmitted 记录任务提交.
	RecordSubmitted()
	// RecordStarted 记录任务开始执行及其相对到期时间的延迟.
	RecordStarted(lag time.Duration)
	// RecordFinished 记录任务终态，status 取 State.String().
	RecordFinished(status string, duration time.Duration)
	// SetPending 设置等待队列长度.
	SetPending(n int)
	// SetBusyWorkers 设置正在执行任务的 worker 数量.
	SetBusyWorkers(n int)
}

type nopRecorder struct{}

func (nopRecorder) RecordSubmitted()                     {}
func (nopRecorder) RecordStarted(time.Duration)          {}
func (nopRecorder) RecordFinished(string, time.Duration) {}
func (nopRecorder) SetPending(int)                       {}
func (nopRecorder) SetBusyWorkers(int)                   {}

// Option 调度器配置选项.
type Option func(*options)

// options 调度器内部配置.
type options struct {
	config     Config
	logger     logger.Logger
	hooks      *Hooks
	recorder   Recorder
	tracer     trace.Tracer
	instanceID string
}

// defaultOptions 返回默认配置.
func defaultOptions() *options {
	return &options{
		config:     DefaultConfig(),
		recorder:   nopRecorder{},
		instanceID: uuid.NewString(),
	}
}

// WithConfig 使用配置结构体，零值字段取默认值.
func WithConfig(cfg Config) Option {
	return func(o *options) {
		cfg.ApplyDefaults()
		o.config = cfg
	}
}

// WithWorkers 设置最大并发执行任务数.
//
// 默认: 4.
func WithWorkers(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.config.Workers = n
		}
	}
}

// WithName 设置调度器名称.
func WithName(name string) Option {
	return func(o *options) {
		if name != "" {
			o.config.Name = name
		}
	}
}

// WithLogger 设置日志记录器.
func WithLogger(log logger.Logger) Option {
	return func(o *options) {
		o.logger = log
	}
}

// WithHooks 设置生命周期钩子.
func WithHooks(hooks *Hooks) Option {
	return func(o *options) {
		o.hooks = hooks
	}
}

// WithRecorder 设置指标记录器.
func WithRecorder(r Recorder) Option {
	return func(o *options) {
		if r != nil {
			o.recorder = r
		}
	}
}

// WithTracer 设置 tracer，默认使用全局 TracerProvider.
func WithTracer(t trace.Tracer) Option {
	return func(o *options) {
		o.tracer = t
	}
}

// WithTracerProvider 从 TracerProvider 创建 tracer.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		if tp != nil {
			o.tracer = tp.Tracer(tracerName)
		}
	}
}

// WithInstanceID 设置实例 ID，默认随机 UUID.
func WithInstanceID(id string) Option {
	return func(o *options) {
		if id != "" {
			o.instanceID = id
		}
	}
}

func (o *options) resolveTracer() trace.Tracer {
	if o.tracer != nil {
		return o.tracer
	}
	return otel.Tracer(tracerName)
}
