// Package config 提供配置加载和管理功能.
//
// 基于 viper，支持 yaml/json/toml 文件、默认值和环境变量覆盖.
// Config 是 delayjob 进程的完整配置：
//
//	cfg, err := config.LoadConfig("configs/delayjob.yaml")
//	// DELAYJOB_SCHEDULER_WORKERS=8 覆盖 scheduler.workers
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/Tsukikage7/delayjob/logger"
	"github.com/Tsukikage7/delayjob/metrics"
	"github.com/Tsukikage7/delayjob/scheduler"
	"github.com/Tsukikage7/delayjob/tracing"
)

// Validatable 可验证的配置接口.
type Validatable interface {
	Validate() error
}

// AppConfig 应用配置.
type AppConfig struct {
	Name    string `json:"name" yaml:"name" mapstructure:"name"`
	Version string `json:"version" yaml:"version" mapstructure:"version"`
	// ShutdownTimeout 优雅关闭超时时间
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
}

// Config delayjob 完整配置.
type Config struct {
	App       AppConfig        `json:"app" yaml:"app" mapstructure:"app"`
	Scheduler scheduler.Config `json:"scheduler" yaml:"scheduler" mapstructure:"scheduler"`
	Logger    logger.Config    `json:"logger" yaml:"logger" mapstructure:"logger"`
	Metrics   metrics.Config   `json:"metrics" yaml:"metrics" mapstructure:"metrics"`
	Tracing   tracing.Config   `json:"tracing" yaml:"tracing" mapstructure:"tracing"`
}

// Validate 验证配置.
func (c *Config) Validate() error {
	if c == nil {
		return ErrNilConfig
	}
	if c.App.Name == "" {
		return fmt.Errorf("app.name is required")
	}
	if c.App.ShutdownTimeout < 0 {
		return fmt.Errorf("app.shutdown_timeout must not be negative, got %v", c.App.ShutdownTimeout)
	}
	if err := c.Scheduler.Validate(); err != nil {
		return err
	}
	if err := c.Logger.Validate(); err != nil {
		return err
	}
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return fmt.Errorf("metrics.addr is required when metrics are enabled")
	}
	return c.Tracing.Validate()
}

// Defaults 返回所有配置项的默认值，键使用点分路径.
//
// 环境变量只能覆盖存在默认值或出现在配置文件中的键，因此这里列出全部键.
func Defaults() map[string]any {
	sched := scheduler.DefaultConfig()
	log := logger.DefaultConfig()
	m := metrics.DefaultConfig()

	return map[string]any{
		"app.name":             "delayjob",
		"app.version":          "1.0.0",
		"app.shutdown_timeout": "30s",

		"scheduler.name":         sched.Name,
		"scheduler.workers":      sched.Workers,
		"scheduler.event_buffer": sched.EventBuffer,

		"logger.type":              log.Type,
		"logger.service_name":      log.ServiceName,
		"logger.level":             log.Level,
		"logger.format":            log.Format,
		"logger.output":            log.Output,
		"logger.enable_caller":     false,
		"logger.enable_stacktrace": false,
		"logger.time_layout":       log.TimeLayout,

		"metrics.enabled":   m.Enabled,
		"metrics.addr":      m.Addr,
		"metrics.path":      m.Path,
		"metrics.namespace": m.Namespace,

		"tracing.enabled":       false,
		"tracing.sampling_rate": 1.0,
		"tracing.otlp.endpoint": "",
	}
}

// LoadConfig 加载 delayjob 配置.
//
// path 为空时只使用默认值和环境变量.
func LoadConfig(path string, opts ...Option) (*Config, error) {
	opts = append([]Option{WithDefaults(Defaults())}, opts...)
	if path == "" {
		return LoadDefaults[Config](opts...)
	}
	return Load[Config](path, opts...)
}

// GetConfigType 根据文件扩展名获取配置类型.
func GetConfigType(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".yaml", ".yml":
		return "yaml"
	case ".json":
		return "json"
	case ".toml":
		return "toml"
	default:
		return ""
	}
}
