// Package tracing 提供 OpenTelemetry 链路追踪初始化.
package tracing

// Config 链路追踪配置.
type Config struct {
	// Enabled 是否启用链路追踪，未启用时返回不导出数据的 TracerProvider
	Enabled bool `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
	// OTLP OTLP配置
	OTLP *OTLPConfig `json:"otlp" yaml:"otlp" mapstructure:"otlp"`
	// SamplingRate 采样率 (0.0-1.0)，超出范围时按 1.0 处理
	SamplingRate float64 `json:"sampling_rate" yaml:"sampling_rate" mapstructure:"sampling_rate"`
}

// OTLPConfig OTLP配置.
type OTLPConfig struct {
	// Endpoint OTLP Collector端点，https:// 前缀表示启用 TLS
	Endpoint string `json:"endpoint" yaml:"endpoint" mapstructure:"endpoint"`
	// Headers 请求头[可选]
	Headers map[string]string `json:"headers" yaml:"headers" mapstructure:"headers"`
}

// Validate 验证配置，未启用时不检查端点.
func (c *Config) Validate() error {
	if c == nil {
		return ErrNilConfig
	}
	if !c.Enabled {
		return nil
	}
	if c.OTLP == nil || c.OTLP.Endpoint == "" {
		return ErrEmptyEndpoint
	}
	return nil
}

// samplingRate 返回修正后的采样率.
func (c *Config) samplingRate() float64 {
	if c.SamplingRate <= 0 || c.SamplingRate > 1 {
		return 1.0
	}
	return c.SamplingRate
}
