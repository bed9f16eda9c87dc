package metrics

// Config 指标监控配置.
type Config struct {
	// Enabled 是否暴露 /metrics 端点
	Enabled bool `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
	// Addr 指标服务监听地址，默认 :9100
	Addr string `json:"addr" yaml:"addr" mapstructure:"addr"`
	// Path 指标暴露路径，默认 /metrics
	Path string `json:"path" yaml:"path" mapstructure:"path"`
	// Namespace 指标命名空间，默认 delayjob
	Namespace string `json:"namespace" yaml:"namespace" mapstructure:"namespace"`
}

// ApplyDefaults 应用默认值.
func (c *Config) ApplyDefaults() {
	if c.Addr == "" {
		c.Addr = ":9100"
	}
	if c.Path == "" {
		c.Path = "/metrics"
	}
	if c.Namespace == "" {
		c.Namespace = "delayjob"
	}
}

// DefaultConfig 返回默认配置.
func DefaultConfig() *Config {
	c := &Config{}
	c.ApplyDefaults()
	return c
}
