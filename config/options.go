package config

import "strings"

// EnvPrefix 默认环境变量前缀，DELAYJOB_SCHEDULER_WORKERS 对应 scheduler.workers.
const EnvPrefix = "DELAYJOB"

// Options 配置加载选项.
type Options struct {
	// EnvPrefix 环境变量前缀
	EnvPrefix string

	// EnvKeyReplacer 环境变量键替换器，默认将 . 替换为 _
	EnvKeyReplacer *strings.Replacer

	// AutomaticEnv 是否自动绑定环境变量
	AutomaticEnv bool

	// ConfigType 显式指定配置文件类型（yaml, json, toml 等）
	ConfigType string

	// Defaults 默认配置值，键使用点分路径
	Defaults map[string]any
}

// DefaultOptions 返回默认选项.
func DefaultOptions() *Options {
	return &Options{
		EnvPrefix:      EnvPrefix,
		EnvKeyReplacer: strings.NewReplacer(".", "_"),
		AutomaticEnv:   true,
		Defaults:       make(map[string]any),
	}
}

// Option 配置选项函数.
type Option func(*Options)

// WithEnvPrefix 设置环境变量前缀，空字符串表示不使用前缀.
func WithEnvPrefix(prefix string) Option {
	return func(o *Options) {
		o.EnvPrefix = prefix
	}
}

// WithoutEnv 禁用环境变量覆盖.
func WithoutEnv() Option {
	return func(o *Options) {
		o.AutomaticEnv = false
	}
}

// WithDefaults 合并默认值，后设置的覆盖先设置的.
func WithDefaults(defaults map[string]any) Option {
	return func(o *Options) {
		for k, v := range defaults {
			o.Defaults[k] = v
		}
	}
}

// WithConfigType 显式指定配置文件类型.
func WithConfigType(configType string) Option {
	return func(o *Options) {
		o.ConfigType = configType
	}
}
