package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/viper"
)

// Load 从文件加载配置.
//
// 文件格式根据扩展名识别，也可通过 WithConfigType 指定.
// 配置类型实现 Validatable 接口时会在解析后自动验证.
func Load[T any](configPath string, opts ...Option) (*T, error) {
	options := buildOptions(opts)

	if _, err := os.Stat(configPath); errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, configPath)
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	if options.ConfigType != "" {
		v.SetConfigType(options.ConfigType)
	}
	applyOptions(v, options)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrReadConfig, err)
	}

	return unmarshalAndValidate[T](v)
}

// MustLoad 加载配置，失败时 panic.
func MustLoad[T any](configPath string, opts ...Option) *T {
	config, err := Load[T](configPath, opts...)
	if err != nil {
		panic(err)
	}
	return config
}

// LoadFromBytes 从字节数组加载配置.
func LoadFromBytes[T any](data []byte, configType string, opts ...Option) (*T, error) {
	options := buildOptions(opts)

	v := viper.New()
	v.SetConfigType(configType)
	applyOptions(v, options)

	if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrReadConfig, err)
	}

	return unmarshalAndValidate[T](v)
}

// LoadWithSearch 在多个目录中按名称搜索配置文件.
func LoadWithSearch[T any](configName string, searchPaths []string, opts ...Option) (*T, error) {
	options := buildOptions(opts)

	v := viper.New()
	v.SetConfigName(configName)
	for _, path := range searchPaths {
		v.AddConfigPath(path)
	}
	applyOptions(v, options)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, configName)
		}
		return nil, fmt.Errorf("%w: %w", ErrReadConfig, err)
	}

	return unmarshalAndValidate[T](v)
}

// LoadDefaults 只使用默认值和环境变量构建配置.
func LoadDefaults[T any](opts ...Option) (*T, error) {
	v := viper.New()
	applyOptions(v, buildOptions(opts))
	return unmarshalAndValidate[T](v)
}

func buildOptions(opts []Option) *Options {
	options := DefaultOptions()
	for _, opt := range opts {
		opt(options)
	}
	return options
}

// applyOptions 应用通用选项到 viper 实例.
func applyOptions(v *viper.Viper, options *Options) {
	for key, value := range options.Defaults {
		v.SetDefault(key, value)
	}

	if options.EnvPrefix != "" {
		v.SetEnvPrefix(options.EnvPrefix)
	}
	if options.EnvKeyReplacer != nil {
		v.SetEnvKeyReplacer(options.EnvKeyReplacer)
	}
	if options.AutomaticEnv {
		v.AutomaticEnv()
	}
}

// unmarshalAndValidate 解析配置并验证.
func unmarshalAndValidate[T any](v *viper.Viper) (*T, error) {
	config := new(T)
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnmarshal, err)
	}

	if validator, ok := any(config).(Validatable); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrValidation, err)
		}
	}

	return config, nil
}
