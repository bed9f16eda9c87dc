package config

import "errors"

// 预定义错误常量.
var (
	// ErrNilConfig 配置为空.
	ErrNilConfig = errors.New("config: 配置为空")

	// ErrFileNotFound 配置文件不存在.
	ErrFileNotFound = errors.New("config: 配置文件不存在")

	// ErrReadConfig 读取配置失败.
	ErrReadConfig = errors.New("config: 读取配置失败")

	// ErrUnmarshal 解析配置失败.
	ErrUnmarshal = errors.New("config: 解析配置失败")

	// ErrValidation 配置验证失败.
	ErrValidation = errors.New("config: 配置验证失败")
)
