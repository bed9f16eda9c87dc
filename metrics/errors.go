package metrics

import "errors"

// 预定义错误.
var (
	// ErrNilConfig 配置为空.
	ErrNilConfig = errors.New("metrics: 配置为空")

	// ErrRegisterMetric 注册指标失败.
	ErrRegisterMetric = errors.New("metrics: 注册指标失败")
)
