package app

import (
	"context"
	"fmt"
)

// Stage 应用生命周期阶段.
type Stage int

const (
	// StageBeforeStart 组件启动前，钩子返回错误时应用不会启动.
	StageBeforeStart Stage = iota
	// StageAfterStart 所有组件开始启动后.
	StageAfterStart
	// StageBeforeStop 停止组件前.
	StageBeforeStop
	// StageAfterStop 组件停止且清理任务执行完毕后.
	StageAfterStop
)

// String 返回阶段名称.
func (s Stage) String() string {
	switch s {
	case StageBeforeStart:
		return "before-start"
	case StageAfterStart:
		return "after-start"
	case StageBeforeStop:
		return "before-stop"
	case StageAfterStop:
		return "after-stop"
	default:
		return "unknown"
	}
}

// Hook 生命周期钩子函数.
type Hook func(ctx context.Context) error

// Hooks 按阶段登记的生命周期钩子.
//
// 除 StageBeforeStart 外，钩子错误只记录日志.
type Hooks struct {
	byStage map[Stage][]Hook
}

// run 依次执行指定阶段的钩子，遇到第一个错误即返回.
func (h *Hooks) run(ctx context.Context, stage Stage) error {
	if h == nil {
		return nil
	}
	for _, hook := range h.byStage[stage] {
		if err := hook(ctx); err != nil {
			return fmt.Errorf("app: %s hook: %w", stage, err)
		}
	}
	return nil
}

// HooksBuilder 钩子构建器.
type HooksBuilder struct {
	hooks *Hooks
}

// NewHooks 创建钩子构建器.
func NewHooks() *HooksBuilder {
	return &HooksBuilder{hooks: &Hooks{byStage: make(map[Stage][]Hook)}}
}

// On 在指定阶段添加钩子.
func (b *HooksBuilder) On(stage Stage, hook Hook) *HooksBuilder {
	b.hooks.byStage[stage] = append(b.hooks.byStage[stage], hook)
	return b
}

// BeforeStart 添加启动前钩子.
func (b *HooksBuilder) BeforeStart(hook Hook) *HooksBuilder {
	return b.On(StageBeforeStart, hook)
}

// AfterStart 添加启动后钩子.
func (b *HooksBuilder) AfterStart(hook Hook) *HooksBuilder {
	return b.On(StageAfterStart, hook)
}

// BeforeStop 添加停止前钩子.
func (b *HooksBuilder) BeforeStop(hook Hook) *HooksBuilder {
	return b.On(StageBeforeStop, hook)
}

// AfterStop 添加停止后钩子.
func (b *HooksBuilder) AfterStop(hook Hook) *HooksBuilder {
	return b.On(StageAfterStop, hook)
}

// Build 构建钩子.
func (b *HooksBuilder) Build() *Hooks {
	return b.hooks
}
