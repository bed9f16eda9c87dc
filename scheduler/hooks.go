package scheduler

import (
	"context"
	"errors"

	"github.com/Tsukikage7/delayjob/recovery"
)

// StartHook 任务开始执行时回调.
type StartHook func(ctx context.Context, ev Event)

// CompleteHook 任务执行成功时回调.
type CompleteHook func(ctx context.Context, ev Event)

// FailHook 任务执行失败时回调，ev.Err 为 *ActionError.
type FailHook func(ctx context.Context, ev Event)

// CancelHook 任务被取消或被放弃时回调.
type CancelHook func(ctx context.Context, ev Event)

// Hooks 任务钩子集合.
//
// 钩子在 worker 或调用 Cancel 的 goroutine 中同步执行，
// 耗时操作应自行异步处理.
type Hooks struct {
	OnStart    []StartHook
	OnComplete []CompleteHook
	OnFail     []FailHook
	OnCancel   []CancelHook
}

// run 按事件类型分发到对应钩子.
//
// 钩子的 panic 被转换为 *recovery.PanicError，不影响后续钩子和调用方，
// 所有 panic 合并后返回.
func (h *Hooks) run(ctx context.Context, ev Event) error {
	if h == nil {
		return nil
	}

	var hooks []func(context.Context, Event)
	switch ev.Type {
	case EventStarted:
		for _, hook := range h.OnStart {
			hooks = append(hooks, hook)
		}
	case EventCompleted:
		for _, hook := range h.OnComplete {
			hooks = append(hooks, hook)
		}
	case EventFailed:
		for _, hook := range h.OnFail {
			hooks = append(hooks, hook)
		}
	case EventCancelled, EventAbandoned:
		for _, hook := range h.OnCancel {
			hooks = append(hooks, hook)
		}
	}

	var errs []error
	for _, hook := range hooks {
		if err := recovery.Do(func() error {
			hook(ctx, ev)
			return nil
		}); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// HooksBuilder 钩子构建器.
type HooksBuilder struct {
	hooks *Hooks
}

// NewHooks 创建钩子构建器.
func NewHooks() *HooksBuilder {
	return &HooksBuilder{
		hooks: &Hooks{},
	}
}

// OnStart 添加开始钩子.
func (b *HooksBuilder) OnStart(hook StartHook) *HooksBuilder {
	b.hooks.OnStart = append(b.hooks.OnStart, hook)
	return b
}

// OnComplete 添加成功钩子.
func (b *HooksBuilder) OnComplete(hook CompleteHook) *HooksBuilder {
	b.hooks.OnComplete = append(b.hooks.OnComplete, hook)
	return b
}

// OnFail 添加失败钩子.
func (b *HooksBuilder) OnFail(hook FailHook) *HooksBuilder {
	b.hooks.OnFail = append(b.hooks.OnFail, hook)
	return b
}

// OnCancel 添加取消钩子.
func (b *HooksBuilder) OnCancel(hook CancelHook) *HooksBuilder {
	b.hooks.OnCancel = append(b.hooks.OnCancel, hook)
	return b
}

// Build 构建钩子.
func (b *HooksBuilder) Build() *Hooks {
	return b.hooks
}
