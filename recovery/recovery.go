// Package recovery 提供 panic 恢复.
//
// 用于隔离调用方提供的函数：panic 被转换为 *PanicError 返回，
// 不会传播到调用 goroutine.
//
// 示例:
//
//	v, err := recovery.Call(func() (int, error) {
//	    return compute()
//	})
//	var pe *recovery.PanicError
//	if errors.As(err, &pe) {
//	    log.Errorf("panic: %v\n%s", pe.Value, pe.Stack)
//	}
package recovery

import (
	"fmt"
	"runtime"
)

// Handler 是 panic 处理函数，可用于记录日志或上报指标.
type Handler func(p any, stack []byte)

// Options 配置选项.
type Options struct {
	// Handler panic 回调，可选.
	Handler Handler

	// StackSize 堆栈大小，默认 64KB.
	StackSize int

	// StackAll 是否捕获所有 goroutine 的堆栈，默认 false.
	StackAll bool
}

// Option 是配置函数.
type Option func(*Options)

// WithHandler 设置 panic 回调.
func WithHandler(h Handler) Option {
	return func(o *Options) {
		o.Handler = h
	}
}

// WithStackSize 设置堆栈大小.
func WithStackSize(size int) Option {
	return func(o *Options) {
		o.StackSize = size
	}
}

// WithStackAll 设置是否捕获所有 goroutine 的堆栈.
func WithStackAll(all bool) Option {
	return func(o *Options) {
		o.StackAll = all
	}
}

func applyOptions(opts []Option) *Options {
	o := &Options{StackSize: 64 * 1024}
	for _, opt := range opts {
		opt(o)
	}
	if o.StackSize <= 0 {
		o.StackSize = 64 * 1024
	}
	return o
}

// captureStack 捕获堆栈信息.
func captureStack(size int, all bool) []byte {
	stack := make([]byte, size)
	n := runtime.Stack(stack, all)
	return stack[:n]
}

// PanicError 表示 panic 错误.
type PanicError struct {
	// Value 是 panic 的值.
	Value any
	// Stack 是堆栈信息.
	Stack []byte
}

// Error 实现 error 接口.
func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Unwrap 返回原始错误（如果 panic 值是 error）.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// Call 执行 fn，fn 发生 panic 时返回零值和 *PanicError.
func Call[T any](fn func() (T, error), opts ...Option) (result T, err error) {
	defer func() {
		if p := recover(); p != nil {
			o := applyOptions(opts)
			stack := captureStack(o.StackSize, o.StackAll)
			if o.Handler != nil {
				o.Handler(p, stack)
			}
			var zero T
			result = zero
			err = &PanicError{Value: p, Stack: stack}
		}
	}()
	return fn()
}

// Do 执行无返回值的 fn，panic 时返回 *PanicError.
func Do(fn func() error, opts ...Option) error {
	_, err := Call(func() (struct{}, error) {
		return struct{}{}, fn()
	}, opts...)
	return err
}
