package scheduler

import (
	"errors"
	"fmt"
)

// 预定义错误.
var (
	// ErrJobNameEmpty 任务名称为空.
	ErrJobNameEmpty = errors.New("scheduler: job name is required")

	// ErrActionNil 任务函数为空.
	ErrActionNil = errors.New("scheduler: job action is required")

	// ErrSchedulerClosed 调度器已关闭.
	ErrSchedulerClosed = errors.New("scheduler: scheduler is closed")

	// ErrJobNotFound 任务未找到.
	ErrJobNotFound = errors.New("scheduler: job not found")

	// ErrCancelled 任务已取消.
	ErrCancelled = errors.New("scheduler: job cancelled")

	// ErrInvalidSpec cron 表达式无效.
	ErrInvalidSpec = errors.New("scheduler: invalid cron spec")

	// ErrTimeout 等待任务结果超时.
	ErrTimeout = errors.New("scheduler: await timed out")
)

// ActionError 任务函数执行失败（返回错误或 panic）.
type ActionError struct {
	JobID int64
	Name  string
	Err   error
}

// Error 实现 error 接口.
func (e *ActionError) Error() string {
	return fmt.Sprintf("scheduler: job %d (%s) failed: %v", e.JobID, e.Name, e.Err)
}

// Unwrap 返回原始错误.
func (e *ActionError) Unwrap() error {
	return e.Err
}
