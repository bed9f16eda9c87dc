package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Action 任务函数.
//
// ctx 在任务执行中被取消时关闭，任务可以选择检查 ctx 提前退出.
// 返回值作为任务结果保存，返回 error 表示任务失败.
type Action func(ctx context.Context) (any, error)

// Func 将无参函数包装为 Action.
func Func(fn func()) Action {
	if fn == nil {
		return nil
	}
	return func(context.Context) (any, error) {
		fn()
		return nil, nil
	}
}

// FuncErr 将返回 error 的函数包装为 Action.
func FuncErr(fn func() error) Action {
	if fn == nil {
		return nil
	}
	return func(context.Context) (any, error) {
		return nil, fn()
	}
}

// FuncResult 将返回结果的函数包装为 Action.
func FuncResult[T any](fn func() T) Action {
	if fn == nil {
		return nil
	}
	return func(context.Context) (any, error) {
		return fn(), nil
	}
}

// State 任务状态.
type State int32

const (
	// StatePending 等待到期.
	StatePending State = iota
	// StateRunning 执行中.
	StateRunning
	// StateCompleted 执行成功.
	StateCompleted
	// StateFailed 执行失败.
	StateFailed
	// StateCancelled 已取消（包括调度器关闭时被放弃的任务）.
	StateCancelled
)

// String 返回状态字符串.
func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal 是否为终态.
func (s State) Terminal() bool {
	return s >= StateCompleted
}

// Handle 单个延迟任务的句柄.
//
// 状态只会从 pending 经 running 进入一个终态，或从 pending/running
// 直接进入 cancelled，终态不可逆. 状态迁移在 mu 保护下完成，
// 状态读取走原子变量，可在任意 goroutine 并发调用.
type Handle struct {
	id     int64
	name   string
	due    time.Time
	action Action

	// seq 入队序号，到期时间相同时按入队顺序出队，由 engine 在持锁时设置.
	seq uint64

	// onCancel 取消成功后在锁外回调.
	onCancel func(h *Handle)

	state atomic.Int32
	done  chan struct{}

	mu         sync.Mutex
	result     any
	err        error
	stop       context.CancelFunc
	startedAt  time.Time
	finishedAt time.Time
}

func newHandle(id int64, name string, due time.Time, action Action) *Handle {
	return &Handle{
		id:     id,
		name:   name,
		due:    due,
		action: action,
		done:   make(chan struct{}),
	}
}

// ID 返回任务 ID.
func (h *Handle) ID() int64 { return h.id }

// Name 返回任务名称.
func (h *Handle) Name() string { return h.name }

// Due 返回到期时间.
func (h *Handle) Due() time.Time { return h.due }

// Delay 返回距离到期的剩余时间，已到期时为零或负数.
func (h *Handle) Delay() time.Duration { return time.Until(h.due) }

// State 返回当前状态.
func (h *Handle) State() State {
	return State(h.state.Load())
}

// IsDone 是否已进入终态.
func (h *Handle) IsDone() bool {
	return h.State().Terminal()
}

// IsCancelled 是否已取消.
func (h *Handle) IsCancelled() bool {
	return h.State() == StateCancelled
}

// Done 返回任务进入终态时关闭的 channel.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Compare 按到期时间比较，早到期的排在前面，相同到期时间返回 0.
func (h *Handle) Compare(other *Handle) int {
	return h.due.Compare(other.due)
}

// Cancel 取消任务.
//
// 任务未进入终态时标记为已取消并返回 true：尚未开始的任务不会再执行；
// 已开始执行的任务会收到 ctx 取消信号，其结果被丢弃.
// 任务已进入终态时返回 false，不产生任何影响.
func (h *Handle) Cancel() bool {
	if !h.cancelWith(ErrCancelled) {
		return false
	}
	if h.onCancel != nil {
		h.onCancel(h)
	}
	return true
}

// abandon 调度器关闭时放弃仍在等待的任务.
func (h *Handle) abandon() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.State() != StatePending {
		return false
	}
	h.finishLocked(StateCancelled, nil, fmt.Errorf("%w: %w", ErrCancelled, ErrSchedulerClosed))
	return true
}

func (h *Handle) cancelWith(cause error) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.State().Terminal() {
		return false
	}
	if h.stop != nil {
		h.stop()
	}
	h.finishLocked(StateCancelled, nil, cause)
	return true
}

// begin 由 worker 调用，pending -> running. 任务已取消时返回 false.
func (h *Handle) begin(parent context.Context) (context.Context, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.State() != StatePending {
		return nil, false
	}
	ctx, cancel := context.WithCancel(parent)
	h.stop = cancel
	h.startedAt = time.Now()
	h.state.Store(int32(StateRunning))
	return ctx, true
}

// complete 由 worker 调用，running -> completed/failed.
// 执行期间被取消时返回 false，结果被丢弃.
func (h *Handle) complete(result any, err error) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.State() != StateRunning {
		return false
	}
	h.stop()
	if err != nil {
		h.finishLocked(StateFailed, nil, err)
	} else {
		h.finishLocked(StateCompleted, result, nil)
	}
	return true
}

// finishLocked 写入终态，调用方必须持有 mu.
func (h *Handle) finishLocked(state State, result any, err error) {
	h.result = result
	h.err = err
	h.finishedAt = time.Now()
	h.state.Store(int32(state))
	close(h.done)
}

// Result 返回终态结果，不阻塞. 任务未结束时返回 (nil, nil).
func (h *Handle) Result() (any, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.result, h.err
}

// Times 返回开始执行和结束时间，未发生时为零值.
func (h *Handle) Times() (started, finished time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.startedAt, h.finishedAt
}

// Await 阻塞等待任务结束.
//
// 任务取消返回 ErrCancelled，执行失败返回 *ActionError，
// ctx 超时返回 ErrTimeout，ctx 被取消返回 ctx.Err().
// 等待超时不影响任务本身的执行.
func (h *Handle) Await(ctx context.Context) (any, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	select {
	case <-h.done:
		return h.Result()
	case <-ctx.Done():
	}

	// 同时就绪时以任务结果为准
	select {
	case <-h.done:
		return h.Result()
	default:
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, fmt.Errorf("%w: %w", ErrTimeout, ctx.Err())
	}
	return nil, ctx.Err()
}

// AwaitTimeout 最多等待 timeout，timeout <= 0 表示一直等待.
func (h *Handle) AwaitTimeout(timeout time.Duration) (any, error) {
	if timeout <= 0 {
		return h.Await(context.Background())
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return h.Await(ctx)
}

// handleLess 队列排序规则：到期时间升序，相同时按入队顺序.
func handleLess(a, b *Handle) bool {
	if c := a.Compare(b); c != 0 {
		return c < 0
	}
	return a.seq < b.seq
}
