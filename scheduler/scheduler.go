// Package scheduler 提供进程内延迟任务调度功能.
//
// 特性：
//   - 指定到期时间提交任务，返回单调递增的任务 ID
//   - 到期前可取消，取消后任务函数保证不会被调用
//   - 固定大小的 worker 池，到期任务严格按到期时间出队
//   - 任务句柄支持等待结果（可超时）和状态查询
//   - 任务 panic/错误隔离，不影响调度器和其他任务
//   - 生命周期事件订阅与钩子
//   - Prometheus 指标、OpenTelemetry 链路追踪
//   - 优雅关闭：未到期任务被放弃，执行中的任务继续完成
//
// 示例：
//
//	s := scheduler.New(
//	    scheduler.WithLogger(log),
//	    scheduler.WithWorkers(4),
//	)
//	defer s.Shutdown(context.Background())
//
//	id, err := s.SubmitAfter("send-report", 5*time.Second, scheduler.Func(sendReport))
//	if err != nil {
//	    return err
//	}
//	s.Cancel(id)
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Tsukikage7/delayjob/logger"
)

// Stats 调度器统计快照.
type Stats struct {
	Submitted   int
	Pending     int
	Running     int
	Completed   int
	Failed      int
	Cancelled   int
	Queued      int
	Workers     int
	BusyWorkers int
	Closed      bool
}

// Scheduler 延迟任务调度器.
//
// 负责分配任务 ID、维护 ID 到任务句柄的映射，并把任务交给分发引擎.
// 任务结束后映射不会被删除，任务 ID 在调度器生命周期内一直可查询.
type Scheduler struct {
	opts   *options
	engine *engine
	bus    *eventBus

	mu   sync.RWMutex
	jobs map[int64]*Handle

	nextID atomic.Int64
	closed atomic.Bool
}

// New 创建调度器.
//
// 分发循环在 Start 或第一次 Submit 时启动.
func New(opts ...Option) *Scheduler {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	if o.logger != nil {
		o.logger = o.logger.With(
			logger.String("scheduler", o.config.Name),
			logger.String("instance", o.instanceID),
		)
	}

	s := &Scheduler{
		opts: o,
		bus:  newEventBus(),
		jobs: make(map[int64]*Handle),
	}
	s.engine = newEngine(o, s.emit)
	return s
}

// Submit 提交任务，到期时间不晚于当前时间的任务会立即执行.
func (s *Scheduler) Submit(name string, due time.Time, action Action) (int64, error) {
	if strings.TrimSpace(name) == "" {
		return -1, ErrJobNameEmpty
	}
	if action == nil {
		return -1, ErrActionNil
	}
	if s.closed.Load() {
		return -1, ErrSchedulerClosed
	}

	id := s.nextID.Add(1) - 1
	h := newHandle(id, name, due, action)
	h.onCancel = s.onCancel

	s.mu.Lock()
	s.jobs[id] = h
	s.mu.Unlock()

	s.engine.start()
	if err := s.engine.enqueue(h); err != nil {
		// 与 Shutdown 竞争失败，ID 未返回给调用方，不会复用
		s.mu.Lock()
		delete(s.jobs, id)
		s.mu.Unlock()
		return -1, err
	}

	s.opts.recorder.RecordSubmitted()
	s.logDebugf("任务已提交: %s [id:%d] [due:%s] [delay:%v]", name, id, due.Format(time.RFC3339Nano), time.Until(due).Round(time.Millisecond))
	s.emit(context.Background(), Event{Type: EventSubmitted, JobID: id, Name: name, Due: due, Time: time.Now()})
	return id, nil
}

// SubmitAfter 提交在 delay 之后执行的任务.
func (s *Scheduler) SubmitAfter(name string, delay time.Duration, action Action) (int64, error) {
	return s.Submit(name, time.Now().Add(delay), action)
}

// SubmitCron 提交在 cron 表达式下一次触发时间执行的一次性任务.
//
// 表达式使用标准五段格式，也支持 @every、@daily 等描述符.
// 任务只执行一次，不会按表达式重复调度.
func (s *Scheduler) SubmitCron(name, spec string, action Action) (int64, error) {
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return -1, fmt.Errorf("%w: %q: %w", ErrInvalidSpec, spec, err)
	}
	due := sched.Next(time.Now())
	if due.IsZero() {
		return -1, fmt.Errorf("%w: %q never fires", ErrInvalidSpec, spec)
	}
	return s.Submit(name, due, action)
}

// Cancel 取消任务.
//
// 任务不存在或已结束时返回 false；调度器关闭后返回 ErrSchedulerClosed.
func (s *Scheduler) Cancel(id int64) (bool, error) {
	if s.closed.Load() {
		return false, ErrSchedulerClosed
	}

	h, ok := s.Get(id)
	if !ok {
		s.logDebugf("no such job: %d", id)
		return false, nil
	}

	if !h.Cancel() {
		s.logDebugf("任务已结束，无法取消: %s [id:%d] [state:%s]", h.name, id, h.State())
		return false, nil
	}
	return true, nil
}

// onCancel 任务取消成功后调用，包括直接调用 Handle.Cancel 的情况.
func (s *Scheduler) onCancel(h *Handle) {
	s.engine.purge()

	now := time.Now()
	s.opts.recorder.RecordFinished(StateCancelled.String(), 0)
	s.logInfof("%s cancelled at %s", h.name, now.Format(time.RFC3339Nano))
	s.emit(context.Background(), Event{Type: EventCancelled, JobID: h.id, Name: h.name, Due: h.due, Time: now, Err: ErrCancelled})
}

// Await 等待任务结束并返回结果.
func (s *Scheduler) Await(ctx context.Context, id int64) (any, error) {
	h, ok := s.Get(id)
	if !ok {
		return nil, ErrJobNotFound
	}
	return h.Await(ctx)
}

// AwaitTimeout 最多等待 timeout，timeout <= 0 表示一直等待.
func (s *Scheduler) AwaitTimeout(id int64, timeout time.Duration) (any, error) {
	h, ok := s.Get(id)
	if !ok {
		return nil, ErrJobNotFound
	}
	return h.AwaitTimeout(timeout)
}

// Get 获取任务句柄.
func (s *Scheduler) Get(id int64) (*Handle, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.jobs[id]
	return h, ok
}

// Len 返回已登记的任务数量.
func (s *Scheduler) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

// Stats 返回统计快照.
func (s *Scheduler) Stats() Stats {
	st := Stats{
		Queued:      s.engine.pending(),
		Workers:     s.opts.config.Workers,
		BusyWorkers: int(s.engine.busy.Load()),
		Closed:      s.closed.Load(),
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	st.Submitted = len(s.jobs)
	for _, h := range s.jobs {
		switch h.State() {
		case StatePending:
			st.Pending++
		case StateRunning:
			st.Running++
		case StateCompleted:
			st.Completed++
		case StateFailed:
			st.Failed++
		case StateCancelled:
			st.Cancelled++
		}
	}
	return st
}

// Subscribe 订阅生命周期事件.
//
// buffer <= 0 时使用配置的默认缓冲区大小. 订阅者处理过慢时事件会被丢弃.
// 调度器关闭且执行中的任务全部结束后 channel 被关闭.
func (s *Scheduler) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = s.opts.config.EventBuffer
	}
	return s.bus.subscribe(buffer)
}

// Name 返回调度器名称.
func (s *Scheduler) Name() string {
	return s.opts.config.Name
}

// InstanceID 返回实例 ID.
func (s *Scheduler) InstanceID() string {
	return s.opts.instanceID
}

// Closed 是否已关闭.
func (s *Scheduler) Closed() bool {
	return s.closed.Load()
}

// Start 启动分发循环.
func (s *Scheduler) Start(_ context.Context) error {
	if s.closed.Load() {
		return ErrSchedulerClosed
	}
	s.engine.start()
	s.logDebugf("调度器已启动 [workers:%d]", s.opts.config.Workers)
	return nil
}

// Stop 等同于 Shutdown.
func (s *Scheduler) Stop(ctx context.Context) error {
	return s.Shutdown(ctx)
}

// Shutdown 关闭调度器.
//
// 关闭后不再接受提交，未到期的任务被放弃，执行中的任务继续完成.
// 等待执行中的任务超过 ctx 期限时返回 ctx.Err()，可再次调用继续等待.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if s.closed.CompareAndSwap(false, true) {
		s.logDebug("调度器正在关闭")
	}

	if err := s.engine.shutdown(ctx); err != nil {
		s.logWarn("等待执行中的任务超时")
		return err
	}

	s.bus.close()
	s.logDebug("调度器已关闭")
	return nil
}

// emit 分发生命周期事件到钩子和订阅者.
func (s *Scheduler) emit(ctx context.Context, ev Event) {
	if err := s.opts.hooks.run(ctx, ev); err != nil {
		s.logErrorf("钩子执行失败: %s [id:%d] [event:%s] [error:%v]", ev.Name, ev.JobID, ev.Type, err)
	}
	s.bus.publish(ev)
}

// 日志辅助方法.

func (s *Scheduler) logDebug(msg string) {
	if log := s.opts.logger; log != nil {
		log.Debug("[Scheduler] " + msg)
	}
}

func (s *Scheduler) logDebugf(format string, args ...any) {
	if log := s.opts.logger; log != nil {
		log.Debugf("[Scheduler] "+format, args...)
	}
}

func (s *Scheduler) logInfof(format string, args ...any) {
	if log := s.opts.logger; log != nil {
		log.Infof("[Scheduler] "+format, args...)
	}
}

func (s *Scheduler) logErrorf(format string, args ...any) {
	if log := s.opts.logger; log != nil {
		log.Errorf("[Scheduler] "+format, args...)
	}
}

func (s *Scheduler) logWarn(msg string) {
	if log := s.opts.logger; log != nil {
		log.Warn("[Scheduler] " + msg)
	}
}
