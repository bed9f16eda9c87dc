package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Tsukikage7/delayjob/collections/priorityqueue"
	"github.com/Tsukikage7/delayjob/recovery"
)

// engine 延迟任务分发引擎.
//
// 单个 dispatcher 持有等待队列中最早到期的任务的定时器，每次入队或取消
// 都会唤醒它重新评估队首，因此任务严格按到期时间出队. 到期任务通过
// 无缓冲 channel 交给固定数量的 worker 执行；所有 worker 都忙时任务
// 留在堆中，空闲后仍按到期时间顺序出队，到期任务只会延迟不会丢弃.
type engine struct {
	opts   *options
	tracer trace.Tracer
	emit   func(ctx context.Context, ev Event)

	mu      sync.Mutex
	queue   *priorityqueue.PriorityQueue[*Handle]
	seq     uint64
	started bool
	closed  bool

	wake  chan struct{}
	stop  chan struct{}
	tasks chan *Handle

	dispatcherDone chan struct{}
	// drained 在首次 shutdown 放弃完所有等待任务后关闭.
	drained chan struct{}
	workers sync.WaitGroup
	busy    atomic.Int32

	// dirty 有任务被取消，dispatcher 下次评估时批量清理.
	dirty atomic.Bool
}

func newEngine(opts *options, emit func(ctx context.Context, ev Event)) *engine {
	return &engine{
		opts:           opts,
		tracer:         opts.resolveTracer(),
		emit:           emit,
		queue:          priorityqueue.New(handleLess),
		wake:           make(chan struct{}, 1),
		stop:           make(chan struct{}),
		tasks:          make(chan *Handle),
		dispatcherDone: make(chan struct{}),
		drained:        make(chan struct{}),
	}
}

// start 启动 dispatcher 和 worker，可重复调用. 关闭后调用无效.
func (e *engine) start() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.started || e.closed {
		return
	}
	e.started = true

	workers := e.opts.config.Workers
	e.workers.Add(workers)
	for i := 0; i < workers; i++ {
		go e.worker()
	}
	go e.dispatch()
}

// enqueue 按到期时间插入等待队列并唤醒 dispatcher.
func (e *engine) enqueue(h *Handle) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrSchedulerClosed
	}
	e.seq++
	h.seq = e.seq
	e.queue.Push(h)
	pending := e.queue.Len()
	e.mu.Unlock()

	e.opts.recorder.SetPending(pending)
	e.wakeup()
	return nil
}

// wakeup 通知 dispatcher 重新评估队首，不阻塞.
func (e *engine) wakeup() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// purge 标记队列中有已取消的任务并唤醒 dispatcher 清理.
// 多次取消在 dispatcher 的一次评估中合并处理.
func (e *engine) purge() {
	e.dirty.Store(true)
	e.wakeup()
}

// pending 返回等待队列长度（含已取消但尚未清理的任务）.
func (e *engine) pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.queue.Len()
}

// next 清理队首已取消的任务，返回最早到期的任务.
// 已到期的任务会从队列中弹出，未到期的任务保留在队列中并返回剩余等待时间.
func (e *engine) next() (*Handle, time.Duration, bool) {
	e.mu.Lock()
	defer func() {
		pending := e.queue.Len()
		e.mu.Unlock()
		e.opts.recorder.SetPending(pending)
	}()

	if e.dirty.Swap(false) {
		e.queue.RemoveFunc(func(h *Handle) bool { return h.IsDone() })
	}

	for {
		head, ok := e.queue.Peek()
		if !ok {
			return nil, 0, false
		}
		if head.IsDone() {
			e.queue.Pop()
			continue
		}
		if wait := time.Until(head.due); wait > 0 {
			return head, wait, true
		}
		e.queue.Pop()
		return head, 0, true
	}
}

// requeue 将已弹出但未交付的任务放回队列，保留原入队序号.
func (e *engine) requeue(h *Handle) {
	e.mu.Lock()
	e.queue.Push(h)
	e.mu.Unlock()
}

// dispatch 分发循环. 等待期间不持有任何锁.
func (e *engine) dispatch() {
	defer close(e.dispatcherDone)

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		h, wait, ok := e.next()
		if !ok {
			select {
			case <-e.wake:
				continue
			case <-e.stop:
				return
			}
		}

		if wait > 0 {
			timer.Reset(wait)
			select {
			case <-timer.C:
			case <-e.wake:
				timer.Stop()
			case <-e.stop:
				return
			}
			continue
		}

		select {
		case e.tasks <- h:
		case <-e.wake:
			// 可能有更早到期的任务加入，放回后重新评估
			e.requeue(h)
		case <-e.stop:
			e.requeue(h)
			return
		}
	}
}

// worker 执行到期任务，直到引擎关闭.
func (e *engine) worker() {
	defer e.workers.Done()

	for {
		select {
		case h := <-e.tasks:
			e.run(h)
		case <-e.stop:
			return
		}
	}
}

// run 执行单个任务. 任务的错误和 panic 只影响该任务自身.
func (e *engine) run(h *Handle) {
	jobCtx, ok := h.begin(context.Background())
	if !ok {
		e.logDebugf("任务已取消，跳过执行: %s [id:%d]", h.name, h.id)
		return
	}

	e.opts.recorder.SetBusyWorkers(int(e.busy.Add(1)))
	defer func() {
		e.opts.recorder.SetBusyWorkers(int(e.busy.Add(-1)))
	}()

	started, _ := h.Times()
	lag := started.Sub(h.due)
	if lag < 0 {
		lag = 0
	}

	ctx, span := e.tracer.Start(jobCtx, "delayjob.execute",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.Int64("job.id", h.id),
			attribute.String("job.name", h.name),
			attribute.String("job.due", h.due.Format(time.RFC3339Nano)),
			attribute.Int64("job.lag_ms", lag.Milliseconds()),
		),
	)
	defer span.End()

	e.opts.recorder.RecordStarted(lag)
	e.logInfof(ctx, "%s started at %s", h.name, started.Format(time.RFC3339Nano))
	e.emit(ctx, Event{Type: EventStarted, JobID: h.id, Name: h.name, Due: h.due, Time: started, Lag: lag})

	result, err := recovery.Call(func() (any, error) {
		return h.action(ctx)
	})
	if err != nil {
		err = &ActionError{JobID: h.id, Name: h.name, Err: err}
	}

	if !h.complete(result, err) {
		span.SetStatus(codes.Error, "cancelled during execution")
		e.logDebugf("任务执行期间被取消，结果已丢弃: %s [id:%d]", h.name, h.id)
		return
	}

	_, finished := h.Times()
	duration := finished.Sub(started)
	ev := Event{Type: EventCompleted, JobID: h.id, Name: h.name, Due: h.due, Time: finished, Lag: lag, Duration: duration}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.opts.recorder.RecordFinished(StateFailed.String(), duration)
		e.logErrorf(ctx, "任务执行失败: %s [id:%d] [duration:%v] [error:%v]", h.name, h.id, duration, err)
		ev.Type = EventFailed
		ev.Err = err
		e.emit(ctx, ev)
		return
	}

	span.SetStatus(codes.Ok, "")
	e.opts.recorder.RecordFinished(StateCompleted.String(), duration)
	e.logInfof(ctx, "%s completed at %s", h.name, finished.Format(time.RFC3339Nano))
	e.emit(ctx, ev)
}

// shutdown 停止分发，放弃所有未到期任务，等待执行中的任务结束.
// 可重复调用，ctx 结束时返回 ctx.Err()，执行中的任务不会被强制中断.
func (e *engine) shutdown(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		select {
		case <-e.drained:
		case <-ctx.Done():
			return ctx.Err()
		}
		return e.waitWorkers(ctx)
	}
	e.closed = true
	started := e.started
	e.mu.Unlock()

	close(e.stop)
	if started {
		<-e.dispatcherDone
	}

	e.mu.Lock()
	abandoned := e.queue.Drain()
	e.mu.Unlock()
	e.opts.recorder.SetPending(0)

	now := time.Now()
	for _, h := range abandoned {
		if !h.abandon() {
			continue
		}
		e.opts.recorder.RecordFinished("abandoned", 0)
		e.logDebugf("调度器关闭，放弃任务: %s [id:%d]", h.name, h.id)
		e.emit(context.Background(), Event{Type: EventAbandoned, JobID: h.id, Name: h.name, Due: h.due, Time: now, Err: ErrSchedulerClosed})
	}
	close(e.drained)

	return e.waitWorkers(ctx)
}

// waitWorkers 等待所有 worker 退出.
func (e *engine) waitWorkers(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.workers.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// 日志辅助方法.

func (e *engine) logDebugf(format string, args ...any) {
	if log := e.opts.logger; log != nil {
		log.Debugf("[Scheduler] "+format, args...)
	}
}

func (e *engine) logInfof(ctx context.Context, format string, args ...any) {
	if log := e.opts.logger; log != nil {
		log.WithContext(ctx).Infof("[Scheduler] "+format, args...)
	}
}

func (e *engine) logErrorf(ctx context.Context, format string, args ...any) {
	if log := e.opts.logger; log != nil {
		log.WithContext(ctx).Errorf("[Scheduler] "+format, args...)
	}
}
