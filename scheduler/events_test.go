package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/Tsukikage7/delayjob/logger"
	"github.com/Tsukikage7/delayjob/recovery"
)

// collect 读取事件直到收到指定任务的终态事件.
func collect(t *testing.T, ch <-chan Event, id int64) []EventType {
	t.Helper()

	var types []EventType
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return types
			}
			if ev.JobID != id {
				continue
			}
			types = append(types, ev.Type)
			switch ev.Type {
			case EventCompleted, EventFailed, EventCancelled, EventAbandoned:
				return types
			}
		case <-timeout:
			t.Fatalf("timed out waiting for events of job %d, got %v", id, types)
			return nil
		}
	}
}

func TestEventBus_PublishSubscribe(t *testing.T) {
	bus := newEventBus()

	ch1, unsub1 := bus.subscribe(4)
	ch2, unsub2 := bus.subscribe(4)
	defer unsub2()

	bus.publish(Event{Type: EventStarted, JobID: 1})

	assert.Equal(t, EventStarted, (<-ch1).Type)
	assert.Equal(t, EventStarted, (<-ch2).Type)

	unsub1()
	unsub1()
	_, ok := <-ch1
	assert.False(t, ok)

	bus.publish(Event{Type: EventCompleted, JobID: 1})
	assert.Equal(t, EventCompleted, (<-ch2).Type)
}

func TestEventBus_DropsWhenFull(t *testing.T) {
	bus := newEventBus()
	ch, unsub := bus.subscribe(1)
	defer unsub()

	bus.publish(Event{JobID: 1})
	bus.publish(Event{JobID: 2})

	assert.Equal(t, int64(1), (<-ch).JobID)
	select {
	case ev := <-ch:
		t.Fatalf("unexpected event %v", ev)
	default:
	}
}

func TestEventBus_Close(t *testing.T) {
	bus := newEventBus()
	ch, unsub := bus.subscribe(0)

	bus.close()
	bus.close()
	_, ok := <-ch
	assert.False(t, ok)

	// 关闭后取消订阅和发布都是安全的
	unsub()
	bus.publish(Event{JobID: 1})

	late, _ := bus.subscribe(1)
	_, ok = <-late
	assert.False(t, ok)
}

func TestScheduler_SubscribeLifecycle(t *testing.T) {
	sch := New()
	defer sch.Shutdown(context.Background())

	events, unsubscribe := sch.Subscribe(0)
	defer unsubscribe()

	okID, err := sch.SubmitAfter("ok", 10*time.Millisecond, Func(func() {}))
	require.NoError(t, err)
	assert.Equal(t, []EventType{EventSubmitted, EventStarted, EventCompleted}, collect(t, events, okID))

	failID, err := sch.SubmitAfter("fail", 10*time.Millisecond, FuncErr(func() error { return errors.New("boom") }))
	require.NoError(t, err)
	assert.Equal(t, []EventType{EventSubmitted, EventStarted, EventFailed}, collect(t, events, failID))

	cancelID, err := sch.SubmitAfter("cancel", time.Hour, Func(func() {}))
	require.NoError(t, err)
	_, err = sch.Cancel(cancelID)
	require.NoError(t, err)
	assert.Equal(t, []EventType{EventSubmitted, EventCancelled}, collect(t, events, cancelID))

	abandonID, err := sch.SubmitAfter("abandon", time.Hour, Func(func() {}))
	require.NoError(t, err)
	require.NoError(t, sch.Shutdown(context.Background()))
	assert.Equal(t, []EventType{EventSubmitted, EventAbandoned}, collect(t, events, abandonID))

	// 关闭后 channel 被关闭
	for range events {
	}
}

func TestScheduler_EventFields(t *testing.T) {
	sch := New()
	defer sch.Shutdown(context.Background())

	events, unsubscribe := sch.Subscribe(16)
	defer unsubscribe()

	due := time.Now().Add(10 * time.Millisecond)
	id, err := sch.Submit("fields", due, Func(func() { time.Sleep(5 * time.Millisecond) }))
	require.NoError(t, err)

	for ev := range events {
		if ev.Type != EventCompleted {
			continue
		}
		assert.Equal(t, id, ev.JobID)
		assert.Equal(t, "fields", ev.Name)
		assert.True(t, ev.Due.Equal(due))
		assert.GreaterOrEqual(t, ev.Lag, time.Duration(0))
		assert.GreaterOrEqual(t, ev.Duration, 5*time.Millisecond)
		assert.NoError(t, ev.Err)
		break
	}
}

func TestScheduler_Hooks(t *testing.T) {
	var starts, completes, fails, cancels atomic.Int32
	hooks := NewHooks().
		OnStart(func(ctx context.Context, ev Event) { starts.Add(1) }).
		OnComplete(func(ctx context.Context, ev Event) { completes.Add(1) }).
		OnFail(func(ctx context.Context, ev Event) {
			var actionErr *ActionError
			assert.ErrorAs(t, ev.Err, &actionErr)
			fails.Add(1)
		}).
		OnCancel(func(ctx context.Context, ev Event) { cancels.Add(1) }).
		Build()

	sch := New(WithHooks(hooks))

	okID, err := sch.Submit("ok", time.Now(), Func(func() {}))
	require.NoError(t, err)
	failID, err := sch.Submit("fail", time.Now(), FuncErr(func() error { return errors.New("boom") }))
	require.NoError(t, err)
	cancelID, err := sch.SubmitAfter("cancel", time.Hour, Func(func() {}))
	require.NoError(t, err)
	_, err = sch.SubmitAfter("abandon", time.Hour, Func(func() {}))
	require.NoError(t, err)

	_, _ = sch.AwaitTimeout(okID, time.Second)
	_, _ = sch.AwaitTimeout(failID, time.Second)
	_, _ = sch.Cancel(cancelID)
	require.NoError(t, sch.Shutdown(context.Background()))

	assert.Equal(t, int32(2), starts.Load())
	assert.Equal(t, int32(1), completes.Load())
	assert.Equal(t, int32(1), fails.Load())
	assert.Equal(t, int32(2), cancels.Load())
}

func TestHooks_NilSafe(t *testing.T) {
	var hooks *Hooks
	assert.NotPanics(t, func() {
		assert.NoError(t, hooks.run(context.Background(), Event{Type: EventStarted}))
	})
}

func TestHooks_PanicRecovered(t *testing.T) {
	var after atomic.Int32
	hooks := NewHooks().
		OnStart(func(context.Context, Event) { panic("hook boom") }).
		OnStart(func(context.Context, Event) { after.Add(1) }).
		Build()

	err := hooks.run(context.Background(), Event{Type: EventStarted})

	var pe *recovery.PanicError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "hook boom", pe.Value)
	assert.Equal(t, int32(1), after.Load())
}

func TestScheduler_PanickingHookKeepsJobRunning(t *testing.T) {
	var completes atomic.Int32
	hooks := NewHooks().
		OnStart(func(context.Context, Event) { panic("hook boom") }).
		OnComplete(func(context.Context, Event) { completes.Add(1) }).
		OnCancel(func(context.Context, Event) { panic("cancel boom") }).
		Build()

	sch := New(WithHooks(hooks), WithLogger(logger.NewNop()))
	defer sch.Shutdown(context.Background())

	id, err := sch.Submit("job", time.Now().Add(-time.Second), FuncResult(func() int { return 42 }))
	require.NoError(t, err)

	result, err := sch.AwaitTimeout(id, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 42, result)
	assert.Equal(t, int32(1), completes.Load())

	cancelID, err := sch.SubmitAfter("cancel", time.Hour, Func(func() {}))
	require.NoError(t, err)
	ok, err := sch.Cancel(cancelID)
	require.NoError(t, err)
	assert.True(t, ok)

	id, err = sch.Submit("next", time.Now(), FuncResult(func() string { return "ok" }))
	require.NoError(t, err)
	result, err = sch.AwaitTimeout(id, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
}

// fakeRecorder 记录调用的 Recorder.
type fakeRecorder struct {
	mu        sync.Mutex
	submitted int
	started   int
	finished  map[string]int
	pending   int
	busy      int
	maxBusy   int
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{finished: make(map[string]int)}
}

func (r *fakeRecorder) RecordSubmitted() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.submitted++
}

func (r *fakeRecorder) RecordStarted(time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started++
}

func (r *fakeRecorder) RecordFinished(status string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished[status]++
}

func (r *fakeRecorder) SetPending(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending = n
}

func (r *fakeRecorder) SetBusyWorkers(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.busy = n
	if n > r.maxBusy {
		r.maxBusy = n
	}
}

func (r *fakeRecorder) get(fn func(r *fakeRecorder) int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fn(r)
}

func TestScheduler_Recorder(t *testing.T) {
	rec := newFakeRecorder()
	sch := New(WithRecorder(rec))

	okID, err := sch.Submit("ok", time.Now(), Func(func() {}))
	require.NoError(t, err)
	failID, err := sch.Submit("fail", time.Now(), FuncErr(func() error { return errors.New("boom") }))
	require.NoError(t, err)
	cancelID, err := sch.SubmitAfter("cancel", time.Hour, Func(func() {}))
	require.NoError(t, err)
	_, err = sch.SubmitAfter("abandon", time.Hour, Func(func() {}))
	require.NoError(t, err)

	_, _ = sch.AwaitTimeout(okID, time.Second)
	_, _ = sch.AwaitTimeout(failID, time.Second)
	_, _ = sch.Cancel(cancelID)
	require.NoError(t, sch.Shutdown(context.Background()))

	assert.Equal(t, 4, rec.get(func(r *fakeRecorder) int { return r.submitted }))
	assert.Equal(t, 2, rec.get(func(r *fakeRecorder) int { return r.started }))
	assert.Equal(t, 1, rec.get(func(r *fakeRecorder) int { return r.finished["completed"] }))
	assert.Equal(t, 1, rec.get(func(r *fakeRecorder) int { return r.finished["failed"] }))
	assert.Equal(t, 1, rec.get(func(r *fakeRecorder) int { return r.finished["cancelled"] }))
	assert.Equal(t, 1, rec.get(func(r *fakeRecorder) int { return r.finished["abandoned"] }))
	assert.Equal(t, 0, rec.get(func(r *fakeRecorder) int { return r.pending }))
	assert.Equal(t, 0, rec.get(func(r *fakeRecorder) int { return r.busy }))
	assert.GreaterOrEqual(t, rec.get(func(r *fakeRecorder) int { return r.maxBusy }), 1)
}

func TestScheduler_Tracing(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	defer tp.Shutdown(context.Background())

	sch := New(WithTracerProvider(tp))
	defer sch.Shutdown(context.Background())

	var traced atomic.Bool
	okID, err := sch.Submit("traced", time.Now(), func(ctx context.Context) (any, error) {
		// 任务函数拿到的 ctx 携带执行 span
		traced.Store(trace.SpanContextFromContext(ctx).IsValid())
		return nil, nil
	})
	require.NoError(t, err)
	failID, err := sch.Submit("broken", time.Now(), FuncErr(func() error { return errors.New("boom") }))
	require.NoError(t, err)

	_, _ = sch.AwaitTimeout(okID, time.Second)
	_, _ = sch.AwaitTimeout(failID, time.Second)

	require.Eventually(t, func() bool { return len(sr.Ended()) == 2 }, time.Second, 5*time.Millisecond)
	assert.True(t, traced.Load())

	byName := make(map[string]sdktrace.ReadOnlySpan)
	for _, span := range sr.Ended() {
		assert.Equal(t, "delayjob.execute", span.Name())
		for _, attr := range span.Attributes() {
			if attr.Key == "job.name" {
				byName[attr.Value.AsString()] = span
			}
		}
	}

	require.Contains(t, byName, "traced")
	ok := byName["traced"]
	assert.Equal(t, codes.Ok, ok.Status().Code)
	assert.Contains(t, ok.Attributes(), attribute.Int64("job.id", okID))

	require.Contains(t, byName, "broken")
	broken := byName["broken"]
	assert.Equal(t, codes.Error, broken.Status().Code)
	require.NotEmpty(t, broken.Events())
	assert.Equal(t, "exception", broken.Events()[0].Name)
}
