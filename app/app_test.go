package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tsukikage7/delayjob/logger"
	"github.com/Tsukikage7/delayjob/scheduler"
)

// recorder 记录生命周期调用顺序.
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) add(call string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

type fakeComponent struct {
	name     string
	rec      *recorder
	startErr error
	started  chan struct{}
}

func newFakeComponent(name string, rec *recorder) *fakeComponent {
	return &fakeComponent{name: name, rec: rec, started: make(chan struct{})}
}

func (c *fakeComponent) Name() string { return c.name }

func (c *fakeComponent) Start(context.Context) error {
	c.rec.add("start:" + c.name)
	close(c.started)
	return c.startErr
}

func (c *fakeComponent) Stop(context.Context) error {
	c.rec.add("stop:" + c.name)
	return nil
}

func runAsync(a *Application) <-chan error {
	done := make(chan error, 1)
	go func() { done <- a.Run() }()
	return done
}

func waitRun(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
		return nil
	}
}

func TestNew_RequiresLogger(t *testing.T) {
	assert.Panics(t, func() { New() })
}

func TestApplication_Metadata(t *testing.T) {
	a := New(Name("delayjob"), Version("2.0.0"), Logger(logger.NewNop()))

	assert.Equal(t, "delayjob", a.Name())
	assert.Equal(t, "2.0.0", a.Version())
	assert.NoError(t, a.Context().Err())
}

func TestApplication_StartStopOrder(t *testing.T) {
	rec := &recorder{}
	first := newFakeComponent("first", rec)
	second := newFakeComponent("second", rec)

	hooks := NewHooks().
		BeforeStart(func(context.Context) error { rec.add("before-start"); return nil }).
		AfterStart(func(context.Context) error { rec.add("after-start"); return nil }).
		BeforeStop(func(context.Context) error { rec.add("before-stop"); return nil }).
		AfterStop(func(context.Context) error { rec.add("after-stop"); return nil }).
		Build()

	a := New(
		Logger(logger.NewNop()),
		SetHooks(hooks),
		GracefulTimeout(time.Second),
		RegisterCleanup("late", func(context.Context) error { rec.add("cleanup:late"); return nil }, 2),
		RegisterCleanup("early", func(context.Context) error { rec.add("cleanup:early"); return nil }, 1),
	)
	a.Use(first, second)

	done := runAsync(a)
	<-first.started
	<-second.started

	assert.ErrorIs(t, a.Run(), ErrRunning)

	a.Stop()
	require.NoError(t, waitRun(t, done))
	assert.ErrorIs(t, a.Context().Err(), context.Canceled)

	calls := rec.snapshot()
	assert.Equal(t, "before-start", calls[0])
	assert.ElementsMatch(t, []string{"start:first", "start:second", "after-start"}, calls[1:4])
	assert.Equal(t, []string{
		"before-stop",
		"stop:second",
		"stop:first",
		"cleanup:early",
		"cleanup:late",
		"after-stop",
	}, calls[4:])
}

func TestApplication_BeforeStartError(t *testing.T) {
	boom := errors.New("boom")
	rec := &recorder{}
	c := newFakeComponent("c", rec)

	a := New(
		Logger(logger.NewNop()),
		SetHooks(NewHooks().BeforeStart(func(context.Context) error { return boom }).Build()),
	)
	a.Use(c)

	err := a.Run()
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "before-start hook")
	assert.Empty(t, rec.snapshot())
}

func TestStage_String(t *testing.T) {
	tests := []struct {
		stage Stage
		want  string
	}{
		{StageBeforeStart, "before-start"},
		{StageAfterStart, "after-start"},
		{StageBeforeStop, "before-stop"},
		{StageAfterStop, "after-stop"},
		{Stage(42), "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.stage.String())
	}
}

func TestHooks_RunStopsAtFirstError(t *testing.T) {
	boom := errors.New("boom")
	rec := &recorder{}
	hooks := NewHooks().
		On(StageAfterStop, func(context.Context) error { rec.add("first"); return boom }).
		On(StageAfterStop, func(context.Context) error { rec.add("second"); return nil }).
		Build()

	assert.NoError(t, hooks.run(context.Background(), StageBeforeStart))
	assert.ErrorIs(t, hooks.run(context.Background(), StageAfterStop), boom)
	assert.Equal(t, []string{"first"}, rec.snapshot())

	var nilHooks *Hooks
	assert.NoError(t, nilHooks.run(context.Background(), StageAfterStop))
}

func TestApplication_ComponentStartError(t *testing.T) {
	boom := errors.New("listen failed")
	rec := &recorder{}
	ok := newFakeComponent("ok", rec)
	bad := newFakeComponent("bad", rec)
	bad.startErr = boom

	a := New(Logger(logger.NewNop()), GracefulTimeout(time.Second))
	a.Use(ok, bad)

	err := waitRun(t, runAsync(a))
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "start bad")
	assert.Contains(t, rec.snapshot(), "stop:ok")
	assert.Contains(t, rec.snapshot(), "stop:bad")
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func TestApplication_RegisterCloser(t *testing.T) {
	closed := make(chan struct{})
	a := New(
		Logger(logger.NewNop()),
		RegisterCloser("closer", closerFunc(func() error { close(closed); return nil }), 0),
	)

	done := runAsync(a)
	a.Stop()
	require.NoError(t, waitRun(t, done))

	select {
	case <-closed:
	default:
		t.Fatal("closer was not called")
	}
}

func TestApplication_WithScheduler(t *testing.T) {
	sched := scheduler.New(scheduler.WithName("jobs"))
	a := New(Logger(logger.NewNop()), GracefulTimeout(time.Second))
	a.Use(sched)

	done := runAsync(a)

	ran := make(chan struct{})
	id, err := sched.Submit("job", time.Now(), scheduler.Func(func() { close(ran) }))
	require.NoError(t, err)
	<-ran
	_, err = sched.AwaitTimeout(id, time.Second)
	require.NoError(t, err)

	a.Stop()
	require.NoError(t, waitRun(t, done))
	assert.True(t, sched.Closed())
}
