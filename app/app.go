// Package app 提供应用程序生命周期管理.
//
// Application 按注册顺序启动组件，收到退出信号、调用 Stop 或任一组件
// 启动失败后，按注册的逆序在 GracefulTimeout 内依次停止组件.
//
//	application := app.New(app.Name("delayjob"), app.Logger(log))
//	application.Use(sched, metricsServer)
//	if err := application.Run(); err != nil {
//	    log.Fatal(err)
//	}
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"

	"github.com/Tsukikage7/delayjob/logger"
)

// ErrRunning 应用正在运行.
var ErrRunning = errors.New("app: 应用正在运行")

// Component 由 Application 管理生命周期的组件.
//
// Start 可以阻塞直到 ctx 结束（如 HTTP 服务器），也可以立即返回（如调度器）.
// Start 返回非 nil 错误会触发整个应用关闭.
type Component interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Application 应用程序，管理多个组件的生命周期.
type Application struct {
	opts       *options
	components []Component
	ctx        context.Context
	cancel     context.CancelFunc

	mu       sync.Mutex
	running  bool
	startErr error
}

// New 创建应用程序.
func New(opts ...Option) *Application {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	if o.logger == nil {
		panic("app: logger is required")
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Application{
		opts:   o,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Use 注册组件.
func (a *Application) Use(components ...Component) *Application {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.components = append(a.components, components...)
	return a
}

// Run 运行应用程序，阻塞直到应用关闭.
//
// 返回第一个组件启动错误，正常关闭时返回 nil.
func (a *Application) Run() error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return ErrRunning
	}
	a.running = true
	a.mu.Unlock()

	if err := a.opts.hooks.run(a.ctx, StageBeforeStart); err != nil {
		return err
	}

	a.opts.logger.With(
		logger.String("name", a.opts.name),
		logger.String("version", a.opts.version),
	).Info("[App] starting")

	a.start()

	if err := a.opts.hooks.run(a.ctx, StageAfterStart); err != nil {
		a.opts.logger.With(logger.Err(err)).Error("[App] after start hook failed")
	}

	a.waitForShutdown()
	a.shutdown()

	a.mu.Lock()
	defer a.mu.Unlock()
	return a.startErr
}

// Stop 主动停止应用程序.
func (a *Application) Stop() {
	a.cancel()
}

// Context 获取应用上下文，应用开始关闭时被取消.
func (a *Application) Context() context.Context {
	return a.ctx
}

// Name 获取应用名称.
func (a *Application) Name() string {
	return a.opts.name
}

// Version 获取应用版本.
func (a *Application) Version() string {
	return a.opts.version
}

func (a *Application) start() {
	if len(a.components) == 0 {
		a.opts.logger.Warn("[App] no components registered")
		return
	}

	for _, c := range a.components {
		go func(c Component) {
			a.opts.logger.With(logger.String("component", c.Name())).Info("[App] starting component")
			if err := c.Start(a.ctx); err != nil {
				a.fail(fmt.Errorf("app: start %s: %w", c.Name(), err))
			}
		}(c)
	}
}

// fail 记录第一个启动错误并触发关闭.
func (a *Application) fail(err error) {
	a.mu.Lock()
	if a.startErr == nil {
		a.startErr = err
	}
	a.mu.Unlock()

	a.opts.logger.With(logger.Err(err)).Error("[App] component failed")
	a.cancel()
}

func (a *Application) waitForShutdown() {
	signals := a.opts.signals
	if len(signals) == 0 {
		signals = []os.Signal{syscall.SIGINT, syscall.SIGTERM}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, signals...)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		a.opts.logger.With(logger.String("signal", sig.String())).Info("[App] received signal")
	case <-a.ctx.Done():
		a.opts.logger.Info("[App] context cancelled")
	}
	a.cancel()
}

func (a *Application) shutdown() {
	a.opts.logger.With(
		logger.Duration("timeout", a.opts.gracefulTimeout),
	).Info("[App] shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.opts.gracefulTimeout)
	defer cancel()

	if err := a.opts.hooks.run(shutdownCtx, StageBeforeStop); err != nil {
		a.opts.logger.With(logger.Err(err)).Error("[App] before stop hook failed")
	}

	// 逆序停止，后启动的组件可能依赖先启动的组件
	for i := len(a.components) - 1; i >= 0; i-- {
		c := a.components[i]
		a.opts.logger.With(logger.String("component", c.Name())).Info("[App] stopping component")
		if err := c.Stop(shutdownCtx); err != nil {
			a.opts.logger.With(
				logger.String("component", c.Name()),
				logger.Err(err),
			).Error("[App] component stop failed")
		}
	}

	a.runCleanups(shutdownCtx)

	if err := a.opts.hooks.run(context.Background(), StageAfterStop); err != nil {
		a.opts.logger.With(logger.Err(err)).Error("[App] after stop hook failed")
	}

	a.mu.Lock()
	a.running = false
	a.mu.Unlock()

	a.opts.logger.Info("[App] stopped")
}

func (a *Application) runCleanups(ctx context.Context) {
	if len(a.opts.cleanups) == 0 {
		return
	}

	cleanups := make([]Cleanup, len(a.opts.cleanups))
	copy(cleanups, a.opts.cleanups)
	sort.SliceStable(cleanups, func(i, j int) bool {
		return cleanups[i].Priority < cleanups[j].Priority
	})

	for _, c := range cleanups {
		if err := c.Fn(ctx); err != nil {
			a.opts.logger.With(
				logger.String("cleanup", c.Name),
				logger.Err(err),
			).Error("[App] cleanup failed")
		}
	}
}
