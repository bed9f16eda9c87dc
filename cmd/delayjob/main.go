// Command delayjob 演示进程内延迟任务调度.
//
// 提交 4 个分别在 5/10/15/20 个时间单位后执行的任务，取消第 3 个，
// 等待其余任务执行完毕后优雅退出.
//
//	delayjob -config configs/delayjob.yaml -unit 1s
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/Tsukikage7/delayjob/app"
	"github.com/Tsukikage7/delayjob/config"
	"github.com/Tsukikage7/delayjob/logger"
	"github.com/Tsukikage7/delayjob/metrics"
	"github.com/Tsukikage7/delayjob/scheduler"
	"github.com/Tsukikage7/delayjob/server"
	"github.com/Tsukikage7/delayjob/tracing"
)

func main() {
	configPath := flag.String("config", "", "配置文件路径，为空时使用默认配置")
	unit := flag.Duration("unit", time.Second, "任务延迟的时间单位")
	flag.Parse()

	if err := run(*configPath, *unit); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath string, unit time.Duration) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}

	log, err := logger.NewLogger(&cfg.Logger)
	if err != nil {
		return err
	}

	tp, err := tracing.NewTracer(&cfg.Tracing, cfg.App.Name, cfg.App.Version)
	if err != nil {
		return err
	}

	collector, err := metrics.NewMetrics(&cfg.Metrics)
	if err != nil {
		return err
	}

	sched := scheduler.New(
		scheduler.WithConfig(cfg.Scheduler),
		scheduler.WithLogger(log),
		scheduler.WithRecorder(collector),
		scheduler.WithTracerProvider(tp),
	)

	application := app.New(
		app.Name(cfg.App.Name),
		app.Version(cfg.App.Version),
		app.Logger(log),
		app.GracefulTimeout(cfg.App.ShutdownTimeout),
		app.SetHooks(app.NewHooks().
			AfterStop(func(context.Context) error {
				st := sched.Stats()
				log.Infof("scheduler stopped: submitted=%d completed=%d failed=%d cancelled=%d",
					st.Submitted, st.Completed, st.Failed, st.Cancelled)
				return nil
			}).
			Build()),
		app.RegisterCleanup("tracer", tp.Shutdown, 0),
		app.RegisterCleanup("logger", func(context.Context) error {
			_ = log.Sync()
			return nil
		}, 10),
	)
	application.Use(sched)

	if cfg.Metrics.Enabled {
		application.Use(server.NewHTTP(collector.Mux(),
			server.WithHTTPName("metrics"),
			server.WithHTTPAddr(cfg.Metrics.Addr),
			server.WithHTTPLogger(log),
		))
	}

	go demo(application, sched, unit, log)

	return application.Run()
}

// demo 提交演示任务，除被取消的任务外全部结束后停止应用.
func demo(application *app.Application, sched *scheduler.Scheduler, unit time.Duration, log logger.Logger) {
	defer application.Stop()

	now := time.Now()
	ids := make([]int64, 0, 4)
	for i := 1; i <= 4; i++ {
		n := i
		id, err := sched.Submit(fmt.Sprintf("Job %d", n), now.Add(time.Duration(5*n)*unit), scheduler.Func(func() {
			log.Infof("Running job %d", n)
		}))
		if err != nil {
			log.With(logger.Err(err)).Error("submit failed")
			return
		}
		ids = append(ids, id)
	}

	if ok, err := sched.Cancel(ids[2]); err != nil || !ok {
		log.Warnf("cancel job %d failed: ok=%v err=%v", ids[2], ok, err)
	}

	for i, id := range ids {
		if i == 2 {
			continue
		}
		if _, err := sched.Await(application.Context(), id); err != nil {
			log.With(logger.Int64("job_id", id), logger.Err(err)).Warn("await failed")
			return
		}
	}

	log.Info("demo jobs finished")
}
