package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/attendance/internal/app"
	jobmetrics "github.com/odyssey-erp/attendance/internal/jobs"
	"github.com/odyssey-erp/attendance/internal/notify"
	"github.com/odyssey-erp/attendance/internal/platform/cache"
	"github.com/odyssey-erp/attendance/internal/platform/db"
	"github.com/odyssey-erp/attendance/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	queueClient, err := jobs.NewClient(redisOpts)
	if err != nil {
		logger.Error("init queue client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := queueClient.Close(); err != nil {
			logger.Warn("queue client close", slog.Any("error", err))
		}
	}()

	metrics := jobmetrics.NewMetrics(nil)
	services := app.NewServices(app.ServiceDeps{
		Pool:       pool,
		Redis:      redisClient,
		Queue:      queueClient,
		Config:     cfg,
		Logger:     logger,
		JobMetrics: metrics,
	})

	deps := jobs.BatchDeps{
		Employees: services.Ledger,
		Logs:      services.JobLogs,
		Runner:    jobs.NewBatchRunner(cfg.BatchConfig(), logger),
		Location:  cfg.Location(),
		Logger:    logger,
		Metrics:   metrics,
	}
	dailyJob := jobs.NewDailyResolveJob(deps, services.Attendance)
	monthlyJob := jobs.NewMonthlyAggregateJob(deps, services.Monthly, services.Proposals)
	dispatcher := notify.NewDispatcher(logger)

	dailyTask, err := jobs.NewDailyResolveTask(jobs.DateYesterday, jobs.TriggerSchedule)
	if err != nil {
		logger.Error("build daily task", slog.Any("error", err))
		os.Exit(1)
	}
	monthlyTask, err := jobs.NewMonthlyAggregateTask(jobs.MonthPrevious, jobs.TriggerSchedule)
	if err != nil {
		logger.Error("build monthly task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   redisOpts,
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Location:    cfg.Location(),
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskDailyResolve, Handler: dailyJob.Handle},
			{Type: jobs.TaskMonthlyAggregate, Handler: monthlyJob.Handle},
			{Type: notify.TaskTypeDispatch, Handler: dispatcher.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.DailyCron, Task: dailyTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: cfg.MonthlyCron, Task: monthlyTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
