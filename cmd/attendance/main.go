package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/attendance/internal/app"
	attendancehttp "github.com/odyssey-erp/attendance/internal/attendance/http"
	calendarhttp "github.com/odyssey-erp/attendance/internal/calendar/http"
	jobmetrics "github.com/odyssey-erp/attendance/internal/jobs"
	monthlyhttp "github.com/odyssey-erp/attendance/internal/monthly/http"
	"github.com/odyssey-erp/attendance/internal/observability"
	"github.com/odyssey-erp/attendance/internal/platform/cache"
	"github.com/odyssey-erp/attendance/internal/platform/db"
	proposalshttp "github.com/odyssey-erp/attendance/internal/proposals/http"
	"github.com/odyssey-erp/attendance/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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

	if cfg.PGMigrateOnBoot {
		if err := db.Migrate(cfg.PGDSN, logger); err != nil {
			logger.Error("migrate schema", slog.Any("error", err))
			os.Exit(1)
		}
	}

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

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

	metrics := observability.NewMetrics()
	services := app.NewServices(app.ServiceDeps{
		Pool:       dbpool,
		Redis:      redisClient,
		Queue:      queueClient,
		Config:     cfg,
		Logger:     logger,
		JobMetrics: jobmetrics.NewMetrics(metrics.Registerer()),
	})

	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		AttendanceHandler: attendancehttp.NewHandler(logger, services.Attendance),
		MonthlyHandler:    monthlyhttp.NewHandler(logger, services.Monthly),
		ProposalsHandler:  proposalshttp.NewHandler(logger, services.Proposals),
		CalendarHandler:   calendarhttp.NewHandler(logger, services.Calendar),
		JobHandler:        jobs.NewHandler(inspector, services.JobLogs, queueClient, logger),
		Metrics:           metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("timezone", cfg.OrgTimezone))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
