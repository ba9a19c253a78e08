package app

import (
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/attendance/internal/attendance"
	"github.com/odyssey-erp/attendance/internal/calendar"
	jobmetrics "github.com/odyssey-erp/attendance/internal/jobs"
	"github.com/odyssey-erp/attendance/internal/ledger"
	"github.com/odyssey-erp/attendance/internal/monthly"
	"github.com/odyssey-erp/attendance/internal/notify"
	"github.com/odyssey-erp/attendance/internal/proposals"
	"github.com/odyssey-erp/attendance/internal/shared"
	"github.com/odyssey-erp/attendance/jobs"
)

// ServiceDeps carries the infrastructure the attendance core is built on.
type ServiceDeps struct {
	Pool       *pgxpool.Pool
	Redis      *redis.Client
	Queue      notify.Enqueuer
	Config     *Config
	Logger     *slog.Logger
	JobMetrics *jobmetrics.Metrics
}

// Services is the wired attendance core shared by the API and the worker.
type Services struct {
	Ledger     *ledger.Store
	Calendar   *calendar.Service
	Attendance *attendance.Service
	Monthly    *monthly.Service
	Proposals  *proposals.Service
	JobLogs    *jobs.PGJobLogStore
}

// NewServices builds repositories and services and resolves the
// cross-service guards.
func NewServices(deps ServiceDeps) *Services {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg := deps.Config

	var locker shared.Locker
	if deps.Redis != nil {
		locker = shared.NewRedisLocker(deps.Redis, cfg.DayLockTTL)
	}
	var events notify.Emitter = notify.Discard{}
	if deps.Queue != nil {
		events = notify.NewQueueEmitter(deps.Queue, jobs.QueueDefault, logger)
	}
	audit := shared.NewAuditLogger(deps.Pool)

	store := ledger.NewStore(deps.Pool)
	holidays := calendar.NewService(calendar.NewRepository(deps.Pool), logger)

	days := attendance.NewService(attendance.ServiceConfig{
		Repo: attendance.NewRepository(deps.Pool),
		Collector: attendance.NewCollector(attendance.Sources{
			Directory:   store,
			Schedules:   store,
			Calendar:    holidays,
			Leaves:      store,
			Missions:    store,
			Permissions: store,
			Punches:     store,
		}),
		Locker:    locker,
		Policy:    cfg.LockPolicy(),
		Audit:     audit,
		Events:    events,
		Conflicts: deps.JobMetrics,
		Logger:    logger,
	})

	months := monthly.NewService(monthly.NewRepository(deps.Pool), days, locker, audit, monthly.Config{
		StandardDayHours: cfg.StandardDay(),
		Location:         cfg.Location(),
	}, logger)

	chain := proposals.NewRecorderChain(shared.NewApprovalRecorder(deps.Pool, logger))
	props := proposals.NewService(proposals.NewRepository(deps.Pool), months, days, chain, events, cfg.ProposalConfig(), logger)

	days.SetFinalizationGuard(months)
	months.SetProposalGuard(props)

	return &Services{
		Ledger:     store,
		Calendar:   holidays,
		Attendance: days,
		Monthly:    months,
		Proposals:  props,
		JobLogs:    jobs.NewPGJobLogStore(deps.Pool),
	}
}
