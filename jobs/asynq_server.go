package jobs

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/attendance/internal/platform/httpx"
	"github.com/odyssey-erp/attendance/internal/shared"
)

// Worker wraps the Asynq server and optional scheduler.
type Worker struct {
	server    *asynq.Server
	mux       *asynq.ServeMux
	scheduler *asynq.Scheduler
	logger    *slog.Logger
}

// TaskHandler allows injecting custom Asynq handlers during worker setup.
type TaskHandler struct {
	Type    string
	Handler asynq.HandlerFunc
}

// CronRegistration wires a cron expression to a prepared task.
type CronRegistration struct {
	Spec    string
	Task    *asynq.Task
	Options []asynq.Option
}

// WorkerConfig collects dependencies required to bootstrap the worker.
type WorkerConfig struct {
	RedisOpts   asynq.RedisClientOpt
	Logger      *slog.Logger
	Concurrency int
	// Location is the organisation time zone cron specs are evaluated in.
	Location    *time.Location
	Handlers    []TaskHandler
	Cron        []CronRegistration
}

// NewWorker constructs a Worker instance.
func NewWorker(cfg WorkerConfig) (*Worker, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 5
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	srv := asynq.NewServer(cfg.RedisOpts, asynq.Config{
		Concurrency: cfg.Concurrency,
		Queues: map[string]int{
			QueueDefault: 1,
		},
	})
	mux := asynq.NewServeMux()
	for _, h := range cfg.Handlers {
		if h.Type == "" || h.Handler == nil {
			continue
		}
		mux.HandleFunc(h.Type, h.Handler)
	}

	var scheduler *asynq.Scheduler
	if len(cfg.Cron) > 0 {
		scheduler = asynq.NewScheduler(cfg.RedisOpts, &asynq.SchedulerOpts{Location: cfg.Location})
		for _, entry := range cfg.Cron {
			if entry.Spec == "" || entry.Task == nil {
				continue
			}
			id, err := scheduler.Register(entry.Spec, entry.Task, entry.Options...)
			if err != nil {
				return nil, err
			}
			cfg.Logger.Info("cron registered",
				slog.String("entry_id", id),
				slog.String("task", entry.Task.Type()),
				slog.String("spec", entry.Spec),
				slog.String("location", cfg.Location.String()),
			)
		}
	}

	return &Worker{server: srv, mux: mux, scheduler: scheduler, logger: cfg.Logger}, nil
}

// Run starts processing jobs until context cancellation.
func (w *Worker) Run(ctx context.Context) error {
	if w == nil {
		return errors.New("worker: not configured")
	}
	if w.scheduler != nil {
		if err := w.scheduler.Start(); err != nil {
			return err
		}
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- w.server.Run(w.mux)
	}()
	select {
	case <-ctx.Done():
		if w.scheduler != nil {
			w.scheduler.Shutdown()
		}
		w.server.Shutdown()
		return ctx.Err()
	case err := <-errCh:
		if w.scheduler != nil {
			w.scheduler.Shutdown()
		}
		return err
	}
}

// Client submits jobs to the queue.
type Client struct {
	client *asynq.Client
}

// NewClient constructs an Asynq client.
func NewClient(redisOpts asynq.RedisClientOpt) (*Client, error) {
	client := asynq.NewClient(redisOpts)
	return &Client{client: client}, nil
}

// EnqueueContext submits a prepared task. It lets the client back a notify.QueueEmitter.
func (c *Client) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	return c.client.EnqueueContext(ctx, task, opts...)
}

// EnqueueDaily enqueues a daily resolution run.
func (c *Client) EnqueueDaily(ctx context.Context, date, trigger string) (*asynq.TaskInfo, error) {
	task, err := NewDailyResolveTask(date, trigger)
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(ctx, task)
}

// EnqueueMonthly enqueues a monthly aggregation run.
func (c *Client) EnqueueMonthly(ctx context.Context, month, trigger string) (*asynq.TaskInfo, error) {
	task, err := NewMonthlyAggregateTask(month, trigger)
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(ctx, task)
}

// Close releases client resources.
func (c *Client) Close() error {
	return c.client.Close()
}

// BatchEnqueuer submits manual batch runs.
type BatchEnqueuer interface {
	EnqueueDaily(ctx context.Context, date, trigger string) (*asynq.TaskInfo, error)
	EnqueueMonthly(ctx context.Context, month, trigger string) (*asynq.TaskInfo, error)
}

// QueueInspector reports queue depth.
type QueueInspector interface {
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
}

// Handler exposes HTTP endpoints for job observability and manual runs.
type Handler struct {
	inspector QueueInspector
	logs      JobLogStore
	enqueuer  BatchEnqueuer
	logger    *slog.Logger
}

// NewHandler constructs an HTTP handler for jobs endpoints.
func NewHandler(inspector QueueInspector, logs JobLogStore, enqueuer BatchEnqueuer, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{inspector: inspector, logs: logs, enqueuer: enqueuer, logger: logger}
}

// MountRoutes attaches job routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/health", h.health)
	r.Get("/logs", h.listLogs)
	r.Post("/daily", h.enqueueDaily)
	r.Post("/monthly", h.enqueueMonthly)
}

type queueHealth struct {
	Queue   string `json:"queue"`
	Pending int    `json:"pending"`
	Active  int    `json:"active"`
	Retry   int    `json:"retry"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if h.inspector == nil {
		httpx.JSON(w, http.StatusOK, queueHealth{Queue: QueueDefault})
		return
	}
	info, err := h.inspector.GetQueueInfo(QueueDefault)
	if err != nil {
		h.logger.Warn("jobs health", slog.Any("error", err))
		httpx.Problem(w, http.StatusServiceUnavailable, "Unavailable", "queue unavailable")
		return
	}
	out := queueHealth{Queue: QueueDefault}
	if info != nil {
		out = queueHealth{Queue: info.Queue, Pending: info.Pending, Active: info.Active, Retry: info.Retry}
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) listLogs(w http.ResponseWriter, r *http.Request) {
	if h.logs == nil {
		httpx.JSON(w, http.StatusOK, []JobLog{})
		return
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "limit must be a positive integer")
			return
		}
		limit = n
	}
	logs, err := h.logs.List(r.Context(), r.URL.Query().Get("job_type"), limit)
	if err != nil {
		h.logger.Error("list job logs", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if logs == nil {
		logs = []JobLog{}
	}
	httpx.JSON(w, http.StatusOK, logs)
}

type enqueueRequest struct {
	Date  string `json:"date" validate:"omitempty,datetime=2006-01-02|eq=yesterday"`
	Month string `json:"month" validate:"omitempty,datetime=2006-01|eq=previous"`
}

type enqueueResponse struct {
	TaskID string `json:"task_id"`
	Type   string `json:"type"`
	Queue  string `json:"queue"`
}

func (h *Handler) enqueueDaily(w http.ResponseWriter, r *http.Request) {
	h.enqueue(w, r, func(ctx context.Context, req enqueueRequest) (*asynq.TaskInfo, error) {
		return h.enqueuer.EnqueueDaily(ctx, req.Date, TriggerManual)
	})
}

func (h *Handler) enqueueMonthly(w http.ResponseWriter, r *http.Request) {
	h.enqueue(w, r, func(ctx context.Context, req enqueueRequest) (*asynq.TaskInfo, error) {
		return h.enqueuer.EnqueueMonthly(ctx, req.Month, TriggerManual)
	})
}

func (h *Handler) enqueue(w http.ResponseWriter, r *http.Request, submit func(context.Context, enqueueRequest) (*asynq.TaskInfo, error)) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok || !actor.HasAny(shared.RoleHRManager, shared.RoleAdmin) {
		httpx.RespondError(w, shared.ErrForbidden)
		return
	}
	if h.enqueuer == nil {
		httpx.Problem(w, http.StatusServiceUnavailable, "Unavailable", "queue client not configured")
		return
	}
	var req enqueueRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	info, err := submit(r.Context(), req)
	if err != nil {
		h.logger.Error("enqueue batch", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	h.logger.Info("batch enqueued",
		slog.String("task_id", info.ID),
		slog.String("type", info.Type),
		slog.String("actor_id", actor.ID),
	)
	httpx.JSON(w, http.StatusAccepted, enqueueResponse{TaskID: info.ID, Type: info.Type, Queue: info.Queue})
}
