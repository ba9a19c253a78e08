package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// TaskTypeDispatch is the asynq task type carrying one event.
const TaskTypeDispatch = "notify:dispatch"

// Event types published by the attendance core.
const (
	TypeLateDetected      = "late_detected"
	TypeAbsenceDetected   = "absence_detected"
	TypeEvidenceConflict  = "evidence_conflict"
	TypeDeductionProposed = "deduction_proposed"
	TypeWarningProposed   = "warning_proposed"
)

// Event is a fire-and-forget notification about a domain fact.
type Event struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	EmployeeID string         `json:"employee_id"`
	Date       string         `json:"date,omitempty"`
	Month      string         `json:"month,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// ProposalStatusType names the event emitted when a proposal reaches status.
func ProposalStatusType(status string) string {
	return "proposal_" + status
}

// Emitter publishes events. Emit must not block on delivery.
type Emitter interface {
	Emit(ctx context.Context, evt Event) error
}

// Discard drops every event.
type Discard struct{}

// Emit implements Emitter.
func (Discard) Emit(context.Context, Event) error { return nil }

// Enqueuer is the subset of *asynq.Client used by QueueEmitter.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// QueueEmitter hands events to the worker queue.
type QueueEmitter struct {
	client Enqueuer
	queue  string
	logger *slog.Logger
	now    func() time.Time
}

// NewQueueEmitter constructs a QueueEmitter.
func NewQueueEmitter(client Enqueuer, queue string, logger *slog.Logger) *QueueEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	if queue == "" {
		queue = "default"
	}
	return &QueueEmitter{client: client, queue: queue, logger: logger, now: time.Now}
}

// NewDispatchTask encodes an event as an asynq task.
func NewDispatchTask(evt Event) (*asynq.Task, error) {
	data, err := json.Marshal(evt)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeDispatch, data, asynq.MaxRetry(3)), nil
}

// Emit fills in identity fields and enqueues the event.
func (e *QueueEmitter) Emit(ctx context.Context, evt Event) error {
	if e == nil || e.client == nil {
		return errors.New("notify: emitter not configured")
	}
	if evt.Type == "" {
		return errors.New("notify: event type required")
	}
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = e.now().UTC()
	}
	task, err := NewDispatchTask(evt)
	if err != nil {
		return err
	}
	if _, err := e.client.EnqueueContext(ctx, task, asynq.Queue(e.queue)); err != nil {
		return fmt.Errorf("notify: enqueue %s: %w", evt.Type, err)
	}
	e.logger.Debug("event queued", slog.String("type", evt.Type), slog.String("employee_id", evt.EmployeeID), slog.String("event_id", evt.ID))
	return nil
}

// Dispatcher consumes notify:dispatch tasks. Delivery to people is handled
// downstream, so dispatching records the event in the log stream.
type Dispatcher struct {
	logger *slog.Logger
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{logger: logger.With(slog.String("component", "notify"))}
}

// Handle processes one dispatch task.
func (d *Dispatcher) Handle(ctx context.Context, t *asynq.Task) error {
	var evt Event
	if err := json.Unmarshal(t.Payload(), &evt); err != nil {
		d.logger.Warn("discarding malformed event", slog.Any("error", err))
		return asynq.SkipRetry
	}
	attrs := []any{
		slog.String("event_id", evt.ID),
		slog.String("type", evt.Type),
		slog.String("employee_id", evt.EmployeeID),
		slog.Time("occurred_at", evt.OccurredAt),
	}
	if evt.Date != "" {
		attrs = append(attrs, slog.String("date", evt.Date))
	}
	if evt.Month != "" {
		attrs = append(attrs, slog.String("month", evt.Month))
	}
	if len(evt.Payload) > 0 {
		attrs = append(attrs, slog.Any("payload", evt.Payload))
	}
	d.logger.InfoContext(ctx, "notification dispatched", attrs...)
	return nil
}
