package jobs

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/attendance/internal/shared"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskDailyResolve resolves one date for every active employee.
	TaskDailyResolve = "attendance:daily-resolve"
	// TaskMonthlyAggregate aggregates one month for every active employee.
	TaskMonthlyAggregate = "attendance:monthly-aggregate"

	// DateYesterday resolves to the day before the run in the org time zone.
	DateYesterday = "yesterday"
	// MonthPrevious resolves to the month before the run in the org time zone.
	MonthPrevious = "previous"

	// TriggerSchedule marks cron-initiated runs.
	TriggerSchedule = "schedule"
	// TriggerManual marks runs requested through HTTP or the CLI.
	TriggerManual = "manual"
)

// DailyResolvePayload selects the date to resolve.
type DailyResolvePayload struct {
	Date    string `json:"date"`
	Trigger string `json:"trigger,omitempty"`
}

// MonthlyAggregatePayload selects the month to aggregate.
type MonthlyAggregatePayload struct {
	Month   string `json:"month"`
	Trigger string `json:"trigger,omitempty"`
}

// NewDailyResolveTask constructs an Asynq task for the daily batch.
func NewDailyResolveTask(date, trigger string) (*asynq.Task, error) {
	if date == "" {
		date = DateYesterday
	}
	if date != DateYesterday {
		if _, err := shared.ParseDate(date); err != nil {
			return nil, err
		}
	}
	body, err := json.Marshal(DailyResolvePayload{Date: date, Trigger: trigger})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskDailyResolve, body, asynq.Queue(QueueDefault), asynq.MaxRetry(3)), nil
}

// NewMonthlyAggregateTask constructs an Asynq task for the monthly batch.
func NewMonthlyAggregateTask(month, trigger string) (*asynq.Task, error) {
	if month == "" {
		month = MonthPrevious
	}
	if month != MonthPrevious {
		if _, _, err := shared.MonthRange(month); err != nil {
			return nil, err
		}
	}
	body, err := json.Marshal(MonthlyAggregatePayload{Month: month, Trigger: trigger})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskMonthlyAggregate, body, asynq.Queue(QueueDefault), asynq.MaxRetry(3)), nil
}

// ResolveDate turns a payload date into a calendar date.
func ResolveDate(raw string, now time.Time, loc *time.Location) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == DateYesterday {
		return shared.Yesterday(now, loc), nil
	}
	date, err := shared.ParseDate(raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("jobs: %w", err)
	}
	return date, nil
}

// ResolveMonth turns a payload month into a period code.
func ResolveMonth(raw string, now time.Time, loc *time.Location) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == MonthPrevious {
		if loc == nil {
			loc = time.UTC
		}
		return shared.PreviousMonth(now.In(loc)), nil
	}
	if _, _, err := shared.MonthRange(raw); err != nil {
		return "", fmt.Errorf("jobs: %w", err)
	}
	return raw, nil
}
