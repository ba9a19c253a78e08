package jobs

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/attendance/internal/attendance"
	"github.com/odyssey-erp/attendance/internal/shared"
)

type memDayStore struct {
	mu      sync.Mutex
	days    map[string]attendance.DailyStatus
	inserts int
	updates int
}

func newMemDayStore() *memDayStore {
	return &memDayStore{days: make(map[string]attendance.DailyStatus)}
}

func storeKey(employeeID string, date time.Time) string {
	return employeeID + "/" + shared.FormatDate(date)
}

func (s *memDayStore) GetDay(_ context.Context, employeeID string, date time.Time) (attendance.DailyStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	day, ok := s.days[storeKey(employeeID, date)]
	if !ok {
		return attendance.DailyStatus{}, fmt.Errorf("%w: %s", attendance.ErrDayNotFound, storeKey(employeeID, date))
	}
	return day, nil
}

func (s *memDayStore) ListDays(context.Context, string, time.Time, time.Time) ([]attendance.DailyStatus, error) {
	return nil, nil
}

func (s *memDayStore) InsertDay(_ context.Context, day attendance.DailyStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := storeKey(day.EmployeeID, day.Date)
	if _, ok := s.days[key]; ok {
		return shared.ErrConcurrentUpdate
	}
	s.days[key] = day
	s.inserts++
	return nil
}

func (s *memDayStore) UpdateDay(_ context.Context, day attendance.DailyStatus, expectedVersion int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := storeKey(day.EmployeeID, day.Date)
	if stored, ok := s.days[key]; !ok || stored.Version != expectedVersion {
		return shared.ErrConcurrentUpdate
	}
	s.days[key] = day
	s.updates++
	return nil
}

func (s *memDayStore) statuses() map[string]attendance.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]attendance.Status, len(s.days))
	for key, day := range s.days {
		out[key] = day.Status
	}
	return out
}

type punchCollector map[string][]attendance.Punch

func (c punchCollector) Collect(_ context.Context, employeeID string, date time.Time) (attendance.Evidence, error) {
	return attendance.Evidence{
		EmployeeID: employeeID,
		Date:       date,
		Elapsed:    true,
		Schedule:   attendance.DefaultSchedule(),
		Punches:    c[employeeID],
	}, nil
}

func punch(id string, kind attendance.PunchKind, date time.Time, clock string) attendance.Punch {
	c := attendance.MustClock(clock)
	return attendance.Punch{ID: id, Kind: kind, At: date.Add(time.Duration(c) * time.Minute), Local: c}
}

func TestDailyResolveJobRerunReconciles(t *testing.T) {
	monday := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	store := newMemDayStore()
	days := attendance.NewService(attendance.ServiceConfig{
		Repo: store,
		Collector: punchCollector{
			"e1": {punch("p1", attendance.PunchIn, monday, "08:40"), punch("p2", attendance.PunchOut, monday, "16:00")},
			"e3": {punch("p3", attendance.PunchIn, monday, "07:55"), punch("p4", attendance.PunchOut, monday, "16:00")},
		},
	})
	days.WithNow(func() time.Time { return fixedNow })

	logs := &memLogStore{}
	job := NewDailyResolveJob(testDeps(staff(), logs), days)
	job.clock = func() time.Time { return fixedNow }

	first, err := job.Run(context.Background(), monday, TriggerManual)
	require.NoError(t, err)
	require.Equal(t, 3, first.ProcessedCount)
	require.Zero(t, first.ErrorCount)
	want := map[string]attendance.Status{
		"e1/2024-03-04": attendance.StatusLate,
		"e2/2024-03-04": attendance.StatusAbsent,
		"e3/2024-03-04": attendance.StatusPresent,
	}
	require.Equal(t, want, store.statuses())

	second, err := job.Run(context.Background(), monday, TriggerManual)
	require.NoError(t, err)
	require.Equal(t, 3, second.ProcessedCount)
	require.Zero(t, second.ErrorCount)
	require.Equal(t, want, store.statuses())
	require.Equal(t, 3, store.inserts)
	require.Zero(t, store.updates)
	for key := range want {
		day := store.days[key]
		require.Equal(t, 1, day.Version, key)
		require.Empty(t, day.Corrections, key)
	}
	require.Len(t, logs.logs, 2)
}
