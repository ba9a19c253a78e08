package attendance

import (
	"context"
	"errors"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/attendance/internal/shared"
)

type stubLedger struct {
	employees   map[string]Employee
	schedule    *WorkSchedule
	holidays    []Holiday
	leaves      []Leave
	missions    []Mission
	permissions []Permission
	punches     []Punch

	holidayLocation string
	punchFrom       time.Time
	punchTo         time.Time
}

func (s *stubLedger) Employee(_ context.Context, id string) (Employee, error) {
	emp, ok := s.employees[id]
	if !ok {
		return Employee{}, shared.ErrNotFound
	}
	return emp, nil
}

func (s *stubLedger) ActiveEmployees(context.Context) ([]Employee, error) {
	out := make([]Employee, 0, len(s.employees))
	for _, e := range s.employees {
		out = append(out, e)
	}
	return out, nil
}

func (s *stubLedger) ScheduleFor(context.Context, string, time.Time) (WorkSchedule, error) {
	if s.schedule == nil {
		return WorkSchedule{}, shared.ErrNotFound
	}
	return *s.schedule, nil
}

func (s *stubLedger) HolidaysOn(_ context.Context, location string, _ time.Time) ([]Holiday, error) {
	s.holidayLocation = location
	return s.holidays, nil
}

func (s *stubLedger) ApprovedLeaves(context.Context, string, time.Time) ([]Leave, error) {
	return s.leaves, nil
}

func (s *stubLedger) ApprovedMissions(context.Context, string, time.Time) ([]Mission, error) {
	return s.missions, nil
}

func (s *stubLedger) ApprovedPermissions(context.Context, string, time.Time) ([]Permission, error) {
	return s.permissions, nil
}

func (s *stubLedger) Punches(_ context.Context, _ string, from, to time.Time) ([]Punch, error) {
	s.punchFrom, s.punchTo = from, to
	return append([]Punch(nil), s.punches...), nil
}

func newStubCollector(l *stubLedger, now time.Time) *Collector {
	c := NewCollector(Sources{
		Directory:   l,
		Schedules:   l,
		Calendar:    l,
		Leaves:      l,
		Missions:    l,
		Permissions: l,
		Punches:     l,
	})
	c.WithNow(func() time.Time { return now })
	return c
}

func TestCollectorUnknownEmployee(t *testing.T) {
	c := newStubCollector(&stubLedger{}, monday)
	_, err := c.Collect(context.Background(), "ghost", monday)
	require.ErrorIs(t, err, ErrEmployeeNotFound)
}

func TestCollectorFallsBackToDefaultSchedule(t *testing.T) {
	l := &stubLedger{employees: map[string]Employee{"emp-1": {ID: "emp-1", Location: "JKT", Active: true}}}
	c := newStubCollector(l, monday.AddDate(0, 0, 1))

	ev, err := c.Collect(context.Background(), "emp-1", monday.Add(13*time.Hour))
	require.NoError(t, err)
	require.Equal(t, "default", ev.Schedule.ID)
	require.Equal(t, "JKT", ev.Schedule.Location)
	require.Equal(t, "JKT", l.holidayLocation)
	require.Equal(t, monday, ev.Date)
	require.True(t, ev.Elapsed)
}

func TestCollectorLocalisesPunchesAndSortsEvidence(t *testing.T) {
	schedule := DefaultSchedule()
	schedule.ID = "jkt-office"
	schedule.TimeZone = "Asia/Jakarta"
	schedule.Location = "JKT"
	l := &stubLedger{
		employees: map[string]Employee{"emp-1": {ID: "emp-1", Active: true}},
		schedule:  &schedule,
		holidays: []Holiday{
			{ID: "H2", Kind: HolidayManual},
			{ID: "H9", Kind: HolidayOfficial},
		},
		leaves: []Leave{{ID: "L2"}, {ID: "L1"}},
		punches: []Punch{
			{ID: "p2", Kind: PunchOut, At: time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)},
			{ID: "p1", Kind: PunchIn, At: time.Date(2024, 3, 4, 1, 10, 0, 0, time.UTC)},
		},
	}
	c := newStubCollector(l, time.Date(2024, 3, 4, 16, 0, 0, 0, time.UTC))

	ev, err := c.Collect(context.Background(), "emp-1", monday)
	require.NoError(t, err)
	require.False(t, ev.Elapsed, "23:00 in Jakarta is still the same day")

	require.Equal(t, time.Date(2024, 3, 3, 17, 0, 0, 0, time.UTC), l.punchFrom)
	require.Equal(t, time.Date(2024, 3, 4, 17, 0, 0, 0, time.UTC), l.punchTo)

	require.Len(t, ev.Punches, 2)
	require.Equal(t, "p1", ev.Punches[0].ID)
	require.Equal(t, MustClock("08:10"), ev.Punches[0].Local)
	require.Equal(t, MustClock("16:00"), ev.Punches[1].Local)
	require.Equal(t, "H9", ev.Holidays[0].ID)
	require.Equal(t, "L1", ev.Leaves[0].ID)

	c.WithNow(func() time.Time { return time.Date(2024, 3, 4, 17, 0, 0, 0, time.UTC) })
	ev, err = c.Collect(context.Background(), "emp-1", monday)
	require.NoError(t, err)
	require.True(t, ev.Elapsed)
}

type failingSchedules struct{}

func (failingSchedules) ScheduleFor(context.Context, string, time.Time) (WorkSchedule, error) {
	return WorkSchedule{}, errors.New("schedules offline")
}

func TestCollectorPropagatesSourceErrors(t *testing.T) {
	l := &stubLedger{employees: map[string]Employee{"emp-1": {ID: "emp-1"}}}
	c := newStubCollector(l, monday)
	c.src.Schedules = failingSchedules{}

	_, err := c.Collect(context.Background(), "emp-1", monday)
	require.EqualError(t, err, "schedules offline")
}

func TestClockString(t *testing.T) {
	require.Equal(t, "08:05", MustClock("08:05").String())
	require.Equal(t, "25:30", Clock(25*60+30).String())
	require.Equal(t, "-00:15", Clock(-15).String())
}
