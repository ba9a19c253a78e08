package monthly

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/attendance/internal/attendance"
	"github.com/odyssey-erp/attendance/internal/shared"
)

func date(day int) time.Time {
	return time.Date(2024, 3, day, 0, 0, 0, 0, time.UTC)
}

func hours(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func resolved(d time.Time, status attendance.Status, required, actual string) attendance.DailyStatus {
	return attendance.DailyStatus{
		EmployeeID:        "emp-1",
		Date:              d,
		Status:            status,
		RequiredHours:     hours(required),
		ActualHours:       hours(actual),
		CompensationHours: decimal.Zero,
		PermissionHours:   decimal.Zero,
	}
}

func TestFoldTotalsAndCounters(t *testing.T) {
	late := resolved(date(5), attendance.StatusLate, "8", "7.5")
	late.LateMinutes = 15
	early := resolved(date(12), attendance.StatusEarlyExcused, "8", "8")
	early.EarlyLeaveMinutes = 30
	early.PermissionHours = hours("0.5")
	overtime := resolved(date(11), attendance.StatusPresent, "8", "8")
	overtime.CompensationHours = hours("2")

	days := []attendance.DailyStatus{
		resolved(date(4), attendance.StatusPresent, "8", "8"),
		late,
		resolved(date(6), attendance.StatusAbsent, "8", "0"),
		resolved(date(7), attendance.StatusOnLeave, "8", "8"),
		resolved(date(8), attendance.StatusHoliday, "0", "0"),
		resolved(date(9), attendance.StatusWeekend, "0", "0"),
		resolved(date(10), attendance.StatusWeekend, "0", "0"),
		overtime,
		early,
		resolved(time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC), attendance.StatusAbsent, "8", "0"),
	}

	mh, err := Fold("emp-1", "2024-03", days, hours("8"))
	require.NoError(t, err)
	require.Equal(t, Counters{
		WorkingDays:       7,
		PresentDays:       4,
		AbsentDays:        1,
		LeaveDays:         1,
		HolidayDays:       1,
		WeekendDays:       2,
		LateCount:         1,
		LateMinutes:       15,
		EarlyLeaveCount:   1,
		EarlyLeaveMinutes: 30,
	}, mh.Counters)
	require.True(t, hours("48").Equal(mh.RequiredHours))
	require.True(t, hours("39.5").Equal(mh.ActualHours))
	require.True(t, hours("2").Equal(mh.CompensationHours))
	require.True(t, hours("0.5").Equal(mh.PermissionHours))
	require.True(t, hours("-6.5").Equal(mh.NetHours))
	require.True(t, hours("6.5").Equal(mh.DeficitHours))
	require.True(t, hours("0.81").Equal(mh.DeficitDays))
	require.Equal(t, []time.Time{date(6)}, mh.AbsentDates)
	require.Equal(t, date(12), mh.CoveredThrough)
	require.Equal(t, StateOpen, mh.State)

	require.Len(t, mh.Details, 9)
	for i, d := range mh.Details {
		require.Equal(t, date(4+i), d.Date)
	}
	lateLine := mh.Details[1]
	require.Equal(t, attendance.StatusLate, lateLine.Status)
	require.True(t, hours("8").Equal(lateLine.RequiredHours))
	require.True(t, hours("7.5").Equal(lateLine.ActualHours))
	require.Equal(t, 15, lateLine.LateMinutes)
	earlyLine := mh.Details[8]
	require.Equal(t, attendance.StatusEarlyExcused, earlyLine.Status)
	require.Equal(t, 30, earlyLine.EarlyLeaveMinutes)
	require.True(t, hours("0.5").Equal(earlyLine.PermissionHours))
	require.True(t, hours("2").Equal(mh.Details[7].CompensationHours))
}

func TestFoldTwoUnworkedDaysMakeTwoDeficitDays(t *testing.T) {
	days := []attendance.DailyStatus{
		resolved(date(4), attendance.StatusAbsent, "8", "0"),
		resolved(date(5), attendance.StatusAbsent, "8", "0"),
		resolved(date(6), attendance.StatusPresent, "8", "8"),
	}
	mh, err := Fold("emp-1", "2024-03", days, hours("8"))
	require.NoError(t, err)
	require.True(t, hours("24").Equal(mh.RequiredHours))
	require.True(t, hours("-16").Equal(mh.NetHours))
	require.True(t, hours("16").Equal(mh.DeficitHours))
	require.True(t, hours("2").Equal(mh.DeficitDays))
	require.Equal(t, []time.Time{date(4), date(5)}, mh.AbsentDates)
}

func TestFoldSurplusHasNoDeficit(t *testing.T) {
	day := resolved(date(4), attendance.StatusPresent, "8", "8")
	day.CompensationHours = hours("1.5")
	mh, err := Fold("emp-1", "2024-03", []attendance.DailyStatus{day}, hours("8"))
	require.NoError(t, err)
	require.True(t, hours("1.5").Equal(mh.NetHours))
	require.True(t, mh.DeficitHours.IsZero())
	require.True(t, mh.DeficitDays.IsZero())
}

func TestFoldRejectsBadInput(t *testing.T) {
	_, err := Fold("emp-1", "2024-03", nil, decimal.Zero)
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = Fold("emp-1", "2024-03", []attendance.DailyStatus{resolved(date(4), "BOGUS", "8", "8")}, hours("8"))
	require.Error(t, err)

	twice := []attendance.DailyStatus{
		resolved(date(4), attendance.StatusPresent, "8", "8"),
		resolved(date(4), attendance.StatusAbsent, "8", "0"),
	}
	_, err = Fold("emp-1", "2024-03", twice, hours("8"))
	require.ErrorIs(t, err, shared.ErrValidation)
}

type memRepo struct {
	mu   sync.Mutex
	rows map[string]MonthlyHours
}

func newMemRepo() *memRepo {
	return &memRepo{rows: make(map[string]MonthlyHours)}
}

func (r *memRepo) Get(_ context.Context, employeeID, month string) (MonthlyHours, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	mh, ok := r.rows[employeeID+"/"+month]
	if !ok {
		return MonthlyHours{}, ErrNotFound
	}
	return mh, nil
}

func (r *memRepo) Save(_ context.Context, mh MonthlyHours, expectedVersion int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := mh.EmployeeID + "/" + mh.Month
	stored, ok := r.rows[key]
	switch {
	case expectedVersion == 0 && ok:
		return shared.ErrConcurrentUpdate
	case expectedVersion != 0 && (!ok || stored.Version != expectedVersion):
		return shared.ErrConcurrentUpdate
	}
	r.rows[key] = mh
	return nil
}

type stubDays struct {
	calls      []time.Time
	inProgress time.Time
	misdated   time.Time
}

func (s *stubDays) Ensure(_ context.Context, employeeID string, d time.Time) (attendance.DailyStatus, error) {
	s.calls = append(s.calls, d)
	if !s.inProgress.IsZero() && !d.Before(s.inProgress) {
		return attendance.DailyStatus{}, attendance.ErrDayInProgress
	}
	if d.Equal(s.misdated) {
		return resolved(d.AddDate(0, -1, 0), attendance.StatusPresent, "8", "8"), nil
	}
	switch d.Weekday() {
	case time.Saturday, time.Sunday:
		return resolved(d, attendance.StatusWeekend, "0", "0"), nil
	}
	return resolved(d, attendance.StatusPresent, "8", "8"), nil
}

type stubAudit struct {
	entries []shared.AuditLog
}

func (a *stubAudit) Record(_ context.Context, log shared.AuditLog) error {
	a.entries = append(a.entries, log)
	return nil
}

type stubProposals struct {
	executed bool
}

func (p stubProposals) HasExecuted(context.Context, string, string) (bool, error) {
	return p.executed, nil
}

var (
	hrManager = shared.Actor{ID: "hr-1", Role: shared.RoleHRManager}
	admin     = shared.Actor{ID: "admin-1", Role: shared.RoleAdmin}
)

func newTestService(now time.Time) (*Service, *memRepo, *stubDays, *stubAudit) {
	repo := newMemRepo()
	days := &stubDays{}
	audit := &stubAudit{}
	svc := NewService(repo, days, nil, audit, Config{}, nil)
	svc.WithNow(func() time.Time { return now })
	return svc, repo, days, audit
}

func TestAggregateStopsAtYesterday(t *testing.T) {
	svc, _, days, _ := newTestService(time.Date(2024, 3, 6, 10, 0, 0, 0, time.UTC))

	mh, err := svc.Aggregate(context.Background(), "emp-1", "2024-03")
	require.NoError(t, err)
	require.Len(t, days.calls, 5)
	require.Equal(t, date(5), mh.CoveredThrough)
	require.Equal(t, 3, mh.Counters.PresentDays)
	require.Equal(t, 2, mh.Counters.WeekendDays)
	require.True(t, hours("24").Equal(mh.RequiredHours))
	require.True(t, mh.DeficitHours.IsZero())
	require.Equal(t, 1, mh.Version)

	again, err := svc.Aggregate(context.Background(), "emp-1", "2024-03")
	require.NoError(t, err)
	require.Equal(t, 2, again.Version)
}

func TestAggregateCoversWholePastMonth(t *testing.T) {
	svc, _, days, _ := newTestService(time.Date(2024, 3, 6, 10, 0, 0, 0, time.UTC))

	mh, err := svc.Aggregate(context.Background(), "emp-1", "2024-02")
	require.NoError(t, err)
	require.Len(t, days.calls, 29)
	require.Equal(t, 21, mh.Counters.WorkingDays)
	require.Equal(t, 8, mh.Counters.WeekendDays)
}

func TestAggregateStopsAtDayInProgress(t *testing.T) {
	svc, _, days, _ := newTestService(time.Date(2024, 3, 6, 10, 0, 0, 0, time.UTC))
	days.inProgress = date(5)

	mh, err := svc.Aggregate(context.Background(), "emp-1", "2024-03")
	require.NoError(t, err)
	require.Equal(t, date(4), mh.CoveredThrough)
}

func TestAggregateRejectsCalendarGap(t *testing.T) {
	svc, repo, days, _ := newTestService(time.Date(2024, 3, 8, 10, 0, 0, 0, time.UTC))
	days.misdated = date(5)

	_, err := svc.Aggregate(context.Background(), "emp-1", "2024-03")
	require.ErrorContains(t, err, "folded 6 days")
	require.Empty(t, repo.rows)
}

func TestAggregateSkipsMonthBehindExecutedProposal(t *testing.T) {
	svc, _, days, _ := newTestService(time.Date(2024, 4, 2, 9, 0, 0, 0, time.UTC))
	ctx := context.Background()
	svc.SetProposalGuard(stubProposals{executed: true})

	_, err := svc.Aggregate(ctx, "emp-1", "2024-03")
	require.ErrorIs(t, err, ErrExecutedProposal)
	require.Empty(t, days.calls)

	svc.SetProposalGuard(stubProposals{})
	first, err := svc.Aggregate(ctx, "emp-1", "2024-03")
	require.NoError(t, err)
	require.Equal(t, 1, first.Version)

	svc.SetProposalGuard(stubProposals{executed: true})
	stale, err := svc.Aggregate(ctx, "emp-1", "2024-03")
	require.ErrorIs(t, err, ErrExecutedProposal)
	require.ErrorIs(t, err, shared.ErrLockedRecord)
	require.Equal(t, 1, stale.Version)
	stored, err := svc.Get(ctx, "emp-1", "2024-03")
	require.NoError(t, err)
	require.Equal(t, 1, stored.Version)

	frozen, err := svc.MonthFinalized(ctx, "emp-1", "2024-03")
	require.NoError(t, err)
	require.True(t, frozen)
	frozen, err = svc.MonthFinalized(ctx, "emp-1", "2024-02")
	require.NoError(t, err)
	require.True(t, frozen)
}

func TestAggregateRejectsBadMonth(t *testing.T) {
	svc, _, _, _ := newTestService(time.Now())
	_, err := svc.Aggregate(context.Background(), "emp-1", "March")
	require.ErrorIs(t, err, shared.ErrInvalidPeriod)
	_, err = svc.Get(context.Background(), "emp-1", "2024-3")
	require.ErrorIs(t, err, shared.ErrInvalidPeriod)
}

func TestFinalizeFreezesMonth(t *testing.T) {
	svc, _, _, audit := newTestService(time.Date(2024, 4, 2, 9, 0, 0, 0, time.UTC))
	ctx := context.Background()

	_, err := svc.Finalize(ctx, "emp-1", "2024-03", hrManager)
	require.ErrorIs(t, err, shared.ErrNotFound)

	_, err = svc.Aggregate(ctx, "emp-1", "2024-03")
	require.NoError(t, err)

	_, err = svc.Finalize(ctx, "emp-1", "2024-03", shared.Actor{ID: "sup", Role: shared.RoleSupervisor})
	require.ErrorIs(t, err, ErrRoleNotPermitted)

	mh, err := svc.Finalize(ctx, "emp-1", "2024-03", hrManager)
	require.NoError(t, err)
	require.True(t, mh.Finalized())
	require.Equal(t, "hr-1", mh.FinalizedBy)
	require.NotNil(t, mh.FinalizedAt)
	require.Len(t, audit.entries, 1)
	require.Equal(t, "monthly.finalize", audit.entries[0].Action)
	require.Equal(t, "emp-1/2024-03", audit.entries[0].EntityID)

	frozen, err := svc.MonthFinalized(ctx, "emp-1", "2024-03")
	require.NoError(t, err)
	require.True(t, frozen)

	stale, err := svc.Aggregate(ctx, "emp-1", "2024-03")
	require.ErrorIs(t, err, ErrFinalized)
	require.Equal(t, mh.Version, stale.Version)

	same, err := svc.Finalize(ctx, "emp-1", "2024-03", admin)
	require.NoError(t, err)
	require.Equal(t, mh.Version, same.Version)
	require.Len(t, audit.entries, 1)
}

func TestReopenRules(t *testing.T) {
	svc, _, _, audit := newTestService(time.Date(2024, 4, 2, 9, 0, 0, 0, time.UTC))
	ctx := context.Background()
	_, err := svc.Aggregate(ctx, "emp-1", "2024-03")
	require.NoError(t, err)

	_, err = svc.Reopen(ctx, "emp-1", "2024-03", admin, "fix leave")
	require.ErrorIs(t, err, ErrNotFinalized)

	_, err = svc.Finalize(ctx, "emp-1", "2024-03", hrManager)
	require.NoError(t, err)

	_, err = svc.Reopen(ctx, "emp-1", "2024-03", hrManager, "fix leave")
	require.ErrorIs(t, err, ErrRoleNotPermitted)
	_, err = svc.Reopen(ctx, "emp-1", "2024-03", admin, "  ")
	require.ErrorIs(t, err, shared.ErrValidation)

	svc.SetProposalGuard(stubProposals{executed: true})
	_, err = svc.Reopen(ctx, "emp-1", "2024-03", admin, "fix leave")
	require.ErrorIs(t, err, ErrExecutedProposal)

	svc.SetProposalGuard(stubProposals{})
	mh, err := svc.Reopen(ctx, "emp-1", "2024-03", admin, "fix leave")
	require.NoError(t, err)
	require.Equal(t, StateOpen, mh.State)
	require.Nil(t, mh.FinalizedAt)
	require.Equal(t, 1, mh.ReopenCount)
	require.Equal(t, "monthly.reopen", audit.entries[len(audit.entries)-1].Action)
	require.Equal(t, "fix leave", audit.entries[len(audit.entries)-1].Meta["reason"])

	again, err := svc.Aggregate(ctx, "emp-1", "2024-03")
	require.NoError(t, err)
	require.Equal(t, 1, again.ReopenCount)
}

func TestMonthFinalizedMissingMonth(t *testing.T) {
	svc, _, _, _ := newTestService(time.Now())
	frozen, err := svc.MonthFinalized(context.Background(), "emp-1", "2024-03")
	require.NoError(t, err)
	require.False(t, frozen)
}
