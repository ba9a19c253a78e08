package attendance

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// 2024-03-04 is a Monday.
var monday = time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)

func punchAt(id string, kind PunchKind, date time.Time, clock string) Punch {
	c := MustClock(clock)
	return Punch{ID: id, Kind: kind, At: date.Add(time.Duration(c) * time.Minute), Local: c}
}

func workday(punches ...Punch) Evidence {
	return Evidence{
		EmployeeID: "emp-1",
		Date:       monday,
		Elapsed:    true,
		Schedule:   DefaultSchedule(),
		Punches:    punches,
	}
}

func requireHours(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.True(t, decimal.RequireFromString(want).Equal(got), "want %s hours, got %s", want, got)
}

func stepOutcome(trace Trace, rule string) Outcome {
	for _, step := range trace {
		if step.Rule == rule {
			return step.Outcome
		}
	}
	return ""
}

func TestResolveWeekendWinsOverLowerRules(t *testing.T) {
	saturday := monday.AddDate(0, 0, 5)
	ev := workday(punchAt("p1", PunchIn, saturday, "09:00"))
	ev.Date = saturday
	ev.Leaves = []Leave{{ID: "L1", Category: LeaveAnnual, From: saturday, To: saturday}}

	dec, err := Resolve(ev)
	require.NoError(t, err)
	require.Equal(t, StatusWeekend, dec.Status)
	require.Equal(t, ReasonWeekend, dec.ReasonCode)
	require.Equal(t, SourceCalendar, dec.Source)
	requireHours(t, "0", dec.RequiredHours)
	require.Equal(t, OutcomeOverridden, stepOutcome(dec.Trace, "leave"))
	require.Empty(t, dec.PunchIDs)
}

func TestResolveHolidayBeatsLeave(t *testing.T) {
	ev := workday()
	ev.Holidays = []Holiday{{ID: "H1", Name: "Founders Day", Kind: HolidayOfficial}}
	ev.Leaves = []Leave{{ID: "L1", Category: LeaveAnnual, From: monday, To: monday.AddDate(0, 0, 2)}}

	dec, err := Resolve(ev)
	require.NoError(t, err)
	require.Equal(t, StatusHoliday, dec.Status)
	require.Equal(t, ReasonOfficialHoliday, dec.ReasonCode)
	require.Equal(t, Reference{Kind: SourceCalendar, ID: "H1"}, dec.Ref)
	require.Equal(t, OutcomeFired, stepOutcome(dec.Trace, "holiday"))
	require.Equal(t, OutcomeOverridden, stepOutcome(dec.Trace, "leave"))
	require.Empty(t, dec.Conflicts)
}

func TestResolveOfficialHolidayPreferredOverManual(t *testing.T) {
	ev := workday()
	ev.Holidays = []Holiday{
		{ID: "A-manual", Name: "Office closure", Kind: HolidayManual},
		{ID: "Z-official", Name: "Independence Day", Kind: HolidayOfficial},
	}

	dec, err := Resolve(ev)
	require.NoError(t, err)
	require.Equal(t, ReasonOfficialHoliday, dec.ReasonCode)
	require.Equal(t, "Z-official", dec.Ref.ID)
	require.Empty(t, dec.Conflicts, "several holidays on one date are not a conflict")
}

func TestResolveManualHoliday(t *testing.T) {
	ev := workday()
	ev.Holidays = []Holiday{{ID: "H2", Name: "Office closure", Kind: HolidayManual}}

	dec, err := Resolve(ev)
	require.NoError(t, err)
	require.Equal(t, ReasonManualHoliday, dec.ReasonCode)
}

func TestResolveLeaveCreditsRequiredHours(t *testing.T) {
	ev := workday(punchAt("p1", PunchIn, monday, "08:00"))
	ev.Leaves = []Leave{{ID: "L1", Category: LeaveSick, From: monday.AddDate(0, 0, -1), To: monday}}

	dec, err := Resolve(ev)
	require.NoError(t, err)
	require.Equal(t, StatusOnLeave, dec.Status)
	require.Equal(t, ReasonLeave, dec.ReasonCode)
	require.Equal(t, "approved sick leave", dec.Reason)
	requireHours(t, "8", dec.RequiredHours)
	requireHours(t, "8", dec.ActualHours)
	require.Nil(t, dec.CheckIn, "punches are not evaluated when leave wins")
}

func TestResolveAdministrativeLeave(t *testing.T) {
	ev := workday()
	ev.Leaves = []Leave{{ID: "L1", Category: LeaveAdministrative, From: monday, To: monday}}

	dec, err := Resolve(ev)
	require.NoError(t, err)
	require.Equal(t, StatusOnAdminLeave, dec.Status)
	require.Equal(t, ReasonAdminLeave, dec.ReasonCode)
}

func TestResolveLeaveConflictPicksLowestID(t *testing.T) {
	ev := workday()
	ev.Leaves = []Leave{
		{ID: "L2", Category: LeaveAnnual, From: monday, To: monday},
		{ID: "L1", Category: LeaveSick, From: monday, To: monday},
	}

	dec, err := Resolve(ev)
	require.NoError(t, err)
	require.Equal(t, Reference{Kind: SourceLeave, ID: "L1"}, dec.Ref)
	require.Len(t, dec.Conflicts, 1)
	require.Equal(t, "leave", dec.Conflicts[0].Rule)
	require.Contains(t, dec.Conflicts[0].Detail, "leave:L1,leave:L2")
	require.Equal(t, OutcomeConflict, stepOutcome(dec.Trace, "leave"))
}

func TestResolveLeaveOutsideSpanIgnored(t *testing.T) {
	ev := workday()
	ev.Leaves = []Leave{{ID: "L1", Category: LeaveAnnual, From: monday.AddDate(0, 0, 1), To: monday.AddDate(0, 0, 3)}}

	dec, err := Resolve(ev)
	require.NoError(t, err)
	require.Equal(t, StatusAbsent, dec.Status)
	require.Equal(t, OutcomeSkipped, stepOutcome(dec.Trace, "leave"))
}

func TestResolveMission(t *testing.T) {
	ev := workday()
	ev.Missions = []Mission{{ID: "M1", Destination: "Surabaya", From: monday, To: monday}}

	dec, err := Resolve(ev)
	require.NoError(t, err)
	require.Equal(t, StatusOnMission, dec.Status)
	require.Equal(t, "approved mission to Surabaya", dec.Reason)
	requireHours(t, "8", dec.ActualHours)
}

func TestResolveFullDayPermission(t *testing.T) {
	ev := workday()
	ev.Permissions = []Permission{{ID: "P1", Kind: PermissionFullDay}}

	dec, err := Resolve(ev)
	require.NoError(t, err)
	require.Equal(t, StatusPermission, dec.Status)
	require.Equal(t, ReasonFullPermission, dec.ReasonCode)
	require.Equal(t, 480, dec.PermissionMinutes)
	requireHours(t, "8", dec.PermissionHours)
}

func TestResolveAbsentOnElapsedDayWithoutPunches(t *testing.T) {
	dec, err := Resolve(workday())
	require.NoError(t, err)
	require.Equal(t, StatusAbsent, dec.Status)
	require.Equal(t, ReasonNoPunches, dec.ReasonCode)
	requireHours(t, "8", dec.RequiredHours)
	requireHours(t, "0", dec.ActualHours)
}

func TestResolveDayInProgress(t *testing.T) {
	ev := workday()
	ev.Elapsed = false

	_, err := Resolve(ev)
	require.ErrorIs(t, err, ErrDayInProgress)
}

func TestResolveAttendance(t *testing.T) {
	tests := []struct {
		name        string
		punches     []Punch
		permissions []Permission
		status      Status
		reason      ReasonCode
		late, early int
		actual      string
		comp        string
		permission  string
	}{
		{
			name:    "on time within grace",
			punches: []Punch{punchAt("p1", PunchIn, monday, "08:10"), punchAt("p2", PunchOut, monday, "16:00")},
			status:  StatusPresent, reason: ReasonOnTime,
			actual: "8", comp: "0", permission: "0",
		},
		{
			name:    "grace minutes count as worked",
			punches: []Punch{punchAt("p1", PunchIn, monday, "08:05"), punchAt("p2", PunchOut, monday, "16:00")},
			status:  StatusPresent, reason: ReasonOnTime,
			actual: "8", comp: "0", permission: "0",
		},
		{
			name:    "one minute past grace",
			punches: []Punch{punchAt("p1", PunchIn, monday, "08:16"), punchAt("p2", PunchOut, monday, "16:00")},
			status:  StatusLate, reason: ReasonLate, late: 1,
			actual: "7.7333", comp: "0", permission: "0",
		},
		{
			name:        "one minute past grace excused",
			punches:     []Punch{punchAt("p1", PunchIn, monday, "08:16"), punchAt("p2", PunchOut, monday, "16:00")},
			permissions: []Permission{{ID: "P1", Kind: PermissionPartial, From: MustClock("08:15"), To: MustClock("08:30")}},
			status:      StatusLateExcused, reason: ReasonLateExcused, late: 1,
			actual: "8", comp: "0", permission: "0.0167",
		},
		{
			name:    "late after grace",
			punches: []Punch{punchAt("p1", PunchIn, monday, "08:30"), punchAt("p2", PunchOut, monday, "16:00")},
			status:  StatusLate, reason: ReasonLate, late: 15,
			actual: "7.5", comp: "0", permission: "0",
		},
		{
			name:        "late excused by partial permission",
			punches:     []Punch{punchAt("p1", PunchIn, monday, "08:30"), punchAt("p2", PunchOut, monday, "16:00")},
			permissions: []Permission{{ID: "P1", Kind: PermissionPartial, From: MustClock("08:00"), To: MustClock("09:00")}},
			status:      StatusLateExcused, reason: ReasonLateExcused, late: 15,
			actual: "8", comp: "0", permission: "0.25",
		},
		{
			name:    "early leave",
			punches: []Punch{punchAt("p1", PunchIn, monday, "08:00"), punchAt("p2", PunchOut, monday, "15:00")},
			status:  StatusEarlyLeave, reason: ReasonEarly, early: 60,
			actual: "7", comp: "0", permission: "0",
		},
		{
			name:        "early leave excused",
			punches:     []Punch{punchAt("p1", PunchIn, monday, "08:00"), punchAt("p2", PunchOut, monday, "15:00")},
			permissions: []Permission{{ID: "P9", Kind: PermissionPartial, From: MustClock("14:30"), To: MustClock("16:00")}},
			status:      StatusEarlyExcused, reason: ReasonEarlyExcused, early: 60,
			actual: "8", comp: "0", permission: "1",
		},
		{
			name:    "late outranks early leave",
			punches: []Punch{punchAt("p1", PunchIn, monday, "09:00"), punchAt("p2", PunchOut, monday, "15:30")},
			status:  StatusLate, reason: ReasonLate, late: 45, early: 30,
			actual: "6.5", comp: "0", permission: "0",
		},
		{
			name:    "additional stay becomes compensation",
			punches: []Punch{punchAt("p1", PunchIn, monday, "08:00"), punchAt("p2", PunchOut, monday, "18:00")},
			status:  StatusPresent, reason: ReasonOnTime,
			actual: "8", comp: "2", permission: "0",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ev := workday(tc.punches...)
			ev.Permissions = tc.permissions

			dec, err := Resolve(ev)
			require.NoError(t, err)
			require.Equal(t, tc.status, dec.Status)
			require.Equal(t, tc.reason, dec.ReasonCode)
			require.Equal(t, SourceAttendance, dec.Source)
			require.Equal(t, tc.late, dec.LateMinutes)
			require.Equal(t, tc.early, dec.EarlyLeaveMinutes)
			requireHours(t, tc.actual, dec.ActualHours)
			requireHours(t, tc.comp, dec.CompensationHours)
			requireHours(t, tc.permission, dec.PermissionHours)
			require.NotNil(t, dec.CheckIn)
			require.NotNil(t, dec.CheckOut)
			require.Len(t, dec.PunchIDs, len(tc.punches))
		})
	}
}

func TestResolveMissingCheckOutOnElapsedDay(t *testing.T) {
	dec, err := Resolve(workday(punchAt("p1", PunchIn, monday, "08:00")))
	require.NoError(t, err)
	require.NotNil(t, dec.CheckOut)
	require.True(t, dec.CheckIn.Equal(*dec.CheckOut))
	require.Equal(t, StatusEarlyLeave, dec.Status)
	require.Equal(t, 480, dec.EarlyLeaveMinutes)
	requireHours(t, "0", dec.ActualHours)
}

func TestResolveMissingCheckOutWhileDayRuns(t *testing.T) {
	ev := workday(punchAt("p1", PunchIn, monday, "08:00"))
	ev.Elapsed = false

	dec, err := Resolve(ev)
	require.NoError(t, err)
	require.Equal(t, StatusPresent, dec.Status)
	require.Nil(t, dec.CheckOut)
	require.Contains(t, dec.Trace.String(), "early-leave not evaluated")
}

func TestResolveIsDeterministic(t *testing.T) {
	a := workday(punchAt("p1", PunchIn, monday, "08:20"), punchAt("p2", PunchOut, monday, "16:05"))
	a.Permissions = []Permission{
		{ID: "P2", Kind: PermissionPartial, From: MustClock("12:00"), To: MustClock("13:00")},
		{ID: "P1", Kind: PermissionPartial, From: MustClock("08:00"), To: MustClock("08:30")},
	}
	b := workday(punchAt("p2", PunchOut, monday, "16:05"), punchAt("p1", PunchIn, monday, "08:20"))
	b.Permissions = []Permission{a.Permissions[1], a.Permissions[0]}

	first, err := Resolve(a)
	require.NoError(t, err)
	second, err := Resolve(b)
	require.NoError(t, err)
	require.Equal(t, first.Trace.String(), second.Trace.String())
	require.Equal(t, first.Fingerprint(), second.Fingerprint())
	require.Equal(t, Reference{Kind: SourcePermission, ID: "P1"}, first.Ref)
}

func TestFingerprintChangesWithOutcome(t *testing.T) {
	onTime, err := Resolve(workday(punchAt("p1", PunchIn, monday, "08:00"), punchAt("p2", PunchOut, monday, "16:00")))
	require.NoError(t, err)
	late, err := Resolve(workday(punchAt("p1", PunchIn, monday, "08:40"), punchAt("p2", PunchOut, monday, "16:00")))
	require.NoError(t, err)
	require.NotEqual(t, onTime.Fingerprint(), late.Fingerprint())
	require.Len(t, onTime.Fingerprint(), 64)
}

func TestParseClock(t *testing.T) {
	c, err := ParseClock("07:45")
	require.NoError(t, err)
	require.Equal(t, Clock(465), c)
	require.Equal(t, "07:45", c.String())

	for _, raw := range []string{"", "7", "24:00", "08:60", "ab:cd"} {
		_, err := ParseClock(raw)
		require.Error(t, err, raw)
	}
}

func TestParseStatus(t *testing.T) {
	s, ok := ParseStatus(" on_mission ")
	require.True(t, ok)
	require.Equal(t, StatusOnMission, s)

	_, ok = ParseStatus("MISSION")
	require.False(t, ok)
}
