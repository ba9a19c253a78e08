package attendance

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// rule is one step of the precedence chain. claim reports the evidence
// records that would make the rule fire; decide is only invoked for the
// first rule that claims the date.
type rule struct {
	name   string
	claim  func(ev Evidence) []Reference
	decide func(ev Evidence, refs []Reference, d *Decision) error
}

// precedence is evaluated top to bottom; the first claiming rule wins.
var precedence = []rule{
	{name: "weekend", claim: claimWeekend, decide: decideWeekend},
	{name: "holiday", claim: claimHoliday, decide: decideHoliday},
	{name: "leave", claim: claimLeave, decide: decideLeave},
	{name: "mission", claim: claimMission, decide: decideMission},
	{name: "full_day_permission", claim: claimFullPermission, decide: decideFullPermission},
	{name: "attendance", claim: claimAttendance, decide: decideAttendance},
}

// Resolve maps one evidence bundle to exactly one decision. It is a pure
// function: identical evidence yields an identical decision and trace.
func Resolve(ev Evidence) (Decision, error) {
	normalizeEvidence(&ev)
	var d Decision
	d.Trace.add("evidence", OutcomeCompared, "employee=%s date=%s weekday=%s elapsed=%t schedule=%s",
		ev.EmployeeID, ev.Date.Format("2006-01-02"), ev.Date.Weekday(), ev.Elapsed, ev.Schedule.ID)

	var winner string
	for _, r := range precedence {
		if winner != "" && r.name == "attendance" {
			break
		}
		refs := r.claim(ev)
		if len(refs) == 0 {
			if winner == "" {
				d.Trace.add(r.name, OutcomeSkipped, "no matching evidence")
			}
			continue
		}
		if winner != "" {
			d.Trace.add(r.name, OutcomeOverridden, "%s also covers the date; %s takes precedence", joinRefs(refs), winner)
			continue
		}
		if len(refs) > 1 && r.name != "attendance" && r.name != "holiday" {
			detail := fmt.Sprintf("%s all claim the date; applying %s", joinRefs(refs), refs[0])
			d.Conflicts = append(d.Conflicts, Conflict{Rule: r.name, Detail: detail})
			d.Trace.add(r.name, OutcomeConflict, "%s", detail)
		}
		if err := r.decide(ev, refs, &d); err != nil {
			return Decision{}, err
		}
		winner = r.name
	}
	return d, nil
}

func joinRefs(refs []Reference) string {
	parts := make([]string, len(refs))
	for i, r := range refs {
		parts[i] = r.String()
	}
	return strings.Join(parts, ",")
}

func claimWeekend(ev Evidence) []Reference {
	if ev.Schedule.IsWorkDay(ev.Date.Weekday()) {
		return nil
	}
	return []Reference{{Kind: SourceCalendar, ID: "weekend"}}
}

func decideWeekend(ev Evidence, _ []Reference, d *Decision) error {
	d.Status = StatusWeekend
	d.ReasonCode = ReasonWeekend
	d.Source = SourceCalendar
	d.Reason = fmt.Sprintf("%s is not a work day", ev.Date.Weekday())
	d.RequiredHours, d.ActualHours = decimal.Zero, decimal.Zero
	d.Trace.add("weekend", OutcomeFired, "weekday=%s work_days=%s", ev.Date.Weekday(), formatWeekdays(ev.Schedule.WorkDays))
	return nil
}

func claimHoliday(ev Evidence) []Reference {
	refs := make([]Reference, 0, len(ev.Holidays))
	for _, h := range ev.Holidays {
		refs = append(refs, Reference{Kind: SourceCalendar, ID: h.ID})
	}
	return refs
}

func decideHoliday(ev Evidence, _ []Reference, d *Decision) error {
	h := ev.Holidays[0]
	d.Status = StatusHoliday
	d.ReasonCode = ReasonOfficialHoliday
	if h.Kind == HolidayManual {
		d.ReasonCode = ReasonManualHoliday
	}
	d.Source = SourceCalendar
	d.Ref = Reference{Kind: SourceCalendar, ID: h.ID}
	d.Reason = fmt.Sprintf("holiday: %s", h.Name)
	d.RequiredHours, d.ActualHours = decimal.Zero, decimal.Zero
	d.Trace.add("holiday", OutcomeFired, "holiday %s (%s) %q", h.ID, h.Kind, h.Name)
	return nil
}

func claimLeave(ev Evidence) []Reference {
	var refs []Reference
	for _, l := range ev.Leaves {
		if covers(l.From, l.To, ev.Date) {
			refs = append(refs, Reference{Kind: SourceLeave, ID: l.ID})
		}
	}
	return refs
}

func decideLeave(ev Evidence, refs []Reference, d *Decision) error {
	var leave Leave
	for _, l := range ev.Leaves {
		if l.ID == refs[0].ID {
			leave = l
			break
		}
	}
	d.Status = StatusOnLeave
	d.ReasonCode = ReasonLeave
	if leave.Category == LeaveAdministrative {
		d.Status = StatusOnAdminLeave
		d.ReasonCode = ReasonAdminLeave
	}
	d.Source = SourceLeave
	d.Ref = refs[0]
	d.Reason = fmt.Sprintf("approved %s leave", strings.ToLower(string(leave.Category)))
	creditRequired(ev, d)
	d.Trace.add("leave", OutcomeFired, "leave %s category=%s span=%s..%s", leave.ID, leave.Category, leave.From.Format("2006-01-02"), leave.To.Format("2006-01-02"))
	return nil
}

func claimMission(ev Evidence) []Reference {
	var refs []Reference
	for _, m := range ev.Missions {
		if covers(m.From, m.To, ev.Date) {
			refs = append(refs, Reference{Kind: SourceMission, ID: m.ID})
		}
	}
	return refs
}

func decideMission(ev Evidence, refs []Reference, d *Decision) error {
	var mission Mission
	for _, m := range ev.Missions {
		if m.ID == refs[0].ID {
			mission = m
			break
		}
	}
	d.Status = StatusOnMission
	d.ReasonCode = ReasonMission
	d.Source = SourceMission
	d.Ref = refs[0]
	d.Reason = fmt.Sprintf("approved mission to %s", mission.Destination)
	creditRequired(ev, d)
	d.Trace.add("mission", OutcomeFired, "mission %s span=%s..%s", mission.ID, mission.From.Format("2006-01-02"), mission.To.Format("2006-01-02"))
	return nil
}

func claimFullPermission(ev Evidence) []Reference {
	var refs []Reference
	for _, p := range ev.Permissions {
		if p.Kind == PermissionFullDay {
			refs = append(refs, Reference{Kind: SourcePermission, ID: p.ID})
		}
	}
	return refs
}

func decideFullPermission(ev Evidence, refs []Reference, d *Decision) error {
	d.Status = StatusPermission
	d.ReasonCode = ReasonFullPermission
	d.Source = SourcePermission
	d.Ref = refs[0]
	d.Reason = "approved full-day permission"
	creditRequired(ev, d)
	d.PermissionHours = ev.Schedule.RequiredHours
	d.PermissionMinutes = int(ev.Schedule.RequiredHours.Mul(decimal.NewFromInt(60)).IntPart())
	d.Trace.add("full_day_permission", OutcomeFired, "permission %s covers the whole day", refs[0].ID)
	return nil
}

func claimAttendance(Evidence) []Reference {
	return []Reference{{Kind: SourceAttendance}}
}

// severity ranks attendance outcomes; the highest rank becomes the headline status.
var severity = map[Status]int{
	StatusPresent:      0,
	StatusEarlyExcused: 1,
	StatusLateExcused:  2,
	StatusEarlyLeave:   3,
	StatusLate:         4,
	StatusAbsent:       5,
}

func decideAttendance(ev Evidence, _ []Reference, d *Decision) error {
	s := ev.Schedule
	d.Source = SourceAttendance
	d.RequiredHours = s.RequiredHours
	d.ActualHours = decimal.Zero

	if len(ev.Punches) == 0 {
		if !ev.Elapsed {
			return ErrDayInProgress
		}
		d.Status = StatusAbsent
		d.ReasonCode = ReasonNoPunches
		d.Reason = "no attendance punches on an elapsed work day"
		d.Trace.add("attendance", OutcomeFired, "punches=0 elapsed=true -> %s", StatusAbsent)
		return nil
	}

	in, out, hasOut := pickPunches(ev.Punches)
	for _, p := range ev.Punches {
		d.PunchIDs = append(d.PunchIDs, p.ID)
	}
	checkIn := in.At
	d.CheckIn = &checkIn
	if !hasOut && ev.Elapsed {
		out, hasOut = in, true
		d.Trace.add("attendance", OutcomeCompared, "check-out missing; last punch %s used as check-out", in.Local)
	}
	if hasOut {
		checkOut := out.At
		d.CheckOut = &checkOut
	}

	headline := StatusPresent
	code := ReasonOnTime
	reasons := []string{}
	raise := func(st Status, rc ReasonCode) {
		if severity[st] > severity[headline] {
			headline, code = st, rc
		}
	}

	// Grace minutes count as worked when the check-in or check-out is within
	// tolerance or the lateness beyond it is excused.
	graceIn, graceOut := 0, 0
	lateThreshold := s.Start + Clock(s.CheckInGrace)
	if in.Local > s.Start && in.Local <= lateThreshold {
		graceIn = int(in.Local - s.Start)
	}
	if in.Local > lateThreshold {
		d.LateMinutes = int(in.Local - lateThreshold)
		if p, ok := coveringPermission(ev.Permissions, lateThreshold, in.Local); ok {
			d.PermissionMinutes += d.LateMinutes
			graceIn = s.CheckInGrace
			d.Ref = Reference{Kind: SourcePermission, ID: p.ID}
			raise(StatusLateExcused, ReasonLateExcused)
			d.Trace.add("attendance", OutcomeCompared, "check_in=%s threshold=%s (start %s + grace %dm) late=%dm excused_by=%s", in.Local, lateThreshold, s.Start, s.CheckInGrace, d.LateMinutes, p.ID)
			reasons = append(reasons, fmt.Sprintf("late %dm excused by permission %s", d.LateMinutes, p.ID))
		} else {
			raise(StatusLate, ReasonLate)
			d.Trace.add("attendance", OutcomeCompared, "check_in=%s threshold=%s (start %s + grace %dm) late=%dm", in.Local, lateThreshold, s.Start, s.CheckInGrace, d.LateMinutes)
			reasons = append(reasons, fmt.Sprintf("late %dm", d.LateMinutes))
		}
	} else {
		d.Trace.add("attendance", OutcomeCompared, "check_in=%s threshold=%s (start %s + grace %dm) on time", in.Local, lateThreshold, s.Start, s.CheckInGrace)
	}

	if !hasOut {
		d.Trace.add("attendance", OutcomeSkipped, "check-out pending; early-leave not evaluated")
	} else {
		earlyThreshold := s.End - Clock(s.CheckOutGrace)
		if out.Local < s.End && out.Local >= earlyThreshold {
			graceOut = int(s.End - out.Local)
		}
		if out.Local < earlyThreshold {
			d.EarlyLeaveMinutes = int(earlyThreshold - out.Local)
			if p, ok := coveringPermission(ev.Permissions, out.Local, earlyThreshold); ok {
				d.PermissionMinutes += d.EarlyLeaveMinutes
				graceOut = s.CheckOutGrace
				if d.Ref.ID == "" {
					d.Ref = Reference{Kind: SourcePermission, ID: p.ID}
				}
				raise(StatusEarlyExcused, ReasonEarlyExcused)
				d.Trace.add("attendance", OutcomeCompared, "check_out=%s threshold=%s (end %s - grace %dm) early=%dm excused_by=%s", out.Local, earlyThreshold, s.End, s.CheckOutGrace, d.EarlyLeaveMinutes, p.ID)
				reasons = append(reasons, fmt.Sprintf("left %dm early, excused by permission %s", d.EarlyLeaveMinutes, p.ID))
			} else {
				raise(StatusEarlyLeave, ReasonEarly)
				d.Trace.add("attendance", OutcomeCompared, "check_out=%s threshold=%s (end %s - grace %dm) early=%dm", out.Local, earlyThreshold, s.End, s.CheckOutGrace, d.EarlyLeaveMinutes)
				reasons = append(reasons, fmt.Sprintf("left %dm early", d.EarlyLeaveMinutes))
			}
		} else {
			d.Trace.add("attendance", OutcomeCompared, "check_out=%s threshold=%s (end %s - grace %dm) not early", out.Local, earlyThreshold, s.End, s.CheckOutGrace)
		}

		worked := overlap(in.Local, out.Local, s.Start, s.End)
		extra := 0
		if out.Local > s.End {
			extra = int(out.Local - maxClock(s.End, in.Local))
		}
		actual := minutesToHours(worked + graceIn + graceOut + d.PermissionMinutes)
		if actual.GreaterThan(s.RequiredHours) {
			actual = s.RequiredHours
		}
		d.ActualHours = actual
		d.CompensationHours = minutesToHours(extra)
		d.Trace.add("attendance", OutcomeCompared, "worked=%dm within %s-%s grace=%dm permission=%dm additional_stay=%dm", worked, s.Start, s.End, graceIn+graceOut, d.PermissionMinutes, extra)
	}
	d.PermissionHours = minutesToHours(d.PermissionMinutes)

	d.Status = headline
	d.ReasonCode = code
	if len(reasons) == 0 {
		d.Reason = "punches within tolerance"
	} else {
		d.Reason = strings.Join(reasons, "; ")
	}
	d.Trace.add("attendance", OutcomeFired, "late=%dm early=%dm -> %s", d.LateMinutes, d.EarlyLeaveMinutes, headline)
	return nil
}

// pickPunches selects check-in (earliest IN, else earliest punch) and
// check-out (latest OUT after check-in, else latest later punch).
func pickPunches(punches []Punch) (in Punch, out Punch, hasOut bool) {
	in = punches[0]
	for _, p := range punches {
		if p.Kind == PunchIn {
			in = p
			break
		}
	}
	for i := len(punches) - 1; i >= 0; i-- {
		p := punches[i]
		if p.Kind == PunchOut && p.At.After(in.At) {
			return in, p, true
		}
	}
	last := punches[len(punches)-1]
	if last.At.After(in.At) {
		return in, last, true
	}
	return in, Punch{}, false
}

func coveringPermission(perms []Permission, from, to Clock) (Permission, bool) {
	for _, p := range perms {
		if p.Covers(from, to) {
			return p, true
		}
	}
	return Permission{}, false
}

func creditRequired(ev Evidence, d *Decision) {
	d.RequiredHours = ev.Schedule.RequiredHours
	d.ActualHours = ev.Schedule.RequiredHours
}

func covers(from, to, date time.Time) bool {
	return !date.Before(dayOnly(from)) && !date.After(dayOnly(to))
}

func dayOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func overlap(aStart, aEnd, bStart, bEnd Clock) int {
	start := maxClock(aStart, bStart)
	end := aEnd
	if bEnd < end {
		end = bEnd
	}
	if end <= start {
		return 0
	}
	return int(end - start)
}

func maxClock(a, b Clock) Clock {
	if a > b {
		return a
	}
	return b
}

func formatWeekdays(days []time.Weekday) string {
	if len(days) == 0 {
		return "none"
	}
	parts := make([]string, len(days))
	for i, d := range days {
		parts[i] = d.String()[:3]
	}
	return strings.Join(parts, ",")
}
