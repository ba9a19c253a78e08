package attendance

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Outcome describes what happened to a rule during evaluation.
type Outcome string

const (
	OutcomeSkipped    Outcome = "skipped"
	OutcomeFired      Outcome = "fired"
	OutcomeOverridden Outcome = "overridden"
	OutcomeConflict   Outcome = "conflict"
	OutcomeCompared   Outcome = "compared"
)

// TraceStep is one line of the decision trace.
type TraceStep struct {
	Rule    string  `json:"rule"`
	Outcome Outcome `json:"outcome"`
	Detail  string  `json:"detail"`
}

// Trace is the ordered explanation attached to a decision.
type Trace []TraceStep

func (t *Trace) add(rule string, outcome Outcome, format string, args ...any) {
	*t = append(*t, TraceStep{Rule: rule, Outcome: outcome, Detail: fmt.Sprintf(format, args...)})
}

// String renders the trace as stable text.
func (t Trace) String() string {
	var b strings.Builder
	for i, step := range t {
		fmt.Fprintf(&b, "%02d %s [%s] %s\n", i+1, step.Rule, step.Outcome, step.Detail)
	}
	return b.String()
}

// Conflict records several records of one exclusive category claiming a date.
type Conflict struct {
	Rule   string `json:"rule"`
	Detail string `json:"detail"`
}

// Decision is the pure output of the resolver for one evidence bundle.
type Decision struct {
	Status            Status
	ReasonCode        ReasonCode
	Reason            string
	Source            Source
	Ref               Reference
	CheckIn           *time.Time
	CheckOut          *time.Time
	RequiredHours     decimal.Decimal
	ActualHours       decimal.Decimal
	CompensationHours decimal.Decimal
	PermissionHours   decimal.Decimal
	PermissionMinutes int
	LateMinutes       int
	EarlyLeaveMinutes int
	PunchIDs          []string
	Conflicts         []Conflict
	Trace             Trace
}

// Fingerprint hashes every field that is persisted from the decision. Equal
// fingerprints mean recomputation would not change the stored day.
func (d Decision) Fingerprint() string {
	var b strings.Builder
	fmt.Fprintf(&b, "status=%s\nreason=%s|%s\nsource=%s\nref=%s\n", d.Status, d.ReasonCode, d.Reason, d.Source, d.Ref)
	fmt.Fprintf(&b, "in=%s\nout=%s\n", formatInstant(d.CheckIn), formatInstant(d.CheckOut))
	fmt.Fprintf(&b, "hours=%s/%s/%s/%s\n", d.RequiredHours.String(), d.ActualHours.String(), d.CompensationHours.String(), d.PermissionHours.String())
	fmt.Fprintf(&b, "minutes=%d/%d/%d\n", d.PermissionMinutes, d.LateMinutes, d.EarlyLeaveMinutes)
	fmt.Fprintf(&b, "punches=%s\n", strings.Join(d.PunchIDs, ","))
	b.WriteString(d.Trace.String())
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

func formatInstant(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func minutesToHours(minutes int) decimal.Decimal {
	if minutes <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(minutes)).Div(decimal.NewFromInt(60)).Round(4)
}
