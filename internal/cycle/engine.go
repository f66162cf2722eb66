// Package cycle estimates cycle state from a sparse history of self-reported
// period start dates. Everything here is pure: the engine never reads a
// clock, performs no I/O, and works in whole calendar days. Callers pass a
// "today" already normalized to the user's intended calendar day.
package cycle

import (
	"errors"
	"time"
)

const (
	DefaultPeriodDays = 5
	DefaultCycleDays  = 28

	// MaxHistory caps the stored period-start history.
	MaxHistory = 12

	lutealDays = 14
)

// ErrInconsistent marks data the engine refuses to guess around, e.g. a most
// recent start date in the future relative to "today".
var ErrInconsistent = errors.New("cycle data inconsistent")

type Phase string

const (
	PhaseUnknown      Phase = "unknown"
	PhaseMenstruation Phase = "menstruation"
	PhaseFollicular   Phase = "follicular"
	PhaseOvulation    Phase = "ovulation"
	PhaseLuteal       Phase = "luteal"
)

// Record is a snapshot of one user's cycle data. StartDates are calendar
// days ordered most recent first, no duplicates, never in the future.
type Record struct {
	StartDates    []time.Time `json:"start_dates"`
	AvgPeriodDays int         `json:"avg_period_days,omitempty"`
	AvgCycleDays  int         `json:"avg_cycle_days,omitempty"`
}

// State is the full derived estimate for one day. Valid is false when the
// record has no history; the date fields are zero when Valid is false.
type State struct {
	Valid bool

	Day     int
	Phase   Phase
	Overdue bool

	// NextPeriod is the first estimated start >= today.
	NextPeriod time.Time
	// DaysUntilNext is measured against the raw estimate (last start +
	// average cycle), so it goes negative when the user is overdue.
	DaysUntilNext int

	Ovulation   time.Time
	WindowStart time.Time
	WindowEnd   time.Time
}

// Day truncates a timestamp to its calendar day in UTC.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns b - a in whole days.
func DaysBetween(a, b time.Time) int {
	return int(Day(b).Sub(Day(a)).Hours() / 24)
}

func (r Record) avgPeriod() int {
	if r.AvgPeriodDays > 0 {
		return r.AvgPeriodDays
	}
	return DefaultPeriodDays
}

func (r Record) avgCycle() int {
	if r.AvgCycleDays > 0 {
		return r.AvgCycleDays
	}
	return DefaultCycleDays
}

// PeriodDays returns the effective average period length (default applied).
func (r Record) PeriodDays() int { return r.avgPeriod() }

// CycleDays returns the effective average cycle length (default applied).
func (r Record) CycleDays() int { return r.avgCycle() }

// Last returns the most recent period start, ok=false for empty history.
func (r Record) Last() (time.Time, bool) {
	if len(r.StartDates) == 0 {
		return time.Time{}, false
	}
	return Day(r.StartDates[0]), true
}

// Append inserts a new period start keeping most-recent-first order. It
// rejects duplicates and future dates and caps history at MaxHistory.
func (r Record) Append(start, today time.Time) (Record, error) {
	start = Day(start)
	if start.After(Day(today)) {
		return r, ErrInconsistent
	}
	for _, d := range r.StartDates {
		if Day(d).Equal(start) {
			return r, ErrInconsistent
		}
	}
	dates := make([]time.Time, 0, len(r.StartDates)+1)
	inserted := false
	for _, d := range r.StartDates {
		if !inserted && start.After(Day(d)) {
			dates = append(dates, start)
			inserted = true
		}
		dates = append(dates, Day(d))
	}
	if !inserted {
		dates = append(dates, start)
	}
	if len(dates) > MaxHistory {
		dates = dates[:MaxHistory]
	}
	r.StartDates = dates
	return r, nil
}

// CurrentCycleDay returns the 1-based day in cycle (day 1 = the start date
// itself). ok=false for empty history or a future start date; the engine
// does not guess around inconsistent data.
func (r Record) CurrentCycleDay(today time.Time) (int, bool) {
	last, ok := r.Last()
	if !ok {
		return 0, false
	}
	today = Day(today)
	if today.Before(last) {
		return 0, false
	}
	return DaysBetween(last, today) + 1, true
}

// ovulationDay is the day-in-cycle of estimated ovulation: cycle length
// minus the luteal constant, or mid-cycle for very short averages.
func (r Record) ovulationDay() int {
	d := r.avgCycle() - lutealDays
	if d <= 0 {
		d = r.avgCycle() / 2
	}
	return d
}

// CurrentPhase maps the day in cycle onto the phase taxonomy. Days beyond
// the average cycle stay luteal; State.Overdue tells those apart.
func (r Record) CurrentPhase(today time.Time) Phase {
	day, ok := r.CurrentCycleDay(today)
	if !ok {
		return PhaseUnknown
	}
	ovu := r.ovulationDay()
	switch {
	case day <= r.avgPeriod():
		return PhaseMenstruation
	case day < ovu-2:
		return PhaseFollicular
	case day <= ovu+2:
		return PhaseOvulation
	default:
		return PhaseLuteal
	}
}

// rawNext is the single-step estimate: last start + one average cycle.
func (r Record) rawNext() (time.Time, bool) {
	last, ok := r.Last()
	if !ok {
		return time.Time{}, false
	}
	return last.AddDate(0, 0, r.avgCycle()), true
}

// NextPeriodStart returns the first estimated start >= today, stepping whole
// cycles forward for users who have not logged in a while.
func (r Record) NextPeriodStart(today time.Time) (time.Time, bool) {
	candidate, ok := r.rawNext()
	if !ok {
		return time.Time{}, false
	}
	today = Day(today)
	for candidate.Before(today) {
		candidate = candidate.AddDate(0, 0, r.avgCycle())
	}
	return candidate, true
}

// DaysUntilNextPeriod is signed: negative means overdue by that many days,
// 0 means the period is estimated to start today.
func (r Record) DaysUntilNextPeriod(today time.Time) (int, bool) {
	next, ok := r.rawNext()
	if !ok {
		return 0, false
	}
	return DaysBetween(Day(today), next), true
}

// OvulationWindow estimates ovulation as 14 days before the next period and
// the fertile window as [ovulation-3, ovulation+2], clamped so the window
// never overlaps the tail of the most recent period estimate.
func (r Record) OvulationWindow(today time.Time) (ovulation, start, end time.Time, ok bool) {
	next, ok := r.NextPeriodStart(today)
	if !ok {
		return time.Time{}, time.Time{}, time.Time{}, false
	}
	last, _ := r.Last()

	ovulation = next.AddDate(0, 0, -lutealDays)
	start = ovulation.AddDate(0, 0, -3)
	end = ovulation.AddDate(0, 0, 2)

	// Period runs day 1..avgPeriod, so the earliest allowed window start is
	// the day after the period's estimated end.
	earliest := last.AddDate(0, 0, r.avgPeriod())
	if start.Before(earliest) {
		start = earliest
	}
	if end.Before(start) {
		end = start
	}
	return ovulation, start, end, true
}

// Compute derives the full state in one call.
func Compute(r Record, today time.Time) State {
	day, ok := r.CurrentCycleDay(today)
	if !ok {
		return State{Phase: PhaseUnknown}
	}
	st := State{
		Valid: true,
		Day:   day,
		Phase: r.CurrentPhase(today),
	}
	st.DaysUntilNext, _ = r.DaysUntilNextPeriod(today)
	st.NextPeriod, _ = r.NextPeriodStart(today)
	st.Overdue = day > r.avgCycle()
	st.Ovulation, st.WindowStart, st.WindowEnd, _ = r.OvulationWindow(today)
	return st
}
