package router

import (
	"time"

	"cyclebot/internal/cycle"
)

// evaluate runs the stateless rule table against one owner's computed state.
// Daily tips are per-recipient and handled by the sweep, not here.
func evaluate(rec cycle.Record, st cycle.State, lastSymptomLog, today time.Time) []firing {
	if !st.Valid {
		return nil
	}
	today = cycle.Day(today)
	last, _ := rec.Last()

	var out []firing

	// pre-PMS: 3..5 days before the estimated next start.
	if st.DaysUntilNext >= 3 && st.DaysUntilNext <= 5 {
		out = append(out, firing{Rule: RulePrePMS, RefDate: today.AddDate(0, 0, st.DaysUntilNext)})
	}

	// period-start: confirmed when the owner logged a start today, estimated
	// when the prediction lands on today with nothing logged.
	switch {
	case last.Equal(today):
		out = append(out, firing{Rule: RulePeriodStart, RefDate: today, Confirmed: true})
	case st.DaysUntilNext == 0:
		out = append(out, firing{Rule: RulePeriodStart, RefDate: today})
	}

	// period-end: the first day past the average period length.
	if st.Day == rec.PeriodDays()+1 {
		out = append(out, firing{Rule: RulePeriodEnd, RefDate: last.AddDate(0, 0, rec.PeriodDays())})
	}

	if st.Ovulation.Equal(today) {
		out = append(out, firing{Rule: RuleOvulation, RefDate: st.Ovulation})
	}

	// period-log-reminder: overdue by 2-3 days with nothing logged on or
	// after the missed estimate. The ledger keys on the estimate, so the
	// reminder goes out once per missed cycle, not once per overdue day.
	if st.DaysUntilNext >= -3 && st.DaysUntilNext <= -2 {
		estimate := today.AddDate(0, 0, st.DaysUntilNext)
		if last.Before(estimate) {
			out = append(out, firing{Rule: RulePeriodLogReminder, RefDate: estimate, OwnerOnly: true})
		}
	}

	// symptom-log-reminder: luteal or menstruation, 1-2 days since the last
	// symptom log. Users who never logged are left alone.
	if st.Phase == cycle.PhaseLuteal || st.Phase == cycle.PhaseMenstruation {
		if !lastSymptomLog.IsZero() {
			gap := cycle.DaysBetween(lastSymptomLog, today)
			if gap >= 1 && gap <= 2 {
				out = append(out, firing{Rule: RuleSymptomReminder, RefDate: today, OwnerOnly: true})
			}
		}
	}

	return out
}
