package router

import (
	"fmt"
	"time"

	"cyclebot/internal/content"
	"cyclebot/internal/cycle"
)

// fallbackTip is used when content selection finds nothing for a recipient.
const fallbackTip = "💡 Daily tip: drink enough water and listen to your body today."

const msgDate = "Mon, Jan 2"

// ownerText drafts the owner-facing wording for one fired rule.
func ownerText(f firing, st cycle.State) string {
	switch f.Rule {
	case RulePrePMS:
		return fmt.Sprintf("🌙 Heads up: your next period is estimated in %d days (%s). PMS symptoms may show up soon.",
			st.DaysUntilNext, st.NextPeriod.Format(msgDate))
	case RulePeriodStart:
		if f.Confirmed {
			return "🩸 Period logged for today. Take it easy, and log any symptoms you notice."
		}
		return fmt.Sprintf("🩸 Your period is estimated to start today (%s). If it has, log it to keep predictions accurate.",
			f.RefDate.Format(msgDate))
	case RulePeriodEnd:
		return "🌸 Your period should be wrapping up around now. The follicular phase is starting."
	case RuleOvulation:
		return fmt.Sprintf("🥚 Today is your estimated ovulation day. Fertile window: %s – %s.",
			st.WindowStart.Format(msgDate), st.WindowEnd.Format(msgDate))
	case RulePeriodLogReminder:
		return fmt.Sprintf("📅 Your period was estimated to start on %s. If it has started, please log the date; if not, no worries, predictions adjust.",
			f.RefDate.Format(msgDate))
	case RuleSymptomReminder:
		return "📝 You haven't logged symptoms in a couple of days. A quick note keeps your history useful."
	default:
		return ""
	}
}

// observerText drafts the partner-facing wording. Owner-only rules return "".
func observerText(f firing, st cycle.State) string {
	if f.OwnerOnly {
		return ""
	}
	switch f.Rule {
	case RulePrePMS:
		return fmt.Sprintf("🌙 Your partner's period is estimated in %d days. Extra patience and care go a long way this week.",
			st.DaysUntilNext)
	case RulePeriodStart:
		if f.Confirmed {
			return "🩸 Your partner's period started today. Small gestures help: tea, a warm blanket, low-key plans."
		}
		return "🩸 Your partner's period is estimated to start today. This is a good day to check in."
	case RulePeriodEnd:
		return "🌸 Your partner's period should be ending around now. Energy levels usually pick up from here."
	case RuleOvulation:
		return "🥚 Today is your partner's estimated ovulation day."
	default:
		return ""
	}
}

// tipText wraps a selected content item, or the fixed fallback.
func tipText(it content.Item, ok bool) string {
	if !ok {
		return fallbackTip
	}
	if it.Title == "" {
		return fmt.Sprintf("💡 %s", it.Body)
	}
	return fmt.Sprintf("💡 %s\n%s", it.Title, it.Body)
}

// refKey formats a reference date the way logs and the ledger show it.
func refKey(d time.Time) string { return d.Format("2006-01-02") }
