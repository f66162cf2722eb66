// Package router is the notification router: one sweep evaluates the rule
// set for every active user, resolves the owner/observer pair, gates each
// fired rule through the sent-ledger, and hands drafted messages to the
// dispatch pipeline. All rule decisions are pure; the router owns the I/O.
package router

import (
	"context"
	"time"

	kit "cyclebot/internal/transport"
)

// RuleKind names one notification rule. Kinds are part of the sent-ledger
// key, so renaming one re-fires already-sent notifications.
type RuleKind string

const (
	RulePrePMS            RuleKind = "pre-pms"
	RulePeriodStart       RuleKind = "period-start"
	RulePeriodEnd         RuleKind = "period-end"
	RuleOvulation         RuleKind = "ovulation"
	RuleDailyTip          RuleKind = "daily-tip"
	RulePeriodLogReminder RuleKind = "period-log-reminder"
	RuleSymptomReminder   RuleKind = "symptom-log-reminder"
)

// Config controls the sweep.
type Config struct {
	// Workers partitions the user set; 0 means default (4).
	Workers int
	// Timeout bounds one full sweep; 0 means default (10m).
	Timeout time.Duration
	// DefaultHour is the tick hour assumed for users without a preferred
	// notification hour.
	DefaultHour int
}

// Report summarizes one sweep. Suppressed counts ledger hits, which are the
// normal outcome on re-runs, not a problem.
type Report struct {
	Users      int
	Skipped    int
	Fired      int
	Suppressed int
	Failures   int

	Started  time.Time
	Finished time.Time
}

// Dispatcher is the outbound edge. Satisfied by *notify.Service.
type Dispatcher interface {
	Notify(ctx context.Context, n kit.Notification) error
}

// firing is one rule decision for one owner, before wording and gating.
type firing struct {
	Rule RuleKind
	// RefDate is the event date the ledger entry is keyed on.
	RefDate time.Time
	// Confirmed distinguishes the period-start wordings.
	Confirmed bool
	// OwnerOnly suppresses the observer copy.
	OwnerOnly bool
}
