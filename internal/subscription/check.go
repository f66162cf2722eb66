// Package subscription runs the periodic lifecycle check: expiring paid
// subscriptions and free trials, and warning users a few days ahead. Every
// notice goes through the same sent-ledger as the cycle rules, so a re-run
// never double-sends.
package subscription

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"cyclebot/internal/cycle"
	"cyclebot/internal/storage"
	kit "cyclebot/internal/transport"
	logx "cyclebot/pkg/logx"
)

const (
	kindSubExpired   = "sub-expired"
	kindSubWarning   = "sub-warning"
	kindTrialExpired = "trial-expired"
	kindTrialWarning = "trial-warning"
)

type Dispatcher interface {
	Notify(ctx context.Context, n kit.Notification) error
}

type Config struct {
	// WarnDays is how many days before expiry the warning goes out; 0 means
	// default (3).
	WarnDays int
}

type Report struct {
	Checked  int
	Expired  int
	Warned   int
	Failures int
}

type Checker struct {
	cfg   Config
	store storage.Store
	disp  Dispatcher
	log   logx.Logger
}

func New(cfg Config, store storage.Store, disp Dispatcher, log logx.Logger) *Checker {
	if cfg.WarnDays <= 0 {
		cfg.WarnDays = 3
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Checker{cfg: cfg, store: store, disp: disp, log: log}
}

// Check walks the active-user set once. Expiries flip the stored status;
// warnings only notify. The ledger keys on the expiry date so a user whose
// end date moves gets a fresh warning for the new date.
func (c *Checker) Check(ctx context.Context, now time.Time) (Report, error) {
	var rep Report
	users, err := c.store.ListUsers(ctx)
	if err != nil {
		return rep, err
	}
	today := cycle.Day(now)

	for _, u := range users {
		rep.Checked++
		log := c.log.With(logx.String("user", u.ID))

		switch u.Subscription {
		case storage.SubActive:
			if !u.SubEndsAt.IsZero() && !u.SubEndsAt.After(now) {
				c.expire(ctx, log, &rep, u, storage.SubExpired, kindSubExpired, u.SubEndsAt,
					"⏳ Your subscription has expired. Renew to keep receiving cycle notifications.")
				continue
			}
			c.maybeWarn(ctx, log, &rep, u, kindSubWarning, u.SubEndsAt, today,
				"⏳ Your subscription ends on %s. Renew now to avoid missing notifications.")
		case storage.SubFreeTrial:
			if !u.TrialEndsAt.After(now) {
				c.expire(ctx, log, &rep, u, storage.SubNone, kindTrialExpired, u.TrialEndsAt,
					"⏳ Your free trial has ended. Subscribe to keep daily tips and reminders coming.")
				continue
			}
			c.maybeWarn(ctx, log, &rep, u, kindTrialWarning, u.TrialEndsAt, today,
				"⏳ Your free trial ends on %s. Subscribe to keep going without a gap.")
		}
	}

	c.log.Info("subscription check completed",
		logx.Int("checked", rep.Checked), logx.Int("expired", rep.Expired),
		logx.Int("warned", rep.Warned), logx.Int("failures", rep.Failures))
	return rep, nil
}

func (c *Checker) expire(ctx context.Context, log logx.Logger, rep *Report, u storage.User, to storage.SubscriptionStatus, kind string, endsAt time.Time, text string) {
	if err := c.store.MarkSubscription(ctx, u.ID, to); err != nil {
		rep.Failures++
		log.Error("mark subscription failed", logx.String("to", string(to)), logx.Err(err))
		return
	}
	rep.Expired++
	log.Info("subscription expired", logx.String("kind", kind), logx.Date("ends", endsAt))
	c.send(ctx, log, rep, u, kind, endsAt, text)
}

func (c *Checker) maybeWarn(ctx context.Context, log logx.Logger, rep *Report, u storage.User, kind string, endsAt, today time.Time, format string) {
	if endsAt.IsZero() {
		return
	}
	left := cycle.DaysBetween(today, endsAt)
	if left < 0 || left > c.cfg.WarnDays {
		return
	}
	if c.send(ctx, log, rep, u, kind, endsAt, fmt.Sprintf(format, endsAt.Format("Mon, Jan 2"))) {
		rep.Warned++
	}
}

// send gates through the ledger, then dispatches. Returns true when a
// message actually went out this run.
func (c *Checker) send(ctx context.Context, log logx.Logger, rep *Report, u storage.User, kind string, refDate time.Time, text string) bool {
	ok, err := c.store.TryRecordSent(ctx, u.ID, kind, cycle.Day(refDate))
	if err != nil {
		rep.Failures++
		log.Error("ledger write failed", logx.String("kind", kind), logx.Err(err))
		return false
	}
	if !ok {
		log.Debug("suppressed: already sent", logx.String("kind", kind), logx.Date("ref", refDate))
		return false
	}
	chatID, perr := strconv.ParseInt(u.ChatHandle, 10, 64)
	if perr != nil || chatID == 0 {
		rep.Failures++
		log.Warn("no reachable handle", logx.String("kind", kind))
		return false
	}
	if err := c.disp.Notify(ctx, kit.Notification{
		Channel: "telegram",
		Target:  kit.ChatTarget{ChatID: chatID},
		Text:    text,
	}); err != nil {
		rep.Failures++
		log.Warn("dispatch failed", logx.String("kind", kind), logx.Err(err))
		return false
	}
	return true
}
