package router

import (
	"context"
	"errors"
	"runtime/debug"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"cyclebot/internal/content"
	"cyclebot/internal/cycle"
	"cyclebot/internal/eventbus"
	"cyclebot/internal/storage"
	"cyclebot/internal/symptoms"
	kit "cyclebot/internal/transport"
	logx "cyclebot/pkg/logx"
)

var errNoHandle = errors.New("no reachable recipient handle")

type Router struct {
	cfg   Config
	store storage.Store
	disp  Dispatcher
	bus   eventbus.Bus
	log   logx.Logger
}

func New(cfg Config, store storage.Store, disp Dispatcher, log logx.Logger, bus eventbus.Bus) *Router {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Minute
	}
	if cfg.DefaultHour < 0 || cfg.DefaultHour > 23 {
		cfg.DefaultHour = 9
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Router{cfg: cfg, store: store, disp: disp, bus: bus, log: log}
}

// counters is the only mutable state shared across sweep workers besides the
// ledger and the dispatch queue.
type counters struct {
	skipped    atomic.Int64
	fired      atomic.Int64
	suppressed atomic.Int64
	failures   atomic.Int64
}

// Sweep runs the full rule set over all active users. now carries both the
// calendar day the rules see and the tick hour for the preferred-hour filter.
// Safe to run concurrently with itself: duplicate firings are absorbed by the
// atomic ledger insert.
func (r *Router) Sweep(ctx context.Context, now time.Time) (Report, error) {
	rep := Report{Started: now}
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	r.publish("sweep.started", rep)

	users, err := r.store.FindActiveUsers(ctx, now)
	if err != nil {
		return rep, err
	}
	items, err := r.store.ContentItems(ctx)
	if err != nil {
		// Tips degrade to the fallback; the event rules still run.
		r.log.Warn("content load failed, using fallback tips", logx.Err(err))
		items = nil
	}

	today := cycle.Day(now)
	tickHour := now.Hour()

	var c counters
	jobs := make(chan storage.User)
	var wg sync.WaitGroup
	for i := 0; i < r.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for u := range jobs {
				r.sweepUser(ctx, u, items, today, tickHour, &c)
			}
		}()
	}
	for _, u := range users {
		select {
		case jobs <- u:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}
	}
	close(jobs)
	wg.Wait()

	rep.Users = len(users)
	rep.Skipped = int(c.skipped.Load())
	rep.Fired = int(c.fired.Load())
	rep.Suppressed = int(c.suppressed.Load())
	rep.Failures = int(c.failures.Load())
	rep.Finished = time.Now()

	r.log.Info("sweep completed",
		logx.Int("users", rep.Users), logx.Int("skipped", rep.Skipped),
		logx.Int("fired", rep.Fired), logx.Int("suppressed", rep.Suppressed),
		logx.Int("failures", rep.Failures),
		logx.Duration("took", rep.Finished.Sub(rep.Started)))
	r.publish("sweep.completed", rep)
	return rep, ctx.Err()
}

// sweepUser handles one user end to end. A panic here is one bad row, never
// the whole sweep.
func (r *Router) sweepUser(ctx context.Context, u storage.User, items []content.Item, today time.Time, tickHour int, c *counters) {
	defer func() {
		if rec := recover(); rec != nil {
			c.failures.Add(1)
			r.log.Error("panic sweeping user", logx.String("user", u.ID),
				logx.Any("panic", rec), logx.String("stack", string(debug.Stack())))
		}
	}()

	log := r.log.With(logx.String("user", u.ID))

	hour := r.cfg.DefaultHour
	if u.PreferredHour != nil {
		hour = *u.PreferredHour
	}
	if hour != tickHour {
		c.skipped.Add(1)
		log.Trace("skip: outside preferred hour", logx.Int("preferred", hour), logx.Int("tick", tickHour))
		return
	}

	if u.DataErr != nil {
		// Cycle-dependent rules are off the table; the tip may still go out
		// if the handle survived decryption.
		log.Warn("skip cycle rules: data unavailable", logx.Err(u.DataErr))
	}

	owner, observer, pairErr := r.resolve(ctx, u)
	if pairErr != nil {
		log.Warn("skip cycle rules: unresolved pair", logx.Err(pairErr))
	}

	ownerHasData := owner != nil && owner.DataErr == nil && len(owner.Record.StartDates) > 0
	var st cycle.State
	if ownerHasData {
		st = cycle.Compute(owner.Record, today)
	}

	if ownerHasData && pairErr == nil {
		r.runRules(ctx, log, *owner, observer, st, today, c)
	} else if u.DataErr == nil {
		log.Debug("no owner cycle data, reminder rules skipped", logx.String("date", refKey(today)))
	}

	// Daily tip, once per recipient per day, on the recipient's own ledger
	// row. Linked pairs meet each other's tip keys twice per tick; the
	// second hit is a normal suppression.
	r.sendTip(ctx, log, u, owner, st, items, today, c)
}

// resolve loads the partner row and decides the owner/observer assignment.
// The partner is looked up fresh every sweep, never cached on the user row.
func (r *Router) resolve(ctx context.Context, u storage.User) (owner, observer *storage.User, err error) {
	var partner *storage.User
	if u.PartnerID != "" {
		p, perr := r.store.GetPartner(ctx, u.ID)
		if perr != nil && !errors.Is(perr, storage.ErrNotFound) {
			return nil, nil, perr
		}
		partner = p
	}

	var pp *cycle.Party
	if partner != nil {
		pp = &cycle.Party{ID: partner.ID, Role: partner.Role}
	}
	pair, rerr := cycle.ResolvePair(cycle.Party{ID: u.ID, Role: u.Role}, pp)
	if rerr != nil {
		return nil, nil, rerr
	}

	pick := func(p *cycle.Party) *storage.User {
		switch {
		case p == nil:
			return nil
		case p.ID == u.ID:
			cp := u
			return &cp
		default:
			return partner
		}
	}
	return pick(pair.Owner), pick(pair.Observer), nil
}

// runRules evaluates the event rules for one resolved pair and dispatches
// every firing that passes the ledger gate.
func (r *Router) runRules(ctx context.Context, log logx.Logger, owner storage.User, observer *storage.User, st cycle.State, today time.Time, c *counters) {
	firings := evaluate(owner.Record, st, owner.LastSymptomLog, today)
	for _, f := range firings {
		ok, err := r.store.TryRecordSent(ctx, owner.ID, string(f.Rule), f.RefDate)
		if err != nil {
			c.failures.Add(1)
			log.Error("ledger write failed", logx.String("rule", string(f.Rule)),
				logx.String("ref", refKey(f.RefDate)), logx.Err(err))
			continue
		}
		if !ok {
			c.suppressed.Add(1)
			log.Debug("suppressed: already sent", logx.String("rule", string(f.Rule)),
				logx.String("ref", refKey(f.RefDate)))
			r.publish("rule.suppressed", f)
			continue
		}
		c.fired.Add(1)
		log.Info("rule fired", logx.String("rule", string(f.Rule)), logx.String("ref", refKey(f.RefDate)))
		r.publish("rule.fired", f)

		if err := r.dispatch(ctx, owner, ownerText(f, st)); err != nil {
			c.failures.Add(1)
			log.Warn("owner dispatch failed", logx.String("rule", string(f.Rule)), logx.Err(err))
		}
		if f.OwnerOnly || observer == nil {
			continue
		}
		if err := r.dispatch(ctx, *observer, observerText(f, st)); err != nil {
			c.failures.Add(1)
			log.Warn("observer dispatch failed", logx.String("rule", string(f.Rule)),
				logx.String("observer", observer.ID), logx.Err(err))
		}
	}
}

// sendTip drafts the daily educational tip for one recipient, selected
// against the owner's phase and today's logged symptoms.
func (r *Router) sendTip(ctx context.Context, log logx.Logger, u storage.User, owner *storage.User, st cycle.State, items []content.Item, today time.Time, c *counters) {
	ok, err := r.store.TryRecordSent(ctx, u.ID, string(RuleDailyTip), today)
	if err != nil {
		c.failures.Add(1)
		log.Error("ledger write failed", logx.String("rule", string(RuleDailyTip)), logx.Err(err))
		return
	}
	if !ok {
		c.suppressed.Add(1)
		log.Debug("suppressed: tip already sent", logx.String("ref", refKey(today)))
		return
	}

	crit := content.Criteria{Role: u.Role, Phase: cycle.PhaseUnknown}
	if st.Valid {
		crit.Phase = st.Phase
	}
	if owner != nil && owner.DataErr == nil {
		entries, serr := r.store.SymptomsForDate(ctx, owner.ID, today)
		if serr != nil {
			log.Debug("symptom lookup failed", logx.Err(serr))
		} else {
			crit.SymptomKeys = symptoms.Keys(entries)
		}
	}

	it, found := content.Select(items, crit)
	c.fired.Add(1)
	r.publish("rule.fired", firing{Rule: RuleDailyTip, RefDate: today})
	if err := r.dispatch(ctx, u, tipText(it, found)); err != nil {
		c.failures.Add(1)
		log.Warn("tip dispatch failed", logx.Err(err))
	}
}

// dispatch hands one drafted message to the pipeline. The handle is the
// decrypted chat id; anything unparseable counts as unreachable.
func (r *Router) dispatch(ctx context.Context, to storage.User, text string) error {
	if text == "" {
		return nil
	}
	chatID, err := strconv.ParseInt(to.ChatHandle, 10, 64)
	if err != nil || chatID == 0 {
		return errNoHandle
	}
	return r.disp.Notify(ctx, kit.Notification{
		Channel: "telegram",
		Target:  kit.ChatTarget{ChatID: chatID},
		Text:    text,
	})
}

func (r *Router) publish(typ string, data any) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(eventbus.Event{Type: typ, Data: data})
}
