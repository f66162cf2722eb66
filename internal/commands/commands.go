// Package commands consumes the adapter's update stream and maps bot
// commands onto the store: registering users, logging period starts and
// symptoms, linking partners, and answering /status from the engine.
package commands

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"cyclebot/internal/cycle"
	"cyclebot/internal/storage"
	"cyclebot/internal/symptoms"
	kit "cyclebot/internal/transport"
	logx "cyclebot/pkg/logx"
)

const dateLayout = "2006-01-02"

const helpText = `Commands:
/start — register
/role owner|observer — who is being tracked
/period [YYYY-MM-DD] — log a period start (default today)
/cycle <period days> <cycle days> — set your averages
/symptom <category> <key> — log a symptom for today
/link <partner id> — link with your partner
/unlink — remove the link
/hour <0-23> — preferred notification hour
/status — current cycle estimate`

type Config struct {
	// TrialDays is the free trial granted on /start; 0 means default (14).
	TrialDays int
}

type Handler struct {
	cfg     Config
	store   storage.Store
	adapter kit.Adapter
	log     logx.Logger

	// now is swappable in tests; the engine itself never reads it.
	now func() time.Time
}

func New(cfg Config, store storage.Store, adapter kit.Adapter, log logx.Logger) *Handler {
	if cfg.TrialDays <= 0 {
		cfg.TrialDays = 14
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Handler{cfg: cfg, store: store, adapter: adapter, log: log, now: time.Now}
}

// DispatchLoop drains the update stream until ctx is done or the channel
// closes. One bad update never takes the loop down.
func (h *Handler) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case u, ok := <-updates:
			if !ok {
				return nil
			}
			if u.Kind != kit.UpdateMessage || u.Message == nil {
				continue
			}
			h.handle(ctx, *u.Message)
		}
	}
}

func (h *Handler) handle(ctx context.Context, msg kit.Message) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error("panic handling command", logx.Int64("from", msg.FromID),
				logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()

	text := strings.TrimSpace(msg.Text)
	if !strings.HasPrefix(text, "/") {
		return
	}
	fields := strings.Fields(text)
	cmd := strings.ToLower(strings.TrimPrefix(fields[0], "/"))
	if i := strings.Index(cmd, "@"); i >= 0 {
		cmd = cmd[:i]
	}
	args := fields[1:]

	uid := strconv.FormatInt(msg.FromID, 10)
	today := cycle.Day(h.now())

	var reply string
	var err error
	switch cmd {
	case "start":
		reply, err = h.start(ctx, uid, msg)
	case "help":
		reply = helpText
	case "role":
		reply, err = h.role(ctx, uid, args)
	case "period":
		reply, err = h.period(ctx, uid, args, today)
	case "cycle":
		reply, err = h.averages(ctx, uid, args)
	case "symptom":
		reply, err = h.symptom(ctx, uid, args, today)
	case "link":
		reply, err = h.link(ctx, uid, args)
	case "unlink":
		reply, err = h.unlink(ctx, uid)
	case "hour":
		reply, err = h.hour(ctx, uid, args)
	case "status":
		reply, err = h.status(ctx, uid, today)
	default:
		return
	}
	if err != nil {
		h.log.Warn("command failed", logx.String("cmd", cmd), logx.String("user", uid), logx.Err(err))
		if reply == "" {
			reply = "Something went wrong, please try again."
		}
	}
	if reply == "" {
		return
	}
	sendCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if _, serr := h.adapter.SendText(sendCtx, kit.ChatTarget{ChatID: msg.ChatID}, reply, nil); serr != nil {
		h.log.Warn("reply failed", logx.String("cmd", cmd), logx.Err(serr))
	}
}

func (h *Handler) start(ctx context.Context, uid string, msg kit.Message) (string, error) {
	if u, err := h.store.GetUser(ctx, uid); err == nil && u != nil {
		return "You're already registered. /help lists the commands.", nil
	} else if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return "", err
	}
	now := h.now()
	u := storage.User{
		ID:           uid,
		ChatHandle:   strconv.FormatInt(msg.ChatID, 10),
		Role:         cycle.RoleOwner,
		Subscription: storage.SubFreeTrial,
		TrialEndsAt:  now.AddDate(0, 0, h.cfg.TrialDays),
	}
	if err := h.store.UpsertUser(ctx, u); err != nil {
		return "", err
	}
	_ = h.store.AppendAudit(ctx, storage.AuditEntry{
		At: now, Actor: uid, Action: "register",
	})
	return fmt.Sprintf("Welcome! Your %d-day free trial is active.\n\n%s", h.cfg.TrialDays, helpText), nil
}

func (h *Handler) role(ctx context.Context, uid string, args []string) (string, error) {
	if len(args) != 1 {
		return "Usage: /role owner|observer", nil
	}
	var role cycle.Role
	switch strings.ToLower(args[0]) {
	case "owner":
		role = cycle.RoleOwner
	case "observer":
		role = cycle.RoleObserver
	default:
		return "Usage: /role owner|observer", nil
	}
	u, err := h.store.GetUser(ctx, uid)
	if err != nil {
		return notRegistered(err)
	}
	u.Role = role
	if err := h.store.UpsertUser(ctx, *u); err != nil {
		return "", err
	}
	return fmt.Sprintf("Role set to %s.", role), nil
}

func (h *Handler) period(ctx context.Context, uid string, args []string, today time.Time) (string, error) {
	start := today
	if len(args) > 0 {
		d, err := time.Parse(dateLayout, args[0])
		if err != nil {
			return "Use /period or /period YYYY-MM-DD.", nil
		}
		start = cycle.Day(d)
	}
	if err := h.store.AppendPeriodStart(ctx, uid, start, today); err != nil {
		switch {
		case errors.Is(err, cycle.ErrInconsistent):
			return "That date is in the future or already logged.", nil
		case errors.Is(err, storage.ErrNotFound):
			return notRegistered(err)
		}
		return "", err
	}
	return fmt.Sprintf("Period start logged for %s. 🩸", start.Format(dateLayout)), nil
}

func (h *Handler) averages(ctx context.Context, uid string, args []string) (string, error) {
	if len(args) != 2 {
		return "Usage: /cycle <period days> <cycle days>, e.g. /cycle 5 28", nil
	}
	p, err1 := strconv.Atoi(args[0])
	c, err2 := strconv.Atoi(args[1])
	if err1 != nil || err2 != nil || p < 1 || p > 14 || c < 10 || c > 90 || p >= c {
		return "Period days must be 1-14, cycle days 10-90, and the cycle longer than the period.", nil
	}
	if err := h.store.SetAverages(ctx, uid, p, c); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return notRegistered(err)
		}
		return "", err
	}
	return fmt.Sprintf("Averages saved: %d period days, %d cycle days.", p, c), nil
}

func (h *Handler) symptom(ctx context.Context, uid string, args []string, today time.Time) (string, error) {
	if len(args) != 2 {
		return "Usage: /symptom <category> <key>, e.g. /symptom aches cramps", nil
	}
	category, key := strings.ToLower(args[0]), strings.ToLower(args[1])
	if !symptoms.Valid(category, key) {
		return "Unknown symptom. Categories: mood, aches, digestion, skin, sleep, libido, discharge.", nil
	}
	if err := h.store.LogSymptom(ctx, uid, today, category, key); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return notRegistered(err)
		}
		return "", err
	}
	if err := h.store.UpdateLastSymptomLog(ctx, uid, today); err != nil {
		return "", err
	}
	return fmt.Sprintf("Logged %s/%s for today. 📝", category, key), nil
}

func (h *Handler) link(ctx context.Context, uid string, args []string) (string, error) {
	if len(args) != 1 {
		return "Usage: /link <partner id> (your partner's user id from /start)", nil
	}
	if err := h.store.LinkPartners(ctx, uid, strings.TrimSpace(args[0])); err != nil {
		switch {
		case errors.Is(err, storage.ErrLinkConflict):
			return "One of you is already linked. Unlink first with /unlink.", nil
		case errors.Is(err, storage.ErrNotFound):
			return "Partner id not found. They need to /start first.", nil
		}
		return "", err
	}
	return "Linked! 💞 Your partner will now receive their own notifications.", nil
}

func (h *Handler) unlink(ctx context.Context, uid string) (string, error) {
	if err := h.store.UnlinkPartners(ctx, uid); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return notRegistered(err)
		}
		return "", err
	}
	return "Unlinked.", nil
}

func (h *Handler) hour(ctx context.Context, uid string, args []string) (string, error) {
	if len(args) != 1 {
		return "Usage: /hour <0-23>", nil
	}
	hr, err := strconv.Atoi(args[0])
	if err != nil || hr < 0 || hr > 23 {
		return "Usage: /hour <0-23>", nil
	}
	u, err := h.store.GetUser(ctx, uid)
	if err != nil {
		return notRegistered(err)
	}
	u.PreferredHour = &hr
	if err := h.store.UpsertUser(ctx, *u); err != nil {
		return "", err
	}
	return fmt.Sprintf("Notifications will arrive around %02d:00.", hr), nil
}

func (h *Handler) status(ctx context.Context, uid string, today time.Time) (string, error) {
	u, err := h.store.GetUser(ctx, uid)
	if err != nil {
		return notRegistered(err)
	}
	rec := u.Record
	if u.Role == cycle.RoleObserver && u.PartnerID != "" {
		// Observers see their partner's estimate.
		p, perr := h.store.GetPartner(ctx, uid)
		if perr == nil && p != nil && p.DataErr == nil {
			rec = p.Record
		}
	}
	st := cycle.Compute(rec, today)
	if !st.Valid {
		return "No period history yet. Log the first start with /period.", nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Day %d, %s phase", st.Day, st.Phase)
	if st.Overdue {
		b.WriteString(" (past the average cycle)")
	}
	fmt.Fprintf(&b, "\nNext period: %s", st.NextPeriod.Format(dateLayout))
	switch {
	case st.DaysUntilNext > 0:
		fmt.Fprintf(&b, " (in %d days)", st.DaysUntilNext)
	case st.DaysUntilNext == 0:
		b.WriteString(" (today)")
	default:
		fmt.Fprintf(&b, " (%d days overdue)", -st.DaysUntilNext)
	}
	fmt.Fprintf(&b, "\nFertile window: %s – %s",
		st.WindowStart.Format(dateLayout), st.WindowEnd.Format(dateLayout))
	return b.String(), nil
}

func notRegistered(err error) (string, error) {
	if errors.Is(err, storage.ErrNotFound) {
		return "You're not registered yet. Send /start first.", nil
	}
	return "", err
}
