package router

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"cyclebot/internal/content"
	"cyclebot/internal/cycle"
	"cyclebot/internal/storage"
	kit "cyclebot/internal/transport"
	logx "cyclebot/pkg/logx"
)

// tick is a sweep moment at the default notification hour.
var tick = time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC)

type capture struct {
	mu   sync.Mutex
	msgs []kit.Notification
}

func (c *capture) Notify(ctx context.Context, n kit.Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, n)
	return nil
}

func (c *capture) byChat(id int64) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, n := range c.msgs {
		if n.Target.ChatID == id {
			out = append(out, n.Text)
		}
	}
	return out
}

func (c *capture) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.msgs)
}

func newRouter(t *testing.T, store storage.Store, disp Dispatcher) *Router {
	t.Helper()
	return New(Config{Workers: 2, DefaultHour: 9}, store, disp, logx.Nop(), nil)
}

func activeUser(id, chat string, role cycle.Role, rec cycle.Record) storage.User {
	return storage.User{
		ID:           id,
		ChatHandle:   chat,
		Role:         role,
		Record:       rec,
		Subscription: storage.SubActive,
	}
}

func mustUpsert(t *testing.T, s storage.Store, u storage.User) {
	t.Helper()
	if err := s.UpsertUser(context.Background(), u); err != nil {
		t.Fatalf("UpsertUser(%s): %v", u.ID, err)
	}
}

func daysAgo(n int) time.Time { return cycle.Day(tick).AddDate(0, 0, -n) }

func containsText(msgs []string, sub string) bool {
	for _, m := range msgs {
		if strings.Contains(m, sub) {
			return true
		}
	}
	return false
}

func TestSweepTwiceFiresOnce(t *testing.T) {
	t.Parallel()
	s := storage.NewMemory()
	// 24 days into a 28-day cycle: pre-PMS window, 4 days out.
	mustUpsert(t, s, activeUser("u1", "100", cycle.RoleOwner, cycle.Record{
		StartDates: []time.Time{daysAgo(24)},
	}))
	disp := &capture{}
	r := newRouter(t, s, disp)

	rep, err := r.Sweep(context.Background(), tick)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if rep.Fired != 2 { // pre-PMS + daily tip
		t.Fatalf("first sweep Fired = %d, want 2", rep.Fired)
	}
	first := disp.count()
	if first != 2 {
		t.Fatalf("first sweep dispatched %d, want 2", first)
	}
	if !containsText(disp.byChat(100), "estimated in 4 days") {
		t.Fatalf("missing pre-PMS text in %q", disp.byChat(100))
	}

	rep2, err := r.Sweep(context.Background(), tick)
	if err != nil {
		t.Fatalf("second Sweep: %v", err)
	}
	if rep2.Fired != 0 || rep2.Suppressed != 2 {
		t.Fatalf("second sweep Fired=%d Suppressed=%d, want 0/2", rep2.Fired, rep2.Suppressed)
	}
	if disp.count() != first {
		t.Fatalf("second sweep dispatched more messages: %d -> %d", first, disp.count())
	}
}

func TestOverdueReminderBand(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		lastDays int // days before tick
		want     bool
	}{
		{"one day overdue", 29, false},
		{"two days overdue", 30, true},
		{"three days overdue", 31, true},
		{"four days overdue", 32, false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := storage.NewMemory()
			mustUpsert(t, s, activeUser("u1", "100", cycle.RoleOwner, cycle.Record{
				StartDates: []time.Time{daysAgo(tt.lastDays)},
			}))
			disp := &capture{}
			if _, err := newRouter(t, s, disp).Sweep(context.Background(), tick); err != nil {
				t.Fatalf("Sweep: %v", err)
			}
			got := containsText(disp.byChat(100), "was estimated to start")
			if got != tt.want {
				t.Fatalf("reminder fired = %v, want %v (msgs %q)", got, tt.want, disp.byChat(100))
			}
		})
	}
}

func TestPeriodStartWording(t *testing.T) {
	t.Parallel()
	t.Run("confirmed", func(t *testing.T) {
		t.Parallel()
		s := storage.NewMemory()
		mustUpsert(t, s, activeUser("u1", "100", cycle.RoleOwner, cycle.Record{
			StartDates: []time.Time{daysAgo(0)},
		}))
		disp := &capture{}
		if _, err := newRouter(t, s, disp).Sweep(context.Background(), tick); err != nil {
			t.Fatalf("Sweep: %v", err)
		}
		if !containsText(disp.byChat(100), "Period logged for today") {
			t.Fatalf("want confirmed wording, got %q", disp.byChat(100))
		}
	})
	t.Run("estimated", func(t *testing.T) {
		t.Parallel()
		s := storage.NewMemory()
		mustUpsert(t, s, activeUser("u1", "100", cycle.RoleOwner, cycle.Record{
			StartDates: []time.Time{daysAgo(28)},
		}))
		disp := &capture{}
		if _, err := newRouter(t, s, disp).Sweep(context.Background(), tick); err != nil {
			t.Fatalf("Sweep: %v", err)
		}
		if !containsText(disp.byChat(100), "estimated to start today") {
			t.Fatalf("want estimated wording, got %q", disp.byChat(100))
		}
	})
}

func TestObserverFanOut(t *testing.T) {
	t.Parallel()
	s := storage.NewMemory()
	ctx := context.Background()
	// Day 15 of 28: estimated ovulation day.
	mustUpsert(t, s, activeUser("owner", "100", cycle.RoleOwner, cycle.Record{
		StartDates: []time.Time{daysAgo(14)},
	}))
	mustUpsert(t, s, activeUser("partner", "200", cycle.RoleObserver, cycle.Record{}))
	if err := s.LinkPartners(ctx, "owner", "partner"); err != nil {
		t.Fatalf("LinkPartners: %v", err)
	}
	if err := s.UpsertContent(ctx, content.Item{
		ID: "c1", Title: "Fertile window", Body: "ovulation basics",
		Phases: []string{"ovulation"},
	}); err != nil {
		t.Fatalf("UpsertContent: %v", err)
	}

	disp := &capture{}
	rep, err := newRouter(t, s, disp).Sweep(ctx, tick)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	ownerMsgs := disp.byChat(100)
	obsMsgs := disp.byChat(200)
	if !containsText(ownerMsgs, "your estimated ovulation day") {
		t.Fatalf("owner missing ovulation text: %q", ownerMsgs)
	}
	if !containsText(obsMsgs, "your partner's estimated ovulation day") {
		t.Fatalf("observer missing partner wording: %q", obsMsgs)
	}
	// Both recipients get the phase-matched tip, on their own ledger rows.
	if !containsText(ownerMsgs, "ovulation basics") || !containsText(obsMsgs, "ovulation basics") {
		t.Fatalf("phase-matched tip missing: owner %q observer %q", ownerMsgs, obsMsgs)
	}
	// Both sides of the pair were swept; the second side's event rules must
	// land on the ledger, not on the user.
	if rep.Suppressed == 0 {
		t.Fatalf("expected ledger suppressions sweeping both pair sides, report %+v", rep)
	}
	if got := disp.count(); got != 4 {
		t.Fatalf("dispatched %d messages, want 4", got)
	}
}

func TestAmbiguousPairSkipsCycleRules(t *testing.T) {
	t.Parallel()
	s := storage.NewMemory()
	ctx := context.Background()
	mustUpsert(t, s, activeUser("a", "100", cycle.RoleOwner, cycle.Record{
		StartDates: []time.Time{daysAgo(14)},
	}))
	mustUpsert(t, s, activeUser("b", "200", cycle.RoleOwner, cycle.Record{
		StartDates: []time.Time{daysAgo(3)},
	}))
	if err := s.LinkPartners(ctx, "a", "b"); err != nil {
		t.Fatalf("LinkPartners: %v", err)
	}

	disp := &capture{}
	if _, err := newRouter(t, s, disp).Sweep(ctx, tick); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	// Tips only; no event rule runs on an unresolved pair.
	if got := disp.count(); got != 2 {
		t.Fatalf("dispatched %d, want 2 tips", got)
	}
	for _, chat := range []int64{100, 200} {
		msgs := disp.byChat(chat)
		if len(msgs) != 1 || !strings.Contains(msgs[0], "💡") {
			t.Fatalf("chat %d: want a single tip, got %q", chat, msgs)
		}
	}
}

func TestPreferredHourFilter(t *testing.T) {
	t.Parallel()
	s := storage.NewMemory()
	ten := 10
	u := activeUser("u1", "100", cycle.RoleOwner, cycle.Record{
		StartDates: []time.Time{daysAgo(24)},
	})
	u.PreferredHour = &ten
	mustUpsert(t, s, u)

	disp := &capture{}
	r := newRouter(t, s, disp)

	rep, err := r.Sweep(context.Background(), tick) // 09:00 tick
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if rep.Skipped != 1 || disp.count() != 0 {
		t.Fatalf("09:00 tick: Skipped=%d dispatched=%d, want 1/0", rep.Skipped, disp.count())
	}

	if _, err := r.Sweep(context.Background(), tick.Add(time.Hour)); err != nil {
		t.Fatalf("Sweep at 10: %v", err)
	}
	if disp.count() == 0 {
		t.Fatal("10:00 tick dispatched nothing for preferred-hour-10 user")
	}
}

func TestUnreachableHandleCountsAsFailure(t *testing.T) {
	t.Parallel()
	s := storage.NewMemory()
	mustUpsert(t, s, activeUser("u1", "", cycle.RoleOwner, cycle.Record{
		StartDates: []time.Time{daysAgo(24)},
	}))
	disp := &capture{}
	rep, err := newRouter(t, s, disp).Sweep(context.Background(), tick)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if rep.Failures == 0 {
		t.Fatalf("want failures for empty handle, report %+v", rep)
	}
	if disp.count() != 0 {
		t.Fatalf("dispatched %d to an unreachable handle", disp.count())
	}
}
