package subscription

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"cyclebot/internal/storage"
	kit "cyclebot/internal/transport"
	logx "cyclebot/pkg/logx"
)

var now = time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC)

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

func (c *capture) texts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, n := range c.msgs {
		out = append(out, n.Text)
	}
	return out
}

func seed(t *testing.T, s storage.Store, id string, status storage.SubscriptionStatus, subEnds, trialEnds time.Time) {
	t.Helper()
	err := s.UpsertUser(context.Background(), storage.User{
		ID:           id,
		ChatHandle:   "100",
		Subscription: status,
		SubEndsAt:    subEnds,
		TrialEndsAt:  trialEnds,
	})
	if err != nil {
		t.Fatalf("UpsertUser(%s): %v", id, err)
	}
}

func status(t *testing.T, s storage.Store, id string) storage.SubscriptionStatus {
	t.Helper()
	u, err := s.GetUser(context.Background(), id)
	if err != nil {
		t.Fatalf("GetUser(%s): %v", id, err)
	}
	return u.Subscription
}

func TestExpiry(t *testing.T) {
	t.Parallel()
	s := storage.NewMemory()
	seed(t, s, "paid", storage.SubActive, now.Add(-time.Hour), time.Time{})
	seed(t, s, "trial", storage.SubFreeTrial, time.Time{}, now.Add(-time.Hour))

	disp := &capture{}
	rep, err := New(Config{}, s, disp, logx.Nop()).Check(context.Background(), now)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if rep.Expired != 2 || rep.Failures != 0 {
		t.Fatalf("report %+v, want 2 expired, 0 failures", rep)
	}
	if got := status(t, s, "paid"); got != storage.SubExpired {
		t.Fatalf("paid status = %s, want expired", got)
	}
	if got := status(t, s, "trial"); got != storage.SubNone {
		t.Fatalf("trial status = %s, want none", got)
	}
	texts := disp.texts()
	if len(texts) != 2 {
		t.Fatalf("sent %d notices, want 2: %q", len(texts), texts)
	}
	var sawSub, sawTrial bool
	for _, m := range texts {
		sawSub = sawSub || strings.Contains(m, "subscription has expired")
		sawTrial = sawTrial || strings.Contains(m, "trial has ended")
	}
	if !sawSub || !sawTrial {
		t.Fatalf("missing expiry wording: %q", texts)
	}
}

func TestWarningWindow(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		daysOut int
		want    bool
	}{
		{"ends today", 0, true},
		{"ends in three days", 3, true},
		{"ends in four days", 4, false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := storage.NewMemory()
			ends := now.Add(time.Duration(tt.daysOut) * 24 * time.Hour).Add(time.Hour)
			seed(t, s, "u", storage.SubActive, ends, time.Time{})

			disp := &capture{}
			rep, err := New(Config{}, s, disp, logx.Nop()).Check(context.Background(), now)
			if err != nil {
				t.Fatalf("Check: %v", err)
			}
			if got := rep.Warned == 1; got != tt.want {
				t.Fatalf("warned = %v, want %v (report %+v)", got, tt.want, rep)
			}
			if got := status(t, s, "u"); got != storage.SubActive {
				t.Fatalf("status = %s, want still active", got)
			}
		})
	}
}

func TestWarningNotRepeated(t *testing.T) {
	t.Parallel()
	s := storage.NewMemory()
	ends := now.Add(48*time.Hour + time.Hour)
	seed(t, s, "u", storage.SubFreeTrial, time.Time{}, ends)

	disp := &capture{}
	c := New(Config{}, s, disp, logx.Nop())

	rep, err := c.Check(context.Background(), now)
	if err != nil {
		t.Fatalf("first Check: %v", err)
	}
	if rep.Warned != 1 {
		t.Fatalf("first check warned %d, want 1", rep.Warned)
	}
	rep2, err := c.Check(context.Background(), now)
	if err != nil {
		t.Fatalf("second Check: %v", err)
	}
	if rep2.Warned != 0 {
		t.Fatalf("second check warned %d, want 0 (ledger)", rep2.Warned)
	}
	if got := len(disp.texts()); got != 1 {
		t.Fatalf("sent %d notices, want 1", got)
	}
}
