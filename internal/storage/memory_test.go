package storage

import (
	"context"
	"testing"
	"time"

	"cyclebot/internal/cycle"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestLedgerInsertIfAbsent(t *testing.T) {
	t.Parallel()
	s := NewMemory()
	ctx := context.Background()
	ref := day(2024, 1, 29)

	fresh, err := s.TryRecordSent(ctx, "u1", "pre-pms", ref)
	if err != nil || !fresh {
		t.Fatalf("first TryRecordSent = %v,%v, want true,nil", fresh, err)
	}
	again, err := s.TryRecordSent(ctx, "u1", "pre-pms", ref)
	if err != nil || again {
		t.Fatalf("second TryRecordSent = %v,%v, want false,nil", again, err)
	}

	// Different rule, user, or reference date are independent keys.
	for _, tc := range []struct{ user, rule string; ref time.Time }{
		{"u1", "ovulation", ref},
		{"u2", "pre-pms", ref},
		{"u1", "pre-pms", ref.AddDate(0, 0, 28)},
	} {
		fresh, err := s.TryRecordSent(ctx, tc.user, tc.rule, tc.ref)
		if err != nil || !fresh {
			t.Fatalf("TryRecordSent(%s,%s) = %v,%v, want true,nil", tc.user, tc.rule, fresh, err)
		}
	}
}

func TestLinkUnlinkSymmetric(t *testing.T) {
	t.Parallel()
	s := NewMemory()
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		if err := s.UpsertUser(ctx, User{ID: id, Subscription: SubActive}); err != nil {
			t.Fatalf("UpsertUser(%s): %v", id, err)
		}
	}

	if err := s.LinkPartners(ctx, "a", "b"); err != nil {
		t.Fatalf("LinkPartners: %v", err)
	}
	a, _ := s.GetUser(ctx, "a")
	b, _ := s.GetUser(ctx, "b")
	if a.PartnerID != "b" || b.PartnerID != "a" {
		t.Fatalf("link not symmetric: a->%q b->%q", a.PartnerID, b.PartnerID)
	}

	// Linking an already linked user must fail without touching either side.
	if err := s.LinkPartners(ctx, "a", "c"); err == nil {
		t.Fatal("expected conflict linking already-linked user")
	}
	c, _ := s.GetUser(ctx, "c")
	if c.PartnerID != "" {
		t.Fatalf("conflict mutated third user: %q", c.PartnerID)
	}

	if err := s.UnlinkPartners(ctx, "b"); err != nil {
		t.Fatalf("UnlinkPartners: %v", err)
	}
	a, _ = s.GetUser(ctx, "a")
	b, _ = s.GetUser(ctx, "b")
	if a.PartnerID != "" || b.PartnerID != "" {
		t.Fatalf("unlink not symmetric: a->%q b->%q", a.PartnerID, b.PartnerID)
	}

	if err := s.LinkPartners(ctx, "a", "a"); err == nil {
		t.Fatal("expected self-link rejection")
	}
}

func TestFindActiveUsers(t *testing.T) {
	t.Parallel()
	s := NewMemory()
	ctx := context.Background()
	now := day(2024, 3, 1)

	_ = s.UpsertUser(ctx, User{ID: "active", Subscription: SubActive})
	_ = s.UpsertUser(ctx, User{ID: "trial", Subscription: SubFreeTrial, TrialEndsAt: now.AddDate(0, 0, 2)})
	_ = s.UpsertUser(ctx, User{ID: "trial-over", Subscription: SubFreeTrial, TrialEndsAt: now.AddDate(0, 0, -1)})
	_ = s.UpsertUser(ctx, User{ID: "expired", Subscription: SubExpired})

	users, err := s.FindActiveUsers(ctx, now)
	if err != nil {
		t.Fatalf("FindActiveUsers: %v", err)
	}
	if len(users) != 2 {
		t.Fatalf("len = %d, want 2", len(users))
	}
	if users[0].ID != "active" || users[1].ID != "trial" {
		t.Fatalf("unexpected users: %s, %s", users[0].ID, users[1].ID)
	}
}

func TestSymptomSetSemantics(t *testing.T) {
	t.Parallel()
	s := NewMemory()
	ctx := context.Background()
	d := day(2024, 1, 10)
	_ = s.UpsertUser(ctx, User{ID: "u", Subscription: SubActive})

	if err := s.LogSymptom(ctx, "u", d, "aches", "cramps"); err != nil {
		t.Fatalf("LogSymptom: %v", err)
	}
	// Duplicate log is a no-op, not an error.
	if err := s.LogSymptom(ctx, "u", d, "aches", "cramps"); err != nil {
		t.Fatalf("duplicate LogSymptom: %v", err)
	}
	if err := s.LogSymptom(ctx, "u", d, "mood", "tired"); err != nil {
		t.Fatalf("LogSymptom: %v", err)
	}
	if err := s.LogSymptom(ctx, "u", d, "nope", "nope"); err == nil {
		t.Fatal("expected unknown-symptom rejection")
	}

	got, err := s.SymptomsForDate(ctx, "u", d)
	if err != nil {
		t.Fatalf("SymptomsForDate: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}

	u, _ := s.GetUser(ctx, "u")
	if !u.LastSymptomLog.Equal(d) {
		t.Fatalf("LastSymptomLog = %v, want %v", u.LastSymptomLog, d)
	}
}

func TestAppendPeriodStartThroughStore(t *testing.T) {
	t.Parallel()
	s := NewMemory()
	ctx := context.Background()
	today := day(2024, 2, 1)
	_ = s.UpsertUser(ctx, User{ID: "u", Subscription: SubActive})

	if err := s.AppendPeriodStart(ctx, "u", day(2024, 1, 1), today); err != nil {
		t.Fatalf("AppendPeriodStart: %v", err)
	}
	if err := s.AppendPeriodStart(ctx, "u", day(2024, 1, 29), today); err != nil {
		t.Fatalf("AppendPeriodStart: %v", err)
	}
	if err := s.AppendPeriodStart(ctx, "u", day(2024, 1, 29), today); err == nil {
		t.Fatal("expected duplicate rejection")
	}

	u, _ := s.GetUser(ctx, "u")
	if last, _ := u.Record.Last(); !last.Equal(day(2024, 1, 29)) {
		t.Fatalf("Last = %v, want 2024-01-29", last)
	}
	if _, ok := u.Record.CurrentCycleDay(today); !ok {
		t.Fatal("expected valid cycle day")
	}
	if u.Record.AvgCycleDays != 0 {
		t.Fatalf("averages should be unset, got %d", u.Record.AvgCycleDays)
	}
	if err := s.SetAverages(ctx, "u", 6, 30); err != nil {
		t.Fatalf("SetAverages: %v", err)
	}
	u, _ = s.GetUser(ctx, "u")
	if u.Record.AvgPeriodDays != 6 || u.Record.AvgCycleDays != 30 {
		t.Fatalf("averages = %d/%d, want 6/30", u.Record.AvgPeriodDays, u.Record.AvgCycleDays)
	}
	_ = cycle.Compute(u.Record, today)
}
