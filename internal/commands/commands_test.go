package commands

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

type replyAdapter struct {
	mu      sync.Mutex
	replies []string
}

func (a *replyAdapter) Start(ctx context.Context, out chan<- kit.Update) error { return nil }
func (a *replyAdapter) Stop(ctx context.Context) error                         { return nil }

func (a *replyAdapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.replies = append(a.replies, text)
	return kit.MessageRef{ChatID: to.ChatID}, nil
}

func (a *replyAdapter) last() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.replies) == 0 {
		return ""
	}
	return a.replies[len(a.replies)-1]
}

func newHandler(t *testing.T) (*Handler, storage.Store, *replyAdapter) {
	t.Helper()
	s := storage.NewMemory()
	ad := &replyAdapter{}
	h := New(Config{}, s, ad, logx.Nop())
	h.now = func() time.Time {
		return time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)
	}
	return h, s, ad
}

func send(h *Handler, fromID, chatID int64, text string) {
	h.handle(context.Background(), kit.Message{FromID: fromID, ChatID: chatID, Text: text})
}

func TestStartPeriodStatus(t *testing.T) {
	t.Parallel()
	h, s, ad := newHandler(t)

	send(h, 7, 70, "/start")
	if !strings.Contains(ad.last(), "free trial") {
		t.Fatalf("start reply: %q", ad.last())
	}
	u, err := s.GetUser(context.Background(), "7")
	if err != nil {
		t.Fatalf("GetUser after /start: %v", err)
	}
	if u.Subscription != storage.SubFreeTrial || u.ChatHandle != "70" {
		t.Fatalf("registered user %+v", u)
	}

	send(h, 7, 70, "/status")
	if !strings.Contains(ad.last(), "No period history yet") {
		t.Fatalf("status before history: %q", ad.last())
	}

	send(h, 7, 70, "/period 2026-03-01")
	if !strings.Contains(ad.last(), "logged for 2026-03-01") {
		t.Fatalf("period reply: %q", ad.last())
	}
	send(h, 7, 70, "/status")
	got := ad.last()
	if !strings.Contains(got, "Day 10") || !strings.Contains(got, "follicular") {
		t.Fatalf("status after history: %q", got)
	}

	// Future dates are refused, not stored.
	send(h, 7, 70, "/period 2027-01-01")
	if !strings.Contains(ad.last(), "future") {
		t.Fatalf("future period reply: %q", ad.last())
	}
}

func TestLinkConflict(t *testing.T) {
	t.Parallel()
	h, _, ad := newHandler(t)
	send(h, 1, 10, "/start")
	send(h, 2, 20, "/start")
	send(h, 3, 30, "/start")

	send(h, 1, 10, "/link 2")
	if !strings.Contains(ad.last(), "Linked!") {
		t.Fatalf("link reply: %q", ad.last())
	}
	send(h, 3, 30, "/link 2")
	if !strings.Contains(ad.last(), "already linked") {
		t.Fatalf("conflict reply: %q", ad.last())
	}
}

func TestSymptomValidation(t *testing.T) {
	t.Parallel()
	h, s, ad := newHandler(t)
	send(h, 7, 70, "/start")

	send(h, 7, 70, "/symptom aches cramps")
	if !strings.Contains(ad.last(), "Logged aches/cramps") {
		t.Fatalf("symptom reply: %q", ad.last())
	}
	u, _ := s.GetUser(context.Background(), "7")
	if u.LastSymptomLog.IsZero() {
		t.Fatal("LastSymptomLog not updated")
	}

	send(h, 7, 70, "/symptom vibes immaculate")
	if !strings.Contains(ad.last(), "Unknown symptom") {
		t.Fatalf("invalid symptom reply: %q", ad.last())
	}
}

func TestUnregisteredAndUnknownCommands(t *testing.T) {
	t.Parallel()
	h, _, ad := newHandler(t)

	send(h, 9, 90, "/period")
	if !strings.Contains(ad.last(), "not registered") {
		t.Fatalf("unregistered reply: %q", ad.last())
	}

	before := len(ad.replies)
	send(h, 9, 90, "/frobnicate")
	send(h, 9, 90, "hello there")
	if len(ad.replies) != before {
		t.Fatalf("unknown input produced replies: %q", ad.replies[before:])
	}
}
