package storage

import (
	"context"
	"errors"
	"time"

	"cyclebot/internal/content"
	"cyclebot/internal/cycle"
	"cyclebot/internal/symptoms"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrNotFound = errors.New("not found")
	// ErrLinkConflict is returned when a two-sided link/unlink would leave an
	// asymmetric pair, e.g. linking a user who is already linked elsewhere.
	ErrLinkConflict = errors.New("partner link conflict")
)

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file (default)
//   - "memory": in-process store (tests, dry runs)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

type SubscriptionStatus string

const (
	SubNone      SubscriptionStatus = "none"
	SubFreeTrial SubscriptionStatus = "free_trial"
	SubActive    SubscriptionStatus = "active"
	SubExpired   SubscriptionStatus = "expired"
)

// User is one directory row, decrypted for use.
//
// DataErr is non-nil when the sensitive fields (chat handle, cycle history)
// could not be decrypted or parsed; the row is still returned so reminder
// rules that don't need cycle data can run, but cycle-dependent rules must
// skip it.
type User struct {
	ID         string
	ChatHandle string
	Role       cycle.Role
	PartnerID  string
	Record     cycle.Record
	// LastSymptomLog is zero when the user never logged a symptom.
	LastSymptomLog time.Time
	// PreferredHour is the user's notification hour (0-23), nil when unset.
	PreferredHour *int

	Subscription SubscriptionStatus
	SubEndsAt    time.Time
	TrialEndsAt  time.Time

	DataErr error
}

// Active reports whether the user is eligible for notifications at now:
// an active subscription, or a free trial that has not ended.
func (u User) Active(now time.Time) bool {
	switch u.Subscription {
	case SubActive:
		return true
	case SubFreeTrial:
		return u.TrialEndsAt.After(now)
	default:
		return false
	}
}

// AuditEntry records a notable action. Keep it compact and schema-stable.
type AuditEntry struct {
	At     time.Time
	Actor  string
	Action string
	Target string
	Detail string
}

// Store is the persistence API used by the router, subscription checker,
// and command handlers.
type Store interface {
	// User directory.
	FindActiveUsers(ctx context.Context, now time.Time) ([]User, error)
	// ListUsers returns every row regardless of subscription state; the
	// lifecycle check needs lapsed users too.
	ListUsers(ctx context.Context) ([]User, error)
	GetUser(ctx context.Context, id string) (*User, error)
	GetPartner(ctx context.Context, id string) (*User, error)
	UpsertUser(ctx context.Context, u User) error

	// LinkPartners sets the symmetric back-reference on both rows in one
	// transaction; UnlinkPartners clears both sides the same way.
	LinkPartners(ctx context.Context, aID, bID string) error
	UnlinkPartners(ctx context.Context, id string) error

	// Cycle record lifecycle.
	AppendPeriodStart(ctx context.Context, id string, start, today time.Time) error
	SetAverages(ctx context.Context, id string, periodDays, cycleDays int) error

	// Symptom log.
	LogSymptom(ctx context.Context, id string, date time.Time, category, key string) error
	SymptomsForDate(ctx context.Context, id string, date time.Time) ([]symptoms.Entry, error)
	UpdateLastSymptomLog(ctx context.Context, id string, date time.Time) error

	// Content collection (plaintext on read).
	ContentItems(ctx context.Context) ([]content.Item, error)
	UpsertContent(ctx context.Context, it content.Item) error

	// TryRecordSent is the idempotency ledger: a single atomic conditional
	// insert keyed by (user, rule, reference date). It returns true when the
	// entry was newly recorded and false when it already existed.
	TryRecordSent(ctx context.Context, userID, rule string, refDate time.Time) (bool, error)

	MarkSubscription(ctx context.Context, id string, status SubscriptionStatus) error

	AppendAudit(ctx context.Context, e AuditEntry) error
	Close() error
}
