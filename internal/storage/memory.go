package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"cyclebot/internal/content"
	"cyclebot/internal/cycle"
	"cyclebot/internal/symptoms"
)

// memoryStore is an in-process Store used by tests and dry runs. It mirrors
// the sqlite driver's semantics, including the atomic ledger insert.
type memoryStore struct {
	mu sync.Mutex

	users    map[string]User
	symptomL map[string]map[string]struct{} // userID|date -> set of "cat|key"
	items    map[string]content.Item
	sent     map[string]struct{} // userID|rule|date
	audits   []AuditEntry
}

func NewMemory() Store {
	return &memoryStore{
		users:    map[string]User{},
		symptomL: map[string]map[string]struct{}{},
		items:    map[string]content.Item{},
		sent:     map[string]struct{}{},
	}
}

func (s *memoryStore) Close() error { return nil }

func (s *memoryStore) FindActiveUsers(ctx context.Context, now time.Time) ([]User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []User
	for _, u := range s.users {
		if u.Active(now) {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memoryStore) ListUsers(ctx context.Context) ([]User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memoryStore) GetUser(ctx context.Context, id string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := u
	return &cp, nil
}

func (s *memoryStore) GetPartner(ctx context.Context, id string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	if u.PartnerID == "" {
		return nil, nil
	}
	p, ok := s.users[u.PartnerID]
	if !ok {
		return nil, nil
	}
	cp := p
	return &cp, nil
}

func (s *memoryStore) UpsertUser(ctx context.Context, u User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.Subscription == "" {
		u.Subscription = SubNone
	}
	s.users[u.ID] = u
	return nil
}

func (s *memoryStore) LinkPartners(ctx context.Context, aID, bID string) error {
	if aID == bID {
		return ErrLinkConflict
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.users[aID]
	if !ok {
		return fmt.Errorf("%w: user %s", ErrNotFound, aID)
	}
	b, ok := s.users[bID]
	if !ok {
		return fmt.Errorf("%w: user %s", ErrNotFound, bID)
	}
	if a.PartnerID != "" || b.PartnerID != "" {
		return ErrLinkConflict
	}
	a.PartnerID = bID
	b.PartnerID = aID
	s.users[aID] = a
	s.users[bID] = b
	return nil
}

func (s *memoryStore) UnlinkPartners(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return fmt.Errorf("%w: user %s", ErrNotFound, id)
	}
	if p, ok := s.users[u.PartnerID]; ok && p.PartnerID == id {
		p.PartnerID = ""
		s.users[p.ID] = p
	}
	u.PartnerID = ""
	s.users[id] = u
	return nil
}

func (s *memoryStore) AppendPeriodStart(ctx context.Context, id string, start, today time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return ErrNotFound
	}
	if u.DataErr != nil {
		return u.DataErr
	}
	rec, err := u.Record.Append(start, today)
	if err != nil {
		return err
	}
	u.Record = rec
	s.users[id] = u
	return nil
}

func (s *memoryStore) SetAverages(ctx context.Context, id string, periodDays, cycleDays int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return ErrNotFound
	}
	if periodDays > 0 {
		u.Record.AvgPeriodDays = periodDays
	}
	if cycleDays > 0 {
		u.Record.AvgCycleDays = cycleDays
	}
	s.users[id] = u
	return nil
}

func symptomDayKey(id string, date time.Time) string {
	return id + "|" + cycle.Day(date).Format(dateFormat)
}

func (s *memoryStore) LogSymptom(ctx context.Context, id string, date time.Time, category, key string) error {
	if !symptoms.Valid(category, key) {
		return fmt.Errorf("unknown symptom %s/%s", category, key)
	}
	s.mu.Lock()
	dk := symptomDayKey(id, date)
	set, ok := s.symptomL[dk]
	if !ok {
		set = map[string]struct{}{}
		s.symptomL[dk] = set
	}
	set[category+"|"+key] = struct{}{}
	s.mu.Unlock()
	return s.UpdateLastSymptomLog(ctx, id, date)
}

func (s *memoryStore) SymptomsForDate(ctx context.Context, id string, date time.Time) ([]symptoms.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.symptomL[symptomDayKey(id, date)]
	var out []symptoms.Entry
	for k := range set {
		var e symptoms.Entry
		for i := 0; i < len(k); i++ {
			if k[i] == '|' {
				e.Category, e.Key = k[:i], k[i+1:]
				break
			}
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Category != out[j].Category {
			return out[i].Category < out[j].Category
		}
		return out[i].Key < out[j].Key
	})
	return out, nil
}

func (s *memoryStore) UpdateLastSymptomLog(ctx context.Context, id string, date time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return ErrNotFound
	}
	u.LastSymptomLog = cycle.Day(date)
	s.users[id] = u
	return nil
}

func (s *memoryStore) ContentItems(ctx context.Context) ([]content.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]content.Item, 0, len(s.items))
	for _, it := range s.items {
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memoryStore) UpsertContent(ctx context.Context, it content.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[it.ID] = it
	return nil
}

func (s *memoryStore) TryRecordSent(ctx context.Context, userID, rule string, refDate time.Time) (bool, error) {
	key := userID + "|" + rule + "|" + cycle.Day(refDate).Format(dateFormat)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sent[key]; exists {
		return false, nil
	}
	s.sent[key] = struct{}{}
	return true, nil
}

func (s *memoryStore) MarkSubscription(ctx context.Context, id string, status SubscriptionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return ErrNotFound
	}
	u.Subscription = status
	s.users[id] = u
	return nil
}

func (s *memoryStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.At.IsZero() {
		e.At = time.Now()
	}
	s.audits = append(s.audits, e)
	return nil
}
