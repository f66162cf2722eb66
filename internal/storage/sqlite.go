package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"cyclebot/internal/content"
	"cyclebot/internal/crypt"
	"cyclebot/internal/cycle"
	"cyclebot/internal/symptoms"
	logx "cyclebot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

const dateFormat = "2006-01-02"

type sqliteStore struct {
	db    *sql.DB
	codec *crypt.Codec
	log   logx.Logger
}

func openSQLite(cfg Config, codec *crypt.Codec, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, codec: codec, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- user rows ----

type userRow struct {
	id            string
	chatHandle    sql.NullString
	role          string
	partnerID     sql.NullString
	cycleJSON     sql.NullString
	lastSymptom   sql.NullString
	preferredHour sql.NullInt64
	subStatus     string
	subEndsAt     sql.NullString
	trialEndsAt   sql.NullString
}

const userColumns = `id, chat_handle, role, partner_id, cycle_json, last_symptom_log,
	preferred_hour, sub_status, sub_ends_at, trial_ends_at`

func (s *sqliteStore) scanUser(scan func(dest ...any) error) (*User, error) {
	var r userRow
	if err := scan(&r.id, &r.chatHandle, &r.role, &r.partnerID, &r.cycleJSON,
		&r.lastSymptom, &r.preferredHour, &r.subStatus, &r.subEndsAt, &r.trialEndsAt); err != nil {
		return nil, err
	}

	u := &User{
		ID:           r.id,
		Role:         cycle.Role(r.role),
		PartnerID:    r.partnerID.String,
		Subscription: SubscriptionStatus(r.subStatus),
	}
	if r.lastSymptom.Valid && r.lastSymptom.String != "" {
		if d, err := time.Parse(dateFormat, r.lastSymptom.String); err == nil {
			u.LastSymptomLog = d
		}
	}
	if r.preferredHour.Valid {
		h := int(r.preferredHour.Int64)
		u.PreferredHour = &h
	}
	if r.subEndsAt.Valid && r.subEndsAt.String != "" {
		if t, err := time.Parse(time.RFC3339, r.subEndsAt.String); err == nil {
			u.SubEndsAt = t
		}
	}
	if r.trialEndsAt.Valid && r.trialEndsAt.String != "" {
		if t, err := time.Parse(time.RFC3339, r.trialEndsAt.String); err == nil {
			u.TrialEndsAt = t
		}
	}

	// Sensitive fields: a decrypt/parse failure marks the row unavailable for
	// cycle-dependent rules but does not hide the user.
	if r.chatHandle.Valid && r.chatHandle.String != "" {
		handle, err := s.codec.Decrypt(r.chatHandle.String)
		if err != nil {
			u.DataErr = err
		} else {
			u.ChatHandle = handle
		}
	}
	if u.DataErr == nil && r.cycleJSON.Valid && r.cycleJSON.String != "" {
		plain, err := s.codec.Decrypt(r.cycleJSON.String)
		if err != nil {
			u.DataErr = err
		} else if err := json.Unmarshal([]byte(plain), &u.Record); err != nil {
			u.DataErr = fmt.Errorf("%w: %v", crypt.ErrDataUnavailable, err)
		}
	}
	return u, nil
}

func (s *sqliteStore) FindActiveUsers(ctx context.Context, now time.Time) ([]User, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users
		WHERE sub_status = ? OR (sub_status = ? AND trial_ends_at > ?)`,
		string(SubActive), string(SubFreeTrial), now.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []User
	for rows.Next() {
		u, err := s.scanUser(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *u)
	}
	return out, rows.Err()
}

func (s *sqliteStore) ListUsers(ctx context.Context) ([]User, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []User
	for rows.Next() {
		u, err := s.scanUser(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *u)
	}
	return out, rows.Err()
}

func (s *sqliteStore) GetUser(ctx context.Context, id string) (*User, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	u, err := s.scanUser(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return u, err
}

func (s *sqliteStore) GetPartner(ctx context.Context, id string) (*User, error) {
	u, err := s.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	if u.PartnerID == "" {
		return nil, nil
	}
	p, err := s.GetUser(ctx, u.PartnerID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return p, err
}

func (s *sqliteStore) UpsertUser(ctx context.Context, u User) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	handle, err := s.encryptOrEmpty(u.ChatHandle)
	if err != nil {
		return err
	}
	cycleJSON, err := s.encryptRecord(u.Record)
	if err != nil {
		return err
	}

	var lastSymptom any
	if !u.LastSymptomLog.IsZero() {
		lastSymptom = u.LastSymptomLog.Format(dateFormat)
	}
	var preferred any
	if u.PreferredHour != nil {
		preferred = *u.PreferredHour
	}
	sub := u.Subscription
	if sub == "" {
		sub = SubNone
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO users (id, chat_handle, role, partner_id, cycle_json, last_symptom_log,
			preferred_hour, sub_status, sub_ends_at, trial_ends_at)
		VALUES (?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			chat_handle=excluded.chat_handle,
			role=excluded.role,
			partner_id=excluded.partner_id,
			cycle_json=excluded.cycle_json,
			last_symptom_log=excluded.last_symptom_log,
			preferred_hour=excluded.preferred_hour,
			sub_status=excluded.sub_status,
			sub_ends_at=excluded.sub_ends_at,
			trial_ends_at=excluded.trial_ends_at`,
		u.ID, nullStr(handle), string(u.Role), nullStr(u.PartnerID), nullStr(cycleJSON),
		lastSymptom, preferred, string(sub), nullTime(u.SubEndsAt), nullTime(u.TrialEndsAt))
	return err
}

func (s *sqliteStore) encryptOrEmpty(v string) (string, error) {
	if v == "" {
		return "", nil
	}
	return s.codec.Encrypt(v)
}

func (s *sqliteStore) encryptRecord(r cycle.Record) (string, error) {
	if len(r.StartDates) == 0 && r.AvgPeriodDays == 0 && r.AvgCycleDays == 0 {
		return "", nil
	}
	b, err := json.Marshal(r)
	if err != nil {
		return "", err
	}
	return s.codec.Encrypt(string(b))
}

// ---- partner linking ----

func (s *sqliteStore) LinkPartners(ctx context.Context, aID, bID string) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if aID == bID {
		return ErrLinkConflict
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, id := range []string{aID, bID} {
			var partner sql.NullString
			err := tx.QueryRowContext(ctx, `SELECT partner_id FROM users WHERE id = ?`, id).Scan(&partner)
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%w: user %s", ErrNotFound, id)
			}
			if err != nil {
				return err
			}
			if partner.String != "" {
				return fmt.Errorf("%w: user %s already linked", ErrLinkConflict, id)
			}
		}
		if _, err := tx.ExecContext(ctx, `UPDATE users SET partner_id = ? WHERE id = ?`, bID, aID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `UPDATE users SET partner_id = ? WHERE id = ?`, aID, bID)
		return err
	})
}

func (s *sqliteStore) UnlinkPartners(ctx context.Context, id string) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		var partner sql.NullString
		err := tx.QueryRowContext(ctx, `SELECT partner_id FROM users WHERE id = ?`, id).Scan(&partner)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: user %s", ErrNotFound, id)
		}
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE users SET partner_id = NULL WHERE id = ?`, id); err != nil {
			return err
		}
		if partner.String != "" {
			// Clear the back-reference only if it still points at us.
			_, err = tx.ExecContext(ctx,
				`UPDATE users SET partner_id = NULL WHERE id = ? AND partner_id = ?`, partner.String, id)
		}
		return err
	})
}

func (s *sqliteStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// ---- cycle record ----

func (s *sqliteStore) AppendPeriodStart(ctx context.Context, id string, start, today time.Time) error {
	u, err := s.GetUser(ctx, id)
	if err != nil {
		return err
	}
	if u.DataErr != nil {
		return u.DataErr
	}
	rec, err := u.Record.Append(start, today)
	if err != nil {
		return err
	}
	u.Record = rec
	return s.UpsertUser(ctx, *u)
}

func (s *sqliteStore) SetAverages(ctx context.Context, id string, periodDays, cycleDays int) error {
	u, err := s.GetUser(ctx, id)
	if err != nil {
		return err
	}
	if u.DataErr != nil {
		return u.DataErr
	}
	if periodDays > 0 {
		u.Record.AvgPeriodDays = periodDays
	}
	if cycleDays > 0 {
		u.Record.AvgCycleDays = cycleDays
	}
	return s.UpsertUser(ctx, *u)
}

// ---- symptom log ----

func (s *sqliteStore) LogSymptom(ctx context.Context, id string, date time.Time, category, key string) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if !symptoms.Valid(category, key) {
		return fmt.Errorf("unknown symptom %s/%s", category, key)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO symptom_log (user_id, date, category, key) VALUES (?,?,?,?)
		ON CONFLICT DO NOTHING`,
		id, cycle.Day(date).Format(dateFormat), category, key)
	if err != nil {
		return err
	}
	return s.UpdateLastSymptomLog(ctx, id, date)
}

func (s *sqliteStore) SymptomsForDate(ctx context.Context, id string, date time.Time) ([]symptoms.Entry, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT category, key FROM symptom_log WHERE user_id = ? AND date = ?`,
		id, cycle.Day(date).Format(dateFormat))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []symptoms.Entry
	for rows.Next() {
		var e symptoms.Entry
		if err := rows.Scan(&e.Category, &e.Key); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *sqliteStore) UpdateLastSymptomLog(ctx context.Context, id string, date time.Time) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET last_symptom_log = ? WHERE id = ?`,
		cycle.Day(date).Format(dateFormat), id)
	return err
}

// ---- content ----

func (s *sqliteStore) ContentItems(ctx context.Context) ([]content.Item, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, body, phases, symptom_keys, roles FROM content`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []content.Item
	for rows.Next() {
		var it content.Item
		var phases, keys, roles string
		if err := rows.Scan(&it.ID, &it.Title, &it.Body, &phases, &keys, &roles); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(phases), &it.Phases)
		_ = json.Unmarshal([]byte(keys), &it.SymptomKeys)
		_ = json.Unmarshal([]byte(roles), &it.Roles)
		out = append(out, it)
	}
	return out, rows.Err()
}

func (s *sqliteStore) UpsertContent(ctx context.Context, it content.Item) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	phases, _ := json.Marshal(it.Phases)
	keys, _ := json.Marshal(it.SymptomKeys)
	roles, _ := json.Marshal(it.Roles)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO content (id, title, body, phases, symptom_keys, roles)
		VALUES (?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			title=excluded.title, body=excluded.body, phases=excluded.phases,
			symptom_keys=excluded.symptom_keys, roles=excluded.roles`,
		it.ID, it.Title, it.Body, string(phases), string(keys), string(roles))
	return err
}

// ---- idempotency ledger ----

func (s *sqliteStore) TryRecordSent(ctx context.Context, userID, rule string, refDate time.Time) (bool, error) {
	if s == nil || s.db == nil {
		return false, ErrDisabled
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO sent_log (user_id, rule, ref_date, sent_at) VALUES (?,?,?,?)
		ON CONFLICT DO NOTHING`,
		userID, rule, cycle.Day(refDate).Format(dateFormat),
		time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ---- subscription / audit ----

func (s *sqliteStore) MarkSubscription(ctx context.Context, id string, status SubscriptionStatus) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx, `UPDATE users SET sub_status = ? WHERE id = ?`, string(status), id)
	return err
}

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit (at, actor, action, target, detail) VALUES (?,?,?,?,?)`,
		e.At.UTC().Format(time.RFC3339Nano), nullStr(e.Actor), e.Action, nullStr(e.Target), nullStr(e.Detail))
	return err
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}
