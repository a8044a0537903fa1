// Package device holds the participant's on-device state: the stored
// participant code and the registered reminder triggers. Both live in a
// small SQLite file readable only by the current user.
package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/soaringjerry/FlashTrack/internal/checkin"
	"github.com/soaringjerry/FlashTrack/internal/reminders"
)

// ErrNoCode is returned by LoadCode before onboarding or after deletion.
var ErrNoCode = errors.New("no participant code stored")

const (
	keyParticipantCode = "participant_code"
	keyPermission      = "notification_permission"
)

const schema = `
CREATE TABLE IF NOT EXISTS settings (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS triggers (
	id            TEXT PRIMARY KEY,
	window_id     INTEGER NOT NULL,
	hour          INTEGER NOT NULL,
	minute        INTEGER NOT NULL,
	title         TEXT NOT NULL,
	body          TEXT NOT NULL,
	created_at    TEXT NOT NULL,
	last_fired_at TEXT
);
CREATE TABLE IF NOT EXISTS trigger_anchors (
	window_id     INTEGER NOT NULL,
	hour          INTEGER NOT NULL,
	minute        INTEGER NOT NULL,
	created_at    TEXT NOT NULL,
	last_fired_at TEXT,
	PRIMARY KEY (window_id, hour, minute)
);`

// Store is the device state database. It implements reminders.Delivery.
type Store struct {
	db *sql.DB
	// answer is what RequestPermission resolves to on this device.
	answer reminders.Permission
	now    func() time.Time
	logger *slog.Logger
}

// Options tune Open.
type Options struct {
	// PermissionAnswer is returned by RequestPermission when the status is undetermined.
	PermissionAnswer reminders.Permission
	Logger           *slog.Logger
}

// Open creates or opens the device database at path.
func Open(path string, opts Options) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("device store path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create device dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000", filepath.ToSlash(path))
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open device db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init device schema: %w", err)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("restrict device db permissions: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, answer: opts.PermissionAnswer, now: time.Now, logger: logger}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) getSetting(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read setting %s: %w", key, err)
	}
	return v, true, nil
}

func (s *Store) setSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO settings(key, value) VALUES(?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("write setting %s: %w", key, err)
	}
	return nil
}

// SaveCode stores the participant code, replacing any previous one.
func (s *Store) SaveCode(ctx context.Context, code string) error {
	code = strings.TrimSpace(code)
	if code == "" {
		return errors.New("participant code is empty")
	}
	return s.setSetting(ctx, keyParticipantCode, code)
}

func (s *Store) LoadCode(ctx context.Context) (string, error) {
	v, ok, err := s.getSetting(ctx, keyParticipantCode)
	if err != nil {
		return "", err
	}
	if !ok || v == "" {
		return "", ErrNoCode
	}
	return v, nil
}

func (s *Store) RemoveCode(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM settings WHERE key = ?`, keyParticipantCode); err != nil {
		return fmt.Errorf("remove participant code: %w", err)
	}
	return nil
}

// Wipe drops the code, every trigger with its delivery history and the
// stored permission.
func (s *Store) Wipe(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin wipe: %w", err)
	}
	for _, stmt := range []string{`DELETE FROM settings`, `DELETE FROM triggers`, `DELETE FROM trigger_anchors`} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("wipe device state: %w", err)
		}
	}
	return tx.Commit()
}

func (s *Store) PermissionStatus(ctx context.Context) (reminders.Permission, error) {
	v, _, err := s.getSetting(ctx, keyPermission)
	if err != nil {
		return reminders.PermissionUndetermined, err
	}
	return reminders.ParsePermission(v)
}

// RequestPermission records this device's configured answer the first time
// it is asked; later calls return the stored decision.
func (s *Store) RequestPermission(ctx context.Context) (reminders.Permission, error) {
	current, err := s.PermissionStatus(ctx)
	if err != nil || current != reminders.PermissionUndetermined {
		return current, err
	}
	if err := s.SetPermission(ctx, s.answer); err != nil {
		return reminders.PermissionUndetermined, err
	}
	return s.answer, nil
}

func (s *Store) SetPermission(ctx context.Context, p reminders.Permission) error {
	return s.setSetting(ctx, keyPermission, p.String())
}

// CancelAll removes every registered trigger. The delivery bookkeeping of
// each one is kept under its window and time of day so that re-registering
// the same reminder does not forget an occurrence that is still owed.
func (s *Store) CancelAll(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin cancel: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `INSERT INTO trigger_anchors(window_id, hour, minute, created_at, last_fired_at)
		SELECT window_id, hour, minute, created_at, last_fired_at FROM triggers WHERE true
		ON CONFLICT(window_id, hour, minute) DO UPDATE SET
			created_at = excluded.created_at, last_fired_at = excluded.last_fired_at`); err != nil {
		return fmt.Errorf("keep trigger anchors: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM triggers`)
	if err != nil {
		return fmt.Errorf("cancel triggers: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit cancel: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		s.logger.Debug("triggers cancelled", slog.Int64("count", n))
	}
	return nil
}

// RegisterDaily adds a daily trigger. A trigger previously cancelled for the
// same window and time of day resumes from its old bookkeeping; anything
// else counts from now.
func (s *Store) RegisterDaily(ctx context.Context, t reminders.Trigger) (string, error) {
	if !t.At.Valid() {
		return "", fmt.Errorf("invalid trigger time %s", t.At)
	}
	createdAt := formatTime(s.now())
	var lastFired sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT created_at, last_fired_at FROM trigger_anchors
		WHERE window_id = ? AND hour = ? AND minute = ?`, t.WindowID, t.At.Hour, t.At.Minute).Scan(&createdAt, &lastFired)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("read trigger anchor: %w", err)
	}
	id := uuid.NewString()
	_, err = s.db.ExecContext(ctx, `INSERT INTO triggers(id, window_id, hour, minute, title, body, created_at, last_fired_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?)`, id, t.WindowID, t.At.Hour, t.At.Minute, t.Title, t.Body, createdAt, lastFired)
	if err != nil {
		return "", fmt.Errorf("insert trigger: %w", err)
	}
	return id, nil
}

// RegisteredTrigger is a trigger row together with its delivery bookkeeping.
type RegisteredTrigger struct {
	ID          string
	Trigger     reminders.Trigger
	CreatedAt   time.Time
	LastFiredAt time.Time // zero until first delivery
}

// Triggers lists registered triggers ordered by time of day.
func (s *Store) Triggers(ctx context.Context) ([]RegisteredTrigger, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, window_id, hour, minute, title, body, created_at, last_fired_at
		FROM triggers ORDER BY hour, minute, id`)
	if err != nil {
		return nil, fmt.Errorf("list triggers: %w", err)
	}
	defer rows.Close()
	var out []RegisteredTrigger
	for rows.Next() {
		var (
			rt        RegisteredTrigger
			createdAt string
			lastFired sql.NullString
		)
		if err := rows.Scan(&rt.ID, &rt.Trigger.WindowID, &rt.Trigger.At.Hour, &rt.Trigger.At.Minute,
			&rt.Trigger.Title, &rt.Trigger.Body, &createdAt, &lastFired); err != nil {
			return nil, fmt.Errorf("scan trigger: %w", err)
		}
		rt.CreatedAt = parseTime(createdAt)
		if lastFired.Valid {
			rt.LastFiredAt = parseTime(lastFired.String)
		}
		out = append(out, rt)
	}
	return out, rows.Err()
}

// MarkFired records a successful delivery of trigger id at t.
func (s *Store) MarkFired(ctx context.Context, id string, t time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE triggers SET last_fired_at = ? WHERE id = ?`, formatTime(t), id)
	if err != nil {
		return fmt.Errorf("mark trigger fired: %w", err)
	}
	return nil
}

// Due reports the occurrence of rt that should be delivered at now, if any:
// the latest scheduled instant not yet covered by creation or a delivery.
func (rt RegisteredTrigger) Due(now time.Time) (time.Time, bool) {
	last := checkin.LastOccurrence(rt.Trigger.At, now)
	anchor := rt.CreatedAt
	if rt.LastFiredAt.After(anchor) {
		anchor = rt.LastFiredAt
	}
	if last.After(anchor) {
		return last, true
	}
	return time.Time{}, false
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

var _ reminders.Delivery = (*Store)(nil)
