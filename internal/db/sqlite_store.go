package db

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

	"github.com/mattn/go-sqlite3"

	"github.com/soaringjerry/FlashTrack/internal/api"
	"github.com/soaringjerry/FlashTrack/internal/models"
	"github.com/soaringjerry/FlashTrack/internal/services"
)

type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (creating if needed) the database file at path and applies migrations.
func Open(path, migrationsDir string, logger *slog.Logger) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?cache=shared&_busy_timeout=5000", filepath.ToSlash(path))
	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	store, err := NewSQLiteStore(sqlDB, logger)
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	if err := RunMigrations(sqlDB, migrationsDir); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return store, nil
}

func NewSQLiteStore(db *sql.DB, logger *slog.Logger) (*SQLiteStore, error) {
	if db == nil {
		return nil, errors.New("nil db")
	}
	if logger == nil {
		logger = slog.Default()
	}
	// one connection keeps foreign_keys in force for every statement
	db.SetMaxOpenConns(1)
	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}
	for _, stmt := range pragmas {
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("apply sqlite pragma %q: %w", stmt, err)
		}
	}
	return &SQLiteStore{db: db, logger: logger}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) logErr(prefix string, err error) {
	if err != nil {
		s.logger.Error("sqlite store: "+prefix, slog.String("error", err.Error()))
	}
}

func contextBg() context.Context { return context.Background() }

func boolToInt64(v bool) int64 {
	if v {
		return 1
	}
	return 0
}

func toNullString(s string) sql.NullString {
	if strings.TrimSpace(s) == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// timeLayout has a fixed width so stored instants compare correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(v string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}
	}
	return t
}

func (s *SQLiteStore) UpsertTimeSegment(seg models.TimeSegment) error {
	_, err := s.db.ExecContext(contextBg(), `INSERT INTO time_segments(id, name, time, is_active) VALUES(?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, time = excluded.time, is_active = excluded.is_active`,
		seg.ID, seg.Name, seg.Time, boolToInt64(seg.IsActive))
	if err != nil {
		return fmt.Errorf("upsert time segment %d: %w", seg.ID, err)
	}
	return nil
}

func (s *SQLiteStore) UpsertQuestion(q models.Question) error {
	_, err := s.db.ExecContext(contextBg(), `INSERT INTO questions(id, text, is_active) VALUES(?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET text = excluded.text, is_active = excluded.is_active`,
		q.ID, q.Text, boolToInt64(q.IsActive))
	if err != nil {
		return fmt.Errorf("upsert question %d: %w", q.ID, err)
	}
	return nil
}

func (s *SQLiteStore) ListTimeSegments() ([]models.TimeSegment, error) {
	rows, err := s.db.QueryContext(contextBg(), `SELECT id, name, time, is_active FROM time_segments ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list time segments: %w", err)
	}
	defer rows.Close()
	var out []models.TimeSegment
	for rows.Next() {
		var (
			seg    models.TimeSegment
			active int64
		)
		if err := rows.Scan(&seg.ID, &seg.Name, &seg.Time, &active); err != nil {
			return nil, fmt.Errorf("scan time segment: %w", err)
		}
		seg.IsActive = active != 0
		out = append(out, seg)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ListQuestions() ([]models.Question, error) {
	rows, err := s.db.QueryContext(contextBg(), `SELECT id, text, is_active FROM questions ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	defer rows.Close()
	var out []models.Question
	for rows.Next() {
		var (
			q      models.Question
			active int64
		)
		if err := rows.Scan(&q.ID, &q.Text, &active); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		q.IsActive = active != 0
		out = append(out, q)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetParticipant(code string) (*models.Participant, error) {
	var (
		p         models.Participant
		start     sql.NullString
		locale    sql.NullString
		createdAt string
	)
	err := s.db.QueryRowContext(contextBg(), `SELECT unique_code, start_date, locale, created_at FROM unique_codes WHERE unique_code = ?`, code).
		Scan(&p.Code, &start, &locale, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get participant: %w", err)
	}
	p.StartDate = start.String
	p.Locale = locale.String
	p.CreatedAt = parseTime(createdAt)
	return &p, nil
}

func (s *SQLiteStore) AddParticipant(p *models.Participant) error {
	_, err := s.db.ExecContext(contextBg(), `INSERT INTO unique_codes(unique_code, start_date, locale, created_at) VALUES(?, ?, ?, ?)`,
		p.Code, toNullString(p.StartDate), toNullString(p.Locale), formatTime(p.CreatedAt))
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
		return services.NewConflictError("participant code already in use")
	}
	if err != nil {
		return fmt.Errorf("insert participant: %w", err)
	}
	return nil
}

// DeleteParticipant relies on ON DELETE CASCADE to purge responses,
// answers and consent records.
func (s *SQLiteStore) DeleteParticipant(code string) (bool, error) {
	res, err := s.db.ExecContext(contextBg(), `DELETE FROM unique_codes WHERE unique_code = ?`, code)
	if err != nil {
		return false, fmt.Errorf("delete participant: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete participant: %w", err)
	}
	return n > 0, nil
}

func (s *SQLiteStore) AddSubmission(sub *models.Submission) error {
	ctx := contextBg()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin submission: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `INSERT INTO flashback_responses(id, unique_code, created_at) VALUES(?, ?, ?)`,
		sub.ID, sub.Code, formatTime(sub.CreatedAt)); err != nil {
		return fmt.Errorf("insert submission: %w", err)
	}
	for qid, count := range sub.Answers {
		if _, err := tx.ExecContext(ctx, `INSERT INTO response_answers(response_id, question_id, count) VALUES(?, ?, ?)`,
			sub.ID, qid, count); err != nil {
			return fmt.Errorf("insert answer %d: %w", qid, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) ListSubmissions(code string, since time.Time) ([]*models.Submission, error) {
	rows, err := s.db.QueryContext(contextBg(), `SELECT r.id, r.created_at, a.question_id, a.count
		FROM flashback_responses r
		LEFT JOIN response_answers a ON a.response_id = r.id
		WHERE r.unique_code = ? AND r.created_at >= ?
		ORDER BY r.created_at, r.id`, code, formatTime(since))
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	defer rows.Close()
	out := []*models.Submission{}
	var cur *models.Submission
	for rows.Next() {
		var (
			id, createdAt string
			qid, count    sql.NullInt64
		)
		if err := rows.Scan(&id, &createdAt, &qid, &count); err != nil {
			return nil, fmt.Errorf("scan submission: %w", err)
		}
		if cur == nil || cur.ID != id {
			cur = &models.Submission{ID: id, Code: code, CreatedAt: parseTime(createdAt), Answers: map[int]int{}}
			out = append(out, cur)
		}
		if qid.Valid {
			cur.Answers[int(qid.Int64)] = int(count.Int64)
		}
	}
	return out, rows.Err()
}

func (s *SQLiteStore) AddConsentRecord(cr *models.ConsentRecord) error {
	_, err := s.db.ExecContext(contextBg(), `INSERT INTO consent_records(id, unique_code, version, locale, signed_at, hash) VALUES(?, ?, ?, ?, ?, ?)`,
		cr.ID, cr.Code, cr.Version, toNullString(cr.Locale), formatTime(cr.SignedAt), cr.Hash)
	if err != nil {
		return fmt.Errorf("insert consent record: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpsertEndOfStudyQuestion(q models.EndOfStudyQuestion) error {
	_, err := s.db.ExecContext(contextBg(), `INSERT INTO end_of_study_questions(id, question_no, question, is_active) VALUES(?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET question_no = excluded.question_no, question = excluded.question, is_active = excluded.is_active`,
		q.ID, q.Number, q.Text, boolToInt64(q.IsActive))
	if err != nil {
		return fmt.Errorf("upsert end-of-study question %d: %w", q.ID, err)
	}
	return nil
}

func (s *SQLiteStore) ListEndOfStudyQuestions() ([]models.EndOfStudyQuestion, error) {
	rows, err := s.db.QueryContext(contextBg(), `SELECT id, question_no, question, is_active FROM end_of_study_questions ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list end-of-study questions: %w", err)
	}
	defer rows.Close()
	var out []models.EndOfStudyQuestion
	for rows.Next() {
		var (
			q      models.EndOfStudyQuestion
			active int64
		)
		if err := rows.Scan(&q.ID, &q.Number, &q.Text, &active); err != nil {
			return nil, fmt.Errorf("scan end-of-study question: %w", err)
		}
		q.IsActive = active != 0
		out = append(out, q)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetEndOfStudyResponse(code string) (*models.EndOfStudyResponse, error) {
	rows, err := s.db.QueryContext(contextBg(), `SELECT r.created_at, a.question_id, a.score
		FROM end_of_study_responses r
		LEFT JOIN end_of_study_answers a ON a.unique_code = r.unique_code
		WHERE r.unique_code = ?`, code)
	if err != nil {
		return nil, fmt.Errorf("get end-of-study response: %w", err)
	}
	defer rows.Close()
	var out *models.EndOfStudyResponse
	for rows.Next() {
		var (
			createdAt  string
			qid, score sql.NullInt64
		)
		if err := rows.Scan(&createdAt, &qid, &score); err != nil {
			return nil, fmt.Errorf("scan end-of-study answer: %w", err)
		}
		if out == nil {
			out = &models.EndOfStudyResponse{Code: code, CreatedAt: parseTime(createdAt), Answers: map[int]int{}}
		}
		if qid.Valid {
			out.Answers[int(qid.Int64)] = int(score.Int64)
		}
	}
	return out, rows.Err()
}

// AddEndOfStudyResponse relies on the primary key to allow one response per code.
func (s *SQLiteStore) AddEndOfStudyResponse(r *models.EndOfStudyResponse) error {
	ctx := contextBg()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin end-of-study response: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	_, err = tx.ExecContext(ctx, `INSERT INTO end_of_study_responses(unique_code, created_at) VALUES(?, ?)`,
		r.Code, formatTime(r.CreatedAt))
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey {
		return services.NewConflictError("end-of-study questionnaire already submitted")
	}
	if err != nil {
		return fmt.Errorf("insert end-of-study response: %w", err)
	}
	for qid, score := range r.Answers {
		if _, err := tx.ExecContext(ctx, `INSERT INTO end_of_study_answers(unique_code, question_id, score) VALUES(?, ?, ?)`,
			r.Code, qid, score); err != nil {
			return fmt.Errorf("insert end-of-study answer %d: %w", qid, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) AddAudit(e models.AuditEntry) {
	_, err := s.db.ExecContext(contextBg(), `INSERT INTO audit_log(time, actor, action, target, note) VALUES(?, ?, ?, ?, ?)`,
		formatTime(e.Time), e.Actor, e.Action, e.Target, toNullString(e.Note))
	s.logErr("add audit", err)
}

func (s *SQLiteStore) ListAudit() ([]models.AuditEntry, error) {
	rows, err := s.db.QueryContext(contextBg(), `SELECT time, actor, action, target, note FROM audit_log ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	defer rows.Close()
	var out []models.AuditEntry
	for rows.Next() {
		var (
			e    models.AuditEntry
			ts   string
			note sql.NullString
		)
		if err := rows.Scan(&ts, &e.Actor, &e.Action, &e.Target, &note); err != nil {
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		e.Time = parseTime(ts)
		e.Note = note.String
		out = append(out, e)
	}
	return out, rows.Err()
}

var _ api.Store = (*SQLiteStore)(nil)
