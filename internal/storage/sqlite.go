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

	"surveybot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

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

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(at, chat_id, survey_id, action, target, ok, err, took_ms, meta)
		 VALUES(?,?,?,?,?,?,?,?,?)`,
		e.At.UTC().Format(time.RFC3339Nano), e.ChatID, e.SurveyID, e.Action, nullStr(e.Target),
		e.OK, nullStr(e.Error), e.TookMS, nullStr(e.MetaJSON),
	)
	return err
}

func (s *sqliteStore) SavePending(ctx context.Context, p PendingSubmission) error {
	if p.ID == "" {
		return errors.New("pending submission id is required")
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	answers, err := json.Marshal(p.Answers)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO pending_submissions(id, session_id, survey_id, seed, answers, created_at, attempts, last_error)
		 VALUES(?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET answers=excluded.answers, attempts=excluded.attempts, last_error=excluded.last_error`,
		p.ID, p.SessionID, p.SurveyID, p.Seed, string(answers),
		p.CreatedAt.UTC().Format(time.RFC3339Nano), p.Attempts, nullStr(p.LastError),
	)
	return err
}

func (s *sqliteStore) ListPending(ctx context.Context, limit int) ([]PendingSubmission, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, survey_id, seed, answers, created_at, attempts, COALESCE(last_error, '')
		 FROM pending_submissions ORDER BY created_at, id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PendingSubmission
	for rows.Next() {
		var p PendingSubmission
		var answers, created string
		if err := rows.Scan(&p.ID, &p.SessionID, &p.SurveyID, &p.Seed, &answers, &created, &p.Attempts, &p.LastError); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(answers), &p.Answers); err != nil {
			s.log.Warn("pending submission has corrupt answers", logx.String("id", p.ID), logx.Err(err))
			continue
		}
		p.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *sqliteStore) MarkAttempt(ctx context.Context, id, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE pending_submissions SET attempts = attempts + 1, last_error = ? WHERE id = ?`,
		nullStr(errMsg), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteStore) DeletePending(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM pending_submissions WHERE id = ?`, id)
	return err
}

func (s *sqliteStore) PutPreference(ctx context.Context, p Preference) error {
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO preferences(chat_id, frequency, locale, updated_at) VALUES(?,?,?,?)
		 ON CONFLICT(chat_id) DO UPDATE SET frequency=excluded.frequency, locale=excluded.locale, updated_at=excluded.updated_at`,
		p.ChatID, p.FrequencyKey, nullStr(p.Locale), p.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	return err
}

func (s *sqliteStore) GetPreference(ctx context.Context, chatID int64) (Preference, bool, error) {
	var p Preference
	var updated string
	err := s.db.QueryRowContext(ctx,
		`SELECT chat_id, frequency, COALESCE(locale, ''), updated_at FROM preferences WHERE chat_id = ?`, chatID,
	).Scan(&p.ChatID, &p.FrequencyKey, &p.Locale, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return Preference{}, false, nil
	}
	if err != nil {
		return Preference{}, false, err
	}
	p.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	return p, true, nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
