package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	sqlitemigrate "github.com/mughalz/investordefend/internal/platform/storage/sqlitemigrate"
	"github.com/mughalz/investordefend/internal/services/authority/domain"
	"github.com/mughalz/investordefend/internal/services/authority/storage"
	"github.com/mughalz/investordefend/internal/services/authority/storage/sqlite/migrations"
	"github.com/mughalz/investordefend/internal/services/shared/session"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

// Store persists authority state in SQLite.
type Store struct {
	sqlDB *sql.DB
	now   func() time.Time
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

// Open opens a SQLite authority store and applies embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One writer at a time; version checks do the rest.
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := sqlitemigrate.ApplyMigrations(sqlDB, migrations.FS, ""); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB, now: time.Now}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Store) ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	return nil
}

// CreateSession inserts a new session record.
func (s *Store) CreateSession(ctx context.Context, record session.Session) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	sessionID := strings.TrimSpace(record.ID)
	if sessionID == "" {
		return fmt.Errorf("session id is required")
	}
	body, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	now := toMillis(s.now())
	_, err = s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO sessions (id, version, body, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)`,
		sessionID,
		record.Version,
		string(body),
		now,
		now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// GetSession returns one session by ID.
func (s *Store) GetSession(ctx context.Context, sessionID string) (session.Session, error) {
	if err := s.ready(ctx); err != nil {
		return session.Session{}, err
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return session.Session{}, fmt.Errorf("session id is required")
	}

	var body string
	err := s.sqlDB.QueryRowContext(ctx, `SELECT body FROM sessions WHERE id = ?`, sessionID).Scan(&body)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return session.Session{}, storage.ErrNotFound
		}
		return session.Session{}, fmt.Errorf("get session: %w", err)
	}
	var record session.Session
	if err := json.Unmarshal([]byte(body), &record); err != nil {
		return session.Session{}, fmt.Errorf("decode session %s: %w", sessionID, err)
	}
	return record, nil
}

// CommitSession stores next if the current version is expectedVersion.
func (s *Store) CommitSession(ctx context.Context, next session.Session, expectedVersion int64, outcome *domain.RoundOutcome) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	body, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	now := toMillis(s.now())

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin commit: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(
		ctx,
		`UPDATE sessions
		    SET version = ?, body = ?, updated_at = ?
		  WHERE id = ? AND version = ?`,
		next.Version,
		string(body),
		now,
		next.ID,
		expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if affected == 0 {
		var found int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM sessions WHERE id = ?`, next.ID).Scan(&found)
		if errors.Is(err, sql.ErrNoRows) {
			return storage.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("check session: %w", err)
		}
		return storage.ErrVersionConflict
	}

	if outcome != nil {
		outcomeBody, err := json.Marshal(outcome)
		if err != nil {
			return fmt.Errorf("encode round outcome: %w", err)
		}
		if _, err := tx.ExecContext(
			ctx,
			`INSERT INTO round_outcomes (session_id, round, body, recorded_at)
			 VALUES (?, ?, ?, ?)`,
			next.ID,
			outcome.Round,
			string(outcomeBody),
			now,
		); err != nil {
			if isUniqueViolation(err) {
				return storage.ErrVersionConflict
			}
			return fmt.Errorf("record round outcome: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit session: %w", err)
	}
	return nil
}

// ListSessionIDs returns every stored session ID in ascending order.
func (s *Store) ListSessionIDs(ctx context.Context) ([]string, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT id FROM sessions ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("list sessions: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return ids, nil
}

// ListRoundOutcomes returns the recorded outcomes of sessionID by round.
func (s *Store) ListRoundOutcomes(ctx context.Context, sessionID string) ([]domain.RoundOutcome, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT body FROM round_outcomes WHERE session_id = ? ORDER BY round ASC`,
		strings.TrimSpace(sessionID),
	)
	if err != nil {
		return nil, fmt.Errorf("list round outcomes: %w", err)
	}
	defer rows.Close()

	var out []domain.RoundOutcome
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("list round outcomes: %w", err)
		}
		var outcome domain.RoundOutcome
		if err := json.Unmarshal([]byte(body), &outcome); err != nil {
			return nil, fmt.Errorf("decode round outcome: %w", err)
		}
		out = append(out, outcome)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list round outcomes: %w", err)
	}
	return out, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

var (
	_ storage.SessionStore = (*Store)(nil)
	_ storage.OutcomeStore = (*Store)(nil)
)
