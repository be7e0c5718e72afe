// Package store provides storage backends for CareFlow conversation state.
//
// This file implements the SQLite-backed store.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/BTreeMap/CareFlow/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// DefaultDirPermissions defines the default permissions for database directories.
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore persists conversation state in a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN is a file path to the SQLite database file; the parent
// directory is created if needed.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run SQLite migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

// LoadThread returns the thread, or nil if the id has never been saved.
func (s *SQLiteStore) LoadThread(threadID string) (*models.ConversationThread, error) {
	var state string
	err := s.db.QueryRow(`SELECT state FROM threads WHERE id = ?`, threadID).Scan(&state)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore.LoadThread query failed", "error", err, "threadID", threadID)
		return nil, fmt.Errorf("failed to load thread %s: %w", threadID, err)
	}
	var t models.ConversationThread
	if err := json.Unmarshal([]byte(state), &t); err != nil {
		slog.Error("SQLiteStore.LoadThread unmarshal failed", "error", err, "threadID", threadID)
		return nil, fmt.Errorf("failed to decode thread %s: %w", threadID, err)
	}
	slog.Debug("SQLiteStore.LoadThread succeeded", "threadID", threadID, "turns", len(t.Turns))
	return &t, nil
}

// SaveThread upserts the full serialized thread in a single statement.
func (s *SQLiteStore) SaveThread(t *models.ConversationThread) error {
	if t == nil || t.ID == "" {
		return models.ErrEmptyThreadID
	}
	state, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to encode thread %s: %w", t.ID, err)
	}
	_, err = s.db.Exec(`INSERT INTO threads (id, user_id, state, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET user_id = excluded.user_id, state = excluded.state, updated_at = excluded.updated_at`,
		t.ID, t.UserID, string(state), t.UpdatedAt)
	if err != nil {
		slog.Error("SQLiteStore.SaveThread failed", "error", err, "threadID", t.ID)
		return fmt.Errorf("failed to save thread %s: %w", t.ID, err)
	}
	slog.Debug("SQLiteStore.SaveThread succeeded", "threadID", t.ID, "turns", len(t.Turns))
	return nil
}

// DeleteThread removes a thread if present.
func (s *SQLiteStore) DeleteThread(threadID string) error {
	_, err := s.db.Exec(`DELETE FROM threads WHERE id = ?`, threadID)
	if err != nil {
		return fmt.Errorf("failed to delete thread %s: %w", threadID, err)
	}
	return nil
}

// RecordNudge persists the nudge; the cooldown ledger is derived from the
// nudges table itself.
func (s *SQLiteStore) RecordNudge(n models.Nudge) error {
	_, err := s.db.Exec(`INSERT INTO nudges (id, trigger_id, user_id, payload, priority, status, not_before, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.Trigger, n.UserID, n.Payload, string(n.Priority), string(n.Status), n.NotBefore, n.CreatedAt)
	if err != nil {
		slog.Error("SQLiteStore.RecordNudge failed", "error", err, "nudgeID", n.ID)
		return fmt.Errorf("failed to insert nudge %s: %w", n.ID, err)
	}
	slog.Debug("SQLiteStore.RecordNudge succeeded", "nudgeID", n.ID, "userID", n.UserID, "trigger", n.Trigger)
	return nil
}

// LastNudge returns the most recent nudge time for the (user, trigger) pair.
func (s *SQLiteStore) LastNudge(userID, trigger string) (time.Time, error) {
	var created time.Time
	err := s.db.QueryRow(`SELECT created_at FROM nudges WHERE user_id = ? AND trigger_id = ? ORDER BY created_at DESC LIMIT 1`,
		userID, trigger).Scan(&created)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to query last nudge for %s/%s: %w", userID, trigger, err)
	}
	return created, nil
}

// UpdateNudgeStatus advances a nudge through its lifecycle.
func (s *SQLiteStore) UpdateNudgeStatus(nudgeID string, status models.NudgeStatus) error {
	res, err := s.db.Exec(`UPDATE nudges SET status = ? WHERE id = ?`, string(status), nudgeID)
	if err != nil {
		return fmt.Errorf("failed to update nudge %s: %w", nudgeID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return models.ErrNudgeConsumed
	}
	return nil
}

// ListNudges returns nudges in the given status, oldest first.
func (s *SQLiteStore) ListNudges(status models.NudgeStatus) ([]models.Nudge, error) {
	rows, err := s.db.Query(`SELECT id, trigger_id, user_id, payload, priority, status, not_before, created_at
		FROM nudges WHERE status = ? ORDER BY created_at ASC`, string(status))
	if err != nil {
		return nil, fmt.Errorf("failed to query nudges: %w", err)
	}
	defer rows.Close()
	return scanNudges(rows)
}

// Close closes the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
