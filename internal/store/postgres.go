// Package store provides storage backends for CareFlow conversation state.
//
// This file implements the PostgreSQL-backed store.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/BTreeMap/CareFlow/internal/models"
	_ "github.com/lib/pq"
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore persists conversation state in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL store with the given DSN.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewPostgresStore invoked", "DSN_set", cfg.DSN != "")

	if cfg.DSN == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run Postgres migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")

	return &PostgresStore{db: db}, nil
}

// LoadThread returns the thread, or nil if the id has never been saved.
func (s *PostgresStore) LoadThread(threadID string) (*models.ConversationThread, error) {
	var state []byte
	err := s.db.QueryRow(`SELECT state FROM threads WHERE id = $1`, threadID).Scan(&state)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore.LoadThread query failed", "error", err, "threadID", threadID)
		return nil, fmt.Errorf("failed to load thread %s: %w", threadID, err)
	}
	var t models.ConversationThread
	if err := json.Unmarshal(state, &t); err != nil {
		return nil, fmt.Errorf("failed to decode thread %s: %w", threadID, err)
	}
	return &t, nil
}

// SaveThread upserts the full serialized thread in a single statement.
func (s *PostgresStore) SaveThread(t *models.ConversationThread) error {
	if t == nil || t.ID == "" {
		return models.ErrEmptyThreadID
	}
	state, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to encode thread %s: %w", t.ID, err)
	}
	_, err = s.db.Exec(`INSERT INTO threads (id, user_id, state, updated_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET user_id = EXCLUDED.user_id, state = EXCLUDED.state, updated_at = EXCLUDED.updated_at`,
		t.ID, t.UserID, state, t.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore.SaveThread failed", "error", err, "threadID", t.ID)
		return fmt.Errorf("failed to save thread %s: %w", t.ID, err)
	}
	slog.Debug("PostgresStore.SaveThread succeeded", "threadID", t.ID, "turns", len(t.Turns))
	return nil
}

// DeleteThread removes a thread if present.
func (s *PostgresStore) DeleteThread(threadID string) error {
	_, err := s.db.Exec(`DELETE FROM threads WHERE id = $1`, threadID)
	if err != nil {
		return fmt.Errorf("failed to delete thread %s: %w", threadID, err)
	}
	return nil
}

// RecordNudge persists the nudge.
func (s *PostgresStore) RecordNudge(n models.Nudge) error {
	_, err := s.db.Exec(`INSERT INTO nudges (id, trigger_id, user_id, payload, priority, status, not_before, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		n.ID, n.Trigger, n.UserID, n.Payload, string(n.Priority), string(n.Status), n.NotBefore, n.CreatedAt)
	if err != nil {
		slog.Error("PostgresStore.RecordNudge failed", "error", err, "nudgeID", n.ID)
		return fmt.Errorf("failed to insert nudge %s: %w", n.ID, err)
	}
	return nil
}

// LastNudge returns the most recent nudge time for the (user, trigger) pair.
func (s *PostgresStore) LastNudge(userID, trigger string) (time.Time, error) {
	var created time.Time
	err := s.db.QueryRow(`SELECT created_at FROM nudges WHERE user_id = $1 AND trigger_id = $2 ORDER BY created_at DESC LIMIT 1`,
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
func (s *PostgresStore) UpdateNudgeStatus(nudgeID string, status models.NudgeStatus) error {
	res, err := s.db.Exec(`UPDATE nudges SET status = $1 WHERE id = $2`, string(status), nudgeID)
	if err != nil {
		return fmt.Errorf("failed to update nudge %s: %w", nudgeID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return models.ErrNudgeConsumed
	}
	return nil
}

// ListNudges returns nudges in the given status, oldest first.
func (s *PostgresStore) ListNudges(status models.NudgeStatus) ([]models.Nudge, error) {
	rows, err := s.db.Query(`SELECT id, trigger_id, user_id, payload, priority, status, not_before, created_at
		FROM nudges WHERE status = $1 ORDER BY created_at ASC`, string(status))
	if err != nil {
		return nil, fmt.Errorf("failed to query nudges: %w", err)
	}
	defer rows.Close()
	return scanNudges(rows)
}

// Close closes the underlying database handle.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
