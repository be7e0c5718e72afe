// Package store provides storage backends for CareFlow conversation state.
//
// It includes an in-memory store for tests and small deployments, and
// SQLite and PostgreSQL backed stores for durable state. All backends
// persist the full conversation thread as a JSON document keyed by thread
// id, so a save is a single atomic upsert: readers never observe partial
// thread state.
package store

import (
	"time"

	"github.com/BTreeMap/CareFlow/internal/models"
)

// Store is the conversation state store consumed by the workflow and
// nudge engines.
type Store interface {
	// LoadThread returns the thread, or nil if the id has never been saved.
	LoadThread(threadID string) (*models.ConversationThread, error)
	// SaveThread atomically persists the full thread state.
	SaveThread(t *models.ConversationThread) error
	// DeleteThread removes a thread. Deleting an absent thread is not an error.
	DeleteThread(threadID string) error

	// RecordNudge persists an emitted nudge and stamps the (user, trigger)
	// cooldown ledger.
	RecordNudge(n models.Nudge) error
	// LastNudge returns the creation time of the most recent nudge for the
	// (user, trigger) pair, or the zero time if none exists.
	LastNudge(userID, trigger string) (time.Time, error)
	// UpdateNudgeStatus advances a nudge through its lifecycle.
	UpdateNudgeStatus(nudgeID string, status models.NudgeStatus) error
	// ListNudges returns nudges in the given status, oldest first.
	ListNudges(status models.NudgeStatus) ([]models.Nudge, error)

	// Close releases any underlying resources.
	Close() error
}

// Opts holds configuration options for store backends.
type Opts struct {
	// DSN is the database connection string (file path for SQLite).
	DSN string
}

// Option configures a store backend.
type Option func(*Opts)

// WithDSN sets the database connection string.
func WithDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}
