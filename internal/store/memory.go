// Package store provides storage backends for CareFlow conversation state.
//
// This file implements the in-memory store.
package store

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/BTreeMap/CareFlow/internal/models"
)

// InMemoryStore keeps all state in process memory. Loads and saves deep
// copy the thread so the engine's working copy never aliases the
// committed checkpoint.
type InMemoryStore struct {
	mu      sync.RWMutex
	threads map[string]*models.ConversationThread
	nudges  map[string]models.Nudge
	// cooldown ledger keyed by userID + "\x00" + trigger
	lastNudge map[string]time.Time
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	slog.Debug("NewInMemoryStore: creating in-memory store")
	return &InMemoryStore{
		threads:   make(map[string]*models.ConversationThread),
		nudges:    make(map[string]models.Nudge),
		lastNudge: make(map[string]time.Time),
	}
}

// LoadThread returns a deep copy of the thread, or nil if absent.
func (s *InMemoryStore) LoadThread(threadID string) (*models.ConversationThread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.threads[threadID]
	if !ok {
		return nil, nil
	}
	return t.Clone(), nil
}

// SaveThread stores a deep copy of the thread.
func (s *InMemoryStore) SaveThread(t *models.ConversationThread) error {
	if t == nil || t.ID == "" {
		return models.ErrEmptyThreadID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.threads[t.ID] = t.Clone()
	slog.Debug("InMemoryStore.SaveThread: thread saved", "threadID", t.ID, "turns", len(t.Turns))
	return nil
}

// DeleteThread removes a thread if present.
func (s *InMemoryStore) DeleteThread(threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.threads, threadID)
	return nil
}

func cooldownKey(userID, trigger string) string {
	return userID + "\x00" + trigger
}

// RecordNudge stores the nudge and stamps the cooldown ledger.
func (s *InMemoryStore) RecordNudge(n models.Nudge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nudges[n.ID] = n
	s.lastNudge[cooldownKey(n.UserID, n.Trigger)] = n.CreatedAt
	slog.Debug("InMemoryStore.RecordNudge: nudge recorded", "nudgeID", n.ID, "userID", n.UserID, "trigger", n.Trigger)
	return nil
}

// LastNudge returns the most recent nudge time for the (user, trigger) pair.
func (s *InMemoryStore) LastNudge(userID, trigger string) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastNudge[cooldownKey(userID, trigger)], nil
}

// UpdateNudgeStatus advances a nudge through its lifecycle.
func (s *InMemoryStore) UpdateNudgeStatus(nudgeID string, status models.NudgeStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nudges[nudgeID]
	if !ok {
		return models.ErrNudgeConsumed
	}
	n.Status = status
	s.nudges[nudgeID] = n
	return nil
}

// ListNudges returns nudges in the given status, oldest first.
func (s *InMemoryStore) ListNudges(status models.NudgeStatus) ([]models.Nudge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Nudge
	for _, n := range s.nudges {
		if n.Status == status {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}
