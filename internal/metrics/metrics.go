// Package metrics provides the health data source capability: point-in-time
// metric snapshots and bounded history windows per user. Raw metric
// ingestion and persistence belong to an upstream system; this package only
// reads from a metrics document kept current by that system.
package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/BTreeMap/CareFlow/internal/models"
)

// DefaultStalenessThreshold marks snapshots older than this as stale.
const DefaultStalenessThreshold = 7 * 24 * time.Hour

// Datapoint is one historical metric reading.
type Datapoint struct {
	Metric    models.MetricType `json:"metric"`
	Value     float64           `json:"value"`
	Secondary float64           `json:"secondary,omitempty"`
	Unit      string            `json:"unit,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// UserMetrics is the per-user document shape of the metrics file.
type UserMetrics struct {
	UserID         string      `json:"user_id"`
	DailyStepGoal  float64     `json:"daily_step_goal,omitempty"`
	WeeklyStepGoal float64     `json:"weekly_step_goal,omitempty"`
	Datapoints     []Datapoint `json:"datapoints"`
}

// FileDataSource serves snapshots and history from a JSON metrics file.
type FileDataSource struct {
	mu        sync.RWMutex
	users     map[string]UserMetrics
	staleness time.Duration
	now       func() time.Time
}

// NewFileDataSource loads the metrics file at path. A zero staleness
// threshold falls back to the default.
func NewFileDataSource(path string, staleness time.Duration) (*FileDataSource, error) {
	slog.Debug("metrics.NewFileDataSource: loading metrics file", "path", path)
	content, err := os.ReadFile(path)
	if err != nil {
		slog.Error("metrics.NewFileDataSource: failed to read metrics file", "path", path, "error", err)
		return nil, fmt.Errorf("failed to read metrics file: %w", err)
	}
	var docs []UserMetrics
	if err := json.Unmarshal(content, &docs); err != nil {
		slog.Error("metrics.NewFileDataSource: failed to parse metrics file", "path", path, "error", err)
		return nil, fmt.Errorf("failed to parse metrics file: %w", err)
	}
	ds := newFromDocs(docs, staleness)
	slog.Info("metrics.NewFileDataSource: metrics loaded", "path", path, "users", len(ds.users))
	return ds, nil
}

// NewStaticDataSource builds a data source from in-memory documents.
func NewStaticDataSource(docs []UserMetrics, staleness time.Duration) *FileDataSource {
	return newFromDocs(docs, staleness)
}

func newFromDocs(docs []UserMetrics, staleness time.Duration) *FileDataSource {
	if staleness <= 0 {
		staleness = DefaultStalenessThreshold
	}
	users := make(map[string]UserMetrics, len(docs))
	for _, d := range docs {
		sort.Slice(d.Datapoints, func(i, j int) bool {
			return d.Datapoints[i].Timestamp.Before(d.Datapoints[j].Timestamp)
		})
		users[d.UserID] = d
	}
	return &FileDataSource{users: users, staleness: staleness, now: time.Now}
}

// SetClock overrides the time source used for lookback and staleness
// decisions. Tests use this to pin the clock.
func (ds *FileDataSource) SetClock(now func() time.Time) {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.now = now
}

// Fetch returns the most recent snapshot of the metric within the lookback
// window. Snapshots older than the staleness threshold are returned tagged
// stale rather than dropped; downstream stages qualify them accordingly.
func (ds *FileDataSource) Fetch(ctx context.Context, userID string, metric models.MetricType, lookback time.Duration) (*models.MetricSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ds.mu.RLock()
	defer ds.mu.RUnlock()

	user, ok := ds.users[userID]
	if !ok {
		return nil, models.ErrMetricNotFound
	}
	now := ds.now()
	cutoff := now.Add(-lookback)
	for i := len(user.Datapoints) - 1; i >= 0; i-- {
		dp := user.Datapoints[i]
		if dp.Metric != metric {
			continue
		}
		if lookback > 0 && dp.Timestamp.Before(cutoff) {
			break
		}
		snap := &models.MetricSnapshot{
			Metric:    dp.Metric,
			Value:     dp.Value,
			Secondary: dp.Secondary,
			Unit:      dp.Unit,
			Timestamp: dp.Timestamp,
			Stale:     now.Sub(dp.Timestamp) > ds.staleness,
		}
		slog.Debug("FileDataSource.Fetch: snapshot found", "userID", userID, "metric", metric, "stale", snap.Stale)
		return snap, nil
	}
	slog.Debug("FileDataSource.Fetch: no snapshot in lookback", "userID", userID, "metric", metric)
	return nil, models.ErrMetricNotFound
}

// History returns all datapoints for the metric within the lookback
// window, oldest first. The nudge trigger rules consume this.
func (ds *FileDataSource) History(ctx context.Context, userID string, metric models.MetricType, lookback time.Duration) ([]Datapoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ds.mu.RLock()
	defer ds.mu.RUnlock()

	user, ok := ds.users[userID]
	if !ok {
		return nil, models.ErrMetricNotFound
	}
	cutoff := ds.now().Add(-lookback)
	var out []Datapoint
	for _, dp := range user.Datapoints {
		if dp.Metric != metric {
			continue
		}
		if lookback > 0 && dp.Timestamp.Before(cutoff) {
			continue
		}
		out = append(out, dp)
	}
	return out, nil
}

// Users lists the user ids known to the data source, for sweep iteration.
func (ds *FileDataSource) Users() []string {
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	ids := make([]string, 0, len(ds.users))
	for id := range ds.users {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// DailyStepGoal returns the user's configured daily step goal, or zero.
func (ds *FileDataSource) DailyStepGoal(userID string) float64 {
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	return ds.users[userID].DailyStepGoal
}
