package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/BTreeMap/CareFlow/internal/models"
)

func testSource(t *testing.T, now time.Time) *FileDataSource {
	t.Helper()
	ds := NewStaticDataSource([]UserMetrics{{
		UserID:        "u1",
		DailyStepGoal: 8000,
		Datapoints: []Datapoint{
			{Metric: models.MetricSleep, Value: 6.1, Secondary: 55, Unit: "hours", Timestamp: now.Add(-30 * time.Hour)},
			{Metric: models.MetricSleep, Value: 7.2, Secondary: 78, Unit: "hours", Timestamp: now.Add(-8 * time.Hour)},
			{Metric: models.MetricBloodPressure, Value: 128, Secondary: 82, Unit: "mmHg", Timestamp: now.Add(-10 * 24 * time.Hour)},
			{Metric: models.MetricSteps, Value: 5400, Timestamp: now.Add(-3 * time.Hour)},
		},
	}}, 0)
	ds.now = func() time.Time { return now }
	return ds
}

func TestFetchReturnsNewestReading(t *testing.T) {
	now := time.Now()
	ds := testSource(t, now)

	snap, err := ds.Fetch(context.Background(), "u1", models.MetricSleep, 48*time.Hour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.Value != 7.2 || snap.Secondary != 78 {
		t.Errorf("expected newest sleep reading 7.2/78, got %.1f/%.0f", snap.Value, snap.Secondary)
	}
	if snap.Stale {
		t.Error("8-hour-old reading should not be stale")
	}
}

func TestFetchTagsStaleReadings(t *testing.T) {
	now := time.Now()
	ds := testSource(t, now)

	snap, err := ds.Fetch(context.Background(), "u1", models.MetricBloodPressure, 30*24*time.Hour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !snap.Stale {
		t.Error("10-day-old reading should be tagged stale, not dropped")
	}
	if snap.Value != 128 {
		t.Errorf("stale reading should still carry its value, got %.0f", snap.Value)
	}
}

func TestFetchRespectsLookback(t *testing.T) {
	now := time.Now()
	ds := testSource(t, now)

	_, err := ds.Fetch(context.Background(), "u1", models.MetricBloodPressure, 24*time.Hour)
	if !errors.Is(err, models.ErrMetricNotFound) {
		t.Errorf("reading outside the lookback should be not-found, got %v", err)
	}
}

func TestFetchUnknownUser(t *testing.T) {
	ds := testSource(t, time.Now())
	_, err := ds.Fetch(context.Background(), "nobody", models.MetricSleep, 0)
	if !errors.Is(err, models.ErrMetricNotFound) {
		t.Errorf("unknown user should be not-found, got %v", err)
	}
}

func TestHistoryOldestFirst(t *testing.T) {
	now := time.Now()
	ds := testSource(t, now)

	history, err := ds.History(context.Background(), "u1", models.MetricSleep, 48*time.Hour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 sleep readings in window, got %d", len(history))
	}
	if !history[0].Timestamp.Before(history[1].Timestamp) {
		t.Error("history should be ordered oldest first")
	}
}

func TestUsersAndGoals(t *testing.T) {
	ds := testSource(t, time.Now())
	users := ds.Users()
	if len(users) != 1 || users[0] != "u1" {
		t.Errorf("expected [u1], got %v", users)
	}
	if goal := ds.DailyStepGoal("u1"); goal != 8000 {
		t.Errorf("expected goal 8000, got %.0f", goal)
	}
	if goal := ds.DailyStepGoal("nobody"); goal != 0 {
		t.Errorf("unknown user should have zero goal, got %.0f", goal)
	}
}

func TestNewFileDataSource(t *testing.T) {
	docs := []UserMetrics{{
		UserID: "u1",
		Datapoints: []Datapoint{
			{Metric: models.MetricSteps, Value: 4200, Timestamp: time.Now().Add(-time.Hour)},
		},
	}}
	content, err := json.Marshal(docs)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "metrics.json")
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatal(err)
	}

	ds, err := NewFileDataSource(path, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	snap, err := ds.Fetch(context.Background(), "u1", models.MetricSteps, 24*time.Hour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.Value != 4200 {
		t.Errorf("expected 4200 steps, got %.0f", snap.Value)
	}
}

func TestNewFileDataSourceMissingFile(t *testing.T) {
	if _, err := NewFileDataSource("/nonexistent/metrics.json", 0); err == nil {
		t.Error("missing metrics file should error")
	}
}
