package nudge

import (
	"context"
	"testing"
	"time"

	"github.com/BTreeMap/CareFlow/internal/metrics"
	"github.com/BTreeMap/CareFlow/internal/models"
)

func staticSource(now time.Time, docs []metrics.UserMetrics) *metrics.FileDataSource {
	ds := metrics.NewStaticDataSource(docs, 0)
	ds.SetClock(func() time.Time { return now })
	return ds
}

func TestActivityRuleFiresNearGoal(t *testing.T) {
	now := time.Date(2026, 8, 28, 14, 0, 0, 0, time.UTC)
	src := staticSource(now, []metrics.UserMetrics{{
		UserID:        "u1",
		DailyStepGoal: 8000,
		Datapoints: []metrics.Datapoint{
			{Metric: models.MetricSteps, Value: 4000, Timestamp: now.Add(-6 * time.Hour)},
			{Metric: models.MetricSteps, Value: 2800, Timestamp: now.Add(-2 * time.Hour)},
		},
	}})

	c, err := activityRule{}.Evaluate(context.Background(), "u1", src, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c == nil {
		t.Fatal("rule should fire at 85% of goal with daytime remaining")
	}
	if c.Priority != models.NudgePriorityNormal {
		t.Errorf("activity nudge should be normal priority, got %s", c.Priority)
	}
}

func TestActivityRuleQuietCases(t *testing.T) {
	now := time.Date(2026, 8, 28, 14, 0, 0, 0, time.UTC)
	late := time.Date(2026, 8, 28, 22, 0, 0, 0, time.UTC)

	farFromGoal := staticSource(now, []metrics.UserMetrics{{
		UserID: "u1", DailyStepGoal: 8000,
		Datapoints: []metrics.Datapoint{{Metric: models.MetricSteps, Value: 2000, Timestamp: now.Add(-2 * time.Hour)}},
	}})
	overGoal := staticSource(now, []metrics.UserMetrics{{
		UserID: "u1", DailyStepGoal: 8000,
		Datapoints: []metrics.Datapoint{{Metric: models.MetricSteps, Value: 9000, Timestamp: now.Add(-2 * time.Hour)}},
	}})
	noGoal := staticSource(now, []metrics.UserMetrics{{
		UserID:     "u1",
		Datapoints: []metrics.Datapoint{{Metric: models.MetricSteps, Value: 7000, Timestamp: now.Add(-2 * time.Hour)}},
	}})
	nearGoal := staticSource(late, []metrics.UserMetrics{{
		UserID: "u1", DailyStepGoal: 8000,
		Datapoints: []metrics.Datapoint{{Metric: models.MetricSteps, Value: 7000, Timestamp: late.Add(-2 * time.Hour)}},
	}})

	cases := []struct {
		name string
		src  DataSource
		at   time.Time
	}{
		{"far from goal", farFromGoal, now},
		{"already over goal", overGoal, now},
		{"no goal configured", noGoal, now},
		{"too late in the day", nearGoal, late},
	}
	for _, tc := range cases {
		c, err := activityRule{}.Evaluate(context.Background(), "u1", tc.src, tc.at)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tc.name, err)
		}
		if c != nil {
			t.Errorf("%s: rule should not fire", tc.name)
		}
	}
}

func TestBPTrendRuleFiresOnUpwardShift(t *testing.T) {
	now := time.Date(2026, 8, 28, 9, 0, 0, 0, time.UTC)
	src := staticSource(now, []metrics.UserMetrics{{
		UserID: "u1",
		Datapoints: []metrics.Datapoint{
			{Metric: models.MetricBloodPressure, Value: 126, Secondary: 80, Timestamp: now.Add(-5 * 24 * time.Hour)},
			{Metric: models.MetricBloodPressure, Value: 130, Secondary: 82, Timestamp: now.Add(-4 * 24 * time.Hour)},
			{Metric: models.MetricBloodPressure, Value: 144, Secondary: 90, Timestamp: now.Add(-2 * 24 * time.Hour)},
			{Metric: models.MetricBloodPressure, Value: 146, Secondary: 92, Timestamp: now.Add(-1 * 24 * time.Hour)},
		},
	}})

	c, err := bpTrendRule{}.Evaluate(context.Background(), "u1", src, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c == nil {
		t.Fatal("rule should fire on a 17 mmHg upward shift")
	}
	if c.Priority != models.NudgePriorityHigh {
		t.Errorf("bp trend nudge should be high priority, got %s", c.Priority)
	}
}

func TestBPTrendRuleStableReadings(t *testing.T) {
	now := time.Date(2026, 8, 28, 9, 0, 0, 0, time.UTC)
	src := staticSource(now, []metrics.UserMetrics{{
		UserID: "u1",
		Datapoints: []metrics.Datapoint{
			{Metric: models.MetricBloodPressure, Value: 128, Timestamp: now.Add(-5 * 24 * time.Hour)},
			{Metric: models.MetricBloodPressure, Value: 130, Timestamp: now.Add(-4 * 24 * time.Hour)},
			{Metric: models.MetricBloodPressure, Value: 126, Timestamp: now.Add(-2 * 24 * time.Hour)},
			{Metric: models.MetricBloodPressure, Value: 131, Timestamp: now.Add(-1 * 24 * time.Hour)},
		},
	}})

	c, err := bpTrendRule{}.Evaluate(context.Background(), "u1", src, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c != nil {
		t.Error("stable readings should not fire the trend rule")
	}
}

func TestBPTrendRuleNeedsBothWindows(t *testing.T) {
	now := time.Date(2026, 8, 28, 9, 0, 0, 0, time.UTC)
	src := staticSource(now, []metrics.UserMetrics{{
		UserID: "u1",
		Datapoints: []metrics.Datapoint{
			{Metric: models.MetricBloodPressure, Value: 150, Timestamp: now.Add(-1 * 24 * time.Hour)},
		},
	}})

	c, err := bpTrendRule{}.Evaluate(context.Background(), "u1", src, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c != nil {
		t.Error("a single window of data should not fire the trend rule")
	}
}

func TestInactivityRuleFiresAfterQuietDay(t *testing.T) {
	now := time.Date(2026, 8, 28, 9, 0, 0, 0, time.UTC)
	quiet := staticSource(now, []metrics.UserMetrics{{
		UserID: "u1",
		Datapoints: []metrics.Datapoint{
			{Metric: models.MetricSteps, Value: 6000, Timestamp: now.Add(-40 * time.Hour)},
		},
	}})
	active := staticSource(now, []metrics.UserMetrics{{
		UserID: "u1",
		Datapoints: []metrics.Datapoint{
			{Metric: models.MetricSleep, Value: 7.0, Secondary: 70, Timestamp: now.Add(-6 * time.Hour)},
		},
	}})

	c, err := inactivityRule{}.Evaluate(context.Background(), "u1", quiet, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c == nil {
		t.Error("40 hours of silence should fire the inactivity rule")
	}

	c, err = inactivityRule{}.Evaluate(context.Background(), "u1", active, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c != nil {
		t.Error("recent data should suppress the inactivity rule")
	}
}
