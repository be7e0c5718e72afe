package nudge

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/CareFlow/internal/metrics"
	"github.com/BTreeMap/CareFlow/internal/models"
	"github.com/BTreeMap/CareFlow/internal/store"
)

// fakeProcessor stands in for the workflow engine: it marks nudges
// dispatched (or archived when scripted to block) the way the real
// synthetic-turn path does.
type fakeProcessor struct {
	st    store.Store
	block bool

	mu   sync.Mutex
	seen []models.Nudge
}

func (p *fakeProcessor) ProcessNudge(ctx context.Context, n models.Nudge) (models.TurnResult, error) {
	p.mu.Lock()
	p.seen = append(p.seen, n)
	p.mu.Unlock()
	if p.block {
		if err := p.st.UpdateNudgeStatus(n.ID, models.NudgeStatusArchived); err != nil {
			return models.TurnResult{}, err
		}
		return models.TurnResult{TraceID: "trace-blocked"}, nil
	}
	if err := p.st.UpdateNudgeStatus(n.ID, models.NudgeStatusDispatched); err != nil {
		return models.TurnResult{}, err
	}
	return models.TurnResult{Reply: "nudge reply", TraceID: "trace-ok"}, nil
}

func (p *fakeProcessor) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.seen)
}

// shiftedBPSource returns a source whose only user has a clear upward
// blood pressure trend and recent activity (so only bp-delta fires).
func shiftedBPSource(now time.Time) *metrics.FileDataSource {
	return staticSource(now, []metrics.UserMetrics{{
		UserID: "u1",
		Datapoints: []metrics.Datapoint{
			{Metric: models.MetricBloodPressure, Value: 124, Timestamp: now.Add(-5 * 24 * time.Hour)},
			{Metric: models.MetricBloodPressure, Value: 128, Timestamp: now.Add(-4 * 24 * time.Hour)},
			{Metric: models.MetricBloodPressure, Value: 142, Timestamp: now.Add(-2 * 24 * time.Hour)},
			{Metric: models.MetricBloodPressure, Value: 152, Timestamp: now.Add(-3 * time.Hour)},
		},
	}})
}

func TestSweepDispatchesAndHonorsCooldown(t *testing.T) {
	now := time.Date(2026, 8, 28, 9, 0, 0, 0, time.UTC)
	st := store.NewInMemoryStore()
	src := shiftedBPSource(now)
	wf := &fakeProcessor{st: st}

	// Only the trend rule, so the cooldown behavior is isolated from the
	// other triggers.
	e := NewEngine(src, st, wf, WithRules([]Rule{bpTrendRule{}}))
	e.now = func() time.Time { return now }

	dispatched, err := e.Sweep(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(dispatched) != 1 {
		t.Fatalf("expected exactly one dispatched nudge, got %d", len(dispatched))
	}
	if dispatched[0].Trigger != "bp-delta" || dispatched[0].UserID != "u1" {
		t.Errorf("unexpected nudge: %+v", dispatched[0])
	}
	if wf.count() != 1 {
		t.Errorf("workflow should have processed one nudge, got %d", wf.count())
	}

	// An immediate second sweep finds the trigger in cooldown.
	dispatched, err = e.Sweep(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(dispatched) != 0 {
		t.Errorf("cooldown should suppress the second sweep, got %d nudges", len(dispatched))
	}

	// Once the cooldown has elapsed the trigger may fire again.
	e.now = func() time.Time { return now.Add(DefaultCooldown + time.Hour) }
	src.SetClock(e.now)
	dispatched, err = e.Sweep(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(dispatched) != 1 {
		t.Errorf("expired cooldown should allow a new nudge, got %d", len(dispatched))
	}
}

func TestSweepSkipsBlockedNudges(t *testing.T) {
	now := time.Date(2026, 8, 28, 9, 0, 0, 0, time.UTC)
	st := store.NewInMemoryStore()
	wf := &fakeProcessor{st: st, block: true}

	e := NewEngine(shiftedBPSource(now), st, wf)
	e.now = func() time.Time { return now }

	dispatched, err := e.Sweep(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(dispatched) != 0 {
		t.Errorf("blocked nudges must not be reported as dispatched, got %d", len(dispatched))
	}
	archived, _ := st.ListNudges(models.NudgeStatusArchived)
	if len(archived) != 1 {
		t.Errorf("blocked nudge should be archived, got %d", len(archived))
	}
}

func TestSweepDrainsDuePendingNudges(t *testing.T) {
	now := time.Date(2026, 8, 28, 9, 0, 0, 0, time.UTC)
	st := store.NewInMemoryStore()
	wf := &fakeProcessor{st: st}

	// A check-in recorded by an earlier conversation turn, now due.
	due := models.Nudge{
		ID:        "checkin-1",
		Trigger:   "conversation-check-in",
		UserID:    "u2",
		Payload:   "Check in with the user about: low sleep quality",
		Priority:  models.NudgePriorityNormal,
		NotBefore: now.Add(-time.Hour),
		Status:    models.NudgeStatusPending,
		CreatedAt: now.Add(-25 * time.Hour),
	}
	// Another check-in that is not due yet.
	future := due
	future.ID = "checkin-2"
	future.UserID = "u3"
	future.NotBefore = now.Add(6 * time.Hour)
	if err := st.RecordNudge(due); err != nil {
		t.Fatal(err)
	}
	if err := st.RecordNudge(future); err != nil {
		t.Fatal(err)
	}

	// No metric users, so only the drain path can produce nudges.
	e := NewEngine(staticSource(now, nil), st, wf)
	e.now = func() time.Time { return now }

	dispatched, err := e.Sweep(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(dispatched) != 1 || dispatched[0].ID != "checkin-1" {
		t.Fatalf("expected only the due check-in to dispatch, got %+v", dispatched)
	}

	pending, _ := st.ListNudges(models.NudgeStatusPending)
	if len(pending) != 1 || pending[0].ID != "checkin-2" {
		t.Errorf("future check-in should remain pending, got %+v", pending)
	}
}

func TestSweepRuleOverrides(t *testing.T) {
	now := time.Date(2026, 8, 28, 9, 0, 0, 0, time.UTC)
	st := store.NewInMemoryStore()
	wf := &fakeProcessor{st: st}

	// With only the inactivity rule installed, the BP shift is ignored.
	e := NewEngine(shiftedBPSource(now), st, wf, WithRules([]Rule{inactivityRule{}}))
	e.now = func() time.Time { return now }

	dispatched, err := e.Sweep(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(dispatched) != 0 {
		t.Errorf("bp shift should be invisible to the inactivity-only rule set, got %d", len(dispatched))
	}
}
