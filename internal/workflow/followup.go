package workflow

import (
	"context"
	"log/slog"
	"time"

	"github.com/BTreeMap/CareFlow/internal/models"
)

// Follow-up thresholds, conversation-driven (distinct from the metric-
// driven nudge triggers).
const (
	lowSleepQuality = 60
	lowDailySteps   = 2000
	// followUpDelay is how far out a deferred check-in is scheduled.
	followUpDelay = 24 * time.Hour
)

// followUpDecision is the evaluator's output for one turn.
type followUpDecision struct {
	phase      models.ConversationPhase
	checkInDue time.Time // zero when no check-in is scheduled
	reason     string
}

// followUpEvaluator decides the phase transition for the turn and whether
// to schedule a deferred check-in.
type followUpEvaluator struct {
	now func() time.Time
}

// evaluate is a pure function of the turn state; any panic or failure at
// the stage boundary degrades to "skip" in the engine.
func (f *followUpEvaluator) evaluate(ctx context.Context, ts *turnState) followUpDecision {
	_ = ctx

	phase := ts.thread.Phase
	switch ts.intent.Category {
	case models.IntentMedicalAdvice:
		phase = models.PhaseAdvice
	case models.IntentDataQuery, models.IntentKnowledgeQuery:
		if phase == models.PhaseGreeting {
			phase = models.PhaseAssessment
		}
	case models.IntentChitchat, models.IntentOffTopic:
		if phase == "" {
			phase = models.PhaseGreeting
		}
	}

	// A concerning snapshot moves the thread toward follow_up with a
	// scheduled check-in.
	if snap := ts.enriched.Snapshot; snap != nil && !snap.Stale {
		if snap.Metric == models.MetricSleep && snap.Secondary > 0 && snap.Secondary < lowSleepQuality {
			slog.Info("followUpEvaluator.evaluate: poor sleep quality, scheduling check-in", "threadID", ts.thread.ID, "quality", snap.Secondary)
			return followUpDecision{phase: models.PhaseFollowUp, checkInDue: f.now().Add(followUpDelay), reason: "low sleep quality"}
		}
		if snap.Metric == models.MetricBloodPressure && snap.Value >= 140 {
			slog.Info("followUpEvaluator.evaluate: elevated blood pressure, scheduling check-in", "threadID", ts.thread.ID, "systolic", snap.Value)
			return followUpDecision{phase: models.PhaseFollowUp, checkInDue: f.now().Add(followUpDelay), reason: "elevated blood pressure"}
		}
		if snap.Metric == models.MetricSteps && snap.Value < lowDailySteps {
			slog.Info("followUpEvaluator.evaluate: low activity, scheduling check-in", "threadID", ts.thread.ID, "steps", snap.Value)
			return followUpDecision{phase: models.PhaseFollowUp, checkInDue: f.now().Add(followUpDelay), reason: "low activity"}
		}
	}

	// After advice has been delivered twice in a row, move to follow_up to
	// close the loop on whether it helped. ts.thread.Phase still holds the
	// phase the turn entered with.
	if phase == models.PhaseAdvice && ts.thread.Phase == models.PhaseAdvice {
		return followUpDecision{phase: models.PhaseFollowUp, reason: "repeated advice turns"}
	}

	return followUpDecision{phase: phase}
}
