// Package nudge implements the metric-driven trigger engine: pure rules
// evaluated over metric history, a cooldown ledger, and a bounded sweep
// that hands fired nudges to the conversation workflow for validation.
package nudge

import (
	"context"
	"fmt"
	"time"

	"github.com/BTreeMap/CareFlow/internal/metrics"
	"github.com/BTreeMap/CareFlow/internal/models"
)

// Rule thresholds.
const (
	// activityGoalRatio is the fraction of the daily step goal that makes
	// the user "close enough" to encourage.
	activityGoalRatio = 0.8
	// activityCutoffHour is the local hour after which an encouragement
	// nudge is pointless.
	activityCutoffHour = 21
	// bpShiftThreshold is the systolic rolling-average shift that fires
	// the blood pressure trend rule, in mmHg.
	bpShiftThreshold = 10.0
	// bpWindowDays is the size of each rolling average window.
	bpWindowDays = 3
	// inactivityWindow is how long without any datapoint counts as inactive.
	inactivityWindow = 24 * time.Hour
)

// DataSource is the slice of the health data capability the rules need.
type DataSource interface {
	History(ctx context.Context, userID string, metric models.MetricType, lookback time.Duration) ([]metrics.Datapoint, error)
	DailyStepGoal(userID string) float64
	Users() []string
}

// Candidate is a rule's proposal for a nudge, before identity, cooldown,
// and validation are applied.
type Candidate struct {
	Payload   string
	Priority  models.NudgePriority
	NotBefore time.Time
}

// Rule evaluates one trigger condition for one user. Returning a nil
// candidate means the rule did not fire; errors are per-user and never
// abort a sweep.
type Rule interface {
	ID() string
	Evaluate(ctx context.Context, userID string, src DataSource, now time.Time) (*Candidate, error)
}

// DefaultRules is the production rule set, in evaluation order.
func DefaultRules() []Rule {
	return []Rule{activityRule{}, bpTrendRule{}, inactivityRule{}}
}

// activityRule encourages a user who is within reach of their daily step
// goal while there is still daytime left to close the gap.
type activityRule struct{}

func (activityRule) ID() string { return "activity-goal" }

func (activityRule) Evaluate(ctx context.Context, userID string, src DataSource, now time.Time) (*Candidate, error) {
	goal := src.DailyStepGoal(userID)
	if goal <= 0 || now.Hour() >= activityCutoffHour {
		return nil, nil
	}
	history, err := src.History(ctx, userID, models.MetricSteps, now.Sub(startOfDay(now)))
	if err != nil {
		return nil, err
	}
	var steps float64
	for _, dp := range history {
		steps += dp.Value
	}
	if steps < goal*activityGoalRatio || steps >= goal {
		return nil, nil
	}
	remaining := goal - steps
	return &Candidate{
		Payload:  fmt.Sprintf("The user is %.0f steps away from today's goal of %.0f. Encourage a short walk to close the gap.", remaining, goal),
		Priority: models.NudgePriorityNormal,
	}, nil
}

// bpTrendRule fires when the systolic rolling average over the most recent
// window shifts by more than the threshold against the preceding window.
type bpTrendRule struct{}

func (bpTrendRule) ID() string { return "bp-delta" }

func (bpTrendRule) Evaluate(ctx context.Context, userID string, src DataSource, now time.Time) (*Candidate, error) {
	lookback := 2 * bpWindowDays * 24 * time.Hour
	history, err := src.History(ctx, userID, models.MetricBloodPressure, lookback)
	if err != nil {
		return nil, err
	}
	split := now.Add(-bpWindowDays * 24 * time.Hour)
	var prevSum, prevN, recentSum, recentN float64
	for _, dp := range history {
		if dp.Timestamp.Before(split) {
			prevSum += dp.Value
			prevN++
		} else {
			recentSum += dp.Value
			recentN++
		}
	}
	if prevN == 0 || recentN == 0 {
		return nil, nil
	}
	shift := recentSum/recentN - prevSum/prevN
	if shift <= bpShiftThreshold && shift >= -bpShiftThreshold {
		return nil, nil
	}
	direction := "risen"
	if shift < 0 {
		direction = "dropped"
	}
	return &Candidate{
		Payload:  fmt.Sprintf("The user's average systolic blood pressure has %s by %.0f mmHg over the last %d days. Gently suggest they keep monitoring and mention it to their provider.", direction, abs(shift), bpWindowDays),
		Priority: models.NudgePriorityHigh,
	}, nil
}

// inactivityRule fires when no metric of any kind has arrived within the
// inactivity window, which usually means the user stopped syncing.
type inactivityRule struct{}

func (inactivityRule) ID() string { return "inactivity" }

func (inactivityRule) Evaluate(ctx context.Context, userID string, src DataSource, now time.Time) (*Candidate, error) {
	for _, metric := range []models.MetricType{models.MetricSteps, models.MetricBloodPressure, models.MetricSleep, models.MetricHeartRate} {
		history, err := src.History(ctx, userID, metric, inactivityWindow)
		if err != nil {
			return nil, err
		}
		if len(history) > 0 {
			return nil, nil
		}
	}
	return &Candidate{
		Payload:  "No health data has come in from the user for over a day. Check in warmly and remind them that keeping their tracker synced helps the coaching stay relevant.",
		Priority: models.NudgePriorityNormal,
	}, nil
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
