// Package models defines the core data structures for CareFlow.
//
// It includes conversation threads and turns, stage traces, intent and
// enrichment results, safety verdicts, and nudges, which are shared across modules.
package models

import (
	"errors"
	"time"
)

// ConversationPhase describes where a thread is in the coaching dialogue.
type ConversationPhase string

const (
	// PhaseGreeting is the initial phase of a new thread.
	PhaseGreeting ConversationPhase = "greeting"
	// PhaseAssessment covers information-gathering turns.
	PhaseAssessment ConversationPhase = "assessment"
	// PhaseAdvice covers turns where guidance has been given.
	PhaseAdvice ConversationPhase = "advice"
	// PhaseFollowUp covers turns after a check-in has been scheduled.
	PhaseFollowUp ConversationPhase = "follow_up"
)

// IsValidPhase checks if the given conversation phase is supported.
func IsValidPhase(p ConversationPhase) bool {
	switch p {
	case PhaseGreeting, PhaseAssessment, PhaseAdvice, PhaseFollowUp:
		return true
	default:
		return false
	}
}

// TurnRole identifies the author of a turn.
type TurnRole string

const (
	// RoleUser marks a turn authored by the user.
	RoleUser TurnRole = "user"
	// RoleAssistant marks a turn authored by the assistant.
	RoleAssistant TurnRole = "assistant"
	// RoleSystem marks a synthetic turn injected by the system (e.g. a nudge).
	RoleSystem TurnRole = "system"
)

// IntentCategory classifies what the user is asking for.
type IntentCategory string

const (
	// IntentEmergency indicates a possible medical emergency.
	IntentEmergency IntentCategory = "emergency"
	// IntentKnowledgeQuery indicates an educational health question.
	IntentKnowledgeQuery IntentCategory = "knowledge_query"
	// IntentMedicalAdvice indicates a request for diagnosis or medication guidance.
	IntentMedicalAdvice IntentCategory = "medical_advice_request"
	// IntentDataQuery indicates a question about the user's own metrics.
	IntentDataQuery IntentCategory = "data_query"
	// IntentOffTopic indicates a non-health query.
	IntentOffTopic IntentCategory = "off_topic"
	// IntentChitchat indicates small talk.
	IntentChitchat IntentCategory = "chitchat"
)

// IsValidIntent checks if the given intent category is supported.
func IsValidIntent(c IntentCategory) bool {
	switch c {
	case IntentEmergency, IntentKnowledgeQuery, IntentMedicalAdvice, IntentDataQuery, IntentOffTopic, IntentChitchat:
		return true
	default:
		return false
	}
}

// StageOutcome records how a single stage finished.
type StageOutcome string

const (
	// OutcomeOK indicates the stage produced its primary output.
	OutcomeOK StageOutcome = "ok"
	// OutcomeFallback indicates the stage substituted a degraded output.
	OutcomeFallback StageOutcome = "fallback"
	// OutcomeSkipped indicates the stage did not run for this turn.
	OutcomeSkipped StageOutcome = "skipped"
	// OutcomeBlocked indicates the safety validator rejected the content.
	OutcomeBlocked StageOutcome = "blocked"
)

// SafetyOutcome is the overall verdict of the safety validator.
type SafetyOutcome string

const (
	// SafetyPass means the reply is returned unmodified.
	SafetyPass SafetyOutcome = "pass"
	// SafetyModified means a disclaimer was attached to the reply.
	SafetyModified SafetyOutcome = "modified"
	// SafetyBlocked means the reply was replaced with a safe fallback.
	SafetyBlocked SafetyOutcome = "blocked"
)

// NudgePriority orders nudge delivery.
type NudgePriority string

const (
	// NudgePriorityNormal is the default priority.
	NudgePriorityNormal NudgePriority = "normal"
	// NudgePriorityHigh marks nudges that reflect a concerning trend.
	NudgePriorityHigh NudgePriority = "high"
)

// NudgeStatus tracks the nudge lifecycle.
type NudgeStatus string

const (
	// NudgeStatusPending means the nudge has been emitted but not validated.
	NudgeStatusPending NudgeStatus = "pending"
	// NudgeStatusDispatched means the nudge passed validation and was handed off.
	NudgeStatusDispatched NudgeStatus = "dispatched"
	// NudgeStatusArchived means the nudge has been consumed and retired.
	NudgeStatusArchived NudgeStatus = "archived"
)

// MetricType identifies a category of health metric.
type MetricType string

const (
	// MetricBloodPressure covers systolic/diastolic readings.
	MetricBloodPressure MetricType = "blood_pressure"
	// MetricHeartRate covers resting heart rate readings.
	MetricHeartRate MetricType = "heart_rate"
	// MetricSteps covers daily step counts.
	MetricSteps MetricType = "steps"
	// MetricSleep covers sleep duration and quality.
	MetricSleep MetricType = "sleep"
)

// Validation constants shared across modules.
const (
	// MaxReplyLength is the hard cap on assistant reply length in characters.
	MaxReplyLength = 1200
	// MaxUserInputLength bounds user input accepted into a turn.
	MaxUserInputLength = 4096
	// DefaultHistoryWindow is the number of prior turns sent to the generator.
	DefaultHistoryWindow = 3
)

// Error variables for better error handling and testability.
var (
	ErrEmptyThreadID    = errors.New("thread id cannot be empty")
	ErrEmptyUserID      = errors.New("user id cannot be empty")
	ErrEmptyUserInput   = errors.New("user input cannot be empty")
	ErrUserInputTooLong = errors.New("user input exceeds maximum length")
	ErrThreadNotFound   = errors.New("conversation thread not found")
	ErrNudgeConsumed    = errors.New("nudge has already been consumed")
	ErrMetricNotFound   = errors.New("no metric data found")
)

// StageRecord captures one stage execution within a turn.
type StageRecord struct {
	Stage     string       `json:"stage"`
	Outcome   StageOutcome `json:"outcome"`
	LatencyMS int64        `json:"latency_ms"`
	Detail    string       `json:"detail,omitempty"`
}

// NewStageRecord builds a stage record from a measured duration.
func NewStageRecord(stage string, outcome StageOutcome, latency time.Duration, detail string) StageRecord {
	return StageRecord{
		Stage:     stage,
		Outcome:   outcome,
		LatencyMS: latency.Milliseconds(),
		Detail:    detail,
	}
}

// StageTrace records which stages ran for a turn and how they fared.
type StageTrace struct {
	TraceID string        `json:"trace_id"`
	Stages  []StageRecord `json:"stages,omitempty"`
}

// Append adds a stage record to the trace.
func (t *StageTrace) Append(rec StageRecord) {
	t.Stages = append(t.Stages, rec)
}

// Outcome returns the recorded outcome for a stage, or empty if it never ran.
func (t *StageTrace) Outcome(stage string) StageOutcome {
	for _, rec := range t.Stages {
		if rec.Stage == stage {
			return rec.Outcome
		}
	}
	return ""
}

// Turn is one message in a thread. Immutable once appended.
type Turn struct {
	Role      TurnRole   `json:"role"`
	Content   string     `json:"content"`
	Timestamp time.Time  `json:"timestamp"`
	Trace     StageTrace `json:"trace,omitempty"`
}

// ConversationThread is the durable per-thread conversation state.
//
// Scratch carries intermediate stage outputs for the in-flight turn only;
// the workflow engine clears it at the start of every turn.
type ConversationThread struct {
	ID        string            `json:"id"`
	UserID    string            `json:"user_id"`
	Phase     ConversationPhase `json:"phase"`
	Turns     []Turn            `json:"turns,omitempty"`
	Scratch   map[string]string `json:"scratch,omitempty"`
	// LastIntent is the previous turn's classified intent, carried across
	// turns for classifier hysteresis. It lives outside Scratch because
	// Scratch is cleared at the start of every turn.
	LastIntent IntentCategory `json:"last_intent,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// NewConversationThread creates a fresh thread in the greeting phase.
func NewConversationThread(id, userID string, now time.Time) *ConversationThread {
	return &ConversationThread{
		ID:        id,
		UserID:    userID,
		Phase:     PhaseGreeting,
		Scratch:   make(map[string]string),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// LastTurns returns up to n most recent turns, oldest first.
func (c *ConversationThread) LastTurns(n int) []Turn {
	if n <= 0 || len(c.Turns) == 0 {
		return nil
	}
	if len(c.Turns) <= n {
		return c.Turns
	}
	return c.Turns[len(c.Turns)-n:]
}

// Clone returns a deep copy of the thread. The store and the engine both
// rely on this for copy-on-checkpoint semantics.
func (c *ConversationThread) Clone() *ConversationThread {
	if c == nil {
		return nil
	}
	cp := *c
	cp.Turns = make([]Turn, len(c.Turns))
	copy(cp.Turns, c.Turns)
	for i := range cp.Turns {
		stages := make([]StageRecord, len(c.Turns[i].Trace.Stages))
		copy(stages, c.Turns[i].Trace.Stages)
		cp.Turns[i].Trace.Stages = stages
	}
	cp.Scratch = make(map[string]string, len(c.Scratch))
	for k, v := range c.Scratch {
		cp.Scratch[k] = v
	}
	return &cp
}

// IntentResult is the output of the intent classifier.
type IntentResult struct {
	Category   IntentCategory `json:"category"`
	Confidence float64        `json:"confidence"`
	Span       string         `json:"span,omitempty"` // text span that triggered the classification
}

// KnowledgeSnippet is one ranked retrieval result.
type KnowledgeSnippet struct {
	Text   string  `json:"text"`
	Source string  `json:"source"`
	Score  float64 `json:"score"`
}

// MetricSnapshot is a point-in-time read of a health metric.
type MetricSnapshot struct {
	Metric    MetricType `json:"metric"`
	Value     float64    `json:"value"`
	Secondary float64    `json:"secondary,omitempty"` // diastolic for BP, quality score for sleep
	Unit      string     `json:"unit,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
	Stale     bool       `json:"stale,omitempty"`
}

// EnrichedContext is the user query plus whatever enrichment succeeded.
type EnrichedContext struct {
	Query           string             `json:"query"`
	Snippets        []KnowledgeSnippet `json:"snippets,omitempty"`
	Snapshot        *MetricSnapshot    `json:"snapshot,omitempty"`
	RetrievalFailed bool               `json:"retrieval_failed,omitempty"`
	MetricsFailed   bool               `json:"metrics_failed,omitempty"`
}

// SafetyVerdict is the output of the safety validator.
type SafetyVerdict struct {
	Outcome    SafetyOutcome `json:"outcome"`
	Violations []string      `json:"violations,omitempty"`
	Disclaimer string        `json:"disclaimer,omitempty"`
}

// Nudge is a proactively generated message candidate, created by the
// trigger engine and consumed exactly once by the workflow engine.
type Nudge struct {
	ID        string        `json:"id"`
	Trigger   string        `json:"trigger"`
	UserID    string        `json:"user_id"`
	Payload   string        `json:"payload"`
	Priority  NudgePriority `json:"priority"`
	NotBefore time.Time     `json:"not_before"`
	Status    NudgeStatus   `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
}

// TurnResult is what the engine returns to the API layer for one turn.
type TurnResult struct {
	Reply       string            `json:"reply"`
	Phase       ConversationPhase `json:"phase"`
	SafetyFlags []string          `json:"safety_flags,omitempty"`
	TraceID     string            `json:"trace_id"`
}

// ValidateTurnInput checks the identifiers and text for a user turn.
func ValidateTurnInput(threadID, userID, text string) error {
	if threadID == "" {
		return ErrEmptyThreadID
	}
	if userID == "" {
		return ErrEmptyUserID
	}
	if text == "" {
		return ErrEmptyUserInput
	}
	if len(text) > MaxUserInputLength {
		return ErrUserInputTooLong
	}
	return nil
}
