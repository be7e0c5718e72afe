package workflow

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/BTreeMap/CareFlow/internal/breaker"
	"github.com/BTreeMap/CareFlow/internal/models"
	"github.com/BTreeMap/CareFlow/internal/store"
)

// ConversationCheckInTrigger names nudges scheduled by the follow-up
// evaluator, as opposed to the metric-driven triggers in the nudge package.
const ConversationCheckInTrigger = "conversation-check-in"

// Engine executes the conversation workflow graph. Many threads are
// processed concurrently, but turns within a single thread are strictly
// serialized by a per-thread lock.
type Engine struct {
	st         store.Store
	classifier IntentClassifier
	validator  SafetyValidator
	enricher   *contextEnricher
	generator  *responseGenerator
	followUp   *followUpEvaluator
	cfg        Config

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	now func() time.Time
}

// Opt configures the engine.
type Opt func(*Engine)

// WithClassifier swaps in an alternative intent classifier implementation.
func WithClassifier(c IntentClassifier) Opt {
	return func(e *Engine) { e.classifier = c }
}

// WithValidator swaps in an alternative safety validator implementation.
func WithValidator(v SafetyValidator) Opt {
	return func(e *Engine) { e.validator = v }
}

// NewEngine wires the engine with its capability ports. Each port gets its
// own process-wide circuit breaker; the breakers are shared across all
// conversation workers, not per thread.
func NewEngine(st store.Store, gen Generator, retr Retriever, ds HealthDataSource, cfg Config, opts ...Opt) *Engine {
	cfg.applyDefaults()

	e := &Engine{
		st:         st,
		classifier: NewKeywordClassifier(),
		validator:  NewRuleBasedValidator(),
		enricher: &contextEnricher{
			retriever:        retr,
			dataSource:       ds,
			retrieverBreaker: breaker.New(breaker.Config{Name: "retriever", Timeout: cfg.RetrieverTimeout}),
			metricsBreaker:   breaker.New(breaker.Config{Name: "health_data", Timeout: cfg.MetricsTimeout}),
			cfg:              cfg,
		},
		generator: &responseGenerator{
			generator:        gen,
			generatorBreaker: breaker.New(breaker.Config{Name: "generator", Timeout: cfg.GeneratorTimeout}),
			cfg:              cfg,
		},
		followUp: &followUpEvaluator{now: time.Now},
		cfg:      cfg,
		locks:    make(map[string]*sync.Mutex),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	slog.Debug("workflow.NewEngine: engine created", "history_window", cfg.HistoryWindow, "max_tokens", cfg.MaxTokens)
	return e
}

// lockFor returns the mutex serializing turns for one thread.
func (e *Engine) lockFor(threadID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[threadID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[threadID] = l
	}
	return l
}

// ProcessTurn runs one user turn through the stage graph and returns the
// assistant's reply with the resulting phase. The user always receives
// some reply; internal failures are only visible in the stage trace.
func (e *Engine) ProcessTurn(ctx context.Context, threadID, userID, text string) (models.TurnResult, error) {
	if err := models.ValidateTurnInput(threadID, userID, text); err != nil {
		return models.TurnResult{}, err
	}

	lock := e.lockFor(threadID)
	lock.Lock()
	defer lock.Unlock()

	thread, err := e.loadOrCreate(threadID, userID)
	if err != nil {
		return models.TurnResult{}, err
	}
	// No cross-turn contamination: scratch is cleared before any stage runs.
	thread.Scratch = make(map[string]string)

	ts := &turnState{
		thread: thread,
		userID: userID,
		input:  text,
		trace:  models.StageTrace{TraceID: uuid.NewString()},
	}
	slog.Info("Engine.ProcessTurn: turn started", "threadID", threadID, "traceID", ts.trace.TraceID)

	e.runGraph(ctx, ts, StageClassify)

	result := models.TurnResult{
		Reply:       ts.reply,
		Phase:       ts.thread.Phase,
		SafetyFlags: ts.verdict.Violations,
		TraceID:     ts.trace.TraceID,
	}
	slog.Info("Engine.ProcessTurn: turn finished", "threadID", threadID, "traceID", ts.trace.TraceID, "phase", result.Phase, "fatal", ts.fatal)
	return result, nil
}

// ProcessNudge runs a validated synthetic turn for a pending nudge,
// entering the graph at the response generation stage. Each nudge is
// consumed exactly once; the reply is appended to the user's primary
// thread (thread id == user id).
func (e *Engine) ProcessNudge(ctx context.Context, n models.Nudge) (models.TurnResult, error) {
	if n.Status != models.NudgeStatusPending {
		return models.TurnResult{}, models.ErrNudgeConsumed
	}
	if e.now().Before(n.NotBefore) {
		slog.Debug("Engine.ProcessNudge: nudge not yet due", "nudgeID", n.ID, "not_before", n.NotBefore)
		return models.TurnResult{}, models.ErrNudgeConsumed
	}

	threadID := n.UserID
	lock := e.lockFor(threadID)
	lock.Lock()
	defer lock.Unlock()

	thread, err := e.loadOrCreate(threadID, n.UserID)
	if err != nil {
		return models.TurnResult{}, err
	}
	thread.Scratch = make(map[string]string)

	ts := &turnState{
		thread:    thread,
		userID:    n.UserID,
		input:     n.Payload,
		synthetic: true,
		intent:    models.IntentResult{Category: models.IntentChitchat, Confidence: 1.0},
		enriched:  models.EnrichedContext{Query: n.Payload},
		trace:     models.StageTrace{TraceID: uuid.NewString()},
	}
	slog.Info("Engine.ProcessNudge: synthetic turn started", "nudgeID", n.ID, "trigger", n.Trigger, "traceID", ts.trace.TraceID)

	e.runGraph(ctx, ts, StageGenerate)

	status := models.NudgeStatusDispatched
	if ts.verdict.Outcome == models.SafetyBlocked {
		// Never dispatch content the validator rejected.
		status = models.NudgeStatusArchived
		ts.reply = ""
	}
	if err := e.st.UpdateNudgeStatus(n.ID, status); err != nil {
		slog.Error("Engine.ProcessNudge: failed to update nudge status", "error", err, "nudgeID", n.ID)
		return models.TurnResult{}, err
	}

	return models.TurnResult{
		Reply:       ts.reply,
		Phase:       ts.thread.Phase,
		SafetyFlags: ts.verdict.Violations,
		TraceID:     ts.trace.TraceID,
	}, nil
}

// loadOrCreate fetches the thread from the store, creating it on first use.
func (e *Engine) loadOrCreate(threadID, userID string) (*models.ConversationThread, error) {
	thread, err := e.st.LoadThread(threadID)
	if err != nil {
		return nil, err
	}
	if thread == nil {
		thread = models.NewConversationThread(threadID, userID, e.now())
		slog.Debug("Engine.loadOrCreate: new thread created", "threadID", threadID, "userID", userID)
	}
	return thread, nil
}

// runGraph drives the transition table from the entry stage to completion.
func (e *Engine) runGraph(ctx context.Context, ts *turnState, entry Stage) {
	for stage := entry; stage != stageDone; stage = nextStage(stage, ts) {
		start := e.now()
		switch stage {
		case StageClassify:
			e.runClassify(ctx, ts, start)
		case StageEmergency:
			e.runEmergency(ts, start)
		case StageEnrich:
			e.runEnrich(ctx, ts, start)
		case StageGenerate:
			e.runGenerate(ctx, ts, start)
		case StageValidate:
			e.runValidate(ctx, ts, start)
		case StageFollowUp:
			e.runFollowUp(ctx, ts, start)
		case StageCheckpoint:
			e.runCheckpoint(ctx, ts, start)
		}
	}
}

func (e *Engine) runClassify(ctx context.Context, ts *turnState, start time.Time) {
	intent, err := e.classifier.Classify(ctx, ts.input, ts.thread.LastIntent)
	if err != nil {
		// Classification is load-bearing for the emergency branch, so its
		// failure is fatal to the turn: generic retry message, no
		// checkpoint advance.
		ts.fatal = true
		ts.reply = RephraseReply
		ts.trace.Append(models.NewStageRecord(string(StageClassify), models.OutcomeFallback, e.now().Sub(start), "classifier failed: "+err.Error()))
		slog.Error("Engine.runClassify: classification failed, turn is fatal", "threadID", ts.thread.ID, "error", err)
		return
	}
	ts.intent = intent
	ts.thread.Scratch["intent"] = string(intent.Category)
	ts.trace.Append(models.NewStageRecord(string(StageClassify), models.OutcomeOK, e.now().Sub(start), string(intent.Category)))
}

// runEmergency is the terminal emergency path: fixed safe message, phase
// forced to advice, verdict synthesized as pass with the mandatory
// disclaimer. The generator is never invoked on this turn.
func (e *Engine) runEmergency(ts *turnState, start time.Time) {
	ts.reply = EmergencyReply + "\n\n" + Disclaimer
	ts.thread.Phase = models.PhaseAdvice
	ts.verdict = models.SafetyVerdict{Outcome: models.SafetyPass, Disclaimer: Disclaimer}
	ts.trace.Append(models.NewStageRecord(string(StageEmergency), models.OutcomeOK, e.now().Sub(start), "emergency pattern: "+ts.intent.Span))
	slog.Warn("Engine.runEmergency: emergency response issued", "threadID", ts.thread.ID, "span", ts.intent.Span)
}

func (e *Engine) runEnrich(ctx context.Context, ts *turnState, start time.Time) {
	ts.enriched = e.enricher.enrich(ctx, ts.userID, ts.input, ts.intent.Category)
	outcome := models.OutcomeOK
	detail := ""
	if ts.enriched.RetrievalFailed || ts.enriched.MetricsFailed {
		outcome = models.OutcomeFallback
		detail = "partial enrichment"
	}
	ts.trace.Append(models.NewStageRecord(string(StageEnrich), outcome, e.now().Sub(start), detail))
}

func (e *Engine) runGenerate(ctx context.Context, ts *turnState, start time.Time) {
	out := e.generator.generate(ctx, ts)
	ts.reply = out.reply
	if out.promptUsed != "" {
		// Assembled context kept for audit; cleared with scratch next turn.
		ts.thread.Scratch["prompt_used"] = out.promptUsed
	}
	outcome := models.OutcomeOK
	if out.degraded {
		outcome = models.OutcomeFallback
	}
	ts.trace.Append(models.NewStageRecord(string(StageGenerate), outcome, e.now().Sub(start), out.degradation))
}

func (e *Engine) runValidate(ctx context.Context, ts *turnState, start time.Time) {
	verdict, final := e.validator.Validate(ctx, ts.reply, ts.intent.Category)
	ts.verdict = verdict
	ts.reply = final
	outcome := models.OutcomeOK
	if verdict.Outcome == models.SafetyBlocked {
		outcome = models.OutcomeBlocked
	}
	ts.trace.Append(models.NewStageRecord(string(StageValidate), outcome, e.now().Sub(start), string(verdict.Outcome)))
}

func (e *Engine) runFollowUp(ctx context.Context, ts *turnState, start time.Time) {
	decision := e.followUp.evaluate(ctx, ts)
	ts.thread.Phase = decision.phase
	if !decision.checkInDue.IsZero() {
		checkIn := models.Nudge{
			ID:        uuid.NewString(),
			Trigger:   ConversationCheckInTrigger,
			UserID:    ts.userID,
			Payload:   "Check in with the user about: " + decision.reason,
			Priority:  models.NudgePriorityNormal,
			NotBefore: decision.checkInDue,
			Status:    models.NudgeStatusPending,
			CreatedAt: e.now(),
		}
		if err := e.st.RecordNudge(checkIn); err != nil {
			// Non-fatal: the turn still completes, the check-in is skipped.
			ts.trace.Append(models.NewStageRecord(string(StageFollowUp), models.OutcomeFallback, e.now().Sub(start), "check-in scheduling failed"))
			slog.Warn("Engine.runFollowUp: failed to schedule check-in", "error", err, "threadID", ts.thread.ID)
			return
		}
		slog.Info("Engine.runFollowUp: check-in scheduled", "threadID", ts.thread.ID, "due", decision.checkInDue, "reason", decision.reason)
	}
	ts.trace.Append(models.NewStageRecord(string(StageFollowUp), models.OutcomeOK, e.now().Sub(start), decision.reason))
}

// runCheckpoint appends the turn pair and commits the thread. A cancelled
// turn is never checkpointed: the caller keeps at-most-the-prior-checkpoint
// consistency and in-flight results are discarded.
func (e *Engine) runCheckpoint(ctx context.Context, ts *turnState, start time.Time) {
	if err := ctx.Err(); err != nil {
		ts.trace.Append(models.NewStageRecord(string(StageCheckpoint), models.OutcomeSkipped, e.now().Sub(start), "turn cancelled"))
		slog.Warn("Engine.runCheckpoint: turn cancelled, discarding results", "threadID", ts.thread.ID, "error", err)
		return
	}

	now := e.now()
	userRole := models.RoleUser
	if ts.synthetic {
		userRole = models.RoleSystem
	}
	ts.thread.Turns = append(ts.thread.Turns,
		models.Turn{Role: userRole, Content: ts.input, Timestamp: now},
		models.Turn{Role: models.RoleAssistant, Content: ts.reply, Timestamp: now, Trace: ts.trace},
	)
	ts.thread.LastIntent = ts.intent.Category
	ts.thread.UpdatedAt = now

	// Copy-on-checkpoint: the store deep-copies (memory) or serializes
	// (SQL) the thread, so the committed state never aliases ts.thread.
	if err := e.st.SaveThread(ts.thread); err != nil {
		ts.trace.Append(models.NewStageRecord(string(StageCheckpoint), models.OutcomeFallback, e.now().Sub(start), "checkpoint failed"))
		slog.Error("Engine.runCheckpoint: checkpoint failed", "error", err, "threadID", ts.thread.ID)
		return
	}
	ts.trace.Append(models.NewStageRecord(string(StageCheckpoint), models.OutcomeOK, e.now().Sub(start), ""))
	slog.Debug("Engine.runCheckpoint: thread checkpointed", "threadID", ts.thread.ID, "turns", len(ts.thread.Turns))
}
