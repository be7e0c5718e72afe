package workflow

import "github.com/BTreeMap/CareFlow/internal/models"

// Stage identifies one unit of work in the turn graph.
type Stage string

const (
	// StageClassify runs intent classification.
	StageClassify Stage = "classify"
	// StageEmergency is the terminal emergency-response path.
	StageEmergency Stage = "emergency"
	// StageEnrich runs context enrichment.
	StageEnrich Stage = "enrich"
	// StageGenerate runs response generation.
	StageGenerate Stage = "generate"
	// StageValidate runs the safety validator.
	StageValidate Stage = "validate"
	// StageFollowUp runs the follow-up evaluator.
	StageFollowUp Stage = "follow_up"
	// StageCheckpoint commits the turn to the state store.
	StageCheckpoint Stage = "checkpoint"
	// stageDone terminates the loop.
	stageDone Stage = "done"
)

// turnState is the engine's scratch for one in-flight turn.
type turnState struct {
	thread    *models.ConversationThread
	userID    string
	input     string
	synthetic bool // nudge-driven turn entering at the generator stage

	intent   models.IntentResult
	fatal    bool // classifier failure: fatal to the turn, no checkpoint
	enriched models.EnrichedContext
	reply    string
	verdict  models.SafetyVerdict
	trace    models.StageTrace
}

// edge is one conditional transition in the stage graph. The first edge
// whose predicate accepts the turn state wins; a nil predicate always
// matches.
type edge struct {
	from Stage
	when func(*turnState) bool
	to   Stage
}

// transitions is the workflow graph as data. The emergency short-circuit
// and the classifier-failure bypass are ordinary rows here, which keeps
// the branching behavior testable without running any stage.
var transitions = []edge{
	{from: StageClassify, when: func(ts *turnState) bool { return ts.fatal }, to: stageDone},
	{from: StageClassify, when: func(ts *turnState) bool { return ts.intent.Category == models.IntentEmergency }, to: StageEmergency},
	{from: StageClassify, to: StageEnrich},
	{from: StageEmergency, to: StageCheckpoint},
	{from: StageEnrich, to: StageGenerate},
	{from: StageGenerate, to: StageValidate},
	{from: StageValidate, when: func(ts *turnState) bool { return ts.synthetic }, to: StageCheckpoint},
	{from: StageValidate, to: StageFollowUp},
	{from: StageFollowUp, to: StageCheckpoint},
	{from: StageCheckpoint, to: stageDone},
}

// nextStage resolves the successor of the current stage for this turn.
func nextStage(current Stage, ts *turnState) Stage {
	for _, e := range transitions {
		if e.from != current {
			continue
		}
		if e.when == nil || e.when(ts) {
			return e.to
		}
	}
	return stageDone
}
