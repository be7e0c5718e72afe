package workflow

import (
	"testing"

	"github.com/BTreeMap/CareFlow/internal/models"
)

func TestNextStageHappyPath(t *testing.T) {
	ts := &turnState{intent: models.IntentResult{Category: models.IntentDataQuery}}
	path := []Stage{StageClassify}
	for stage := StageClassify; stage != stageDone; {
		stage = nextStage(stage, ts)
		path = append(path, stage)
	}
	want := []Stage{StageClassify, StageEnrich, StageGenerate, StageValidate, StageFollowUp, StageCheckpoint, stageDone}
	if len(path) != len(want) {
		t.Fatalf("path %v, want %v", path, want)
	}
	for i := range want {
		if path[i] != want[i] {
			t.Fatalf("path %v, want %v", path, want)
		}
	}
}

func TestNextStageEmergencyShortCircuit(t *testing.T) {
	ts := &turnState{intent: models.IntentResult{Category: models.IntentEmergency}}
	if got := nextStage(StageClassify, ts); got != StageEmergency {
		t.Fatalf("emergency intent should branch to the emergency stage, got %s", got)
	}
	// Emergency goes straight to checkpoint, bypassing enrichment,
	// generation, validation, and follow-up.
	if got := nextStage(StageEmergency, ts); got != StageCheckpoint {
		t.Fatalf("emergency stage should transition to checkpoint, got %s", got)
	}
}

func TestNextStageFatalClassification(t *testing.T) {
	ts := &turnState{fatal: true}
	if got := nextStage(StageClassify, ts); got != stageDone {
		t.Fatalf("fatal classification should end the turn without checkpoint, got %s", got)
	}
}

func TestNextStageSyntheticSkipsFollowUp(t *testing.T) {
	ts := &turnState{synthetic: true, intent: models.IntentResult{Category: models.IntentChitchat}}
	if got := nextStage(StageValidate, ts); got != StageCheckpoint {
		t.Fatalf("synthetic turn should skip follow-up, got %s", got)
	}
}
