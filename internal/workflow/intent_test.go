package workflow

import (
	"context"
	"testing"

	"github.com/BTreeMap/CareFlow/internal/models"
)

func classify(t *testing.T, text string, lastIntent models.IntentCategory) models.IntentResult {
	t.Helper()
	c := NewKeywordClassifier()
	res, err := c.Classify(context.Background(), text, lastIntent)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return res
}

func TestClassifyEmergency(t *testing.T) {
	cases := []string{
		"I have chest pain and dizziness",
		"my dad thinks he's having a heart attack",
		"I can't breathe properly",
		"she just fainted",
		"severe bleeding from my arm",
		"is this an emergency?",
		"I feel some chest tightness after climbing stairs",
	}
	for _, text := range cases {
		res := classify(t, text, "")
		if res.Category != models.IntentEmergency {
			t.Errorf("%q: expected emergency, got %s", text, res.Category)
		}
		if res.Confidence != 1.0 {
			t.Errorf("%q: emergency confidence should be 1.0, got %.2f", text, res.Confidence)
		}
		if res.Span == "" {
			t.Errorf("%q: emergency result should carry the matched span", text)
		}
	}
}

func TestClassifyEmergencyWinsOverOtherKeywords(t *testing.T) {
	// Text matching both a data query keyword and an emergency pattern must
	// classify as emergency.
	res := classify(t, "my sleep was bad and now I have chest pain", "")
	if res.Category != models.IntentEmergency {
		t.Fatalf("expected emergency to take priority, got %s", res.Category)
	}
}

func TestClassifyExtremeBloodPressureReading(t *testing.T) {
	res := classify(t, "my reading this morning was 190/125", "")
	if res.Category != models.IntentEmergency {
		t.Fatalf("expected emergency for crisis-range reading, got %s", res.Category)
	}
	normal := classify(t, "my reading this morning was 128/82", "")
	if normal.Category == models.IntentEmergency {
		t.Error("normal-range reading should not classify as emergency")
	}
}

func TestClassifyCategories(t *testing.T) {
	cases := []struct {
		text string
		want models.IntentCategory
	}{
		{"should I change my medication dosage?", models.IntentMedicalAdvice},
		{"how many steps did I take this week?", models.IntentDataQuery},
		{"how did I sleep last night?", models.IntentDataQuery},
		{"what is heart rate variability?", models.IntentDataQuery}, // "heart rate" is a data keyword
		{"why does sodium affect the heart?", models.IntentKnowledgeQuery},
		{"tell me about the benefits of walking", models.IntentDataQuery}, // "walk" matches data first
		{"what's the weather like today?", models.IntentOffTopic},
		{"hello! how are you?", models.IntentChitchat},
	}
	for _, tc := range cases {
		res := classify(t, tc.text, "")
		if res.Category != tc.want {
			t.Errorf("%q: expected %s, got %s", tc.text, tc.want, res.Category)
		}
	}
}

func TestClassifyShortFollowUpInheritsLastIntent(t *testing.T) {
	res := classify(t, "and yesterday?", models.IntentDataQuery)
	if res.Category != models.IntentDataQuery {
		t.Fatalf("short follow-up should inherit last intent, got %s", res.Category)
	}
	if res.Confidence != 0.5 {
		t.Errorf("inherited intent should carry reduced confidence, got %.2f", res.Confidence)
	}

	// Hysteresis never inherits the emergency category.
	res = classify(t, "and yesterday?", models.IntentEmergency)
	if res.Category == models.IntentEmergency {
		t.Error("hysteresis must not inherit the emergency category")
	}

	// A full sentence is classified on its own merits despite history.
	res = classify(t, "what is atrial fibrillation and why does it matter?", models.IntentDataQuery)
	if res.Category != models.IntentKnowledgeQuery {
		t.Errorf("full question should not inherit, got %s", res.Category)
	}
}

func TestClassifyDefaultsToKnowledgeQuery(t *testing.T) {
	res := classify(t, "cholesterol levels generally speaking", "")
	if res.Category != models.IntentKnowledgeQuery {
		t.Errorf("unmatched text should default to knowledge_query, got %s", res.Category)
	}
	if res.Confidence >= 0.5 {
		t.Errorf("default classification should be low confidence, got %.2f", res.Confidence)
	}
}

func TestClassifyCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := NewKeywordClassifier()
	if _, err := c.Classify(ctx, "hello", ""); err == nil {
		t.Error("cancelled context should surface an error")
	}
}
