package workflow

import (
	"context"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/BTreeMap/CareFlow/internal/models"
)

// EmergencyPatternVersion identifies the emergency pattern list in traces
// and audits. Bump it whenever the list changes.
const EmergencyPatternVersion = "v3"

// emergencyPatterns is the fixed emergency indicator list. It is checked
// before any other classification; a match forces the emergency category
// at maximum confidence regardless of anything else in the text. The
// ordering is a safety invariant.
var emergencyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bchest (pain|pressure|tightness)\b`),
	regexp.MustCompile(`(?i)\b(can'?t|cannot|trouble|difficulty) breath`),
	regexp.MustCompile(`(?i)\bshort(ness)? of breath\b`),
	regexp.MustCompile(`(?i)\bheart attack\b`),
	regexp.MustCompile(`(?i)\bstroke\b`),
	regexp.MustCompile(`(?i)\b(fainted|passed out|unconscious|losing consciousness)\b`),
	regexp.MustCompile(`(?i)\bsevere (pain|bleeding|dizziness)\b`),
	regexp.MustCompile(`(?i)\bemergency\b`),
}

// bpReading finds blood pressure readings embedded in free text, e.g.
// "my BP is 190/120". Extreme values force the emergency category.
var bpReading = regexp.MustCompile(`\b(\d{2,3})\s*/\s*(\d{2,3})\b`)

// Extreme blood pressure thresholds (hypertensive crisis).
const (
	crisisSystolic  = 180
	crisisDiastolic = 120
)

// keyword tables for the general classification pass, checked in order.
var (
	medicalAdviceKeywords = []string{"diagnose", "diagnosis", "medication", "prescription", "treatment", "medicine", "pill", "dosage", "dose"}
	dataQueryKeywords     = []string{"step", "walk", "exercise", "workout", "activity", "sleep", "slept", "rest", "pressure", "bp", "systolic", "diastolic", "heart rate", "pulse", "hrv", "reading", "my data"}
	knowledgeKeywords     = []string{"what is", "what are", "how does", "how do", "why", "explain", "tell me about", "benefits", "risks", "effects", "prevent", "improve", "learn"}
	chitchatKeywords      = []string{"hello", "hi there", "good morning", "good evening", "thanks", "thank you", "bye", "goodbye", "how are you"}
)

// offTopicMarkers are non-health subjects the assistant declines to engage with.
var offTopicMarkers = []string{"weather", "stock", "sports", "movie", "recipe", "politics", "lottery", "football", "basketball"}

// KeywordClassifier is the default rule-based intent classifier. It is
// deliberately deterministic so the emergency branch stays auditable.
type KeywordClassifier struct{}

// NewKeywordClassifier creates the default classifier.
func NewKeywordClassifier() *KeywordClassifier {
	return &KeywordClassifier{}
}

// Classify maps user text to an intent category. The emergency pass runs
// first; everything else is keyword scoring with hysteresis for short
// ambiguous follow-ups ("and yesterday?").
func (c *KeywordClassifier) Classify(ctx context.Context, text string, lastIntent models.IntentCategory) (models.IntentResult, error) {
	if err := ctx.Err(); err != nil {
		return models.IntentResult{}, err
	}
	lower := strings.ToLower(text)

	// Priority pass: emergency patterns win unconditionally.
	for _, pat := range emergencyPatterns {
		if loc := pat.FindStringIndex(lower); loc != nil {
			slog.Warn("KeywordClassifier.Classify: emergency pattern matched", "pattern_version", EmergencyPatternVersion, "span", lower[loc[0]:loc[1]])
			return models.IntentResult{Category: models.IntentEmergency, Confidence: 1.0, Span: lower[loc[0]:loc[1]]}, nil
		}
	}
	if m := bpReading.FindStringSubmatch(lower); m != nil {
		sys, _ := strconv.Atoi(m[1])
		dia, _ := strconv.Atoi(m[2])
		if sys >= crisisSystolic || dia >= crisisDiastolic {
			slog.Warn("KeywordClassifier.Classify: extreme blood pressure reading in text", "systolic", sys, "diastolic", dia)
			return models.IntentResult{Category: models.IntentEmergency, Confidence: 1.0, Span: m[0]}, nil
		}
	}

	// Hysteresis: a very short follow-up inherits the previous intent.
	if lastIntent != "" && lastIntent != models.IntentEmergency && isShortFollowUp(lower) {
		slog.Debug("KeywordClassifier.Classify: short follow-up, inheriting last intent", "lastIntent", lastIntent)
		return models.IntentResult{Category: lastIntent, Confidence: 0.5, Span: text}, nil
	}

	if span, ok := matchAny(lower, medicalAdviceKeywords); ok {
		return models.IntentResult{Category: models.IntentMedicalAdvice, Confidence: 0.8, Span: span}, nil
	}
	if span, ok := matchAny(lower, dataQueryKeywords); ok {
		return models.IntentResult{Category: models.IntentDataQuery, Confidence: 0.8, Span: span}, nil
	}
	if span, ok := matchAny(lower, knowledgeKeywords); ok {
		return models.IntentResult{Category: models.IntentKnowledgeQuery, Confidence: 0.7, Span: span}, nil
	}
	if span, ok := matchAny(lower, offTopicMarkers); ok {
		return models.IntentResult{Category: models.IntentOffTopic, Confidence: 0.6, Span: span}, nil
	}
	if span, ok := matchAny(lower, chitchatKeywords); ok {
		return models.IntentResult{Category: models.IntentChitchat, Confidence: 0.6, Span: span}, nil
	}

	// Default: treat unmatched health-adjacent text as a knowledge query.
	return models.IntentResult{Category: models.IntentKnowledgeQuery, Confidence: 0.4, Span: ""}, nil
}

// isShortFollowUp reports whether the text looks like an elliptical
// continuation of the previous question.
func isShortFollowUp(lower string) bool {
	words := strings.Fields(lower)
	if len(words) == 0 || len(words) > 4 {
		return false
	}
	if strings.HasPrefix(lower, "and ") || strings.HasPrefix(lower, "what about") || strings.HasPrefix(lower, "how about") {
		return true
	}
	// Bare fragments like "yesterday?" or "last week?"
	return strings.HasSuffix(strings.TrimSpace(lower), "?") && len(words) <= 2
}

// matchAny returns the first keyword found in the text.
func matchAny(lower string, keywords []string) (string, bool) {
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return kw, true
		}
	}
	return "", false
}
