// Package workflow implements the conversation workflow engine: the
// stateful orchestrator that classifies intent, enriches context, generates
// a reply, validates it for safety, and decides on follow-up, persisting
// thread state across turns.
//
// External capabilities (model generation, knowledge retrieval, health
// data) are consumed through narrow port interfaces and are always called
// under a circuit breaker, so stage code only ever sees tagged
// ok-or-fallback results.
package workflow

import (
	"context"
	"time"

	"github.com/BTreeMap/CareFlow/internal/models"
)

// Generator produces a reply from a prompt context. Implementations may be
// slow or unavailable; the engine wraps every call in a circuit breaker.
type Generator interface {
	Generate(ctx context.Context, system string, history []models.Turn, user string, maxTokens int64) (string, error)
}

// Retriever returns ranked knowledge snippets for a query.
type Retriever interface {
	Search(ctx context.Context, query string, topK int, minScore float64) ([]models.KnowledgeSnippet, error)
}

// HealthDataSource returns recent metric snapshots for a user.
type HealthDataSource interface {
	Fetch(ctx context.Context, userID string, metric models.MetricType, lookback time.Duration) (*models.MetricSnapshot, error)
}

// IntentClassifier maps user text to an intent. lastIntent carries the
// previous turn's category for hysteresis on ambiguous short follow-ups.
type IntentClassifier interface {
	Classify(ctx context.Context, text string, lastIntent models.IntentCategory) (models.IntentResult, error)
}

// SafetyValidator scans generated text and renders a verdict.
type SafetyValidator interface {
	Validate(ctx context.Context, text string, intent models.IntentCategory) (models.SafetyVerdict, string)
}

// Config tunes the workflow engine. Zero values fall back to defaults.
type Config struct {
	HistoryWindow    int           // prior turns sent to the generator
	MaxTokens        int64         // generator token budget
	TopK             int           // retrieval depth
	MinScore         float64       // retrieval relevance cutoff
	MetricLookback   time.Duration // how far back snapshots may come from
	GeneratorTimeout time.Duration
	RetrieverTimeout time.Duration
	MetricsTimeout   time.Duration
}

// Defaults for engine configuration.
const (
	DefaultMaxTokens        = 500
	DefaultMetricLookback   = 30 * 24 * time.Hour
	DefaultGeneratorTimeout = 3 * time.Second
	DefaultRetrieverTimeout = time.Second
	DefaultMetricsTimeout   = time.Second
)

func (c *Config) applyDefaults() {
	if c.HistoryWindow <= 0 {
		c.HistoryWindow = models.DefaultHistoryWindow
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = DefaultMaxTokens
	}
	if c.TopK <= 0 {
		c.TopK = 3
	}
	if c.MinScore <= 0 {
		c.MinScore = 0.2
	}
	if c.MetricLookback <= 0 {
		c.MetricLookback = DefaultMetricLookback
	}
	if c.GeneratorTimeout <= 0 {
		c.GeneratorTimeout = DefaultGeneratorTimeout
	}
	if c.RetrieverTimeout <= 0 {
		c.RetrieverTimeout = DefaultRetrieverTimeout
	}
	if c.MetricsTimeout <= 0 {
		c.MetricsTimeout = DefaultMetricsTimeout
	}
}

// Fixed user-facing messages. These are the documented degraded outputs:
// the user always receives some reply, never a raw error.
const (
	// EmergencyReply is the fixed terminal message for emergency turns.
	EmergencyReply = "I'm concerned about your symptoms. Please call 911 or your local emergency number immediately. " +
		"If someone is with you, ask them to help. Your safety is the top priority."

	// RephraseReply is surfaced when intent classification itself fails.
	RephraseReply = "I'm sorry, I couldn't quite follow that. Could you rephrase your question?"

	// GeneratorFallbackReply is surfaced when the model call fails or the
	// circuit is open.
	GeneratorFallbackReply = "I'm having trouble putting together a detailed answer right now. " +
		"Please try again in a moment."

	// DataUnavailableReply is surfaced when a data query cannot reach the
	// health data source.
	DataUnavailableReply = "I couldn't reach your health data just now, so it is currently unavailable. " +
		"Please try again shortly, and make sure your device has synced recently."

	// BlockedReply replaces content the safety validator rejected.
	BlockedReply = "I can't help with that directly, but your healthcare provider can give you safe, " +
		"personalized guidance. Is there something about your tracked health data I can help with instead?"

	// Disclaimer is appended to replies touching symptoms, medication, or diagnosis.
	Disclaimer = "This is not medical advice. Please consult your healthcare provider for personalized guidance."
)
