package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/CareFlow/internal/breaker"
	"github.com/BTreeMap/CareFlow/internal/models"
)

// personaPrompt is the generator's system persona. It mirrors the
// coaching voice the assistant uses everywhere: warm, specific, one
// actionable suggestion, no diagnosis, no medication guidance.
const personaPrompt = `You are a compassionate health assistant for a heart-health coaching app.

Guidelines:
1. Start with empathy and acknowledgment.
2. Reference the user's own data when it is provided in the context block.
3. Offer ONE clear, actionable suggestion.
4. Use simple, conversational language and keep replies under 100 words.
5. Never diagnose conditions, never recommend medication changes.
6. If the context block marks a reading as stale, say the data may be out of date instead of presenting it as current.`

// responseGenerator builds the structured prompt and invokes the Generator
// capability under its breaker.
type responseGenerator struct {
	generator        Generator
	generatorBreaker *breaker.Breaker
	cfg              Config
}

// generated carries the reply plus the assembled context actually sent to
// the model, kept for traceability.
type generated struct {
	reply       string
	promptUsed  string
	degraded    bool
	degradation string
}

// generate produces the assistant reply for the turn. Failures substitute
// the documented degraded outputs; the caller always gets some reply.
func (g *responseGenerator) generate(ctx context.Context, ts *turnState) generated {
	// A data query that lost its data source gets the explicit
	// data-unavailable reply rather than a model guess about missing data.
	if ts.intent.Category == models.IntentDataQuery && ts.enriched.MetricsFailed {
		slog.Info("responseGenerator.generate: data source unavailable, substituting degraded reply", "threadID", ts.thread.ID)
		return generated{reply: DataUnavailableReply, degraded: true, degradation: "health data unavailable"}
	}

	prompt := buildUserPrompt(ts.enriched)
	history := ts.thread.LastTurns(g.cfg.HistoryWindow)

	res := breaker.Execute(ctx, g.generatorBreaker, "", func(callCtx context.Context) (string, error) {
		return g.generator.Generate(callCtx, personaPrompt, history, prompt, g.cfg.MaxTokens)
	})
	if !res.OK {
		slog.Warn("responseGenerator.generate: generation degraded", "threadID", ts.thread.ID, "error", res.Err)
		return generated{reply: GeneratorFallbackReply, promptUsed: prompt, degraded: true, degradation: "generator unavailable"}
	}
	slog.Debug("responseGenerator.generate: reply generated", "threadID", ts.thread.ID, "length", len(res.Value))
	return generated{reply: strings.TrimSpace(res.Value), promptUsed: prompt}
}

// buildUserPrompt renders the enriched context into the user-facing prompt
// block: query, retrieved snippets, and the metric snapshot with staleness
// qualification.
func buildUserPrompt(ec models.EnrichedContext) string {
	var b strings.Builder
	if len(ec.Snippets) > 0 {
		b.WriteString("Relevant knowledge:\n")
		for _, s := range ec.Snippets {
			fmt.Fprintf(&b, "- %s (source: %s)\n", s.Text, s.Source)
		}
		b.WriteString("\n")
	}
	if ec.RetrievalFailed {
		b.WriteString("Note: knowledge retrieval is temporarily unavailable; answer from general guidance only.\n\n")
	}
	if ec.Snapshot != nil {
		b.WriteString("User health data:\n")
		b.WriteString(formatSnapshot(ec.Snapshot))
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, "User question: %s", ec.Query)
	return b.String()
}

// formatSnapshot renders one metric snapshot as a context line.
func formatSnapshot(s *models.MetricSnapshot) string {
	var line string
	switch s.Metric {
	case models.MetricBloodPressure:
		line = fmt.Sprintf("- blood pressure: %.0f/%.0f mmHg (taken %s)", s.Value, s.Secondary, s.Timestamp.Format("2006-01-02"))
	case models.MetricSleep:
		line = fmt.Sprintf("- sleep: %.1f hours, quality score %.0f (night of %s)", s.Value, s.Secondary, s.Timestamp.Format("2006-01-02"))
	case models.MetricSteps:
		line = fmt.Sprintf("- steps: %.0f (on %s)", s.Value, s.Timestamp.Format("2006-01-02"))
	case models.MetricHeartRate:
		line = fmt.Sprintf("- resting heart rate: %.0f bpm (on %s)", s.Value, s.Timestamp.Format("2006-01-02"))
	default:
		line = fmt.Sprintf("- %s: %.1f %s (on %s)", s.Metric, s.Value, s.Unit, s.Timestamp.Format("2006-01-02"))
	}
	if s.Stale {
		line += " [STALE: this reading is older than the freshness threshold, do not present it as current]"
	}
	return line
}
