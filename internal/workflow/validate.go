package workflow

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"github.com/BTreeMap/CareFlow/internal/models"
)

// RuleAction is what a matched safety rule demands. The most restrictive
// applicable action wins: block > disclaim > pass.
type RuleAction int

const (
	// ActionPass lets the content through unchanged.
	ActionPass RuleAction = iota
	// ActionDisclaim requires the medical disclaimer on the reply.
	ActionDisclaim
	// ActionBlock replaces the reply with the safe fallback.
	ActionBlock
)

// SafetyRule maps a content pattern to a required action.
type SafetyRule struct {
	ID       string
	Category string // medication, diagnosis, symptom, self_harm
	Pattern  *regexp.Regexp
	Action   RuleAction
}

// defaultSafetyRules is the fixed, auditable rule set. Within an action
// class, rule order is the tie-break for which rule id leads the
// violation list; across classes, block > disclaim > pass.
var defaultSafetyRules = []SafetyRule{
	// Diagnosis claims and medication-change instructions are never allowed.
	{ID: "diagnosis-claim", Category: "diagnosis", Pattern: regexp.MustCompile(`(?i)\byou (have|are suffering from|are showing signs of) [a-z]`), Action: ActionBlock},
	{ID: "diagnosis-indication", Category: "diagnosis", Pattern: regexp.MustCompile(`(?i)\bthis (indicates|is a sign of|means you have)\b`), Action: ActionBlock},
	{ID: "medication-change", Category: "medication", Pattern: regexp.MustCompile(`(?i)\b(stop|start) taking\b|\bchange your medication\b`), Action: ActionBlock},
	{ID: "dosage-instruction", Category: "medication", Pattern: regexp.MustCompile(`(?i)\b(increase|decrease|double|halve) (your |the )?dos(e|age)\b`), Action: ActionBlock},
	{ID: "self-harm", Category: "self_harm", Pattern: regexp.MustCompile(`(?i)\b(hurt (yourself|myself)|self-harm|suicide|end (your|my) life)\b`), Action: ActionBlock},

	// Mentions of these topics are allowed but must carry the disclaimer.
	{ID: "medication-mention", Category: "medication", Pattern: regexp.MustCompile(`(?i)\b(medication|medicine|prescription|pill|dosage)\b`), Action: ActionDisclaim},
	{ID: "diagnosis-mention", Category: "diagnosis", Pattern: regexp.MustCompile(`(?i)\b(diagnos(is|e|ed)|treatment|specialist)\b`), Action: ActionDisclaim},
	{ID: "symptom-mention", Category: "symptom", Pattern: regexp.MustCompile(`(?i)\b(symptom|condition|disease|pain|dizz(y|iness))\b`), Action: ActionDisclaim},
}

// instructionLeak matches lines that look like leaked system instructions;
// they are stripped before any rule evaluation.
var instructionLeak = regexp.MustCompile(`(?im)^\s*(system|assistant|developer)\s*:.*$|(?i)ignore (all )?previous instructions`)

// RuleBasedValidator is the deterministic safety validator. No model is
// involved, so every verdict is reproducible from the rule table.
type RuleBasedValidator struct {
	rules    []SafetyRule
	replyCap int
}

// NewRuleBasedValidator creates a validator with the default rule set and
// reply length cap.
func NewRuleBasedValidator() *RuleBasedValidator {
	return &RuleBasedValidator{rules: defaultSafetyRules, replyCap: models.MaxReplyLength}
}

// Validate evaluates the generated text against all rules and returns the
// verdict plus the final text to surface. Blocked content is replaced,
// never returned; a modified verdict appends the disclaimer.
func (v *RuleBasedValidator) Validate(ctx context.Context, text string, intent models.IntentCategory) (models.SafetyVerdict, string) {
	_ = ctx

	cleaned := stripInstructionLeaks(text)
	cleaned = capLength(cleaned, v.replyCap)

	action := ActionPass
	var violations []string
	for _, rule := range v.rules {
		if rule.Pattern.MatchString(cleaned) {
			violations = append(violations, rule.ID)
			if rule.Action > action {
				action = rule.Action
			}
		}
	}

	// A medical advice request always carries the disclaimer, even when
	// the generated text dodged every pattern.
	if action == ActionPass && intent == models.IntentMedicalAdvice {
		action = ActionDisclaim
	}

	switch action {
	case ActionBlock:
		slog.Warn("RuleBasedValidator.Validate: content blocked", "violations", violations)
		return models.SafetyVerdict{Outcome: models.SafetyBlocked, Violations: violations, Disclaimer: Disclaimer},
			BlockedReply + "\n\n" + Disclaimer
	case ActionDisclaim:
		slog.Debug("RuleBasedValidator.Validate: disclaimer required", "violations", violations)
		final := cleaned
		if !strings.Contains(strings.ToLower(final), "not medical advice") {
			// Keep the disclaimer intact and the total under the cap.
			final = capLength(final, v.replyCap-len(Disclaimer)-2) + "\n\n" + Disclaimer
		}
		return models.SafetyVerdict{Outcome: models.SafetyModified, Violations: violations, Disclaimer: Disclaimer}, final
	default:
		return models.SafetyVerdict{Outcome: models.SafetyPass}, cleaned
	}
}

// stripInstructionLeaks removes lines that echo system-instruction-looking
// content from the generated text.
func stripInstructionLeaks(text string) string {
	if !instructionLeak.MatchString(text) {
		return text
	}
	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if instructionLeak.MatchString(line) {
			slog.Warn("RuleBasedValidator: stripped instruction-looking line")
			continue
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

// capLength truncates text at the limit, backing up to a word boundary.
func capLength(text string, limit int) string {
	if limit <= 0 || len(text) <= limit {
		return text
	}
	cut := text[:limit]
	if idx := strings.LastIndexAny(cut, " \n"); idx > 0 {
		cut = cut[:idx]
	}
	return strings.TrimSpace(cut)
}
