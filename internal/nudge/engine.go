package nudge

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/BTreeMap/CareFlow/internal/models"
	"github.com/BTreeMap/CareFlow/internal/store"
)

// Sweep defaults.
const (
	// DefaultCooldown is the minimum interval between nudges for the same
	// (user, trigger) pair.
	DefaultCooldown = 24 * time.Hour
	// DefaultWorkers bounds concurrent per-user evaluation during a sweep.
	DefaultWorkers = 4
)

// TurnProcessor is the slice of the workflow engine the sweep needs: it
// turns a pending nudge into a validated synthetic turn.
type TurnProcessor interface {
	ProcessNudge(ctx context.Context, n models.Nudge) (models.TurnResult, error)
}

// Opts holds configuration options for the trigger engine.
type Opts struct {
	Cooldown time.Duration
	Workers  int
	Rules    []Rule
}

// Option configures the trigger engine.
type Option func(*Opts)

// WithCooldown sets the per-(user, trigger) cooldown interval.
func WithCooldown(d time.Duration) Option {
	return func(o *Opts) { o.Cooldown = d }
}

// WithWorkers sets the sweep worker pool size.
func WithWorkers(n int) Option {
	return func(o *Opts) { o.Workers = n }
}

// WithRules replaces the default rule set.
func WithRules(rules []Rule) Option {
	return func(o *Opts) { o.Rules = rules }
}

// Engine evaluates the trigger rules across all known users and pipes
// fired nudges through the conversation workflow.
type Engine struct {
	src      DataSource
	st       store.Store
	wf       TurnProcessor
	rules    []Rule
	cooldown time.Duration
	workers  int
	now      func() time.Time
}

// NewEngine creates a trigger engine with the default rule set unless
// overridden.
func NewEngine(src DataSource, st store.Store, wf TurnProcessor, options ...Option) *Engine {
	opts := Opts{Cooldown: DefaultCooldown, Workers: DefaultWorkers, Rules: DefaultRules()}
	for _, opt := range options {
		opt(&opts)
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	return &Engine{
		src:      src,
		st:       st,
		wf:       wf,
		rules:    opts.Rules,
		cooldown: opts.Cooldown,
		workers:  opts.Workers,
		now:      time.Now,
	}
}

// Sweep evaluates every rule for every known user and returns the nudges
// that were dispatched. Per-user failures are logged and skipped; the
// sweep itself only fails on context cancellation.
func (e *Engine) Sweep(ctx context.Context) ([]models.Nudge, error) {
	users := e.src.Users()
	slog.Info("nudge.Engine.Sweep: sweep started", "users", len(users), "rules", len(e.rules))

	var mu sync.Mutex
	var dispatched []models.Nudge

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for _, userID := range users {
		userID := userID
		g.Go(func() error {
			fired, err := e.sweepUser(gctx, userID)
			if err != nil {
				slog.Warn("nudge.Engine.Sweep: user sweep failed", "userID", userID, "error", err)
				return nil
			}
			if len(fired) > 0 {
				mu.Lock()
				dispatched = append(dispatched, fired...)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return dispatched, err
	}
	if err := ctx.Err(); err != nil {
		return dispatched, err
	}

	// Deferred check-ins recorded by the conversation workflow sit in the
	// store as pending until due; drain the due ones through the same path.
	due, err := e.drainPending(ctx)
	if err != nil {
		slog.Warn("nudge.Engine.Sweep: draining pending nudges failed", "error", err)
	}
	dispatched = append(dispatched, due...)

	slog.Info("nudge.Engine.Sweep: sweep finished", "dispatched", len(dispatched))
	return dispatched, nil
}

// drainPending processes stored pending nudges whose not-before time has
// passed. These are check-ins scheduled by earlier conversation turns.
func (e *Engine) drainPending(ctx context.Context) ([]models.Nudge, error) {
	pending, err := e.st.ListNudges(models.NudgeStatusPending)
	if err != nil {
		return nil, err
	}
	now := e.now()
	var fired []models.Nudge
	for _, n := range pending {
		if err := ctx.Err(); err != nil {
			return fired, err
		}
		if now.Before(n.NotBefore) {
			continue
		}
		result, err := e.wf.ProcessNudge(ctx, n)
		if err != nil {
			slog.Warn("nudge.Engine.drainPending: nudge processing failed", "nudgeID", n.ID, "error", err)
			continue
		}
		if result.Reply == "" {
			continue
		}
		n.Status = models.NudgeStatusDispatched
		fired = append(fired, n)
	}
	return fired, nil
}

// sweepUser evaluates all rules for one user, applying the cooldown ledger
// before any nudge is recorded or processed.
func (e *Engine) sweepUser(ctx context.Context, userID string) ([]models.Nudge, error) {
	now := e.now()
	var fired []models.Nudge
	for _, rule := range e.rules {
		if err := ctx.Err(); err != nil {
			return fired, err
		}
		candidate, err := rule.Evaluate(ctx, userID, e.src, now)
		if err != nil {
			slog.Warn("nudge.Engine.sweepUser: rule evaluation failed", "userID", userID, "rule", rule.ID(), "error", err)
			continue
		}
		if candidate == nil {
			continue
		}
		last, err := e.st.LastNudge(userID, rule.ID())
		if err != nil {
			slog.Warn("nudge.Engine.sweepUser: cooldown lookup failed", "userID", userID, "rule", rule.ID(), "error", err)
			continue
		}
		if !last.IsZero() && now.Sub(last) < e.cooldown {
			slog.Debug("nudge.Engine.sweepUser: rule in cooldown", "userID", userID, "rule", rule.ID(), "last", last)
			continue
		}

		n := models.Nudge{
			ID:        uuid.NewString(),
			Trigger:   rule.ID(),
			UserID:    userID,
			Payload:   candidate.Payload,
			Priority:  candidate.Priority,
			NotBefore: candidate.NotBefore,
			Status:    models.NudgeStatusPending,
			CreatedAt: now,
		}
		if err := e.st.RecordNudge(n); err != nil {
			slog.Error("nudge.Engine.sweepUser: failed to record nudge", "userID", userID, "rule", rule.ID(), "error", err)
			continue
		}

		result, err := e.wf.ProcessNudge(ctx, n)
		if err != nil {
			slog.Warn("nudge.Engine.sweepUser: nudge processing failed", "userID", userID, "rule", rule.ID(), "error", err)
			continue
		}
		if result.Reply == "" {
			// The validator rejected the content; the nudge stays archived.
			slog.Warn("nudge.Engine.sweepUser: nudge blocked by validator", "userID", userID, "rule", rule.ID())
			continue
		}
		slog.Info("nudge.Engine.sweepUser: nudge dispatched", "userID", userID, "rule", rule.ID(), "priority", n.Priority)
		n.Status = models.NudgeStatusDispatched
		fired = append(fired, n)
	}
	return fired, nil
}
