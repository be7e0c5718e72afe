package workflow

import (
	"context"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/BTreeMap/CareFlow/internal/breaker"
	"github.com/BTreeMap/CareFlow/internal/models"
)

// contextEnricher assembles the EnrichedContext for a turn. Retrieval and
// health data calls are independent, so they run concurrently and join
// before response generation. Partial failure is non-fatal: enrichment
// proceeds with whatever succeeded, flagged accordingly.
type contextEnricher struct {
	retriever  Retriever
	dataSource HealthDataSource

	retrieverBreaker *breaker.Breaker
	metricsBreaker   *breaker.Breaker

	cfg Config
}

// enrich builds the context for the given intent. It never returns an
// error: port failures surface as flags on the returned context.
func (e *contextEnricher) enrich(ctx context.Context, userID, query string, intent models.IntentCategory) models.EnrichedContext {
	ec := models.EnrichedContext{Query: query}

	wantRetrieval := intent == models.IntentKnowledgeQuery && e.retriever != nil
	wantMetrics := (intent == models.IntentDataQuery || intent == models.IntentMedicalAdvice) && e.dataSource != nil
	if !wantRetrieval && !wantMetrics {
		return ec
	}

	// Join point: both calls complete (or time out inside their breakers)
	// before generation begins. Errors never propagate out of the breaker,
	// so the group only coordinates completion.
	g, gctx := errgroup.WithContext(ctx)

	if wantRetrieval {
		g.Go(func() error {
			res := breaker.Execute(gctx, e.retrieverBreaker, nil, func(callCtx context.Context) ([]models.KnowledgeSnippet, error) {
				return e.retriever.Search(callCtx, query, e.cfg.TopK, e.cfg.MinScore)
			})
			ec.Snippets = res.Value
			ec.RetrievalFailed = !res.OK
			if !res.OK {
				slog.Warn("contextEnricher.enrich: retrieval degraded", "userID", userID, "error", res.Err)
			}
			return nil
		})
	}

	if wantMetrics {
		g.Go(func() error {
			metric := metricForQuery(query)
			res := breaker.Execute(gctx, e.metricsBreaker, nil, func(callCtx context.Context) (*models.MetricSnapshot, error) {
				return e.dataSource.Fetch(callCtx, userID, metric, e.cfg.MetricLookback)
			})
			ec.Snapshot = res.Value
			ec.MetricsFailed = !res.OK
			if !res.OK {
				slog.Warn("contextEnricher.enrich: health data degraded", "userID", userID, "metric", metric, "error", res.Err)
			}
			return nil
		})
	}

	_ = g.Wait()
	slog.Debug("contextEnricher.enrich: enrichment complete",
		"userID", userID, "snippets", len(ec.Snippets), "has_snapshot", ec.Snapshot != nil,
		"retrieval_failed", ec.RetrievalFailed, "metrics_failed", ec.MetricsFailed)
	return ec
}

// metricForQuery picks the metric type a data query is asking about.
func metricForQuery(query string) models.MetricType {
	lower := strings.ToLower(query)
	switch {
	case strings.Contains(lower, "sleep") || strings.Contains(lower, "slept") || strings.Contains(lower, "rest"):
		return models.MetricSleep
	case strings.Contains(lower, "step") || strings.Contains(lower, "walk") || strings.Contains(lower, "activity") || strings.Contains(lower, "exercise"):
		return models.MetricSteps
	case strings.Contains(lower, "heart rate") || strings.Contains(lower, "pulse") || strings.Contains(lower, "hrv"):
		return models.MetricHeartRate
	default:
		return models.MetricBloodPressure
	}
}
