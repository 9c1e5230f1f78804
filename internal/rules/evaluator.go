package rules

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-trust/harrier/internal/domain"
)

// Evaluator decides whether a rule's conditions are satisfied for an
// actor and assembles evidence. It is side-effect-free with respect to
// case storage: it only reads the activity store.
type Evaluator struct {
	activities domain.ActivityStore
	metrics    domain.MetricProvider
	cfg        domain.EngineConfig
}

// Outcome is the result of evaluating one rule against one actor.
type Outcome struct {
	Triggered bool

	// Evidence holds one item per satisfied condition. It is a draft:
	// persisting it on a case is the caller's responsibility.
	Evidence []domain.Evidence

	// Errors carries metric computation failures. A failed metric is a
	// failed condition (fail-closed), but the failure is surfaced here
	// rather than swallowed.
	Errors []error
}

// NewEvaluator creates an evaluator over the given collaborators.
func NewEvaluator(activities domain.ActivityStore, metrics domain.MetricProvider, cfg domain.EngineConfig) *Evaluator {
	if cfg.MetricTimeout <= 0 {
		cfg.MetricTimeout = 2 * time.Second
	}
	return &Evaluator{
		activities: activities,
		metrics:    metrics,
		cfg:        cfg,
	}
}

// Evaluate checks every condition of the rule against the actor's
// activity inside the rule's time window. All conditions must hold
// (AND semantics); evaluation stops at the first miss since the
// outcome is already decided.
//
// event is the activity that initiated evaluation; it may be nil for
// scheduled sweeps.
func (e *Evaluator) Evaluate(ctx context.Context, rule *CompiledRule, actorID string, event *domain.ActivityRecord) (*Outcome, error) {
	if actorID == "" {
		return nil, domain.ErrActorNotFound
	}

	cond := rule.Rule.Conditions
	now := time.Now().UTC()
	windowStart := now.Add(-time.Duration(cond.TimeWindowMinutes) * time.Minute)

	recent, err := e.activities.GetUserActivities(ctx, actorID, windowStart)
	if err != nil {
		return nil, fmt.Errorf("fetching activity for %s: %w", actorID, err)
	}

	outcome := &Outcome{}

	for i, metric := range cond.Metrics {
		op := cond.Operators[i]

		satisfied, ev, err := e.checkCondition(ctx, rule, metric, op, actorID, recent, event, now)
		if err != nil {
			outcome.Errors = append(outcome.Errors, err)
			slog.Warn("metric computation failed, condition treated as unsatisfied",
				"rule_id", rule.Rule.ID,
				"actor_id", actorID,
				"metric", metric,
				"error", err,
			)
		}
		if !satisfied {
			return outcome, nil
		}
		outcome.Evidence = append(outcome.Evidence, ev)
	}

	outcome.Triggered = len(outcome.Evidence) == len(cond.Metrics)
	return outcome, nil
}

// checkCondition evaluates a single metric/operator pair, bounded by
// the metric timeout. Timeout or provider failure counts as
// unsatisfied.
func (e *Evaluator) checkCondition(ctx context.Context, rule *CompiledRule, metric string, op domain.Operator, actorID string, recent []*domain.ActivityRecord, event *domain.ActivityRecord, now time.Time) (bool, domain.Evidence, error) {
	mctx, cancel := context.WithTimeout(ctx, e.cfg.MetricTimeout)
	defer cancel()

	cond := rule.Rule.Conditions

	if op.IsString() {
		val, err := e.metrics.StringMetric(mctx, metric, actorID, recent, event)
		if err != nil {
			return false, domain.Evidence{}, fmt.Errorf("%w: %s: %v", domain.ErrMetricFailed, metric, err)
		}

		var ok bool
		switch op {
		case domain.OpContains:
			ok = strings.Contains(val, cond.Pattern)
		case domain.OpMatchesPattern:
			ok = rule.Pattern().MatchString(val)
		}
		if !ok {
			return false, domain.Evidence{}, nil
		}
		return true, e.stringEvidence(metric, op, val, cond.Pattern, now), nil
	}

	val, err := e.metrics.ComputeMetric(mctx, metric, actorID, recent, event)
	if err != nil {
		return false, domain.Evidence{}, fmt.Errorf("%w: %s: %v", domain.ErrMetricFailed, metric, err)
	}

	var ok bool
	switch op {
	case domain.OpGreaterThan:
		ok = val > cond.Threshold
	case domain.OpLessThan:
		ok = val < cond.Threshold
	case domain.OpEquals:
		ok = val == cond.Threshold
	}
	if !ok {
		return false, domain.Evidence{}, nil
	}
	return true, e.numericEvidence(metric, op, val, cond.Threshold, now), nil
}

func (e *Evaluator) numericEvidence(metric string, op domain.Operator, value, threshold float64, now time.Time) domain.Evidence {
	return domain.Evidence{
		ID:          uuid.New().String(),
		Type:        "behavior_anomaly",
		Description: fmt.Sprintf("%s: %g %s %g", metric, value, opSymbol(op), threshold),
		Data: map[string]any{
			"metric":    metric,
			"value":     value,
			"threshold": threshold,
			"operator":  string(op),
		},
		Confidence: e.cfg.EvidenceConfidence,
		Timestamp:  now,
	}
}

func (e *Evaluator) stringEvidence(metric string, op domain.Operator, value, pattern string, now time.Time) domain.Evidence {
	return domain.Evidence{
		ID:          uuid.New().String(),
		Type:        "behavior_anomaly",
		Description: fmt.Sprintf("%s: %q %s %q", metric, value, opSymbol(op), pattern),
		Data: map[string]any{
			"metric":   metric,
			"value":    value,
			"pattern":  pattern,
			"operator": string(op),
		},
		Confidence: e.cfg.EvidenceConfidence,
		Timestamp:  now,
	}
}

func opSymbol(op domain.Operator) string {
	switch op {
	case domain.OpGreaterThan:
		return ">"
	case domain.OpLessThan:
		return "<"
	case domain.OpEquals:
		return "="
	case domain.OpContains:
		return "contains"
	case domain.OpMatchesPattern:
		return "matches"
	}
	return string(op)
}
