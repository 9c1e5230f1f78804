package rules

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-trust/harrier/internal/domain"
)

// ActivityRecorder persists an incoming activity record before
// evaluation.
type ActivityRecorder interface {
	Record(ctx context.Context, rec *domain.ActivityRecord) error
}

// Service runs the detection pipeline: record the activity, evaluate
// every enabled rule against the actor, and open cases for matches.
type Service struct {
	store    *Store
	eval     *Evaluator
	triage   *Triage
	recorder ActivityRecorder
	repo     domain.Repository
	executor domain.ActionExecutor
	notifier domain.Notifier
}

// NewService wires the detection pipeline.
func NewService(store *Store, eval *Evaluator, triage *Triage, recorder ActivityRecorder, repo domain.Repository, executor domain.ActionExecutor, notifier domain.Notifier) *Service {
	return &Service{
		store:    store,
		eval:     eval,
		triage:   triage,
		recorder: recorder,
		repo:     repo,
		executor: executor,
		notifier: notifier,
	}
}

// ProcessActivity records the activity and evaluates all enabled rules
// against its actor. Returns the cases opened (or matched) by this
// event. A failure for one rule does not stop evaluation of the rest.
func (s *Service) ProcessActivity(ctx context.Context, rec *domain.ActivityRecord) ([]*domain.Case, error) {
	start := time.Now()

	if rec.ActorID == "" {
		return nil, domain.ErrActorNotFound
	}

	if err := s.recorder.Record(ctx, rec); err != nil {
		return nil, fmt.Errorf("recording activity: %w", err)
	}

	cases, firstErr := s.EvaluateRecorded(ctx, rec)

	slog.Debug("activity processed",
		"actor_id", rec.ActorID,
		"action", rec.Action,
		"cases_opened", len(cases),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return cases, firstErr
}

// EvaluateRecorded evaluates all enabled rules against an already
// persisted activity record. Used by the bus consumer, where the
// ingest path has recorded the activity before publishing it.
func (s *Service) EvaluateRecorded(ctx context.Context, rec *domain.ActivityRecord) ([]*domain.Case, error) {
	if rec.ActorID == "" {
		return nil, domain.ErrActorNotFound
	}

	var cases []*domain.Case
	var firstErr error

	for _, rule := range s.store.EnabledRules() {
		outcome, err := s.eval.Evaluate(ctx, rule, rec.ActorID, rec)
		if err != nil {
			if errors.Is(err, domain.ErrActorNotFound) {
				return cases, err
			}
			slog.Error("rule evaluation failed",
				"rule_id", rule.Rule.ID,
				"actor_id", rec.ActorID,
				"error", err,
			)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		if !outcome.Triggered {
			continue
		}

		c, err := s.TriggerRule(ctx, rule, rec.ActorID, outcome.Evidence)
		if err != nil {
			slog.Error("rule trigger failed",
				"rule_id", rule.Rule.ID,
				"actor_id", rec.ActorID,
				"error", err,
			)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		cases = append(cases, c)
	}

	return cases, firstErr
}

// TriggerRule opens a case for a rule match. If an open case already
// exists for the same (actor, rule) inside the rule's window, that
// case is returned instead of creating a duplicate.
//
// Persistence failure aborts the trigger before any side effect.
// Failures after the case is saved are returned but do not undo the
// case; downstream effects are idempotent, so retries are safe.
func (s *Service) TriggerRule(ctx context.Context, rule *CompiledRule, actorID string, evidence []domain.Evidence) (*domain.Case, error) {
	def := rule.Rule
	windowStart := time.Now().UTC().Add(-time.Duration(def.Conditions.TimeWindowMinutes) * time.Minute)

	existing, err := s.repo.FindOpenCase(ctx, actorID, def.ID, windowStart)
	if err == nil {
		slog.Debug("open case already exists for rule window",
			"rule_id", def.ID,
			"actor_id", actorID,
			"case_id", existing.ID,
		)
		return existing, nil
	}
	if !errors.Is(err, domain.ErrCaseNotFound) {
		return nil, fmt.Errorf("checking for duplicate case: %w", err)
	}

	c := s.triage.BuildCase(def, actorID, evidence)

	if err := s.repo.SaveCase(ctx, c); err != nil {
		return nil, fmt.Errorf("saving case: %w", err)
	}

	var downstreamErr error

	if def.Actions.Immediate != "" {
		if err := s.executor.ApplyAction(ctx, c, def.Actions.Immediate); err != nil {
			downstreamErr = fmt.Errorf("applying immediate action %q: %w", def.Actions.Immediate, err)
			slog.Error("immediate action failed", "case_id", c.ID, "action", def.Actions.Immediate, "error", err)
		}
	}

	if def.Actions.NotifyAdmin {
		if err := s.notifier.Notify(ctx, c, "case_created"); err != nil {
			if downstreamErr == nil {
				downstreamErr = fmt.Errorf("notifying admin: %w", err)
			}
			slog.Error("admin notification failed", "case_id", c.ID, "error", err)
		}
	}

	if err := s.store.RecordTrigger(def.ID); err != nil {
		slog.Warn("trigger count update failed", "rule_id", def.ID, "error", err)
	}
	if err := s.repo.RecordRuleTrigger(ctx, def.ID, time.Now().UTC()); err != nil {
		slog.Warn("persisting trigger count failed", "rule_id", def.ID, "error", err)
	}

	slog.Info("rule triggered",
		"rule_id", def.ID,
		"actor_id", actorID,
		"case_id", c.ID,
		"severity", def.Severity,
		"risk_score", c.RiskScore,
	)

	return c, downstreamErr
}
