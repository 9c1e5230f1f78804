// Package escalation tracks case deadlines and drives the case
// lifecycle: escalation, investigation, resolution, and appeals.
package escalation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-trust/harrier/internal/domain"
)

// deadlineLabels map the named deadlines to their reason strings.
var deadlineLabels = map[string]string{
	domain.DeadlineResponse:   "Response deadline exceeded",
	domain.DeadlineEvidence:   "Evidence deadline exceeded",
	domain.DeadlineResolution: "Resolution deadline exceeded",
}

// Decision is the outcome of an escalation check.
type Decision struct {
	Escalate bool   `json:"escalate"`
	Reason   string `json:"reason,omitempty"`
}

// Scheduler finds open cases whose deadlines have elapsed or whose
// custom triggers fire, and escalates them.
type Scheduler struct {
	repo     domain.Repository
	triggers domain.TriggerEvaluator
	notifier domain.Notifier
	priority PriorityFunc
	cfg      domain.EngineConfig
}

// PriorityFunc recomputes a case's priority on escalation.
type PriorityFunc func(amount int64) domain.Priority

// NewScheduler creates an escalation scheduler.
func NewScheduler(repo domain.Repository, triggers domain.TriggerEvaluator, notifier domain.Notifier, priority PriorityFunc, cfg domain.EngineConfig) *Scheduler {
	return &Scheduler{
		repo:     repo,
		triggers: triggers,
		notifier: notifier,
		priority: priority,
		cfg:      cfg,
	}
}

// CheckEscalation decides whether a case must escalate. Deadlines are
// checked in the fixed order response, evidence, resolution; the first
// exceeded deadline wins and no further deadlines or triggers are
// evaluated. Custom triggers run only when no deadline has elapsed,
// each bounded by the metric timeout; a trigger failure counts as not
// firing.
func (s *Scheduler) CheckEscalation(ctx context.Context, c *domain.Case) Decision {
	now := time.Now().UTC()

	for _, name := range domain.DeadlineOrder {
		deadline, ok := c.Deadline(name)
		if !ok {
			continue
		}
		if now.After(deadline) {
			return Decision{Escalate: true, Reason: deadlineLabels[name]}
		}
	}

	for _, trigger := range c.AutoEscalationTriggers {
		tctx, cancel := context.WithTimeout(ctx, s.cfg.MetricTimeout)
		fired, err := s.triggers.EvaluateTrigger(tctx, c, trigger)
		cancel()

		if err != nil {
			slog.Warn("escalation trigger evaluation failed",
				"case_id", c.ID,
				"trigger", trigger,
				"error", err,
			)
			continue
		}
		if fired {
			return Decision{Escalate: true, Reason: "Auto-escalation trigger: " + trigger}
		}
	}

	return Decision{}
}

// Escalate transitions a case to escalated status. Escalating a case
// already in escalated status fails with ErrAlreadyEscalated and
// leaves the escalation level unchanged; re-escalation at a higher
// level requires the status to have been cleared first.
func (s *Scheduler) Escalate(ctx context.Context, caseID, reason string) (*domain.Case, error) {
	c, err := s.repo.GetCase(ctx, caseID)
	if err != nil {
		return nil, err
	}

	if c.Status == domain.StatusEscalated {
		return nil, fmt.Errorf("%w: case %s", domain.ErrAlreadyEscalated, caseID)
	}
	if c.Status.Terminal() || c.Status == domain.StatusResolved {
		return nil, fmt.Errorf("%w: cannot escalate from %s", domain.ErrInvalidTransition, c.Status)
	}

	now := time.Now().UTC()
	c.Status = domain.StatusEscalated
	c.EscalationLevel++
	if c.Kind == domain.KindDispute {
		c.Priority = s.priority(c.DisputedAmount)
	}
	c.Timeline = append(c.Timeline, domain.TimelineEntry{
		ID:        uuid.New().String(),
		AuthorID:  "system",
		Body:      fmt.Sprintf("Case escalated to level %d: %s", c.EscalationLevel, reason),
		CreatedAt: now,
	})
	c.UpdatedAt = now

	if err := s.repo.UpdateCase(ctx, c); err != nil {
		return nil, fmt.Errorf("updating case: %w", err)
	}

	if err := s.notifier.Notify(ctx, c, "case_escalated"); err != nil {
		slog.Error("escalation notification failed", "case_id", c.ID, "error", err)
	}

	slog.Info("case escalated",
		"case_id", c.ID,
		"level", c.EscalationLevel,
		"reason", reason,
	)

	return c, nil
}

// Sweep checks every open case and escalates those that are due.
// A failure on one case does not stop the sweep.
func (s *Scheduler) Sweep(ctx context.Context) (int, error) {
	cases, err := s.repo.ListOpenCases(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing open cases: %w", err)
	}

	escalated := 0
	for _, c := range cases {
		if c.Status == domain.StatusEscalated {
			continue
		}

		decision := s.CheckEscalation(ctx, c)
		if !decision.Escalate {
			continue
		}

		if _, err := s.Escalate(ctx, c.ID, decision.Reason); err != nil {
			slog.Error("sweep escalation failed", "case_id", c.ID, "error", err)
			continue
		}
		escalated++
	}

	return escalated, nil
}
