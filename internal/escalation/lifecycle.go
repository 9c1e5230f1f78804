package escalation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-trust/harrier/internal/domain"
)

// Lifecycle implements the case state machine shared by suspicious
// activity cases and disputes:
//
//	open --investigate--> investigating
//	open/investigating --mediate--> mediation (disputes)
//	open/investigating/mediation/appealed --escalate--> escalated
//	any non-terminal --resolve--> resolved (or false_positive for
//	    no_action on an activity case)
//	resolved --close--> closed
//	resolved/closed --appeal--> appealed (disputes only)
type Lifecycle struct {
	repo     domain.Repository
	notifier domain.Notifier
	executor domain.ActionExecutor
	priority PriorityFunc
	cfg      domain.EngineConfig
}

// NewLifecycle creates the case lifecycle service.
func NewLifecycle(repo domain.Repository, notifier domain.Notifier, executor domain.ActionExecutor, priority PriorityFunc, cfg domain.EngineConfig) *Lifecycle {
	return &Lifecycle{
		repo:     repo,
		notifier: notifier,
		executor: executor,
		priority: priority,
		cfg:      cfg,
	}
}

// FileDispute creates a dispute case. Low-amount payment disputes
// (strictly below the auto-resolve threshold) are resolved at creation
// time: the stored case never goes through the open state.
func (l *Lifecycle) FileDispute(ctx context.Context, req *domain.DisputeRequest) (*domain.Case, error) {
	if req.ActorID == "" {
		return nil, domain.ErrActorNotFound
	}
	if req.Type == "" {
		return nil, fmt.Errorf("dispute type is required")
	}

	now := time.Now().UTC()

	c := &domain.Case{
		ID:              uuid.New().String(),
		Kind:            domain.KindDispute,
		ActorID:         req.ActorID,
		CounterpartyID:  req.CounterpartyID,
		Type:            req.Type,
		Severity:        domain.SeverityMedium,
		Priority:        l.priority(req.DisputedAmount),
		Status:          domain.StatusOpen,
		Description:     req.Description,
		DisputedAmount:  req.DisputedAmount,
		Currency:        req.Currency,
		PotentialImpact: "medium",
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	// Auto-resolution shortcut: runs before any open state is stored.
	if req.Type == "payment" && req.DisputedAmount < l.cfg.AutoResolveThreshold {
		c.Status = domain.StatusResolved
		c.Resolution = &domain.Resolution{
			Action:       "refund",
			Reasoning:    "Auto-resolved: Low amount payment dispute",
			AppliedBy:    "system",
			AppliedAt:    now,
			RefundAmount: req.DisputedAmount,
		}

		if err := l.repo.SaveCase(ctx, c); err != nil {
			return nil, fmt.Errorf("saving auto-resolved dispute: %w", err)
		}

		if err := l.executor.ApplyAction(ctx, c, "refund"); err != nil {
			slog.Error("auto-resolution refund failed", "case_id", c.ID, "error", err)
		}
		if err := l.notifier.Notify(ctx, c, "case_resolved"); err != nil {
			slog.Error("resolution notification failed", "case_id", c.ID, "error", err)
		}

		slog.Info("dispute auto-resolved",
			"case_id", c.ID,
			"amount", req.DisputedAmount,
		)
		return c, nil
	}

	c.Deadlines = map[string]time.Time{
		domain.DeadlineResponse:   now.Add(l.cfg.ResponseDeadline),
		domain.DeadlineEvidence:   now.Add(l.cfg.EvidenceDeadline),
		domain.DeadlineResolution: now.Add(l.cfg.ResolutionDeadline),
	}

	if err := l.repo.SaveCase(ctx, c); err != nil {
		return nil, fmt.Errorf("saving dispute: %w", err)
	}

	if err := l.notifier.Notify(ctx, c, "case_created"); err != nil {
		slog.Error("dispute notification failed", "case_id", c.ID, "error", err)
	}

	return c, nil
}

// Investigate moves an open case into investigation.
func (l *Lifecycle) Investigate(ctx context.Context, caseID, reviewerID string) (*domain.Case, error) {
	return l.transition(ctx, caseID, domain.StatusInvestigating, reviewerID,
		"Investigation started",
		domain.StatusOpen)
}

// Mediate moves a dispute into mediation.
func (l *Lifecycle) Mediate(ctx context.Context, caseID, mediatorID string) (*domain.Case, error) {
	c, err := l.repo.GetCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if c.Kind != domain.KindDispute {
		return nil, fmt.Errorf("%w: only disputes enter mediation", domain.ErrInvalidTransition)
	}
	return l.transition(ctx, caseID, domain.StatusMediation, mediatorID,
		"Mediation started",
		domain.StatusOpen, domain.StatusInvestigating)
}

// Resolve attaches a resolution and terminates the case. An activity
// case resolved with action "no_action" lands in false_positive
// instead of resolved.
func (l *Lifecycle) Resolve(ctx context.Context, caseID string, res domain.Resolution) (*domain.Case, error) {
	c, err := l.repo.GetCase(ctx, caseID)
	if err != nil {
		return nil, err
	}

	if c.Resolution != nil || c.Status == domain.StatusResolved {
		return nil, fmt.Errorf("%w: case %s", domain.ErrAlreadyResolved, caseID)
	}
	if c.Status.Terminal() {
		return nil, fmt.Errorf("%w: cannot resolve from %s", domain.ErrInvalidTransition, c.Status)
	}

	now := time.Now().UTC()
	res.AppliedAt = now
	if res.AppliedBy == "" {
		res.AppliedBy = "system"
	}

	if res.Action == "no_action" && c.Kind == domain.KindActivity {
		c.Status = domain.StatusFalsePositive
	} else {
		c.Status = domain.StatusResolved
	}
	c.Resolution = &res
	c.Timeline = append(c.Timeline, domain.TimelineEntry{
		ID:        uuid.New().String(),
		AuthorID:  res.AppliedBy,
		Body:      fmt.Sprintf("Resolved (%s): %s", res.Action, res.Reasoning),
		CreatedAt: now,
	})
	c.UpdatedAt = now

	if err := l.repo.UpdateCase(ctx, c); err != nil {
		return nil, fmt.Errorf("updating case: %w", err)
	}

	if res.Action != "no_action" {
		if err := l.executor.ApplyAction(ctx, c, res.Action); err != nil {
			slog.Error("resolution action failed", "case_id", c.ID, "action", res.Action, "error", err)
		}
	}
	if err := l.notifier.Notify(ctx, c, "case_resolved"); err != nil {
		slog.Error("resolution notification failed", "case_id", c.ID, "error", err)
	}

	slog.Info("case resolved",
		"case_id", c.ID,
		"action", res.Action,
		"status", c.Status,
	)

	return c, nil
}

// Appeal reopens a resolved or closed dispute.
func (l *Lifecycle) Appeal(ctx context.Context, caseID, actorID, reason string) (*domain.Case, error) {
	c, err := l.repo.GetCase(ctx, caseID)
	if err != nil {
		return nil, err
	}

	if c.Kind != domain.KindDispute {
		return nil, fmt.Errorf("%w: only disputes can be appealed", domain.ErrInvalidTransition)
	}
	if c.Status != domain.StatusResolved && c.Status != domain.StatusClosed {
		return nil, fmt.Errorf("%w: cannot appeal from %s", domain.ErrInvalidTransition, c.Status)
	}

	now := time.Now().UTC()
	c.Status = domain.StatusAppealed
	c.Timeline = append(c.Timeline, domain.TimelineEntry{
		ID:        uuid.New().String(),
		AuthorID:  actorID,
		Body:      "Appeal filed: " + reason,
		CreatedAt: now,
	})
	c.UpdatedAt = now

	if err := l.repo.UpdateCase(ctx, c); err != nil {
		return nil, fmt.Errorf("updating case: %w", err)
	}

	if err := l.notifier.Notify(ctx, c, "case_appealed"); err != nil {
		slog.Error("appeal notification failed", "case_id", c.ID, "error", err)
	}

	return c, nil
}

// CloseCase moves a resolved case to its terminal closed state.
func (l *Lifecycle) CloseCase(ctx context.Context, caseID, reviewerID string) (*domain.Case, error) {
	return l.transition(ctx, caseID, domain.StatusClosed, reviewerID,
		"Case closed",
		domain.StatusResolved)
}

// transition applies a guarded status change with a timeline entry.
func (l *Lifecycle) transition(ctx context.Context, caseID string, to domain.CaseStatus, authorID, note string, from ...domain.CaseStatus) (*domain.Case, error) {
	c, err := l.repo.GetCase(ctx, caseID)
	if err != nil {
		return nil, err
	}

	allowed := false
	for _, f := range from {
		if c.Status == f {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, c.Status, to)
	}

	now := time.Now().UTC()
	c.Status = to
	if authorID == "" {
		authorID = "system"
	}
	c.Timeline = append(c.Timeline, domain.TimelineEntry{
		ID:        uuid.New().String(),
		AuthorID:  authorID,
		Body:      note,
		CreatedAt: now,
	})
	c.UpdatedAt = now

	if err := l.repo.UpdateCase(ctx, c); err != nil {
		return nil, fmt.Errorf("updating case: %w", err)
	}

	return c, nil
}
