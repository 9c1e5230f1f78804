// Package notify delivers case events and applies case actions over
// the event bus.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-trust/harrier/internal/domain"
)

// BusNotifier implements domain.Notifier by publishing case events to
// the event bus. Downstream consumers (admin dashboards, email
// senders) subscribe to the case topics.
type BusNotifier struct {
	bus domain.EventBus
}

// NewBusNotifier creates a notifier backed by the event bus.
func NewBusNotifier(b domain.EventBus) *BusNotifier {
	return &BusNotifier{bus: b}
}

// caseEvent is the wire shape for case notifications.
type caseEvent struct {
	Event     string    `json:"event"`
	CaseID    string    `json:"caseId"`
	Kind      string    `json:"kind"`
	ActorID   string    `json:"actorId"`
	Type      string    `json:"type"`
	Severity  string    `json:"severity"`
	Priority  string    `json:"priority,omitempty"`
	Status    string    `json:"status"`
	RiskScore int       `json:"riskScore"`
	Timestamp time.Time `json:"timestamp"`
}

// Notify publishes the case event to its topic. Unknown events go to
// the generic alert topic.
func (n *BusNotifier) Notify(ctx context.Context, c *domain.Case, event string) error {
	payload, err := json.Marshal(caseEvent{
		Event:     event,
		CaseID:    c.ID,
		Kind:      string(c.Kind),
		ActorID:   c.ActorID,
		Type:      c.Type,
		Severity:  string(c.Severity),
		Priority:  string(c.Priority),
		Status:    string(c.Status),
		RiskScore: c.RiskScore,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	topic := domain.TopicAlert
	switch event {
	case "case_created":
		topic = domain.TopicCaseCreated
	case "case_escalated":
		topic = domain.TopicCaseEscalated
	case "case_resolved":
		topic = domain.TopicCaseResolved
	}

	if err := n.bus.Publish(ctx, topic, payload); err != nil {
		slog.Error("failed to publish case event",
			"event", event,
			"case_id", c.ID,
			"error", err,
		)
		return err
	}

	return nil
}

// Executor implements domain.ActionExecutor. Actions are recorded in
// the applied_actions audit table and announced on the bus; the
// (case, action) pair is the idempotency key, so replays under
// at-least-once delivery are no-ops.
type Executor struct {
	repo domain.Repository
	bus  domain.EventBus
}

// NewExecutor creates an action executor.
func NewExecutor(repo domain.Repository, b domain.EventBus) *Executor {
	return &Executor{repo: repo, bus: b}
}

// appliedEvent is the wire shape for action announcements.
type appliedEvent struct {
	CaseID    string    `json:"caseId"`
	ActorID   string    `json:"actorId"`
	Action    string    `json:"action"`
	AppliedAt time.Time `json:"appliedAt"`
}

// ApplyAction records and announces an action against a case. Applying
// the same action to the same case twice is a no-op.
func (e *Executor) ApplyAction(ctx context.Context, c *domain.Case, action string) error {
	applied, err := e.repo.HasAppliedAction(ctx, c.ID, action)
	if err != nil {
		return err
	}
	if applied {
		slog.Debug("action already applied",
			"case_id", c.ID,
			"action", action,
		)
		return nil
	}

	now := time.Now().UTC()
	if err := e.repo.SaveAppliedAction(ctx, &domain.AppliedAction{
		ID:        uuid.New().String(),
		CaseID:    c.ID,
		ActorID:   c.ActorID,
		Action:    action,
		AppliedBy: "system",
		AppliedAt: now,
	}); err != nil {
		return err
	}

	payload, err := json.Marshal(appliedEvent{
		CaseID:    c.ID,
		ActorID:   c.ActorID,
		Action:    action,
		AppliedAt: now,
	})
	if err != nil {
		return err
	}

	if err := e.bus.Publish(ctx, domain.TopicActionApplied, payload); err != nil {
		slog.Error("failed to publish applied action",
			"case_id", c.ID,
			"action", action,
			"error", err,
		)
		return err
	}

	slog.Info("action applied",
		"case_id", c.ID,
		"actor_id", c.ActorID,
		"action", action,
	)
	return nil
}
