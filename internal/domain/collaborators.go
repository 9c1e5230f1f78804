package domain

import (
	"context"
	"time"
)

// ActivityStore provides an actor's recent activity history to the
// rule evaluator.
type ActivityStore interface {
	GetUserActivities(ctx context.Context, actorID string, since time.Time) ([]*ActivityRecord, error)
}

// MetricProvider computes scalar and string metrics over an actor's
// recent activity and the event under evaluation.
type MetricProvider interface {
	// ComputeMetric returns the numeric value of the named metric.
	ComputeMetric(ctx context.Context, metric, actorID string, activities []*ActivityRecord, event *ActivityRecord) (float64, error)

	// StringMetric returns the string value of the named metric, used
	// by contains/pattern conditions.
	StringMetric(ctx context.Context, metric, actorID string, activities []*ActivityRecord, event *ActivityRecord) (string, error)
}

// ActionExecutor applies case actions (suspension, restriction,
// refund) to the platform. Implementations must be idempotent per
// (case, action) pair.
type ActionExecutor interface {
	ApplyAction(ctx context.Context, c *Case, action string) error
}

// Notifier delivers case events to admins and involved parties.
type Notifier interface {
	Notify(ctx context.Context, c *Case, event string) error
}

// TriggerEvaluator checks custom auto-escalation triggers against a
// case.
type TriggerEvaluator interface {
	EvaluateTrigger(ctx context.Context, c *Case, trigger string) (bool, error)
}
