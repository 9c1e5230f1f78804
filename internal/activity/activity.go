// Package activity provides the activity store and the built-in
// metric provider used by the rule evaluator.
package activity

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-trust/harrier/internal/domain"
)

// Built-in numeric metrics.
const (
	MetricEventCount            = "event_count"
	MetricPaymentCount          = "payment_count"
	MetricTotalAmount           = "total_amount"
	MetricAvgAmount             = "avg_amount"
	MetricMaxAmount             = "max_amount"
	MetricDistinctCounterparties = "distinct_counterparties"
	MetricMessageCount          = "message_count"
	MetricListingCount          = "listing_count"
	MetricFailedLoginCount      = "failed_login_count"
	MetricHourlyVelocity        = "hourly_velocity"
)

// Built-in string metrics.
const (
	MetricEventAction   = "event_action"
	MetricEventText     = "event_text"
	MetricCounterparty  = "event_counterparty"
	metaMetricPrefix    = "meta."
)

const velocityWindow = time.Hour

// Service implements the ActivityStore and MetricProvider
// collaborators on top of the repository, with cache-backed velocity
// counters.
type Service struct {
	repo  domain.Repository
	cache domain.Cache
}

// NewService creates a new activity service.
func NewService(repo domain.Repository, cache domain.Cache) *Service {
	return &Service{
		repo:  repo,
		cache: cache,
	}
}

// Record persists an incoming activity and bumps the actor's rolling
// velocity counter.
func (s *Service) Record(ctx context.Context, rec *domain.ActivityRecord) error {
	if rec.ActorID == "" {
		return domain.ErrActorNotFound
	}
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	if err := s.repo.SaveActivity(ctx, rec); err != nil {
		return fmt.Errorf("saving activity: %w", err)
	}

	if s.cache != nil {
		if _, err := s.cache.IncrementCounter(ctx, velocityKey(rec.ActorID), velocityWindow); err != nil {
			// Counter loss degrades the velocity metric only.
			return nil
		}
	}

	return nil
}

// GetUserActivities returns the actor's activity since the given time,
// newest first.
func (s *Service) GetUserActivities(ctx context.Context, actorID string, since time.Time) ([]*domain.ActivityRecord, error) {
	if actorID == "" {
		return nil, domain.ErrActorNotFound
	}
	return s.repo.GetActivitiesByActor(ctx, actorID, since)
}

// ComputeMetric returns the numeric value of a built-in metric over
// the window's activity. The current event is part of the window: it
// is counted even when persistence lag keeps it out of the fetched
// history.
func (s *Service) ComputeMetric(ctx context.Context, metric, actorID string, activities []*domain.ActivityRecord, event *domain.ActivityRecord) (float64, error) {
	all := withEvent(activities, event)

	switch metric {
	case MetricEventCount:
		return float64(len(all)), nil

	case MetricPaymentCount:
		return float64(countByAction(all, "payment")), nil

	case MetricMessageCount:
		return float64(countByAction(all, "message_sent")), nil

	case MetricListingCount:
		return float64(countByAction(all, "listing_created")), nil

	case MetricFailedLoginCount:
		return float64(countByAction(all, "login_failed")), nil

	case MetricTotalAmount:
		var sum int64
		for _, a := range all {
			sum += a.Amount
		}
		return float64(sum), nil

	case MetricAvgAmount:
		var sum int64
		n := 0
		for _, a := range all {
			if a.Amount > 0 {
				sum += a.Amount
				n++
			}
		}
		if n == 0 {
			return 0, nil
		}
		return float64(sum) / float64(n), nil

	case MetricMaxAmount:
		var max int64
		for _, a := range all {
			if a.Amount > max {
				max = a.Amount
			}
		}
		return float64(max), nil

	case MetricDistinctCounterparties:
		seen := make(map[string]struct{})
		for _, a := range all {
			if a.CounterpartyID != "" {
				seen[a.CounterpartyID] = struct{}{}
			}
		}
		return float64(len(seen)), nil

	case MetricHourlyVelocity:
		if s.cache == nil {
			return 0, fmt.Errorf("%w: no cache for %s", domain.ErrMetricFailed, metric)
		}
		count, err := s.cache.GetCounter(ctx, velocityKey(actorID))
		if err != nil {
			return 0, fmt.Errorf("%w: %s: %v", domain.ErrMetricFailed, metric, err)
		}
		return float64(count), nil
	}

	return 0, fmt.Errorf("%w: unknown metric %q", domain.ErrMetricFailed, metric)
}

// StringMetric resolves a string attribute of the current event for
// contains/pattern conditions. Metadata values are addressed as
// "meta.<key>".
func (s *Service) StringMetric(ctx context.Context, metric, actorID string, activities []*domain.ActivityRecord, event *domain.ActivityRecord) (string, error) {
	if event == nil {
		// Scheduled sweeps carry no event; string conditions cannot
		// match.
		return "", nil
	}

	switch metric {
	case MetricEventAction:
		return event.Action, nil
	case MetricEventText:
		return event.Description, nil
	case MetricCounterparty:
		return event.CounterpartyID, nil
	}

	if key, ok := strings.CutPrefix(metric, metaMetricPrefix); ok {
		if v, present := event.Metadata[key]; present {
			return fmt.Sprintf("%v", v), nil
		}
		return "", nil
	}

	return "", fmt.Errorf("%w: unknown string metric %q", domain.ErrMetricFailed, metric)
}

// BuildProfile assembles a fresh actor profile from the repository.
func (s *Service) BuildProfile(ctx context.Context, actorID string) (*domain.ActorProfile, error) {
	now := time.Now().UTC()

	count, err := s.repo.CountActivitiesByActor(ctx, actorID, now.Add(-24*time.Hour))
	if err != nil {
		return nil, fmt.Errorf("counting activity: %w", err)
	}

	open, total, err := s.repo.CountCasesByActor(ctx, actorID)
	if err != nil {
		return nil, fmt.Errorf("counting cases: %w", err)
	}

	return &domain.ActorProfile{
		ActorID:       actorID,
		ActivityCount: count,
		OpenCases:     open,
		FlaggedCases:  total,
		LastSeen:      now,
		RefreshedAt:   now,
	}, nil
}

func withEvent(activities []*domain.ActivityRecord, event *domain.ActivityRecord) []*domain.ActivityRecord {
	if event == nil {
		return activities
	}
	for _, a := range activities {
		if a.ID != "" && a.ID == event.ID {
			return activities
		}
	}
	out := make([]*domain.ActivityRecord, 0, len(activities)+1)
	out = append(out, event)
	out = append(out, activities...)
	return out
}

func countByAction(activities []*domain.ActivityRecord, action string) int {
	n := 0
	for _, a := range activities {
		if a.Action == action {
			n++
		}
	}
	return n
}

func velocityKey(actorID string) string {
	return "velocity:" + actorID
}
