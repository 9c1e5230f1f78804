package activity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/opensource-trust/harrier/internal/domain"
)

type fakeRepo struct {
	saved      []*domain.ActivityRecord
	countByDay int64
	openCases  int
	totalCases int
}

func (f *fakeRepo) SaveActivity(ctx context.Context, rec *domain.ActivityRecord) error {
	f.saved = append(f.saved, rec)
	return nil
}

func (f *fakeRepo) GetActivitiesByActor(ctx context.Context, actorID string, since time.Time) ([]*domain.ActivityRecord, error) {
	return f.saved, nil
}

func (f *fakeRepo) CountActivitiesByActor(ctx context.Context, actorID string, since time.Time) (int64, error) {
	return f.countByDay, nil
}

func (f *fakeRepo) CountCasesByActor(ctx context.Context, actorID string) (int, int, error) {
	return f.openCases, f.totalCases, nil
}

func (f *fakeRepo) ListActiveActors(context.Context, time.Time) ([]string, error)   { panic("unused") }
func (f *fakeRepo) DeleteActivitiesBefore(context.Context, time.Time) (int64, error) {
	panic("unused")
}
func (f *fakeRepo) SaveRule(context.Context, *domain.Rule) error               { panic("unused") }
func (f *fakeRepo) GetRule(context.Context, string) (*domain.Rule, error)      { panic("unused") }
func (f *fakeRepo) ListRules(context.Context) ([]*domain.Rule, error)          { panic("unused") }
func (f *fakeRepo) RecordRuleTrigger(context.Context, string, time.Time) error { panic("unused") }
func (f *fakeRepo) SaveCase(context.Context, *domain.Case) error               { panic("unused") }
func (f *fakeRepo) GetCase(context.Context, string) (*domain.Case, error)      { panic("unused") }
func (f *fakeRepo) UpdateCase(context.Context, *domain.Case) error             { panic("unused") }
func (f *fakeRepo) ListOpenCases(context.Context) ([]*domain.Case, error)      { panic("unused") }
func (f *fakeRepo) ListCasesByStatus(context.Context, domain.CaseStatus) ([]*domain.Case, error) {
	panic("unused")
}
func (f *fakeRepo) FindOpenCase(context.Context, string, string, time.Time) (*domain.Case, error) {
	panic("unused")
}
func (f *fakeRepo) SaveAppliedAction(context.Context, *domain.AppliedAction) error {
	panic("unused")
}
func (f *fakeRepo) HasAppliedAction(context.Context, string, string) (bool, error) {
	panic("unused")
}
func (f *fakeRepo) Ping(context.Context) error { return nil }
func (f *fakeRepo) Close() error               { return nil }

type fakeCache struct {
	counters map[string]int64
	err      error
}

func (f *fakeCache) IncrementCounter(ctx context.Context, key string, window time.Duration) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	if f.counters == nil {
		f.counters = make(map[string]int64)
	}
	f.counters[key]++
	return f.counters[key], nil
}

func (f *fakeCache) GetCounter(ctx context.Context, key string) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	return f.counters[key], nil
}

func (f *fakeCache) Get(context.Context, string) ([]byte, error)                { return nil, nil }
func (f *fakeCache) Set(context.Context, string, []byte, time.Duration) error   { return nil }
func (f *fakeCache) Delete(context.Context, string) error                       { return nil }
func (f *fakeCache) GetProfile(context.Context, string) (*domain.ActorProfile, error) {
	return nil, nil
}
func (f *fakeCache) SetProfile(context.Context, string, *domain.ActorProfile, time.Duration) error {
	return nil
}
func (f *fakeCache) Ping(context.Context) error { return nil }
func (f *fakeCache) Close() error               { return nil }

func record(action string, amount int64) *domain.ActivityRecord {
	return &domain.ActivityRecord{
		ActorID:   "actor-1",
		Action:    action,
		Amount:    amount,
		CreatedAt: time.Now().UTC(),
	}
}

func TestRecord(t *testing.T) {
	repo := &fakeRepo{}
	cache := &fakeCache{}
	svc := NewService(repo, cache)

	rec := record("payment", 1500)
	if err := svc.Record(context.Background(), rec); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	if rec.ID == "" {
		t.Error("expected generated ID")
	}
	if len(repo.saved) != 1 {
		t.Fatalf("expected 1 saved record, got %d", len(repo.saved))
	}
	if cache.counters["velocity:actor-1"] != 1 {
		t.Errorf("expected velocity counter at 1, got %d", cache.counters["velocity:actor-1"])
	}

	t.Run("MissingActor", func(t *testing.T) {
		err := svc.Record(context.Background(), &domain.ActivityRecord{Action: "login"})
		if !errors.Is(err, domain.ErrActorNotFound) {
			t.Errorf("expected ErrActorNotFound, got %v", err)
		}
	})

	t.Run("CounterFailureIsNotFatal", func(t *testing.T) {
		svc := NewService(&fakeRepo{}, &fakeCache{err: errors.New("cache down")})
		if err := svc.Record(context.Background(), record("login", 0)); err != nil {
			t.Errorf("counter failure must not fail the record: %v", err)
		}
	})
}

func TestComputeMetric(t *testing.T) {
	history := []*domain.ActivityRecord{
		{ID: "a1", Action: "payment", Amount: 1000, CounterpartyID: "seller-1"},
		{ID: "a2", Action: "payment", Amount: 3000, CounterpartyID: "seller-2"},
		{ID: "a3", Action: "message_sent", CounterpartyID: "seller-1"},
		{ID: "a4", Action: "login_failed"},
	}

	svc := NewService(&fakeRepo{}, &fakeCache{counters: map[string]int64{"velocity:actor-1": 42}})

	tests := []struct {
		metric string
		want   float64
	}{
		{MetricEventCount, 4},
		{MetricPaymentCount, 2},
		{MetricMessageCount, 1},
		{MetricFailedLoginCount, 1},
		{MetricTotalAmount, 4000},
		{MetricAvgAmount, 2000},
		{MetricMaxAmount, 3000},
		{MetricDistinctCounterparties, 2},
		{MetricHourlyVelocity, 42},
	}

	for _, tt := range tests {
		t.Run(tt.metric, func(t *testing.T) {
			got, err := svc.ComputeMetric(context.Background(), tt.metric, "actor-1", history, nil)
			if err != nil {
				t.Fatalf("ComputeMetric(%s) failed: %v", tt.metric, err)
			}
			if got != tt.want {
				t.Errorf("ComputeMetric(%s) = %v, want %v", tt.metric, got, tt.want)
			}
		})
	}

	t.Run("UnknownMetric", func(t *testing.T) {
		_, err := svc.ComputeMetric(context.Background(), "bogus", "actor-1", history, nil)
		if !errors.Is(err, domain.ErrMetricFailed) {
			t.Errorf("expected ErrMetricFailed, got %v", err)
		}
	})

	t.Run("AvgIgnoresZeroAmounts", func(t *testing.T) {
		got, err := svc.ComputeMetric(context.Background(), MetricAvgAmount, "actor-1", history, nil)
		if err != nil {
			t.Fatalf("ComputeMetric failed: %v", err)
		}
		if got != 2000 {
			t.Errorf("zero-amount events must not drag the average, got %v", got)
		}
	})
}

func TestComputeMetricIncludesCurrentEvent(t *testing.T) {
	svc := NewService(&fakeRepo{}, &fakeCache{})

	history := []*domain.ActivityRecord{
		{ID: "a1", Action: "payment", Amount: 1000},
	}

	t.Run("NewEventCounted", func(t *testing.T) {
		event := &domain.ActivityRecord{ID: "a2", Action: "payment", Amount: 500}
		got, _ := svc.ComputeMetric(context.Background(), MetricPaymentCount, "actor-1", history, event)
		if got != 2 {
			t.Errorf("expected 2 payments with the live event, got %v", got)
		}
	})

	t.Run("PersistedEventNotDoubleCounted", func(t *testing.T) {
		event := &domain.ActivityRecord{ID: "a1", Action: "payment", Amount: 1000}
		got, _ := svc.ComputeMetric(context.Background(), MetricPaymentCount, "actor-1", history, event)
		if got != 1 {
			t.Errorf("an already-persisted event must count once, got %v", got)
		}
	})
}

func TestStringMetric(t *testing.T) {
	svc := NewService(&fakeRepo{}, &fakeCache{})

	event := &domain.ActivityRecord{
		ID:             "a1",
		Action:         "message_sent",
		Description:    "pay me on telegram",
		CounterpartyID: "buyer-7",
		Metadata:       map[string]any{"channel": "chat", "attempts": 3},
	}

	tests := []struct {
		metric string
		want   string
	}{
		{MetricEventAction, "message_sent"},
		{MetricEventText, "pay me on telegram"},
		{MetricCounterparty, "buyer-7"},
		{"meta.channel", "chat"},
		{"meta.attempts", "3"},
		{"meta.missing", ""},
	}

	for _, tt := range tests {
		t.Run(tt.metric, func(t *testing.T) {
			got, err := svc.StringMetric(context.Background(), tt.metric, "actor-1", nil, event)
			if err != nil {
				t.Fatalf("StringMetric(%s) failed: %v", tt.metric, err)
			}
			if got != tt.want {
				t.Errorf("StringMetric(%s) = %q, want %q", tt.metric, got, tt.want)
			}
		})
	}

	t.Run("NilEvent", func(t *testing.T) {
		got, err := svc.StringMetric(context.Background(), MetricEventText, "actor-1", nil, nil)
		if err != nil {
			t.Fatalf("StringMetric failed: %v", err)
		}
		if got != "" {
			t.Errorf("expected empty string without an event, got %q", got)
		}
	})

	t.Run("UnknownMetric", func(t *testing.T) {
		if _, err := svc.StringMetric(context.Background(), "bogus", "actor-1", nil, event); !errors.Is(err, domain.ErrMetricFailed) {
			t.Errorf("expected ErrMetricFailed, got %v", err)
		}
	})
}

func TestBuildProfile(t *testing.T) {
	repo := &fakeRepo{countByDay: 37, openCases: 2, totalCases: 5}
	svc := NewService(repo, &fakeCache{})

	p, err := svc.BuildProfile(context.Background(), "actor-1")
	if err != nil {
		t.Fatalf("BuildProfile failed: %v", err)
	}
	if p.ActorID != "actor-1" {
		t.Errorf("expected actor-1, got %s", p.ActorID)
	}
	if p.ActivityCount != 37 {
		t.Errorf("expected 37 activities, got %d", p.ActivityCount)
	}
	if p.OpenCases != 2 || p.FlaggedCases != 5 {
		t.Errorf("expected 2 open / 5 total, got %d / %d", p.OpenCases, p.FlaggedCases)
	}
	if p.RefreshedAt.IsZero() {
		t.Error("expected refresh time")
	}
}
