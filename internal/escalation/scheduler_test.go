package escalation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-trust/harrier/internal/domain"
)

// fakeRepo is an in-memory Repository covering what the lifecycle and
// scheduler touch. Other methods panic so a test reaching them fails
// loudly.
type fakeRepo struct {
	mu      sync.Mutex
	cases   map[string]*domain.Case
	applied map[string]bool
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		cases:   make(map[string]*domain.Case),
		applied: make(map[string]bool),
	}
}

func (f *fakeRepo) SaveCase(ctx context.Context, c *domain.Case) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *c
	f.cases[c.ID] = &cp
	return nil
}

func (f *fakeRepo) GetCase(ctx context.Context, caseID string) (*domain.Case, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.cases[caseID]
	if !ok {
		return nil, fmt.Errorf("case %s: %w", caseID, domain.ErrCaseNotFound)
	}
	cp := *c
	return &cp, nil
}

func (f *fakeRepo) UpdateCase(ctx context.Context, c *domain.Case) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.cases[c.ID]; !ok {
		return fmt.Errorf("case %s: %w", c.ID, domain.ErrCaseNotFound)
	}
	cp := *c
	f.cases[c.ID] = &cp
	return nil
}

func (f *fakeRepo) ListOpenCases(ctx context.Context) ([]*domain.Case, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.Case
	for _, c := range f.cases {
		if c.Open() {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeRepo) SaveAppliedAction(ctx context.Context, a *domain.AppliedAction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applied[a.CaseID+"|"+a.Action] = true
	return nil
}

func (f *fakeRepo) HasAppliedAction(ctx context.Context, caseID, action string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.applied[caseID+"|"+action], nil
}

func (f *fakeRepo) SaveActivity(context.Context, *domain.ActivityRecord) error { panic("unused") }
func (f *fakeRepo) GetActivitiesByActor(context.Context, string, time.Time) ([]*domain.ActivityRecord, error) {
	panic("unused")
}
func (f *fakeRepo) CountActivitiesByActor(context.Context, string, time.Time) (int64, error) {
	panic("unused")
}
func (f *fakeRepo) ListActiveActors(context.Context, time.Time) ([]string, error) { panic("unused") }
func (f *fakeRepo) DeleteActivitiesBefore(context.Context, time.Time) (int64, error) {
	panic("unused")
}
func (f *fakeRepo) SaveRule(context.Context, *domain.Rule) error           { panic("unused") }
func (f *fakeRepo) GetRule(context.Context, string) (*domain.Rule, error)  { panic("unused") }
func (f *fakeRepo) ListRules(context.Context) ([]*domain.Rule, error)      { panic("unused") }
func (f *fakeRepo) RecordRuleTrigger(context.Context, string, time.Time) error {
	panic("unused")
}
func (f *fakeRepo) ListCasesByStatus(context.Context, domain.CaseStatus) ([]*domain.Case, error) {
	panic("unused")
}
func (f *fakeRepo) CountCasesByActor(context.Context, string) (int, int, error) { panic("unused") }
func (f *fakeRepo) FindOpenCase(context.Context, string, string, time.Time) (*domain.Case, error) {
	panic("unused")
}
func (f *fakeRepo) Ping(context.Context) error { return nil }
func (f *fakeRepo) Close() error               { return nil }

type fakeNotifier struct {
	mu     sync.Mutex
	events []string
}

func (f *fakeNotifier) Notify(ctx context.Context, c *domain.Case, event string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *fakeNotifier) sawEvent(event string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.events {
		if e == event {
			return true
		}
	}
	return false
}

type fakeTriggers struct {
	fired map[string]bool
	errs  map[string]error
}

func (f *fakeTriggers) EvaluateTrigger(ctx context.Context, c *domain.Case, trigger string) (bool, error) {
	if err := f.errs[trigger]; err != nil {
		return false, err
	}
	return f.fired[trigger], nil
}

func flatPriority(int64) domain.Priority { return domain.PriorityMedium }

func newTestScheduler(repo *fakeRepo, triggers *fakeTriggers, notifier *fakeNotifier) *Scheduler {
	if triggers == nil {
		triggers = &fakeTriggers{}
	}
	return NewScheduler(repo, triggers, notifier, flatPriority, domain.DefaultEngineConfig())
}

func openCase(deadlines map[string]time.Time) *domain.Case {
	now := time.Now().UTC()
	return &domain.Case{
		ID:        uuid.New().String(),
		Kind:      domain.KindActivity,
		ActorID:   "actor-1",
		Type:      domain.CaseTypePaymentFraud,
		Severity:  domain.SeverityHigh,
		Status:    domain.StatusOpen,
		Deadlines: deadlines,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestCheckEscalationDeadlineOrder(t *testing.T) {
	s := newTestScheduler(newFakeRepo(), nil, &fakeNotifier{})
	now := time.Now().UTC()

	t.Run("NoDeadlines", func(t *testing.T) {
		d := s.CheckEscalation(context.Background(), openCase(nil))
		if d.Escalate {
			t.Error("nothing should escalate without deadlines or triggers")
		}
	})

	t.Run("ResponseExceeded", func(t *testing.T) {
		c := openCase(map[string]time.Time{
			domain.DeadlineResponse:   now.Add(-time.Hour),
			domain.DeadlineEvidence:   now.Add(time.Hour),
			domain.DeadlineResolution: now.Add(2 * time.Hour),
		})
		d := s.CheckEscalation(context.Background(), c)
		if !d.Escalate {
			t.Fatal("expected escalation")
		}
		if d.Reason != "Response deadline exceeded" {
			t.Errorf("unexpected reason %q", d.Reason)
		}
	})

	t.Run("ResponseWinsOverEvidence", func(t *testing.T) {
		// Evidence expired longer ago, but response is checked first.
		c := openCase(map[string]time.Time{
			domain.DeadlineResponse: now.Add(-time.Minute),
			domain.DeadlineEvidence: now.Add(-time.Hour),
		})
		d := s.CheckEscalation(context.Background(), c)
		if d.Reason != "Response deadline exceeded" {
			t.Errorf("expected response to win, got %q", d.Reason)
		}
	})

	t.Run("EvidenceOnly", func(t *testing.T) {
		c := openCase(map[string]time.Time{
			domain.DeadlineResponse: now.Add(time.Hour),
			domain.DeadlineEvidence: now.Add(-time.Minute),
		})
		d := s.CheckEscalation(context.Background(), c)
		if d.Reason != "Evidence deadline exceeded" {
			t.Errorf("unexpected reason %q", d.Reason)
		}
	})

	t.Run("ResolutionOnly", func(t *testing.T) {
		c := openCase(map[string]time.Time{
			domain.DeadlineResolution: now.Add(-time.Minute),
		})
		d := s.CheckEscalation(context.Background(), c)
		if d.Reason != "Resolution deadline exceeded" {
			t.Errorf("unexpected reason %q", d.Reason)
		}
	})
}

func TestCheckEscalationTriggers(t *testing.T) {
	now := time.Now().UTC()

	t.Run("TriggerFires", func(t *testing.T) {
		s := newTestScheduler(newFakeRepo(), &fakeTriggers{fired: map[string]bool{"high_risk_open": true}}, &fakeNotifier{})
		c := openCase(nil)
		c.AutoEscalationTriggers = []string{"high_risk_open"}

		d := s.CheckEscalation(context.Background(), c)
		if !d.Escalate {
			t.Fatal("expected trigger to escalate")
		}
		if d.Reason != "Auto-escalation trigger: high_risk_open" {
			t.Errorf("unexpected reason %q", d.Reason)
		}
	})

	t.Run("TriggerFailureIsNotFired", func(t *testing.T) {
		s := newTestScheduler(newFakeRepo(), &fakeTriggers{errs: map[string]error{"broken": errors.New("boom")}}, &fakeNotifier{})
		c := openCase(nil)
		c.AutoEscalationTriggers = []string{"broken"}

		if d := s.CheckEscalation(context.Background(), c); d.Escalate {
			t.Error("a failed trigger must not escalate")
		}
	})

	t.Run("DeadlineShortCircuitsTriggers", func(t *testing.T) {
		s := newTestScheduler(newFakeRepo(), &fakeTriggers{fired: map[string]bool{"high_risk_open": true}}, &fakeNotifier{})
		c := openCase(map[string]time.Time{domain.DeadlineResponse: now.Add(-time.Minute)})
		c.AutoEscalationTriggers = []string{"high_risk_open"}

		d := s.CheckEscalation(context.Background(), c)
		if d.Reason != "Response deadline exceeded" {
			t.Errorf("deadline must win over triggers, got %q", d.Reason)
		}
	})
}

func TestEscalate(t *testing.T) {
	repo := newFakeRepo()
	notifier := &fakeNotifier{}
	s := newTestScheduler(repo, nil, notifier)

	c := openCase(nil)
	repo.SaveCase(context.Background(), c)

	escalated, err := s.Escalate(context.Background(), c.ID, "manual review")
	if err != nil {
		t.Fatalf("Escalate failed: %v", err)
	}
	if escalated.Status != domain.StatusEscalated {
		t.Errorf("expected escalated status, got %s", escalated.Status)
	}
	if escalated.EscalationLevel != 1 {
		t.Errorf("expected level 1, got %d", escalated.EscalationLevel)
	}
	if len(escalated.Timeline) != 1 {
		t.Fatalf("expected 1 timeline entry, got %d", len(escalated.Timeline))
	}
	if escalated.Timeline[0].AuthorID != "system" {
		t.Errorf("timeline author should be system, got %s", escalated.Timeline[0].AuthorID)
	}
	if !notifier.sawEvent("case_escalated") {
		t.Error("expected case_escalated notification")
	}

	t.Run("AlreadyEscalated", func(t *testing.T) {
		_, err := s.Escalate(context.Background(), c.ID, "again")
		if !errors.Is(err, domain.ErrAlreadyEscalated) {
			t.Fatalf("expected ErrAlreadyEscalated, got %v", err)
		}
		stored, _ := repo.GetCase(context.Background(), c.ID)
		if stored.EscalationLevel != 1 {
			t.Errorf("level must not change on rejected escalation, got %d", stored.EscalationLevel)
		}
	})
}

func TestEscalateDisputeRecomputesPriority(t *testing.T) {
	repo := newFakeRepo()
	s := NewScheduler(repo, &fakeTriggers{}, &fakeNotifier{},
		func(amount int64) domain.Priority {
			if amount > 100000 {
				return domain.PriorityUrgent
			}
			return domain.PriorityMedium
		}, domain.DefaultEngineConfig())

	c := openCase(nil)
	c.Kind = domain.KindDispute
	c.DisputedAmount = 250000
	c.Priority = domain.PriorityMedium
	repo.SaveCase(context.Background(), c)

	escalated, err := s.Escalate(context.Background(), c.ID, "deadline")
	if err != nil {
		t.Fatalf("Escalate failed: %v", err)
	}
	if escalated.Priority != domain.PriorityUrgent {
		t.Errorf("expected urgent priority, got %s", escalated.Priority)
	}
}

func TestEscalateInvalidStates(t *testing.T) {
	repo := newFakeRepo()
	s := newTestScheduler(repo, nil, &fakeNotifier{})

	for _, status := range []domain.CaseStatus{domain.StatusResolved, domain.StatusClosed, domain.StatusFalsePositive} {
		t.Run(string(status), func(t *testing.T) {
			c := openCase(nil)
			c.Status = status
			repo.SaveCase(context.Background(), c)

			_, err := s.Escalate(context.Background(), c.ID, "nope")
			if !errors.Is(err, domain.ErrInvalidTransition) {
				t.Errorf("expected ErrInvalidTransition, got %v", err)
			}
		})
	}

	t.Run("Missing", func(t *testing.T) {
		_, err := s.Escalate(context.Background(), "no-such-case", "nope")
		if !errors.Is(err, domain.ErrCaseNotFound) {
			t.Errorf("expected ErrCaseNotFound, got %v", err)
		}
	})
}

func TestSweep(t *testing.T) {
	repo := newFakeRepo()
	s := newTestScheduler(repo, nil, &fakeNotifier{})
	now := time.Now().UTC()

	due := openCase(map[string]time.Time{domain.DeadlineResponse: now.Add(-time.Hour)})
	notDue := openCase(map[string]time.Time{domain.DeadlineResponse: now.Add(time.Hour)})
	already := openCase(map[string]time.Time{domain.DeadlineResponse: now.Add(-time.Hour)})
	already.Status = domain.StatusEscalated
	already.EscalationLevel = 1

	for _, c := range []*domain.Case{due, notDue, already} {
		repo.SaveCase(context.Background(), c)
	}

	escalated, err := s.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if escalated != 1 {
		t.Errorf("expected 1 escalation, got %d", escalated)
	}

	stored, _ := repo.GetCase(context.Background(), already.ID)
	if stored.EscalationLevel != 1 {
		t.Errorf("already escalated case must be skipped, level %d", stored.EscalationLevel)
	}
	stored, _ = repo.GetCase(context.Background(), notDue.ID)
	if stored.Status != domain.StatusOpen {
		t.Errorf("case before deadline must stay open, got %s", stored.Status)
	}
}
