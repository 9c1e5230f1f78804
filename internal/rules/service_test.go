package rules

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/opensource-trust/harrier/internal/domain"
)

// svcRepo is an in-memory stand-in covering what the trigger pipeline
// persists.
type svcRepo struct {
	cases        map[string]*domain.Case
	savedRules   int
	triggerCount map[string]int
	saveErr      error
}

func newSvcRepo() *svcRepo {
	return &svcRepo{
		cases:        make(map[string]*domain.Case),
		triggerCount: make(map[string]int),
	}
}

func (r *svcRepo) SaveCase(ctx context.Context, c *domain.Case) error {
	if r.saveErr != nil {
		return r.saveErr
	}
	cp := *c
	r.cases[c.ID] = &cp
	return nil
}

func (r *svcRepo) GetCase(ctx context.Context, caseID string) (*domain.Case, error) {
	c, ok := r.cases[caseID]
	if !ok {
		return nil, domain.ErrCaseNotFound
	}
	return c, nil
}

func (r *svcRepo) FindOpenCase(ctx context.Context, actorID, ruleID string, since time.Time) (*domain.Case, error) {
	for _, c := range r.cases {
		if c.ActorID == actorID && c.RuleID == ruleID && c.Open() && !c.CreatedAt.Before(since) {
			return c, nil
		}
	}
	return nil, fmt.Errorf("no open case: %w", domain.ErrCaseNotFound)
}

func (r *svcRepo) RecordRuleTrigger(ctx context.Context, ruleID string, at time.Time) error {
	r.triggerCount[ruleID]++
	return nil
}

func (r *svcRepo) SaveActivity(context.Context, *domain.ActivityRecord) error { return nil }
func (r *svcRepo) GetActivitiesByActor(context.Context, string, time.Time) ([]*domain.ActivityRecord, error) {
	return nil, nil
}
func (r *svcRepo) CountActivitiesByActor(context.Context, string, time.Time) (int64, error) {
	return 0, nil
}
func (r *svcRepo) ListActiveActors(context.Context, time.Time) ([]string, error) { return nil, nil }
func (r *svcRepo) DeleteActivitiesBefore(context.Context, time.Time) (int64, error) {
	return 0, nil
}
func (r *svcRepo) SaveRule(ctx context.Context, rule *domain.Rule) error {
	r.savedRules++
	return nil
}
func (r *svcRepo) GetRule(context.Context, string) (*domain.Rule, error) {
	return nil, errors.New("not implemented")
}
func (r *svcRepo) ListRules(context.Context) ([]*domain.Rule, error) { return nil, nil }
func (r *svcRepo) UpdateCase(context.Context, *domain.Case) error    { return nil }
func (r *svcRepo) ListOpenCases(context.Context) ([]*domain.Case, error) {
	return nil, nil
}
func (r *svcRepo) ListCasesByStatus(context.Context, domain.CaseStatus) ([]*domain.Case, error) {
	return nil, nil
}
func (r *svcRepo) CountCasesByActor(context.Context, string) (int, int, error) { return 0, 0, nil }
func (r *svcRepo) SaveAppliedAction(context.Context, *domain.AppliedAction) error {
	return nil
}
func (r *svcRepo) HasAppliedAction(context.Context, string, string) (bool, error) {
	return false, nil
}
func (r *svcRepo) Ping(context.Context) error { return nil }
func (r *svcRepo) Close() error               { return nil }

type svcRecorder struct {
	recorded []*domain.ActivityRecord
}

func (r *svcRecorder) Record(ctx context.Context, rec *domain.ActivityRecord) error {
	r.recorded = append(r.recorded, rec)
	return nil
}

type svcExecutor struct {
	actions []string
	err     error
}

func (e *svcExecutor) ApplyAction(ctx context.Context, c *domain.Case, action string) error {
	if e.err != nil {
		return e.err
	}
	e.actions = append(e.actions, action)
	return nil
}

type svcNotifier struct {
	events []string
}

func (n *svcNotifier) Notify(ctx context.Context, c *domain.Case, event string) error {
	n.events = append(n.events, event)
	return nil
}

type serviceFixture struct {
	service  *Service
	store    *Store
	repo     *svcRepo
	recorder *svcRecorder
	executor *svcExecutor
	notifier *svcNotifier
}

func newServiceFixture(t *testing.T, metrics *fakeMetrics, rules ...*domain.Rule) *serviceFixture {
	t.Helper()

	store := NewStore()
	t.Cleanup(func() { store.Close() })
	for _, r := range rules {
		if err := store.Load(r); err != nil {
			t.Fatalf("failed to load rule %s: %v", r.ID, err)
		}
	}

	cfg := domain.DefaultEngineConfig()
	repo := newSvcRepo()
	recorder := &svcRecorder{}
	executor := &svcExecutor{}
	notifier := &svcNotifier{}

	eval := NewEvaluator(&fakeActivityStore{}, metrics, cfg)
	svc := NewService(store, eval, NewTriage(cfg), recorder, repo, executor, notifier)

	return &serviceFixture{
		service:  svc,
		store:    store,
		repo:     repo,
		recorder: recorder,
		executor: executor,
		notifier: notifier,
	}
}

func TestProcessActivityOpensCase(t *testing.T) {
	rule := validRule("rule-001")
	rule.Conditions.Threshold = 10
	rule.Actions.Immediate = "restrict_account"
	rule.Actions.NotifyAdmin = true

	fix := newServiceFixture(t, &fakeMetrics{values: map[string]float64{"payment_count": 12}}, rule)

	rec := &domain.ActivityRecord{ID: "a1", ActorID: "actor-1", Action: "payment", Amount: 500}
	cases, err := fix.service.ProcessActivity(context.Background(), rec)
	if err != nil {
		t.Fatalf("ProcessActivity failed: %v", err)
	}

	if len(fix.recorder.recorded) != 1 {
		t.Errorf("activity must be recorded before evaluation, got %d", len(fix.recorder.recorded))
	}
	if len(cases) != 1 {
		t.Fatalf("expected 1 case, got %d", len(cases))
	}

	c := cases[0]
	if c.RuleID != "rule-001" {
		t.Errorf("expected rule-001, got %s", c.RuleID)
	}
	if c.Status != domain.StatusOpen {
		t.Errorf("expected open, got %s", c.Status)
	}
	if len(fix.executor.actions) != 1 || fix.executor.actions[0] != "restrict_account" {
		t.Errorf("expected immediate action, got %v", fix.executor.actions)
	}
	if len(fix.notifier.events) != 1 || fix.notifier.events[0] != "case_created" {
		t.Errorf("expected case_created notification, got %v", fix.notifier.events)
	}

	compiled, _ := fix.store.Get("rule-001")
	if compiled.TriggerCount() != 1 {
		t.Errorf("expected in-memory trigger count 1, got %d", compiled.TriggerCount())
	}
	if fix.repo.triggerCount["rule-001"] != 1 {
		t.Errorf("expected persisted trigger count 1, got %d", fix.repo.triggerCount["rule-001"])
	}
}

func TestProcessActivityNoMatch(t *testing.T) {
	rule := validRule("rule-001")
	rule.Conditions.Threshold = 10

	fix := newServiceFixture(t, &fakeMetrics{values: map[string]float64{"payment_count": 3}}, rule)

	cases, err := fix.service.ProcessActivity(context.Background(), &domain.ActivityRecord{ActorID: "actor-1", Action: "payment"})
	if err != nil {
		t.Fatalf("ProcessActivity failed: %v", err)
	}
	if len(cases) != 0 {
		t.Errorf("expected no cases, got %d", len(cases))
	}
	if len(fix.repo.cases) != 0 {
		t.Errorf("nothing should be persisted, got %d cases", len(fix.repo.cases))
	}
}

func TestProcessActivityMissingActor(t *testing.T) {
	fix := newServiceFixture(t, &fakeMetrics{})

	_, err := fix.service.ProcessActivity(context.Background(), &domain.ActivityRecord{Action: "payment"})
	if !errors.Is(err, domain.ErrActorNotFound) {
		t.Errorf("expected ErrActorNotFound, got %v", err)
	}
	if len(fix.recorder.recorded) != 0 {
		t.Error("nothing should be recorded for an anonymous event")
	}
}

func TestTriggerRuleDeduplicates(t *testing.T) {
	rule := validRule("rule-001")
	rule.Conditions.Threshold = 10

	fix := newServiceFixture(t, &fakeMetrics{values: map[string]float64{"payment_count": 12}}, rule)

	rec := &domain.ActivityRecord{ActorID: "actor-1", Action: "payment"}

	first, err := fix.service.ProcessActivity(context.Background(), rec)
	if err != nil {
		t.Fatalf("first ProcessActivity failed: %v", err)
	}
	second, err := fix.service.ProcessActivity(context.Background(), rec)
	if err != nil {
		t.Fatalf("second ProcessActivity failed: %v", err)
	}

	if len(first) != 1 || len(second) != 1 {
		t.Fatalf("expected 1 case per evaluation, got %d and %d", len(first), len(second))
	}
	if first[0].ID != second[0].ID {
		t.Error("repeat trigger in the same window must return the existing case")
	}
	if len(fix.repo.cases) != 1 {
		t.Errorf("expected 1 persisted case, got %d", len(fix.repo.cases))
	}
	if len(fix.notifier.events) != 1 {
		t.Errorf("deduped trigger must not re-notify, got %v", fix.notifier.events)
	}
}

func TestTriggerRuleSaveFailureAbortsSideEffects(t *testing.T) {
	rule := validRule("rule-001")
	rule.Conditions.Threshold = 10
	rule.Actions.Immediate = "restrict_account"
	rule.Actions.NotifyAdmin = true

	fix := newServiceFixture(t, &fakeMetrics{values: map[string]float64{"payment_count": 12}}, rule)
	fix.repo.saveErr = errors.New("disk full")

	cases, err := fix.service.ProcessActivity(context.Background(), &domain.ActivityRecord{ActorID: "actor-1", Action: "payment"})
	if err == nil {
		t.Fatal("expected a persistence error")
	}
	if len(cases) != 0 {
		t.Errorf("expected no cases, got %d", len(cases))
	}
	if len(fix.executor.actions) != 0 {
		t.Errorf("no action may run before the case is saved, got %v", fix.executor.actions)
	}
	if len(fix.notifier.events) != 0 {
		t.Errorf("no notification may fire before the case is saved, got %v", fix.notifier.events)
	}
}

func TestTriggerRuleDownstreamFailureKeepsCase(t *testing.T) {
	rule := validRule("rule-001")
	rule.Conditions.Threshold = 10
	rule.Actions.Immediate = "restrict_account"

	fix := newServiceFixture(t, &fakeMetrics{values: map[string]float64{"payment_count": 12}}, rule)
	fix.executor.err = errors.New("platform API down")

	cases, err := fix.service.ProcessActivity(context.Background(), &domain.ActivityRecord{ActorID: "actor-1", Action: "payment"})
	if err == nil {
		t.Fatal("expected the downstream failure to surface")
	}
	if len(cases) != 0 {
		t.Errorf("a failed trigger is not reported as opened, got %d", len(cases))
	}
	if len(fix.repo.cases) != 1 {
		t.Errorf("the saved case must survive a downstream failure, got %d", len(fix.repo.cases))
	}
}
