package rules

import (
	"errors"
	"testing"

	"github.com/opensource-trust/harrier/internal/domain"
)

func validRule(id string) *domain.Rule {
	return &domain.Rule{
		ID:       id,
		Name:     "Rapid payments",
		Type:     domain.CaseTypePaymentFraud,
		Severity: domain.SeverityHigh,
		Enabled:  true,
		Conditions: domain.RuleConditions{
			TimeWindowMinutes: 60,
			Threshold:         10,
			Metrics:           []string{"payment_count"},
			Operators:         []domain.Operator{domain.OpGreaterThan},
		},
	}
}

func TestStoreLoad(t *testing.T) {
	store := NewStore()
	defer store.Close()

	if err := store.Load(validRule("rule-001")); err != nil {
		t.Fatalf("failed to load rule: %v", err)
	}

	if store.Count() != 1 {
		t.Errorf("expected 1 rule, got %d", store.Count())
	}

	if _, ok := store.Get("rule-001"); !ok {
		t.Error("expected rule-001 to be loaded")
	}
}

func TestStoreRejectsInvalidRules(t *testing.T) {
	store := NewStore()
	defer store.Close()

	tests := []struct {
		name   string
		mutate func(*domain.Rule)
	}{
		{"MissingName", func(r *domain.Rule) { r.Name = "" }},
		{"MissingType", func(r *domain.Rule) { r.Type = "" }},
		{"UnknownSeverity", func(r *domain.Rule) { r.Severity = "extreme" }},
		{"ZeroWindow", func(r *domain.Rule) { r.Conditions.TimeWindowMinutes = 0 }},
		{"NoConditions", func(r *domain.Rule) {
			r.Conditions.Metrics = nil
			r.Conditions.Operators = nil
		}},
		{"MetricOperatorMismatch", func(r *domain.Rule) {
			r.Conditions.Metrics = []string{"payment_count", "total_amount"}
			r.Conditions.Operators = []domain.Operator{domain.OpGreaterThan}
		}},
		{"UnknownOperator", func(r *domain.Rule) {
			r.Conditions.Operators = []domain.Operator{"between"}
		}},
		{"StringOperatorWithoutPattern", func(r *domain.Rule) {
			r.Conditions.Metrics = []string{"event_text"}
			r.Conditions.Operators = []domain.Operator{domain.OpContains}
			r.Conditions.Pattern = ""
		}},
		{"BadRegexPattern", func(r *domain.Rule) {
			r.Conditions.Metrics = []string{"event_text"}
			r.Conditions.Operators = []domain.Operator{domain.OpMatchesPattern}
			r.Conditions.Pattern = "[unclosed"
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := validRule("bad-rule")
			tt.mutate(rule)

			err := store.Load(rule)
			if err == nil {
				t.Fatal("expected load to fail")
			}
			if !errors.Is(err, domain.ErrInvalidRule) {
				t.Errorf("expected ErrInvalidRule, got %v", err)
			}
		})
	}

	if store.Count() != 0 {
		t.Errorf("invalid rules must not be stored, got %d", store.Count())
	}
}

func TestStoreCompilesPattern(t *testing.T) {
	store := NewStore()
	defer store.Close()

	rule := validRule("pattern-rule")
	rule.Conditions.Metrics = []string{"event_text"}
	rule.Conditions.Operators = []domain.Operator{domain.OpMatchesPattern}
	rule.Conditions.Pattern = `(?i)(whatsapp|telegram)`

	if err := store.Load(rule); err != nil {
		t.Fatalf("failed to load pattern rule: %v", err)
	}

	compiled, _ := store.Get("pattern-rule")
	if compiled.Pattern() == nil {
		t.Fatal("expected compiled pattern")
	}
	if !compiled.Pattern().MatchString("contact me on WhatsApp") {
		t.Error("pattern should match")
	}
}

func TestStoreInsertionOrder(t *testing.T) {
	store := NewStore()
	defer store.Close()

	ids := []string{"c-rule", "a-rule", "b-rule"}
	for _, id := range ids {
		if err := store.Load(validRule(id)); err != nil {
			t.Fatalf("failed to load %s: %v", id, err)
		}
	}

	enabled := store.EnabledRules()
	if len(enabled) != 3 {
		t.Fatalf("expected 3 enabled rules, got %d", len(enabled))
	}
	for i, id := range ids {
		if enabled[i].Rule.ID != id {
			t.Errorf("position %d: expected %s, got %s", i, id, enabled[i].Rule.ID)
		}
	}
}

func TestStoreEnabledFilter(t *testing.T) {
	store := NewStore()
	defer store.Close()

	disabled := validRule("disabled-rule")
	disabled.Enabled = false

	store.Load(validRule("enabled-rule"))
	store.Load(disabled)

	enabled := store.EnabledRules()
	if len(enabled) != 1 {
		t.Fatalf("expected 1 enabled rule, got %d", len(enabled))
	}
	if enabled[0].Rule.ID != "enabled-rule" {
		t.Errorf("expected enabled-rule, got %s", enabled[0].Rule.ID)
	}
}

func TestStoreRecordTrigger(t *testing.T) {
	store := NewStore()
	defer store.Close()

	store.Load(validRule("rule-001"))

	for i := 0; i < 3; i++ {
		if err := store.RecordTrigger("rule-001"); err != nil {
			t.Fatalf("RecordTrigger failed: %v", err)
		}
	}

	compiled, _ := store.Get("rule-001")
	if compiled.TriggerCount() != 3 {
		t.Errorf("expected 3 triggers, got %d", compiled.TriggerCount())
	}
	if compiled.LastTriggeredAt().IsZero() {
		t.Error("expected last triggered time to be set")
	}

	snap := compiled.Snapshot()
	if snap.TriggerCount != 3 {
		t.Errorf("snapshot: expected 3 triggers, got %d", snap.TriggerCount)
	}
	if snap.LastTriggeredAt == nil {
		t.Error("snapshot: expected last triggered time")
	}

	if err := store.RecordTrigger("missing-rule"); err == nil {
		t.Error("expected error for unknown rule")
	}
}

func TestStoreReload(t *testing.T) {
	store := NewStore()
	defer store.Close()

	store.Load(validRule("old-rule"))

	if err := store.Reload([]*domain.Rule{validRule("new-rule")}); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}

	if _, ok := store.Get("old-rule"); ok {
		t.Error("old rule should be gone after reload")
	}
	if _, ok := store.Get("new-rule"); !ok {
		t.Error("new rule should be present after reload")
	}

	// A reload with an invalid rule must leave the working set intact.
	bad := validRule("bad")
	bad.Severity = "nope"
	if err := store.Reload([]*domain.Rule{bad}); err == nil {
		t.Fatal("expected reload to fail")
	}
	if _, ok := store.Get("new-rule"); !ok {
		t.Error("working set must survive a failed reload")
	}
}
