// Package rules provides the suspicious-activity rule store, the
// condition evaluator, and the trigger pipeline.
package rules

import (
	"fmt"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/opensource-trust/harrier/internal/domain"
)

// Store holds the working set of rule definitions. Rules are validated
// and compiled at load time; a bad rule is rejected, never skipped
// silently. Insertion order is preserved for evaluation.
type Store struct {
	mu       sync.RWMutex
	rules    map[string]*CompiledRule
	order    []string
	validate *validator.Validate
}

// CompiledRule is a validated rule with its pattern pre-compiled and
// its trigger counters held as atomics so concurrent triggers of the
// same rule never lose updates.
type CompiledRule struct {
	Rule *domain.Rule

	// pattern is non-nil when the rule uses the pattern operator.
	pattern *regexp.Regexp

	triggers      atomic.Int64
	lastTriggered atomic.Int64 // unix nanos, 0 = never
}

// Pattern returns the compiled regular expression, or nil.
func (c *CompiledRule) Pattern() *regexp.Regexp {
	return c.pattern
}

// TriggerCount returns the number of times the rule has fired since
// load.
func (c *CompiledRule) TriggerCount() int64 {
	return c.triggers.Load()
}

// LastTriggeredAt returns the last trigger time, or zero time.
func (c *CompiledRule) LastTriggeredAt() time.Time {
	ns := c.lastTriggered.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Snapshot returns a copy of the rule definition with current trigger
// bookkeeping filled in.
func (c *CompiledRule) Snapshot() *domain.Rule {
	r := *c.Rule
	r.TriggerCount = c.triggers.Load()
	if ns := c.lastTriggered.Load(); ns != 0 {
		t := time.Unix(0, ns)
		r.LastTriggeredAt = &t
	}
	return &r
}

// NewStore creates an empty rule store.
func NewStore() *Store {
	return &Store{
		rules:    make(map[string]*CompiledRule),
		validate: validator.New(),
	}
}

// Validate checks a rule definition without loading it.
func (s *Store) Validate(rule *domain.Rule) error {
	_, err := s.compile(rule)
	return err
}

// Load validates, compiles, and stores a rule. Reloading an existing
// ID replaces the definition in place and resets its counters.
func (s *Store) Load(rule *domain.Rule) error {
	compiled, err := s.compile(rule)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rules[rule.ID]; !exists {
		s.order = append(s.order, rule.ID)
	}
	s.rules[rule.ID] = compiled

	return nil
}

// LoadRules loads multiple rules, failing on the first invalid one.
func (s *Store) LoadRules(rules []*domain.Rule) error {
	for _, r := range rules {
		if err := s.Load(r); err != nil {
			return err
		}
	}
	return nil
}

// Reload atomically replaces the working set with new definitions.
// Enables hot-reloading of rules from the database.
func (s *Store) Reload(rules []*domain.Rule) error {
	newRules := make(map[string]*CompiledRule, len(rules))
	newOrder := make([]string, 0, len(rules))

	for _, r := range rules {
		compiled, err := s.compile(r)
		if err != nil {
			return err
		}
		if _, dup := newRules[r.ID]; !dup {
			newOrder = append(newOrder, r.ID)
		}
		newRules[r.ID] = compiled
	}

	s.mu.Lock()
	s.rules = newRules
	s.order = newOrder
	s.mu.Unlock()

	return nil
}

// EnabledRules returns all enabled rules in insertion order.
func (s *Store) EnabledRules() []*CompiledRule {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*CompiledRule, 0, len(s.order))
	for _, id := range s.order {
		if r := s.rules[id]; r != nil && r.Rule.Enabled {
			out = append(out, r)
		}
	}
	return out
}

// Get returns the compiled rule with the given ID.
func (s *Store) Get(ruleID string) (*CompiledRule, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rules[ruleID]
	return r, ok
}

// RecordTrigger increments the rule's trigger count and stamps the
// trigger time.
func (s *Store) RecordTrigger(ruleID string) error {
	s.mu.RLock()
	r, ok := s.rules[ruleID]
	s.mu.RUnlock()

	if !ok {
		return fmt.Errorf("rule %s not loaded", ruleID)
	}

	r.triggers.Add(1)
	r.lastTriggered.Store(time.Now().UnixNano())
	return nil
}

// Count returns the number of loaded rules.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rules)
}

// Rules returns snapshots of all loaded rules in insertion order.
func (s *Store) Rules() []*domain.Rule {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.Rule, 0, len(s.order))
	for _, id := range s.order {
		if r := s.rules[id]; r != nil {
			out = append(out, r.Snapshot())
		}
	}
	return out
}

// Close clears the store.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = make(map[string]*CompiledRule)
	s.order = nil
	return nil
}

func (s *Store) compile(rule *domain.Rule) (*CompiledRule, error) {
	if rule == nil {
		return nil, fmt.Errorf("%w: rule is required", domain.ErrInvalidRule)
	}

	if err := s.validate.Struct(rule); err != nil {
		return nil, fmt.Errorf("%w: rule %s: %v", domain.ErrInvalidRule, rule.ID, err)
	}

	if !rule.Severity.Valid() {
		return nil, fmt.Errorf("%w: rule %s: unknown severity %q", domain.ErrInvalidRule, rule.ID, rule.Severity)
	}

	cond := rule.Conditions
	if len(cond.Metrics) != len(cond.Operators) {
		return nil, fmt.Errorf("%w: rule %s: %d metrics but %d operators",
			domain.ErrInvalidRule, rule.ID, len(cond.Metrics), len(cond.Operators))
	}

	compiled := &CompiledRule{Rule: rule}

	for _, op := range cond.Operators {
		if !op.Valid() {
			return nil, fmt.Errorf("%w: rule %s: unknown operator %q", domain.ErrInvalidRule, rule.ID, op)
		}
		if op.IsString() && cond.Pattern == "" {
			return nil, fmt.Errorf("%w: rule %s: operator %q requires a pattern", domain.ErrInvalidRule, rule.ID, op)
		}
		if op == domain.OpMatchesPattern && compiled.pattern == nil {
			re, err := regexp.Compile(cond.Pattern)
			if err != nil {
				return nil, fmt.Errorf("%w: rule %s: bad pattern: %v", domain.ErrInvalidRule, rule.ID, err)
			}
			compiled.pattern = re
		}
	}

	return compiled, nil
}
