package domain

import "time"

// Severity levels, ordered low < medium < high < critical.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{
	SeverityLow:      0,
	SeverityMedium:   1,
	SeverityHigh:     2,
	SeverityCritical: 3,
}

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	_, ok := severityRank[s]
	return ok
}

// AtLeast reports whether s is at least as severe as other.
func (s Severity) AtLeast(other Severity) bool {
	return severityRank[s] >= severityRank[other]
}

// Operator is the closed set of condition comparison operators.
// Numeric operators compare a metric value against the rule threshold;
// string operators match a string metric against the rule pattern.
type Operator string

const (
	OpGreaterThan    Operator = "gt"
	OpLessThan       Operator = "lt"
	OpEquals         Operator = "eq"
	OpContains       Operator = "contains"
	OpMatchesPattern Operator = "pattern"
)

// Valid reports whether op is a known operator.
func (op Operator) Valid() bool {
	switch op {
	case OpGreaterThan, OpLessThan, OpEquals, OpContains, OpMatchesPattern:
		return true
	}
	return false
}

// IsString reports whether op compares string metrics.
func (op Operator) IsString() bool {
	return op == OpContains || op == OpMatchesPattern
}

// RuleConditions defines what a rule checks. Metrics and operators are
// paired positionally: metrics[i] is evaluated with operators[i]. Every
// condition must hold for the rule to trigger (AND semantics).
type RuleConditions struct {
	// TimeWindowMinutes bounds the activity history considered.
	TimeWindowMinutes int `json:"timeWindowMinutes" yaml:"timeWindowMinutes" validate:"gt=0"`

	// Threshold is the comparand for numeric operators.
	Threshold float64 `json:"threshold" yaml:"threshold"`

	// Metrics to compute, in evaluation order.
	Metrics []string `json:"metrics" yaml:"metrics" validate:"min=1,dive,required"`

	// Operators, one per metric.
	Operators []Operator `json:"operators" yaml:"operators" validate:"min=1"`

	// Pattern is the comparand for contains/pattern operators. Required
	// when any operator is a string operator; compiled as a regular
	// expression at load time for the pattern operator.
	Pattern string `json:"pattern,omitempty" yaml:"pattern,omitempty"`
}

// RuleActions describes what happens when a rule triggers.
type RuleActions struct {
	// Immediate is an action applied as soon as the case is created,
	// e.g. "restrict_account" or "suspend_listing". Empty means none.
	Immediate string `json:"immediate,omitempty" yaml:"immediate,omitempty"`

	// RequiresReview marks the case for manual investigation.
	RequiresReview bool `json:"requiresReview" yaml:"requiresReview"`

	// NotifyAdmin publishes an admin alert on trigger.
	NotifyAdmin bool `json:"notifyAdmin" yaml:"notifyAdmin"`

	// EscalateAfterMinutes installs a response deadline on the created
	// case when set.
	EscalateAfterMinutes int `json:"escalateAfterMinutes,omitempty" yaml:"escalateAfterMinutes,omitempty"`
}

// Rule defines a suspicious-activity detection rule.
type Rule struct {
	ID          string `json:"id" yaml:"id" validate:"required"`
	Name        string `json:"name" yaml:"name" validate:"required"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Type categorizes what the rule detects, e.g. "payment_fraud" or
	// "off_platform_dealing". Becomes the type of created cases.
	Type string `json:"type" yaml:"type" validate:"required"`

	Severity Severity `json:"severity" yaml:"severity" validate:"required"`
	Enabled  bool     `json:"enabled" yaml:"enabled"`

	Conditions RuleConditions `json:"conditions" yaml:"conditions"`
	Actions    RuleActions    `json:"actions" yaml:"actions"`

	// Trigger bookkeeping, maintained by the rule store.
	TriggerCount    int64      `json:"triggerCount,omitempty" yaml:"-"`
	LastTriggeredAt *time.Time `json:"lastTriggeredAt,omitempty" yaml:"-"`
}

// Well-known case types.
const (
	CaseTypePaymentFraud       = "payment_fraud"
	CaseTypeIdentityTheft      = "identity_theft"
	CaseTypeOffPlatformDeal    = "off_platform_dealing"
	CaseTypeFakeListing        = "fake_listing"
	CaseTypeReviewManipulation = "review_manipulation"
	CaseTypeMultiAccount       = "multi_account"
)
