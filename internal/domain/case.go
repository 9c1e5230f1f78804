package domain

import "time"

// CaseKind distinguishes the two case variants sharing one lifecycle.
type CaseKind string

const (
	// KindActivity is a case opened by a rule trigger.
	KindActivity CaseKind = "activity"

	// KindDispute is a case filed by a party to a transaction.
	KindDispute CaseKind = "dispute"
)

// CaseStatus values. Terminal states are false_positive and closed;
// resolved reopens only through an appeal.
type CaseStatus string

const (
	StatusOpen          CaseStatus = "open"
	StatusInvestigating CaseStatus = "investigating"
	StatusMediation     CaseStatus = "mediation"
	StatusEscalated     CaseStatus = "escalated"
	StatusResolved      CaseStatus = "resolved"
	StatusFalsePositive CaseStatus = "false_positive"
	StatusClosed        CaseStatus = "closed"
	StatusAppealed      CaseStatus = "appealed"
)

// Terminal reports whether no further mutation is allowed from s.
func (s CaseStatus) Terminal() bool {
	return s == StatusFalsePositive || s == StatusClosed
}

// Priority levels for dispute handling.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Named deadlines, checked by the escalation scheduler in this order.
const (
	DeadlineResponse   = "response"
	DeadlineEvidence   = "evidence"
	DeadlineResolution = "resolution"
)

// DeadlineOrder is the fixed priority order for deadline checks. The
// first exceeded deadline wins regardless of which expires soonest.
var DeadlineOrder = []string{DeadlineResponse, DeadlineEvidence, DeadlineResolution}

// Evidence is a single piece of supporting evidence attached to a case.
type Evidence struct {
	ID          string         `json:"id"`
	Type        string         `json:"type"` // e.g. "behavior_anomaly"
	Description string         `json:"description"`
	Data        map[string]any `json:"data,omitempty"`

	// Confidence in [0,1].
	Confidence float64   `json:"confidence"`
	Timestamp  time.Time `json:"timestamp"`
}

// Resolution is the terminal record attached when a case is resolved.
type Resolution struct {
	Action       string    `json:"action"` // refund, no_action, suspend, ban, customer_favor, ...
	Reasoning    string    `json:"reasoning"`
	AppliedBy    string    `json:"appliedBy"` // reviewer ID or "system"
	AppliedAt    time.Time `json:"appliedAt"`
	RefundAmount int64     `json:"refundAmount,omitempty"` // minor units
}

// TimelineEntry is a message or system event on the case timeline.
type TimelineEntry struct {
	ID        string    `json:"id"`
	AuthorID  string    `json:"authorId"` // "system" for engine-authored entries
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"createdAt"`
}

// Case is a suspicious-activity or dispute record. A case exclusively
// owns its evidence, timeline, and resolution; ActorID is a non-owning
// reference to the user the case concerns.
type Case struct {
	ID      string   `json:"id"`
	Kind    CaseKind `json:"kind"`
	ActorID string   `json:"actorId"`

	// Type is the detection category (activity cases) or dispute type
	// such as "payment", "delivery", "quality" (dispute cases).
	Type string `json:"type"`

	Severity Severity   `json:"severity"`
	Priority Priority   `json:"priority,omitempty"`
	Status   CaseStatus `json:"status"`

	Description string `json:"description,omitempty"`

	// RuleID records the rule that opened an activity case.
	RuleID string `json:"ruleId,omitempty"`

	Evidence []Evidence `json:"evidence,omitempty"`

	// Scores computed at creation, immutable unless re-evaluated.
	RiskScore       int    `json:"riskScore"`       // 0-100
	ConfidenceLevel int    `json:"confidenceLevel"` // 0-100
	PotentialImpact string `json:"potentialImpact"` // low, medium, high, critical

	// Deadlines maps named deadline types to their timestamps.
	Deadlines map[string]time.Time `json:"deadlines,omitempty"`

	// AutoEscalationTriggers are custom trigger names checked by the
	// escalation scheduler after deadlines.
	AutoEscalationTriggers []string `json:"autoEscalationTriggers,omitempty"`

	EscalationLevel int `json:"escalationLevel"`

	// DisputedAmount is the claimed amount in currency minor units
	// (dispute cases only).
	DisputedAmount int64  `json:"disputedAmount,omitempty"`
	Currency       string `json:"currency,omitempty"`

	// CounterpartyID is the other party in a dispute.
	CounterpartyID string `json:"counterpartyId,omitempty"`

	Timeline   []TimelineEntry `json:"timeline,omitempty"`
	Resolution *Resolution     `json:"resolution,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Open reports whether the case is still subject to escalation sweeps.
func (c *Case) Open() bool {
	switch c.Status {
	case StatusOpen, StatusInvestigating, StatusMediation, StatusEscalated, StatusAppealed:
		return true
	}
	return false
}

// Deadline returns the named deadline and whether it is set.
func (c *Case) Deadline(name string) (time.Time, bool) {
	if c.Deadlines == nil {
		return time.Time{}, false
	}
	t, ok := c.Deadlines[name]
	return t, ok
}

// AppliedAction is the audit record for an executed case action. The
// (CaseID, Action) pair is the idempotency key for at-least-once
// delivery of downstream effects.
type AppliedAction struct {
	ID        string    `json:"id"`
	CaseID    string    `json:"caseId"`
	ActorID   string    `json:"actorId"`
	Action    string    `json:"action"`
	AppliedBy string    `json:"appliedBy"`
	AppliedAt time.Time `json:"appliedAt"`
}

// CaseResult is the discriminated result shape returned by all
// case-mutating operations.
type CaseResult struct {
	Success bool   `json:"success"`
	Case    *Case  `json:"case,omitempty"`
	Error   string `json:"error,omitempty"`
}
