package rules

import (
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-trust/harrier/internal/domain"
)

// Triage turns a rule trigger into a case record: it computes the risk
// score, confidence level, and potential impact, and installs the
// initial deadlines.
type Triage struct {
	cfg domain.EngineConfig

	highImpact map[string]bool
}

// NewTriage creates a triage component from engine configuration.
func NewTriage(cfg domain.EngineConfig) *Triage {
	hi := make(map[string]bool, len(cfg.HighImpactTypes))
	for _, t := range cfg.HighImpactTypes {
		hi[t] = true
	}
	return &Triage{cfg: cfg, highImpact: hi}
}

// BuildCase constructs the open case for a rule trigger. The caller
// persists it.
func (t *Triage) BuildCase(rule *domain.Rule, actorID string, evidence []domain.Evidence) *domain.Case {
	now := time.Now().UTC()

	c := &domain.Case{
		ID:              uuid.New().String(),
		Kind:            domain.KindActivity,
		ActorID:         actorID,
		Type:            rule.Type,
		Severity:        rule.Severity,
		Status:          domain.StatusOpen,
		Description:     rule.Name,
		RuleID:          rule.ID,
		Evidence:        evidence,
		RiskScore:       t.RiskScore(rule.Severity, len(evidence)),
		ConfidenceLevel: ConfidenceLevel(evidence),
		PotentialImpact: t.PotentialImpact(rule.Type, rule.Severity),
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if m := rule.Actions.EscalateAfterMinutes; m > 0 {
		c.Deadlines = map[string]time.Time{
			domain.DeadlineResponse: now.Add(time.Duration(m) * time.Minute),
		}
	}

	return c
}

// RiskScore computes the 0-100 risk score: the severity base plus 5
// per evidence item, the evidence bonus capped at 25 and the total
// clamped to 100.
func (t *Triage) RiskScore(severity domain.Severity, evidenceCount int) int {
	base := t.cfg.SeverityScores[severity]

	bonus := evidenceCount * 5
	if bonus > 25 {
		bonus = 25
	}

	score := base + bonus
	if score > 100 {
		score = 100
	}
	return score
}

// ConfidenceLevel is the rounded average evidence confidence on a
// 0-100 scale, 0 for no evidence.
func ConfidenceLevel(evidence []domain.Evidence) int {
	if len(evidence) == 0 {
		return 0
	}

	var sum float64
	for _, ev := range evidence {
		sum += ev.Confidence
	}
	return int(math.Round(sum / float64(len(evidence)) * 100))
}

// PotentialImpact is critical for high-impact case types regardless of
// severity; otherwise it mirrors the severity.
func (t *Triage) PotentialImpact(caseType string, severity domain.Severity) string {
	if t.highImpact[caseType] || severity == domain.SeverityCritical {
		return "critical"
	}
	switch severity {
	case domain.SeverityHigh:
		return "high"
	case domain.SeverityMedium:
		return "medium"
	}
	return "low"
}

// DisputePriority maps a disputed amount (minor units) to a handling
// priority using the configured bands.
func (t *Triage) DisputePriority(amount int64) domain.Priority {
	switch {
	case amount > t.cfg.UrgentAmount:
		return domain.PriorityUrgent
	case amount > t.cfg.HighAmount:
		return domain.PriorityHigh
	}
	return domain.PriorityMedium
}
