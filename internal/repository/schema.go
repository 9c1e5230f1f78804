package repository

// Schema definitions for the Harrier database.
// Compatible with both SQLite and PostgreSQL.

const schemaActivities = `
CREATE TABLE IF NOT EXISTS activities (
    id TEXT PRIMARY KEY,
    actor_id TEXT NOT NULL,
    action TEXT NOT NULL,
    target_id TEXT,
    counterparty_id TEXT,
    amount BIGINT NOT NULL DEFAULT 0,
    currency TEXT,
    description TEXT,
    metadata TEXT,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_activities_actor ON activities(actor_id, created_at);
CREATE INDEX IF NOT EXISTS idx_activities_created ON activities(created_at);
`

const schemaRules = `
CREATE TABLE IF NOT EXISTS rules (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    description TEXT,
    type TEXT NOT NULL,
    severity TEXT NOT NULL,
    enabled INTEGER NOT NULL DEFAULT 1,
    conditions TEXT NOT NULL,
    actions TEXT NOT NULL,
    trigger_count BIGINT NOT NULL DEFAULT 0,
    last_triggered_at TIMESTAMP,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_rules_enabled ON rules(enabled);
`

const schemaCases = `
CREATE TABLE IF NOT EXISTS cases (
    id TEXT PRIMARY KEY,
    kind TEXT NOT NULL,
    actor_id TEXT NOT NULL,
    counterparty_id TEXT,
    type TEXT NOT NULL,
    severity TEXT NOT NULL,
    priority TEXT,
    status TEXT NOT NULL,
    description TEXT,
    rule_id TEXT,
    evidence TEXT,
    risk_score INTEGER NOT NULL DEFAULT 0,
    confidence_level INTEGER NOT NULL DEFAULT 0,
    potential_impact TEXT,
    deadlines TEXT,
    auto_escalation_triggers TEXT,
    escalation_level INTEGER NOT NULL DEFAULT 0,
    disputed_amount BIGINT NOT NULL DEFAULT 0,
    currency TEXT,
    timeline TEXT,
    resolution TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_cases_actor ON cases(actor_id);
CREATE INDEX IF NOT EXISTS idx_cases_status ON cases(status);
CREATE INDEX IF NOT EXISTS idx_cases_rule ON cases(actor_id, rule_id, status, created_at);
`

const schemaAppliedActions = `
CREATE TABLE IF NOT EXISTS applied_actions (
    id TEXT PRIMARY KEY,
    case_id TEXT NOT NULL,
    actor_id TEXT NOT NULL,
    action TEXT NOT NULL,
    applied_by TEXT NOT NULL,
    applied_at TIMESTAMP NOT NULL,
    UNIQUE (case_id, action)
);

CREATE INDEX IF NOT EXISTS idx_applied_actions_case ON applied_actions(case_id);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaActivities,
		schemaRules,
		schemaCases,
		schemaAppliedActions,
	}
}
