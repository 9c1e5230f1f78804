// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-trust/harrier/internal/domain"
)

var (
	// ErrNotFound is returned for missing rules and activities. Case
	// lookups return domain.ErrCaseNotFound so callers can report the
	// typed result the API promises.
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveActivity stores an activity record.
func (r *SQLRepository) SaveActivity(ctx context.Context, rec *domain.ActivityRecord) error {
	if rec.ActorID == "" {
		return fmt.Errorf("%w: actorID is required", ErrInvalidInput)
	}

	metadata, _ := json.Marshal(rec.Metadata)

	query := `
		INSERT INTO activities (
			id, actor_id, action, target_id, counterparty_id,
			amount, currency, description, metadata, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rec.ID, rec.ActorID, rec.Action,
		rec.TargetID, rec.CounterpartyID,
		rec.Amount, rec.Currency, rec.Description,
		string(metadata), rec.CreatedAt,
	)
	return err
}

// GetActivitiesByActor retrieves an actor's activity since a time,
// newest first.
func (r *SQLRepository) GetActivitiesByActor(ctx context.Context, actorID string, since time.Time) ([]*domain.ActivityRecord, error) {
	if actorID == "" {
		return nil, fmt.Errorf("%w: actorID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, actor_id, action, target_id, counterparty_id,
			   amount, currency, description, metadata, created_at
		FROM activities
		WHERE actor_id = ? AND created_at >= ?
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), actorID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*domain.ActivityRecord
	for rows.Next() {
		var rec domain.ActivityRecord
		var targetID, counterpartyID, currency, description, metadata sql.NullString

		if err := rows.Scan(
			&rec.ID, &rec.ActorID, &rec.Action,
			&targetID, &counterpartyID,
			&rec.Amount, &currency, &description,
			&metadata, &rec.CreatedAt,
		); err != nil {
			return nil, err
		}

		rec.TargetID = targetID.String
		rec.CounterpartyID = counterpartyID.String
		rec.Currency = currency.String
		rec.Description = description.String
		if metadata.String != "" {
			json.Unmarshal([]byte(metadata.String), &rec.Metadata)
		}

		records = append(records, &rec)
	}

	return records, rows.Err()
}

// CountActivitiesByActor counts an actor's activity since a time.
func (r *SQLRepository) CountActivitiesByActor(ctx context.Context, actorID string, since time.Time) (int64, error) {
	if actorID == "" {
		return 0, fmt.Errorf("%w: actorID is required", ErrInvalidInput)
	}

	query := `SELECT COUNT(*) FROM activities WHERE actor_id = ? AND created_at >= ?`

	var count int64
	err := r.db.QueryRowContext(ctx, r.rebind(query), actorID, since).Scan(&count)
	return count, err
}

// ListActiveActors returns distinct actors with activity since a time.
func (r *SQLRepository) ListActiveActors(ctx context.Context, since time.Time) ([]string, error) {
	query := `SELECT DISTINCT actor_id FROM activities WHERE created_at >= ?`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var actors []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		actors = append(actors, id)
	}

	return actors, rows.Err()
}

// DeleteActivitiesBefore removes activity records older than cutoff.
func (r *SQLRepository) DeleteActivitiesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, r.rebind(`DELETE FROM activities WHERE created_at < ?`), cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// SaveRule stores a rule definition, replacing an existing one.
func (r *SQLRepository) SaveRule(ctx context.Context, rule *domain.Rule) error {
	if rule.ID == "" {
		return fmt.Errorf("%w: rule ID is required", ErrInvalidInput)
	}

	conditions, _ := json.Marshal(rule.Conditions)
	actions, _ := json.Marshal(rule.Actions)

	enabled := 0
	if rule.Enabled {
		enabled = 1
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO rules (
			id, name, description, type, severity, enabled,
			conditions, actions, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			type = excluded.type,
			severity = excluded.severity,
			enabled = excluded.enabled,
			conditions = excluded.conditions,
			actions = excluded.actions,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, rule.Name, rule.Description, rule.Type,
		string(rule.Severity), enabled,
		string(conditions), string(actions),
		now, now,
	)
	return err
}

// GetRule retrieves a rule by ID.
func (r *SQLRepository) GetRule(ctx context.Context, ruleID string) (*domain.Rule, error) {
	query := `
		SELECT id, name, description, type, severity, enabled,
			   conditions, actions, trigger_count, last_triggered_at
		FROM rules
		WHERE id = ?
	`

	rule, err := scanRule(r.db.QueryRowContext(ctx, r.rebind(query), ruleID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rule, err
}

// ListRules retrieves all rule definitions.
func (r *SQLRepository) ListRules(ctx context.Context) ([]*domain.Rule, error) {
	query := `
		SELECT id, name, description, type, severity, enabled,
			   conditions, actions, trigger_count, last_triggered_at
		FROM rules
		ORDER BY created_at, id
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*domain.Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}

	return rules, rows.Err()
}

// RecordRuleTrigger increments the persisted trigger count.
func (r *SQLRepository) RecordRuleTrigger(ctx context.Context, ruleID string, at time.Time) error {
	query := `
		UPDATE rules
		SET trigger_count = trigger_count + 1, last_triggered_at = ?
		WHERE id = ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query), at, ruleID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveCase stores a new case.
func (r *SQLRepository) SaveCase(ctx context.Context, c *domain.Case) error {
	if c.ID == "" || c.ActorID == "" {
		return fmt.Errorf("%w: case ID and actorID are required", ErrInvalidInput)
	}

	evidence, _ := json.Marshal(c.Evidence)
	deadlines, _ := json.Marshal(c.Deadlines)
	triggers, _ := json.Marshal(c.AutoEscalationTriggers)
	timeline, _ := json.Marshal(c.Timeline)
	resolution, _ := json.Marshal(c.Resolution)

	query := `
		INSERT INTO cases (
			id, kind, actor_id, counterparty_id, type, severity, priority,
			status, description, rule_id, evidence, risk_score,
			confidence_level, potential_impact, deadlines,
			auto_escalation_triggers, escalation_level, disputed_amount,
			currency, timeline, resolution, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		c.ID, string(c.Kind), c.ActorID, c.CounterpartyID, c.Type,
		string(c.Severity), string(c.Priority),
		string(c.Status), c.Description, c.RuleID, string(evidence),
		c.RiskScore, c.ConfidenceLevel, c.PotentialImpact,
		string(deadlines), string(triggers), c.EscalationLevel,
		c.DisputedAmount, c.Currency, string(timeline), string(resolution),
		c.CreatedAt, c.UpdatedAt,
	)
	return err
}

// GetCase retrieves a case by ID.
func (r *SQLRepository) GetCase(ctx context.Context, caseID string) (*domain.Case, error) {
	query := selectCase + ` WHERE id = ?`

	c, err := scanCase(r.db.QueryRowContext(ctx, r.rebind(query), caseID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrCaseNotFound, caseID)
	}
	return c, err
}

// UpdateCase rewrites a case record.
func (r *SQLRepository) UpdateCase(ctx context.Context, c *domain.Case) error {
	evidence, _ := json.Marshal(c.Evidence)
	deadlines, _ := json.Marshal(c.Deadlines)
	triggers, _ := json.Marshal(c.AutoEscalationTriggers)
	timeline, _ := json.Marshal(c.Timeline)
	resolution, _ := json.Marshal(c.Resolution)

	query := `
		UPDATE cases SET
			severity = ?, priority = ?, status = ?, description = ?,
			evidence = ?, risk_score = ?, confidence_level = ?,
			potential_impact = ?, deadlines = ?, auto_escalation_triggers = ?,
			escalation_level = ?, timeline = ?, resolution = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query),
		string(c.Severity), string(c.Priority), string(c.Status), c.Description,
		string(evidence), c.RiskScore, c.ConfidenceLevel,
		c.PotentialImpact, string(deadlines), string(triggers),
		c.EscalationLevel, string(timeline), string(resolution), c.UpdatedAt,
		c.ID,
	)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", domain.ErrCaseNotFound, c.ID)
	}
	return nil
}

// openStatuses are the statuses subject to escalation sweeps.
const openStatuses = `('open', 'investigating', 'mediation', 'escalated', 'appealed')`

// ListOpenCases retrieves all non-terminal cases.
func (r *SQLRepository) ListOpenCases(ctx context.Context) ([]*domain.Case, error) {
	query := selectCase + ` WHERE status IN ` + openStatuses + ` ORDER BY created_at`
	return r.queryCases(ctx, query)
}

// ListCasesByStatus retrieves all cases with the given status.
func (r *SQLRepository) ListCasesByStatus(ctx context.Context, status domain.CaseStatus) ([]*domain.Case, error) {
	query := selectCase + ` WHERE status = ? ORDER BY created_at`
	return r.queryCases(ctx, query, string(status))
}

// CountCasesByActor counts an actor's open and total cases.
func (r *SQLRepository) CountCasesByActor(ctx context.Context, actorID string) (int, int, error) {
	query := `
		SELECT
			COUNT(CASE WHEN status IN ` + openStatuses + ` THEN 1 END),
			COUNT(*)
		FROM cases
		WHERE actor_id = ?
	`

	var open, total int
	err := r.db.QueryRowContext(ctx, r.rebind(query), actorID).Scan(&open, &total)
	return open, total, err
}

// FindOpenCase returns the open case for an (actor, rule) pair created
// at or after since.
func (r *SQLRepository) FindOpenCase(ctx context.Context, actorID, ruleID string, since time.Time) (*domain.Case, error) {
	query := selectCase + `
		WHERE actor_id = ? AND rule_id = ?
		  AND status IN ` + openStatuses + `
		  AND created_at >= ?
		ORDER BY created_at DESC
		LIMIT 1
	`

	c, err := scanCase(r.db.QueryRowContext(ctx, r.rebind(query), actorID, ruleID, since))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: no open case for actor %s rule %s", domain.ErrCaseNotFound, actorID, ruleID)
	}
	return c, err
}

// SaveAppliedAction records an executed action. Replaying the same
// (case, action) pair is a no-op, which makes downstream effects
// idempotent under at-least-once delivery.
func (r *SQLRepository) SaveAppliedAction(ctx context.Context, a *domain.AppliedAction) error {
	query := `
		INSERT INTO applied_actions (id, case_id, actor_id, action, applied_by, applied_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(case_id, action) DO NOTHING
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		a.ID, a.CaseID, a.ActorID, a.Action, a.AppliedBy, a.AppliedAt,
	)
	return err
}

// HasAppliedAction reports whether the action was already applied to
// the case.
func (r *SQLRepository) HasAppliedAction(ctx context.Context, caseID, action string) (bool, error) {
	query := `SELECT COUNT(*) FROM applied_actions WHERE case_id = ? AND action = ?`

	var count int
	if err := r.db.QueryRowContext(ctx, r.rebind(query), caseID, action).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

const selectCase = `
	SELECT id, kind, actor_id, counterparty_id, type, severity, priority,
		   status, description, rule_id, evidence, risk_score,
		   confidence_level, potential_impact, deadlines,
		   auto_escalation_triggers, escalation_level, disputed_amount,
		   currency, timeline, resolution, created_at, updated_at
	FROM cases`

func (r *SQLRepository) queryCases(ctx context.Context, query string, args ...any) ([]*domain.Case, error) {
	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cases []*domain.Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, err
		}
		cases = append(cases, c)
	}

	return cases, rows.Err()
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanCase(s scanner) (*domain.Case, error) {
	var c domain.Case
	var kind, severity, priority, status string
	var counterparty, description, ruleID, impact, currency sql.NullString
	var evidence, deadlines, triggers, timeline, resolution sql.NullString

	err := s.Scan(
		&c.ID, &kind, &c.ActorID, &counterparty, &c.Type, &severity, &priority,
		&status, &description, &ruleID, &evidence, &c.RiskScore,
		&c.ConfidenceLevel, &impact, &deadlines,
		&triggers, &c.EscalationLevel, &c.DisputedAmount,
		&currency, &timeline, &resolution, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	c.Kind = domain.CaseKind(kind)
	c.Severity = domain.Severity(severity)
	c.Priority = domain.Priority(priority)
	c.Status = domain.CaseStatus(status)
	c.CounterpartyID = counterparty.String
	c.Description = description.String
	c.RuleID = ruleID.String
	c.PotentialImpact = impact.String
	c.Currency = currency.String

	if evidence.String != "" {
		json.Unmarshal([]byte(evidence.String), &c.Evidence)
	}
	if deadlines.String != "" {
		json.Unmarshal([]byte(deadlines.String), &c.Deadlines)
	}
	if triggers.String != "" {
		json.Unmarshal([]byte(triggers.String), &c.AutoEscalationTriggers)
	}
	if timeline.String != "" {
		json.Unmarshal([]byte(timeline.String), &c.Timeline)
	}
	if resolution.String != "" && resolution.String != "null" {
		json.Unmarshal([]byte(resolution.String), &c.Resolution)
	}

	return &c, nil
}

func scanRule(s scanner) (*domain.Rule, error) {
	var rule domain.Rule
	var severity string
	var description, conditions, actions sql.NullString
	var enabled int
	var lastTriggered sql.NullTime

	err := s.Scan(
		&rule.ID, &rule.Name, &description, &rule.Type, &severity, &enabled,
		&conditions, &actions, &rule.TriggerCount, &lastTriggered,
	)
	if err != nil {
		return nil, err
	}

	rule.Description = description.String
	rule.Severity = domain.Severity(severity)
	rule.Enabled = enabled == 1
	if conditions.String != "" {
		json.Unmarshal([]byte(conditions.String), &rule.Conditions)
	}
	if actions.String != "" {
		json.Unmarshal([]byte(actions.String), &rule.Actions)
	}
	if lastTriggered.Valid {
		t := lastTriggered.Time
		rule.LastTriggeredAt = &t
	}

	return &rule, nil
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
