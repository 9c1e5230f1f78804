// Package domain defines the core interfaces and types for Harrier.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
type Repository interface {
	// Activity operations
	SaveActivity(ctx context.Context, rec *ActivityRecord) error
	GetActivitiesByActor(ctx context.Context, actorID string, since time.Time) ([]*ActivityRecord, error)
	CountActivitiesByActor(ctx context.Context, actorID string, since time.Time) (int64, error)
	ListActiveActors(ctx context.Context, since time.Time) ([]string, error)
	DeleteActivitiesBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// Rule operations
	SaveRule(ctx context.Context, rule *Rule) error
	GetRule(ctx context.Context, ruleID string) (*Rule, error)
	ListRules(ctx context.Context) ([]*Rule, error)
	RecordRuleTrigger(ctx context.Context, ruleID string, at time.Time) error

	// Case operations
	SaveCase(ctx context.Context, c *Case) error
	GetCase(ctx context.Context, caseID string) (*Case, error)
	UpdateCase(ctx context.Context, c *Case) error
	ListOpenCases(ctx context.Context) ([]*Case, error)
	ListCasesByStatus(ctx context.Context, status CaseStatus) ([]*Case, error)
	CountCasesByActor(ctx context.Context, actorID string) (open int, total int, err error)

	// FindOpenCase returns the open case for an (actor, rule) pair
	// created at or after since, or ErrCaseNotFound. Backs the
	// one-case-per-window guarantee.
	FindOpenCase(ctx context.Context, actorID, ruleID string, since time.Time) (*Case, error)

	// Applied actions (idempotency audit trail)
	SaveAppliedAction(ctx context.Context, a *AppliedAction) error
	HasAppliedAction(ctx context.Context, caseID, action string) (bool, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `yaml:"driver"`

	// SQLite specific
	SQLitePath string `yaml:"sqlitePath"`

	// PostgreSQL specific
	PostgresHost     string `yaml:"postgresHost"`
	PostgresPort     int    `yaml:"postgresPort"`
	PostgresUser     string `yaml:"postgresUser"`
	PostgresPassword string `yaml:"postgresPassword"`
	PostgresDB       string `yaml:"postgresDb"`
	PostgresSSLMode  string `yaml:"postgresSslMode"`

	// Connection pool settings
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}
