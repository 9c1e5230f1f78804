package domain

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the complete Harrier configuration.
type Config struct {
	// Server settings
	Server ServerConfig `yaml:"server"`

	// Tier determines backing services
	Tier Tier `yaml:"tier"`

	// Component configurations
	Repository RepositoryConfig `yaml:"repository"`
	Cache      CacheConfig      `yaml:"cache"`
	EventBus   EventBusConfig   `yaml:"eventBus"`

	// Engine tunables
	Engine EngineConfig `yaml:"engine"`

	// Sweep intervals
	Sweep SweepConfig `yaml:"sweep"`

	// Observability
	Logging LoggingConfig `yaml:"logging"`
	Tracing TracingConfig `yaml:"tracing"`
}

// EngineConfig lifts detection constants out of the code so they are
// tunable without code changes.
type EngineConfig struct {
	// SeverityScores is the base risk score per severity.
	SeverityScores map[Severity]int `yaml:"severityScores"`

	// EvidenceConfidence is the confidence assigned to each evidence
	// item produced by a satisfied condition.
	EvidenceConfidence float64 `yaml:"evidenceConfidence"`

	// HighImpactTypes always yield critical potential impact.
	HighImpactTypes []string `yaml:"highImpactTypes"`

	// AutoResolveThreshold: payment disputes strictly below this
	// amount (minor units) are resolved at creation.
	AutoResolveThreshold int64 `yaml:"autoResolveThreshold"`

	// Priority bands by disputed amount (minor units).
	UrgentAmount int64 `yaml:"urgentAmount"` // amount > UrgentAmount -> urgent
	HighAmount   int64 `yaml:"highAmount"`   // amount > HighAmount -> high

	// MetricTimeout bounds each metric computation and each custom
	// trigger evaluation. Timeout counts as a failed condition.
	MetricTimeout time.Duration `yaml:"metricTimeout"`

	// Dispute deadline offsets from case creation.
	ResponseDeadline   time.Duration `yaml:"responseDeadline"`
	EvidenceDeadline   time.Duration `yaml:"evidenceDeadline"`
	ResolutionDeadline time.Duration `yaml:"resolutionDeadline"`

	// ActivityRetention bounds how long raw activity records are kept
	// before the cleanup sweep removes them.
	ActivityRetention time.Duration `yaml:"activityRetention"`
}

// SweepConfig holds the periodic task intervals. Each task is
// single-flight: a tick is skipped while the previous run is still in
// flight.
type SweepConfig struct {
	EscalationInterval time.Duration `yaml:"escalationInterval"`
	ProfileInterval    time.Duration `yaml:"profileInterval"`
	CleanupInterval    time.Duration `yaml:"cleanupInterval"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	ReadTimeout  int    `yaml:"readTimeout"`  // seconds
	WriteTimeout int    `yaml:"writeTimeout"` // seconds
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"serviceName"`
	Endpoint    string `yaml:"endpoint"`
}

// Tier represents the product tier.
type Tier string

const (
	// TierCommunity runs on SQLite + channels + local LRU.
	TierCommunity Tier = "community"

	// TierPro runs on PostgreSQL + NATS + Redis.
	TierPro Tier = "pro"
)

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Tier: TierCommunity,
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./harrier.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Engine: DefaultEngineConfig(),
		Sweep: SweepConfig{
			EscalationInterval: time.Minute,
			ProfileInterval:    5 * time.Minute,
			CleanupInterval:    time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "harrier",
		},
	}
}

// DefaultEngineConfig returns the detection defaults. The values match
// the long-standing production constants: changing them changes which
// cases get opened.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		SeverityScores: map[Severity]int{
			SeverityLow:      25,
			SeverityMedium:   50,
			SeverityHigh:     75,
			SeverityCritical: 90,
		},
		EvidenceConfidence: 0.8,
		HighImpactTypes: []string{
			CaseTypePaymentFraud,
			CaseTypeIdentityTheft,
			CaseTypeOffPlatformDeal,
		},
		AutoResolveThreshold: 5000,
		UrgentAmount:         100000,
		HighAmount:           50000,
		MetricTimeout:        2 * time.Second,
		ResponseDeadline:     24 * time.Hour,
		EvidenceDeadline:     72 * time.Hour,
		ResolutionDeadline:   7 * 24 * time.Hour,
		ActivityRetention:    90 * 24 * time.Hour,
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "harrier",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       5 * time.Minute,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Tracing.Enabled = true
	return cfg
}

// LoadConfig reads a YAML config file over the given base config.
func LoadConfig(path string, base *Config) (*Config, error) {
	if base == nil {
		base = DefaultConfig()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, base); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return base, nil
}
