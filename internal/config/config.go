// Package config defines the process configuration for the meal reminder
// service. Configuration is read once at startup (Lambda cold start, server
// boot or CLI invocation) and is not modified afterwards.
//
// Resolution order:
//
//	OS Environment (Highest) -> Dotenv File -> AWS SSM Parameter Store (Lowest)
//
// A missing required value or an invalid format fails startup.
package config

import (
	"time"

	"mealreminder/internal/types"
)

// SecretString is an alias for types.SecretString so config structs can be
// printed or logged without leaking credentials.
type SecretString = types.SecretString

// Storage backends accepted by STORAGE_BACKEND.
const (
	StoragePostgres = "postgres"
	StorageSQLite   = "sqlite"
	StorageMemory   = "memory"
)

// Ledger backends accepted by LEDGER_BACKEND.
const (
	LedgerStore = "store"
	LedgerRedis = "redis"
)

// Email providers accepted by EMAIL_PROVIDER.
const (
	ProviderSMTP     = "smtp"
	ProviderSES      = "ses"
	ProviderSendGrid = "sendgrid"
	ProviderStub     = "stub"
)

// Config is the top-level configuration. Components receive only the
// sub-struct they need.
type Config struct {
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"meal-reminder"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	Server        ServerConfig
	Auth          AuthConfig
	Email         EmailConfig
	Reminder      ReminderConfig
	Storage       StorageConfig
	Ledger        LedgerConfig
	Worker        WorkerConfig
	AWS           AWSConfig
	Observability ObservabilityConfig

	// Build Metadata (Injected via ldflags, not Env)
	Build BuildInfo
}

// IsLocal reports whether the process runs in the local environment.
func (c *Config) IsLocal() bool {
	return c.Environment == localEnv
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string        `envconfig:"PORT" default:"4000"`
	CorsAllowedOrigins []string      `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
	RequestTimeout     time.Duration `envconfig:"REQUEST_TIMEOUT" default:"60s"`
}

// AuthConfig holds the shared secret for the cron trigger endpoint.
// CronSecret is deliberately not validator-required: when it is missing the
// trigger endpoint answers 500 instead of the whole process failing to start.
type AuthConfig struct {
	CronSecret SecretString `envconfig:"CRON_SECRET"`
}

// EmailConfig holds mail transport credentials and sender identity.
// Credentials are checked when a mailer is built, not at load time.
type EmailConfig struct {
	Provider         string       `envconfig:"EMAIL_PROVIDER" default:"smtp" validate:"oneof=smtp ses sendgrid stub"`
	User             string       `envconfig:"EMAIL_USER"`
	Password         SecretString `envconfig:"EMAIL_PASS"`
	FromName         string       `envconfig:"EMAIL_FROM_NAME" default:"Recipe Finder"`
	SMTPHost         string       `envconfig:"SMTP_HOST" default:"smtp.gmail.com"`
	SMTPPort         int          `envconfig:"SMTP_PORT" default:"587" validate:"min=1,max=65535"`
	SendGridAPIKey   SecretString `envconfig:"SENDGRID_API_KEY"`
	SESConfiguration string       `envconfig:"SES_CONFIGURATION_SET"`
}

// Sender returns the From identity for reminder emails.
func (e EmailConfig) Sender() types.SenderIdentity {
	return types.SenderIdentity{Name: e.FromName, Address: e.User}
}

// ReminderConfig holds engine tunables.
type ReminderConfig struct {
	LeadMinutes int           `envconfig:"REMINDER_LEAD_MINUTES" default:"30" validate:"min=1,max=1440"`
	Concurrency int           `envconfig:"REMINDER_CONCURRENCY" default:"4" validate:"min=1,max=64"`
	ClaimTTL    time.Duration `envconfig:"REMINDER_CLAIM_TTL" default:"5m"`
	RunTimeout  time.Duration `envconfig:"REMINDER_RUN_TIMEOUT" default:"55s"`
}

// StorageConfig selects and tunes the planner and reminder log store.
type StorageConfig struct {
	Backend string `envconfig:"STORAGE_BACKEND" default:"postgres" validate:"oneof=postgres sqlite memory"`

	// Postgres
	DatabaseURL       SecretString  `envconfig:"DATABASE_URL" validate:"required_if=Backend postgres"`
	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"1"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`

	// SQLite
	SQLitePath string `envconfig:"SQLITE_PATH" default:"mealreminder.db"`

	// Memory (and SQLite bootstrap)
	SeedFile string `envconfig:"PLANNER_SEED_FILE"`
}

// LedgerConfig selects where reminder log entries are kept. "store" uses the
// storage backend; "redis" keeps them in Redis with a key TTL.
type LedgerConfig struct {
	Backend       string        `envconfig:"LEDGER_BACKEND" default:"store" validate:"oneof=store redis"`
	RedisAddr     string        `envconfig:"REDIS_ADDR" default:"localhost:6379" validate:"required_if=Backend redis"`
	RedisPassword SecretString  `envconfig:"REDIS_PASSWORD"`
	RedisDB       int           `envconfig:"REDIS_DB" default:"0"`
	RedisTLS      bool          `envconfig:"REDIS_TLS" default:"false"`
	KeyTTL        time.Duration `envconfig:"REDIS_KEY_TTL" default:"48h"`
}

// WorkerConfig controls the in-process scheduler started by cmd/api.
type WorkerConfig struct {
	Enabled  bool          `envconfig:"WORKER_ENABLED" default:"false"`
	Interval time.Duration `envconfig:"WORKER_INTERVAL" default:"1m"`
}

// AWSConfig holds AWS regional configuration.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"us-east-1"`

	// LocalStack Support (Empty in Prod)
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// ObservabilityConfig holds metric publishing settings.
type ObservabilityConfig struct {
	MetricsEnabled  bool   `envconfig:"METRICS_ENABLED" default:"false"`
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"MealReminders"`
}

// BuildInfo holds build-time metadata injected via ldflags.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType categorizes configuration loading failures.
type ConfigErrorType string

const (
	// ErrMissingEnv indicates a required environment variable was not found.
	ErrMissingEnv ConfigErrorType = "MISSING_ENV"
	// ErrSSMResolution indicates a failure when fetching secrets from AWS SSM.
	ErrSSMResolution ConfigErrorType = "SSM_FAILURE"
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates an environment value could not be parsed.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)
