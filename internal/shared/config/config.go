package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	KurrentDB KurrentDBConfig
	Auth      AuthConfig
	Evaluator EvaluatorConfig
	Switch    SwitchConfig
	Pipeline  PipelineConfig
	Cache     CacheConfig
	Ingest    IngestConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Database, d.SSLMode,
	)
}

// KurrentDBConfig holds configuration for KurrentDB (EventStoreDB).
type KurrentDBConfig struct {
	// Host is the KurrentDB server hostname
	Host string
	// Port is the gRPC port (default 2113)
	Port int
	// Insecure disables TLS (for development)
	Insecure bool
	// Username for authentication (optional)
	Username string
	// Password for authentication (optional)
	Password string
}

type AuthConfig struct {
	JWTSecret string
}

// EvaluatorConfig holds configuration for the external decision evaluator service.
type EvaluatorConfig struct {
	URL     string
	Enabled bool
	Timeout time.Duration
}

// SwitchConfig holds configuration for the external claims switch feed.
// The switch exposes a SQL Server staging database that we poll.
type SwitchConfig struct {
	Enabled      bool
	Host         string
	Port         int
	User         string
	Password     string
	Database     string
	SSLMode      string
	StagingTable string
	PollInterval time.Duration
}

// PipelineConfig holds the adjudication policy values. These are tuning
// knobs, not structural constants, so they live in configuration.
type PipelineConfig struct {
	// ReviewConfidenceFloor is the mean confidence below which a unanimous
	// approval still requires human review.
	ReviewConfidenceFloor float64
	// MedicalNecessityThreshold is the claimed amount above which the
	// medical-necessity evaluator runs.
	MedicalNecessityThreshold float64
	// BatchWorkers bounds how many claims are adjudicated concurrently.
	BatchWorkers int
	// RunTimeout bounds a single pipeline run so a stalled evaluator cannot
	// hold the orchestrator gate indefinitely.
	RunTimeout time.Duration
}

// CacheConfig holds processing-context cache expiry settings.
type CacheConfig struct {
	SlidingTTL  time.Duration
	AbsoluteTTL time.Duration
}

// IngestConfig holds background ingest worker settings.
type IngestConfig struct {
	// StartupDelay lets the rest of the process initialize before the
	// queue consumers start.
	StartupDelay time.Duration
}

func Load() (*Config, error) {
	return &Config{
		Server: ServerConfig{
			Port: getEnvInt("SERVER_PORT", 8080),
			Env:  getEnv("ENV", "development"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "claims"),
			Password: getEnv("DB_PASSWORD", "claims"),
			Database: getEnv("DB_NAME", "claims"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		KurrentDB: KurrentDBConfig{
			Host:     getEnv("KURRENTDB_HOST", "localhost"),
			Port:     getEnvInt("KURRENTDB_PORT", 2113),
			Insecure: getEnvBool("KURRENTDB_INSECURE", true),
			Username: getEnv("KURRENTDB_USERNAME", ""),
			Password: getEnv("KURRENTDB_PASSWORD", ""),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", "dev-secret-change-in-prod"),
		},
		Evaluator: EvaluatorConfig{
			URL:     getEnv("EVALUATOR_URL", "http://localhost:5000"),
			Enabled: getEnvBool("EVALUATOR_ENABLED", true),
			Timeout: getEnvDuration("EVALUATOR_TIMEOUT", 30*time.Second),
		},
		Switch: SwitchConfig{
			Enabled:      getEnvBool("SWITCH_ENABLED", false),
			Host:         getEnv("SWITCH_DB_HOST", "localhost"),
			Port:         getEnvInt("SWITCH_DB_PORT", 1433),
			User:         getEnv("SWITCH_DB_USER", "switchreader"),
			Password:     getEnv("SWITCH_DB_PASSWORD", ""),
			Database:     getEnv("SWITCH_DB_NAME", "switch"),
			SSLMode:      getEnv("SWITCH_DB_SSLMODE", "disable"),
			StagingTable: getEnv("SWITCH_STAGING_TABLE", "dbo.ClaimLines"),
			PollInterval: getEnvDuration("SWITCH_POLL_INTERVAL", 30*time.Second),
		},
		Pipeline: PipelineConfig{
			ReviewConfidenceFloor:     getEnvFloat("PIPELINE_REVIEW_CONFIDENCE_FLOOR", 0.80),
			MedicalNecessityThreshold: getEnvFloat("PIPELINE_MEDICAL_NECESSITY_THRESHOLD", 5000),
			BatchWorkers:              getEnvInt("PIPELINE_BATCH_WORKERS", 3),
			RunTimeout:                getEnvDuration("PIPELINE_RUN_TIMEOUT", 2*time.Minute),
		},
		Cache: CacheConfig{
			SlidingTTL:  getEnvDuration("CONTEXT_CACHE_SLIDING_TTL", 15*time.Minute),
			AbsoluteTTL: getEnvDuration("CONTEXT_CACHE_ABSOLUTE_TTL", time.Hour),
		},
		Ingest: IngestConfig{
			StartupDelay: getEnvDuration("INGEST_STARTUP_DELAY", 5*time.Second),
		},
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
