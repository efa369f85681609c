package config

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable override.
const EnvPrefix = "AUTHZ_"

// LoadConfig loads configuration from a YAML file at the specified path.
// ${VAR} references in the file are expanded from the environment. It
// applies default values and validates the result.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Parse decodes a YAML document and applies defaults without validating.
// Unknown keys are rejected. An empty document yields the defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	expanded := os.ExpandEnv(string(data))
	if strings.TrimSpace(expanded) != "" {
		dec := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			return nil, err
		}
	}
	ApplyDefaults(&cfg)
	return &cfg, nil
}

// LoadConfigWithEnvOverrides loads configuration from a YAML file and applies
// environment variable overrides. Environment variables follow the naming
// convention AUTHZ_SECTION_FIELD (e.g., AUTHZ_SERVER_LISTEN_ADDRESS) and
// always take precedence over the file.
//
// The loading sequence is:
//  1. Load YAML from file
//  2. Apply default values
//  3. Apply environment variable overrides
//  4. Validate final configuration
//
// An empty path skips the file and starts from the defaults.
func LoadConfigWithEnvOverrides(path string) (*Config, error) {
	var cfg *Config
	if path == "" {
		cfg = Default()
	} else {
		var err error
		if cfg, err = LoadConfig(path); err != nil {
			return nil, err
		}
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed after environment overrides: %w", err)
	}
	return cfg, nil
}

// LoadEnvFile loads KEY=VALUE pairs from a dotenv file into the process
// environment. Variables that are already set are not overwritten.
func LoadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load env file %q: %w", path, err)
	}
	return nil
}

// applyEnvOverrides applies AUTHZ_SECTION_FIELD overrides. Values that do
// not parse are ignored.
func applyEnvOverrides(cfg *Config) {
	// Server overrides
	envString("SERVER_LISTEN_ADDRESS", &cfg.Server.ListenAddress)
	envDuration("SERVER_READ_TIMEOUT", &cfg.Server.ReadTimeout)
	envDuration("SERVER_WRITE_TIMEOUT", &cfg.Server.WriteTimeout)
	envDuration("SERVER_SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)
	envString("SERVER_ADMIN_TOKEN", &cfg.Server.AdminToken)
	envFloat("SERVER_RATE_LIMIT_REQUESTS_PER_SECOND", &cfg.Server.RateLimit.RequestsPerSecond)
	envInt("SERVER_RATE_LIMIT_BURST", &cfg.Server.RateLimit.Burst)
	envInt("SERVER_RATE_LIMIT_MAX_CONCURRENT", &cfg.Server.RateLimit.MaxConcurrent)

	// Engine overrides
	envString("ENGINE_CONFLICT_STRATEGY", &cfg.Engine.ConflictStrategy)
	if val := os.Getenv(EnvPrefix + "ENGINE_LIMIT_SCOPES"); val != "" {
		cfg.Engine.LimitScopes = splitList(val)
	}
	if val := os.Getenv(EnvPrefix + "ENGINE_AUTO_COMMIT"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Engine.AutoCommit = &b
		}
	}
	envBool("ENGINE_TRACE", &cfg.Engine.Trace)
	envDuration("ENGINE_PENDING_TTL", &cfg.Engine.PendingTTL)

	// Rules overrides
	envString("RULES_BACKEND", &cfg.Rules.Backend)
	envString("RULES_FILE_PATH", &cfg.Rules.FilePath)
	envString("RULES_SQLITE_PATH", &cfg.Rules.SQLite.Path)
	envString("RULES_SEED_FILE", &cfg.Rules.SeedFile)
	envBool("RULES_WATCH", &cfg.Rules.Watch)
	envString("RULES_GIT_REPOSITORY", &cfg.Rules.Git.Repository)
	envString("RULES_GIT_BRANCH", &cfg.Rules.Git.Branch)
	envString("RULES_GIT_PATH", &cfg.Rules.Git.Path)
	envString("RULES_GIT_AUTH_TOKEN", &cfg.Rules.Git.Auth.Token)

	// Limits overrides
	envString("LIMITS_BACKEND", &cfg.Limits.Backend)
	envDuration("LIMITS_RESERVATION_TTL", &cfg.Limits.ReservationTTL)
	envString("LIMITS_SQLITE_PATH", &cfg.Limits.SQLite.Path)
	envString("LIMITS_REDIS_ADDRESS", &cfg.Limits.Redis.Address)
	envString("LIMITS_REDIS_PASSWORD", &cfg.Limits.Redis.Password)
	envInt("LIMITS_REDIS_DB", &cfg.Limits.Redis.DB)

	// Audit overrides
	envString("AUDIT_BACKEND", &cfg.Audit.Backend)
	envString("AUDIT_SQLITE_PATH", &cfg.Audit.SQLite.Path)
	envInt("AUDIT_RETENTION_DAYS", &cfg.Audit.Retention.Days)
	envBool("AUDIT_KAFKA_ENABLED", &cfg.Audit.Kafka.Enabled)
	if val := os.Getenv(EnvPrefix + "AUDIT_KAFKA_BROKERS"); val != "" {
		cfg.Audit.Kafka.Brokers = splitList(val)
	}
	envString("AUDIT_KAFKA_TOPIC", &cfg.Audit.Kafka.Topic)

	// Notification overrides
	envString("NOTIFICATIONS_WEBHOOK_URL", &cfg.Notifications.Webhook.URL)

	// Telemetry overrides
	envString("TELEMETRY_LOGGING_LEVEL", &cfg.Telemetry.Logging.Level)
	envString("TELEMETRY_LOGGING_FORMAT", &cfg.Telemetry.Logging.Format)
	envBool("TELEMETRY_TRACING_ENABLED", &cfg.Telemetry.Tracing.Enabled)
	envString("TELEMETRY_TRACING_ENDPOINT", &cfg.Telemetry.Tracing.Endpoint)
	if val := os.Getenv(EnvPrefix + "TELEMETRY_TRACING_SAMPLE_RATIO"); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			cfg.Telemetry.Tracing.SampleRatio = f
		}
	}
}

func envString(key string, dst *string) {
	if val := os.Getenv(EnvPrefix + key); val != "" {
		*dst = val
	}
}

func envDuration(key string, dst *time.Duration) {
	if val := os.Getenv(EnvPrefix + key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			*dst = d
		}
	}
}

func envInt(key string, dst *int) {
	if val := os.Getenv(EnvPrefix + key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			*dst = i
		}
	}
}

func envFloat(key string, dst *float64) {
	if val := os.Getenv(EnvPrefix + key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			*dst = f
		}
	}
}

func envBool(key string, dst *bool) {
	if val := os.Getenv(EnvPrefix + key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			*dst = b
		}
	}
}

func splitList(val string) []string {
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
