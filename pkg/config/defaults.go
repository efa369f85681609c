package config

import "time"

// Default values for configuration fields.
const (
	// Server defaults
	DefaultListenAddress   = "127.0.0.1:8080"
	DefaultReadTimeout     = 15 * time.Second
	DefaultWriteTimeout    = 15 * time.Second
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 30 * time.Second
	DefaultMaxHeaderBytes  = 1048576 // 1MB
	DefaultMaxBodyBytes    = 1048576
	DefaultClientHeader    = "X-Client-ID"
	DefaultRateLimitIdle   = 10 * time.Minute
	DefaultTLSMinVersion   = "1.3"
	DefaultTLSClientAuth   = "none"
	DefaultTLSReload       = 5 * time.Minute

	// Engine defaults
	DefaultConflictStrategy = "strictest"
	DefaultPendingTTL       = 72 * time.Hour

	// Rules defaults
	DefaultRulesBackend       = "sqlite"
	DefaultRulesSQLitePath    = "data/rules.db"
	DefaultRulesWatchDebounce = 100 * time.Millisecond
	DefaultGitBranch          = "main"
	DefaultGitPollInterval    = 30 * time.Second
	DefaultGitPollTimeout     = 10 * time.Second

	// Limits defaults
	DefaultLimitsBackend     = "sqlite"
	DefaultLimitsSQLitePath  = "data/limits.db"
	DefaultReservationTTL    = 30 * time.Second
	DefaultSweepInterval     = 15 * time.Second
	DefaultRedisKeyPrefix    = "authz:limits"
	DefaultRedisDialTimeout  = 5 * time.Second
	DefaultSQLiteBusyTimeout = 5 * time.Second

	// Audit defaults
	DefaultAuditBackend         = "sqlite"
	DefaultAuditSQLitePath      = "data/audit.db"
	DefaultAuditAsyncBuffer     = 1000
	DefaultAuditWriteTimeout    = 5 * time.Second
	DefaultRetentionDays        = 365
	DefaultRetentionSchedule    = "0 3 * * *"
	DefaultRetentionArchivePath = "data/archives/"
	DefaultKafkaTopic           = "authz.audit"
	DefaultKafkaBatchTimeout    = 10 * time.Millisecond
	DefaultKafkaRequiredAcks    = -1

	// Notification defaults
	DefaultNotifyWorkers     = 4
	DefaultNotifyQueueSize   = 256
	DefaultDedupTTL          = 24 * time.Hour
	DefaultWebhookTimeout    = 10 * time.Second
	DefaultWebhookMaxRetries = 3

	// Telemetry defaults
	DefaultLoggingLevel       = "info"
	DefaultLoggingFormat      = "json"
	DefaultMetricsPath        = "/metrics"
	DefaultMetricsNamespace   = "authz"
	DefaultTracingSampler     = "ratio"
	DefaultTracingSampleRatio = 0.1
	DefaultTracingEndpoint    = "localhost:4317"
	DefaultTracingService     = "authz"
	DefaultOTLPTimeout        = 10 * time.Second
	DefaultLivenessPath       = "/health"
	DefaultReadinessPath      = "/ready"
	DefaultHealthCheckTimeout = 5 * time.Second
)

// DefaultLimitScopes are reserved on every evaluation unless configured.
var DefaultLimitScopes = []string{"daily", "perTransaction"}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults sets defaults for any fields that have zero values.
// It is idempotent.
func ApplyDefaults(cfg *Config) {
	// Server defaults
	if cfg.Server.ListenAddress == "" {
		cfg.Server.ListenAddress = DefaultListenAddress
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = DefaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.Server.MaxHeaderBytes == 0 {
		cfg.Server.MaxHeaderBytes = DefaultMaxHeaderBytes
	}
	if cfg.Server.MaxBodyBytes == 0 {
		cfg.Server.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.Server.RateLimit.ClientHeader == "" {
		cfg.Server.RateLimit.ClientHeader = DefaultClientHeader
	}
	if cfg.Server.RateLimit.IdleTTL == 0 {
		cfg.Server.RateLimit.IdleTTL = DefaultRateLimitIdle
	}
	if cfg.Server.TLS.MinVersion == "" {
		cfg.Server.TLS.MinVersion = DefaultTLSMinVersion
	}
	if cfg.Server.TLS.ClientAuth == "" {
		cfg.Server.TLS.ClientAuth = DefaultTLSClientAuth
	}
	if cfg.Server.TLS.ReloadInterval == 0 {
		cfg.Server.TLS.ReloadInterval = DefaultTLSReload
	}

	// Engine defaults
	if cfg.Engine.ConflictStrategy == "" {
		cfg.Engine.ConflictStrategy = DefaultConflictStrategy
	}
	if cfg.Engine.LimitScopes == nil {
		cfg.Engine.LimitScopes = append([]string(nil), DefaultLimitScopes...)
	}
	if cfg.Engine.PendingTTL == 0 {
		cfg.Engine.PendingTTL = DefaultPendingTTL
	}

	// Rules defaults
	if cfg.Rules.Backend == "" {
		cfg.Rules.Backend = DefaultRulesBackend
	}
	if cfg.Rules.SQLite.Path == "" {
		cfg.Rules.SQLite.Path = DefaultRulesSQLitePath
	}
	if cfg.Rules.SQLite.BusyTimeout == 0 {
		cfg.Rules.SQLite.BusyTimeout = DefaultSQLiteBusyTimeout
	}
	if cfg.Rules.WatchDebounce == 0 {
		cfg.Rules.WatchDebounce = DefaultRulesWatchDebounce
	}
	if cfg.Rules.Git.Branch == "" {
		cfg.Rules.Git.Branch = DefaultGitBranch
	}
	if cfg.Rules.Git.Auth.Type == "" {
		cfg.Rules.Git.Auth.Type = "none"
	}
	if cfg.Rules.Git.Poll.Interval == 0 {
		cfg.Rules.Git.Poll.Interval = DefaultGitPollInterval
	}
	if cfg.Rules.Git.Poll.Timeout == 0 {
		cfg.Rules.Git.Poll.Timeout = DefaultGitPollTimeout
	}

	// Limits defaults
	if cfg.Limits.Backend == "" {
		cfg.Limits.Backend = DefaultLimitsBackend
	}
	if cfg.Limits.ReservationTTL == 0 {
		cfg.Limits.ReservationTTL = DefaultReservationTTL
	}
	if cfg.Limits.SweepInterval == 0 {
		cfg.Limits.SweepInterval = DefaultSweepInterval
	}
	if cfg.Limits.SQLite.Path == "" {
		cfg.Limits.SQLite.Path = DefaultLimitsSQLitePath
	}
	if cfg.Limits.SQLite.BusyTimeout == 0 {
		cfg.Limits.SQLite.BusyTimeout = DefaultSQLiteBusyTimeout
	}
	if cfg.Limits.Redis.KeyPrefix == "" {
		cfg.Limits.Redis.KeyPrefix = DefaultRedisKeyPrefix
	}
	if cfg.Limits.Redis.DialTimeout == 0 {
		cfg.Limits.Redis.DialTimeout = DefaultRedisDialTimeout
	}

	// Audit defaults
	if cfg.Audit.Backend == "" {
		cfg.Audit.Backend = DefaultAuditBackend
	}
	if cfg.Audit.SQLite.Path == "" {
		cfg.Audit.SQLite.Path = DefaultAuditSQLitePath
	}
	if cfg.Audit.SQLite.BusyTimeout == 0 {
		cfg.Audit.SQLite.BusyTimeout = DefaultSQLiteBusyTimeout
	}
	if cfg.Audit.Recorder.AsyncBuffer == 0 {
		cfg.Audit.Recorder.AsyncBuffer = DefaultAuditAsyncBuffer
	}
	if cfg.Audit.Recorder.WriteTimeout == 0 {
		cfg.Audit.Recorder.WriteTimeout = DefaultAuditWriteTimeout
	}
	if cfg.Audit.Retention.Days == 0 {
		cfg.Audit.Retention.Days = DefaultRetentionDays
	}
	if cfg.Audit.Retention.PruneSchedule == "" {
		cfg.Audit.Retention.PruneSchedule = DefaultRetentionSchedule
	}
	if cfg.Audit.Retention.ArchivePath == "" {
		cfg.Audit.Retention.ArchivePath = DefaultRetentionArchivePath
	}
	if cfg.Audit.Kafka.Topic == "" {
		cfg.Audit.Kafka.Topic = DefaultKafkaTopic
	}
	if cfg.Audit.Kafka.BatchTimeout == 0 {
		cfg.Audit.Kafka.BatchTimeout = DefaultKafkaBatchTimeout
	}
	if cfg.Audit.Kafka.RequiredAcks == 0 {
		cfg.Audit.Kafka.RequiredAcks = DefaultKafkaRequiredAcks
	}

	// Notification defaults
	if cfg.Notifications.Workers == 0 {
		cfg.Notifications.Workers = DefaultNotifyWorkers
	}
	if cfg.Notifications.QueueSize == 0 {
		cfg.Notifications.QueueSize = DefaultNotifyQueueSize
	}
	if cfg.Notifications.DedupTTL == 0 {
		cfg.Notifications.DedupTTL = DefaultDedupTTL
	}
	if cfg.Notifications.Webhook.Timeout == 0 {
		cfg.Notifications.Webhook.Timeout = DefaultWebhookTimeout
	}
	if cfg.Notifications.Webhook.MaxRetries == 0 {
		cfg.Notifications.Webhook.MaxRetries = DefaultWebhookMaxRetries
	}

	applyTelemetryDefaults(&cfg.Telemetry)
}

func applyTelemetryDefaults(cfg *TelemetryConfig) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = DefaultLoggingLevel
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = DefaultLoggingFormat
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = DefaultMetricsPath
	}
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = DefaultMetricsNamespace
	}

	if cfg.Tracing.Sampler == "" {
		cfg.Tracing.Sampler = DefaultTracingSampler
	}
	if cfg.Tracing.SampleRatio == 0 {
		cfg.Tracing.SampleRatio = DefaultTracingSampleRatio
	}
	if cfg.Tracing.Endpoint == "" {
		cfg.Tracing.Endpoint = DefaultTracingEndpoint
	}
	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = DefaultTracingService
	}
	if cfg.Tracing.OTLP.Timeout == 0 {
		cfg.Tracing.OTLP.Timeout = DefaultOTLPTimeout
	}

	if cfg.Health.LivenessPath == "" {
		cfg.Health.LivenessPath = DefaultLivenessPath
	}
	if cfg.Health.ReadinessPath == "" {
		cfg.Health.ReadinessPath = DefaultReadinessPath
	}
	if cfg.Health.CheckTimeout == 0 {
		cfg.Health.CheckTimeout = DefaultHealthCheckTimeout
	}

	// An explicit empty list traces every path.
	if cfg.Tracing.SkipPaths == nil {
		cfg.Tracing.SkipPaths = []string{
			cfg.Health.LivenessPath,
			cfg.Health.ReadinessPath,
			cfg.Metrics.Path,
			"/version",
		}
	}
}
