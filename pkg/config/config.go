package config

import "time"

// Config is the root configuration structure for the authorization service.
type Config struct {
	// Server contains HTTP server configuration.
	Server ServerConfig `yaml:"server"`

	// Engine contains policy engine configuration such as the conflict
	// strategy and the spend scopes reserved on each evaluation.
	Engine EngineConfig `yaml:"engine"`

	// Rules selects where rules and multisig policies are stored and how
	// changes are picked up.
	Rules RulesConfig `yaml:"rules"`

	// Limits contains spend limit tracking configuration.
	Limits LimitsConfig `yaml:"limits"`

	// Audit contains audit storage, streaming and retention configuration.
	Audit AuditConfig `yaml:"audit"`

	// Notifications configures delivery of notify actions.
	Notifications NotificationsConfig `yaml:"notifications"`

	// Telemetry contains logging, metrics, tracing and health configuration.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig contains configuration for the HTTP server.
type ServerConfig struct {
	// ListenAddress is the address and port to listen on.
	// Default: "127.0.0.1:8080"
	ListenAddress string `yaml:"listen_address"`

	// ReadTimeout is the maximum duration for reading the entire request.
	// Default: 15s
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout is the maximum duration before timing out writes of the response.
	// Default: 15s
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// IdleTimeout is the keep-alive idle timeout.
	// Default: 120s
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// ShutdownTimeout bounds graceful shutdown.
	// Default: 30s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// MaxHeaderBytes limits request header size.
	// Default: 1048576 (1MB)
	MaxHeaderBytes int `yaml:"max_header_bytes"`

	// MaxBodyBytes limits request body size.
	// Default: 1048576 (1MB)
	MaxBodyBytes int64 `yaml:"max_body_bytes"`

	// AdminToken protects the rule, policy and limit administration
	// endpoints with a bearer token. Empty disables the check.
	AdminToken string `yaml:"admin_token"`

	// RateLimit throttles evaluation requests per caller.
	RateLimit RateLimitConfig `yaml:"rate_limit"`

	// TLS serves the API over HTTPS, optionally requiring client
	// certificates.
	TLS TLSConfig `yaml:"tls"`
}

// TLSConfig configures HTTPS for the API server.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`

	// MinVersion is "1.2" or "1.3".
	// Default: "1.3"
	MinVersion string `yaml:"min_version"`

	// ClientAuth is one of none, request, verify_if_given or require.
	// The last two need client_ca_file.
	// Default: "none"
	ClientAuth   string `yaml:"client_auth"`
	ClientCAFile string `yaml:"client_ca_file"`

	// ReloadInterval is how often the certificate files are checked for
	// changes. Zero disables reloading.
	// Default: 5m
	ReloadInterval time.Duration `yaml:"reload_interval"`
}

// RateLimitConfig throttles POST /v1/evaluate per caller. With both
// requests_per_second and max_concurrent at zero no throttling is applied.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained rate per caller.
	RequestsPerSecond float64 `yaml:"requests_per_second"`

	// Burst is the number of requests a caller may make at once.
	// Default: twice requests_per_second
	Burst int `yaml:"burst"`

	// MaxConcurrent caps evaluations in flight per caller.
	MaxConcurrent int `yaml:"max_concurrent"`

	// ClientHeader names the header identifying the caller. Requests
	// without it are keyed by remote IP.
	// Default: "X-Client-ID"
	ClientHeader string `yaml:"client_header"`

	// IdleTTL is how long an idle caller's state is kept.
	// Default: 10m
	IdleTTL time.Duration `yaml:"idle_ttl"`
}

// Enabled reports whether any throttling is configured.
func (c RateLimitConfig) Enabled() bool {
	return c.RequestsPerSecond > 0 || c.MaxConcurrent > 0
}

// EngineConfig contains configuration for the policy engine.
type EngineConfig struct {
	// ConflictStrategy reconciles disagreeing rule outcomes.
	// Options: "strictest", "priority", "most_recent", "manual"
	// Default: "strictest"
	ConflictStrategy string `yaml:"conflict_strategy"`

	// LimitScopes are reserved on every evaluation.
	// Default: ["daily", "perTransaction"]
	LimitScopes []string `yaml:"limit_scopes"`

	// AutoCommit commits the usage of approved and flagged transactions
	// immediately. When false, usage is held until the transaction is confirmed.
	// Default: true
	AutoCommit *bool `yaml:"auto_commit"`

	// Trace attaches per-rule evaluation results to each decision.
	// Default: false
	Trace bool `yaml:"trace"`

	// PendingTTL bounds how long escalated transactions wait for
	// confirmation before their holds are dropped.
	// Default: 72h
	PendingTTL time.Duration `yaml:"pending_ttl"`

	// DerivedFields are computed from the transaction before rules run.
	DerivedFields []DerivedField `yaml:"derived_fields"`
}

// AutoCommitEnabled reports the effective auto commit setting.
func (c EngineConfig) AutoCommitEnabled() bool {
	return c.AutoCommit == nil || *c.AutoCommit
}

// DerivedField is a named expression evaluated against the transaction fields.
type DerivedField struct {
	Name       string `yaml:"name"`
	Expression string `yaml:"expression"`
}

// RulesConfig configures the rule store.
type RulesConfig struct {
	// Backend selects rule persistence.
	// Options: "memory", "sqlite", "file", "git"
	// Default: "sqlite"
	Backend string `yaml:"backend"`

	// FilePath is a YAML bundle file or a directory of bundles when
	// Backend is "file".
	FilePath string `yaml:"file_path"`

	// SQLite configures the sqlite backend.
	SQLite SQLiteConfig `yaml:"sqlite"`

	// SeedFile is a YAML bundle imported at startup. Entries that already
	// exist are left untouched.
	SeedFile string `yaml:"seed_file"`

	// Watch reloads the file backend when bundle files change.
	// Default: false
	Watch bool `yaml:"watch"`

	// WatchDebounce coalesces bursts of file events.
	// Default: 100ms
	WatchDebounce time.Duration `yaml:"watch_debounce"`

	// Git configures the git backend.
	Git GitConfig `yaml:"git"`
}

// GitConfig configures loading rule bundles from a Git repository.
type GitConfig struct {
	// Repository URL (HTTPS, SSH or a local path).
	Repository string `yaml:"repository"`

	// Branch to track.
	// Default: "main"
	Branch string `yaml:"branch"`

	// Path within the repository to the bundle files.
	// Default: "" (repository root)
	Path string `yaml:"path"`

	// Auth configures Git authentication.
	Auth GitAuthConfig `yaml:"auth"`

	// Poll configures change detection.
	Poll GitPollConfig `yaml:"poll"`

	// Clone configures repository cloning.
	Clone GitCloneConfig `yaml:"clone"`
}

// GitAuthConfig configures Git authentication.
type GitAuthConfig struct {
	// Type: "token", "ssh", "none"
	// Default: "none"
	Type string `yaml:"type"`

	// Token for HTTPS authentication. Required when Type is "token".
	Token string `yaml:"token"`

	// SSHKeyPath for SSH authentication. Required when Type is "ssh".
	SSHKeyPath string `yaml:"ssh_key_path"`

	// SSHKeyPassphrase for encrypted SSH keys.
	SSHKeyPassphrase string `yaml:"ssh_key_passphrase"`
}

// GitPollConfig configures change detection.
type GitPollConfig struct {
	// Enabled determines if polling is active. When false, bundles are
	// loaded once at startup.
	// Default: true
	Enabled *bool `yaml:"enabled"`

	// Interval between polls.
	// Default: 30s
	Interval time.Duration `yaml:"interval"`

	// Timeout for Git operations.
	// Default: 10s
	Timeout time.Duration `yaml:"timeout"`
}

// PollEnabled reports the effective polling setting.
func (c GitPollConfig) PollEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// GitCloneConfig configures repository cloning.
type GitCloneConfig struct {
	// Depth for shallow clones (0 = full clone).
	// Default: 0
	Depth int `yaml:"depth"`

	// LocalPath where the repository is cloned.
	// Default: system temp directory
	LocalPath string `yaml:"local_path"`

	// CleanOnStart removes the local clone before cloning.
	// Default: false
	CleanOnStart bool `yaml:"clean_on_start"`
}

// SQLiteConfig locates a SQLite database.
type SQLiteConfig struct {
	// Path is the database file path.
	Path string `yaml:"path"`

	// BusyTimeout is how long a writer waits on a locked database.
	// Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// LimitsConfig contains spend limit configuration.
type LimitsConfig struct {
	// Backend selects limit state persistence.
	// Options: "memory", "sqlite", "redis"
	// Default: "sqlite"
	Backend string `yaml:"backend"`

	// ReservationTTL bounds the life of an uncommitted hold.
	// Default: 30s
	ReservationTTL time.Duration `yaml:"reservation_ttl"`

	// SweepInterval is how often expired holds are reclaimed.
	// Default: 15s
	SweepInterval time.Duration `yaml:"sweep_interval"`

	// SQLite configures the sqlite backend.
	SQLite SQLiteConfig `yaml:"sqlite"`

	// Redis configures the redis backend.
	Redis RedisConfig `yaml:"redis"`

	// Defaults are limits installed at startup.
	Defaults []LimitDefault `yaml:"defaults"`
}

// RedisConfig configures a Redis connection.
type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`

	// KeyPrefix is prepended to every key.
	// Default: "authz:limits"
	KeyPrefix string `yaml:"key_prefix"`

	// DialTimeout bounds connection setup.
	// Default: 5s
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// LimitDefault is a spend limit installed at startup.
type LimitDefault struct {
	EntityID string `yaml:"entity_id"`
	Scope    string `yaml:"scope"`

	// Amount is a decimal string such as "5000.00".
	Amount string `yaml:"amount"`

	// Location is the IANA zone of the window boundaries. Empty means UTC.
	Location string `yaml:"location"`
}

// AuditConfig contains configuration for audit recording.
type AuditConfig struct {
	// Backend selects audit storage.
	// Options: "memory", "sqlite"
	// Default: "sqlite"
	Backend string `yaml:"backend"`

	// SQLite configures the sqlite backend.
	SQLite SQLiteConfig `yaml:"sqlite"`

	// Recorder configures the asynchronous writer.
	Recorder RecorderConfig `yaml:"recorder"`

	// Retention configures pruning of old records.
	Retention RetentionConfig `yaml:"retention"`

	// Kafka streams every stored record to a topic.
	Kafka KafkaConfig `yaml:"kafka"`
}

// RecorderConfig configures the audit recorder.
type RecorderConfig struct {
	// AsyncBuffer is the size of the write queue.
	// Default: 1000
	AsyncBuffer int `yaml:"async_buffer"`

	// WriteTimeout bounds enqueueing and each storage write.
	// Default: 5s
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// RetentionConfig configures audit retention.
type RetentionConfig struct {
	// Days to keep records. 0 keeps records forever.
	// Default: 365
	Days int `yaml:"days"`

	// PruneSchedule is a cron expression.
	// Default: "0 3 * * *"
	PruneSchedule string `yaml:"prune_schedule"`

	// ArchiveBeforeDelete writes pruned records to ArchivePath.
	ArchiveBeforeDelete bool `yaml:"archive_before_delete"`

	// ArchivePath is the archive directory.
	// Default: "data/archives/"
	ArchivePath string `yaml:"archive_path"`

	// MaxRecords caps the number of stored records. 0 means unlimited.
	MaxRecords int64 `yaml:"max_records"`
}

// KafkaConfig configures the audit event stream.
type KafkaConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`

	// Topic receives one JSON message per audit record.
	// Default: "authz.audit"
	Topic string `yaml:"topic"`

	// BatchTimeout is how long the writer waits to fill a batch.
	// Default: 10ms
	BatchTimeout time.Duration `yaml:"batch_timeout"`

	// RequiredAcks is -1 for all replicas or 1 for the leader only.
	// Default: -1
	RequiredAcks int `yaml:"required_acks"`
}

// NotificationsConfig configures notify action delivery.
type NotificationsConfig struct {
	// Workers deliver notifications concurrently.
	// Default: 4
	Workers int `yaml:"workers"`

	// QueueSize bounds pending notifications.
	// Default: 256
	QueueSize int `yaml:"queue_size"`

	// DedupTTL is how long a setLimit action is remembered per rule and transaction.
	// Default: 24h
	DedupTTL time.Duration `yaml:"dedup_ttl"`

	// Webhook delivers notifications as JSON POSTs. Empty URL logs them instead.
	Webhook WebhookConfig `yaml:"webhook"`
}

// WebhookConfig configures the webhook notifier.
type WebhookConfig struct {
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers"`

	// Timeout bounds one delivery attempt.
	// Default: 10s
	Timeout time.Duration `yaml:"timeout"`

	// MaxRetries after the first attempt.
	// Default: 3
	MaxRetries int `yaml:"max_retries"`
}

// TelemetryConfig contains observability configuration.
type TelemetryConfig struct {
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
	Health  HealthConfig  `yaml:"health"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level to emit.
	// Options: "debug", "info", "warn", "error"
	// Default: "info"
	Level string `yaml:"level"`

	// Format controls the log output format.
	// Options: "json", "text"
	// Default: "json"
	Format string `yaml:"format"`

	// AddSource includes file and line number in log entries.
	AddSource bool `yaml:"add_source"`

	// RedactPII masks card numbers, account numbers, emails and tokens.
	// Default: true
	RedactPII *bool `yaml:"redact_pii"`

	// RedactPatterns are additional redaction patterns.
	RedactPatterns []RedactPattern `yaml:"redact_patterns"`
}

// RedactEnabled reports the effective redaction setting.
func (c LoggingConfig) RedactEnabled() bool {
	return c.RedactPII == nil || *c.RedactPII
}

// RedactPattern defines a custom redaction pattern.
type RedactPattern struct {
	Name        string `yaml:"name"`
	Pattern     string `yaml:"pattern"`
	Replacement string `yaml:"replacement"`
}

// MetricsConfig contains metrics configuration.
type MetricsConfig struct {
	// Enabled controls whether the Prometheus endpoint is served.
	// Default: true
	Enabled *bool `yaml:"enabled"`

	// Path is the HTTP path of the metrics endpoint.
	// Default: "/metrics"
	Path string `yaml:"path"`

	// Namespace is the metric name prefix.
	// Default: "authz"
	Namespace string `yaml:"namespace"`

	// EvaluationDurationBuckets are histogram buckets in seconds.
	EvaluationDurationBuckets []float64 `yaml:"evaluation_duration_buckets"`
}

// MetricsEnabled reports the effective metrics setting.
func (c MetricsConfig) MetricsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// TracingConfig contains distributed tracing configuration.
type TracingConfig struct {
	// Enabled controls whether spans are exported.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Sampler determines the sampling strategy.
	// Options: "always", "never", "ratio"
	// Default: "ratio"
	Sampler string `yaml:"sampler"`

	// SampleRatio is the fraction of traces sampled by the ratio sampler.
	// Default: 0.1
	SampleRatio float64 `yaml:"sample_ratio"`

	// Endpoint is the OTLP gRPC collector endpoint.
	// Default: "localhost:4317"
	Endpoint string `yaml:"endpoint"`

	// ServiceName is the service name in traces.
	// Default: "authz"
	ServiceName string `yaml:"service_name"`

	// SkipPaths lists request paths that never start a trace.
	// Default: the health and metrics paths
	SkipPaths []string `yaml:"skip_paths"`

	// OTLP contains exporter specific configuration.
	OTLP OTLPConfig `yaml:"otlp"`
}

// OTLPConfig contains OTLP exporter configuration.
type OTLPConfig struct {
	// Insecure disables TLS for the collector connection.
	Insecure bool `yaml:"insecure"`

	// Timeout bounds each export.
	// Default: 10s
	Timeout time.Duration `yaml:"timeout"`
}

// HealthConfig contains health endpoint configuration.
type HealthConfig struct {
	// LivenessPath is the liveness probe path.
	// Default: "/health"
	LivenessPath string `yaml:"liveness_path"`

	// ReadinessPath is the readiness probe path.
	// Default: "/ready"
	ReadinessPath string `yaml:"readiness_path"`

	// CheckTimeout bounds each component check.
	// Default: 5s
	CheckTimeout time.Duration `yaml:"check_timeout"`
}
