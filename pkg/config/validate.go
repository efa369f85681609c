package config

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"monay-hq/authz/pkg/policy/model"
	"monay-hq/authz/pkg/policy/resolve"
)

// FieldError represents a validation error for a specific configuration field.
type FieldError struct {
	// Field is the dotted path to the configuration field (e.g., "server.listen_address").
	Field string

	// Message is a human-readable error message.
	Message string
}

// Error returns the error message for this field error.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError represents one or more validation errors in a configuration.
type ValidationError struct {
	Errors []FieldError
}

// Error returns a formatted string containing all validation errors.
func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("configuration validation failed with %d errors:\n", len(e.Errors)))
	for _, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	return sb.String()
}

// Validate validates the entire configuration. All field errors are
// collected and returned together as a ValidationError.
func Validate(cfg *Config) error {
	var errs []FieldError

	errs = append(errs, validateServer(&cfg.Server)...)
	errs = append(errs, validateEngine(&cfg.Engine)...)
	errs = append(errs, validateRules(&cfg.Rules)...)
	errs = append(errs, validateLimits(&cfg.Limits)...)
	errs = append(errs, validateAudit(&cfg.Audit)...)
	errs = append(errs, validateNotifications(&cfg.Notifications)...)
	errs = append(errs, validateTelemetry(&cfg.Telemetry)...)

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}
	return nil
}

func validateServer(cfg *ServerConfig) []FieldError {
	var errs []FieldError

	if cfg.ListenAddress == "" {
		errs = append(errs, FieldError{Field: "server.listen_address", Message: "listen address is required"})
	}
	errs = append(errs, nonNegative("server.read_timeout", cfg.ReadTimeout)...)
	errs = append(errs, nonNegative("server.write_timeout", cfg.WriteTimeout)...)
	errs = append(errs, nonNegative("server.idle_timeout", cfg.IdleTimeout)...)
	errs = append(errs, nonNegative("server.shutdown_timeout", cfg.ShutdownTimeout)...)
	if cfg.MaxHeaderBytes < 0 {
		errs = append(errs, FieldError{Field: "server.max_header_bytes", Message: "must be non-negative"})
	}
	if cfg.MaxBodyBytes < 0 {
		errs = append(errs, FieldError{Field: "server.max_body_bytes", Message: "must be non-negative"})
	}

	rl := cfg.RateLimit
	if rl.RequestsPerSecond < 0 {
		errs = append(errs, FieldError{Field: "server.rate_limit.requests_per_second", Message: "must be non-negative"})
	}
	if rl.Burst < 0 {
		errs = append(errs, FieldError{Field: "server.rate_limit.burst", Message: "must be non-negative"})
	}
	if rl.MaxConcurrent < 0 {
		errs = append(errs, FieldError{Field: "server.rate_limit.max_concurrent", Message: "must be non-negative"})
	}
	errs = append(errs, nonNegative("server.rate_limit.idle_ttl", rl.IdleTTL)...)
	errs = append(errs, validateTLS(&cfg.TLS)...)
	return errs
}

func validateTLS(cfg *TLSConfig) []FieldError {
	if !cfg.Enabled {
		return nil
	}
	var errs []FieldError

	if cfg.CertFile == "" {
		errs = append(errs, FieldError{Field: "server.tls.cert_file", Message: "certificate file is required when tls is enabled"})
	}
	if cfg.KeyFile == "" {
		errs = append(errs, FieldError{Field: "server.tls.key_file", Message: "key file is required when tls is enabled"})
	}
	switch cfg.MinVersion {
	case "1.2", "1.3":
	default:
		errs = append(errs, FieldError{Field: "server.tls.min_version", Message: fmt.Sprintf("invalid version %q (valid: 1.2, 1.3)", cfg.MinVersion)})
	}
	switch cfg.ClientAuth {
	case "none", "request":
	case "verify_if_given", "require":
		if cfg.ClientCAFile == "" {
			errs = append(errs, FieldError{Field: "server.tls.client_ca_file", Message: "client CA is required to verify client certificates"})
		}
	default:
		errs = append(errs, FieldError{
			Field:   "server.tls.client_auth",
			Message: fmt.Sprintf("invalid client auth %q (valid: none, request, verify_if_given, require)", cfg.ClientAuth),
		})
	}
	errs = append(errs, nonNegative("server.tls.reload_interval", cfg.ReloadInterval)...)
	return errs
}

func validateEngine(cfg *EngineConfig) []FieldError {
	var errs []FieldError

	if _, err := resolve.ParseStrategy(cfg.ConflictStrategy); err != nil {
		errs = append(errs, FieldError{Field: "engine.conflict_strategy", Message: err.Error()})
	}

	seen := make(map[string]struct{}, len(cfg.LimitScopes))
	for i, s := range cfg.LimitScopes {
		field := fmt.Sprintf("engine.limit_scopes[%d]", i)
		if !model.LimitScope(s).Valid() {
			errs = append(errs, FieldError{Field: field, Message: fmt.Sprintf("unknown scope %q (valid: daily, monthly, perTransaction)", s)})
			continue
		}
		if _, dup := seen[s]; dup {
			errs = append(errs, FieldError{Field: field, Message: fmt.Sprintf("scope %q listed twice", s)})
		}
		seen[s] = struct{}{}
	}

	errs = append(errs, nonNegative("engine.pending_ttl", cfg.PendingTTL)...)

	names := make(map[string]struct{}, len(cfg.DerivedFields))
	for i, d := range cfg.DerivedFields {
		field := fmt.Sprintf("engine.derived_fields[%d]", i)
		if d.Name == "" {
			errs = append(errs, FieldError{Field: field + ".name", Message: "name is required"})
		}
		if d.Expression == "" {
			errs = append(errs, FieldError{Field: field + ".expression", Message: "expression is required"})
		}
		if _, dup := names[d.Name]; dup && d.Name != "" {
			errs = append(errs, FieldError{Field: field + ".name", Message: fmt.Sprintf("derived field %q is defined twice", d.Name)})
		}
		names[d.Name] = struct{}{}
	}
	return errs
}

func validateRules(cfg *RulesConfig) []FieldError {
	var errs []FieldError

	switch cfg.Backend {
	case "memory":
	case "sqlite":
		if cfg.SQLite.Path == "" {
			errs = append(errs, FieldError{Field: "rules.sqlite.path", Message: "path is required for the sqlite backend"})
		}
	case "file":
		if cfg.FilePath == "" {
			errs = append(errs, FieldError{Field: "rules.file_path", Message: "file path is required for the file backend"})
		}
		if cfg.SeedFile != "" {
			errs = append(errs, FieldError{Field: "rules.seed_file", Message: "seeding is not supported by the read-only file backend"})
		}
	case "git":
		errs = append(errs, validateGit(&cfg.Git)...)
		if cfg.SeedFile != "" {
			errs = append(errs, FieldError{Field: "rules.seed_file", Message: "seeding is not supported by the read-only git backend"})
		}
	default:
		errs = append(errs, FieldError{
			Field:   "rules.backend",
			Message: fmt.Sprintf("invalid backend %q (valid: memory, sqlite, file, git)", cfg.Backend),
		})
	}

	if cfg.Watch && cfg.Backend != "file" {
		errs = append(errs, FieldError{Field: "rules.watch", Message: "watch is only supported by the file backend"})
	}
	errs = append(errs, nonNegative("rules.watch_debounce", cfg.WatchDebounce)...)
	return errs
}

func validateGit(cfg *GitConfig) []FieldError {
	var errs []FieldError

	if cfg.Repository == "" {
		errs = append(errs, FieldError{Field: "rules.git.repository", Message: "repository is required for the git backend"})
	}
	if cfg.Branch == "" {
		errs = append(errs, FieldError{Field: "rules.git.branch", Message: "branch is required"})
	}
	if strings.Contains(cfg.Path, "..") {
		errs = append(errs, FieldError{Field: "rules.git.path", Message: "path must stay within the repository"})
	}

	switch cfg.Auth.Type {
	case "none":
	case "token":
		if cfg.Auth.Token == "" {
			errs = append(errs, FieldError{Field: "rules.git.auth.token", Message: "token is required for token auth"})
		}
	case "ssh":
		if cfg.Auth.SSHKeyPath == "" {
			errs = append(errs, FieldError{Field: "rules.git.auth.ssh_key_path", Message: "ssh key path is required for ssh auth"})
		}
	default:
		errs = append(errs, FieldError{
			Field:   "rules.git.auth.type",
			Message: fmt.Sprintf("invalid auth type %q (valid: none, token, ssh)", cfg.Auth.Type),
		})
	}

	if cfg.Poll.PollEnabled() && cfg.Poll.Interval < time.Second {
		errs = append(errs, FieldError{Field: "rules.git.poll.interval", Message: "poll interval must be at least 1s"})
	}
	if cfg.Poll.Timeout <= 0 {
		errs = append(errs, FieldError{Field: "rules.git.poll.timeout", Message: "timeout must be positive"})
	}
	if cfg.Clone.Depth < 0 {
		errs = append(errs, FieldError{Field: "rules.git.clone.depth", Message: "depth must be non-negative"})
	}
	return errs
}

func validateLimits(cfg *LimitsConfig) []FieldError {
	var errs []FieldError

	switch cfg.Backend {
	case "memory":
	case "sqlite":
		if cfg.SQLite.Path == "" {
			errs = append(errs, FieldError{Field: "limits.sqlite.path", Message: "path is required for the sqlite backend"})
		}
	case "redis":
		if cfg.Redis.Address == "" {
			errs = append(errs, FieldError{Field: "limits.redis.address", Message: "address is required for the redis backend"})
		}
		if cfg.Redis.DB < 0 {
			errs = append(errs, FieldError{Field: "limits.redis.db", Message: "db must be non-negative"})
		}
	default:
		errs = append(errs, FieldError{
			Field:   "limits.backend",
			Message: fmt.Sprintf("invalid backend %q (valid: memory, sqlite, redis)", cfg.Backend),
		})
	}

	if cfg.ReservationTTL <= 0 {
		errs = append(errs, FieldError{Field: "limits.reservation_ttl", Message: "reservation ttl must be positive"})
	}

	for i, d := range cfg.Defaults {
		field := fmt.Sprintf("limits.defaults[%d]", i)
		if d.EntityID == "" {
			errs = append(errs, FieldError{Field: field + ".entity_id", Message: "entity id is required"})
		}
		if !model.LimitScope(d.Scope).Valid() {
			errs = append(errs, FieldError{Field: field + ".scope", Message: fmt.Sprintf("unknown scope %q", d.Scope)})
		}
		amount, err := model.ParseAmount(d.Amount)
		switch {
		case err != nil:
			errs = append(errs, FieldError{Field: field + ".amount", Message: err.Error()})
		case amount.IsNegative():
			errs = append(errs, FieldError{Field: field + ".amount", Message: "amount must be non-negative"})
		}
		if d.Location != "" {
			if _, err := time.LoadLocation(d.Location); err != nil {
				errs = append(errs, FieldError{Field: field + ".location", Message: fmt.Sprintf("unknown location %q", d.Location)})
			}
		}
	}
	return errs
}

func validateAudit(cfg *AuditConfig) []FieldError {
	var errs []FieldError

	switch cfg.Backend {
	case "memory":
	case "sqlite":
		if cfg.SQLite.Path == "" {
			errs = append(errs, FieldError{Field: "audit.sqlite.path", Message: "path is required for the sqlite backend"})
		}
	default:
		errs = append(errs, FieldError{
			Field:   "audit.backend",
			Message: fmt.Sprintf("invalid backend %q (valid: memory, sqlite)", cfg.Backend),
		})
	}

	if cfg.Recorder.AsyncBuffer < 0 {
		errs = append(errs, FieldError{Field: "audit.recorder.async_buffer", Message: "buffer size must be non-negative"})
	}
	errs = append(errs, nonNegative("audit.recorder.write_timeout", cfg.Recorder.WriteTimeout)...)

	if cfg.Retention.Days < 0 {
		errs = append(errs, FieldError{Field: "audit.retention.days", Message: "retention days must be non-negative"})
	}
	if cfg.Retention.MaxRecords < 0 {
		errs = append(errs, FieldError{Field: "audit.retention.max_records", Message: "max records must be non-negative"})
	}
	if _, err := cron.ParseStandard(cfg.Retention.PruneSchedule); err != nil {
		errs = append(errs, FieldError{
			Field:   "audit.retention.prune_schedule",
			Message: fmt.Sprintf("invalid cron expression: %v", err),
		})
	}
	if cfg.Retention.ArchiveBeforeDelete && cfg.Retention.ArchivePath == "" {
		errs = append(errs, FieldError{Field: "audit.retention.archive_path", Message: "archive path is required when archiving"})
	}

	if cfg.Kafka.Enabled {
		if len(cfg.Kafka.Brokers) == 0 {
			errs = append(errs, FieldError{Field: "audit.kafka.brokers", Message: "at least one broker is required"})
		}
		if cfg.Kafka.Topic == "" {
			errs = append(errs, FieldError{Field: "audit.kafka.topic", Message: "topic is required"})
		}
		if cfg.Kafka.RequiredAcks != -1 && cfg.Kafka.RequiredAcks != 1 {
			errs = append(errs, FieldError{Field: "audit.kafka.required_acks", Message: "required acks must be -1 or 1"})
		}
	}
	return errs
}

func validateNotifications(cfg *NotificationsConfig) []FieldError {
	var errs []FieldError

	if cfg.Workers < 0 {
		errs = append(errs, FieldError{Field: "notifications.workers", Message: "workers must be non-negative"})
	}
	if cfg.QueueSize < 0 {
		errs = append(errs, FieldError{Field: "notifications.queue_size", Message: "queue size must be non-negative"})
	}
	if cfg.Webhook.URL != "" {
		u, err := url.Parse(cfg.Webhook.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, FieldError{Field: "notifications.webhook.url", Message: "must be an absolute http(s) URL"})
		}
	}
	if cfg.Webhook.MaxRetries < 0 {
		errs = append(errs, FieldError{Field: "notifications.webhook.max_retries", Message: "max retries must be non-negative"})
	}
	return errs
}

func validateTelemetry(cfg *TelemetryConfig) []FieldError {
	var errs []FieldError

	switch strings.ToLower(cfg.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.level",
			Message: fmt.Sprintf("invalid log level %q (valid: debug, info, warn, error)", cfg.Logging.Level),
		})
	}
	switch cfg.Logging.Format {
	case "json", "text":
	default:
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.format",
			Message: fmt.Sprintf("invalid log format %q (valid: json, text)", cfg.Logging.Format),
		})
	}
	for i, p := range cfg.Logging.RedactPatterns {
		if _, err := regexp.Compile(p.Pattern); err != nil {
			errs = append(errs, FieldError{
				Field:   fmt.Sprintf("telemetry.logging.redact_patterns[%d].pattern", i),
				Message: fmt.Sprintf("invalid regular expression: %v", err),
			})
		}
	}

	if !strings.HasPrefix(cfg.Metrics.Path, "/") {
		errs = append(errs, FieldError{Field: "telemetry.metrics.path", Message: "path must start with /"})
	}

	if cfg.Tracing.Enabled {
		switch cfg.Tracing.Sampler {
		case "always", "never":
		case "ratio":
			if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1 {
				errs = append(errs, FieldError{Field: "telemetry.tracing.sample_ratio", Message: "sample ratio must be between 0.0 and 1.0"})
			}
		default:
			errs = append(errs, FieldError{
				Field:   "telemetry.tracing.sampler",
				Message: fmt.Sprintf("invalid sampler %q (valid: always, never, ratio)", cfg.Tracing.Sampler),
			})
		}
		if cfg.Tracing.Endpoint == "" {
			errs = append(errs, FieldError{Field: "telemetry.tracing.endpoint", Message: "endpoint is required when tracing is enabled"})
		}
	}

	if cfg.Health.LivenessPath == cfg.Health.ReadinessPath {
		errs = append(errs, FieldError{Field: "telemetry.health.readiness_path", Message: "liveness and readiness paths must differ"})
	}
	return errs
}

func nonNegative(field string, d time.Duration) []FieldError {
	if d < 0 {
		return []FieldError{{Field: field, Message: "must be non-negative"}}
	}
	return nil
}
