package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"monay-hq/authz/pkg/audit"
	"monay-hq/authz/pkg/audit/recorder"
	"monay-hq/authz/pkg/audit/retention"
	"monay-hq/authz/pkg/audit/sink"
	auditstorage "monay-hq/authz/pkg/audit/storage"
	"monay-hq/authz/pkg/config"
	"monay-hq/authz/pkg/limits/spend"
	limitstorage "monay-hq/authz/pkg/limits/storage"
	"monay-hq/authz/pkg/policy/condition"
	"monay-hq/authz/pkg/policy/dispatch"
	"monay-hq/authz/pkg/policy/engine"
	"monay-hq/authz/pkg/policy/git"
	"monay-hq/authz/pkg/policy/model"
	"monay-hq/authz/pkg/policy/resolve"
	"monay-hq/authz/pkg/policy/store"
	"monay-hq/authz/pkg/telemetry/health"
	"monay-hq/authz/pkg/telemetry/metrics"
	"monay-hq/authz/pkg/telemetry/tracing"
)

// Components holds every long-lived object of a running service.
type Components struct {
	Rules      *store.Store
	Limits     *spend.Tracker
	Audit      audit.Storage
	Recorder   *recorder.Recorder
	Dispatcher *dispatch.Dispatcher
	Engine     *engine.Engine
	Metrics    *metrics.Collector
	Tracer     *tracing.Tracer
	Health     *health.Checker

	limits      limitstorage.Backend
	fileWatcher *store.Watcher
	gitWatcher  *git.Watcher
	pruner      *retention.Pruner
	cancel      context.CancelFunc
	logger      *slog.Logger
}

// BuildComponents assembles the service from configuration. Background
// workers (rule watchers, retention) run until Close. On error every
// component built so far is closed.
func BuildComponents(ctx context.Context, cfg *config.Config, logger *slog.Logger) (c *Components, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	bgCtx, cancel := context.WithCancel(context.Background())
	c = &Components{cancel: cancel, logger: logger}
	defer func() {
		if err != nil {
			c.Close()
			c = nil
		}
	}()

	if c.Tracer, err = tracing.New(&cfg.Telemetry.Tracing); err != nil {
		return c, fmt.Errorf("failed to initialize tracing: %w", err)
	}
	c.Metrics = metrics.NewCollector(&cfg.Telemetry.Metrics, nil)

	if err = c.buildRules(ctx, bgCtx, cfg); err != nil {
		return c, err
	}
	if err = c.buildLimits(ctx, cfg); err != nil {
		return c, err
	}
	if err = c.buildAudit(ctx, bgCtx, cfg); err != nil {
		return c, err
	}
	if err = c.buildDispatcher(cfg); err != nil {
		return c, err
	}
	if err = c.buildEngine(cfg); err != nil {
		return c, err
	}

	c.Health = health.New(cfg.Telemetry.Health.CheckTimeout)
	c.Health.RegisterCheck("rules", health.RulesCheck(c.Rules, 0))
	c.Health.RegisterCheck("limits", health.LimitsCheck(c.limits))
	c.Health.RegisterOptionalCheck("audit", health.AuditCheck(c.Audit))

	return c, nil
}

func (c *Components) buildRules(ctx, bgCtx context.Context, cfg *config.Config) error {
	rc := cfg.Rules
	var backend store.Backend
	var repo *git.Repository

	switch rc.Backend {
	case "memory":
		backend = store.NewMemoryBackend(nil)
	case "sqlite":
		b, err := store.NewSQLiteBackend(store.SQLiteBackendConfig{
			DBPath:      rc.SQLite.Path,
			BusyTimeout: rc.SQLite.BusyTimeout,
		})
		if err != nil {
			return fmt.Errorf("failed to open rule database: %w", err)
		}
		backend = b
	case "file":
		b, err := store.NewFileBackend(rc.FilePath)
		if err != nil {
			return fmt.Errorf("failed to open rule bundle: %w", err)
		}
		backend = b
	case "git":
		var err error
		if repo, err = git.NewRepository(&rc.Git, c.logger); err != nil {
			return fmt.Errorf("failed to configure rule repository: %w", err)
		}
		if err = repo.Sync(ctx); err != nil {
			return fmt.Errorf("failed to sync rule repository: %w", err)
		}
		b, err := repo.Backend()
		if err != nil {
			return err
		}
		backend = b
	default:
		return NewConfigError("rules.backend", fmt.Sprintf("unsupported backend %q", rc.Backend))
	}

	s, err := store.New(ctx, store.Config{
		Backend:  backend,
		Logger:   c.logger,
		Observer: c.Metrics,
	})
	if err != nil {
		backend.Close()
		return err
	}
	c.Rules = s

	if rc.SeedFile != "" {
		bundle, err := store.LoadBundleFile(rc.SeedFile)
		if err != nil {
			return fmt.Errorf("failed to read seed file: %w", err)
		}
		imported, err := s.Import(ctx, bundle)
		if err != nil {
			return fmt.Errorf("failed to import seed file: %w", err)
		}
		c.logger.Info("seed rules imported", "file", rc.SeedFile, "imported", imported)
	}

	if rc.Backend == "file" && rc.Watch {
		wc := store.DefaultWatcherConfig()
		wc.Path = rc.FilePath
		wc.DebounceInterval = rc.WatchDebounce
		w, err := store.NewWatcher(wc, c.logger)
		if err != nil {
			return fmt.Errorf("failed to watch rule bundle: %w", err)
		}
		c.fileWatcher = w
		go func() {
			if err := w.Watch(bgCtx, s); err != nil {
				c.logger.Error("rule watcher stopped", "error", err)
			}
		}()
	}

	if repo != nil && rc.Git.Poll.PollEnabled() {
		w := git.NewWatcher(repo, s, rc.Git.Poll.Interval, c.logger)
		if err := w.Start(bgCtx); err != nil {
			return fmt.Errorf("failed to start repository watcher: %w", err)
		}
		c.gitWatcher = w
	}
	return nil
}

func (c *Components) buildLimits(ctx context.Context, cfg *config.Config) error {
	lc := cfg.Limits
	backend, err := OpenLimitBackend(ctx, lc)
	if err != nil {
		return err
	}

	c.Limits = spend.NewTracker(spend.Config{
		Backend:        backend,
		ReservationTTL: lc.ReservationTTL,
		SweepInterval:  lc.SweepInterval,
		Logger:         c.logger,
		Observer:       c.Metrics,
	})
	c.limits = backend

	for _, d := range lc.Defaults {
		amount, err := model.ParseAmount(d.Amount)
		if err != nil {
			return NewConfigError("limits.defaults", fmt.Sprintf("entity %s: %v", d.EntityID, err))
		}
		if err := c.Limits.SetLimit(ctx, d.EntityID, model.LimitScope(d.Scope), amount, d.Location); err != nil {
			return fmt.Errorf("failed to install limit for %s/%s: %w", d.EntityID, d.Scope, err)
		}
	}
	return nil
}

func (c *Components) buildAudit(ctx, bgCtx context.Context, cfg *config.Config) error {
	ac := cfg.Audit

	storage, err := OpenAuditStorage(ac)
	if err != nil {
		return err
	}
	c.Audit = storage

	var publisher recorder.Publisher
	opts := []recorder.Option{
		recorder.WithLogger(c.logger),
		recorder.WithObserver(c.Metrics),
	}
	if ac.Kafka.Enabled {
		kc := sink.DefaultKafkaConfig(ac.Kafka.Brokers, ac.Kafka.Topic)
		if ac.Kafka.BatchTimeout > 0 {
			kc.BatchTimeout = ac.Kafka.BatchTimeout
		}
		kc.RequiredAcks = ac.Kafka.RequiredAcks
		pub, err := sink.NewKafkaPublisher(kc, c.logger)
		if err != nil {
			return err
		}
		publisher = pub
		opts = append(opts, recorder.WithPublishers(pub))
	}

	rec, err := recorder.NewRecorder(ctx, c.Audit, &recorder.Config{
		Enabled:      true,
		AsyncBuffer:  ac.Recorder.AsyncBuffer,
		WriteTimeout: ac.Recorder.WriteTimeout,
	}, opts...)
	if err != nil {
		if publisher != nil {
			publisher.Close()
		}
		return fmt.Errorf("failed to start audit recorder: %w", err)
	}
	c.Recorder = rec

	c.pruner = retention.NewPruner(c.Audit, &retention.Config{
		RetentionDays:       ac.Retention.Days,
		PruneSchedule:       ac.Retention.PruneSchedule,
		ArchiveBeforeDelete: ac.Retention.ArchiveBeforeDelete,
		ArchivePath:         ac.Retention.ArchivePath,
		MaxRecords:          ac.Retention.MaxRecords,
		Observer:            c.Metrics,
	})
	return c.pruner.Start(bgCtx)
}

// OpenLimitBackend opens the configured spend limit backend.
func OpenLimitBackend(ctx context.Context, lc config.LimitsConfig) (limitstorage.Backend, error) {
	switch lc.Backend {
	case "memory":
		return limitstorage.NewMemoryBackend(), nil
	case "sqlite":
		b, err := limitstorage.NewSQLiteBackendWithConfig(limitstorage.SQLiteBackendConfig{
			DBPath:      lc.SQLite.Path,
			BusyTimeout: lc.SQLite.BusyTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open limits database: %w", err)
		}
		return b, nil
	case "redis":
		b, err := limitstorage.NewRedisBackendWithConfig(ctx, limitstorage.RedisBackendConfig{
			Addr:        lc.Redis.Address,
			Password:    lc.Redis.Password,
			DB:          lc.Redis.DB,
			Prefix:      lc.Redis.KeyPrefix,
			DialTimeout: lc.Redis.DialTimeout,
		})
		if err != nil {
			return nil, err
		}
		return b, nil
	default:
		return nil, NewConfigError("limits.backend", fmt.Sprintf("unsupported backend %q", lc.Backend))
	}
}

// OpenAuditStorage opens the configured audit storage.
func OpenAuditStorage(ac config.AuditConfig) (audit.Storage, error) {
	switch ac.Backend {
	case "memory":
		return auditstorage.NewMemoryStorage(), nil
	case "sqlite":
		sc := auditstorage.DefaultSQLiteConfig()
		sc.Path = ac.SQLite.Path
		if ac.SQLite.BusyTimeout > 0 {
			sc.BusyTimeout = ac.SQLite.BusyTimeout
		}
		s, err := auditstorage.NewSQLiteStorage(sc)
		if err != nil {
			return nil, fmt.Errorf("failed to open audit database: %w", err)
		}
		return s, nil
	default:
		return nil, NewConfigError("audit.backend", fmt.Sprintf("unsupported backend %q", ac.Backend))
	}
}

func (c *Components) buildDispatcher(cfg *config.Config) error {
	nc := cfg.Notifications
	var notifier dispatch.Notifier = dispatch.NewLogNotifier(c.logger)

	if nc.Webhook.URL != "" {
		w, err := dispatch.NewWebhookNotifier(dispatch.WebhookConfig{
			URL:        nc.Webhook.URL,
			Headers:    nc.Webhook.Headers,
			Timeout:    nc.Webhook.Timeout,
			MaxRetries: nc.Webhook.MaxRetries,
		}, c.logger)
		if err != nil {
			return err
		}
		notifier = w
	}

	c.Dispatcher = dispatch.NewDispatcher(dispatch.Config{
		NotifyWorkers: nc.Workers,
		NotifyQueue:   nc.QueueSize,
		NotifyTimeout: nc.Webhook.Timeout,
		DedupTTL:      nc.DedupTTL,
		Logger:        c.logger,
		Observer:      c.Metrics,
	}, dispatch.Dependencies{
		Notifier:  notifier,
		Approvals: dispatch.NewLogApprovalWorkflow(c.logger),
		Audit:     c.Recorder,
		Limits:    c.Limits,
	})
	return nil
}

func (c *Components) buildEngine(cfg *config.Config) error {
	ec, err := EngineConfig(cfg.Engine)
	if err != nil {
		return err
	}
	ec.Tracer = c.Tracer.Tracer()
	ec.Logger = c.logger
	ec.Observer = c.Metrics

	c.Engine, err = engine.New(ec, engine.Dependencies{
		Rules:      c.Rules,
		Limits:     c.Limits,
		Dispatcher: c.Dispatcher,
	})
	return err
}

// EngineConfig converts the configuration file section into an engine.Config.
func EngineConfig(ec config.EngineConfig) (engine.Config, error) {
	out := engine.DefaultConfig()

	if ec.ConflictStrategy != "" {
		strategy, err := resolve.ParseStrategy(ec.ConflictStrategy)
		if err != nil {
			return out, NewConfigError("engine.conflict_strategy", err.Error())
		}
		out.ConflictStrategy = strategy
	}
	if len(ec.LimitScopes) > 0 {
		out.LimitScopes = make([]model.LimitScope, 0, len(ec.LimitScopes))
		for _, s := range ec.LimitScopes {
			out.LimitScopes = append(out.LimitScopes, model.LimitScope(s))
		}
	}
	for _, d := range ec.DerivedFields {
		out.DerivedFields = append(out.DerivedFields, condition.Derivation{Name: d.Name, Expression: d.Expression})
	}
	out.AutoCommit = ec.AutoCommitEnabled()
	out.Trace = ec.Trace
	if ec.PendingTTL > 0 {
		out.PendingTTL = ec.PendingTTL
	}
	return out, nil
}

// Close stops background workers and releases every component in reverse
// order of construction.
func (c *Components) Close() error {
	if c == nil {
		return nil
	}
	c.cancel()

	var errs []error
	if c.gitWatcher != nil {
		if err := c.gitWatcher.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	if c.fileWatcher != nil {
		if err := c.fileWatcher.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	if c.pruner != nil {
		c.pruner.Stop()
	}
	// The engine closes its tracker and dispatcher.
	if c.Engine != nil {
		errs = append(errs, c.Engine.Close())
	} else {
		if c.Dispatcher != nil {
			errs = append(errs, c.Dispatcher.Close())
		}
		if c.Limits != nil {
			errs = append(errs, c.Limits.Close())
		}
	}
	if c.Recorder != nil {
		errs = append(errs, c.Recorder.Close())
	}
	if c.Audit != nil {
		errs = append(errs, c.Audit.Close())
	}
	if c.Rules != nil {
		errs = append(errs, c.Rules.Close())
	}
	if c.Tracer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		errs = append(errs, c.Tracer.Shutdown(ctx))
		cancel()
	}
	return errors.Join(errs...)
}
