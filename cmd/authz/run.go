package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"monay-hq/authz/pkg/cli"
	"monay-hq/authz/pkg/config"
	"monay-hq/authz/pkg/server"
	"monay-hq/authz/pkg/telemetry/health"
	"monay-hq/authz/pkg/telemetry/logging"
)

var runFlags struct {
	listenAddress string
	logLevel      string
	dryRun        bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the authorization API server",
	Long: `Start the authorization API server with the specified configuration.

The server opens the configured rule, limit and audit backends, starts the
rule watchers and the audit retention scheduler, and serves the HTTP API
until SIGINT or SIGTERM. SIGHUP reloads the rules from their backend.

Examples:
  # Start with built-in defaults
  authz run

  # Start with a config file
  authz run --config /etc/authz/config.yaml

  # Override listen address
  authz run --listen 0.0.0.0:8080

  # Validate config without starting the server
  authz run --dry-run`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runFlags.listenAddress, "listen", "l", "", "override listen address")
	runCmd.Flags().StringVar(&runFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "validate config without starting server")
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if runFlags.listenAddress != "" {
		cfg.Server.ListenAddress = runFlags.listenAddress
	}
	if runFlags.logLevel != "" {
		cfg.Telemetry.Logging.Level = runFlags.logLevel
	} else if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}
	if err := config.Validate(cfg); err != nil {
		return cli.NewConfigError("flags", err.Error())
	}

	logger, err := logging.New(cfg.Telemetry.Logging, os.Stdout)
	if err != nil {
		return cli.NewConfigError("telemetry.logging", err.Error())
	}

	out := cmd.OutOrStdout()
	if runFlags.dryRun {
		fmt.Fprintln(out, "✓ Configuration valid")
		return nil
	}

	ctx, stop := cli.SetupSignalHandler(commandContext(cmd))
	defer stop()

	logger.Info("starting authz",
		"version", Version,
		"config", cfgFile,
		"rules_backend", cfg.Rules.Backend,
		"limits_backend", cfg.Limits.Backend,
		"audit_backend", cfg.Audit.Backend,
	)

	components, err := cli.BuildComponents(ctx, cfg, logger)
	if err != nil {
		return cli.NewCommandError("run", err)
	}
	defer func() {
		if err := components.Close(); err != nil {
			logger.Error("shutdown incomplete", "error", err)
		}
	}()

	srv := server.NewServer(cfg.Server, cfg.Telemetry, server.Dependencies{
		Engine:  components.Engine,
		Rules:   components.Rules,
		Limits:  components.Limits,
		Audit:   components.Audit,
		Metrics: components.Metrics,
		Tracer:  components.Tracer,
		Health:  components.Health,
		Version: health.NewVersionInfo(Version, GitCommit, BuildDate),
	}, logger)

	cli.OnReload(ctx, func() {
		if err := components.Rules.Reload(ctx); err != nil {
			logger.Error("rule reload rejected, keeping current snapshot", "error", err)
			return
		}
		logger.Info("rules reloaded on signal", "version", components.Rules.Snapshot().Version)
	})

	fmt.Fprintf(out, "✓ Rules loaded (snapshot v%d)\n", components.Rules.Snapshot().Version)
	fmt.Fprintf(out, "✓ Listening on %s\n", cfg.Server.ListenAddress)

	// Start returns after a signal once in-flight requests have drained.
	if err := srv.Start(ctx); err != nil {
		return cli.NewCommandError("run", err)
	}
	fmt.Fprintln(out, "✓ Server stopped")
	return nil
}
