package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"monay-hq/authz/pkg/cli"
	"monay-hq/authz/pkg/config"
)

var (
	// Global flags
	cfgFile string
	envFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "authz",
	Short: "authz - transaction authorization policy engine",
	Long: `authz decides whether a payment transaction may proceed.

Each transaction is checked against:
  - Declarative rules (block, flag, escalate, notify, setLimit)
  - Per-entity spend limits over daily, monthly and per-transaction windows
  - Multisig policies that require approver signatures and time delays

Every decision is written to a tamper-evident audit log.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if envFile == "" {
			return nil
		}
		if err := config.LoadEnvFile(envFile); err != nil {
			return cli.NewConfigError("env-file", err.Error())
		}
		return nil
	},
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	return cli.ExitCode(err)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (default: built-in defaults and AUTHZ_* environment)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "dotenv file loaded before the configuration")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

// loadConfig loads the configuration named by --config and publishes it
// as the process configuration.
func loadConfig() (*config.Config, error) {
	if err := config.ReloadConfig(cfgFile); err != nil {
		return nil, cli.NewConfigError("config", err.Error())
	}
	return config.GetConfig(), nil
}

// commandContext returns the command's context, or Background when the
// command runs outside Execute.
func commandContext(cmd *cobra.Command) context.Context {
	if cmd != nil && cmd.Context() != nil {
		return cmd.Context()
	}
	return context.Background()
}
