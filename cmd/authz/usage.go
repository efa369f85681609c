package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"monay-hq/authz/pkg/cli"
	"monay-hq/authz/pkg/limits/spend"
	"monay-hq/authz/pkg/policy/model"
)

var usageFlags struct {
	scope  string
	entity string
	format string
}

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show spend limits and usage",
	Long: `Show configured spend limits and committed usage from the limits
backend named in the configuration. Holds of a running server are kept in
its memory and are not shown.

Examples:
  # All entities with a daily limit
  authz usage --scope daily

  # One entity as JSON
  authz usage --scope monthly --entity acct-1 --format json`,
	RunE: showUsage,
}

func init() {
	rootCmd.AddCommand(usageCmd)

	usageCmd.Flags().StringVarP(&usageFlags.scope, "scope", "s", string(model.ScopeDaily), "limit scope: daily, monthly, perTransaction")
	usageCmd.Flags().StringVarP(&usageFlags.entity, "entity", "e", "", "show a single entity")
	usageCmd.Flags().StringVar(&usageFlags.format, "format", "text", "output format: text, json, csv")
}

type usageTable []*spend.Usage

func (u usageTable) Header() []string {
	return []string{"entity", "scope", "limit", "usage", "remaining", "window_end"}
}

func (u usageTable) Rows() [][]string {
	rows := make([][]string, 0, len(u))
	for _, x := range u {
		end := ""
		if !x.WindowEnd.IsZero() {
			end = x.WindowEnd.Format("2006-01-02T15:04:05Z07:00")
		}
		rows = append(rows, []string{
			x.EntityID, string(x.Scope), x.Limit.StringFixed(2),
			x.CurrentUsage.StringFixed(2), x.Remaining.StringFixed(2), end,
		})
	}
	return rows
}

func showUsage(cmd *cobra.Command, args []string) error {
	scope := model.LimitScope(usageFlags.scope)
	if !scope.Valid() {
		return cli.NewConfigError("scope", fmt.Sprintf("unknown scope %q", usageFlags.scope))
	}
	format, err := cli.ParseOutputFormat(usageFlags.format)
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := commandContext(cmd)
	backend, err := cli.OpenLimitBackend(ctx, cfg.Limits)
	if err != nil {
		return err
	}
	tracker := spend.NewTracker(spend.Config{
		Backend:       backend,
		SweepInterval: -1,
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	defer tracker.Close()

	var rows usageTable
	if usageFlags.entity != "" {
		u, err := tracker.GetUsage(ctx, usageFlags.entity, scope)
		if err != nil {
			return cli.NewCommandError("usage", err)
		}
		rows = usageTable{u}
	} else {
		list, err := tracker.ListUsage(ctx, scope)
		if err != nil {
			return cli.NewCommandError("usage", err)
		}
		rows = usageTable(list)
	}

	if format == cli.FormatJSON {
		return cli.NewFormatter(format).FormatTo(cmd.OutOrStdout(), []*spend.Usage(rows))
	}
	return cli.NewFormatter(format).FormatTo(cmd.OutOrStdout(), rows)
}
