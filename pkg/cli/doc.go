/*
Package cli holds the pieces shared by the authz commands: wiring the
service from configuration, output formatting, signal handling and exit
codes.

Building the service:

	components, err := cli.BuildComponents(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer components.Close()

BuildComponents opens the configured rule, limit and audit backends,
starts the rule watchers and the retention scheduler, and returns an
Engine ready to evaluate transactions.

Output Formatting:

Commands print results as text, JSON or CSV. Row-shaped results implement
Tabular (or use Table) so that every format can render them:

	table := &cli.Table{Columns: []string{"entity", "remaining"}}
	table.Append("acct-1", "400.00")
	cli.NewFormatter(cli.FormatCSV).FormatTo(os.Stdout, table)

Signal Handling:

	ctx, stop := cli.SetupSignalHandler(context.Background())
	defer stop()
*/
package cli
