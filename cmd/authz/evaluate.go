package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"monay-hq/authz/pkg/cli"
	"monay-hq/authz/pkg/config"
	"monay-hq/authz/pkg/limits/spend"
	limitstorage "monay-hq/authz/pkg/limits/storage"
	"monay-hq/authz/pkg/policy/engine"
	"monay-hq/authz/pkg/policy/model"
	"monay-hq/authz/pkg/policy/store"
)

var evaluateFlags struct {
	rules       string
	tx          string
	limits      []string
	strategy    string
	trace       bool
	failOnBlock bool
	format      string
}

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Evaluate a transaction against a rule bundle",
	Long: `Evaluate one transaction against a rule bundle in memory and print the
decision. No configuration, database or audit log is used: limits come
from --limit flags and no actions are dispatched.

Examples:
  # Evaluate a transaction file
  authz evaluate --rules rules.yaml --tx tx.json

  # Read the transaction from stdin with a daily limit of 5000
  cat tx.json | authz evaluate --rules rules/ --tx - --limit acct-1:daily:5000

  # Show per-rule results and fail when the transaction is blocked
  authz evaluate --rules rules.yaml --tx tx.json --trace --fail-on-block`,
	RunE: evaluateTransaction,
}

func init() {
	rootCmd.AddCommand(evaluateCmd)

	evaluateCmd.Flags().StringVarP(&evaluateFlags.rules, "rules", "r", "", "rule bundle file or directory")
	evaluateCmd.Flags().StringVarP(&evaluateFlags.tx, "tx", "t", "", "transaction JSON file, or - for stdin")
	evaluateCmd.Flags().StringArrayVar(&evaluateFlags.limits, "limit", nil, "spend limit as entity:scope:amount (repeatable)")
	evaluateCmd.Flags().StringVar(&evaluateFlags.strategy, "strategy", "", "conflict strategy (strictest, priority, most_recent, manual)")
	evaluateCmd.Flags().BoolVar(&evaluateFlags.trace, "trace", false, "include per-rule results")
	evaluateCmd.Flags().BoolVar(&evaluateFlags.failOnBlock, "fail-on-block", false, "exit with status 3 when the decision is block")
	evaluateCmd.Flags().StringVar(&evaluateFlags.format, "format", "text", "output format: text, json")
}

func evaluateTransaction(cmd *cobra.Command, args []string) error {
	if evaluateFlags.rules == "" || evaluateFlags.tx == "" {
		return cli.NewConfigError("flags", "--rules and --tx are required")
	}
	format, err := cli.ParseOutputFormat(evaluateFlags.format)
	if err != nil {
		return err
	}

	ctx := commandContext(cmd)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if verbose {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	tx, err := readTransaction(cmd.InOrStdin(), evaluateFlags.tx)
	if err != nil {
		return err
	}

	backend, err := store.NewFileBackend(evaluateFlags.rules)
	if err != nil {
		return cli.NewCommandError("evaluate", err)
	}
	rules, err := store.New(ctx, store.Config{Backend: backend, Logger: logger})
	if err != nil {
		return &cli.RejectedError{Reason: err.Error()}
	}
	defer rules.Close()

	tracker := spend.NewTracker(spend.Config{
		Backend:       limitstorage.NewMemoryBackend(),
		SweepInterval: -1,
		Logger:        logger,
	})
	for _, l := range evaluateFlags.limits {
		entity, scope, amount, err := parseLimitFlag(l)
		if err != nil {
			return err
		}
		if err := tracker.SetLimit(ctx, entity, scope, amount, ""); err != nil {
			return cli.NewConfigError("limit", err.Error())
		}
	}

	ec, err := cli.EngineConfig(config.EngineConfig{ConflictStrategy: evaluateFlags.strategy, Trace: evaluateFlags.trace})
	if err != nil {
		return err
	}
	ec.Logger = logger

	eng, err := engine.New(ec, engine.Dependencies{Rules: rules, Limits: tracker})
	if err != nil {
		return cli.NewCommandError("evaluate", err)
	}
	defer eng.Close()

	decision, err := eng.Evaluate(ctx, tx)
	if err != nil {
		return cli.NewCommandError("evaluate", err)
	}

	out := cmd.OutOrStdout()
	if format == cli.FormatText {
		err = cli.NewFormatter(format).FormatTo(out, decisionTable(decision))
	} else {
		err = cli.NewFormatter(format).FormatTo(out, decision)
	}
	if err != nil {
		return err
	}

	if evaluateFlags.failOnBlock && decision.Outcome == model.OutcomeBlock {
		return &cli.RejectedError{Reason: fmt.Sprintf("transaction %s blocked", decision.TransactionID)}
	}
	return nil
}

func readTransaction(stdin io.Reader, path string) (*model.TransactionContext, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, cli.NewCommandError("evaluate", err)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	dec.DisallowUnknownFields()
	var tx model.TransactionContext
	if err := dec.Decode(&tx); err != nil {
		return nil, cli.NewConfigError("tx", fmt.Sprintf("invalid transaction JSON: %v", err))
	}
	return &tx, nil
}

// parseLimitFlag parses entity:scope:amount. The entity may itself
// contain colons.
func parseLimitFlag(s string) (string, model.LimitScope, decimal.Decimal, error) {
	i := strings.LastIndex(s, ":")
	j := -1
	if i > 0 {
		j = strings.LastIndex(s[:i], ":")
	}
	if j <= 0 {
		return "", "", decimal.Decimal{}, cli.NewConfigError("limit", fmt.Sprintf("%q is not entity:scope:amount", s))
	}

	scope := model.LimitScope(s[j+1 : i])
	if !scope.Valid() {
		return "", "", decimal.Decimal{}, cli.NewConfigError("limit", fmt.Sprintf("unknown scope %q", scope))
	}
	amount, err := model.ParseAmount(s[i+1:])
	if err != nil {
		return "", "", decimal.Decimal{}, cli.NewConfigError("limit", err.Error())
	}
	return s[:j], scope, amount, nil
}

func decisionTable(d *model.Decision) *cli.Table {
	t := &cli.Table{Columns: []string{"field", "value"}}
	t.Append("transaction", d.TransactionID)
	t.Append("outcome", string(d.Outcome))
	if d.FailureCode != "" {
		t.Append("failure_code", d.FailureCode)
	}
	if d.RequiredSignatures > 0 {
		t.Append("required_signatures", strconv.Itoa(d.RequiredSignatures))
		t.Append("approver_roles", strings.Join(d.ApproverRoles, ","))
	}
	if d.TimeDelaySeconds > 0 {
		t.Append("time_delay_seconds", strconv.Itoa(d.TimeDelaySeconds))
	}
	t.Append("rules", strings.Join(d.TriggeredRuleIDs, ","))
	t.Append("policies", strings.Join(d.TriggeredPolicyIDs, ","))
	for _, r := range d.Reasons {
		t.Append("reason", r)
	}
	for _, e := range d.Trace {
		line := fmt.Sprintf("%s %s matched=%t", e.Kind, e.ID, e.Matched)
		if e.Outcome != "" {
			line += " outcome=" + string(e.Outcome)
		}
		if e.Error != "" {
			line += " error=" + e.Error
		}
		t.Append("trace", line)
	}
	t.Append("snapshot", strconv.FormatInt(d.SnapshotVersion, 10))
	return t
}
