package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"monay-hq/authz/pkg/cli"
	"monay-hq/authz/pkg/policy/model"
	"monay-hq/authz/pkg/policy/store"
)

var lintFlags struct {
	files  []string
	dir    string
	strict bool
	format string
}

var lintCmd = &cobra.Command{
	Use:   "lint",
	Short: "Validate rule bundles",
	Long: `Validate YAML rule bundles before they are deployed.

The lint command parses each bundle and checks:
  - YAML syntax and unknown keys
  - Rule and policy structure (conditions, actions, signature requirements)
  - Rule and policy IDs that are defined more than once
  - Inactive rules and unenforced policies (warnings)

Examples:
  # Lint single file
  authz lint --file rules.yaml

  # Lint a directory recursively
  authz lint --dir rules/

  # Strict mode (warnings as errors)
  authz lint --dir rules/ --strict

  # JSON output for CI/CD
  authz lint --dir rules/ --format json`,
	RunE: lintBundles,
}

func init() {
	rootCmd.AddCommand(lintCmd)

	lintCmd.Flags().StringArrayVarP(&lintFlags.files, "file", "f", nil, "bundle file to validate (repeatable)")
	lintCmd.Flags().StringVarP(&lintFlags.dir, "dir", "d", "", "directory of bundle files")
	lintCmd.Flags().BoolVar(&lintFlags.strict, "strict", false, "treat warnings as errors")
	lintCmd.Flags().StringVar(&lintFlags.format, "format", "text", "output format: text, json, csv")
}

// LintResult is the validation result for one bundle file.
type LintResult struct {
	File     string      `json:"file"`
	Valid    bool        `json:"valid"`
	Rules    int         `json:"rules"`
	Policies int         `json:"policies"`
	Errors   []LintIssue `json:"errors,omitempty"`
	Warnings []LintIssue `json:"warnings,omitempty"`
}

// LintIssue is one error or warning.
type LintIssue struct {
	Kind    string `json:"kind,omitempty"`
	ID      string `json:"id,omitempty"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

type lintReport []LintResult

func (r lintReport) Header() []string {
	return []string{"file", "severity", "kind", "id", "field", "message"}
}

func (r lintReport) Rows() [][]string {
	var rows [][]string
	for _, res := range r {
		for _, e := range res.Errors {
			rows = append(rows, []string{res.File, "error", e.Kind, e.ID, e.Field, e.Message})
		}
		for _, w := range res.Warnings {
			rows = append(rows, []string{res.File, "warning", w.Kind, w.ID, w.Field, w.Message})
		}
	}
	return rows
}

func lintBundles(cmd *cobra.Command, args []string) error {
	if len(lintFlags.files) == 0 && lintFlags.dir == "" {
		return cli.NewConfigError("flags", "either --file or --dir must be specified")
	}
	format, err := cli.ParseOutputFormat(lintFlags.format)
	if err != nil {
		return err
	}

	files := append([]string(nil), lintFlags.files...)
	if lintFlags.dir != "" {
		found, err := bundleFiles(lintFlags.dir)
		if err != nil {
			return cli.NewCommandError("lint", err)
		}
		files = append(files, found...)
	}
	if len(files) == 0 {
		return cli.NewCommandError("lint", errors.New("no bundle files found"))
	}

	report := lintFiles(files)

	out := io.Writer(os.Stdout)
	if cmd != nil {
		out = cmd.OutOrStdout()
	}
	switch format {
	case cli.FormatText:
		writeLintText(out, report)
	case cli.FormatJSON:
		if err := cli.NewFormatter(format).FormatTo(out, []LintResult(report)); err != nil {
			return err
		}
	default:
		if err := cli.NewFormatter(format).FormatTo(out, report); err != nil {
			return err
		}
	}

	errs, warns := report.counts()
	if errs > 0 || (lintFlags.strict && warns > 0) {
		return &cli.RejectedError{Reason: fmt.Sprintf("validation failed: %d error(s), %d warning(s)", errs, warns)}
	}
	return nil
}

func bundleFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			files = append(files, path)
		}
		return nil
	})
	sort.Strings(files)
	return files, err
}

// lintFiles validates every file and reports IDs defined in more than one
// place against the later definition.
func lintFiles(files []string) lintReport {
	report := make(lintReport, 0, len(files))
	seen := make(map[string]string)

	for _, file := range files {
		res := LintResult{File: file}

		bundle, err := store.LoadBundleFile(file)
		if err != nil {
			res.Errors = append(res.Errors, LintIssue{Message: err.Error()})
			report = append(report, res)
			continue
		}
		res.Rules = len(bundle.Rules)
		res.Policies = len(bundle.Policies)

		for _, r := range bundle.Rules {
			res.Errors = append(res.Errors, validationIssues(model.ValidateRule(r))...)
			if r == nil {
				continue
			}
			res.Errors = append(res.Errors, duplicateIssue(seen, "rule", r.ID, file)...)
			if !r.Active {
				res.Warnings = append(res.Warnings, LintIssue{Kind: "rule", ID: r.ID, Message: "rule is inactive"})
			}
		}
		for _, p := range bundle.Policies {
			res.Errors = append(res.Errors, validationIssues(model.ValidatePolicy(p))...)
			if p == nil {
				continue
			}
			res.Errors = append(res.Errors, duplicateIssue(seen, "policy", p.ID, file)...)
			if !p.Enforced {
				res.Warnings = append(res.Warnings, LintIssue{Kind: "policy", ID: p.ID, Message: "policy is not enforced"})
			}
		}

		res.Valid = len(res.Errors) == 0
		report = append(report, res)
	}
	return report
}

func validationIssues(err error) []LintIssue {
	if err == nil {
		return nil
	}
	var ve *model.ValidationError
	if !errors.As(err, &ve) {
		return []LintIssue{{Message: err.Error()}}
	}
	issues := make([]LintIssue, 0, len(ve.Errors))
	for _, fe := range ve.Errors {
		issues = append(issues, LintIssue{Kind: ve.Kind, ID: ve.ID, Field: fe.Field, Message: fe.Message})
	}
	return issues
}

func duplicateIssue(seen map[string]string, kind, id, file string) []LintIssue {
	if id == "" {
		return nil
	}
	key := kind + "/" + id
	if first, dup := seen[key]; dup {
		return []LintIssue{{Kind: kind, ID: id, Field: "id", Message: "already defined in " + first}}
	}
	seen[key] = file
	return nil
}

func (r lintReport) counts() (errs, warns int) {
	for _, res := range r {
		errs += len(res.Errors)
		warns += len(res.Warnings)
	}
	return errs, warns
}

func writeLintText(w io.Writer, report lintReport) {
	for _, res := range report {
		fmt.Fprintf(w, "Validating %s...\n", res.File)
		if len(res.Errors) == 0 {
			fmt.Fprintf(w, "✓ %d rule(s), %d policy(ies) valid\n", res.Rules, res.Policies)
		}
		for _, e := range res.Errors {
			fmt.Fprintf(w, "✗ Error: %s\n", e.describe())
		}
		for _, warn := range res.Warnings {
			fmt.Fprintf(w, "⚠  Warning: %s\n", warn.describe())
		}
		fmt.Fprintln(w)
	}

	errs, warns := report.counts()
	fmt.Fprintln(w, "Summary:")
	fmt.Fprintf(w, "  %d error(s), %d warning(s)\n", errs, warns)
	if lintFlags.strict && warns > 0 {
		fmt.Fprintln(w, "  Strict mode enabled: treating warnings as errors")
	}
}

func (i LintIssue) describe() string {
	var sb strings.Builder
	if i.Kind != "" {
		fmt.Fprintf(&sb, "%s %q: ", i.Kind, i.ID)
	}
	if i.Field != "" {
		sb.WriteString(i.Field)
		sb.WriteString(": ")
	}
	sb.WriteString(i.Message)
	return sb.String()
}
